package valuation

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/trading"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// maxDays bounds day-based query windows.
const maxDays = 3650

// SnapshotSource builds a valued portfolio snapshot.
type SnapshotSource interface {
	GetPortfolio(ctx context.Context, userID string) (*portfolio.Snapshot, error)
}

// TradeLog is the read side of the trade log.
type TradeLog interface {
	Each(ctx context.Context, userID string, fn func(trading.Trade) bool) error
	Since(ctx context.Context, userID string, from time.Time) ([]trading.Trade, error)
}

// Projector computes valuation series for a user.
type Projector struct {
	snapshots SnapshotSource
	trades    TradeLog
	now       domain.Clock
	log       zerolog.Logger
}

// NewProjector creates a new valuation projector
func NewProjector(snapshots SnapshotSource, trades TradeLog, log zerolog.Logger) *Projector {
	return &Projector{
		snapshots: snapshots,
		trades:    trades,
		now:       domain.SystemClock,
		log:       log.With().Str("service", "valuation").Logger(),
	}
}

// CurrentValue is the positions marked at current prices plus cash.
func (p *Projector) CurrentValue(ctx context.Context, userID string) (decimal.Decimal, error) {
	snapshot, err := p.snapshots.GetPortfolio(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return snapshot.TotalValue, nil
}

// HistoricalSeries replays the user's trades oldest first, adding sale
// proceeds and subtracting purchase costs from a running value that starts at
// zero. It yields one point per trade and then a final point holding
// CurrentValue at query time.
//
// With window > 0 only trades newer than now-window are yielded; the running
// value still accumulates from the first trade. The sequence is lazy and may
// be ranged over any number of times. A failure is yielded once as the error
// and ends the sequence.
func (p *Projector) HistoricalSeries(ctx context.Context, userID string, window time.Duration) iter.Seq2[Point, error] {
	return func(yield func(Point, error) bool) {
		if userID == "" {
			yield(Point{}, domain.ErrMissingUser)
			return
		}

		now := p.now()
		var cutoff time.Time
		if window > 0 {
			cutoff = now.Add(-window)
		}

		running := decimal.Zero
		stopped := false
		err := p.trades.Each(ctx, userID, func(t trading.Trade) bool {
			running = running.Add(t.CashFlow())
			if window > 0 && !t.ExecutedAt.After(cutoff) {
				return true
			}
			if !yield(Point{Timestamp: t.ExecutedAt, Value: running}, nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
		if err != nil {
			yield(Point{}, err)
			return
		}

		current, err := p.CurrentValue(ctx, userID)
		if err != nil {
			yield(Point{}, err)
			return
		}
		yield(Point{Timestamp: now, Value: current}, nil)
	}
}

// GetValuationHistory collects HistoricalSeries over the last windowDays days.
// windowDays 0 covers the whole log.
func (p *Projector) GetValuationHistory(ctx context.Context, userID string, windowDays int) ([]Point, error) {
	if windowDays < 0 || windowDays > maxDays {
		return nil, fmt.Errorf("%w: window_days must be between 0 and %d", domain.ErrInvalidInput, maxDays)
	}

	points := []Point{}
	for point, err := range p.HistoricalSeries(ctx, userID, days(windowDays)) {
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}

	p.log.Debug().
		Str("user_id", userID).
		Int("window_days", windowDays).
		Int("points", len(points)).
		Msg("Valuation history computed")
	return points, nil
}

// DailySeries returns one bucket per UTC calendar day for the last n days,
// today included, oldest first. Days without trades have a zero flow.
func (p *Projector) DailySeries(ctx context.Context, userID string, n int) ([]DailyBucket, error) {
	if userID == "" {
		return nil, domain.ErrMissingUser
	}
	if n <= 0 || n > maxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidInput, maxDays)
	}

	today := truncateDay(p.now())
	from := today.AddDate(0, 0, -(n - 1))

	trades, err := p.trades.Since(ctx, userID, from)
	if err != nil {
		return nil, err
	}

	buckets := make([]DailyBucket, n)
	for i := range buckets {
		buckets[i] = DailyBucket{Date: from.AddDate(0, 0, i).Format(time.DateOnly), NetFlow: decimal.Zero}
	}
	for _, t := range trades {
		i := int(truncateDay(t.ExecutedAt).Sub(from) / (24 * time.Hour))
		if i < 0 || i >= n {
			continue
		}
		buckets[i].NetFlow = buckets[i].NetFlow.Add(t.CashFlow())
		buckets[i].Trades++
	}
	return buckets, nil
}

// Summary describes the valuation history over the last windowDays days.
func (p *Projector) Summary(ctx context.Context, userID string, windowDays int) (*Summary, error) {
	points, err := p.GetValuationHistory(ctx, userID, windowDays)
	if err != nil {
		return nil, err
	}
	return Summarize(points), nil
}

// Summarize computes descriptive statistics of points. The standard deviation
// is zero for fewer than two points.
func Summarize(points []Point) *Summary {
	summary := &Summary{
		Points: len(points),
		First:  decimal.Zero,
		Last:   decimal.Zero,
		Change: decimal.Zero,
	}
	if len(points) == 0 {
		return summary
	}

	values := make([]float64, len(points))
	for i, point := range points {
		values[i] = point.Value.InexactFloat64()
	}

	summary.First = points[0].Value
	summary.Last = points[len(points)-1].Value
	summary.Change = summary.Last.Sub(summary.First)
	summary.Mean = stat.Mean(values, nil)
	summary.Min = floats.Min(values)
	summary.Max = floats.Max(values)
	if len(values) > 1 {
		summary.StdDev = stat.StdDev(values, nil)
	}
	return summary
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
