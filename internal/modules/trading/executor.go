package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/events"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/wallet"
	"github.com/aristath/stockledger/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InventoryStore is the instrument inventory as the executor uses it.
type InventoryStore interface {
	Get(ctx context.Context, id string) (*instruments.Instrument, error)
	Reserve(ctx context.Context, id string, qty int64) (*instruments.Instrument, error)
	Release(ctx context.Context, id string, qty int64) error
	Withdraw(ctx context.Context, id string, qty int64) error
}

// CashLedger is the wallet as the executor uses it.
type CashLedger interface {
	GetOrCreate(ctx context.Context, userID string) (*wallet.Wallet, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, meta wallet.EntryMeta) (*wallet.Posting, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, meta wallet.EntryMeta) (*wallet.Posting, error)
}

// PositionBook is the position book as the executor uses it.
type PositionBook interface {
	Get(ctx context.Context, userID, instrumentID string) (*portfolio.Position, error)
	List(ctx context.Context, userID string) ([]portfolio.Position, error)
	AddLot(ctx context.Context, userID, instrumentID string, qty int64, unitPrice decimal.Decimal) (*portfolio.Position, error)
	ReduceLot(ctx context.Context, userID, instrumentID string, qty int64) (*portfolio.Position, error)
	Restore(ctx context.Context, userID, instrumentID string, prev *portfolio.Position) error
}

// TradeLog is the append-only trade record.
type TradeLog interface {
	Append(ctx context.Context, trade Trade) error
}

// UserLocker serializes operations of the same user.
type UserLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// EventEmitter publishes engine events.
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// ExecutorConfig tunes the executor. Zero values take defaults.
type ExecutorConfig struct {
	// LockTimeout bounds the wait for the user's lock. Default 10s.
	LockTimeout time.Duration
	// Clock stamps trades. Default domain.SystemClock.
	Clock domain.Clock
	// NewTradeID generates trade ids. Default uuid.NewString.
	NewTradeID func() string
}

// Executor applies buys and sells to the four stores in the order inventory,
// wallet, position book, trade log. A failure after the first mutation unwinds
// the mutations already made.
type Executor struct {
	inventory InventoryStore
	cash      CashLedger
	positions PositionBook
	trades    TradeLog
	locker    UserLocker
	events    EventEmitter
	cfg       ExecutorConfig
	log       zerolog.Logger
}

// NewExecutor creates a new trade executor. emitter may be nil.
func NewExecutor(
	inventory InventoryStore,
	cash CashLedger,
	positions PositionBook,
	trades TradeLog,
	locker UserLocker,
	emitter EventEmitter,
	cfg ExecutorConfig,
	log zerolog.Logger,
) *Executor {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock
	}
	if cfg.NewTradeID == nil {
		cfg.NewTradeID = uuid.NewString
	}

	return &Executor{
		inventory: inventory,
		cash:      cash,
		positions: positions,
		trades:    trades,
		locker:    locker,
		events:    emitter,
		cfg:       cfg,
		log:       log.With().Str("service", "trading").Logger(),
	}
}

// execution carries one request through the state machine.
type execution struct {
	side         domain.TradeSide
	userID       string
	instrumentID string
	quantity     int64
	state        TradeState
	comp         compensation
}

// Buy purchases req.Quantity shares at the instrument's price as of the
// reservation.
func (e *Executor) Buy(ctx context.Context, req BuyRequest) (*Receipt, error) {
	defer utils.OperationTimer("trading.buy", e.log)()

	x := &execution{
		side:         domain.SideBuy,
		userID:       req.UserID,
		instrumentID: req.InstrumentID,
		quantity:     req.Quantity,
		state:        StateValidating,
	}

	if err := validateRequest(req.UserID, req.InstrumentID, req.Quantity); err != nil {
		return nil, e.reject(x, err)
	}

	unlock, err := e.lockUser(ctx, req.UserID)
	if err != nil {
		return nil, e.reject(x, err)
	}
	defer unlock()

	x.state = StateReserving
	inst, err := e.inventory.Reserve(ctx, req.InstrumentID, req.Quantity)
	if err != nil {
		return nil, e.reject(x, err)
	}

	// Past this point the request can no longer be cancelled.
	work := context.WithoutCancel(ctx)
	x.comp.push("release inventory", func(ctx context.Context) error {
		return e.inventory.Release(ctx, req.InstrumentID, req.Quantity)
	})

	x.state = StateSettling
	price := inst.UnitPrice
	cost := price.Mul(decimal.NewFromInt(req.Quantity))

	debit, err := e.cash.Debit(work, req.UserID, cost, wallet.EntryMeta{
		Kind:         domain.EntryPurchase,
		InstrumentID: req.InstrumentID,
		Quantity:     req.Quantity,
	})
	if err != nil {
		return nil, e.abort(work, x, err)
	}
	x.comp.push("reverse purchase debit", func(ctx context.Context) error {
		_, err := e.cash.Credit(ctx, req.UserID, debit.Entry.Amount, wallet.EntryMeta{
			Kind:         domain.EntryReversal,
			InstrumentID: req.InstrumentID,
			Quantity:     req.Quantity,
		})
		return err
	})

	prev, err := e.positions.Get(work, req.UserID, req.InstrumentID)
	if err != nil {
		return nil, e.abort(work, x, err)
	}
	if _, err := e.positions.AddLot(work, req.UserID, req.InstrumentID, req.Quantity, price); err != nil {
		return nil, e.abort(work, x, err)
	}
	x.comp.push("restore position", func(ctx context.Context) error {
		return e.positions.Restore(ctx, req.UserID, req.InstrumentID, prev)
	})

	return e.record(work, x, price)
}

// Sell sells req.Quantity held shares at req.Price.
func (e *Executor) Sell(ctx context.Context, req SellRequest) (*Receipt, error) {
	defer utils.OperationTimer("trading.sell", e.log)()

	x := &execution{
		side:         domain.SideSell,
		userID:       req.UserID,
		instrumentID: req.InstrumentID,
		quantity:     req.Quantity,
		state:        StateValidating,
	}

	if err := validateRequest(req.UserID, req.InstrumentID, req.Quantity); err != nil {
		return nil, e.reject(x, err)
	}
	if !req.Price.IsPositive() {
		return nil, e.reject(x, domain.ErrInvalidPrice)
	}

	unlock, err := e.lockUser(ctx, req.UserID)
	if err != nil {
		return nil, e.reject(x, err)
	}
	defer unlock()

	if _, err := e.inventory.Get(ctx, req.InstrumentID); err != nil {
		return nil, e.reject(x, err)
	}

	prev, err := e.positions.Get(ctx, req.UserID, req.InstrumentID)
	if err != nil {
		return nil, e.reject(x, err)
	}
	if prev == nil || prev.Quantity < req.Quantity {
		held := int64(0)
		if prev != nil {
			held = prev.Quantity
		}
		return nil, e.reject(x, fmt.Errorf("holding %d of %s, selling %d: %w",
			held, req.InstrumentID, req.Quantity, domain.ErrInsufficientShares))
	}

	// Shares leave the position book first; the sell counterpart of reserving.
	x.state = StateReserving
	if _, err := e.positions.ReduceLot(ctx, req.UserID, req.InstrumentID, req.Quantity); err != nil {
		return nil, e.reject(x, err)
	}

	work := context.WithoutCancel(ctx)
	x.comp.push("restore position", func(ctx context.Context) error {
		return e.positions.Restore(ctx, req.UserID, req.InstrumentID, prev)
	})

	x.state = StateSettling
	proceeds := req.Price.Mul(decimal.NewFromInt(req.Quantity))
	credit, err := e.cash.Credit(work, req.UserID, proceeds, wallet.EntryMeta{
		Kind:         domain.EntrySale,
		InstrumentID: req.InstrumentID,
		Quantity:     req.Quantity,
	})
	if err != nil {
		return nil, e.abort(work, x, err)
	}
	x.comp.push("reverse sale credit", func(ctx context.Context) error {
		_, err := e.cash.Debit(ctx, req.UserID, credit.Entry.Amount, wallet.EntryMeta{
			Kind:         domain.EntryReversal,
			InstrumentID: req.InstrumentID,
			Quantity:     req.Quantity,
		})
		return err
	})

	if err := e.inventory.Release(work, req.InstrumentID, req.Quantity); err != nil {
		return nil, e.abort(work, x, err)
	}
	x.comp.push("withdraw released inventory", func(ctx context.Context) error {
		return e.inventory.Withdraw(ctx, req.InstrumentID, req.Quantity)
	})

	return e.record(work, x, req.Price)
}

// record appends the trade, commits and builds the receipt.
func (e *Executor) record(ctx context.Context, x *execution, price decimal.Decimal) (*Receipt, error) {
	x.state = StateRecording
	trade := Trade{
		TradeID:      e.cfg.NewTradeID(),
		UserID:       x.userID,
		InstrumentID: x.instrumentID,
		Side:         x.side,
		Quantity:     x.quantity,
		Price:        price,
		ExecutedAt:   time.UnixMilli(e.cfg.Clock().UnixMilli()).UTC(),
	}
	if err := e.trades.Append(ctx, trade); err != nil {
		return nil, e.abort(ctx, x, err)
	}
	x.state = StateCommitted

	e.log.Info().
		Str("trade_id", trade.TradeID).
		Str("user_id", trade.UserID).
		Str("instrument_id", trade.InstrumentID).
		Str("side", string(trade.Side)).
		Int64("quantity", trade.Quantity).
		Str("price", trade.Price.String()).
		Msg("Trade committed")

	if e.events != nil {
		e.events.EmitTyped(events.TradeExecuted, "trading", &events.TradeExecutedData{
			TradeID:      trade.TradeID,
			UserID:       trade.UserID,
			InstrumentID: trade.InstrumentID,
			Side:         string(trade.Side),
			Quantity:     trade.Quantity,
			Price:        trade.Price.String(),
			Total:        trade.Total().String(),
			ExecutedAt:   trade.ExecutedAt,
		})
	}

	return e.receipt(ctx, trade), nil
}

// receipt reads the post-trade snapshots. The trade is already committed, so
// a failed read degrades the receipt instead of failing the call.
func (e *Executor) receipt(ctx context.Context, trade Trade) *Receipt {
	receipt := &Receipt{Trade: trade, Portfolio: []portfolio.Position{}}

	if w, err := e.cash.GetOrCreate(ctx, trade.UserID); err == nil {
		receipt.Wallet = w
	} else {
		e.log.Warn().Err(err).Str("trade_id", trade.TradeID).Msg("Failed to read wallet snapshot")
	}

	if positions, err := e.positions.List(ctx, trade.UserID); err == nil {
		receipt.Portfolio = positions
	} else {
		e.log.Warn().Err(err).Str("trade_id", trade.TradeID).Msg("Failed to read portfolio snapshot")
	}

	return receipt
}

// abort unwinds the mutations made so far and rejects the request. If an
// inverse action fails the stores may disagree; that is reported as an
// IntegrityError and never swallowed.
func (e *Executor) abort(ctx context.Context, x *execution, cause error) error {
	steps := x.comp.len()
	failedStep, err := x.comp.unwind(ctx)
	if err == nil {
		e.log.Warn().
			Err(cause).
			Str("user_id", x.userID).
			Str("instrument_id", x.instrumentID).
			Str("state", string(x.state)).
			Int("compensated_steps", steps).
			Msg("Trade aborted and compensated")
		return e.reject(x, cause)
	}

	integrity := &domain.IntegrityError{
		UserID:       x.userID,
		InstrumentID: x.instrumentID,
		Step:         failedStep,
		Cause:        cause,
		Err:          err,
	}

	e.log.Error().
		Err(err).
		AnErr("cause", cause).
		Str("user_id", x.userID).
		Str("instrument_id", x.instrumentID).
		Str("side", string(x.side)).
		Int64("quantity", x.quantity).
		Str("state", string(x.state)).
		Str("failed_step", failedStep).
		Msg("Compensation failed, stores may be inconsistent")

	if e.events != nil {
		e.events.EmitTyped(events.IntegrityAlert, "trading", &events.IntegrityAlertData{
			Source:       "executor",
			UserID:       x.userID,
			InstrumentID: x.instrumentID,
			Step:         failedStep,
			Error:        err.Error(),
			Cause:        cause.Error(),
		})
	}

	return &RejectionError{State: x.state, Err: integrity}
}

func (e *Executor) reject(x *execution, err error) error {
	rejection := &RejectionError{State: x.state, Err: err}
	x.state = StateRejected

	e.log.Warn().
		Err(err).
		Str("user_id", x.userID).
		Str("instrument_id", x.instrumentID).
		Str("side", string(x.side)).
		Int64("quantity", x.quantity).
		Str("state", string(rejection.State)).
		Str("kind", string(domain.KindOf(err))).
		Msg("Trade rejected")

	if e.events != nil {
		e.events.EmitTyped(events.TradeRejected, "trading", &events.TradeRejectedData{
			UserID:       x.userID,
			InstrumentID: x.instrumentID,
			Side:         string(x.side),
			Quantity:     x.quantity,
			State:        string(rejection.State),
			Kind:         string(domain.KindOf(err)),
			Reason:       err.Error(),
		})
	}
	return rejection
}

func (e *Executor) lockUser(ctx context.Context, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	defer cancel()

	unlock, err := e.locker.Lock(lockCtx, userID)
	if err != nil {
		return nil, domain.NewStorageError("trading.lock_user", err)
	}
	return unlock, nil
}

func validateRequest(userID, instrumentID string, qty int64) error {
	switch {
	case userID == "":
		return domain.ErrMissingUser
	case instrumentID == "":
		return domain.ErrMissingID
	case qty <= 0:
		return domain.ErrInvalidQuantity
	}
	return nil
}
