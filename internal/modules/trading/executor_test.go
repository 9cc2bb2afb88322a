package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/events"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/wallet"
	testingutil "github.com/aristath/stockledger/internal/testing"
	"github.com/aristath/stockledger/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type ledgerFixture struct {
	instruments *instruments.Repository
	wallets     *wallet.Repository
	positions   *portfolio.PositionRepository
	trades      *TradeRepository
	bus         *events.Bus
	executor    *Executor
}

// stepClock advances one second per call so trade timestamps are distinct.
func stepClock() domain.Clock {
	var n atomic.Int64
	return func() time.Time {
		return baseTime.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	stores := testingutil.NewTestStores(t)
	log := zerolog.Nop()

	f := &ledgerFixture{
		instruments: instruments.NewRepository(stores.Universe.Conn(), false, log),
		wallets:     wallet.NewRepository(stores.Portfolio.Conn(), log),
		positions:   portfolio.NewPositionRepository(stores.Portfolio.Conn(), log),
		trades:      NewTradeRepository(stores.Ledger.Conn(), log),
		bus:         events.NewBus(log),
	}
	f.executor = NewExecutor(
		f.instruments, f.wallets, f.positions, f.trades,
		utils.NewKeyedLock(),
		events.NewManager(f.bus, log),
		ExecutorConfig{Clock: stepClock()},
		log,
	)
	return f
}

func (f *ledgerFixture) listInstrument(t *testing.T, id, price string, remaining int64) {
	t.Helper()
	require.NoError(t, f.instruments.Upsert(context.Background(), instruments.Instrument{
		ID:        id,
		UnitPrice: d(price),
		Remaining: remaining,
		Status:    domain.StatusApproved,
	}))
}

func (f *ledgerFixture) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := f.wallets.Credit(context.Background(), userID, d(amount), wallet.EntryMeta{Kind: domain.EntryDeposit})
	require.NoError(t, err)
}

func (f *ledgerFixture) remaining(t *testing.T, id string) int64 {
	t.Helper()
	inst, err := f.instruments.Get(context.Background(), id)
	require.NoError(t, err)
	return inst.Remaining
}

func (f *ledgerFixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.wallets.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *ledgerFixture) tradeCount(t *testing.T, userID string) int {
	t.Helper()
	trades, err := f.trades.History(context.Background(), userID, 0)
	require.NoError(t, err)
	return len(trades)
}

func TestExecutor_BuyThenSellScenario(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "50", 100)
	f.fund(t, "alice", "1000")

	receipt, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, receipt.Trade.Side)
	assert.True(t, d("50").Equal(receipt.Trade.Price))
	assert.NotEmpty(t, receipt.Trade.TradeID)
	require.NotNil(t, receipt.Wallet)
	assert.True(t, d("500").Equal(receipt.Wallet.Balance))
	require.Len(t, receipt.Portfolio, 1)
	assert.Equal(t, int64(10), receipt.Portfolio[0].Quantity)
	assert.True(t, d("50").Equal(receipt.Portfolio[0].CostBasis))
	assert.Equal(t, int64(90), f.remaining(t, "X"))

	receipt, err = f.executor.Sell(ctx, SellRequest{UserID: "alice", InstrumentID: "X", Quantity: 4, Price: d("60")})
	require.NoError(t, err)
	assert.True(t, d("740").Equal(receipt.Wallet.Balance))
	require.Len(t, receipt.Portfolio, 1)
	assert.Equal(t, int64(6), receipt.Portfolio[0].Quantity)
	assert.True(t, d("50").Equal(receipt.Portfolio[0].CostBasis))
	assert.Equal(t, int64(94), f.remaining(t, "X"))

	history, err := f.trades.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.SideSell, history[0].Side)
	assert.True(t, d("60").Equal(history[0].Price))
	assert.True(t, history[0].ExecutedAt.After(history[1].ExecutedAt))

	w, err := f.wallets.Get(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, w.Entries, 3)
	assert.Equal(t, domain.EntryPurchase, w.Entries[1].Kind)
	assert.Equal(t, domain.EntrySale, w.Entries[2].Kind)
}

func TestExecutor_WeightedAverageBasis(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "100", 100)
	f.fund(t, "alice", "10000")

	_, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 10})
	require.NoError(t, err)

	f.listInstrument(t, "X", "130", 0) // catalog reprices; remaining untouched
	receipt, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 5})
	require.NoError(t, err)

	require.Len(t, receipt.Portfolio, 1)
	assert.Equal(t, int64(15), receipt.Portfolio[0].Quantity)
	assert.True(t, d("110").Equal(receipt.Portfolio[0].CostBasis))
	assert.True(t, d("8350").Equal(receipt.Wallet.Balance))
}

func TestExecutor_Validation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "10", 10)

	_, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.executor.Sell(ctx, SellRequest{UserID: "alice", InstrumentID: "X", Quantity: -1, Price: d("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.executor.Sell(ctx, SellRequest{UserID: "alice", InstrumentID: "X", Quantity: 1, Price: d("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = f.executor.Buy(ctx, BuyRequest{InstrumentID: "X", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, StateValidating, rejection.State)
	assert.Equal(t, domain.KindInvalidInput, rejection.Kind())

	assert.Equal(t, int64(10), f.remaining(t, "X"))
	assert.Equal(t, 0, f.tradeCount(t, "alice"))
}

func TestExecutor_BuyInsufficientInventory(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "1", 3)
	f.fund(t, "alice", "100")

	_, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 4})
	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, StateReserving, rejection.State)

	assert.Equal(t, int64(3), f.remaining(t, "X"))
	assert.True(t, d("100").Equal(f.balance(t, "alice")))
	assert.Equal(t, 0, f.tradeCount(t, "alice"))
}

func TestExecutor_BuyUnknownInstrument(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.executor.Buy(context.Background(), BuyRequest{UserID: "alice", InstrumentID: "NOPE", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecutor_BuyInsufficientFundsRestoresInventory(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "50", 100)
	f.fund(t, "alice", "100")

	_, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 3})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, StateSettling, rejection.State)

	assert.Equal(t, int64(100), f.remaining(t, "X"), "reservation must be released")
	assert.True(t, d("100").Equal(f.balance(t, "alice")))
	assert.Equal(t, 0, f.tradeCount(t, "alice"))

	pos, err := f.positions.Get(ctx, "alice", "X")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestExecutor_BuyWithoutWalletIsInsufficientFunds(t *testing.T) {
	f := newLedgerFixture(t)
	f.listInstrument(t, "X", "1", 10)

	_, err := f.executor.Buy(context.Background(), BuyRequest{UserID: "newcomer", InstrumentID: "X", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(10), f.remaining(t, "X"))
}

func TestExecutor_SellRejections(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "10", 100)
	f.fund(t, "alice", "1000")

	_, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 5})
	require.NoError(t, err)

	_, err = f.executor.Sell(ctx, SellRequest{UserID: "alice", InstrumentID: "X", Quantity: 6, Price: d("10")})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	_, err = f.executor.Sell(ctx, SellRequest{UserID: "alice", InstrumentID: "NOPE", Quantity: 1, Price: d("10")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.executor.Sell(ctx, SellRequest{UserID: "bob", InstrumentID: "X", Quantity: 1, Price: d("10")})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	// Stores untouched by the rejected sells
	assert.Equal(t, int64(95), f.remaining(t, "X"))
	assert.True(t, d("950").Equal(f.balance(t, "alice")))
	assert.Equal(t, 1, f.tradeCount(t, "alice"))
	assert.Equal(t, 0, f.tradeCount(t, "bob"))
	pos, err := f.positions.Get(ctx, "alice", "X")
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos.Quantity)
}

func TestExecutor_SellEntirePositionRemovesRow(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "10", 10)
	f.fund(t, "alice", "100")

	_, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.remaining(t, "X"))

	receipt, err := f.executor.Sell(ctx, SellRequest{UserID: "alice", InstrumentID: "X", Quantity: 10, Price: d("12.5")})
	require.NoError(t, err)
	assert.Empty(t, receipt.Portfolio)
	assert.True(t, d("125").Equal(receipt.Wallet.Balance))
	assert.Equal(t, int64(10), f.remaining(t, "X"))
}

func TestExecutor_ConcurrentBuyersNeverOversell(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "1", 10)

	const buyers = 16
	for i := 0; i < buyers; i++ {
		f.fund(t, fmt.Sprintf("user-%d", i), "100")
	}

	var wg sync.WaitGroup
	var filled atomic.Int64
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.executor.Buy(ctx, BuyRequest{UserID: fmt.Sprintf("user-%d", i), InstrumentID: "X", Quantity: 1})
			if err == nil {
				filled.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrInsufficientInventory) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(10), filled.Load())
	assert.Equal(t, int64(0), f.remaining(t, "X"))

	var trades int
	for i := 0; i < buyers; i++ {
		trades += f.tradeCount(t, fmt.Sprintf("user-%d", i))
	}
	assert.Equal(t, 10, trades)
}

func TestExecutor_SameUserConcurrentBuysNeverOverdraw(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "10", 1000)
	f.fund(t, "alice", "55")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 1})
		}()
	}
	wg.Wait()

	assert.True(t, d("5").Equal(f.balance(t, "alice")))
	assert.Equal(t, 5, f.tradeCount(t, "alice"))
	assert.Equal(t, int64(995), f.remaining(t, "X"))

	pos, err := f.positions.Get(ctx, "alice", "X")
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos.Quantity)
}

func TestExecutor_EmitsEvents(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.listInstrument(t, "X", "50", 100)
	f.fund(t, "alice", "1000")

	var mu sync.Mutex
	var got []*events.Event
	f.bus.SubscribeAll(func(e *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	_, err := f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 2})
	require.NoError(t, err)
	_, err = f.executor.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 1000})
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, events.TradeExecuted, got[0].Type)
	executed := got[0].GetTypedData().(*events.TradeExecutedData)
	assert.Equal(t, "100", executed.Total)

	assert.Equal(t, events.TradeRejected, got[1].Type)
	rejected := got[1].GetTypedData().(*events.TradeRejectedData)
	assert.Equal(t, string(domain.KindInsufficientInventory), rejected.Kind)
	assert.Equal(t, string(StateReserving), rejected.State)
}

func TestExecutor_LockWaitHonoursContext(t *testing.T) {
	stores := testingutil.NewTestStores(t)
	log := zerolog.Nop()
	locks := utils.NewKeyedLock()
	inst := instruments.NewRepository(stores.Universe.Conn(), false, log)
	executor := NewExecutor(
		inst,
		wallet.NewRepository(stores.Portfolio.Conn(), log),
		portfolio.NewPositionRepository(stores.Portfolio.Conn(), log),
		NewTradeRepository(stores.Ledger.Conn(), log),
		locks, nil,
		ExecutorConfig{LockTimeout: 20 * time.Millisecond},
		log,
	)

	unlock, err := locks.Lock(context.Background(), "alice")
	require.NoError(t, err)
	defer unlock()

	_, err = executor.Buy(context.Background(), BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.True(t, domain.Retryable(err))
}

type failingTradeLog struct{}

func (failingTradeLog) Append(context.Context, Trade) error {
	return domain.NewStorageError("trades.append", errors.New("disk full"))
}

func TestExecutor_SellUnwindsAfterInstrumentDelisted(t *testing.T) {
	stores := testingutil.NewTestStores(t)
	log := zerolog.Nop()
	ctx := context.Background()
	inst := instruments.NewRepository(stores.Universe.Conn(), true, log)
	wallets := wallet.NewRepository(stores.Portfolio.Conn(), log)
	positions := portfolio.NewPositionRepository(stores.Portfolio.Conn(), log)
	locks := utils.NewKeyedLock()

	listing := instruments.Instrument{ID: "X", UnitPrice: d("50"), Remaining: 100, Status: domain.StatusApproved}
	require.NoError(t, inst.Upsert(ctx, listing))
	_, err := wallets.Credit(ctx, "alice", d("1000"), wallet.EntryMeta{Kind: domain.EntryDeposit})
	require.NoError(t, err)

	buyer := NewExecutor(inst, wallets, positions, NewTradeRepository(stores.Ledger.Conn(), log),
		locks, nil, ExecutorConfig{Clock: stepClock()}, log)
	_, err = buyer.Buy(ctx, BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 10})
	require.NoError(t, err)

	listing.Status = domain.StatusRejected
	require.NoError(t, inst.Upsert(ctx, listing))

	seller := NewExecutor(inst, wallets, positions, failingTradeLog{},
		locks, nil, ExecutorConfig{Clock: stepClock()}, log)
	_, err = seller.Sell(ctx, SellRequest{UserID: "alice", InstrumentID: "X", Quantity: 4, Price: d("60")})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	var integrity *domain.IntegrityError
	assert.False(t, errors.As(err, &integrity), "compensation must complete")

	stored, err := inst.Get(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, int64(90), stored.Remaining)
	pos, err := positions.Get(ctx, "alice", "X")
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity)
	balance, err := wallets.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d("500").Equal(balance), "balance %s", balance)
}
