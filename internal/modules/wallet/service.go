package wallet

import (
	"context"
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/events"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UserLocker serializes operations of the same user across services.
type UserLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// EventEmitter publishes engine events.
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// Service exposes deposits, withdrawals and wallet snapshots. It takes the
// same per-user lock as trade execution so cash movements never interleave
// with a trade of that user.
type Service struct {
	repo        *Repository
	locker      UserLocker
	lockTimeout time.Duration
	events      EventEmitter
	log         zerolog.Logger
}

// NewService creates a new wallet service. lockTimeout bounds the wait for the
// user's lock and defaults to 10s; events may be nil.
func NewService(repo *Repository, locker UserLocker, lockTimeout time.Duration, emitter EventEmitter, log zerolog.Logger) *Service {
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	return &Service{
		repo:        repo,
		locker:      locker,
		lockTimeout: lockTimeout,
		events:      emitter,
		log:         log.With().Str("service", "wallet").Logger(),
	}
}

// GetWallet returns the user's wallet, creating it on first access.
func (s *Service) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	return s.repo.GetOrCreate(ctx, userID)
}

// Deposit adds cash to the user's wallet.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	return s.move(ctx, userID, amount, domain.EntryDeposit)
}

// Withdraw removes cash from the user's wallet. Fails with
// domain.ErrInsufficientFunds when the balance is too low.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*Wallet, error) {
	return s.move(ctx, userID, amount, domain.EntryWithdrawal)
}

func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(lockCtx, userID)
	if err != nil {
		return nil, domain.NewStorageError("wallet.lock_user", err)
	}
	return unlock, nil
}

func (s *Service) move(ctx context.Context, userID string, amount decimal.Decimal, kind domain.EntryKind) (*Wallet, error) {
	if userID == "" {
		return nil, domain.ErrMissingUser
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	unlock, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta := EntryMeta{Kind: kind}
	var posting *Posting
	if kind == domain.EntryWithdrawal {
		posting, err = s.repo.Debit(ctx, userID, amount, meta)
	} else {
		posting, err = s.repo.Credit(ctx, userID, amount, meta)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("kind", string(kind)).Msg("Cash movement rejected")
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Str("balance", posting.Balance.String()).
		Msg("Cash movement recorded")

	if s.events != nil {
		s.events.EmitTyped(events.CashUpdated, "wallet", &events.CashUpdatedData{
			UserID:  userID,
			Kind:    string(kind),
			Amount:  amount.String(),
			Balance: posting.Balance.String(),
		})
	}

	return s.repo.Get(ctx, userID)
}
