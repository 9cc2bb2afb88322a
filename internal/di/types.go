// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/database"
	"github.com/aristath/stockledger/internal/events"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/trading"
	"github.com/aristath/stockledger/internal/modules/valuation"
	"github.com/aristath/stockledger/internal/modules/wallet"
	"github.com/aristath/stockledger/internal/reliability"
	"github.com/aristath/stockledger/internal/scheduler"
	"github.com/aristath/stockledger/internal/utils"
)

// Container holds all application dependencies
// This is the single source of truth for all services, repositories, and databases
type Container struct {
	// Databases
	UniverseDB  *database.DB
	PortfolioDB *database.DB
	LedgerDB    *database.DB

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager
	KafkaSink    *events.KafkaSink // nil unless KAFKA_BROKERS is set

	// Per-user lock shared by trading and wallet movements
	UserLocks *utils.KeyedLock

	// Repositories
	InstrumentRepo *instruments.Repository
	WalletRepo     *wallet.Repository
	PositionRepo   *portfolio.PositionRepository
	TradeRepo      *trading.TradeRepository

	// Services
	WalletService      *wallet.Service
	PortfolioService   *portfolio.Service
	TradeExecutor      *trading.Executor
	HistoryService     *trading.HistoryService
	ValuationProjector *valuation.Projector
	AuthResolver       auth.Resolver
	BackupService      *reliability.BackupService // nil unless BACKUP_BUCKET is set

	// Jobs
	Scheduler *scheduler.Scheduler
	Jobs      *JobInstances
}

// JobInstances holds the registered background jobs
type JobInstances struct {
	IntegrityAudit *reliability.IntegrityAuditJob
	WALCheckpoint  *reliability.WALCheckpointJob
	Backup         *reliability.BackupJob // nil when backups are disabled
}

// Databases returns the open databases in a fixed order.
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.UniverseDB, c.PortfolioDB, c.LedgerDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close stops background components and closes every database.
func (c *Container) Close() error {
	var firstErr error
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.KafkaSink != nil {
		if err := c.KafkaSink.Stop(); err != nil {
			firstErr = err
		}
	}
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
