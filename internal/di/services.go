package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/config"
	"github.com/aristath/stockledger/internal/events"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/trading"
	"github.com/aristath/stockledger/internal/modules/valuation"
	"github.com/aristath/stockledger/internal/modules/wallet"
	"github.com/aristath/stockledger/internal/reliability"
	"github.com/aristath/stockledger/internal/utils"
	"github.com/rs/zerolog"
)

// seedTimeout bounds catalog seeding at startup
const seedTimeout = 30 * time.Second

// InitializeServices creates the event plumbing, the engine services and the
// optional backup service
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Events
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	if cfg.Kafka.Enabled() {
		writer := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		container.KafkaSink = events.NewKafkaSink(writer, cfg.Kafka.Buffer, log)
		container.KafkaSink.Start(container.EventBus)
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("Kafka event sink enabled")
	}

	// One lock table serializes trades and cash movements of the same user
	container.UserLocks = utils.NewKeyedLock()

	container.WalletService = wallet.NewService(
		container.WalletRepo,
		container.UserLocks,
		cfg.LockTimeout,
		container.EventManager,
		log,
	)

	container.PortfolioService = portfolio.NewService(
		container.PositionRepo,
		container.InstrumentRepo,
		container.WalletRepo,
		log,
	)

	container.TradeExecutor = trading.NewExecutor(
		container.InstrumentRepo,
		container.WalletRepo,
		container.PositionRepo,
		container.TradeRepo,
		container.UserLocks,
		container.EventManager,
		trading.ExecutorConfig{LockTimeout: cfg.LockTimeout},
		log,
	)

	container.HistoryService = trading.NewHistoryService(container.TradeRepo, container.InstrumentRepo)

	container.ValuationProjector = valuation.NewProjector(
		container.PortfolioService,
		container.TradeRepo,
		log,
	)

	if len(cfg.AuthTokens) > 0 {
		container.AuthResolver = auth.NewTokenResolver(cfg.AuthTokens)
		log.Info().Int("tokens", len(cfg.AuthTokens)).Msg("Using static token authentication")
	} else {
		container.AuthResolver = auth.HeaderResolver{}
		log.Warn().Str("header", auth.HeaderUserIDHeader).Msg("No AUTH_TOKENS configured, trusting identity header")
	}

	if cfg.Backup.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			container.Databases(),
			store,
			filepath.Join(cfg.DataDir, "backups"),
			container.EventManager,
			log,
		)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Off-site backups enabled")
	}

	if cfg.CatalogSeedPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
		defer cancel()
		applied, err := container.InstrumentRepo.LoadSeedFile(ctx, cfg.CatalogSeedPath)
		if err != nil {
			return fmt.Errorf("failed to load catalog seed: %w", err)
		}
		log.Info().Str("path", cfg.CatalogSeedPath).Int("instruments", applied).Msg("Catalog seed applied")
	}

	log.Debug().Msg("Services initialized")
	return nil
}
