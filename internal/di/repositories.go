package di

import (
	"github.com/aristath/stockledger/internal/config"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/trading"
	"github.com/aristath/stockledger/internal/modules/wallet"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates every repository over the open databases
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.InstrumentRepo = instruments.NewRepository(
		container.UniverseDB.Conn(),
		cfg.RequireApprovedInstruments,
		log,
	)
	container.WalletRepo = wallet.NewRepository(container.PortfolioDB.Conn(), log)
	container.PositionRepo = portfolio.NewPositionRepository(container.PortfolioDB.Conn(), log)
	container.TradeRepo = trading.NewTradeRepository(container.LedgerDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}
