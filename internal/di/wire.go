//go:build wireinject
// +build wireinject

package di

import (
	"Trape/pkg/config"
	"Trape/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvidePostgresClient,
	ProvideCache,
	ProvideNATSClient,
	ProvideExchangeClient,
	ProvideMarketStream,
)

var repositorySet = wire.NewSet(
	ProvideClickHouseStore,
	ProvideOrderStore,
	ProvideRecommendationPublisher,
)

var usecaseSet = wire.NewSet(
	ProvideBuffer,
	ProvideAnalyst,
	ProvideReservations,
	ProvideOrderSubmitter,
	ProvideReconciler,
	ProvideAccountant,
	ProvideFeeWatchdog,
	ProvideTradingTeam,
	ProvideStatsExporter,
	ProvideEngine,
)

// InitializeApp wires every dependency. The returned cleanup releases
// connections in reverse order of creation.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		repositorySet,
		usecaseSet,
		ProvideMonitorHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
