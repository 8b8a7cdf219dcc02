package di

import (
	"context"
	"fmt"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	dsvc "Trape/internal/domain/service"
	"Trape/internal/handler/api"
	internalrepo "Trape/internal/repository"
	"Trape/internal/service/binance"
	"Trape/internal/service/kafkastream"
	svcmetrics "Trape/internal/service/metrics"
	"Trape/internal/service/ratelimit"
	"Trape/internal/services/stats"
	"Trape/internal/usecase"
	"Trape/pkg/cache"
	pkgch "Trape/pkg/clickhouse"
	"Trape/pkg/config"
	xhttp "Trape/pkg/http"
	pkgkafka "Trape/pkg/kafka"
	applogger "Trape/pkg/logger"
	"Trape/pkg/metrics"
	pkgnats "Trape/pkg/nats"
	pkgpg "Trape/pkg/postgres"
	"Trape/pkg/server"

	"github.com/shopspring/decimal"
)

const setupTimeout = 15 * time.Second

// ProvideKafkaProducer returns nil when nothing publishes to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if cfg.Publisher.Type != "kafka" && !cfg.Log.CollectErrors {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the root logger. With log.collect_errors, error logs
// are also aggregated to kafka.logs_topic through producer.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.CollectErrors && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectEvery,
			Topic:        cfg.Kafka.LogsTopic,
			Publisher:    producer,
		})
	}
	l = l.With(applogger.String("env", cfg.Environment))
	return l, l.RemoveCollector, nil
}

func ProvideMetrics(cfg *config.Config) drepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	svcmetrics.Register()
	return metrics.New()
}

// ProvideClickHouseClient connects and applies the schema. It returns nil
// when clickhouse.enabled is false.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.SchemaStatements(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("database", cfg.ClickHouse.Database))
	return client, func() { _ = client.Close() }, nil
}

// ProvidePostgresClient returns nil when postgres.enabled is false.
func ProvidePostgresClient(cfg *config.Config, l *applogger.Logger) (*pkgpg.Client, func(), error) {
	if !cfg.Postgres.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(cfg.Postgres.DSN),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		pkgpg.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		pkgpg.WithLogLevel(cfg.Postgres.LogLevel),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		defer cancel()
		if err := client.Migrate(ctx, internalrepo.OrderTables()...); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	l.Info("postgres ready", applogger.Bool("auto_migrate", cfg.Postgres.AutoMigrate))
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache is Redis behind an in-process layer when redis.enabled, or a
// memory cache otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryDefaultTTL(cfg.Redis.TTL))
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("trape"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	lc := cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(10*time.Second))
	return lc, func() { _ = lc.Close() }, nil
}

// ProvideNATSClient returns nil unless recommendations go to NATS.
func ProvideNATSClient(cfg *config.Config, l *applogger.Logger) (*pkgnats.Client, error) {
	if cfg.Publisher.Type != "nats" {
		return nil, nil
	}
	c, err := pkgnats.NewClient(
		pkgnats.WithURL(cfg.NATS.URL),
		pkgnats.WithName(cfg.NATS.Name),
		pkgnats.WithReconnect(cfg.NATS.ReconnectWait, cfg.NATS.MaxReconnects),
		pkgnats.WithLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("nats client: %w", err)
	}
	return c, nil
}

func ProvideExchangeClient(cfg *config.Config) *binance.Client {
	return binance.NewClient(binance.ClientConfig{
		BaseURL:    cfg.Binance.RESTURL,
		APIKey:     cfg.Binance.APIKey,
		APISecret:  cfg.Binance.APISecret,
		RecvWindow: cfg.Binance.RecvWindow,
		OrderRate:  cfg.Binance.OrderRate,
		Timeout:    cfg.Binance.RequestTimeout,
	}, ratelimit.New())
}

// ProvideMarketStream selects the tick feed from market.source.
func ProvideMarketStream(cfg *config.Config, l *applogger.Logger) (drepo.MarketStream, error) {
	if cfg.Market.Source == "kafka" {
		c := cfg.Kafka.Consumer
		return kafkastream.New(kafkastream.Config{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      cfg.Kafka.TicksTopic,
			GroupID:    c.GroupID,
			Workers:    c.Workers,
			BufferSize: c.BufferSize,
			RetryMax:   c.RetryMax,
			BackoffMin: c.BackoffMin,
			BackoffMax: c.BackoffMax,
			DLQTopic:   c.DLQTopic,
			MinBytes:   c.MinBytes,
			MaxBytes:   c.MaxBytes,
			Symbols:    cfg.Market.Symbols,
			Hooks: []pkgkafka.ConsumerHook{pkgkafka.LagHook(func(topic string, lag time.Duration) {
				svcmetrics.FeedLag.WithLabelValues(topic).Observe(lag.Seconds())
			})},
		}, l)
	}
	return binance.NewStream(binance.StreamConfig{
		WebSocketURL:   cfg.Binance.WebSocketURL,
		Symbols:        cfg.Market.Symbols,
		ReconnectDelay: cfg.Binance.ReconnectDelay,
		PingInterval:   cfg.Binance.PingInterval,
	}, l), nil
}

func ProvideClickHouseStore(ch *pkgch.Client, cfg *config.Config, m drepo.Metrics, l *applogger.Logger) *internalrepo.ClickHouseStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseStore(ch, cfg.ClickHouse.Database, m, l)
}

// ProvideOrderStore falls back to memory when postgres is disabled; orders
// then do not survive a restart.
func ProvideOrderStore(pg *pkgpg.Client, l *applogger.Logger) drepo.OrderStore {
	if pg == nil {
		l.Warn("postgres disabled, order records are kept in memory")
		return internalrepo.NewMemoryOrderStore()
	}
	return internalrepo.NewPostgresOrderStore(pg)
}

func ProvideRecommendationPublisher(cfg *config.Config, producer *pkgkafka.Producer, nc *pkgnats.Client) (drepo.RecommendationPublisher, func(), error) {
	var pub drepo.RecommendationPublisher
	switch cfg.Publisher.Type {
	case "kafka":
		if producer == nil {
			return nil, nil, fmt.Errorf("kafka publisher without producer")
		}
		pub = internalrepo.NewKafkaRecommendationPublisher(producer, cfg.Publisher.Topic)
	case "nats":
		if nc == nil {
			return nil, nil, fmt.Errorf("nats publisher without connection")
		}
		pub = internalrepo.NewNATSRecommendationPublisher(nc, cfg.Publisher.Subject)
	default:
		pub = internalrepo.NopRecommendationPublisher{}
	}
	return pub, func() { _ = pub.Close() }, nil
}

func ProvideBuffer(cfg *config.Config, stream drepo.MarketStream, exchange *binance.Client, c cache.Service, m drepo.Metrics, l *applogger.Logger) (*usecase.Buffer, error) {
	tie, err := stats.ParseTieBreak(cfg.Buffer.Crossing.TieBreak)
	if err != nil {
		return nil, err
	}
	return usecase.NewBuffer(usecase.BufferConfig{
		Symbols:    cfg.Market.Symbols,
		Source:     cfg.Market.Source,
		SampleSide: cfg.Market.SampleSide,
		Stats: stats.Config{
			Epsilon:        cfg.Buffer.Crossing.Epsilon,
			TieBreak:       tie,
			FallingHorizon: cfg.Buffer.Falling.Horizon,
			FallingMinDrop: cfg.Buffer.Falling.MinDrop,
		},
		Shards:         cfg.Buffer.Shards,
		ShardQueue:     cfg.Buffer.ShardQueue,
		ReconnectDelay: cfg.Binance.ReconnectDelay,
		MetadataTTL:    cfg.Buffer.MetadataTTL,
	}, stream, exchange, c, m, l)
}

func ProvideAnalyst(cfg *config.Config, buffer *usecase.Buffer, store *internalrepo.ClickHouseStore, pub drepo.RecommendationPublisher, m drepo.Metrics, l *applogger.Logger) (*usecase.Analyst, error) {
	weights, err := usecase.ParseWeights(cfg.Analyst.Weights)
	if err != nil {
		return nil, err
	}
	var recs drepo.RecommendationStore
	if store != nil {
		recs = store
	}
	return usecase.NewAnalyst(usecase.AnalystConfig{
		Interval:       cfg.Analyst.Interval,
		PersistTimeout: cfg.Analyst.PersistTimeout,
		Policy: usecase.Policy{
			Weights:          weights,
			BuyThreshold:     cfg.Analyst.BuyThreshold,
			SellThreshold:    cfg.Analyst.SellThreshold,
			CrossingWeight:   cfg.Analyst.CrossingWeight,
			CrossingLookback: cfg.Analyst.CrossingLookback,
			FallingLookback:  cfg.Analyst.FallingLookback,
		},
	}, buffer, recs, pub, m, l)
}

func ProvideReservations() *usecase.ReservationTable {
	return usecase.NewReservationTable()
}

func ProvideOrderSubmitter(cfg *config.Config, client *binance.Client, store drepo.OrderStore, res *usecase.ReservationTable, m drepo.Metrics, l *applogger.Logger) (*usecase.OrderSubmitter, error) {
	return usecase.NewOrderSubmitter(submitterConfig(cfg), client, store, res, m, l)
}

func submitterConfig(cfg *config.Config) usecase.SubmitterConfig {
	return usecase.SubmitterConfig{
		OrderType:         models.OrderType(cfg.Trading.OrderType),
		TimeInForce:       models.TimeInForce(cfg.Trading.TimeInForce),
		PersistAttempts:   cfg.Trading.PersistAttempts,
		TransportAttempts: cfg.Trading.TransportAttempts,
		RequestTimeout:    cfg.Trading.RequestTimeout,
	}
}

// ProvideReconciler takes a cross-process lock only when the cache is shared.
func ProvideReconciler(cfg *config.Config, client *binance.Client, store drepo.OrderStore, res *usecase.ReservationTable, c cache.Service, m drepo.Metrics, l *applogger.Logger) (*usecase.Reconciler, error) {
	var opts []usecase.ReconcilerOption
	if cfg.Redis.Enabled {
		opts = append(opts, usecase.WithReconcileLock(c))
	}
	return usecase.NewReconciler(usecase.ReconcilerConfig{
		SubmitBudget:   submitterConfig(cfg).Budget(),
		RequestTimeout: cfg.Trading.RequestTimeout,
	}, client, store, res, m, l, opts...)
}

func ProvideAccountant(cfg *config.Config, client *binance.Client, c cache.Service, m drepo.Metrics, l *applogger.Logger) (*usecase.Accountant, error) {
	return usecase.NewAccountant(usecase.AccountantConfig{
		Interval:   cfg.Accountant.Interval,
		BalanceTTL: cfg.Accountant.BalanceTTL,
	}, client, c, m, l)
}

func ProvideFeeWatchdog(cfg *config.Config, client *binance.Client, m drepo.Metrics, l *applogger.Logger) (*usecase.FeeWatchdog, error) {
	symbols := cfg.Trading.Symbols
	if len(symbols) == 0 {
		symbols = cfg.Market.Symbols
	}
	return usecase.NewFeeWatchdog(usecase.FeeWatchdogConfig{
		Symbols:      symbols,
		Interval:     cfg.Fees.Interval,
		DefaultMaker: decimal.RequireFromString(cfg.Fees.DefaultMaker),
		DefaultTaker: decimal.RequireFromString(cfg.Fees.DefaultTaker),
	}, client, m, l)
}

func ProvideTradingTeam(
	cfg *config.Config,
	buffer *usecase.Buffer,
	accountant *usecase.Accountant,
	fees *usecase.FeeWatchdog,
	analyst *usecase.Analyst,
	submitter *usecase.OrderSubmitter,
	reconciler *usecase.Reconciler,
	res *usecase.ReservationTable,
	m drepo.Metrics,
	l *applogger.Logger,
) (*usecase.TradingTeam, error) {
	return usecase.NewTradingTeam(usecase.TeamConfig{
		Symbols:           cfg.Trading.Symbols,
		QuoteAmount:       cfg.Trading.QuoteAmount(),
		InboxSize:         cfg.Trading.InboxSize,
		FaultThreshold:    cfg.Trading.FaultThreshold,
		SpawnInterval:     cfg.Trading.SpawnInterval,
		ReconcileInterval: cfg.Trading.ReconcileInterval,
	}, usecase.AgentDeps{
		Market:       buffer,
		Accountant:   accountant,
		Fees:         fees,
		Source:       analyst,
		Submitter:    submitter,
		Reconciler:   reconciler,
		Reservations: res,
		Metrics:      m,
		Logger:       l,
	})
}

// ProvideStatsExporter returns nil without a statistics store.
func ProvideStatsExporter(cfg *config.Config, buffer *usecase.Buffer, store *internalrepo.ClickHouseStore, m drepo.Metrics, l *applogger.Logger) *usecase.StatsExporter {
	if store == nil || !cfg.Export.Enabled {
		return nil
	}
	return usecase.NewStatsExporter(cfg.Export.Interval, buffer, store, m, l)
}

// ProvideEngine orders the components so producers start before consumers.
func ProvideEngine(
	cfg *config.Config,
	l *applogger.Logger,
	buffer *usecase.Buffer,
	analyst *usecase.Analyst,
	exporter *usecase.StatsExporter,
	accountant *usecase.Accountant,
	fees *usecase.FeeWatchdog,
	team *usecase.TradingTeam,
) *usecase.Engine {
	var exp dsvc.Startable
	if exporter != nil {
		exp = exporter
	}
	return usecase.NewEngine(l, engineComponents(cfg.Trading.Enabled, buffer, analyst, exp, accountant, team, fees)...)
}

// engineComponents returns the start order: buffer, analyst, exporter, then
// accountant, team and fee watchdog when trading. Finish runs in reverse.
func engineComponents(trading bool, buffer, analyst, exporter, accountant, team, fees dsvc.Startable) []dsvc.Startable {
	components := []dsvc.Startable{buffer, analyst}
	if exporter != nil {
		components = append(components, exporter)
	}
	if trading {
		components = append(components, accountant, team, fees)
	}
	return components
}

func ProvideMonitorHandler(
	cfg *config.Config,
	buffer *usecase.Buffer,
	analyst *usecase.Analyst,
	team *usecase.TradingTeam,
	engine *usecase.Engine,
	store *internalrepo.ClickHouseStore,
	l *applogger.Logger,
) *api.MonitorHandler {
	deps := api.MonitorDeps{
		Market:          buffer,
		Recommendations: analyst,
		Health:          engine,
		Logger:          l,
	}
	if cfg.Trading.Enabled {
		deps.Agents = team
	}
	if store != nil {
		deps.Trends = store
		deps.Prices = store
	}
	return api.NewMonitorHandler(deps)
}

func ProvideHTTPServer(cfg *config.Config, monitor *api.MonitorHandler, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithMetricsPath(""),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer([]xhttp.Handler{monitor}, opts...)
}

func ProvideApp(cfg *config.Config, l *applogger.Logger, engine *usecase.Engine, srv *xhttp.Server, reconciler *usecase.Reconciler) *server.App {
	return server.New(cfg, l, engine, srv, reconciler)
}
