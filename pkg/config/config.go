package config

import (
	"fmt"
	"os"
	"time"

	"Trape/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Market      MarketConfig     `yaml:"market"`
	Binance     BinanceConfig    `yaml:"binance"`
	Buffer      BufferConfig     `yaml:"buffer"`
	Analyst     AnalystConfig    `yaml:"analyst"`
	Trading     TradingConfig    `yaml:"trading"`
	Accountant  AccountantConfig `yaml:"accountant"`
	Fees        FeesConfig       `yaml:"fees"`
	Export      ExportConfig     `yaml:"export"`
	Publisher   PublisherConfig  `yaml:"publisher"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	NATS        NATSConfig       `yaml:"nats"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	Redis       RedisConfig      `yaml:"redis"`
}

type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
	// CollectErrors ships aggregated error logs to kafka.logs_topic.
	CollectErrors bool          `yaml:"collect_errors"`
	CollectEvery  time.Duration `yaml:"collect_every" default:"30s"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type MarketConfig struct {
	// Source selects the tick feed: the exchange websocket or a Kafka topic.
	Source  string   `yaml:"source" default:"binance" validate:"oneof=binance kafka"`
	Symbols []string `yaml:"symbols" validate:"min=1,dive,required"`
	// SampleSide picks which book side feeds the statistics windows.
	SampleSide string `yaml:"sample_side" default:"ask" validate:"oneof=ask bid both"`
}

type BinanceConfig struct {
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	RESTURL        string        `yaml:"rest_url" default:"https://api.binance.com" validate:"url"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://stream.binance.com:9443/stream" validate:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"3m"`
	RecvWindow     int           `yaml:"recv_window" default:"5000" validate:"min=1,max=60000"`
	OrderRate      int           `yaml:"order_rate" default:"10" validate:"min=1"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
}

type BufferConfig struct {
	Shards     int `yaml:"shards" default:"8" validate:"min=1"`
	ShardQueue int `yaml:"shard_queue" default:"1024" validate:"min=1"`
	Crossing   struct {
		Epsilon  float64 `yaml:"epsilon" default:"1e-9" validate:"gte=0"`
		TieBreak string  `yaml:"tie_break" default:"hold" validate:"oneof=hold below above"`
	} `yaml:"crossing"`
	Falling struct {
		Horizon time.Duration `yaml:"horizon" default:"15s"`
		MinDrop float64       `yaml:"min_drop" default:"0.003" validate:"gt=0,lt=1"`
	} `yaml:"falling"`
	// MetadataTTL bounds how long cached symbol metadata is reused.
	MetadataTTL time.Duration `yaml:"metadata_ttl" default:"1h"`
}

type AnalystConfig struct {
	Interval       time.Duration `yaml:"interval" default:"1s"`
	PersistTimeout time.Duration `yaml:"persist_timeout" default:"2s"`
	// Weights per resolution applied to the window scores.
	Weights          map[string]float64 `yaml:"weights" default:"{\"3s\":0.05,\"15s\":0.1,\"2m\":0.2,\"10m\":0.3,\"2h\":0.35}"`
	BuyThreshold     float64            `yaml:"buy_threshold" default:"0.5" validate:"gt=0"`
	SellThreshold    float64            `yaml:"sell_threshold" default:"0.5" validate:"gt=0"`
	CrossingWeight   float64            `yaml:"crossing_weight" default:"0.25" validate:"gte=0"`
	CrossingLookback time.Duration      `yaml:"crossing_lookback" default:"10m"`
	FallingLookback  time.Duration      `yaml:"falling_lookback" default:"30s"`
}

type TradingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Symbols allowed to trade; empty allows every market symbol.
	Symbols           []string      `yaml:"symbols"`
	OrderType         string        `yaml:"order_type" default:"MARKET" validate:"oneof=MARKET LIMIT"`
	TimeInForce       string        `yaml:"time_in_force" default:"GTC" validate:"oneof=GTC IOC FOK"`
	QuoteOrderAmount  string        `yaml:"quote_order_amount" default:"50"`
	FaultThreshold    int           `yaml:"fault_threshold" default:"5" validate:"min=1"`
	PersistAttempts   int           `yaml:"persist_attempts" default:"3" validate:"min=1"`
	TransportAttempts int           `yaml:"transport_attempts" default:"3" validate:"min=1"`
	InboxSize         int           `yaml:"inbox_size" default:"16" validate:"min=1"`
	SpawnInterval     time.Duration `yaml:"spawn_interval" default:"10s"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" default:"1m"`
	RequestTimeout    time.Duration `yaml:"request_timeout" default:"10s"`
}

// QuoteAmount is the quote-asset spend of one buy.
func (t TradingConfig) QuoteAmount() decimal.Decimal {
	d, err := decimal.NewFromString(t.QuoteOrderAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type AccountantConfig struct {
	Interval   time.Duration `yaml:"interval" default:"30s"`
	BalanceTTL time.Duration `yaml:"balance_ttl" default:"1m"`
}

type FeesConfig struct {
	Interval     time.Duration `yaml:"interval" default:"1h"`
	DefaultMaker string        `yaml:"default_maker" default:"0.001"`
	DefaultTaker string        `yaml:"default_taker" default:"0.001"`
}

type ExportConfig struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Interval time.Duration `yaml:"interval" default:"1m"`
}

type PublisherConfig struct {
	Type    string `yaml:"type" default:"none" validate:"oneof=kafka nats none"`
	Topic   string `yaml:"topic" default:"trape.recommendations"`
	Subject string `yaml:"subject" default:"trape.recommendations"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	TicksTopic   string   `yaml:"ticks_topic" default:"trape.ticks"`
	LogsTopic    string   `yaml:"logs_topic" default:"trape.logs"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"trape"`
		Workers    int           `yaml:"workers" default:"1"`
		BufferSize int           `yaml:"buffer_size" default:"1000"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type NATSConfig struct {
	URL           string        `yaml:"url" default:"nats://127.0.0.1:4222"`
	Name          string        `yaml:"name" default:"trape"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" default:"2s"`
	MaxReconnects int           `yaml:"max_reconnects" default:"60"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled" default:"true"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"trape"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"10s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	LogLevel        string        `yaml:"log_level" default:"warn" validate:"oneof=silent error warn info"`
	AutoMigrate     bool          `yaml:"auto_migrate" default:"true"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl" default:"1h"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Unset fields take their
// default tag value.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes b and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.Market.Symbols = util.NormalizeSymbols(c.Market.Symbols)
	c.Trading.Symbols = util.NormalizeSymbols(c.Trading.Symbols)
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Market.Symbols = util.NormalizeSymbols(util.SplitList(v))
	}
	if v := os.Getenv("TRADING_ENABLED"); v != "" {
		c.Trading.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate checks struct tags, then the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for res, w := range c.Analyst.Weights {
		switch res {
		case "3s", "15s", "2m", "10m", "2h":
		default:
			return fmt.Errorf("analyst.weights: unknown resolution %q", res)
		}
		if w < 0 {
			return fmt.Errorf("analyst.weights.%s must not be negative", res)
		}
	}
	if c.Buffer.Falling.Horizon <= 0 || c.Buffer.Falling.Horizon > 30*time.Second {
		return fmt.Errorf("buffer.falling.horizon must be within (0s, 30s], got %s", c.Buffer.Falling.Horizon)
	}
	if c.Trading.Enabled {
		if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
			return fmt.Errorf("binance.api_key and binance.api_secret are required when trading is enabled")
		}
		if c.Trading.QuoteAmount().Sign() <= 0 {
			return fmt.Errorf("trading.quote_order_amount must be a positive decimal, got %q", c.Trading.QuoteOrderAmount)
		}
	}
	for _, fee := range []string{c.Fees.DefaultMaker, c.Fees.DefaultTaker} {
		if _, err := decimal.NewFromString(fee); err != nil {
			return fmt.Errorf("fees: invalid default rate %q: %w", fee, err)
		}
	}
	if c.Market.Source == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when market.source is kafka")
	}
	if c.Publisher.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when publisher.type is kafka")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	return nil
}
