package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Logger LoggerConfig `mapstructure:"logger"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Feed   FeedConfig   `mapstructure:"feed"`
	Filter FilterConfig `mapstructure:"filter"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Chart  ChartConfig  `mapstructure:"chart"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`    // "debug", "info", "warn", "error"
	Encoding string `mapstructure:"encoding"` // "json", "console"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	TradeTopic  string   `mapstructure:"trade_topic"`
	TickerTopic string   `mapstructure:"ticker_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

type FeedConfig struct {
	Source  string   `mapstructure:"source"` // "binance" or "kafka"
	Symbols []string `mapstructure:"symbols"`
}

// FilterConfig carries the admission thresholds. The quiet window and the
// minimum-change gate vary between deployments, so both are knobs here rather
// than constants; min_change_pct of 0 disables the gate entirely.
type FilterConfig struct {
	DebounceMs       int64   `mapstructure:"debounce_ms"`
	MaxUpdatesPerSec uint32  `mapstructure:"max_updates_per_sec"`
	QuietWindowMs    int64   `mapstructure:"quiet_window_ms"`
	MinChangePct     float64 `mapstructure:"min_change_pct"`
}

type IngestConfig struct {
	NumWorkers     int `mapstructure:"num_workers"`
	WriteQueueSize int `mapstructure:"write_queue_size"`
}

type ChartConfig struct {
	SnapshotSpec string        `mapstructure:"snapshot_spec"` // cron with seconds
	SweepSpec    string        `mapstructure:"sweep_spec"`
	Retention    time.Duration `mapstructure:"retention"`
	DetailTTL    time.Duration `mapstructure:"detail_ttl"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trade_topic", "market_trades")
	v.SetDefault("kafka.ticker_topic", "market_tickers")
	v.SetDefault("kafka.group_id", "cex-ingestor-group")

	v.SetDefault("feed.source", "binance")
	v.SetDefault("feed.symbols", []string{
		"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT",
		"ADAUSDT", "DOTUSDT", "LINKUSDT", "BCHUSDT", "LTCUSDT",
	})

	v.SetDefault("filter.debounce_ms", 100)
	v.SetDefault("filter.max_updates_per_sec", 10)
	v.SetDefault("filter.quiet_window_ms", 1000)
	v.SetDefault("filter.min_change_pct", 0.0) // disabled unless set

	v.SetDefault("ingest.num_workers", 4)
	v.SetDefault("ingest.write_queue_size", 256)

	v.SetDefault("chart.snapshot_spec", "* * * * * *") // every second
	v.SetDefault("chart.sweep_spec", "0 0 0 * * *")    // midnight
	v.SetDefault("chart.retention", 24*time.Hour)
	v.SetDefault("chart.detail_ttl", time.Hour)

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.trade_topic", "kafka.ticker_topic", "kafka.group_id")
	bindEnv(v, "feed.source", "feed.symbols")
	bindEnv(v, "filter.debounce_ms", "filter.max_updates_per_sec", "filter.quiet_window_ms", "filter.min_change_pct")
	bindEnv(v, "ingest.num_workers", "ingest.write_queue_size")
	bindEnv(v, "chart.snapshot_spec", "chart.sweep_spec", "chart.retention", "chart.detail_ttl")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if len(cfg.Feed.Symbols) == 0 {
		return nil, fmt.Errorf("feed symbols cannot be empty")
	}
	if cfg.Feed.Source == "kafka" && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Ingest.NumWorkers <= 0 {
		return nil, fmt.Errorf("ingest workers must be positive")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
