package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConnectionREST      = "rest"
	ConnectionWebsocket = "websocket"
)

type Config struct {
	Arbflow   ArbflowConfig   `yaml:"arbflow"`
	Markets   []MarketConfig  `yaml:"markets"`
	Alert     AlertConfig     `yaml:"alert"`
	Reader    ReaderConfig    `yaml:"reader"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Exchanges ExchangesConfig `yaml:"exchanges"`
	Notify    NotifyConfig    `yaml:"notify"`
	Storage   StorageConfig   `yaml:"storage"`
	Writer    WriterConfig    `yaml:"writer"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ArbflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// MarketConfig lists the depth targets sampled for one unified market symbol.
type MarketConfig struct {
	Symbol string    `yaml:"symbol"`
	Depths []float64 `yaml:"depths"`
}

type AlertConfig struct {
	Threshold          float64 `yaml:"threshold"`
	RetriggerThreshold float64 `yaml:"retrigger_threshold"`
	KeyByRoute         bool    `yaml:"key_by_route"`
}

type ReaderConfig struct {
	OrderBookLimit int                  `yaml:"order_book_limit"`
	Timeout        time.Duration        `yaml:"timeout"`
	MaxWorkers     int                  `yaml:"max_workers"`
	MinFetchDelay  time.Duration        `yaml:"min_fetch_delay"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

type CircuitBreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"`
}

type PipelineConfig struct {
	IsolateVenueFailures bool          `yaml:"isolate_venue_failures"`
	ReportInterval       time.Duration `yaml:"report_interval"`
}

type ExchangesConfig struct {
	Binance  ExchangeConfig `yaml:"binance"`
	Bybit    ExchangeConfig `yaml:"bybit"`
	Kucoin   ExchangeConfig `yaml:"kucoin"`
	Bitstamp ExchangeConfig `yaml:"bitstamp"`
}

type ExchangeConfig struct {
	Enabled bool `yaml:"enabled"`
	// Connection is either "rest" (polling) or "websocket" (push).
	Connection    string        `yaml:"connection"`
	URL           string        `yaml:"url"`
	WSURL         string        `yaml:"ws_url"`
	MinFetchDelay time.Duration `yaml:"min_fetch_delay"`
}

// ByName returns the exchange sections keyed by venue name.
func (e ExchangesConfig) ByName() map[string]ExchangeConfig {
	return map[string]ExchangeConfig{
		"binance":  e.Binance,
		"bybit":    e.Bybit,
		"kucoin":   e.Kucoin,
		"bitstamp": e.Bitstamp,
	}
}

// EnabledNames returns the enabled venue names in sorted order.
func (e ExchangesConfig) EnabledNames() []string {
	var names []string
	for name, ex := range e.ByName() {
		if ex.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type NotifyConfig struct {
	Timeout  time.Duration  `yaml:"timeout"`
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

type TelegramConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BotToken      string        `yaml:"bot_token"`
	ChatID        string        `yaml:"chat_id"`
	MaxAttempts   int           `yaml:"max_attempts"`
	ThrottleDelay time.Duration `yaml:"throttle_delay"`
}

type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type StorageConfig struct {
	Redis RedisConfig `yaml:"redis"`
	S3    S3Config    `yaml:"s3"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type WriterConfig struct {
	Buffer       BufferConfig       `yaml:"buffer"`
	Formats      FormatsConfig      `yaml:"formats"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
}

type BufferConfig struct {
	MaxSize       int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type PartitioningConfig struct {
	Scheme     string `yaml:"scheme"`
	TimeFormat string `yaml:"time_format"`
}

type ChannelsConfig struct {
	DepthBuffer int `yaml:"depth_buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

func defaultConfig() Config {
	return Config{
		Alert: AlertConfig{
			Threshold:          0.0018,
			RetriggerThreshold: 0.0005,
		},
		Reader: ReaderConfig{
			OrderBookLimit: 100,
			MinFetchDelay:  2 * time.Second,
			Timeout:        10 * time.Second,
			MaxWorkers:     16,
			Retry: RetryConfig{
				MaxAttempts:       10,
				BaseDelay:         time.Second,
				MaxDelay:          time.Minute,
				BackoffMultiplier: 1.25,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:    5,
				RecoveryTimeout:     30 * time.Second,
				HalfOpenMaxRequests: 1,
			},
		},
		Pipeline: PipelineConfig{ReportInterval: 10 * time.Minute},
		Notify: NotifyConfig{
			Timeout:  10 * time.Second,
			Telegram: TelegramConfig{MaxAttempts: 3, ThrottleDelay: 10 * time.Second},
		},
		Writer: WriterConfig{
			Buffer:       BufferConfig{MaxSize: 1000, FlushInterval: time.Minute},
			Formats:      FormatsConfig{Parquet: ParquetConfig{Compression: "snappy"}},
			Partitioning: PartitioningConfig{Scheme: "exchange_market_date", TimeFormat: "2006-01-02"},
		},
		Channels: ChannelsConfig{DepthBuffer: 256},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func envValue(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func applyEnvOverrides(config *Config) {
	if v, ok := envValue("TELEGRAM_API_KEY"); ok {
		config.Notify.Telegram.BotToken = v
	}
	if v, ok := envValue("TELEGRAM_CHAT_ID"); ok {
		config.Notify.Telegram.ChatID = v
	}
	if v, ok := envValue("DISCORD_WEBHOOK_URL"); ok {
		config.Notify.Discord.WebhookURL = v
	}

	// A redis host in the environment switches the time series recorder on.
	if v, ok := envValue("REDIS_HOST"); ok {
		config.Storage.Redis.Enabled = true
		if !strings.Contains(v, ":") {
			v += ":6379"
		}
		config.Storage.Redis.Addr = v
	}
	if v, ok := envValue("REDIS_PASSWORD"); ok {
		config.Storage.Redis.Password = v
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v, ok := envValue("AWS_ACCESS_KEY_ID"); ok {
			config.Storage.S3.AccessKeyID = v
		}
		if v, ok := envValue("AWS_SECRET_ACCESS_KEY"); ok {
			config.Storage.S3.SecretAccessKey = v
		}
		if v, ok := envValue("AWS_REGION"); ok {
			config.Storage.S3.Region = v
		}
		if v, ok := envValue("S3_BUCKET"); ok {
			config.Storage.S3.Bucket = v
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
}

// MarketDepths returns the configured depth targets keyed by market.
func (c *Config) MarketDepths() map[string][]float64 {
	out := make(map[string][]float64, len(c.Markets))
	for _, m := range c.Markets {
		out[m.Symbol] = append([]float64(nil), m.Depths...)
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Arbflow.Name == "" {
		return fmt.Errorf("arbflow.name is required")
	}

	if len(cfg.Markets) == 0 {
		return fmt.Errorf("markets must list at least one market")
	}
	seen := map[string]bool{}
	for i, m := range cfg.Markets {
		if !strings.Contains(m.Symbol, "/") {
			return fmt.Errorf("markets[%d].symbol '%s' must look like BASE/QUOTE", i, m.Symbol)
		}
		if seen[m.Symbol] {
			return fmt.Errorf("markets[%d].symbol '%s' is duplicated", i, m.Symbol)
		}
		seen[m.Symbol] = true
		if len(m.Depths) == 0 {
			return fmt.Errorf("markets[%d].depths must not be empty", i)
		}
		for _, d := range m.Depths {
			if d <= 0 {
				return fmt.Errorf("markets[%d].depths must be greater than 0", i)
			}
		}
	}

	if cfg.Alert.Threshold <= 0 {
		return fmt.Errorf("alert.threshold must be greater than 0")
	}
	if cfg.Alert.RetriggerThreshold < 0 {
		return fmt.Errorf("alert.retrigger_threshold must not be negative")
	}

	if cfg.Reader.MaxWorkers <= 0 {
		return fmt.Errorf("reader.max_workers must be greater than 0")
	}
	if cfg.Reader.OrderBookLimit <= 0 {
		return fmt.Errorf("reader.order_book_limit must be greater than 0")
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reader.retry.max_attempts must be greater than 0")
	}
	if cfg.Reader.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("reader.retry.backoff_multiplier must be at least 1")
	}

	enabled := cfg.Exchanges.EnabledNames()
	if len(enabled) == 0 {
		return fmt.Errorf("exchanges must enable at least one venue")
	}
	// Every polling venue may hold a worker while blocked, so the pool must cover them.
	polling := 0
	for _, name := range enabled {
		ex := cfg.Exchanges.ByName()[name]
		switch ex.Connection {
		case "", ConnectionREST:
			polling++
		case ConnectionWebsocket:
		default:
			return fmt.Errorf("exchanges.%s.connection '%s' must be rest or websocket", name, ex.Connection)
		}
	}
	if cfg.Reader.MaxWorkers < polling {
		return fmt.Errorf("reader.max_workers (%d) must be at least the number of polling exchanges (%d)", cfg.Reader.MaxWorkers, polling)
	}

	if cfg.Notify.Telegram.Enabled && (cfg.Notify.Telegram.BotToken == "" || cfg.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram.bot_token and notify.telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.WebhookURL == "" {
		return fmt.Errorf("notify.discord.webhook_url is required when discord is enabled")
	}

	if cfg.Storage.Redis.Enabled && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when redis is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Writer.Buffer.FlushInterval <= 0 {
			return fmt.Errorf("writer.buffer.flush_interval must be greater than 0")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
