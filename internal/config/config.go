package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Census    CensusConfig    `yaml:"census" mapstructure:"census"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Loader    LoaderConfig    `yaml:"loader" mapstructure:"loader"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// IndexConfig configures the in-memory ZIP index.
type IndexConfig struct {
	DatasetPath  string `yaml:"dataset_path" mapstructure:"dataset_path"`
	SnapshotPath string `yaml:"snapshot_path" mapstructure:"snapshot_path"`
	DefaultLimit int    `yaml:"default_limit" mapstructure:"default_limit"`
}

// CacheConfig configures the durable variable cache.
type CacheConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	Path        string        `yaml:"path" mapstructure:"path"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Namespace   string        `yaml:"namespace" mapstructure:"namespace"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries  int           `yaml:"max_entries" mapstructure:"max_entries"`
	EvictBatch  int           `yaml:"evict_batch" mapstructure:"evict_batch"`
}

// CensusConfig holds Census Bureau data API settings.
type CensusConfig struct {
	Key               string        `yaml:"key" mapstructure:"key"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Dataset           string        `yaml:"dataset" mapstructure:"dataset"`
	Year              int           `yaml:"year" mapstructure:"year"`
	TimeoutSecs       int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RateLimitCooldown time.Duration `yaml:"ratelimit_cooldown" mapstructure:"ratelimit_cooldown"`
}

// RateLimitConfig configures the sliding-window admission limiter.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
}

// FetchConfig configures the variable fetch service.
type FetchConfig struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrent  int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	CatalogPath    string        `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// LoaderConfig configures dataset downloads.
type LoaderConfig struct {
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first so ZIPMAP_* variables can live there.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ZIPMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("index.dataset_path", "data/uszips.csv")
	v.SetDefault("index.snapshot_path", "data/zipindex.gob")
	v.SetDefault("index.default_limit", 100)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "cache.db")
	v.SetDefault("cache.namespace", "acs:v2")
	v.SetDefault("cache.ttl", 30*24*time.Hour)
	v.SetDefault("cache.max_entries", 250000)
	v.SetDefault("cache.evict_batch", 500)
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.dataset", "acs/acs5")
	v.SetDefault("census.year", 2023)
	v.SetDefault("census.timeout_secs", 30)
	v.SetDefault("census.requests_per_second", 5)
	v.SetDefault("census.ratelimit_cooldown", 0)
	v.SetDefault("ratelimit.max_requests", 50)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("fetch.batch_size", 10)
	v.SetDefault("fetch.max_concurrent", 4)
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.initial_backoff", time.Second)
	v.SetDefault("fetch.max_backoff", 30*time.Second)
	v.SetDefault("loader.temp_dir", "/tmp/zipmap")
	v.SetDefault("loader.user_agent", "zipmap/1.0")
	v.SetDefault("loader.timeout_secs", 120)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by the given command mode are
// present and within bounds. Modes: "index", "fetch", "serve".
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(ok bool, msg string) {
		if !ok {
			missing = append(missing, msg)
		}
	}

	check(c.Fetch.BatchSize >= 1 && c.Fetch.BatchSize <= 50,
		"fetch.batch_size must be between 1 and 50")
	check(c.Fetch.MaxConcurrent >= 1 && c.Fetch.MaxConcurrent <= 32,
		"fetch.max_concurrent must be between 1 and 32")
	check(c.Fetch.MaxAttempts >= 1, "fetch.max_attempts must be >= 1")
	check(c.RateLimit.MaxRequests >= 1, "ratelimit.max_requests must be >= 1")
	check(c.RateLimit.Window > 0, "ratelimit.window must be > 0")
	check(c.Cache.TTL > 0, "cache.ttl must be > 0")
	check(c.Cache.EvictBatch >= 1, "cache.evict_batch must be >= 1")

	switch mode {
	case "index":
		check(c.Index.DatasetPath != "" || c.Index.SnapshotPath != "",
			"index.dataset_path or index.snapshot_path is required")
	case "fetch":
		check(c.Census.Key != "", "census.key is required")
		if c.Cache.Driver == "postgres" {
			check(c.Cache.DatabaseURL != "", "cache.database_url is required for the postgres driver")
		}
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
