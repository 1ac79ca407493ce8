package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Events     EventsConfig     `mapstructure:"events"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type StorageConfig struct {
	// Driver is one of memory, bolt, sqlite, postgres or mysql.
	Driver        string         `mapstructure:"driver"`
	DataDir       string         `mapstructure:"data_dir"`
	Database      DatabaseConfig `mapstructure:"database"`
	RetentionDays int            `mapstructure:"retention_days"`
	MaxMessages   int            `mapstructure:"max_messages"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type CacheConfig struct {
	// Dir holds the disk tier; empty disables it.
	Dir                string        `mapstructure:"dir"`
	RecommendationsTTL time.Duration `mapstructure:"recommendations_ttl"`
	CategoriesTTL      time.Duration `mapstructure:"categories_ttl"`
	SweepSchedule      string        `mapstructure:"sweep_schedule"`
}

type PolicyConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// RetryConfig overrides the built-in policy per connection quality. Zero
// fields keep the built-in value.
type RetryConfig struct {
	Growth            float64       `mapstructure:"growth"`
	Jitter            float64       `mapstructure:"jitter"`
	RateLimitMinDelay time.Duration `mapstructure:"rate_limit_min_delay"`
	Excellent         PolicyConfig  `mapstructure:"excellent"`
	Good              PolicyConfig  `mapstructure:"good"`
	Poor              PolicyConfig  `mapstructure:"poor"`
	Offline           PolicyConfig  `mapstructure:"offline"`
}

type ConnectionConfig struct {
	Window              int           `mapstructure:"window"`
	MaxFailureRate      float64       `mapstructure:"max_failure_rate"`
	PoorLatency         time.Duration `mapstructure:"poor_latency"`
	ExcellentLatency    time.Duration `mapstructure:"excellent_latency"`
	ConsecutiveFailures int           `mapstructure:"consecutive_failures"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// EventsConfig enables forwarding of broker events to NATS when NATSURL is
// set.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MaxAge is the retention window; zero keeps messages forever.
func (s StorageConfig) MaxAge() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	var port int
	switch u.Scheme {
	case "postgres", "postgresql":
		port = 5432
	case "mysql":
		port = 3306
	default:
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 600)
	v.SetDefault("openai.temperature", 0.9)

	v.SetDefault("storage.driver", "bolt")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.database.host", "localhost")
	v.SetDefault("storage.database.user", "postgres")
	v.SetDefault("storage.database.dbname", "sparkgen")
	v.SetDefault("storage.database.sslmode", "disable")
	v.SetDefault("storage.retention_days", 365)
	v.SetDefault("storage.max_messages", 5000)

	v.SetDefault("cache.recommendations_ttl", 6*time.Hour)
	v.SetDefault("cache.categories_ttl", 24*time.Hour)
	v.SetDefault("cache.sweep_schedule", "@every 1h")

	v.SetDefault("connection.window", 10)
	v.SetDefault("connection.max_failure_rate", 0.3)
	v.SetDefault("connection.poor_latency", 3*time.Second)
	v.SetDefault("connection.excellent_latency", 800*time.Millisecond)
	v.SetDefault("connection.consecutive_failures", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("events.subject_prefix", "sparkgen")
}

// LoadConfig reads path (YAML) on top of the defaults. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// SPARKGEN_STORAGE_DRIVER overrides storage.driver and so on
	v.SetEnvPrefix("sparkgen")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("storage.data_dir", "SPARKGEN_DATA_DIR")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("events.nats_url", "NATS_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("database_url"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Storage.Database = dbConfig
	}
	if config.Storage.Database.Port == 0 {
		config.Storage.Database.Port = 5432
		if config.Storage.Driver == "mysql" {
			config.Storage.Database.Port = 3306
		}
	}
	if config.Cache.Dir == "" && config.Storage.Driver != "memory" {
		config.Cache.Dir = config.Storage.DataDir
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

var errInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "bolt", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("%w: unknown storage driver %q", errInvalid, c.Storage.Driver)
	}
	if (c.Storage.Driver == "bolt" || c.Storage.Driver == "sqlite") && c.Storage.DataDir == "" {
		return fmt.Errorf("%w: storage.data_dir is required for %s", errInvalid, c.Storage.Driver)
	}
	if c.Connection.MaxFailureRate < 0 || c.Connection.MaxFailureRate > 1 {
		return fmt.Errorf("%w: connection.max_failure_rate must be within [0, 1]", errInvalid)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("%w: retry.jitter must be within [0, 1]", errInvalid)
	}
	return nil
}
