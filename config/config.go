package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/failover-gateway/internal/store"
	"github.com/angeloszaimis/failover-gateway/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type HealthCheckConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	Endpoint           string        `mapstructure:"endpoint"`
	ServiceName        string        `mapstructure:"service_name"`
	PriorityTimeout    time.Duration `mapstructure:"priority_timeout"`
	FullTimeout        time.Duration `mapstructure:"full_timeout"`
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	CleanupDelay       time.Duration `mapstructure:"cleanup_delay"`
	QueueTimeout       time.Duration `mapstructure:"queue_timeout"`
	StatsResetInterval time.Duration `mapstructure:"stats_reset_interval"`
	ScoreThreshold     time.Duration `mapstructure:"score_threshold"`
	ProbeOnRequest     bool          `mapstructure:"probe_on_request"`
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
}

type BackendConfig struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type CircuitBreakerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type NotifierConfig struct {
	BotToken        string          `mapstructure:"bot_token"`
	ChatID          string          `mapstructure:"chat_id"`
	APIBaseURL      string          `mapstructure:"api_base_url"`
	MaxAttempts     int             `mapstructure:"max_attempts"`
	BaseDelay       time.Duration   `mapstructure:"base_delay"`
	AttemptTimeout  time.Duration   `mapstructure:"attempt_timeout"`
	FallbackEnabled bool            `mapstructure:"fallback_enabled"`
	RatePerSecond   float64         `mapstructure:"rate_per_second"`
	Burst           int             `mapstructure:"burst"`
	Types           map[string]bool `mapstructure:"types"`
}

type StoreConfig struct {
	Driver         string `mapstructure:"driver"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
	Capacity       int    `mapstructure:"capacity"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	Strategy       StrategyConfig       `mapstructure:"strategy"`
	Backends       []BackendConfig      `mapstructure:"backends"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Notifier       NotifierConfig       `mapstructure:"notifier"`
	Store          StoreConfig          `mapstructure:"store"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("strategy.type", strategy.WeightedRoundRobin)

	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.endpoint", "/version")
	v.SetDefault("health_check.service_name", "subconverter")
	v.SetDefault("health_check.priority_timeout", "800ms")
	v.SetDefault("health_check.full_timeout", "2s")
	v.SetDefault("health_check.max_concurrent", 5)
	v.SetDefault("health_check.cleanup_delay", "100ms")
	v.SetDefault("health_check.queue_timeout", "30s")
	v.SetDefault("health_check.stats_reset_interval", "5m")
	v.SetDefault("health_check.score_threshold", "2s")
	v.SetDefault("health_check.probe_on_request", true)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.threshold", 5)
	v.SetDefault("circuit_breaker.timeout", "30s")

	v.SetDefault("notifier.bot_token", "")
	v.SetDefault("notifier.chat_id", "")
	v.SetDefault("notifier.api_base_url", "https://api.telegram.org")
	v.SetDefault("notifier.max_attempts", 3)
	v.SetDefault("notifier.base_delay", "1s")
	v.SetDefault("notifier.attempt_timeout", "10s")
	v.SetDefault("notifier.fallback_enabled", true)
	v.SetDefault("notifier.rate_per_second", 1.0)
	v.SetDefault("notifier.burst", 5)
	v.SetDefault("notifier.types.request", true)
	v.SetDefault("notifier.types.health_change", true)
	v.SetDefault("notifier.types.error", true)

	v.SetDefault("store.driver", store.DriverMemory)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_key_prefix", store.DefaultKeyPrefix)
	v.SetDefault("store.capacity", store.DefaultCapacity)

	v.SetDefault("metrics.buffer_size", 1000)
}

// Load reads config.yaml from ./config or the working directory, applies
// environment overrides (NOTIFIER_BOT_TOKEN for notifier.bot_token) and
// validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ReadTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&sc.WriteTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&sc.IdleTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&sc.ShutdownTimeout, validation.Required, validation.Min(time.Millisecond)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.Min(100*time.Millisecond)),
					validation.Field(&hc.Endpoint,
						validation.Required,
						validation.By(validateEndpoint),
					),
					validation.Field(&hc.ServiceName, validation.Required),
					validation.Field(&hc.PriorityTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&hc.FullTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&hc.MaxConcurrent, validation.Required, validation.Min(1)),
					validation.Field(&hc.CleanupDelay, validation.Min(time.Duration(0))),
					validation.Field(&hc.QueueTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&hc.StatsResetInterval, validation.Required, validation.Min(time.Second)),
					validation.Field(&hc.ScoreThreshold, validation.Required, validation.Min(time.Millisecond)),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Type,
						validation.Required,
						validation.In(toInterfaces(strategy.Names)...),
					),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				if !cc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.Threshold, validation.Required, validation.Min(1)),
					validation.Field(&cc.Timeout, validation.Required, validation.Min(time.Millisecond)),
				)
			}),
		),
		validation.Field(&c.Notifier,
			validation.By(func(value interface{}) error {
				nc, ok := value.(NotifierConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a NotifierConfig")
				}
				// Credentials stay optional; sends are skipped until both are set.
				return validation.ValidateStruct(&nc,
					validation.Field(&nc.APIBaseURL,
						validation.Required,
						validation.By(validateServerURL),
					),
					validation.Field(&nc.MaxAttempts, validation.Required, validation.Min(1), validation.Max(10)),
					validation.Field(&nc.BaseDelay, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&nc.AttemptTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&nc.RatePerSecond, validation.Min(0.0)),
					validation.Field(&nc.Burst, validation.Min(0)),
					validation.Field(&nc.Types,
						validation.By(validateNotificationTypes),
					),
				)
			}),
		),
		validation.Field(&c.Store,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StoreConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StoreConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Driver,
						validation.Required,
						validation.In(store.DriverMemory, store.DriverPostgres, store.DriverRedis),
					),
					validation.Field(&sc.PostgresDSN,
						validation.When(sc.Driver == store.DriverPostgres, validation.Required),
					),
					validation.Field(&sc.RedisAddr,
						validation.When(sc.Driver == store.DriverRedis, validation.Required, validation.By(validateHostPort)),
					),
					validation.Field(&sc.RedisDB, validation.Min(0)),
					validation.Field(&sc.Capacity, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateEndpoint(value interface{}) error {
	endpoint, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(endpoint, "/") {
		return validation.NewError("validation_invalid_endpoint", "must start with /")
	}

	return nil
}

func validateNotificationTypes(value interface{}) error {
	types, ok := value.(map[string]bool)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a map of booleans")
	}

	for name := range types {
		switch name {
		case "request", "health_change", "error":
		default:
			return validation.NewError("validation_unknown_notification_type", fmt.Sprintf("unknown notification type %q", name))
		}
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if err := validateServerURL(backend.URL); err != nil {
		return err
	}

	if backend.Weight < 1 {
		return validation.NewError("validation_invalid_weight", "weight must be at least 1")
	}

	return nil
}
