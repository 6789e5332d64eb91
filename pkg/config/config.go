package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Payment      PaymentConfig
	Confirmation ConfirmationConfig
	Jobs         JobsConfig
	Events       EventsConfig
	Sweeper      SweeperConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	// ReadHost points enrollment listings at a replica. Empty means primary.
	ReadHost string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
	CacheTTL time.Duration
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PaymentConfig describes the gateway-adjacent payment service.
type PaymentConfig struct {
	BaseURL         string
	KeyID           string
	KeySecret       string
	Timeout         time.Duration
	DefaultCurrency string
	OrderTTL        time.Duration
}

// ConfirmationConfig bounds post-payment visibility polling.
type ConfirmationConfig struct {
	MaxAttempts    int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

// JobsConfig tunes the post-confirmation worker queue.
type JobsConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// EventsConfig configures enrollment event publishing. An empty URL disables the broker.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// SweeperConfig schedules expiry of abandoned pending orders.
type SweeperConfig struct {
	Enabled  bool
	Schedule string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		ReadHost:     v.GetString("DB_READ_HOST"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		Enabled:  v.GetBool("ENABLE_ENROLLMENT_CACHE"),
		CacheTTL: parseDuration(v.GetString("ENROLLMENT_CACHE_TTL"), time.Minute),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Payment = PaymentConfig{
		BaseURL:         v.GetString("PAYMENT_GATEWAY_BASE_URL"),
		KeyID:           v.GetString("PAYMENT_GATEWAY_KEY_ID"),
		KeySecret:       v.GetString("PAYMENT_GATEWAY_KEY_SECRET"),
		Timeout:         parseDuration(v.GetString("PAYMENT_GATEWAY_TIMEOUT"), 10*time.Second),
		DefaultCurrency: strings.ToUpper(v.GetString("PAYMENT_DEFAULT_CURRENCY")),
		OrderTTL:        parseDuration(v.GetString("PAYMENT_ORDER_TTL"), 15*time.Minute),
	}

	maxAttempts := v.GetInt("CONFIRMATION_MAX_ATTEMPTS")
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	cfg.Confirmation = ConfirmationConfig{
		MaxAttempts:    maxAttempts,
		Delay:          parseDuration(v.GetString("CONFIRMATION_DELAY"), time.Second),
		AttemptTimeout: parseDuration(v.GetString("CONFIRMATION_ATTEMPT_TIMEOUT"), 2*time.Second),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		Retries:    v.GetInt("JOBS_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), time.Second),
	}

	cfg.Events = EventsConfig{
		AMQPURL:  v.GetString("AMQP_URL"),
		Exchange: v.GetString("AMQP_EXCHANGE"),
	}

	cfg.Sweeper = SweeperConfig{
		Enabled:  v.GetBool("ENABLE_PENDING_SWEEP"),
		Schedule: v.GetString("PENDING_SWEEP_CRON"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms_enrollment")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_READ_HOST", "")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ENABLE_ENROLLMENT_CACHE", false)
	v.SetDefault("ENROLLMENT_CACHE_TTL", "1m")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PAYMENT_GATEWAY_BASE_URL", "http://localhost:9090")
	v.SetDefault("PAYMENT_GATEWAY_KEY_ID", "")
	v.SetDefault("PAYMENT_GATEWAY_KEY_SECRET", "")
	v.SetDefault("PAYMENT_GATEWAY_TIMEOUT", "10s")
	v.SetDefault("PAYMENT_DEFAULT_CURRENCY", "INR")
	v.SetDefault("PAYMENT_ORDER_TTL", "15m")

	v.SetDefault("CONFIRMATION_MAX_ATTEMPTS", 5)
	v.SetDefault("CONFIRMATION_DELAY", "1s")
	v.SetDefault("CONFIRMATION_ATTEMPT_TIMEOUT", "2s")

	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "1s")

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "enrollment.events")

	v.SetDefault("ENABLE_PENDING_SWEEP", true)
	v.SetDefault("PENDING_SWEEP_CRON", "@every 5m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
