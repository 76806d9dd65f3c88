package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevJWTSecret is the token secret used when none is configured. It is only
// accepted with APP_ENV=development.
const DevJWTSecret = "dev-secret"

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Alerts   AlertsConfig
	SLA      SLAConfig
	Realtime RealtimeConfig
	Worker   WorkerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN              string
	ApplicationName  string
	MaxConns         int32
	MinConns         int32
	RunMigrations    bool
	MigrationsDir    string
	ConnMaxIdleSec   int32
	ConnMaxLifeSec   int32
	StatementTimeout time.Duration
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// CacheConfig controls the read-through cache.
type CacheConfig struct {
	// Backend is "redis" or "memory".
	Backend           string
	OpTimeout         time.Duration
	ScanCount         int64
	CompressThreshold int
	AlertsTTL         time.Duration
	TicketListTTL     time.Duration
	TicketDetailTTL   time.Duration
	CommentsTTL       time.Duration
	AuditTTL          time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// AlertsConfig configures the monitoring alert endpoints.
type AlertsConfig struct {
	APIKey          string
	DefaultPageSize int
	MaxPageSize     int
}

// SLAConfig points at the SLA reference data.
type SLAConfig struct {
	RulesFile         string
	CriticalThreshold time.Duration
}

// RealtimeConfig configures the websocket listener.
type RealtimeConfig struct {
	Host            string
	Port            string
	CountdownEvery  time.Duration
	SendBuffer      int
	AllowedOrigins  []string
	MaxMessageBytes int64
	PongWait        time.Duration
	WriteWait       time.Duration
}

// WorkerConfig schedules background sweeps.
type WorkerConfig struct {
	SLASweepSchedule   string
	RetentionSchedule  string
	AuditRetentionDays int
}

// Load reads configuration from environment variables, applying defaults where possible.
// An optional dotenv file is read first; a missing file is not an error.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	// Malformed values are collected and reported together.
	var parseErrs []error
	dur := func(key string, fallback time.Duration) time.Duration {
		d, err := getEnvAsDuration(key, fallback)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return d
	}
	num := func(key string, fallback int) int {
		n, err := getEnvAsInt(key, fallback)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return n
	}
	flag := func(key string, fallback bool) bool {
		b, err := getEnvAsBool(key, fallback)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return b
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-sync"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: num("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:              os.Getenv("POSTGRES_DSN"),
			ApplicationName:  getEnv("APP_NAME", "ticket-sync"),
			MaxConns:         int32(num("POSTGRES_MAX_CONNS", 10)),
			MinConns:         int32(num("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:    flag("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:    getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec:   int32(num("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec:   int32(num("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
			StatementTimeout: dur("POSTGRES_STATEMENT_TIMEOUT", 15*time.Second),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          num("REDIS_DB", 0),
			PoolSize:    num("REDIS_POOL_SIZE", 20),
			DialTimeout: dur("REDIS_DIAL_TIMEOUT", 2*time.Second),
		},
		Cache: CacheConfig{
			Backend:           strings.ToLower(getEnv("CACHE_BACKEND", "redis")),
			OpTimeout:         dur("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			ScanCount:         int64(num("CACHE_SCAN_COUNT", 200)),
			CompressThreshold: num("CACHE_COMPRESS_THRESHOLD", 4096),
			AlertsTTL:         dur("CACHE_TTL_ALERTS", 30*time.Second),
			TicketListTTL:     dur("CACHE_TTL_TICKET_LIST", time.Minute),
			TicketDetailTTL:   dur("CACHE_TTL_TICKET_DETAIL", 5*time.Minute),
			CommentsTTL:       dur("CACHE_TTL_COMMENTS", 2*time.Minute),
			AuditTTL:          dur("CACHE_TTL_AUDIT", 10*time.Minute),
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  num("LOG_MAX_SIZE_MB", 100),
			MaxBackups: num("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: num("LOG_MAX_AGE_DAYS", 14),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", DevJWTSecret),
			TokenTTLMinutes: num("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Alerts: AlertsConfig{
			APIKey:          os.Getenv("ALERTS_API_KEY"),
			DefaultPageSize: num("ALERTS_DEFAULT_PAGE_SIZE", 20),
			MaxPageSize:     num("ALERTS_MAX_PAGE_SIZE", 100),
		},
		SLA: SLAConfig{
			RulesFile:         os.Getenv("SLA_RULES_FILE"),
			CriticalThreshold: dur("SLA_CRITICAL_THRESHOLD", 5*time.Minute),
		},
		Realtime: RealtimeConfig{
			Host:            getEnv("REALTIME_HOST", "0.0.0.0"),
			Port:            getEnv("REALTIME_PORT", "8081"),
			CountdownEvery:  dur("REALTIME_COUNTDOWN_INTERVAL", 30*time.Second),
			SendBuffer:      num("REALTIME_SEND_BUFFER", 64),
			AllowedOrigins:  getEnvAsList("REALTIME_ALLOWED_ORIGINS"),
			MaxMessageBytes: int64(num("REALTIME_MAX_MESSAGE_BYTES", 16384)),
			PongWait:        dur("REALTIME_PONG_WAIT", 60*time.Second),
			WriteWait:       dur("REALTIME_WRITE_WAIT", 10*time.Second),
		},
		Worker: WorkerConfig{
			SLASweepSchedule:   getEnv("WORKER_SLA_SWEEP_SCHEDULE", "@every 1m"),
			RetentionSchedule:  getEnv("WORKER_RETENTION_SCHEDULE", "@daily"),
			AuditRetentionDays: num("AUDIT_RETENTION_DAYS", 365),
		},
	}

	if err := errors.Join(parseErrs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that must stop the process at startup.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	if strings.TrimSpace(c.Alerts.APIKey) == "" {
		errs = append(errs, errors.New("ALERTS_API_KEY is required"))
	}
	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be redis or memory, got %q", c.Cache.Backend))
	}
	if c.Alerts.MaxPageSize <= 0 {
		errs = append(errs, errors.New("ALERTS_MAX_PAGE_SIZE must be positive"))
	}
	// A zero TTL would store entries without expiry.
	for name, ttl := range map[string]time.Duration{
		"CACHE_TTL_ALERTS":        c.Cache.AlertsTTL,
		"CACHE_TTL_TICKET_LIST":   c.Cache.TicketListTTL,
		"CACHE_TTL_TICKET_DETAIL": c.Cache.TicketDetailTTL,
		"CACHE_TTL_COMMENTS":      c.Cache.CommentsTTL,
		"CACHE_TTL_AUDIT":         c.Cache.AuditTTL,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, ttl))
		}
	}
	if c.App.Env != "development" && c.Auth.JWTSecret == DevJWTSecret {
		errs = append(errs, fmt.Errorf("AUTH_JWT_SECRET must be set when APP_ENV is %q", c.App.Env))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the websocket bind address.
func (r RealtimeConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
