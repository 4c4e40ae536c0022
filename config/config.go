// Package config loads the worker configuration from the environment.
// A local .env file is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all configuration for the application.
type Config struct {
	App AppConfig

	Database DatabaseConfig

	Redis RedisConfig

	Push PushConfig

	Progression ProgressionConfig

	Scheduler SchedulerConfig

	Features *FeatureFlags

	Observability ObservabilityConfig
}

// AppConfig contains general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Version     string

	// Timezone defines the calendar day used for goals and streaks.
	Timezone string
	Location *time.Location

	ShutdownTimeout time.Duration
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL string

	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool
}

// RedisConfig contains Redis settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// EventsChannel is the pub/sub channel progression events are mirrored to.
	EventsChannel string
	CatalogTTL    time.Duration

	// JobLockTTL must outlive the longest scheduled job, the lock is not renewed.
	JobLockTTL time.Duration

	Disabled bool
}

// PushConfig contains push gateway settings.
type PushConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	Disabled bool
}

// ProgressionConfig contains the game rules that are allowed to vary.
type ProgressionConfig struct {
	DailyGoalTarget int
	DailyGoalReward int

	BatchSize  int
	BatchDelay time.Duration

	EventWorkers   int
	HandlerTimeout time.Duration
}

// SchedulerConfig contains background job settings.
type SchedulerConfig struct {
	Enabled bool

	// ReconcileStreaksCron runs the nightly streak batch (app timezone).
	ReconcileStreaksCron    string
	ReconcileStreaksTimeout time.Duration

	EvaluateAchievementsEvery   time.Duration
	EvaluateAchievementsTimeout time.Duration
}

// ObservabilityConfig contains logging settings.
type ObservabilityConfig struct {
	LogLevel string // debug, info, warn, error
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	cfg := &Config{}

	var err error
	cfg.App, err = loadAppConfig()
	if err != nil {
		return nil, fmt.Errorf("app config: %w", err)
	}

	cfg.Database = loadDatabaseConfig()
	cfg.Redis = loadRedisConfig()
	cfg.Push = loadPushConfig()
	cfg.Progression = loadProgressionConfig()
	cfg.Scheduler = loadSchedulerConfig()
	cfg.Features = LoadFeatureFlags()
	cfg.Observability = loadObservabilityConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() (AppConfig, error) {
	timezone := getEnv("APP_TIMEZONE", "UTC")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("APP_TIMEZONE %q: %w", timezone, err)
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "progression-worker"),
		Environment:     Environment(getEnv("APP_ENV", string(EnvDevelopment))),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		Location:        loc,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}, nil
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		user := getEnv("DB_USER", "")
		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user,
				getEnv("DB_PASSWORD", ""),
				host,
				getEnv("DB_PORT", "5432"),
				getEnv("DB_NAME", "progression"),
				getEnv("DB_SSLMODE", "require"))
		}
	}

	return DatabaseConfig{
		URL:             url,
		MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 10)),
		MinConns:        int32(getEnvInt("DB_MIN_CONNS", 2)),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:          getEnv("REDIS_HOST", "localhost"),
		Port:          getEnvInt("REDIS_PORT", 6379),
		Password:      getEnv("REDIS_PASSWORD", ""),
		DB:            getEnvInt("REDIS_DB", 0),
		PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "progression:events"),
		CatalogTTL:    getEnvDuration("REDIS_CATALOG_TTL", 10*time.Minute),
		JobLockTTL:    getEnvDuration("REDIS_JOB_LOCK_TTL", 2*time.Hour+15*time.Minute),
		Disabled:      getEnvBool("REDIS_DISABLED", false),
	}
}

func loadPushConfig() PushConfig {
	return PushConfig{
		BaseURL:  getEnv("PUSH_BASE_URL", ""),
		APIKey:   getEnv("PUSH_API_KEY", ""),
		Timeout:  getEnvDuration("PUSH_TIMEOUT", 10*time.Second),
		Disabled: getEnvBool("PUSH_DISABLED", false),
	}
}

func loadProgressionConfig() ProgressionConfig {
	return ProgressionConfig{
		DailyGoalTarget: getEnvInt("DAILY_GOAL_TARGET", 20),
		DailyGoalReward: getEnvInt("DAILY_GOAL_REWARD", 50),
		BatchSize:       getEnvInt("BATCH_SIZE", 100),
		BatchDelay:      getEnvDuration("BATCH_DELAY", time.Second),
		EventWorkers:    getEnvInt("EVENT_WORKERS", 10),
		HandlerTimeout:  getEnvDuration("EVENT_HANDLER_TIMEOUT", 10*time.Second),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:                     getEnvBool("SCHEDULER_ENABLED", true),
		ReconcileStreaksCron:        getEnv("SCHEDULER_STREAKS_CRON", "5 0 * * *"),
		ReconcileStreaksTimeout:     getEnvDuration("SCHEDULER_STREAKS_TIMEOUT", 2*time.Hour),
		EvaluateAchievementsEvery:   getEnvDuration("SCHEDULER_ACHIEVEMENTS_EVERY", time.Hour),
		EvaluateAchievementsTimeout: getEnvDuration("SCHEDULER_ACHIEVEMENTS_TIMEOUT", 50*time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL (or DB_HOST and DB_USER) is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, "DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}

	if !c.Push.Disabled && c.Push.BaseURL == "" {
		errs = append(errs, "PUSH_BASE_URL is required unless PUSH_DISABLED=true")
	}

	if c.Progression.DailyGoalTarget <= 0 {
		errs = append(errs, "DAILY_GOAL_TARGET must be positive")
	}
	if c.Progression.DailyGoalReward <= 0 {
		errs = append(errs, "DAILY_GOAL_REWARD must be positive")
	}
	if c.Progression.BatchSize <= 0 {
		errs = append(errs, "BATCH_SIZE must be positive")
	}
	if c.Progression.BatchDelay < 0 {
		errs = append(errs, "BATCH_DELAY must not be negative")
	}

	if c.Scheduler.Enabled {
		if strings.TrimSpace(c.Scheduler.ReconcileStreaksCron) == "" {
			errs = append(errs, "SCHEDULER_STREAKS_CRON is required when the scheduler is enabled")
		}
		if c.Scheduler.EvaluateAchievementsEvery <= 0 {
			errs = append(errs, "SCHEDULER_ACHIEVEMENTS_EVERY must be positive")
		}
		if !c.Redis.Disabled {
			longest := max(c.Scheduler.ReconcileStreaksTimeout, c.Scheduler.EvaluateAchievementsTimeout)
			if c.Redis.JobLockTTL < longest {
				errs = append(errs, fmt.Sprintf("REDIS_JOB_LOCK_TTL (%s) must not be shorter than the longest job timeout (%s)",
					c.Redis.JobLockTTL, longest))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
