package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/uplink/internal/plan"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanHolder),
	fx.Provide(func(h *PlanHolder) plan.Provider { return h }),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EventStream   string

	LockTTL        time.Duration
	LockMaxRetries int

	WorkerPoolSize int

	SchedulerEnabled bool
	EnabledJobs      []string
	CronPathRebuild  string
	CronMonthClose   string
	CronMaintenance  string
	CronEventRelay   string
	EventRetention   time.Duration
	PlanConfigPath   string

	RateLimit RateLimitConfig
}

// RateLimitConfig throttles transaction ingestion per payer. It needs redis.
type RateLimitConfig struct {
	Enabled    bool
	PayerRate  float64
	PayerBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "uplink"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "uplink"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		EventStream:       getenv("EVENT_STREAM", "uplink:events"),
		LockTTL:           getenvDuration("LOCK_TTL", 10*time.Second),
		LockMaxRetries:    int(getenvInt64("LOCK_MAX_RETRIES", 5)),
		WorkerPoolSize:    int(getenvInt64("WORKER_POOL_SIZE", 16)),
		SchedulerEnabled:  getenvBool("SCHEDULER_ENABLED", true),
		EnabledJobs:       parseList(getenv("SCHEDULER_JOBS", "")),
		CronPathRebuild:   getenv("CRON_PATH_REBUILD", "0 30 0 * * *"),
		CronMonthClose:    getenv("CRON_MONTH_CLOSE", "0 0 1 1 * *"),
		CronMaintenance:   getenv("CRON_REWARD_MAINTENANCE", "0 0 3 * * *"),
		CronEventRelay:    getenv("CRON_EVENT_RELAY", "0 * * * * *"),
		EventRetention:    getenvDuration("EVENT_RETENTION", 30*24*time.Hour),
		PlanConfigPath:    strings.TrimSpace(getenv("PLAN_CONFIG_PATH", "")),
		RateLimit: RateLimitConfig{
			Enabled:    getenvBool("RATE_LIMIT_ENABLED", false),
			PayerRate:  getenvFloat("RATE_LIMIT_PAYER_RATE", 5),
			PayerBurst: int(getenvInt64("RATE_LIMIT_PAYER_BURST", 20)),
		},
	}

	return cfg
}

// RedisEnabled reports whether a redis address was configured.
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
