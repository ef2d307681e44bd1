package scheduler

import (
	"time"

	"github.com/smallbiznis/uplink/internal/config"
)

// Config controls job schedules, deadlines and batch sizes. Schedules use
// the six-field cron format with a leading seconds field.
type Config struct {
	Enabled     bool
	EnabledJobs []string

	PathRebuildSpec string
	MonthCloseSpec  string
	MaintenanceSpec string
	EventRelaySpec  string

	PathRebuildTimeout time.Duration
	MonthCloseTimeout  time.Duration
	MaintenanceTimeout time.Duration
	RelayTimeout       time.Duration

	RelayBatchSize int
	EventRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		PathRebuildSpec:    "0 30 0 * * *",
		MonthCloseSpec:     "0 0 1 1 * *",
		MaintenanceSpec:    "0 0 3 * * *",
		EventRelaySpec:     "0 * * * * *",
		PathRebuildTimeout: 30 * time.Minute,
		MonthCloseTimeout:  2 * time.Hour,
		MaintenanceTimeout: 30 * time.Minute,
		RelayTimeout:       30 * time.Second,
		RelayBatchSize:     100,
		EventRetention:     30 * 24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:         cfg.SchedulerEnabled,
		EnabledJobs:     cfg.EnabledJobs,
		PathRebuildSpec: cfg.CronPathRebuild,
		MonthCloseSpec:  cfg.CronMonthClose,
		MaintenanceSpec: cfg.CronMaintenance,
		EventRelaySpec:  cfg.CronEventRelay,
		EventRetention:  cfg.EventRetention,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PathRebuildSpec == "" {
		c.PathRebuildSpec = defaults.PathRebuildSpec
	}
	if c.MonthCloseSpec == "" {
		c.MonthCloseSpec = defaults.MonthCloseSpec
	}
	if c.MaintenanceSpec == "" {
		c.MaintenanceSpec = defaults.MaintenanceSpec
	}
	if c.EventRelaySpec == "" {
		c.EventRelaySpec = defaults.EventRelaySpec
	}
	if c.PathRebuildTimeout <= 0 {
		c.PathRebuildTimeout = defaults.PathRebuildTimeout
	}
	if c.MonthCloseTimeout <= 0 {
		c.MonthCloseTimeout = defaults.MonthCloseTimeout
	}
	if c.MaintenanceTimeout <= 0 {
		c.MaintenanceTimeout = defaults.MaintenanceTimeout
	}
	if c.RelayTimeout <= 0 {
		c.RelayTimeout = defaults.RelayTimeout
	}
	if c.RelayBatchSize <= 0 {
		c.RelayBatchSize = defaults.RelayBatchSize
	}
	if c.EventRetention <= 0 {
		c.EventRetention = defaults.EventRetention
	}
	return c
}
