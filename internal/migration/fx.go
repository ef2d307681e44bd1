package migration

import (
	"strings"

	"github.com/smallbiznis/uplink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date for the configured dialect.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		log.Info("schema migration disabled")
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "", "postgres", "postgresql":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		version, dirty, err := Version(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		if err := AutoMigrate(conn); err != nil {
			return err
		}
		log.Info("schema auto migrated", zap.String("dialect", cfg.DBType))
		return nil
	}
}
