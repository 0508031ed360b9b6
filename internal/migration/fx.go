package migration

import (
	"strings"

	"github.com/payflow-io/payflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if strings.ToLower(strings.TrimSpace(cfg.DBType)) != "postgres" {
			log.Warn("skipping embedded migrations for non-postgres database",
				zap.String("database_type", cfg.DBType),
			)
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
