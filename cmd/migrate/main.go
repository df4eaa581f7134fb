// cmd/migrate/main.go
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/bootstrap"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/database"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure"
)

// main 根据配置连接数据库并同步结账相关的表结构
func main() {
	_ = godotenv.Load()

	cfg, err := bootstrap.LoadConfig(getEnv("CONFIG_PATH", "configs/checkout-worker.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.App.LogLevel, cfg.App.LogPretty)
	log := logger.L()

	if cfg.Infra.Database.Driver == "memory" {
		log.Warn().Msg("database driver is memory, nothing to migrate")
		return
	}

	db, err := database.Open(context.Background(), cfg.Infra.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	if err := db.AutoMigrate(infrastructure.Models()...); err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Infra.Database.Driver).Msg("migration failed")
	}
	log.Info().Str("driver", cfg.Infra.Database.Driver).Msg("✅ Schema migrated.")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
