// cmd/delay-scheduler/main.go
package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/bootstrap"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/mq"
)

const serviceName = "delay-scheduler"

// 轮询周期
const pollInterval = time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := bootstrap.LoadConfig(getEnv("CONFIG_PATH", "configs/delay-scheduler.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		Setup: func(ctx context.Context, app bootstrap.AppCtx) error {
			kafkaCfg := app.Config.Infra.Kafka
			ctx, cancel := context.WithCancel(ctx)
			var wg sync.WaitGroup

			// 为每个延迟级别启动一个独立的轮询器
			for _, level := range mq.DefaultDelayLevels(kafkaCfg.TopicPrefix) {
				poller := mq.NewDelayPoller(kafkaCfg.Brokers, level, serviceName)
				wg.Add(1)
				go func() {
					defer wg.Done()
					poller.Run(ctx, pollInterval)
				}()
			}
			logger.Ctx(ctx).Info().Msg("All polling schedulers are running.")

			app.OnShutdown("delay-pollers", func(context.Context) error {
				cancel()
				wg.Wait()
				return nil
			})
			return nil
		},
	})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("service exited with error")
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
