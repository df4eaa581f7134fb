// cmd/checkout-worker/main.go
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/bootstrap"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/database"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/httpclient"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/mq"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/redis"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application/saga"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/adapter"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/memory"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/rule"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/interfaces"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/zookeeper"
)

const serviceName = "checkout-worker"

// stores 汇总一种存储实现下的事务和各仓储
type stores struct {
	tx           domain.Transactor
	inventories  domain.InventoryRepository
	reservations domain.ReservationRepository
	orders       domain.OrderRepository
	payments     domain.PaymentRepository
}

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := bootstrap.LoadConfig(getEnv("CONFIG_PATH", "configs/checkout-worker.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		Setup:       setup,
	})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("service exited with error")
	}
}

func setup(ctx context.Context, app bootstrap.AppCtx) error {
	cfg := app.Config

	// 1. 存储
	st, err := openStores(ctx, cfg, app)
	if err != nil {
		return err
	}

	// 2. 任务队列：内存或 Kafka，两者共享同一个 Processor
	proc := jobqueue.NewProcessor()
	if cfg.Infra.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password)
		if err != nil {
			return err
		}
		app.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })
		guard, err := adapter.NewRedisJobGuard(redisClient)
		if err != nil {
			return err
		}
		proc.SetGuard(guard)
	}
	defaults := []jobqueue.Option{jobqueue.WithAttempts(cfg.Queue.MaxAttempts), jobqueue.WithBackoff(cfg.Queue.Backoff)}

	var queue jobqueue.Queue
	var kafkaQueue *adapter.KafkaJobQueue
	switch cfg.Queue.Driver {
	case "kafka":
		kafkaQueue = adapter.NewKafkaJobQueue(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.TopicPrefix, proc, defaults...)
		app.OnShutdown("kafka-job-queue", func(context.Context) error { return kafkaQueue.Close() })
		queue = kafkaQueue
	default:
		memQueue := jobqueue.NewMemoryQueue(proc, defaults...)
		go func() {
			if err := memQueue.Start(ctx, cfg.Queue.Workers); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("memory queue stopped")
			}
		}()
		app.OnShutdown("memory-queue", func(context.Context) error { memQueue.Close(); return nil })
		queue = memQueue
	}

	// 3. 外部协作方
	httpClient := httpclient.NewClient(otel.Tracer(serviceName))
	carts := adapter.NewCartHTTPAdapter(httpClient, cfg.Checkout.CartServiceURL)
	gateways := port.NewGatewayRegistry()
	gateways.Register(domain.PaymentMethodCOD, adapter.NewCODGatewayAdapter())
	for method, url := range cfg.Checkout.Gateways {
		gateways.Register(domain.PaymentMethod(method), adapter.NewHTTPGatewayAdapter(httpClient, url))
	}

	// 4. 应用服务与 Saga
	reservations := application.NewReservationStore(st.tx, st.inventories, st.reservations)
	orchestrator := saga.NewOrchestrator(queue, reservations)
	orders := application.NewOrderService(st.tx, st.orders, st.payments, gateways, orchestrator)
	payments := application.NewPaymentService(st.tx, st.orders, st.payments, reservations, gateways, orchestrator)
	checkout := application.NewCheckoutService(application.CheckoutDeps{
		Tx:             st.tx,
		Orders:         st.orders,
		Payments:       st.payments,
		Reservations:   reservations,
		Carts:          carts,
		Customers:      carts,
		Gateways:       gateways,
		Scheduler:      orchestrator,
		ReservationTTL: cfg.Checkout.ReservationTTL,
	})

	coordinator := saga.NewCompensationCoordinator(queue, payments, orders, reservations)
	saga.NewHandlers(payments, reservations, carts, coordinator).Register(proc)
	coordinator.Start()
	app.OnShutdown("compensation-coordinator", func(context.Context) error { coordinator.Stop(); return nil })

	// 5. 过期清扫
	var sweeperOpts []saga.SweeperOption
	if cfg.Checkout.SweepFilter != "" {
		filter, err := rule.NewCELOrderFilter(cfg.Checkout.SweepFilter)
		if err != nil {
			return err
		}
		sweeperOpts = append(sweeperOpts, saga.WithOrderFilter(filter))
	}
	sweeper := saga.NewExpirationSweeper(st.orders, orders, reservations, sweeperOpts...)
	runner := interfaces.NewSweepRunner(sweeper, newLocker(ctx, cfg, app), cfg.Checkout.SweepInterval, func() time.Duration {
		return bootstrap.GetCurrentConfig().Checkout.PendingPaymentTTL
	})
	if err := runner.Start(ctx); err != nil {
		return err
	}
	app.OnShutdown("sweeper", func(ctx context.Context) error { runner.Stop(ctx); return nil })

	// 6. Kafka 消费者
	if kafkaQueue != nil {
		startConsumers(ctx, cfg, app, proc, kafkaQueue)
	}

	// 7. HTTP 路由
	interfaces.NewCheckoutHandler(checkout, orchestrator).RegisterRoutes(app.Mux)
	interfaces.NewInventoryHandler(application.NewInventoryService(st.tx, st.inventories)).RegisterRoutes(app.Mux)
	return nil
}

func openStores(ctx context.Context, cfg *bootstrap.Config, app bootstrap.AppCtx) (*stores, error) {
	if cfg.Infra.Database.Driver == "memory" {
		s := memory.NewStore()
		logger.Ctx(ctx).Warn().Msg("using in-memory store, data will not survive a restart")
		return &stores{tx: s, inventories: s.Inventories(), reservations: s.Reservations(), orders: s.Orders(), payments: s.Payments()}, nil
	}
	db, err := database.Open(ctx, cfg.Infra.Database)
	if err != nil {
		return nil, err
	}
	app.OnShutdown("database", func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return &stores{
		tx:           infrastructure.NewGormTransactor(db),
		inventories:  infrastructure.NewGormInventoryRepository(db),
		reservations: infrastructure.NewGormReservationRepository(db),
		orders:       infrastructure.NewGormOrderRepository(db),
		payments:     infrastructure.NewGormPaymentRepository(db),
	}, nil
}

// newLocker 优先使用 ZooKeeper 分布式锁，连接失败时退化为进程内锁
func newLocker(ctx context.Context, cfg *bootstrap.Config, app bootstrap.AppCtx) interfaces.Locker {
	if len(cfg.Infra.Zookeeper.Servers) == 0 {
		return &interfaces.LocalLocker{}
	}
	conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("zookeeper unavailable, sweeper falls back to a local lock")
		return &interfaces.LocalLocker{}
	}
	app.OnShutdown("zookeeper", func(context.Context) error { conn.Close(); return nil })
	return zookeeper.NewLocker(conn)
}

func startConsumers(ctx context.Context, cfg *bootstrap.Config, app bootstrap.AppCtx, proc *jobqueue.Processor, q *adapter.KafkaJobQueue) {
	brokers := cfg.Infra.Kafka.Brokers
	workers := cfg.Queue.Workers
	if workers <= 0 {
		workers = 1
	}
	for _, name := range []string{saga.QueueCheckout, saga.QueueCompensation} {
		topic := q.Topic(name)
		for i := 0; i < workers; i++ {
			consumer := interfaces.NewJobConsumerAdapter(mq.NewKafkaReader(brokers, topic, cfg.Infra.Kafka.GroupID+"-"+name), proc, q)
			_ = consumer.Start(ctx)
			app.OnShutdown("consumer-"+topic, func(ctx context.Context) error { consumer.Stop(ctx); return nil })
		}
	}

	dlt := interfaces.NewDltConsumerAdapter(mq.NewKafkaReader(brokers, q.DLTTopic(), cfg.Infra.Kafka.GroupID+"-dlt"))
	_ = dlt.Start(ctx)
	app.OnShutdown("dlt-consumer", func(ctx context.Context) error { dlt.Stop(ctx); return nil })
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
