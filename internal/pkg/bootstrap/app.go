// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/nacos"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config *Config
	// OnShutdown 注册关停钩子，按注册的逆序执行
	OnShutdown func(name string, fn func(ctx context.Context) error)
}

// AppInfo 包含了启动一个服务所需的特定信息。
type AppInfo struct {
	ServiceName string
	Config      *Config
	// Setup 在 HTTP 服务启动前执行，用于组装依赖、注册路由、启动后台消费者
	Setup func(ctx context.Context, appCtx AppCtx) error
}

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// StartService 封装了所有服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) error {
	cfg := info.Config
	if cfg == nil {
		cfg = GetCurrentConfig()
	}
	logger.Init(cfg.App.LogLevel, cfg.App.LogPretty)
	log := logger.L()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hooks []shutdownHook
	onShutdown := func(name string, fn func(ctx context.Context) error) {
		hooks = append(hooks, shutdownHook{name: name, fn: fn})
	}

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}
	onShutdown("tracer", tp.Shutdown)

	// 2. Nacos：远程配置覆盖 + 服务注册
	var nacosClient *nacos.Client
	if cfg.Infra.Nacos.Enabled {
		nacosClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return err
		}
		onShutdown("nacos", func(context.Context) error { nacosClient.Close(); return nil })

		if err := watchRemoteConfig(nacosClient, cfg); err != nil {
			log.Warn().Err(err).Msg("remote config unavailable, using local config")
		}

		ip, err := GetOutboundIP()
		if err != nil {
			return err
		}
		if err := nacosClient.RegisterServiceInstance(info.ServiceName, ip, cfg.App.Port); err != nil {
			return err
		}
		onShutdown("nacos-deregister", func(context.Context) error {
			return nacosClient.DeregisterServiceInstance(info.ServiceName, ip, cfg.App.Port)
		})
	}

	// 3. 业务组装
	mux := http.NewServeMux()
	if info.Setup != nil {
		if err := info.Setup(rootCtx, AppCtx{Mux: mux, Nacos: nacosClient, Config: GetCurrentConfig(), OnShutdown: onShutdown}); err != nil {
			return err
		}
	}

	// 4. HTTP Server（健康检查 / 指标）
	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.App.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("service", info.ServiceName).Int("port", cfg.App.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", server.Addr).Msg("http server failed")
			cancel()
		}
	}()
	onShutdown("http", server.Shutdown)

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-rootCtx.Done():
	}
	log.Info().Str("service", info.ServiceName).Msg("Shutting down service...")
	cancel()

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(ctx); err != nil {
			log.Error().Err(err).Str("hook", hooks[i].name).Msg("shutdown hook failed")
		}
	}
	log.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return nil
}

func watchRemoteConfig(client *nacos.Client, local *Config) error {
	dataID := local.Infra.Nacos.DataID
	content, err := client.GetConfig(dataID)
	if err != nil {
		return err
	}
	if content != "" {
		merged, err := MergeYAML(local, content)
		if err != nil {
			return err
		}
		setCurrentConfig(merged)
	}
	return client.ListenConfig(dataID, func(data string) {
		merged, err := MergeYAML(local, data)
		if err != nil {
			logger.L().Error().Err(err).Str("data_id", dataID).Msg("ignoring invalid remote config")
			return
		}
		setCurrentConfig(merged)
		logger.L().Info().Str("data_id", dataID).Msg("remote config reloaded")
	})
}

// GetOutboundIP 返回本机对外通信使用的 IP，用于服务注册。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
