package interfaces

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application/saga"
)

const sweepLockResource = "checkout-expiration-sweeper"

// Locker 保证同一时刻只有一个实例执行 fn
type Locker interface {
	WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error
}

// LocalLocker 是单实例部署（未配置 ZooKeeper）时的进程内锁
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

// SweepRunner 周期性地执行过期清扫。threshold 每轮读取一次，以便配置热更新生效。
type SweepRunner struct {
	sweeper   *saga.ExpirationSweeper
	locker    Locker
	interval  time.Duration
	threshold func() time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweepRunner(sweeper *saga.ExpirationSweeper, locker Locker, interval time.Duration, threshold func() time.Duration) *SweepRunner {
	if locker == nil {
		locker = &LocalLocker{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepRunner{
		sweeper:   sweeper,
		locker:    locker,
		interval:  interval,
		threshold: threshold,
	}
}

func (r *SweepRunner) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		logger.Ctx(ctx).Info().Dur("interval", r.interval).Msg("✅ Expiration sweeper started.")
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-ctx.Done():
				logger.Ctx(ctx).Info().Msg("🛑 Expiration sweeper shutting down.")
				return
			}
		}
	}()
	return nil
}

// RunOnce 在锁内执行一轮订单和预留清扫。拿不到锁（另一个实例正在清扫）时跳过本轮。
func (r *SweepRunner) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	err := r.locker.WithLock(ctx, sweepLockResource, func(ctx context.Context) error {
		if _, err := r.sweeper.SweepExpiredReservations(ctx); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("reservation sweep failed")
		}
		if _, err := r.sweeper.SweepExpiredOrders(ctx, r.threshold()); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("order sweep failed")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Ctx(ctx).Debug().Msg("sweep lock held elsewhere, skipping this round")
			return
		}
		logger.Ctx(ctx).Error().Err(err).Msg("sweep round failed")
	}
}

func (r *SweepRunner) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Expiration sweeper stopped.")
}
