package interfaces

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application/saga"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/memory"
)

type countingLocker struct {
	calls     int
	resources []string
	err       error
}

func (l *countingLocker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	l.calls++
	l.resources = append(l.resources, resource)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func newSweepFixture(t *testing.T) (*memory.Store, *application.ReservationStore, *saga.ExpirationSweeper) {
	t.Helper()
	store := memory.NewStore()
	inv, err := domain.NewInventory("inv-p1", "p1", 5, 0)
	require.NoError(t, err)
	require.NoError(t, store.Inventories().Save(context.Background(), inv))

	reservations := application.NewReservationStore(store, store.Inventories(), store.Reservations())
	orders := application.NewOrderService(store, store.Orders(), store.Payments(), port.NewGatewayRegistry(), nopScheduler{})
	return store, reservations, saga.NewExpirationSweeper(store.Orders(), orders, reservations)
}

func TestSweepRunner_RunOnceExpiresUnderLock(t *testing.T) {
	ctx := context.Background()
	store, reservations, sweeper := newSweepFixture(t)
	res, err := reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 2}}, time.Minute)
	require.NoError(t, err)
	reservations.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })

	locker := &countingLocker{}
	runner := NewSweepRunner(sweeper, locker, time.Second, func() time.Duration { return 30 * time.Minute })
	runner.RunOnce(ctx)

	assert.Equal(t, 1, locker.calls)
	assert.Equal(t, []string{sweepLockResource}, locker.resources)
	got, err := store.Reservations().FindByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, got.Status)
}

func TestSweepRunner_SkipsWhenLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	store, reservations, sweeper := newSweepFixture(t)
	res, err := reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 2}}, time.Minute)
	require.NoError(t, err)
	reservations.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })

	runner := NewSweepRunner(sweeper, &countingLocker{err: context.DeadlineExceeded}, time.Second, func() time.Duration { return time.Minute })
	runner.RunOnce(ctx)

	got, err := store.Reservations().FindByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, got.Status)
}

func TestSweepRunner_StartStop(t *testing.T) {
	_, _, sweeper := newSweepFixture(t)
	runner := NewSweepRunner(sweeper, nil, 0, func() time.Duration { return time.Minute })

	require.NoError(t, runner.Start(context.Background()))
	runner.Stop(context.Background())
}
