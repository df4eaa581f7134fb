package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

func TestReservationStore_CreateReservesEveryLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10, "p2": 5})

	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", Quantity: 5},
	}, time.Minute)

	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, res.Status)
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 7, avail)
	assert.Equal(t, 3, reserved)
	avail, reserved = f.stock(t, "p2")
	assert.Equal(t, 0, avail)
	assert.Equal(t, 5, reserved)
}

// 第二行库存不足时第一行的占用必须回滚
func TestReservationStore_CreateRollsBackOnShortage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10, "p2": 1})

	_, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", Quantity: 2},
	}, time.Minute)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, "Insufficient stock. Available: 1, Requested: 2", err.Error())
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)

	list, err := f.reservations.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReservationStore_CreateUnknownProduct(t *testing.T) {
	f := newFixture(t, map[string]int{"p1": 10})

	_, err := f.reservations.Create(context.Background(), "order-1", []domain.ReservationItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	}, time.Minute)

	assert.ErrorIs(t, err, domain.ErrInventoryNotFound)
	avail, _ := f.stock(t, "p1")
	assert.Equal(t, 10, avail)
}

func TestReservationStore_ConfirmConsumesReserved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 4}}, time.Minute)
	require.NoError(t, err)

	confirmed, err := f.reservations.Confirm(ctx, res.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, confirmed.Status)
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 6, avail)
	assert.Equal(t, 0, reserved)
}

func TestReservationStore_ConfirmExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	now := time.Now().UTC()
	f.reservations.SetClock(func() time.Time { return now })
	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 4}}, time.Minute)
	require.NoError(t, err)

	f.reservations.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, err = f.reservations.Confirm(ctx, res.ID)

	assert.ErrorIs(t, err, domain.ErrReservationExpired)
	_, reserved := f.stock(t, "p1")
	assert.Equal(t, 4, reserved)
}

func TestReservationStore_ReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 4}}, time.Minute)
	require.NoError(t, err)

	_, err = f.reservations.Release(ctx, res.ID)
	require.NoError(t, err)
	released, err := f.reservations.Release(ctx, res.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationReleased, released.Status)
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}

func TestReservationStore_ReleaseConfirmedRestocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 4}}, time.Minute)
	require.NoError(t, err)
	_, err = f.reservations.Confirm(ctx, res.ID)
	require.NoError(t, err)

	_, err = f.reservations.Release(ctx, res.ID)

	require.NoError(t, err)
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
	// 补偿退回不算补货
	inv, err := f.store.Inventories().FindByProductID(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, inv.LastRestockDate)
}

// 取消触发的释放和补偿释放会并发到达：只能生效一次，其他订单的预留不受影响
func TestReservationStore_ConcurrentDuplicateReleaseAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 4}}, time.Minute)
	require.NoError(t, err)
	other, err := f.reservations.Create(ctx, "order-2", []domain.ReservationItem{{ProductID: "p1", Quantity: 3}}, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.reservations.Release(ctx, res.ID); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failed.Load())
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 7, avail)
	assert.Equal(t, 3, reserved)
	got, err := f.reservations.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, got.Status)
}

type lockTrackingReservations struct {
	domain.ReservationRepository
	plain, locked atomic.Int32
}

func (r *lockTrackingReservations) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.plain.Add(1)
	return r.ReservationRepository.FindByID(ctx, id)
}

func (r *lockTrackingReservations) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	r.locked.Add(1)
	return r.ReservationRepository.FindByIDForUpdate(ctx, id)
}

// 状态判断前必须锁住预留单，否则两个事务都会看到 PENDING
func TestReservationStore_TransitionsLockReservationRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	repo := &lockTrackingReservations{ReservationRepository: f.store.Reservations()}
	store := NewReservationStore(f.store, f.store.Inventories(), repo)
	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })

	confirmed, err := store.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 1}}, time.Minute)
	require.NoError(t, err)
	_, err = store.Confirm(ctx, confirmed.ID)
	require.NoError(t, err)
	_, err = store.Release(ctx, confirmed.ID)
	require.NoError(t, err)

	expiring, err := store.Create(ctx, "order-2", []domain.ReservationItem{{ProductID: "p1", Quantity: 1}}, time.Minute)
	require.NoError(t, err)
	store.SetClock(func() time.Time { return now.Add(time.Hour) })
	_, err = store.Expire(ctx, expiring.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(3), repo.locked.Load())
	assert.Zero(t, repo.plain.Load())
}

func TestReservationStore_ExpireReturnsStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	now := time.Now().UTC()
	f.reservations.SetClock(func() time.Time { return now })
	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 4}}, time.Minute)
	require.NoError(t, err)

	f.reservations.SetClock(func() time.Time { return now.Add(5 * time.Minute) })
	expired, err := f.reservations.FindPendingExpired(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	_, err = f.reservations.Expire(ctx, expired[0].ID)
	require.NoError(t, err)

	got, err := f.reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, got.Status)
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)

	_, err = f.reservations.Expire(ctx, res.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidReservationState)
}

func TestReservationStore_FindActiveByOrderID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})
	res, err := f.reservations.Create(ctx, "order-1", []domain.ReservationItem{{ProductID: "p1", Quantity: 1}}, time.Minute)
	require.NoError(t, err)

	active, err := f.reservations.FindActiveByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, res.ID, active.ID)

	_, err = f.reservations.Release(ctx, res.ID)
	require.NoError(t, err)
	active, err = f.reservations.FindActiveByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestInventoryService_Operations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 3})
	svc := NewInventoryService(f.store, f.store.Inventories())

	view, err := svc.IncreaseStock(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, view.Available)

	view, err = svc.ReserveStock(ctx, "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Available)
	assert.True(t, view.LowStock)

	shortages, err := svc.CheckAvailability(ctx, []domain.ReservationItem{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, []Shortage{{ProductID: "p1", Requested: 2, Available: 1}}, shortages)

	_, err = svc.DecreaseStock(ctx, "p1", 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInventoryNotFound)
}

// 并发预留不会超卖
func TestReservationStore_ConcurrentCreateNeverOversells(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"p1": 10})

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.reservations.Create(ctx, fmt.Sprintf("order-%d", i), []domain.ReservationItem{{ProductID: "p1", Quantity: 1}}, time.Minute)
			if err == nil {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	avail, reserved := f.stock(t, "p1")
	assert.Equal(t, 0, avail)
	assert.Equal(t, 10, reserved)
}
