package order_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront/order-service/internal/order"
)

var (
	testPoolOnce sync.Once
	testPool     *pgxpool.Pool
	testPoolErr  error
)

// integrationPool connects to TEST_DATABASE_URL (postgres://...) and migrates it once per package run.
func integrationPool(tb testing.TB) *pgxpool.Pool {
	tb.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		tb.Skip("TEST_DATABASE_URL is not set, skipping Postgres integration test")
	}

	testPoolOnce.Do(func() {
		m, err := migrate.New("file://../../migrations", strings.Replace(dsn, "postgres://", "pgx5://", 1))
		if err != nil {
			testPoolErr = err
			return
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			testPoolErr = err
			return
		}
		testPool, testPoolErr = pgxpool.New(context.Background(), dsn)
	})
	require.NoError(tb, testPoolErr)

	return testPool
}

func truncateOrderTables(tb testing.TB, pool *pgxpool.Pool) {
	tb.Helper()
	_, err := pool.Exec(context.Background(), "TRUNCATE TABLE order_items, orders")
	require.NoError(tb, err, "Failed to truncate order tables")
}

func newTestOrder(userID uuid.UUID, total string) *order.Order {
	return &order.Order{
		UserID: userID,
		Items: []order.OrderItem{
			{ProductID: uuid.Must(uuid.NewV4()), Name: "Figure", SKU: "FIG-1", Image: "/img/fig.png", Price: dec("1874.25"), Quantity: 2},
			{ProductID: uuid.Must(uuid.NewV4()), Name: "Sticker", SKU: "STK-1", Price: dec("5.00"), Quantity: 1},
		},
		ShippingAddress: validAddress(),
		PaymentMethod:   order.PaymentPayPal,
		ItemsPrice:      dec("3753.50"),
		ShippingPrice:   dec("200"),
		TaxPrice:        dec("675.63"),
		DiscountAmount:  dec("0"),
		TotalPrice:      dec(total),
		Notes:           "gift wrap",
		Status:          order.StatusPending,
	}
}

func TestPostgresRepository_CreateAndGet(t *testing.T) {
	pool := integrationPool(t)
	truncateOrderTables(t, pool)
	repo := order.NewRepository(pool)
	ctx := context.Background()

	input := newTestOrder(uuid.Must(uuid.NewV4()), "4629.13")
	id, err := repo.CreateOrder(ctx, input)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, id, input.ID)

	got, err := repo.GetOrderByID(ctx, id)
	require.NoError(t, err)

	diff := cmp.Diff(input, got,
		decimalComparer,
		cmpopts.EquateApproxTime(time.Millisecond),
	)
	require.Empty(t, diff)

	_, err = repo.GetOrderByID(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_UpdateOrderStatus(t *testing.T) {
	pool := integrationPool(t)
	truncateOrderTables(t, pool)
	repo := order.NewRepository(pool)
	ctx := context.Background()

	o := newTestOrder(uuid.Must(uuid.NewV4()), "4629.13")
	_, err := repo.CreateOrder(ctx, o)
	require.NoError(t, err)

	tracking := "TRK-77"
	err = repo.UpdateOrderStatus(ctx, o.ID, order.StatusUpdate{From: order.StatusPending, To: order.StatusDelivered, TrackingNumber: &tracking, At: time.Now().UTC()})
	require.NoError(t, err)

	got, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)
	assert.True(t, got.IsDelivered)
	assert.NotNil(t, got.DeliveredAt)
	assert.Equal(t, "TRK-77", got.TrackingNumber)

	// The guard no longer matches: another admin already moved the order.
	err = repo.UpdateOrderStatus(ctx, o.ID, order.StatusUpdate{From: order.StatusPending, To: order.StatusCancelled, At: time.Now().UTC()})
	require.ErrorIs(t, err, order.ErrConcurrentUpdate)

	err = repo.UpdateOrderStatus(ctx, uuid.Must(uuid.NewV4()), order.StatusUpdate{From: order.StatusPending, To: order.StatusShipped, At: time.Now().UTC()})
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_MarkPaid(t *testing.T) {
	pool := integrationPool(t)
	truncateOrderTables(t, pool)
	repo := order.NewRepository(pool)
	ctx := context.Background()

	o := newTestOrder(uuid.Must(uuid.NewV4()), "4629.13")
	_, err := repo.CreateOrder(ctx, o)
	require.NoError(t, err)

	payment := order.PaymentResult{ID: "PAY-1", Status: "COMPLETED", UpdateTime: "2025-01-01T00:00:00Z", EmailAddress: "buyer@example.com"}
	require.NoError(t, repo.MarkPaid(ctx, o.ID, payment, time.Now().UTC()))

	got, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPaid)
	require.Empty(t, cmp.Diff(&payment, got.PaymentResult))

	err = repo.MarkPaid(ctx, o.ID, payment, time.Now().UTC())
	require.ErrorIs(t, err, order.ErrAlreadyPaid)
}

func TestPostgresRepository_ListAndStats(t *testing.T) {
	pool := integrationPool(t)
	truncateOrderTables(t, pool)
	repo := order.NewRepository(pool)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	cheap := newTestOrder(userID, "100.00")
	pricey := newTestOrder(userID, "9000.00")
	other := newTestOrder(uuid.Must(uuid.NewV4()), "500.00")
	for _, o := range []*order.Order{cheap, pricey, other} {
		_, err := repo.CreateOrder(ctx, o)
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkPaid(ctx, pricey.ID, order.PaymentResult{ID: "P", Status: "COMPLETED"}, time.Now().UTC()))
	require.NoError(t, repo.UpdateOrderStatus(ctx, other.ID, order.StatusUpdate{From: order.StatusPending, To: order.StatusShipped, At: time.Now().UTC()}))

	mine, err := repo.GetOrdersByUserID(ctx, userID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Len(t, mine[0].Items, 2)

	byTotal, err := repo.ListOrders(ctx, order.ListFilter{Sort: order.SortTotalPriceDesc, Limit: 2})
	require.NoError(t, err)
	require.Len(t, byTotal, 2)
	assert.Equal(t, pricey.ID, byTotal[0].ID)

	shipped, err := repo.ListOrders(ctx, order.ListFilter{Status: order.StatusShipped, Limit: 10})
	require.NoError(t, err)
	require.Len(t, shipped, 1)
	assert.Equal(t, other.ID, shipped[0].ID)

	stats, err := repo.GetStats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalOrders)
	assert.EqualValues(t, 3, stats.RecentOrders)
	assert.EqualValues(t, 2, stats.ByStatus[order.StatusPending])
	assert.True(t, dec("9000").Equal(stats.TotalRevenue))
}
