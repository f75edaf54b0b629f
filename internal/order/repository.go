package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) (uuid.UUID, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, update StatusUpdate) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, result PaymentResult, at time.Time) error
	GetStats(ctx context.Context, since time.Time) (*Stats, error)
}

const (
	SortCreatedAtDesc  = "-created_at"
	SortCreatedAtAsc   = "created_at"
	SortTotalPriceDesc = "-total_price"
	SortTotalPriceAsc  = "total_price"
)

var listOrderBy = map[string]string{
	SortCreatedAtDesc:  "created_at DESC",
	SortCreatedAtAsc:   "created_at ASC",
	SortTotalPriceDesc: "total_price DESC, created_at DESC",
	SortTotalPriceAsc:  "total_price ASC, created_at DESC",
}

const orderColumns = `id, user_id, shipping_address, payment_method, payment_result, items_price, shipping_price,
	tax_price, discount_amount, total_price, coupon_code, notes, status, is_paid, paid_at, is_delivered,
	delivered_at, tracking_number, created_at, updated_at`

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateOrder(ctx context.Context, orderInput *Order) (orderID uuid.UUID, err error) {
	if err = assignIDs(orderInput); err != nil {
		return uuid.Nil, err
	}
	finalOrderID := orderInput.ID

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id_attempted", finalOrderID).Msg("Panic recovered during CreateOrder, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", finalOrderID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Stringer("order_id_attempted", finalOrderID).Msg("Transaction for CreateOrder failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", finalOrderID).Msg("Failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Stringer("order_id", finalOrderID).Msg("Failed to commit transaction")
			orderID = uuid.Nil
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	createdAt := time.Now().UTC()

	queryOrder := `
		INSERT INTO orders (id, user_id, shipping_address, payment_method, items_price, shipping_price, tax_price,
			discount_amount, total_price, coupon_code, notes, status, is_paid, is_delivered, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, FALSE, $13, $13)
	`
	_, err = tx.Exec(ctx, queryOrder,
		finalOrderID,
		orderInput.UserID,
		orderInput.ShippingAddress,
		string(orderInput.PaymentMethod),
		orderInput.ItemsPrice,
		orderInput.ShippingPrice,
		orderInput.TaxPrice,
		orderInput.DiscountAmount,
		orderInput.TotalPrice,
		orderInput.CouponCode,
		orderInput.Notes,
		string(orderInput.Status),
		createdAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	queryItem := `
		INSERT INTO order_items (id, order_id, position, product_id, name, sku, image, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i, item := range orderInput.Items {
		batch.Queue(queryItem, item.ID, finalOrderID, i, item.ProductID, item.Name, item.SKU, item.Image, item.Price, item.Quantity)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to insert order items for order %s: %w", finalOrderID, err)
	}

	orderInput.IsPaid = false
	orderInput.IsDelivered = false
	orderInput.CreatedAt = createdAt
	orderInput.UpdatedAt = createdAt

	return finalOrderID, nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	orders := []Order{*order}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}

	return &orders[0], nil
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	orders, err := r.queryOrders(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}

	return orders, nil
}

func (r *postgresRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	orderBy, ok := listOrderBy[filter.Sort]
	if !ok {
		orderBy = listOrderBy[SortCreatedAtDesc]
	}

	// An empty status matches every order.
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY ` + orderBy + `
		LIMIT $2`

	orders, err := r.queryOrders(ctx, query, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list orders: %w", err)
	}

	return orders, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, update StatusUpdate) error {
	query := `
		UPDATE orders
		SET status = $1,
		    tracking_number = COALESCE($2, tracking_number),
		    is_delivered = is_delivered OR $3::boolean,
		    delivered_at = CASE WHEN $3::boolean AND delivered_at IS NULL THEN $4::timestamptz ELSE delivered_at END,
		    updated_at = $4::timestamptz
		WHERE id = $5 AND status = $6
	`

	cmdTag, err := r.db.Exec(ctx, query,
		string(update.To),
		update.TrackingNumber,
		update.To == StatusDelivered,
		update.At,
		orderID,
		string(update.From),
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", update.To).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, orderID, ErrConcurrentUpdate)
	}

	return nil
}

func (r *postgresRepository) MarkPaid(ctx context.Context, orderID uuid.UUID, result PaymentResult, at time.Time) error {
	query := `
		UPDATE orders
		SET is_paid = TRUE, paid_at = $1, payment_result = $2, updated_at = $1
		WHERE id = $3 AND NOT is_paid
	`

	cmdTag, err := r.db.Exec(ctx, query, at, result, orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("repository: failed to mark order paid")
		return fmt.Errorf("repository: failed to mark order %s paid: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, orderID, ErrAlreadyPaid)
	}

	return nil
}

func (r *postgresRepository) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[Status]int64, len(allowedTransitions))}
	for status := range allowedTransitions {
		stats.ByStatus[status] = 0
	}

	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to count orders by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.TotalOrders += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order status counts: %w", err)
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1),
			COALESCE(SUM(total_price) FILTER (WHERE is_paid), 0)
		FROM orders
	`
	var revenue decimal.Decimal
	if err := r.db.QueryRow(ctx, query, since).Scan(&stats.RecentOrders, &revenue); err != nil {
		return nil, fmt.Errorf("repository: failed to aggregate order stats: %w", err)
	}
	stats.TotalRevenue = revenue

	return stats, nil
}

// missOrConflict tells a missing order apart from a guard that no longer matched.
func (r *postgresRepository) missOrConflict(ctx context.Context, orderID uuid.UUID, conflict error) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("repository: failed to check order %s existence: %w", orderID, err)
	}
	if !exists {
		log.Warn().Stringer("order_id", orderID).Msg("repository: order not found for update")
		return ErrOrderNotFound
	}
	return conflict
}

func (r *postgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating orders: %w", err)
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// attachItems loads the line items of every order in one round trip.
func (r *postgresRepository) attachItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*Order, len(orders))
	orderIDs := make([]string, 0, len(orders))
	for i := range orders {
		orders[i].Items = make([]OrderItem, 0)
		byID[orders[i].ID] = &orders[i]
		orderIDs = append(orderIDs, orders[i].ID.String())
	}

	query := `
		SELECT id, order_id, product_id, name, sku, image, price, quantity
		FROM order_items
		WHERE order_id = ANY($1::text[]::uuid[])
		ORDER BY order_id, position
	`
	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.SKU,
			&item.Image,
			&item.Price,
			&item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if order, ok := byID[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order items: %w", err)
	}

	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var order Order
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ShippingAddress,
		&order.PaymentMethod,
		&order.PaymentResult,
		&order.ItemsPrice,
		&order.ShippingPrice,
		&order.TaxPrice,
		&order.DiscountAmount,
		&order.TotalPrice,
		&order.CouponCode,
		&order.Notes,
		&order.Status,
		&order.IsPaid,
		&order.PaidAt,
		&order.IsDelivered,
		&order.DeliveredAt,
		&order.TrackingNumber,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func assignIDs(order *Order) error {
	if order.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			log.Error().Err(err).Msg("repository: failed to generate order ID")
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		order.ID = id
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == uuid.Nil {
			id, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", err)
			}
			item.ID = id
		}
		item.OrderID = order.ID
	}
	return nil
}
