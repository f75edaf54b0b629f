package order

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepository is an in-process ledger used with STORE_BACKEND=memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[uuid.UUID]*Order)}
}

func (r *MemoryRepository) CreateOrder(_ context.Context, order *Order) (uuid.UUID, error) {
	if err := assignIDs(order); err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	order.IsPaid = false
	order.IsDelivered = false
	order.CreatedAt = now
	order.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
	return order.ID, nil
}

func (r *MemoryRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *MemoryRepository) GetOrdersByUserID(_ context.Context, userID uuid.UUID) ([]Order, error) {
	return r.collect(func(o *Order) bool { return o.UserID == userID }, SortCreatedAtDesc, 0), nil
}

func (r *MemoryRepository) ListOrders(_ context.Context, filter ListFilter) ([]Order, error) {
	match := func(o *Order) bool { return filter.Status == "" || o.Status == filter.Status }
	return r.collect(match, filter.Sort, filter.Limit), nil
}

func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, update StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status != update.From {
		return ErrConcurrentUpdate
	}

	order.Status = update.To
	if update.TrackingNumber != nil {
		order.TrackingNumber = *update.TrackingNumber
	}
	if update.To == StatusDelivered && !order.IsDelivered {
		at := update.At
		order.IsDelivered = true
		order.DeliveredAt = &at
	}
	order.UpdatedAt = update.At
	return nil
}

func (r *MemoryRepository) MarkPaid(_ context.Context, orderID uuid.UUID, result PaymentResult, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.IsPaid {
		return ErrAlreadyPaid
	}

	order.IsPaid = true
	order.PaidAt = &at
	order.PaymentResult = &result
	order.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) GetStats(_ context.Context, since time.Time) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{
		ByStatus:     make(map[Status]int64, len(allowedTransitions)),
		TotalRevenue: decimal.Zero,
	}
	for status := range allowedTransitions {
		stats.ByStatus[status] = 0
	}

	for _, o := range r.orders {
		stats.TotalOrders++
		stats.ByStatus[o.Status]++
		if !o.CreatedAt.Before(since) {
			stats.RecentOrders++
		}
		if o.IsPaid {
			stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalPrice)
		}
	}
	return stats, nil
}

func (r *MemoryRepository) collect(match func(*Order) bool, sortKey string, limit int) []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Order, 0)
	for _, o := range r.orders {
		if match(o) {
			out = append(out, *cloneOrder(o))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch sortKey {
		case SortCreatedAtAsc:
			return a.CreatedAt.Before(b.CreatedAt)
		case SortTotalPriceAsc:
			if !a.TotalPrice.Equal(b.TotalPrice) {
				return a.TotalPrice.LessThan(b.TotalPrice)
			}
		case SortTotalPriceDesc:
			if !a.TotalPrice.Equal(b.TotalPrice) {
				return a.TotalPrice.GreaterThan(b.TotalPrice)
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		c.PaymentResult = &pr
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}
