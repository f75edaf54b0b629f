package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/order-service/internal/auth"
	"github.com/vasiliy-maslov/storefront/order-service/internal/inventory"
)

const (
	MaxNotesLength   = 500
	DefaultListLimit = 10
	MaxListLimit     = 100
	statsWindow      = 30 * 24 * time.Hour
)

type ItemRequest struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	Items           []ItemRequest
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	CouponCode      string
	Notes           string
}

type Service interface {
	CreateOrder(ctx context.Context, principal auth.Principal, input CreateOrderInput) (*Order, error)
	GetOrderByID(ctx context.Context, principal auth.Principal, id uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, principal auth.Principal) ([]Order, error)
	ListOrders(ctx context.Context, principal auth.Principal, filter ListFilter) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, newStatus Status, trackingNumber string) (*Order, error)
	MarkDelivered(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*Order, error)
	MarkPaid(ctx context.Context, principal auth.Principal, orderID uuid.UUID, result PaymentResult) (*Order, error)
	GetStats(ctx context.Context, principal auth.Principal) (*Stats, error)
}

type service struct {
	orderRepo Repository
	inventory inventory.Store
	pricing   PricingRules
	now       func() time.Time
}

func NewService(orderRepo Repository, inv inventory.Store, pricing PricingRules) Service {
	return &service{
		orderRepo: orderRepo,
		inventory: inv,
		pricing:   pricing,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type reservation struct {
	productID uuid.UUID
	quantity  int
}

func (s *service) CreateOrder(ctx context.Context, principal auth.Principal, input CreateOrderInput) (*Order, error) {
	if principal.Role != auth.RoleCustomer {
		log.Warn().Stringer("user_id", principal.UserID).Str("role", string(principal.Role)).Msg("service: non-customer attempted to place an order")
		return nil, ErrForbidden
	}

	productIDs, address, err := input.validate()
	if err != nil {
		return nil, err
	}

	demand := make(map[uuid.UUID]int, len(productIDs))
	for i, id := range productIDs {
		demand[id] += input.Items[i].Quantity
	}

	// Every product is checked before any stock is touched.
	products := make(map[uuid.UUID]*inventory.Product, len(demand))
	for _, id := range productIDs {
		if _, seen := products[id]; seen {
			continue
		}

		product, err := s.inventory.GetProduct(ctx, id)
		if err != nil {
			if errors.Is(err, inventory.ErrProductNotFound) {
				log.Warn().Stringer("product_id", id).Msg("service: ordered product not found")
				return nil, &ProductNotFoundError{ProductID: id}
			}
			log.Error().Err(err).Stringer("product_id", id).Msg("service: failed to load product")
			return nil, fmt.Errorf("service: failed to load product %s: %w", id, err)
		}
		if !product.IsActive {
			return nil, &ProductUnavailableError{ProductID: id, Name: product.Name}
		}
		if product.Stock < demand[id] {
			return nil, &InsufficientStockError{ProductID: id, Name: product.Name, Available: product.Stock, Requested: demand[id]}
		}
		products[id] = product
	}

	items := make([]OrderItem, 0, len(productIDs))
	for i, id := range productIDs {
		product := products[id]
		items = append(items, OrderItem{
			ProductID: id,
			Name:      product.Name,
			SKU:       product.SKU,
			Image:     product.PrimaryImage(),
			Price:     EffectivePrice(product.Price, product.Discount),
			Quantity:  input.Items[i].Quantity,
		})
	}

	reserved, err := s.reserveStock(ctx, items, products)
	if err != nil {
		return nil, err
	}

	price := s.pricing.Price(items, input.CouponCode)
	order := &Order{
		UserID:          principal.UserID,
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   input.PaymentMethod,
		ItemsPrice:      price.ItemsPrice,
		ShippingPrice:   price.ShippingPrice,
		TaxPrice:        price.TaxPrice,
		DiscountAmount:  price.DiscountAmount,
		TotalPrice:      price.TotalPrice,
		CouponCode:      strings.TrimSpace(input.CouponCode),
		Notes:           strings.TrimSpace(input.Notes),
		Status:          StatusPending,
	}

	if _, err := s.orderRepo.CreateOrder(ctx, order); err != nil {
		log.Error().Err(err).Stringer("user_id", principal.UserID).Msg("service: failed to create order in repository")
		s.releaseStock(ctx, reserved)
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Stringer("order_id", order.ID).
		Stringer("user_id", order.UserID).
		Stringer("total_price", order.TotalPrice).
		Int("items", len(order.Items)).
		Msg("service: order created successfully")

	return order, nil
}

// reserveStock decrements stock line by line. On failure every decrement already applied is undone.
func (s *service) reserveStock(ctx context.Context, items []OrderItem, products map[uuid.UUID]*inventory.Product) ([]reservation, error) {
	reserved := make([]reservation, 0, len(items))

	for _, item := range items {
		available, err := s.inventory.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err == nil {
			reserved = append(reserved, reservation{productID: item.ProductID, quantity: item.Quantity})
			continue
		}

		s.releaseStock(ctx, reserved)

		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			log.Warn().Stringer("product_id", item.ProductID).Int("available", available).Int("requested", item.Quantity).Msg("service: lost stock race during reservation")
			return nil, &InsufficientStockError{
				ProductID: item.ProductID,
				Name:      products[item.ProductID].Name,
				Available: available,
				Requested: item.Quantity,
			}
		case errors.Is(err, inventory.ErrProductNotFound):
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		default:
			log.Error().Err(err).Stringer("product_id", item.ProductID).Msg("service: failed to reserve stock")
			return nil, fmt.Errorf("service: failed to reserve stock for product %s: %w", item.ProductID, err)
		}
	}

	return reserved, nil
}

func (s *service) releaseStock(ctx context.Context, reserved []reservation) {
	// Compensation must run even when the request has been cancelled.
	ctx = context.WithoutCancel(ctx)
	for _, r := range reserved {
		if err := s.inventory.RestoreStock(ctx, r.productID, r.quantity); err != nil {
			log.Error().Err(err).Stringer("product_id", r.productID).Int("quantity", r.quantity).Msg("service: failed to restore reserved stock")
		}
	}
}

func (s *service) GetOrderByID(ctx context.Context, principal auth.Principal, id uuid.UUID) (*Order, error) {
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if !principal.CanAccess(order.UserID) {
		log.Warn().Stringer("order_id", id).Stringer("user_id", principal.UserID).Msg("service: order requested by non-owner")
		return nil, ErrOrderNotFound
	}

	return order, nil
}

func (s *service) GetOrdersByUserID(ctx context.Context, principal auth.Principal) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByUserID(ctx, principal.UserID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", principal.UserID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

func (s *service) ListOrders(ctx context.Context, principal auth.Principal, filter ListFilter) ([]Order, error) {
	if !principal.IsAdmin() {
		return nil, ErrForbidden
	}

	verr := &ValidationError{}
	if filter.Status != "" && !filter.Status.Valid() {
		verr.add("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Sort == "" {
		filter.Sort = SortCreatedAtDesc
	} else if _, ok := listOrderBy[filter.Sort]; !ok {
		verr.add("sort", fmt.Sprintf("unsupported sort %q", filter.Sort))
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}

	orders, err := s.orderRepo.ListOrders(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders in repository")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}

	return orders, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, newStatus Status, trackingNumber string) (*Order, error) {
	if !principal.IsAdmin() {
		return nil, ErrForbidden
	}
	if !newStatus.Valid() {
		return nil, &ValidationError{Fields: []FieldError{{Field: "status", Message: fmt.Sprintf("unknown status %q", newStatus)}}}
	}

	currentOrder, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var tracking *string
	if t := strings.TrimSpace(trackingNumber); t != "" && t != currentOrder.TrackingNumber {
		tracking = &t
	}

	if currentOrder.Status == newStatus {
		if tracking == nil {
			log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
			return currentOrder, nil
		}
	} else if !CanTransition(currentOrder.Status, newStatus) {
		log.Warn().
			Stringer("order_id", currentOrder.ID).
			Stringer("current_status", currentOrder.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, currentOrder.Status, newStatus)
	}

	update := StatusUpdate{
		From:           currentOrder.Status,
		To:             newStatus,
		TrackingNumber: tracking,
		At:             s.now(),
	}
	if err := s.orderRepo.UpdateOrderStatus(ctx, orderID, update); err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrConcurrentUpdate) {
			log.Warn().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: status update guard failed")
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: failed to update order status in repository")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Stringer("old_status", currentOrder.Status).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	return s.getOrder(ctx, orderID)
}

func (s *service) MarkDelivered(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*Order, error) {
	return s.UpdateOrderStatus(ctx, principal, orderID, StatusDelivered, "")
}

func (s *service) MarkPaid(ctx context.Context, principal auth.Principal, orderID uuid.UUID, result PaymentResult) (*Order, error) {
	result.ID = strings.TrimSpace(result.ID)
	result.Status = strings.TrimSpace(result.Status)
	verr := &ValidationError{}
	if result.ID == "" {
		verr.add("id", "payment id is required")
	}
	if result.Status == "" {
		verr.add("status", "payment status is required")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	currentOrder, err := s.GetOrderByID(ctx, principal, orderID)
	if err != nil {
		return nil, err
	}
	if currentOrder.IsPaid {
		return nil, ErrAlreadyPaid
	}

	if err := s.orderRepo.MarkPaid(ctx, orderID, result, s.now()); err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrAlreadyPaid) {
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to mark order paid in repository")
		return nil, fmt.Errorf("service: failed to mark order paid: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Str("payment_id", result.ID).Msg("service: order marked as paid")

	return s.getOrder(ctx, orderID)
}

func (s *service) GetStats(ctx context.Context, principal auth.Principal) (*Stats, error) {
	if !principal.IsAdmin() {
		return nil, ErrForbidden
	}

	stats, err := s.orderRepo.GetStats(ctx, s.now().Add(-statsWindow))
	if err != nil {
		log.Error().Err(err).Msg("service: failed to compute order stats")
		return nil, fmt.Errorf("service: failed to compute order stats: %w", err)
	}

	return stats, nil
}

func (s *service) getOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	return order, nil
}

// validate checks the request shape and returns the parsed product IDs and the trimmed address.
func (in CreateOrderInput) validate() ([]uuid.UUID, ShippingAddress, error) {
	verr := &ValidationError{}

	if len(in.Items) == 0 {
		verr.add("items", "order must contain at least one item")
	}

	productIDs := make([]uuid.UUID, len(in.Items))
	for i, item := range in.Items {
		id, err := uuid.FromString(strings.TrimSpace(item.ProductID))
		if err != nil || id == uuid.Nil {
			verr.add(fmt.Sprintf("items[%d].product_id", i), "must be a valid product id")
		}
		productIDs[i] = id
		if item.Quantity < 1 {
			verr.add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
	}

	addr := ShippingAddress{
		FirstName: strings.TrimSpace(in.ShippingAddress.FirstName),
		LastName:  strings.TrimSpace(in.ShippingAddress.LastName),
		Street:    strings.TrimSpace(in.ShippingAddress.Street),
		City:      strings.TrimSpace(in.ShippingAddress.City),
		State:     strings.TrimSpace(in.ShippingAddress.State),
		ZipCode:   strings.TrimSpace(in.ShippingAddress.ZipCode),
		Country:   strings.TrimSpace(in.ShippingAddress.Country),
		Phone:     strings.TrimSpace(in.ShippingAddress.Phone),
	}
	for _, f := range []struct{ name, value string }{
		{"first_name", addr.FirstName},
		{"last_name", addr.LastName},
		{"street", addr.Street},
		{"city", addr.City},
		{"state", addr.State},
		{"zip_code", addr.ZipCode},
		{"country", addr.Country},
		{"phone", addr.Phone},
	} {
		if f.value == "" {
			verr.add("shipping_address."+f.name, "is required")
		}
	}

	if !in.PaymentMethod.Valid() {
		verr.add("payment_method", "must be one of stripe, paypal, cod")
	}
	if len([]rune(strings.TrimSpace(in.Notes))) > MaxNotesLength {
		verr.add("notes", fmt.Sprintf("must be at most %d characters", MaxNotesLength))
	}

	if err := verr.orNil(); err != nil {
		return nil, ShippingAddress{}, err
	}
	return productIDs, addr, nil
}
