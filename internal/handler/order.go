package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/storefront/order-service/internal/order"
)

type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type ShippingAddressRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Street    string `json:"street" validate:"required,max=200"`
	City      string `json:"city" validate:"required,max=100"`
	State     string `json:"state" validate:"required,max=100"`
	ZipCode   string `json:"zip_code" validate:"required,max=20"`
	Country   string `json:"country" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"required,max=32"`
}

// CreateOrderRequest carries no prices: totals are always computed server-side.
type CreateOrderRequest struct {
	Items           []OrderItemRequest     `json:"items" validate:"required,min=1,dive"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,oneof=stripe paypal cod"`
	CouponCode      string                 `json:"coupon_code" validate:"omitempty,max=64"`
	Notes           string                 `json:"notes" validate:"max=500"`
}

type UpdateStatusRequest struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"tracking_number" validate:"omitempty,max=100"`
}

type PayOrderRequest struct {
	ID           string `json:"id" validate:"required"`
	Status       string `json:"status" validate:"required"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address" validate:"omitempty,email"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
	}
}

// RegisterRoutes expects router to be authenticated already. createGuards wrap only order creation.
func (h *OrderHandler) RegisterRoutes(router chi.Router, createGuards ...func(http.Handler) http.Handler) {
	router.With(createGuards...).Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/mine", h.handleGetMyOrders)
	router.Get("/orders/stats", h.handleGetStats)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Put("/orders/{id}/pay", h.handlePayOrder)
	router.Put("/orders/{id}/deliver", h.handleDeliverOrder)
	router.Put("/orders/{id}/status", h.handleUpdateStatus)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	// Cart payloads may mirror prices; unknown fields are ignored rather than rejected.
	var requestPayload CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, false) {
		return
	}

	input := order.CreateOrderInput{
		Items:         make([]order.ItemRequest, 0, len(requestPayload.Items)),
		PaymentMethod: order.PaymentMethod(requestPayload.PaymentMethod),
		CouponCode:    requestPayload.CouponCode,
		Notes:         requestPayload.Notes,
		ShippingAddress: order.ShippingAddress{
			FirstName: requestPayload.ShippingAddress.FirstName,
			LastName:  requestPayload.ShippingAddress.LastName,
			Street:    requestPayload.ShippingAddress.Street,
			City:      requestPayload.ShippingAddress.City,
			State:     requestPayload.ShippingAddress.State,
			ZipCode:   requestPayload.ShippingAddress.ZipCode,
			Country:   requestPayload.ShippingAddress.Country,
			Phone:     requestPayload.ShippingAddress.Phone,
		},
	}
	for _, item := range requestPayload.Items {
		input.Items = append(input.Items, order.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	createdOrder, err := h.service.CreateOrder(r.Context(), principal, input)
	if err != nil {
		respondWithServiceError(w, err, "create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, createdOrder)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, chi.URLParam(r, "id"), "order")
	if !ok {
		return
	}

	foundOrder, err := h.service.GetOrderByID(r.Context(), principal, orderID)
	if err != nil {
		respondWithServiceError(w, err, "get order by id")
		return
	}

	respondWithJSON(w, http.StatusOK, foundOrder)
}

func (h *OrderHandler) handleGetMyOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUserID(r.Context(), principal)
	if err != nil {
		respondWithServiceError(w, err, "get user orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := order.ListFilter{
		Status: order.Status(query.Get("status")),
		Sort:   query.Get("sort"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		filter.Limit = limit
	}

	orders, err := h.service.ListOrders(r.Context(), principal, filter)
	if err != nil {
		respondWithServiceError(w, err, "list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetStats(r.Context(), principal)
	if err != nil {
		respondWithServiceError(w, err, "get order stats")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

func (h *OrderHandler) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, chi.URLParam(r, "id"), "order")
	if !ok {
		return
	}

	var requestPayload PayOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, true) {
		return
	}

	paidOrder, err := h.service.MarkPaid(r.Context(), principal, orderID, order.PaymentResult{
		ID:           requestPayload.ID,
		Status:       requestPayload.Status,
		UpdateTime:   requestPayload.UpdateTime,
		EmailAddress: requestPayload.EmailAddress,
	})
	if err != nil {
		respondWithServiceError(w, err, "mark order paid")
		return
	}

	respondWithJSON(w, http.StatusOK, paidOrder)
}

func (h *OrderHandler) handleDeliverOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, chi.URLParam(r, "id"), "order")
	if !ok {
		return
	}

	deliveredOrder, err := h.service.MarkDelivered(r.Context(), principal, orderID)
	if err != nil {
		respondWithServiceError(w, err, "mark order delivered")
		return
	}

	respondWithJSON(w, http.StatusOK, deliveredOrder)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, chi.URLParam(r, "id"), "order")
	if !ok {
		return
	}

	var requestPayload UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, true) {
		return
	}

	updatedOrder, err := h.service.UpdateOrderStatus(r.Context(), principal, orderID, order.Status(requestPayload.Status), requestPayload.TrackingNumber)
	if err != nil {
		respondWithServiceError(w, err, "update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, updatedOrder)
}
