package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront/order-service/internal/auth"
	"github.com/vasiliy-maslov/storefront/order-service/internal/handler"
	"github.com/vasiliy-maslov/storefront/order-service/internal/order"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, p auth.Principal, in order.CreateOrderInput) (*order.Order, error) {
	args := m.Called(ctx, p, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, p auth.Principal, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, p, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrdersByUserID(ctx context.Context, p auth.Principal) ([]order.Order, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, p auth.Principal, filter order.ListFilter) ([]order.Order, error) {
	args := m.Called(ctx, p, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, p auth.Principal, id uuid.UUID, status order.Status, tracking string) (*order.Order, error) {
	args := m.Called(ctx, p, id, status, tracking)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) MarkDelivered(ctx context.Context, p auth.Principal, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, p, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) MarkPaid(ctx context.Context, p auth.Principal, id uuid.UUID, result order.PaymentResult) (*order.Order, error) {
	args := m.Called(ctx, p, id, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetStats(ctx context.Context, p auth.Principal) (*order.Stats, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Stats), args.Error(1)
}

// newOrderRouter stands in for the JWT middleware by injecting a fixed principal.
func newOrderRouter(svc order.Service, principal auth.Principal) *chi.Mux {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	})
	handler.NewOrderHandler(svc).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func validCreateRequest(productID uuid.UUID) handler.CreateOrderRequest {
	return handler.CreateOrderRequest{
		Items: []handler.OrderItemRequest{{ProductID: productID.String(), Quantity: 2}},
		ShippingAddress: handler.ShippingAddressRequest{
			FirstName: "Rin",
			LastName:  "Tohsaka",
			Street:    "1 Miyama St",
			City:      "Fuyuki",
			State:     "Kanto",
			ZipCode:   "100-0001",
			Country:   "JP",
			Phone:     "+81-3-0000-0000",
		},
		PaymentMethod: "cod",
		CouponCode:    "ANIME10",
	}
}

var customer = auth.Principal{UserID: uuid.Must(uuid.NewV4()), Role: auth.RoleCustomer}

func TestOrderHandler_handleCreateOrder_Success(t *testing.T) {
	mockService := new(MockOrderService)
	productID := uuid.Must(uuid.NewV4())
	requestDTO := validCreateRequest(productID)

	created := &order.Order{
		ID:         uuid.Must(uuid.NewV4()),
		UserID:     customer.UserID,
		Status:     order.StatusPending,
		ItemsPrice: decimal.RequireFromString("3748.50"),
		TotalPrice: decimal.RequireFromString("4248.23"),
	}

	mockService.On("CreateOrder", mock.Anything, customer, mock.MatchedBy(func(in order.CreateOrderInput) bool {
		return len(in.Items) == 1 &&
			in.Items[0].ProductID == productID.String() &&
			in.Items[0].Quantity == 2 &&
			in.PaymentMethod == order.PaymentCOD &&
			in.CouponCode == "ANIME10" &&
			in.ShippingAddress.City == "Fuyuki"
	})).Return(created, nil).Once()

	rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodPost, "/orders", requestDTO)
	require.Equal(t, http.StatusCreated, rr.Code)

	var actual order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&actual))
	assert.Equal(t, created.ID, actual.ID)
	assert.True(t, created.TotalPrice.Equal(actual.TotalPrice))
	mockService.AssertExpectations(t)
}

func TestOrderHandler_handleCreateOrder_IgnoresClientPrices(t *testing.T) {
	mockService := new(MockOrderService)
	productID := uuid.Must(uuid.NewV4())
	body := `{
		"items": [{"product_id": "` + productID.String() + `", "quantity": 1, "price": 0.01}],
		"shipping_address": {"first_name": "A", "last_name": "B", "street": "C", "city": "D",
			"state": "E", "zip_code": "F", "country": "G", "phone": "H"},
		"payment_method": "stripe",
		"total_price": 0.01
	}`

	mockService.On("CreateOrder", mock.Anything, customer, mock.AnythingOfType("order.CreateOrderInput")).
		Return(&order.Order{ID: uuid.Must(uuid.NewV4())}, nil).
		Once()

	rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_handleCreateOrder_ValidationFailed(t *testing.T) {
	mockService := new(MockOrderService)
	requestDTO := validCreateRequest(uuid.Must(uuid.NewV4()))
	requestDTO.Items = append(requestDTO.Items, handler.OrderItemRequest{ProductID: "bad", Quantity: 1})
	requestDTO.ShippingAddress.City = ""
	requestDTO.PaymentMethod = "bitcoin"

	rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodPost, "/orders", requestDTO)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var response handler.ValidationErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Equal(t, "Validation failed", response.Error)

	expected := []order.FieldError{
		{Field: "items[1].product_id", Message: "must be a valid UUID"},
		{Field: "shipping_address.city", Message: "is required"},
		{Field: "payment_method", Message: "must be one of stripe, paypal, cod"},
	}
	require.Empty(t, cmp.Diff(expected, response.Details))
	mockService.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderHandler_handleCreateOrder_ServiceErrors(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "insufficient stock",
			err:      &order.InsufficientStockError{ProductID: productID, Name: "Plush", Available: 3, Requested: 10},
			wantCode: http.StatusConflict,
			wantBody: `"available":3`,
		},
		{
			name:     "product not found",
			err:      &order.ProductNotFoundError{ProductID: productID},
			wantCode: http.StatusNotFound,
			wantBody: productID.String(),
		},
		{
			name:     "product unavailable",
			err:      &order.ProductUnavailableError{ProductID: productID, Name: "Old Poster"},
			wantCode: http.StatusBadRequest,
			wantBody: "Old Poster",
		},
		{
			name:     "engine validation",
			err:      &order.ValidationError{Fields: []order.FieldError{{Field: "shipping_address.phone", Message: "is required"}}},
			wantCode: http.StatusBadRequest,
			wantBody: "shipping_address.phone",
		},
		{
			name:     "forbidden",
			err:      order.ErrForbidden,
			wantCode: http.StatusForbidden,
			wantBody: "Not authorized",
		},
		{
			name:     "internal error is opaque",
			err:      errors.New("service: failed to create order: pq: connection refused"),
			wantCode: http.StatusInternalServerError,
			wantBody: "Internal server error, please try again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			mockService.On("CreateOrder", mock.Anything, customer, mock.Anything).Return(nil, tt.err).Once()

			rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodPost, "/orders", validCreateRequest(productID))

			require.Equal(t, tt.wantCode, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
			assert.NotContains(t, rr.Body.String(), "connection refused")
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_handleGetOrderByID(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	t.Run("found", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("GetOrderByID", mock.Anything, customer, orderID).
			Return(&order.Order{ID: orderID, UserID: customer.UserID, Status: order.StatusShipped}, nil).
			Once()

		rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodGet, "/orders/"+orderID.String(), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"shipped"`)
		mockService.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("GetOrderByID", mock.Anything, customer, orderID).Return(nil, order.ErrOrderNotFound).Once()

		rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodGet, "/orders/"+orderID.String(), nil)
		require.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error":"Order not found"}`, rr.Body.String())
	})

	t.Run("bad id", func(t *testing.T) {
		mockService := new(MockOrderService)

		rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodGet, "/orders/not-a-uuid", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "GetOrderByID", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestOrderHandler_StaticRoutesWinOverID(t *testing.T) {
	admin := auth.Principal{UserID: uuid.Must(uuid.NewV4()), Role: auth.RoleAdmin}
	mockService := new(MockOrderService)
	mockService.On("GetOrdersByUserID", mock.Anything, admin).Return([]order.Order{}, nil).Once()
	mockService.On("GetStats", mock.Anything, admin).
		Return(&order.Stats{TotalOrders: 4, ByStatus: map[order.Status]int64{order.StatusPending: 4}, TotalRevenue: decimal.Zero}, nil).
		Once()
	router := newOrderRouter(mockService, admin)

	rr := doJSON(t, router, http.MethodGet, "/orders/mine", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = doJSON(t, router, http.MethodGet, "/orders/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total_orders":4`)

	mockService.AssertExpectations(t)
}

func TestOrderHandler_handleListOrders(t *testing.T) {
	admin := auth.Principal{UserID: uuid.Must(uuid.NewV4()), Role: auth.RoleAdmin}

	t.Run("query parsed", func(t *testing.T) {
		mockService := new(MockOrderService)
		want := order.ListFilter{Status: order.StatusPending, Sort: "-total_price", Limit: 25}
		mockService.On("ListOrders", mock.Anything, admin, want).Return([]order.Order{}, nil).Once()

		rr := doJSON(t, newOrderRouter(mockService, admin), http.MethodGet, "/orders?status=pending&sort=-total_price&limit=25", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("bad limit", func(t *testing.T) {
		mockService := new(MockOrderService)

		rr := doJSON(t, newOrderRouter(mockService, admin), http.MethodGet, "/orders?limit=ten", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("customer forbidden", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("ListOrders", mock.Anything, customer, mock.Anything).Return(nil, order.ErrForbidden).Once()

		rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodGet, "/orders", nil)
		require.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestOrderHandler_handleUpdateStatus(t *testing.T) {
	admin := auth.Principal{UserID: uuid.Must(uuid.NewV4()), Role: auth.RoleAdmin}
	orderID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name     string
		body     any
		err      error
		wantCode int
	}{
		{name: "shipped with tracking", body: handler.UpdateStatusRequest{Status: "shipped", TrackingNumber: "TRK-1"}, wantCode: http.StatusOK},
		{name: "invalid transition", body: handler.UpdateStatusRequest{Status: "processing"}, err: order.ErrInvalidStatusTransition, wantCode: http.StatusBadRequest},
		{name: "concurrent update", body: handler.UpdateStatusRequest{Status: "cancelled"}, err: order.ErrConcurrentUpdate, wantCode: http.StatusConflict},
		{name: "unknown field", body: `{"status":"shipped","force":true}`, wantCode: http.StatusBadRequest},
		{name: "missing status", body: handler.UpdateStatusRequest{}, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			if req, ok := tt.body.(handler.UpdateStatusRequest); ok && req.Status != "" {
				var result *order.Order
				if tt.err == nil {
					result = &order.Order{ID: orderID, Status: order.Status(req.Status), TrackingNumber: req.TrackingNumber}
				}
				call := mockService.On("UpdateOrderStatus", mock.Anything, admin, orderID, order.Status(req.Status), req.TrackingNumber)
				if result != nil {
					call.Return(result, nil).Once()
				} else {
					call.Return(nil, tt.err).Once()
				}
			}

			rr := doJSON(t, newOrderRouter(mockService, admin), http.MethodPut, "/orders/"+orderID.String()+"/status", tt.body)

			require.Equal(t, tt.wantCode, rr.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_handlePayAndDeliver(t *testing.T) {
	admin := auth.Principal{UserID: uuid.Must(uuid.NewV4()), Role: auth.RoleAdmin}
	orderID := uuid.Must(uuid.NewV4())
	payment := handler.PayOrderRequest{ID: "PAY-1", Status: "COMPLETED", UpdateTime: "2025-01-01T00:00:00Z", EmailAddress: "buyer@example.com"}

	mockService := new(MockOrderService)
	mockService.On("MarkPaid", mock.Anything, customer, orderID, order.PaymentResult{
		ID:           payment.ID,
		Status:       payment.Status,
		UpdateTime:   payment.UpdateTime,
		EmailAddress: payment.EmailAddress,
	}).Return(nil, order.ErrAlreadyPaid).Once()
	mockService.On("MarkDelivered", mock.Anything, admin, orderID).
		Return(&order.Order{ID: orderID, Status: order.StatusDelivered, IsDelivered: true}, nil).
		Once()

	rr := doJSON(t, newOrderRouter(mockService, customer), http.MethodPut, "/orders/"+orderID.String()+"/pay", payment)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "already paid")

	rr = doJSON(t, newOrderRouter(mockService, admin), http.MethodPut, "/orders/"+orderID.String()+"/deliver", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"is_delivered":true`)

	mockService.AssertExpectations(t)
}
