package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/order-service/internal/auth"
	"github.com/vasiliy-maslov/storefront/order-service/internal/inventory"
	"github.com/vasiliy-maslov/storefront/order-service/internal/order"
)

type ProductRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	SKU         string          `json:"sku" validate:"required,max=64"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	Stock       int             `json:"stock" validate:"gte=0"`
	IsActive    *bool           `json:"is_active"`
	CategoryIDs []uuid.UUID     `json:"category_ids"`
	Images      []string        `json:"images" validate:"dive,required"`
}

// moneyErrors covers the decimal fields validator cannot inspect.
func (p ProductRequest) moneyErrors() []order.FieldError {
	var fields []order.FieldError
	if p.Price.IsNegative() {
		fields = append(fields, order.FieldError{Field: "price", Message: "must be greater than or equal to 0"})
	}
	if p.Discount.IsNegative() || p.Discount.GreaterThan(decimal.NewFromInt(100)) {
		fields = append(fields, order.FieldError{Field: "discount", Message: "must be between 0 and 100"})
	}
	return fields
}

func (p ProductRequest) toProduct(id uuid.UUID) *inventory.Product {
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return &inventory.Product{
		ID:          id,
		Name:        p.Name,
		SKU:         p.SKU,
		Price:       p.Price.Round(2),
		Discount:    p.Discount,
		Stock:       p.Stock,
		IsActive:    active,
		CategoryIDs: p.CategoryIDs,
		Images:      p.Images,
	}
}

type ProductHandler struct {
	store    inventory.Store
	validate *validator.Validate
}

func NewProductHandler(store inventory.Store) *ProductHandler {
	return &ProductHandler{
		store:    store,
		validate: newValidator(),
	}
}

// RegisterRoutes exposes reads publicly; writes go through authn and an admin role check.
func (h *ProductHandler) RegisterRoutes(router chi.Router, authn func(http.Handler) http.Handler) {
	router.Get("/products/{id}", h.handleGetProduct)
	router.Group(func(admin chi.Router) {
		admin.Use(authn, auth.RequireRole(auth.RoleAdmin))
		admin.Post("/products", h.handleCreateProduct)
		admin.Put("/products/{id}", h.handleUpdateProduct)
	})
}

func (h *ProductHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseIDParam(w, chi.URLParam(r, "id"), "product")
	if !ok {
		return
	}

	product, err := h.store.GetProduct(r.Context(), productID)
	if err != nil {
		respondWithServiceError(w, err, "get product")
		return
	}

	respondWithJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var requestPayload ProductRequest
	if !h.decodeProduct(w, r, &requestPayload) {
		return
	}

	product := requestPayload.toProduct(uuid.Nil)
	if err := h.store.CreateProduct(r.Context(), product); err != nil {
		respondWithServiceError(w, err, "create product")
		return
	}

	respondWithJSON(w, http.StatusCreated, product)
}

func (h *ProductHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseIDParam(w, chi.URLParam(r, "id"), "product")
	if !ok {
		return
	}

	var requestPayload ProductRequest
	if !h.decodeProduct(w, r, &requestPayload) {
		return
	}

	product := requestPayload.toProduct(productID)
	if err := h.store.UpdateProduct(r.Context(), product); err != nil {
		respondWithServiceError(w, err, "update product")
		return
	}

	respondWithJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) decodeProduct(w http.ResponseWriter, r *http.Request, dst *ProductRequest) bool {
	if !decodeAndValidate(w, r, h.validate, dst, true) {
		return false
	}
	if fields := dst.moneyErrors(); len(fields) > 0 {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{Error: "Validation failed", Details: fields})
		return false
	}
	return true
}
