package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateSKU      = errors.New("product with this sku already exists")
	ErrInvalidProduct    = errors.New("product violates catalog constraints")
)

var maxDiscount = decimal.NewFromInt(100)

type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	SKU         string          `json:"sku" db:"sku"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Discount    decimal.Decimal `json:"discount" db:"discount"`
	Stock       int             `json:"stock" db:"stock"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CategoryIDs []uuid.UUID     `json:"category_ids" db:"category_ids"`
	Images      []string        `json:"images" db:"images"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// PrimaryImage is the image used on order line items.
func (p *Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Store is the source of truth for product price, discount and stock.
//
// DecrementStock must be atomic: it succeeds only while stock >= qty and returns the remaining stock.
// On ErrInsufficientStock the returned int is the stock currently available.
type Store interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error)
	RestoreStock(ctx context.Context, id uuid.UUID, qty int) error
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p *Product) error
}
