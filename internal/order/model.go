package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

type PaymentMethod string

const (
	PaymentStripe PaymentMethod = "stripe"
	PaymentPayPal PaymentMethod = "paypal"
	PaymentCOD    PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentStripe, PaymentPayPal, PaymentCOD:
		return true
	}
	return false
}

// OrderItem is a frozen copy of the product at purchase time. Catalog edits never touch it.
type OrderItem struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrderID   uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID uuid.UUID       `json:"product_id" db:"product_id"`
	Name      string          `json:"name" db:"name"`
	SKU       string          `json:"sku" db:"sku"`
	Image     string          `json:"image,omitempty" db:"image"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  int             `json:"quantity" db:"quantity"`
}

// LineTotal is the unit price times the quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ShippingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

// PaymentResult is the confirmation payload reported by the payment provider, stored as received.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Items           []OrderItem     `json:"items" db:"-"`
	ShippingAddress ShippingAddress `json:"shipping_address" db:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method" db:"payment_method"`
	PaymentResult   *PaymentResult  `json:"payment_result,omitempty" db:"payment_result"`
	ItemsPrice      decimal.Decimal `json:"items_price" db:"items_price"`
	ShippingPrice   decimal.Decimal `json:"shipping_price" db:"shipping_price"`
	TaxPrice        decimal.Decimal `json:"tax_price" db:"tax_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	TotalPrice      decimal.Decimal `json:"total_price" db:"total_price"`
	CouponCode      string          `json:"coupon_code,omitempty" db:"coupon_code"`
	Notes           string          `json:"notes,omitempty" db:"notes"`
	Status          Status          `json:"status" db:"status"`
	IsPaid          bool            `json:"is_paid" db:"is_paid"`
	PaidAt          *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	IsDelivered     bool            `json:"is_delivered" db:"is_delivered"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
	TrackingNumber  string          `json:"tracking_number,omitempty" db:"tracking_number"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// StatusUpdate describes a guarded transition: it only applies while the order is still in From.
type StatusUpdate struct {
	From           Status
	To             Status
	TrackingNumber *string
	At             time.Time
}

type ListFilter struct {
	Status Status
	Sort   string
	Limit  int
}

type Stats struct {
	TotalOrders  int64            `json:"total_orders"`
	ByStatus     map[Status]int64 `json:"by_status"`
	RecentOrders int64            `json:"recent_orders"`
	TotalRevenue decimal.Decimal  `json:"total_revenue"`
}
