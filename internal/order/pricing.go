package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type PricingRules struct {
	FreeShippingThreshold decimal.Decimal
	ShippingFee           decimal.Decimal
	TaxRate               decimal.Decimal
	// Coupons maps an upper-case code to its percentage off the items subtotal.
	Coupons map[string]decimal.Decimal
}

type PriceBreakdown struct {
	ItemsPrice     decimal.Decimal
	ShippingPrice  decimal.Decimal
	TaxPrice       decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalPrice     decimal.Decimal
}

// EffectivePrice applies a percentage discount to a catalog price and rounds to cents.
func EffectivePrice(price, discountPercent decimal.Decimal) decimal.Decimal {
	if !discountPercent.IsPositive() {
		return price.Round(2)
	}
	return price.Mul(hundred.Sub(discountPercent)).Div(hundred).Round(2)
}

// CouponPercent looks a code up case-insensitively. Unknown codes are not an error.
func (r PricingRules) CouponPercent(code string) (decimal.Decimal, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return decimal.Zero, false
	}
	percent, ok := r.Coupons[code]
	return percent, ok
}

func (r PricingRules) Price(items []OrderItem, couponCode string) PriceBreakdown {
	itemsPrice := decimal.Zero
	for _, item := range items {
		itemsPrice = itemsPrice.Add(item.LineTotal())
	}
	itemsPrice = itemsPrice.Round(2)

	shipping := r.ShippingFee
	if itemsPrice.GreaterThanOrEqual(r.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := itemsPrice.Mul(r.TaxRate).Round(2)

	discount := decimal.Zero
	if percent, ok := r.CouponPercent(couponCode); ok {
		discount = itemsPrice.Mul(percent).Div(hundred).Round(2)
	}

	return PriceBreakdown{
		ItemsPrice:     itemsPrice,
		ShippingPrice:  shipping,
		TaxPrice:       tax,
		DiscountAmount: discount,
		TotalPrice:     itemsPrice.Add(shipping).Add(tax).Sub(discount),
	}
}
