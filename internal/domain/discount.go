package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Discount computes the amount the coupon takes off cartTotal.
//
// Percentage coupons take value% of the cart rounded half away from zero to
// a whole minor unit, then apply MaxDiscountAmount. Fixed coupons take
// their value. The result is always within [0, cartTotal].
func (c *Coupon) Discount(cartTotal int64) int64 {
	if cartTotal <= 0 || c.DiscountValue <= 0 {
		return 0
	}

	var amount int64
	switch c.DiscountType {
	case DiscountTypePercentage:
		amount = decimal.NewFromInt(cartTotal).
			Mul(decimal.NewFromInt(c.DiscountValue)).
			Div(hundred).
			Round(0).
			IntPart()
		if c.MaxDiscountAmount != nil && amount > *c.MaxDiscountAmount {
			amount = *c.MaxDiscountAmount
		}
	case DiscountTypeFixedAmount:
		amount = c.DiscountValue
	}

	return max(0, min(amount, cartTotal))
}
