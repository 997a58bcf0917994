package domain

import (
	"slices"
	"time"
)

// Discount type constants.
const (
	DiscountTypePercentage  = "percentage"
	DiscountTypeFixedAmount = "fixed_amount"
)

// Coupon is a redeemable discount code. Amounts are in minor currency units;
// a percentage DiscountValue is whole percent.
type Coupon struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	Description       string     `json:"description"`
	DiscountType      string     `json:"discount_type"`
	DiscountValue     int64      `json:"discount_value"`
	MinPurchaseAmount int64      `json:"min_purchase_amount"`
	MaxDiscountAmount *int64     `json:"max_discount_amount"`
	UsageLimit        *int       `json:"usage_limit"`
	UsageLimitPerUser *int       `json:"usage_limit_per_user"`
	StartDate         *time.Time `json:"start_date"`
	EndDate           *time.Time `json:"end_date"`
	IsActive          bool       `json:"is_active"`
	UsedCount         int        `json:"used_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CouponUsage is one immutable ledger row: a coupon applied to an order.
type CouponUsage struct {
	ID             string    `json:"id"`
	CouponID       string    `json:"coupon_id"`
	UserID         *string   `json:"user_id"`
	OrderID        string    `json:"order_id"`
	DiscountAmount int64     `json:"discount_amount"`
	UsedAt         time.Time `json:"used_at"`
}

// UsageHistoryEntry is a ledger row joined with the buyer's display name and
// the order number, for the admin audit view.
type UsageHistoryEntry struct {
	CouponUsage
	UserDisplayName *string `json:"user_display_name"`
	OrderNumber     *string `json:"order_number"`
}

// ValidationSnapshot is everything Validate needs, read in one statement.
type ValidationSnapshot struct {
	Coupon         *Coupon
	UserUsageCount int
}

// ValidDiscountTypes returns the supported discount types.
func ValidDiscountTypes() []string {
	return []string{DiscountTypePercentage, DiscountTypeFixedAmount}
}

// IsValidDiscountType reports whether t is a supported discount type.
func IsValidDiscountType(t string) bool {
	return slices.Contains(ValidDiscountTypes(), t)
}

// PerUserLimit returns the per-user cap, 0 meaning unlimited.
func (c *Coupon) PerUserLimit() int {
	if c.UsageLimitPerUser == nil || *c.UsageLimitPerUser < 0 {
		return 0
	}
	return *c.UsageLimitPerUser
}

// UsageLimitReached reports whether the global cap is exhausted.
func (c *Coupon) UsageLimitReached() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// Availability checks the state that does not depend on the cart or the
// buyer: expiry, active flag and start date. It returns "" when the coupon
// can be used at now.
func (c *Coupon) Availability(now time.Time) string {
	switch {
	case c.EndDate != nil && now.After(*c.EndDate):
		return ReasonExpired
	case !c.IsActive:
		return ReasonInactive
	case c.StartDate != nil && now.Before(*c.StartDate):
		return ReasonNotYetStarted
	default:
		return ""
	}
}

// Eligibility runs every business rule for a checkout and returns the first
// failing reason, or "" when the coupon applies. userUsage is the number of
// ledger rows for the buyer and is ignored for anonymous checkouts.
func (c *Coupon) Eligibility(now time.Time, cartTotal int64, hasUser bool, userUsage int) string {
	if reason := c.Availability(now); reason != "" {
		return reason
	}
	if cartTotal < c.MinPurchaseAmount {
		return ReasonMinimumNotMet
	}
	if c.UsageLimitReached() {
		return ReasonUsageLimitReached
	}
	if limit := c.PerUserLimit(); hasUser && limit > 0 && userUsage >= limit {
		return ReasonPerUserLimitReached
	}
	return ""
}
