package domain

import (
	"encoding/json"
	"time"
)

// Reasons reported to checkout when a coupon does not apply.
const (
	ReasonNotFound            = "not found"
	ReasonInactive            = "inactive"
	ReasonNotYetStarted       = "not yet started"
	ReasonExpired             = "expired"
	ReasonMinimumNotMet       = "minimum purchase not met"
	ReasonUsageLimitReached   = "usage limit reached"
	ReasonPerUserLimitReached = "per-user limit reached"
	ReasonValidationFailed    = "validation failed"
)

// ValidationResult is the answer to a checkout validation. Business
// failures are reported through Valid and Error, never as Go errors.
type ValidationResult struct {
	Valid          bool   `json:"valid"`
	Error          string `json:"error,omitempty"`
	MinAmount      *int64 `json:"min_amount,omitempty"`
	CouponID       string `json:"coupon_id,omitempty"`
	Code           string `json:"code,omitempty"`
	DiscountType   string `json:"discount_type,omitempty"`
	DiscountValue  int64  `json:"discount_value,omitempty"`
	DiscountAmount int64  `json:"discount_amount"`
	Description    string `json:"description,omitempty"`
}

// MarshalJSON leaves discount_amount out of rejected results. A valid
// result always carries it, even when the discount is zero.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	type plain ValidationResult
	if r.Valid {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		DiscountAmount *int64 `json:"discount_amount,omitempty"`
	}{plain: plain(r)})
}

// Invalid builds a rejected ValidationResult.
func Invalid(reason string) *ValidationResult {
	return &ValidationResult{Error: reason}
}

// RecordStatus is the store-level outcome of recording a usage.
type RecordStatus int

const (
	RecordStatusRecorded RecordStatus = iota
	RecordStatusDuplicate
	RecordStatusNotFound
	RecordStatusInactive
	RecordStatusNotYetStarted
	RecordStatusExpired
	RecordStatusLimitReached
	RecordStatusPerUserLimitReached
)

var recordReasons = map[RecordStatus]string{
	RecordStatusNotFound:            ReasonNotFound,
	RecordStatusInactive:            ReasonInactive,
	RecordStatusNotYetStarted:       ReasonNotYetStarted,
	RecordStatusExpired:             ReasonExpired,
	RecordStatusLimitReached:        ReasonUsageLimitReached,
	RecordStatusPerUserLimitReached: ReasonPerUserLimitReached,
}

// Reason returns the rejection reason, or "" for recorded and duplicate.
func (s RecordStatus) Reason() string {
	return recordReasons[s]
}

func (s RecordStatus) String() string {
	switch s {
	case RecordStatusRecorded:
		return "recorded"
	case RecordStatusDuplicate:
		return "duplicate"
	default:
		if r, ok := recordReasons[s]; ok {
			return r
		}
		return "unknown"
	}
}

// RecordStatusFromReason maps an availability reason to a RecordStatus.
func RecordStatusFromReason(reason string) RecordStatus {
	for s, r := range recordReasons {
		if r == reason {
			return s
		}
	}
	return RecordStatusRecorded
}

// RecordOutcome is what the store reports after a RecordUsage transaction.
type RecordOutcome struct {
	Status    RecordStatus
	UsedCount int
}

// CouponStats aggregates a coupon's ledger for the admin dashboard.
type CouponStats struct {
	CouponID           string     `json:"coupon_id"`
	Redemptions        int        `json:"redemptions"`
	UniqueUsers        int        `json:"unique_users"`
	AnonymousUses      int        `json:"anonymous_uses"`
	TotalDiscount      int64      `json:"total_discount"`
	AverageDiscount    int64      `json:"average_discount"`
	RedemptionsLast7d  int        `json:"redemptions_last_7d"`
	RedemptionsLast30d int        `json:"redemptions_last_30d"`
	FirstUsedAt        *time.Time `json:"first_used_at"`
	LastUsedAt         *time.Time `json:"last_used_at"`
	UsedCount          int        `json:"used_count"`
	UsageLimit         *int       `json:"usage_limit"`
	RemainingUses      *int       `json:"remaining_uses"`
}

// RecordUsageInput is a request to record that a coupon was applied to a
// paid order. UserID is nil for anonymous checkouts.
type RecordUsageInput struct {
	CouponID       string  `json:"coupon_id"`
	UserID         *string `json:"user_id"`
	OrderID        string  `json:"order_id"`
	DiscountAmount int64   `json:"discount_amount"`
}

// RecordResult is the business outcome of recording a usage. A duplicate
// order is reported as OK with Duplicate set.
type RecordResult struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
	UsedCount int    `json:"used_count,omitempty"`
}
