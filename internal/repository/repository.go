package repository

import (
	"context"
	"time"

	"github.com/shopdesk/coupon-service/internal/domain"
)

// CouponFilter defines filter criteria for listing coupons.
type CouponFilter struct {
	IsActive     *bool
	DiscountType *string
	Search       *string
	Page         int
	PerPage      int
}

// CouponRepository defines the persistence operations for coupons and the
// usage ledger. Store failures are returned wrapped in
// apperrors.ErrServiceUnavail; a missing coupon is apperrors.ErrNotFound.
type CouponRepository interface {
	// Create inserts a new coupon.
	Create(ctx context.Context, coupon *domain.Coupon) error

	// GetByID retrieves a coupon by its identifier.
	GetByID(ctx context.Context, id string) (*domain.Coupon, error)

	// FindByCode retrieves a coupon by code, ignoring case.
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// LoadForValidation reads the coupon for code together with the number of
	// ledger rows for userID in a single statement. userID may be nil.
	LoadForValidation(ctx context.Context, code string, userID *string) (*domain.ValidationSnapshot, error)

	// CountUsageByCouponAndUser counts ledger rows for a coupon and buyer.
	CountUsageByCouponAndUser(ctx context.Context, couponID, userID string) (int, error)

	// RecordUsage re-validates the coupon, increments used_count and appends
	// the ledger row in one transaction.
	RecordUsage(ctx context.Context, usage *domain.CouponUsage) (*domain.RecordOutcome, error)

	// List returns coupons matching the filter, newest first, with the total count.
	List(ctx context.Context, filter CouponFilter) ([]domain.Coupon, int, error)

	// Update writes every editable field. used_count is left untouched.
	Update(ctx context.Context, coupon *domain.Coupon) error

	// Delete removes a coupon that has no ledger rows.
	Delete(ctx context.Context, id string) error

	// SetActive flips the is_active flag.
	SetActive(ctx context.Context, id string, active bool) (*domain.Coupon, error)

	// ResetUsedCount sets used_count to the ledger row count and returns it.
	ResetUsedCount(ctx context.Context, id string) (int, error)

	// ListUsageHistory returns ledger rows joined with buyer and order data,
	// most recent first, with the total count.
	ListUsageHistory(ctx context.Context, couponID string, page, perPage int) ([]domain.UsageHistoryEntry, int, error)

	// ListUsageByCoupon returns every ledger row of a coupon.
	ListUsageByCoupon(ctx context.Context, couponID string) ([]domain.CouponUsage, error)

	// CountUsageByCoupon counts ledger rows of a coupon.
	CountUsageByCoupon(ctx context.Context, couponID string) (int, error)
}

// RevocationStore remembers revoked admin token ids until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// EventStore remembers processed event ids so redelivered events are skipped.
type EventStore interface {
	Contains(ctx context.Context, eventID string) (bool, error)
	Add(ctx context.Context, eventID string) error
}
