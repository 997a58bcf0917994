package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/event"
	"github.com/shopdesk/coupon-service/internal/repository"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
	"github.com/shopdesk/coupon-service/pkg/pagination"
	"github.com/shopdesk/coupon-service/pkg/slug"
)

// maxCodeLength matches the coupons.code column.
const maxCodeLength = 50

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// AdminService implements the admin panel's coupon management.
type AdminService struct {
	repo     repository.CouponRepository
	producer *event.Producer
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new admin service.
func NewAdminService(repo repository.CouponRepository, producer *event.Producer, logger *slog.Logger) *AdminService {
	return &AdminService{
		repo:     repo,
		producer: producer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateCouponInput holds the parameters for creating a coupon.
type CreateCouponInput struct {
	Code              string
	Description       string
	DiscountType      string
	DiscountValue     int64
	MinPurchaseAmount int64
	MaxDiscountAmount *int64
	UsageLimit        *int
	UsageLimitPerUser *int
	StartDate         *time.Time
	EndDate           *time.Time
	IsActive          *bool
}

// UpdateCouponInput holds a partial update. Nil fields are left unchanged.
type UpdateCouponInput struct {
	Code              *string
	Description       *string
	DiscountType      *string
	DiscountValue     *int64
	MinPurchaseAmount *int64
	MaxDiscountAmount *int64
	UsageLimit        *int
	UsageLimitPerUser *int
	StartDate         *time.Time
	EndDate           *time.Time
	IsActive          *bool

	// Clear flags reset a nullable field to null: no discount cap, no
	// usage limit, or an open start or end of the validity window.
	ClearMaxDiscountAmount bool
	ClearUsageLimit        bool
	ClearUsageLimitPerUser bool
	ClearStartDate         bool
	ClearEndDate           bool
}

func (in *UpdateCouponInput) checkClears() error {
	conflicts := []struct {
		field string
		set   bool
		clear bool
	}{
		{"max_discount_amount", in.MaxDiscountAmount != nil, in.ClearMaxDiscountAmount},
		{"usage_limit", in.UsageLimit != nil, in.ClearUsageLimit},
		{"usage_limit_per_user", in.UsageLimitPerUser != nil, in.ClearUsageLimitPerUser},
		{"start_date", in.StartDate != nil, in.ClearStartDate},
		{"end_date", in.EndDate != nil, in.ClearEndDate},
	}
	for _, c := range conflicts {
		if c.set && c.clear {
			return apperrors.InvalidInput(fmt.Sprintf("%s cannot be set and cleared in the same update", c.field))
		}
	}
	return nil
}

// CreateCoupon validates and persists a new coupon. An empty code is
// generated from the description.
func (s *AdminService) CreateCoupon(ctx context.Context, input *CreateCouponInput) (*domain.Coupon, error) {
	code := normalizeCode(input.Code)
	if code == "" {
		code = generateCouponCode(input.Description)
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	now := s.now()
	coupon := &domain.Coupon{
		ID:                uuid.New().String(),
		Code:              code,
		Description:       strings.TrimSpace(input.Description),
		DiscountType:      input.DiscountType,
		DiscountValue:     input.DiscountValue,
		MinPurchaseAmount: input.MinPurchaseAmount,
		MaxDiscountAmount: input.MaxDiscountAmount,
		UsageLimit:        input.UsageLimit,
		UsageLimitPerUser: input.UsageLimitPerUser,
		StartDate:         input.StartDate,
		EndDate:           input.EndDate,
		IsActive:          isActive,
		UsedCount:         0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := validateCoupon(coupon); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, coupon); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	if err := s.producer.PublishCouponCreated(ctx, coupon); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish coupon.created event",
			slog.String("coupon_id", coupon.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "coupon created",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
	)

	return coupon, nil
}

// GetCoupon retrieves a coupon by its ID.
func (s *AdminService) GetCoupon(ctx context.Context, id string) (*domain.Coupon, error) {
	coupon, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon by id: %w", err)
	}
	return coupon, nil
}

// GetCouponByCode retrieves a coupon by its code, ignoring case.
func (s *AdminService) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon, err := s.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return coupon, nil
}

// ListCoupons returns a filtered, paginated list of coupons.
func (s *AdminService) ListCoupons(ctx context.Context, filter repository.CouponFilter) ([]domain.Coupon, int, error) {
	p := pagination.New(filter.Page, filter.PerPage)
	filter.Page, filter.PerPage = p.Page, p.PerPage

	if filter.DiscountType != nil && !domain.IsValidDiscountType(*filter.DiscountType) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid discount type %q, must be one of: %s", *filter.DiscountType, strings.Join(domain.ValidDiscountTypes(), ", ")))
	}

	coupons, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}

	return coupons, total, nil
}

// UpdateCoupon applies a partial update. used_count cannot be changed here.
func (s *AdminService) UpdateCoupon(ctx context.Context, id string, input *UpdateCouponInput) (*domain.Coupon, error) {
	if err := input.checkClears(); err != nil {
		return nil, err
	}

	coupon, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon for update: %w", err)
	}

	if input.Code != nil {
		coupon.Code = normalizeCode(*input.Code)
	}
	if input.Description != nil {
		coupon.Description = strings.TrimSpace(*input.Description)
	}
	if input.DiscountType != nil {
		coupon.DiscountType = *input.DiscountType
	}
	if input.DiscountValue != nil {
		coupon.DiscountValue = *input.DiscountValue
	}
	if input.MinPurchaseAmount != nil {
		coupon.MinPurchaseAmount = *input.MinPurchaseAmount
	}
	if input.MaxDiscountAmount != nil {
		coupon.MaxDiscountAmount = input.MaxDiscountAmount
	}
	if input.UsageLimit != nil {
		coupon.UsageLimit = input.UsageLimit
	}
	if input.UsageLimitPerUser != nil {
		coupon.UsageLimitPerUser = input.UsageLimitPerUser
	}
	if input.StartDate != nil {
		coupon.StartDate = input.StartDate
	}
	if input.EndDate != nil {
		coupon.EndDate = input.EndDate
	}
	if input.IsActive != nil {
		coupon.IsActive = *input.IsActive
	}
	if input.ClearMaxDiscountAmount {
		coupon.MaxDiscountAmount = nil
	}
	if input.ClearUsageLimit {
		coupon.UsageLimit = nil
	}
	if input.ClearUsageLimitPerUser {
		coupon.UsageLimitPerUser = nil
	}
	if input.ClearStartDate {
		coupon.StartDate = nil
	}
	if input.ClearEndDate {
		coupon.EndDate = nil
	}

	if err := validateCoupon(coupon); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, coupon); err != nil {
		return nil, fmt.Errorf("update coupon: %w", err)
	}

	s.publishUpdated(ctx, coupon)

	s.logger.InfoContext(ctx, "coupon updated",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
	)

	return coupon, nil
}

// DeleteCoupon removes a coupon that was never redeemed.
func (s *AdminService) DeleteCoupon(ctx context.Context, id string) error {
	coupon, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get coupon for delete: %w", err)
	}

	used, err := s.repo.CountUsageByCoupon(ctx, id)
	if err != nil {
		return fmt.Errorf("count coupon usages for delete: %w", err)
	}
	if used > 0 {
		return apperrors.Conflict(fmt.Sprintf("coupon has %d recorded usages and cannot be deleted; deactivate it instead", used))
	}

	// The ledger foreign key still rejects a usage recorded after the count.
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}

	if err := s.producer.PublishCouponDeleted(ctx, coupon); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish coupon.deleted event",
			slog.String("coupon_id", coupon.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "coupon deleted",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
	)
	return nil
}

// SetActive activates or deactivates a coupon.
func (s *AdminService) SetActive(ctx context.Context, id string, active bool) (*domain.Coupon, error) {
	coupon, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return nil, fmt.Errorf("set coupon active: %w", err)
	}

	s.publishUpdated(ctx, coupon)

	s.logger.InfoContext(ctx, "coupon active flag changed",
		slog.String("coupon_id", coupon.ID),
		slog.Bool("is_active", coupon.IsActive),
	)
	return coupon, nil
}

// ResetUsage recomputes used_count from the ledger. It is the only write to
// the counter outside of recording a usage.
func (s *AdminService) ResetUsage(ctx context.Context, id string) (*domain.Coupon, error) {
	coupon, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon for usage reset: %w", err)
	}

	n, err := s.repo.ResetUsedCount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reset coupon used count: %w", err)
	}

	s.logger.WarnContext(ctx, "coupon used_count reset from ledger",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
		slog.Int("previous_used_count", coupon.UsedCount),
		slog.Int("used_count", n),
	)

	coupon.UsedCount = n
	return coupon, nil
}

// ListUsageHistory returns a coupon's ledger joined with buyer names and
// order numbers, most recent first.
func (s *AdminService) ListUsageHistory(ctx context.Context, couponID string, p pagination.Params) ([]domain.UsageHistoryEntry, int, error) {
	if _, err := s.repo.GetByID(ctx, couponID); err != nil {
		return nil, 0, fmt.Errorf("get coupon for usage history: %w", err)
	}

	entries, total, err := s.repo.ListUsageHistory(ctx, couponID, p.Page, p.PerPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list usage history: %w", err)
	}
	return entries, total, nil
}

// CouponStats aggregates a coupon's ledger.
func (s *AdminService) CouponStats(ctx context.Context, id string) (*domain.CouponStats, error) {
	coupon, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon for stats: %w", err)
	}

	usages, err := s.repo.ListUsageByCoupon(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list coupon usages: %w", err)
	}

	return domain.ComputeStats(coupon, usages, s.now()), nil
}

func (s *AdminService) publishUpdated(ctx context.Context, coupon *domain.Coupon) {
	if err := s.producer.PublishCouponUpdated(ctx, coupon); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish coupon.updated event",
			slog.String("coupon_id", coupon.ID),
			slog.String("error", err.Error()),
		)
	}
}

// validateCoupon checks the editable fields of c.
func validateCoupon(c *domain.Coupon) error {
	if c.Code == "" {
		return apperrors.InvalidInput("code must not be empty")
	}
	if len(c.Code) > maxCodeLength || !codePattern.MatchString(c.Code) {
		return apperrors.InvalidInput(fmt.Sprintf("code must be at most %d letters, digits, hyphens or underscores", maxCodeLength))
	}
	if !domain.IsValidDiscountType(c.DiscountType) {
		return apperrors.InvalidInput(fmt.Sprintf("invalid discount type %q, must be one of: %s", c.DiscountType, strings.Join(domain.ValidDiscountTypes(), ", ")))
	}
	if c.DiscountValue <= 0 {
		return apperrors.InvalidInput("discount value must be positive")
	}
	if c.DiscountType == domain.DiscountTypePercentage && c.DiscountValue > 100 {
		return apperrors.InvalidInput("percentage discount must not exceed 100")
	}
	if c.MinPurchaseAmount < 0 {
		return apperrors.InvalidInput("min purchase amount must not be negative")
	}
	if c.MaxDiscountAmount != nil && *c.MaxDiscountAmount < 0 {
		return apperrors.InvalidInput("max discount amount must not be negative")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return apperrors.InvalidInput("usage limit must not be negative")
	}
	if c.UsageLimitPerUser != nil && *c.UsageLimitPerUser < 0 {
		return apperrors.InvalidInput("per-user usage limit must not be negative")
	}
	if c.StartDate != nil && c.EndDate != nil && !c.EndDate.After(*c.StartDate) {
		return apperrors.InvalidInput("end date must be after start date")
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateCouponCode builds a readable code from the description plus a
// random suffix: "Summer Sale 2026" becomes "SUMMER-SALE-2026-A3F2".
func generateCouponCode(description string) string {
	const suffixLen = 5 // "-" and 4 hex chars
	base := slug.Truncate(slug.Generate(description), maxCodeLength-suffixLen)
	if base == "" {
		base = "coupon"
	}

	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return strings.ToUpper(base + "-" + uuid.New().String()[:4])
	}
	return strings.ToUpper(base + "-" + hex.EncodeToString(b))
}
