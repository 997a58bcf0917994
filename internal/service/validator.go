package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/repository"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
)

// ValidatorService answers checkout questions about a coupon code. It never
// changes state.
type ValidatorService struct {
	repo    repository.CouponRepository
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewValidatorService creates a validator. now defaults to time.Now.
func NewValidatorService(repo repository.CouponRepository, metrics *Metrics, logger *slog.Logger, now func() time.Time) *ValidatorService {
	if now == nil {
		now = time.Now
	}
	return &ValidatorService{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		now:     now,
	}
}

// Validate checks code against a cart of cartTotal minor units for userID
// (nil for guests). Business failures and store failures are both reported
// in the result; store error details are only logged.
func (s *ValidatorService) Validate(ctx context.Context, code string, userID *string, cartTotal int64) *domain.ValidationResult {
	result := s.validate(ctx, strings.TrimSpace(code), normalizeUserID(userID), cartTotal)

	if result.Valid {
		s.metrics.validation("valid")
	} else {
		s.metrics.validation(result.Error)
	}
	return result
}

func (s *ValidatorService) validate(ctx context.Context, code string, userID *string, cartTotal int64) *domain.ValidationResult {
	if code == "" {
		return domain.Invalid(domain.ReasonNotFound)
	}

	snap, err := s.repo.LoadForValidation(ctx, code, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.Invalid(domain.ReasonNotFound)
		}
		s.logger.ErrorContext(ctx, "coupon validation failed",
			slog.String("operation", "validate"),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		return domain.Invalid(domain.ReasonValidationFailed)
	}

	c := snap.Coupon
	if reason := c.Eligibility(s.now(), cartTotal, userID != nil, snap.UserUsageCount); reason != "" {
		result := domain.Invalid(reason)
		if reason == domain.ReasonMinimumNotMet {
			minAmount := c.MinPurchaseAmount
			result.MinAmount = &minAmount
		}
		return result
	}

	return &domain.ValidationResult{
		Valid:          true,
		CouponID:       c.ID,
		Code:           c.Code,
		DiscountType:   c.DiscountType,
		DiscountValue:  c.DiscountValue,
		DiscountAmount: c.Discount(cartTotal),
		Description:    c.Description,
	}
}

// normalizeUserID treats a blank user id as a guest checkout.
func normalizeUserID(userID *string) *string {
	if userID == nil {
		return nil
	}
	id := strings.TrimSpace(*userID)
	if id == "" {
		return nil
	}
	return &id
}
