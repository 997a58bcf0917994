package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/event"
	"github.com/shopdesk/coupon-service/internal/repository"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
)

// RecorderService records coupon redemptions for paid orders.
type RecorderService struct {
	repo     repository.CouponRepository
	producer *event.Producer
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecorderService creates a usage recorder.
func NewRecorderService(repo repository.CouponRepository, producer *event.Producer, metrics *Metrics, logger *slog.Logger) *RecorderService {
	return &RecorderService{
		repo:     repo,
		producer: producer,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordUsage re-validates the coupon and appends a ledger row for the
// order in one store transaction. Recording the same order twice is a
// successful no-op. The returned error is reserved for invalid input and
// store failures.
func (s *RecorderService) RecordUsage(ctx context.Context, input domain.RecordUsageInput) (*domain.RecordResult, error) {
	input.CouponID = strings.TrimSpace(input.CouponID)
	input.OrderID = strings.TrimSpace(input.OrderID)
	input.UserID = normalizeUserID(input.UserID)

	if input.CouponID == "" {
		return nil, apperrors.InvalidInput("coupon_id is required")
	}
	if input.OrderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	if input.DiscountAmount < 0 {
		return nil, apperrors.InvalidInput("discount_amount must not be negative")
	}

	usage := &domain.CouponUsage{
		ID:             uuid.New().String(),
		CouponID:       input.CouponID,
		UserID:         input.UserID,
		OrderID:        input.OrderID,
		DiscountAmount: input.DiscountAmount,
		UsedAt:         s.now(),
	}

	out, err := s.repo.RecordUsage(ctx, usage)
	if err != nil {
		s.metrics.redemption("error")
		s.logger.ErrorContext(ctx, "failed to record coupon usage",
			slog.String("operation", "record_usage"),
			slog.String("coupon_id", input.CouponID),
			slog.String("order_id", input.OrderID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("record coupon usage: %w", err)
	}

	s.metrics.redemption(out.Status.String())

	switch out.Status {
	case domain.RecordStatusRecorded:
		if err := s.producer.PublishCouponRedeemed(ctx, usage, out.UsedCount); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish coupon.redeemed event",
				slog.String("coupon_id", usage.CouponID),
				slog.String("order_id", usage.OrderID),
				slog.String("error", err.Error()),
			)
		}

		s.logger.InfoContext(ctx, "coupon usage recorded",
			slog.String("coupon_id", usage.CouponID),
			slog.String("order_id", usage.OrderID),
			slog.Int64("discount_amount", usage.DiscountAmount),
			slog.Int("used_count", out.UsedCount),
		)
		return &domain.RecordResult{OK: true, UsedCount: out.UsedCount}, nil

	case domain.RecordStatusDuplicate:
		s.logger.InfoContext(ctx, "coupon usage already recorded for order",
			slog.String("coupon_id", usage.CouponID),
			slog.String("order_id", usage.OrderID),
		)
		return &domain.RecordResult{OK: true, Duplicate: true}, nil

	default:
		s.logger.InfoContext(ctx, "coupon usage rejected",
			slog.String("coupon_id", usage.CouponID),
			slog.String("order_id", usage.OrderID),
			slog.String("reason", out.Status.Reason()),
		)
		return &domain.RecordResult{OK: false, Reason: out.Status.Reason()}, nil
	}
}
