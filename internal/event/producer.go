package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopdesk/coupon-service/internal/domain"
	pkgkafka "github.com/shopdesk/coupon-service/pkg/kafka"
	"github.com/shopdesk/coupon-service/pkg/logger"
)

// Kafka topic constants for coupon domain events.
var (
	TopicCouponCreated  = pkgkafka.Topic("coupon", "created")
	TopicCouponUpdated  = pkgkafka.Topic("coupon", "updated")
	TopicCouponDeleted  = pkgkafka.Topic("coupon", "deleted")
	TopicCouponRedeemed = pkgkafka.Topic("coupon", "redeemed")
)

// AggregateTypeCoupon is the aggregate type of every coupon event.
const AggregateTypeCoupon = "coupon"

// SourceCouponService identifies events originating from this service.
const SourceCouponService = "coupon-service"

// CouponData is the payload of coupon.created and coupon.updated events.
type CouponData struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	DiscountType  string `json:"discount_type"`
	DiscountValue int64  `json:"discount_value"`
	IsActive      bool   `json:"is_active"`
	UsageLimit    *int   `json:"usage_limit,omitempty"`
}

// CouponDeletedData is the payload of a coupon.deleted event.
type CouponDeletedData struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// CouponRedeemedData is the payload of a coupon.redeemed event.
type CouponRedeemedData struct {
	CouponID       string  `json:"coupon_id"`
	UserID         *string `json:"user_id,omitempty"`
	OrderID        string  `json:"order_id"`
	DiscountAmount int64   `json:"discount_amount"`
	UsedCount      int     `json:"used_count"`
}

// Publisher is the part of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes coupon domain events. A Producer without a publisher
// drops every event, which is how events are turned off.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the coupon service.
// publisher may be nil.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishCouponCreated publishes a coupon.created event.
func (p *Producer) PublishCouponCreated(ctx context.Context, c *domain.Coupon) error {
	return p.publish(ctx, TopicCouponCreated, c.ID, couponData(c))
}

// PublishCouponUpdated publishes a coupon.updated event.
func (p *Producer) PublishCouponUpdated(ctx context.Context, c *domain.Coupon) error {
	return p.publish(ctx, TopicCouponUpdated, c.ID, couponData(c))
}

// PublishCouponDeleted publishes a coupon.deleted event.
func (p *Producer) PublishCouponDeleted(ctx context.Context, c *domain.Coupon) error {
	return p.publish(ctx, TopicCouponDeleted, c.ID, CouponDeletedData{ID: c.ID, Code: c.Code})
}

// PublishCouponRedeemed publishes a coupon.redeemed event after a usage was
// committed.
func (p *Producer) PublishCouponRedeemed(ctx context.Context, u *domain.CouponUsage, usedCount int) error {
	return p.publish(ctx, TopicCouponRedeemed, u.CouponID, CouponRedeemedData{
		CouponID:       u.CouponID,
		UserID:         u.UserID,
		OrderID:        u.OrderID,
		DiscountAmount: u.DiscountAmount,
		UsedCount:      usedCount,
	})
}

func (p *Producer) publish(ctx context.Context, topic, couponID string, data any) error {
	if p == nil || p.publisher == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(topic, couponID, AggregateTypeCoupon, SourceCouponService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published coupon event",
		slog.String("topic", topic),
		slog.String("coupon_id", couponID),
	)
	return nil
}

func couponData(c *domain.Coupon) CouponData {
	return CouponData{
		ID:            c.ID,
		Code:          c.Code,
		DiscountType:  c.DiscountType,
		DiscountValue: c.DiscountValue,
		IsActive:      c.IsActive,
		UsageLimit:    c.UsageLimit,
	}
}
