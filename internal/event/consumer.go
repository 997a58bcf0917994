package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopdesk/coupon-service/internal/domain"
	pkgkafka "github.com/shopdesk/coupon-service/pkg/kafka"
)

// TopicOrderPaid is consumed to record coupon usage for paid orders.
var TopicOrderPaid = pkgkafka.Topic("order", "paid")

// ConsumerGroup is the Kafka consumer group of this service.
const ConsumerGroup = "coupon-service"

// UsageRecorder defines what the consumer needs from the usage recorder.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, input domain.RecordUsageInput) (*domain.RecordResult, error)
}

// OrderPaidData is the expected payload of an order.paid event.
type OrderPaidData struct {
	OrderID        string  `json:"order_id"`
	UserID         *string `json:"user_id"`
	CouponID       *string `json:"coupon_id"`
	DiscountAmount int64   `json:"discount_amount"`
}

// Consumer processes incoming Kafka events for the coupon service.
type Consumer struct {
	recorder UsageRecorder
	logger   *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(recorder UsageRecorder, logger *slog.Logger) *Consumer {
	return &Consumer{
		recorder: recorder,
		logger:   logger,
	}
}

// HandleOrderPaid records coupon usage for a paid order. Orders without a
// coupon are ignored. Business rejections are logged and acknowledged;
// only store failures are returned so the message is retried.
func (c *Consumer) HandleOrderPaid(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderPaidData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode order.paid event %s: %w", event.EventID, err)
	}

	if data.CouponID == nil || *data.CouponID == "" {
		return nil
	}

	result, err := c.recorder.RecordUsage(ctx, domain.RecordUsageInput{
		CouponID:       *data.CouponID,
		UserID:         data.UserID,
		OrderID:        data.OrderID,
		DiscountAmount: data.DiscountAmount,
	})
	if err != nil {
		return fmt.Errorf("record usage for order %s: %w", data.OrderID, err)
	}

	if !result.OK {
		c.logger.WarnContext(ctx, "coupon usage from order.paid rejected",
			slog.String("order_id", data.OrderID),
			slog.String("coupon_id", *data.CouponID),
			slog.String("reason", result.Reason),
		)
		return nil
	}

	c.logger.InfoContext(ctx, "coupon usage recorded from order.paid",
		slog.String("order_id", data.OrderID),
		slog.String("coupon_id", *data.CouponID),
		slog.Bool("duplicate", result.Duplicate),
	)
	return nil
}
