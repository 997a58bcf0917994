package kafka

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// IdempotencyStore remembers processed event ids. Implementations must be
// safe for concurrent use.
type IdempotencyStore interface {
	Contains(ctx context.Context, eventID string) (bool, error)
	Add(ctx context.Context, eventID string) error
}

// IdempotentHandler skips events whose id was already handled. Store
// failures never block processing; the id is recorded only after inner
// succeeds. skipped may be nil.
func IdempotentHandler(store IdempotencyStore, inner Handler, skipped prometheus.Counter, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		seen, err := store.Contains(ctx, event.EventID)
		if err != nil {
			logger.WarnContext(ctx, "idempotency lookup failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		if seen {
			if skipped != nil {
				skipped.Inc()
			}
			logger.DebugContext(ctx, "duplicate event skipped",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if err := store.Add(ctx, event.EventID); err != nil {
			logger.WarnContext(ctx, "idempotency record failed",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
