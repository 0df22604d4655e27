package squarewebhook

import (
	"context"
	"time"

	"github.com/angelmondragon/pointbank-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pointbank-backend/pkg/redis"
)

const webhookConsumer = "square-webhook"

// IdempotencyGuard deduplicates webhook deliveries by event id.
type IdempotencyGuard struct {
	manager  *idempotency.Manager
	consumer string
}

// NewIdempotencyGuard wraps the shared idempotency manager with a fixed
// consumer scope for Square deliveries.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, consumer string) (*IdempotencyGuard, error) {
	manager, err := idempotency.NewManager(store, ttl)
	if err != nil {
		return nil, err
	}
	if consumer == "" {
		consumer = webhookConsumer
	}
	return &IdempotencyGuard{manager: manager, consumer: consumer}, nil
}

// CheckAndMark reports whether the event was already processed, marking it otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return g.manager.CheckAndMarkProcessed(ctx, g.consumer, eventID)
}

// Delete clears the processed marker so a failed delivery can be retried.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	return g.manager.Delete(ctx, g.consumer, eventID)
}
