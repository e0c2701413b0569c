package events

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/metrics"
)

// EventStore hands out unpublished outbox rows and records which of them
// reached the broker.
type EventStore interface {
	WithUnpublishedEvents(ctx context.Context, limit int, fn func(ctx context.Context, events []appointment.EventLog) ([]int64, error)) error
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg Message) error
}

const defaultBatchSize = 100

// Relay moves outbox rows to the broker in id order. A batch stops at the
// first failed publish so consumers never see an event before its
// predecessors; the rest is retried on the next run.
type Relay struct {
	store     EventStore
	publisher Publisher
	batchSize int
	logger    zerolog.Logger
}

func NewRelay(store EventStore, publisher Publisher, batchSize int, logger zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "event-relay").Logger(),
	}
}

// RoutingKey maps APPOINTMENT_STATUS_CHANGED to appointment.status_changed.
func RoutingKey(eventType string) string {
	return "appointment." + strings.ToLower(strings.TrimPrefix(eventType, "APPOINTMENT_"))
}

// RunOnce publishes one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var published []int64
	err := r.store.WithUnpublishedEvents(ctx, r.batchSize, func(ctx context.Context, batch []appointment.EventLog) ([]int64, error) {
		for _, ev := range batch {
			msg := Message{
				ID:        strconv.FormatInt(ev.ID, 10),
				Type:      ev.EventType,
				Body:      ev.Payload,
				Timestamp: ev.CreatedAt,
			}
			if err := r.publisher.Publish(ctx, RoutingKey(ev.EventType), msg); err != nil {
				metrics.RecordEventPublish(ev.EventType, false)
				r.logger.Warn().Err(err).Int64("event_id", ev.ID).Msg("publish failed, batch stopped")
				return published, err
			}
			metrics.RecordEventPublish(ev.EventType, true)
			published = append(published, ev.ID)
		}
		return published, nil
	})
	return len(published), err
}

// Run calls RunOnce immediately and then every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutdown signal received, stopping event relay")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := r.RunOnce(runCtx)
	if err != nil {
		r.logger.Error().Err(err).Int("published", n).Msg("relay run error")
		return
	}
	if n > 0 {
		r.logger.Info().Int("published", n).Dur("took", time.Since(start)).Msg("relay run complete")
	}
}
