package events

import (
	"context"

	"github.com/rs/zerolog/log"

	"stockr/internal/pkg/metrics"
	"stockr/internal/platform/models"
	"stockr/internal/platform/queue"
)

type WebhookSource interface {
	ListEnabled() ([]*models.Webhook, error)
}

// Bus fans a domain event out to subscribed webhooks by scheduling one
// delivery job per match. Publish never fails the caller: the triggering
// business operation must complete whatever the state of the webhook
// subsystem, so every internal error is logged and swallowed.
type Bus struct {
	webhooks WebhookSource
	queue    queue.Enqueuer
}

func NewBus(webhooks WebhookSource, q queue.Enqueuer) *Bus {
	return &Bus{webhooks: webhooks, queue: q}
}

// Publish returns the number of delivery jobs scheduled, 0 on internal
// error. Event-type filtering is an in-process membership test: the
// subscription list is a JSON column the store cannot query efficiently.
func (b *Bus) Publish(eventType string, payload map[string]interface{}) int {
	metrics.EventsPublished.WithLabelValues(eventType).Inc()

	webhooks, err := b.webhooks.ListEnabled()
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to load webhooks for event")
		return 0
	}

	scheduled := 0
	for _, w := range webhooks {
		if !w.Subscribed(eventType) {
			continue
		}

		args := queue.WebhookDeliverArgs{
			WebhookID: w.ID,
			Event:     eventType,
			Payload:   payload,
		}
		jobID, err := b.queue.Enqueue(context.Background(), queue.KindWebhookDeliver, args)
		if err != nil {
			log.Error().Err(err).
				Str("event", eventType).
				Str("webhook_id", w.ID).
				Msg("failed to schedule webhook delivery")
			continue
		}

		log.Debug().Str("event", eventType).Str("webhook_id", w.ID).Str("job_id", jobID).
			Msg("scheduled webhook delivery")
		scheduled++
	}

	return scheduled
}
