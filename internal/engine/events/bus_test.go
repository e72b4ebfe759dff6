package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"stockr/internal/platform/models"
	"stockr/internal/platform/queue"
)

type fakeSource struct {
	webhooks []*models.Webhook
	err      error
}

func (s *fakeSource) ListEnabled() ([]*models.Webhook, error) {
	return s.webhooks, s.err
}

type fakeEnqueuer struct {
	kinds []string
	args  []queue.WebhookDeliverArgs
	err   error
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, kind string, args interface{}) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.kinds = append(e.kinds, kind)
	e.args = append(e.args, args.(queue.WebhookDeliverArgs))
	return "job-1", nil
}

func subscriber(id string, eventTypes ...string) *models.Webhook {
	return &models.Webhook{ID: id, URL: "https://example.com/hook", EventTypes: eventTypes, Enabled: true}
}

func TestPublishSchedulesMatchingWebhooks(t *testing.T) {
	source := &fakeSource{webhooks: []*models.Webhook{
		subscriber("wh_1", ProductCreated, ProductDeleted),
		subscriber("wh_2", ProductUpdated),
		subscriber("wh_3", ProductCreated),
	}}
	q := &fakeEnqueuer{}
	bus := NewBus(source, q)

	payload := map[string]interface{}{"sku": "A-1"}
	scheduled := bus.Publish(ProductCreated, payload)

	if scheduled != 2 {
		t.Errorf("Publish() = %d, want 2", scheduled)
	}
	if len(q.args) != 2 {
		t.Fatalf("expected 2 enqueued jobs, got %d", len(q.args))
	}
	for _, kind := range q.kinds {
		if kind != queue.KindWebhookDeliver {
			t.Errorf("kind = %q", kind)
		}
	}
	if q.args[0].WebhookID != "wh_1" || q.args[1].WebhookID != "wh_3" {
		t.Errorf("scheduled webhooks = %s, %s", q.args[0].WebhookID, q.args[1].WebhookID)
	}
	if q.args[0].Event != ProductCreated {
		t.Errorf("event = %q", q.args[0].Event)
	}
	if q.args[0].Payload["sku"] != "A-1" {
		t.Errorf("payload = %v", q.args[0].Payload)
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := NewBus(&fakeSource{}, &fakeEnqueuer{})

	if got := bus.Publish(ProductDeleted, nil); got != 0 {
		t.Errorf("Publish() = %d, want 0", got)
	}
}

func TestPublishSwallowsSourceError(t *testing.T) {
	bus := NewBus(&fakeSource{err: errors.New("db closed")}, &fakeEnqueuer{})

	// The caller's business operation must not observe webhook failures.
	if got := bus.Publish(ProductCreated, nil); got != 0 {
		t.Errorf("Publish() = %d, want 0", got)
	}
}

func TestPublishSwallowsEnqueueError(t *testing.T) {
	source := &fakeSource{webhooks: []*models.Webhook{subscriber("wh_1", ProductCreated)}}
	bus := NewBus(source, &fakeEnqueuer{err: errors.New("broker down")})

	if got := bus.Publish(ProductCreated, nil); got != 0 {
		t.Errorf("Publish() = %d, want 0", got)
	}
}

func TestPublishArgsRoundTrip(t *testing.T) {
	source := &fakeSource{webhooks: []*models.Webhook{subscriber("wh_1", ProductBulkUpdated)}}
	q := &fakeEnqueuer{}
	bus := NewBus(source, q)

	bus.Publish(ProductBulkUpdated, map[string]interface{}{"updated_count": 3})

	raw, err := json.Marshal(q.args[0])
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var decoded queue.WebhookDeliverArgs
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.WebhookID != "wh_1" || decoded.Event != ProductBulkUpdated {
		t.Errorf("decoded args = %+v", decoded)
	}
}

func TestValid(t *testing.T) {
	for _, eventType := range Types() {
		if !Valid(eventType) {
			t.Errorf("Valid(%q) = false", eventType)
		}
	}
	if Valid("product.materialized") {
		t.Error("Valid() accepted an unknown event type")
	}
}
