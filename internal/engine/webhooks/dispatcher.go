package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/pkg/metrics"
	"stockr/internal/platform/models"
)

type WebhookStore interface {
	GetByID(id string) (*models.Webhook, error)
	UpdateTelemetry(id string, triggeredAt int64, responseCode int, responseTimeMS int64) error
}

// Outcome is the settled result of one delivery attempt sequence.
type Outcome struct {
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

// envelope is the wire format of a delivery body.
type envelope struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Dispatcher performs signed webhook deliveries with per-attempt timeout
// and exponential backoff between attempts. It blocks the worker goroutine
// it runs on, never the publisher.
type Dispatcher struct {
	store       WebhookStore
	backoffBase time.Duration
	userAgent   string

	// injected in tests
	sleep func(time.Duration)
	now   func() time.Time
}

func NewDispatcher(store WebhookStore, backoffBase time.Duration, userAgent string) *Dispatcher {
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Dispatcher{
		store:       store,
		backoffBase: backoffBase,
		userAgent:   userAgent,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// Deliver reloads the webhook and runs the full retry loop. A missing or
// disabled webhook short-circuits with a non-retryable outcome rather than
// an error: the delivery job is then complete, not failed.
func (d *Dispatcher) Deliver(ctx context.Context, webhookID, eventType string, payload map[string]interface{}) (*Outcome, error) {
	w, err := d.store.GetByID(webhookID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return &Outcome{Error: "webhook no longer exists"}, nil
		}
		return nil, err
	}
	if !w.Enabled {
		return &Outcome{Error: "webhook is disabled"}, nil
	}

	return d.send(ctx, w, eventType, payload, w.RetryCount)
}

// Test performs exactly one attempt with the same header and signature
// construction, for interactive validation by an operator. It ignores the
// enabled flag so a paused endpoint can still be probed.
func (d *Dispatcher) Test(ctx context.Context, webhookID string, payload map[string]interface{}) (*Outcome, error) {
	w, err := d.store.GetByID(webhookID)
	if err != nil {
		return nil, err
	}
	return d.send(ctx, w, "test", payload, 1)
}

type deliveryState int

const (
	stateAttempting deliveryState = iota
	stateSucceeded
	stateExhausted
)

func (d *Dispatcher) send(ctx context.Context, w *models.Webhook, eventType string, payload map[string]interface{}, maxAttempts int) (*Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())
	}()

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	body, headers, err := d.buildRequest(w, eventType, payload)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	state := stateAttempting

	// Explicit retry state machine: the total wall-clock delay is bounded by
	// sum(backoffBase * 2^i) for i in [0, maxAttempts-2].
	for state == stateAttempting {
		code, ms, attemptErr := d.attempt(ctx, w, body, headers)
		outcome.Attempts++
		outcome.StatusCode = code
		outcome.ResponseTimeMS = ms

		switch {
		case attemptErr == nil:
			outcome.Success = true
			outcome.Error = ""
			state = stateSucceeded
		case outcome.Attempts >= maxAttempts:
			outcome.Error = attemptErr.Error()
			state = stateExhausted
		default:
			outcome.Error = attemptErr.Error()
			log.Warn().
				Str("webhook_id", w.ID).
				Str("event", eventType).
				Int("attempt", outcome.Attempts).
				Str("error", outcome.Error).
				Msg("webhook delivery attempt failed, backing off")
			d.sleep(d.backoffBase << (outcome.Attempts - 1))
		}
	}

	// Telemetry is persisted win or lose; a failure here is logged, not
	// surfaced, so the outcome of the delivery itself is preserved.
	if err := d.store.UpdateTelemetry(w.ID, d.now().Unix(), outcome.StatusCode, outcome.ResponseTimeMS); err != nil {
		log.Error().Err(err).Str("webhook_id", w.ID).Msg("failed to persist webhook telemetry")
	}

	status := "failure"
	if outcome.Success {
		status = "success"
	}
	metrics.WebhookDeliveries.WithLabelValues(status).Inc()

	return outcome, nil
}

// buildRequest assembles the envelope body and the header set once for the
// whole attempt sequence: fixed defaults, the webhook's custom headers
// (custom wins on conflict), then the signature if a secret is configured.
func (d *Dispatcher) buildRequest(w *models.Webhook, eventType string, payload map[string]interface{}) ([]byte, http.Header, error) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Webhook-Event", eventType)
	headers.Set("User-Agent", d.userAgent)

	for k, v := range w.Headers {
		headers.Set(k, v)
	}

	if w.Secret != "" {
		canonical, err := CanonicalJSON(payload)
		if err != nil {
			return nil, nil, err
		}
		headers.Set("X-Webhook-Signature", SignatureHeader(w.Secret, canonical))
	}

	body, err := json.Marshal(envelope{
		Event:     eventType,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      payload,
	})
	if err != nil {
		return nil, nil, err
	}

	return body, headers, nil
}

func (d *Dispatcher) attempt(ctx context.Context, w *models.Webhook, body []byte, headers http.Header) (int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, apperrors.NewTransientDelivery("invalid webhook request: %v", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	client := &http.Client{Timeout: time.Duration(w.Timeout) * time.Second}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return 0, elapsed, apperrors.NewTransientDelivery("request timeout after %ds", w.Timeout)
		}
		return 0, elapsed, apperrors.NewTransientDelivery("connection error - unable to reach webhook URL")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return resp.StatusCode, elapsed, apperrors.NewTransientDelivery("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, elapsed, nil
}
