package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/platform/models"
)

type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(webhook *models.Webhook) error {
	webhook.ID = "wh_" + uuid.New().String()
	webhook.CreatedAt = time.Now().Unix()
	webhook.UpdatedAt = webhook.CreatedAt
	if webhook.RetryCount < 1 {
		webhook.RetryCount = 3
	}
	if webhook.Timeout <= 0 {
		webhook.Timeout = 30
	}

	eventsJSON, err := json.Marshal(webhook.EventTypes)
	if err != nil {
		return err
	}
	headersJSON, err := json.Marshal(webhook.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (id, name, url, event_types, enabled, secret, headers, timeout, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, webhook.ID, webhook.Name, webhook.URL, string(eventsJSON),
		webhook.Enabled, webhook.Secret, string(headersJSON), webhook.Timeout, webhook.RetryCount,
		webhook.CreatedAt, webhook.UpdatedAt)
	return err
}

const webhookColumns = `id, name, url, event_types, enabled, secret, headers, timeout, retry_count,
	last_triggered_at, last_response_code, last_response_time_ms, created_at, updated_at`

func (r *WebhookRepository) GetByID(id string) (*models.Webhook, error) {
	row := r.db.QueryRow(`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)

	w, err := scanWebhook(row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("webhook", id)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WebhookRepository) List() ([]*models.Webhook, error) {
	return r.queryWebhooks(`SELECT ` + webhookColumns + ` FROM webhooks ORDER BY created_at DESC`)
}

// ListEnabled returns every enabled webhook. Event-type filtering happens
// in process: event_types is a JSON column the store cannot query by
// membership.
func (r *WebhookRepository) ListEnabled() ([]*models.Webhook, error) {
	return r.queryWebhooks(`SELECT ` + webhookColumns + ` FROM webhooks WHERE enabled = 1 ORDER BY created_at DESC`)
}

func (r *WebhookRepository) queryWebhooks(query string) ([]*models.Webhook, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func scanWebhook(scan func(dest ...interface{}) error) (*models.Webhook, error) {
	var w models.Webhook
	var eventsStr, headersStr string
	var lastTriggeredAt, lastResponseTime sql.NullInt64
	var lastResponseCode sql.NullInt64

	err := scan(&w.ID, &w.Name, &w.URL, &eventsStr, &w.Enabled, &w.Secret, &headersStr,
		&w.Timeout, &w.RetryCount, &lastTriggeredAt, &lastResponseCode, &lastResponseTime,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastTriggeredAt.Valid {
		w.LastTriggeredAt = lastTriggeredAt.Int64
	}
	if lastResponseCode.Valid {
		w.LastResponseCode = int(lastResponseCode.Int64)
	}
	if lastResponseTime.Valid {
		w.LastResponseTimeMS = lastResponseTime.Int64
	}

	if err := json.Unmarshal([]byte(eventsStr), &w.EventTypes); err != nil {
		return nil, fmt.Errorf("webhook %s has corrupt event_types: %w", w.ID, err)
	}
	if err := json.Unmarshal([]byte(headersStr), &w.Headers); err != nil {
		return nil, fmt.Errorf("webhook %s has corrupt headers: %w", w.ID, err)
	}

	return &w, nil
}

func (r *WebhookRepository) Update(webhook *models.Webhook) error {
	eventsJSON, err := json.Marshal(webhook.EventTypes)
	if err != nil {
		return err
	}
	headersJSON, err := json.Marshal(webhook.Headers)
	if err != nil {
		return err
	}
	webhook.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE webhooks
		SET name = ?, url = ?, event_types = ?, enabled = ?, secret = ?, headers = ?,
		    timeout = ?, retry_count = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.Exec(query, webhook.Name, webhook.URL, string(eventsJSON), webhook.Enabled,
		webhook.Secret, string(headersJSON), webhook.Timeout, webhook.RetryCount,
		webhook.UpdatedAt, webhook.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NewNotFound("webhook", webhook.ID)
	}
	return nil
}

func (r *WebhookRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NewNotFound("webhook", id)
	}
	return nil
}

// UpdateTelemetry records the outcome of the last delivery attempt sequence.
// Only the dispatcher writes these columns.
func (r *WebhookRepository) UpdateTelemetry(id string, triggeredAt int64, responseCode int, responseTimeMS int64) error {
	query := `
		UPDATE webhooks
		SET last_triggered_at = ?, last_response_code = ?, last_response_time_ms = ?
		WHERE id = ?
	`
	_, err := r.db.Exec(query, triggeredAt, responseCode, responseTimeMS, id)
	return err
}
