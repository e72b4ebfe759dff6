package models

type Webhook struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	EventTypes []string          `json:"event_types"` // JSON array in DB, never empty
	Enabled    bool              `json:"enabled"`
	Secret     string            `json:"secret,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"` // merged into each request, custom wins
	Timeout    int               `json:"timeout"`           // per-attempt timeout, seconds
	RetryCount int               `json:"retry_count"`

	// Telemetry, written only by the dispatcher after a delivery settles.
	LastTriggeredAt    int64 `json:"last_triggered_at,omitempty"`
	LastResponseCode   int   `json:"last_response_code,omitempty"`
	LastResponseTimeMS int64 `json:"last_response_time_ms,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Subscribed reports whether the webhook listens for the given event type.
func (w *Webhook) Subscribed(eventType string) bool {
	for _, e := range w.EventTypes {
		if e == eventType {
			return true
		}
	}
	return false
}
