package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"stockr/internal/engine/events"
	"stockr/internal/engine/webhooks"
	"stockr/internal/pkg/errors"
	"stockr/internal/platform/models"
	"stockr/internal/platform/repositories"
)

type WebhookHandler struct {
	repo       *repositories.WebhookRepository
	dispatcher *webhooks.Dispatcher
}

func NewWebhookHandler(repo *repositories.WebhookRepository, dispatcher *webhooks.Dispatcher) *WebhookHandler {
	return &WebhookHandler{repo: repo, dispatcher: dispatcher}
}

type webhookRequest struct {
	Name       *string            `json:"name"`
	URL        *string            `json:"url"`
	EventTypes *[]string          `json:"event_types"`
	Enabled    *bool              `json:"enabled"`
	Secret     *string            `json:"secret"`
	Headers    *map[string]string `json:"headers"`
	Timeout    *int               `json:"timeout"`
	RetryCount *int               `json:"retry_count"`
}

func validateEventTypes(types []string) error {
	if len(types) == 0 {
		return errors.NewValidation("event_types must not be empty")
	}
	for _, t := range types {
		if !events.Valid(t) {
			return errors.NewValidation("unknown event type '%s'", t)
		}
	}
	return nil
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	if req.URL == nil || *req.URL == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "url is required")
		return
	}

	var eventTypes []string
	if req.EventTypes != nil {
		eventTypes = *req.EventTypes
	}
	if err := validateEventTypes(eventTypes); err != nil {
		errors.WriteFromError(w, err)
		return
	}

	webhook := &models.Webhook{
		URL:        *req.URL,
		EventTypes: eventTypes,
		Enabled:    true,
	}
	if req.Name != nil {
		webhook.Name = *req.Name
	}
	if req.Enabled != nil {
		webhook.Enabled = *req.Enabled
	}
	if req.Secret != nil {
		webhook.Secret = *req.Secret
	}
	if req.Headers != nil {
		webhook.Headers = *req.Headers
	}
	if req.Timeout != nil {
		if *req.Timeout <= 0 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "timeout must be positive")
			return
		}
		webhook.Timeout = *req.Timeout
	}
	if req.RetryCount != nil {
		if *req.RetryCount < 1 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "retry_count must be at least 1")
			return
		}
		webhook.RetryCount = *req.RetryCount
	}

	if err := h.repo.Create(webhook); err != nil {
		errors.WriteFromError(w, err)
		return
	}
	errors.WriteSuccess(w, http.StatusCreated, webhook)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List()
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	if list == nil {
		list = []*models.Webhook{}
	}
	errors.WriteSuccess(w, http.StatusOK, list)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.repo.GetByID(pathParam(r, "webhook_id"))
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	errors.WriteSuccess(w, http.StatusOK, webhook)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.repo.GetByID(pathParam(r, "webhook_id"))
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	if req.EventTypes != nil {
		if err := validateEventTypes(*req.EventTypes); err != nil {
			errors.WriteFromError(w, err)
			return
		}
		webhook.EventTypes = *req.EventTypes
	}
	if req.Name != nil {
		webhook.Name = *req.Name
	}
	if req.URL != nil {
		if *req.URL == "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "url cannot be blank")
			return
		}
		webhook.URL = *req.URL
	}
	if req.Enabled != nil {
		webhook.Enabled = *req.Enabled
	}
	if req.Secret != nil {
		webhook.Secret = *req.Secret
	}
	if req.Headers != nil {
		webhook.Headers = *req.Headers
	}
	if req.Timeout != nil {
		if *req.Timeout <= 0 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "timeout must be positive")
			return
		}
		webhook.Timeout = *req.Timeout
	}
	if req.RetryCount != nil {
		if *req.RetryCount < 1 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "retry_count must be at least 1")
			return
		}
		webhook.RetryCount = *req.RetryCount
	}

	if err := h.repo.Update(webhook); err != nil {
		errors.WriteFromError(w, err)
		return
	}
	errors.WriteSuccess(w, http.StatusOK, webhook)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "webhook_id")
	if err := h.repo.Delete(id); err != nil {
		errors.WriteFromError(w, err)
		return
	}
	errors.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"message": "Webhook deleted successfully",
	})
}

// Test fires a single synchronous delivery attempt so an operator can
// validate an endpoint interactively.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload map[string]interface{} `json:"payload"`
	}
	// Body is optional; a decode failure just means no custom payload.
	json.NewDecoder(r.Body).Decode(&req)

	payload := req.Payload
	if payload == nil {
		payload = map[string]interface{}{
			"test":      true,
			"message":   "This is a test webhook trigger",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
	}

	outcome, err := h.dispatcher.Test(r.Context(), pathParam(r, "webhook_id"), payload)
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}

	if !outcome.Success {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, outcome.Error)
		return
	}
	errors.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"status_code":      outcome.StatusCode,
		"response_time_ms": outcome.ResponseTimeMS,
		"message":          "Webhook test successful",
	})
}
