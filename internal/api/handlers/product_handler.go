package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "stockr/internal/api/context"
	"stockr/internal/engine/events"
	"stockr/internal/pkg/errors"
	"stockr/internal/platform/models"
	"stockr/internal/platform/queue"
	"stockr/internal/platform/repositories"
)

type ProductHandler struct {
	repo           *repositories.ProductRepository
	bus            *events.Bus
	queue          queue.Enqueuer
	asyncThreshold int
}

func NewProductHandler(repo *repositories.ProductRepository, bus *events.Bus, q queue.Enqueuer, asyncThreshold int) *ProductHandler {
	if asyncThreshold <= 0 {
		asyncThreshold = 100
	}
	return &ProductHandler{repo: repo, bus: bus, queue: q, asyncThreshold: asyncThreshold}
}

func pathParam(r *http.Request, name string) string {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName(name)
}

type productRequest struct {
	SKU         *string `json:"sku"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body")
		return
	}
	if req.SKU == nil || *req.SKU == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "sku is required")
		return
	}
	if req.Name == nil || *req.Name == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "name is required")
		return
	}

	p := &models.Product{SKU: *req.SKU, Name: *req.Name}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Status != nil {
		p.Status = *req.Status
	}

	if err := h.repo.Create(p); err != nil {
		errors.WriteFromError(w, err)
		return
	}

	h.bus.Publish(events.ProductCreated, productPayload(p))
	errors.WriteSuccess(w, http.StatusCreated, p)
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.List()
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	if products == nil {
		products = []*models.Product{}
	}
	errors.WriteSuccess(w, http.StatusOK, products)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetByID(pathParam(r, "product_id"))
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	errors.WriteSuccess(w, http.StatusOK, p)
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "product_id")

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body")
		return
	}

	p, err := h.repo.GetByID(id)
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}

	if req.SKU != nil {
		if *req.SKU == "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "sku cannot be blank")
			return
		}
		p.SKU = *req.SKU
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Status != nil {
		p.Status = models.NormalizeStatus(*req.Status)
	}

	if err := h.repo.Update(p); err != nil {
		errors.WriteFromError(w, err)
		return
	}

	h.bus.Publish(events.ProductUpdated, productPayload(p))
	errors.WriteSuccess(w, http.StatusOK, p)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "product_id")
	if err := h.repo.Delete(id); err != nil {
		errors.WriteFromError(w, err)
		return
	}

	h.bus.Publish(events.ProductDeleted, map[string]interface{}{"id": id})
	errors.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"message": "Product deleted successfully",
	})
}

type bulkUpsertRequest struct {
	Products []struct {
		SKU         string `json:"sku"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Status      string `json:"status"`
	} `json:"products"`
}

// BulkUpsert applies a batch of products keyed by sku in one transaction,
// reusing the importer's partition-then-apply path.
func (h *ProductHandler) BulkUpsert(w http.ResponseWriter, r *http.Request) {
	var req bulkUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body")
		return
	}
	if len(req.Products) == 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "products must not be empty")
		return
	}

	batch := make([]*models.Product, 0, len(req.Products))
	skus := make([]string, 0, len(req.Products))
	for i, item := range req.Products {
		if item.SKU == "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput,
				fmt.Sprintf("products[%d] has a missing sku", i))
			return
		}
		batch = append(batch, &models.Product{
			SKU:         item.SKU,
			Name:        item.Name,
			Description: item.Description,
			Status:      models.NormalizeStatus(item.Status),
		})
		skus = append(skus, item.SKU)
	}

	existing, err := h.repo.ExistingSKUs(skus)
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}

	var creates, updates []*models.Product
	for _, p := range batch {
		if existing[p.SKU] {
			updates = append(updates, p)
		} else {
			creates = append(creates, p)
		}
	}

	if err := h.repo.ApplyChunk(creates, updates); err != nil {
		errors.WriteFromError(w, err)
		return
	}

	h.bus.Publish(events.ProductBulkUpdated, map[string]interface{}{
		"created_count": len(creates),
		"updated_count": len(updates),
	})
	errors.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"created_count": len(creates),
		"updated_count": len(updates),
	})
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BulkDelete completes small batches in the request path and routes large
// ones to a background job. The threshold is a load-shedding heuristic.
func (h *ProductHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "ids must not be empty")
		return
	}

	if len(req.IDs) >= h.asyncThreshold {
		jobID, err := h.queue.Enqueue(r.Context(), queue.KindBulkDelete, queue.BulkDeleteArgs{IDs: req.IDs})
		if err != nil {
			errors.WriteFromError(w, err)
			return
		}
		errors.WriteSuccess(w, http.StatusAccepted, map[string]interface{}{
			"task_id": jobID,
			"status":  models.JobStatePending,
			"message": "Bulk delete has been queued",
		})
		return
	}

	deleted, err := h.repo.DeleteByIDs(req.IDs)
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}

	h.bus.Publish(events.ProductBulkDeleted, map[string]interface{}{
		"deleted_count":   deleted,
		"requested_count": len(req.IDs),
	})
	errors.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"deleted_count":   deleted,
		"requested_count": len(req.IDs),
	})
}

// DeleteAll always runs in the background: the row count is unbounded.
func (h *ProductHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.queue.Enqueue(r.Context(), queue.KindDeleteAll, struct{}{})
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	errors.WriteSuccess(w, http.StatusAccepted, map[string]interface{}{
		"task_id": jobID,
		"status":  models.JobStatePending,
		"message": "Delete all has been queued",
	})
}

func productPayload(p *models.Product) map[string]interface{} {
	return map[string]interface{}{
		"id":          p.ID,
		"sku":         p.SKU,
		"name":        p.Name,
		"description": p.Description,
		"status":      p.Status,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	}
}
