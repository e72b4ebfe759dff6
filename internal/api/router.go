package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiContext "stockr/internal/api/context"
	"stockr/internal/api/handlers"
	"stockr/internal/api/middleware"
)

type Dependencies struct {
	ProductHandler *handlers.ProductHandler
	UploadHandler  *handlers.UploadHandler
	WebhookHandler *handlers.WebhookHandler
	TaskHandler    *handlers.TaskHandler
	HealthHandler  *handlers.HealthHandler
	WriteLimiter   *middleware.WriteLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	limited := deps.WriteLimiter

	// Operational endpoints
	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	// Products
	router.POST("/api/v1/products", chain(deps.ProductHandler.Create, limited.Handle))
	router.GET("/api/v1/products", wrap(deps.ProductHandler.List))
	router.GET("/api/v1/products/:product_id", wrap(deps.ProductHandler.Get))
	router.PATCH("/api/v1/products/:product_id", chain(deps.ProductHandler.Update, limited.Handle))
	router.DELETE("/api/v1/products/:product_id", chain(deps.ProductHandler.Delete, limited.Handle))
	router.DELETE("/api/v1/products", chain(deps.ProductHandler.DeleteAll, limited.Handle))

	// Bulk operations
	router.POST("/api/v1/products/bulk", chain(deps.ProductHandler.BulkUpsert, limited.Handle))
	router.POST("/api/v1/products/bulk-delete", chain(deps.ProductHandler.BulkDelete, limited.Handle))
	router.POST("/api/v1/products/upload", chain(deps.UploadHandler.Upload, limited.Handle))

	// Background jobs
	router.GET("/api/v1/tasks/:task_id/status", wrap(deps.TaskHandler.Status))

	// Webhook management
	router.POST("/api/v1/webhooks", chain(deps.WebhookHandler.Create, limited.Handle))
	router.GET("/api/v1/webhooks", wrap(deps.WebhookHandler.List))
	router.GET("/api/v1/webhooks/:webhook_id", wrap(deps.WebhookHandler.Get))
	router.PATCH("/api/v1/webhooks/:webhook_id", chain(deps.WebhookHandler.Update, limited.Handle))
	router.DELETE("/api/v1/webhooks/:webhook_id", chain(deps.WebhookHandler.Delete, limited.Handle))
	router.POST("/api/v1/webhooks/:webhook_id/test", chain(deps.WebhookHandler.Test, limited.Handle))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
