package workers

import (
	"context"
	"encoding/json"

	"stockr/internal/engine/events"
	"stockr/internal/engine/importer"
	"stockr/internal/engine/webhooks"
	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/platform/queue"
	"stockr/internal/platform/repositories"
)

// Deps carries everything the background job handlers need. The same
// registration runs in the worker binary and, for the in-process queue, in
// the API server.
type Deps struct {
	Importer   *importer.Importer
	Dispatcher *webhooks.Dispatcher
	Products   *repositories.ProductRepository
	Bus        *events.Bus
}

func Register(r *queue.Runner, deps Deps) {
	r.Register(queue.KindImportCSV, func(ctx context.Context, jobID string, raw json.RawMessage) (interface{}, error) {
		var args queue.ImportArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, apperrors.NewFatalJob("invalid import args: %v", err)
		}
		return deps.Importer.Import(ctx, args.FilePath)
	})

	r.Register(queue.KindWebhookDeliver, func(ctx context.Context, jobID string, raw json.RawMessage) (interface{}, error) {
		var args queue.WebhookDeliverArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, apperrors.NewFatalJob("invalid delivery args: %v", err)
		}

		outcome, err := deps.Dispatcher.Deliver(ctx, args.WebhookID, args.Event, args.Payload)
		if err != nil {
			return nil, err
		}
		// Exhausted retries are a terminal job failure; a short-circuit on a
		// missing or disabled webhook completes the job with zero attempts.
		if !outcome.Success && outcome.Attempts > 0 {
			return outcome, apperrors.NewFatalJob("webhook delivery failed after %d attempts: %s", outcome.Attempts, outcome.Error)
		}
		return outcome, nil
	})

	r.Register(queue.KindBulkDelete, func(ctx context.Context, jobID string, raw json.RawMessage) (interface{}, error) {
		var args queue.BulkDeleteArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, apperrors.NewFatalJob("invalid bulk delete args: %v", err)
		}

		deleted, err := deps.Products.DeleteByIDs(args.IDs)
		if err != nil {
			return nil, err
		}

		deps.Bus.Publish(events.ProductBulkDeleted, map[string]interface{}{
			"deleted_count":   deleted,
			"requested_count": len(args.IDs),
		})
		return map[string]interface{}{"deleted_count": deleted, "requested_count": len(args.IDs)}, nil
	})

	r.Register(queue.KindDeleteAll, func(ctx context.Context, jobID string, raw json.RawMessage) (interface{}, error) {
		deleted, err := deps.Products.DeleteAll()
		if err != nil {
			return nil, err
		}

		deps.Bus.Publish(events.ProductBulkDeleted, map[string]interface{}{
			"deleted_count": deleted,
		})
		return map[string]interface{}{"deleted_count": deleted}, nil
	})
}
