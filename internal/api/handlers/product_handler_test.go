package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	_ "github.com/mattn/go-sqlite3"

	apiContext "stockr/internal/api/context"
	"stockr/internal/engine/events"
	"stockr/internal/engine/importer"
	"stockr/internal/engine/jobs"
	"stockr/internal/engine/webhooks"
	"stockr/internal/platform/models"
	"stockr/internal/platform/queue"
	"stockr/internal/platform/repositories"
	"stockr/internal/workers"
)

// testStack wires the full in-process pipeline over an in-memory database,
// mirroring the single-process deployment mode.
type testStack struct {
	db       *sql.DB
	products *repositories.ProductRepository
	webhooks *repositories.WebhookRepository
	jobs     *repositories.JobRepository
	queue    *queue.MemoryQueue
	runner   *queue.Runner
	bus      *events.Bus
}

func setupStack(t *testing.T) *testStack {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every new pool connection to :memory: is a fresh empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE products (
			id TEXT PRIMARY KEY,
			sku TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			event_types TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			secret TEXT NOT NULL DEFAULT '',
			headers TEXT NOT NULL DEFAULT '{}',
			timeout INTEGER NOT NULL DEFAULT 30,
			retry_count INTEGER NOT NULL DEFAULT 3,
			last_triggered_at INTEGER,
			last_response_code INTEGER,
			last_response_time_ms INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'PENDING',
			result TEXT,
			error TEXT,
			trace TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	products := repositories.NewProductRepository(db)
	webhookRepo := repositories.NewWebhookRepository(db)
	jobRepo := repositories.NewJobRepository(db)

	runner := queue.NewRunner(jobRepo)
	q := queue.NewMemoryQueue(runner)
	bus := events.NewBus(webhookRepo, q)
	dispatcher := webhooks.NewDispatcher(webhookRepo, time.Millisecond, "test-agent/1.0")
	csvImporter := importer.New(products, bus, 100)

	workers.Register(runner, workers.Deps{
		Importer:   csvImporter,
		Dispatcher: dispatcher,
		Products:   products,
		Bus:        bus,
	})

	return &testStack{
		db:       db,
		products: products,
		webhooks: webhookRepo,
		jobs:     jobRepo,
		queue:    q,
		runner:   runner,
		bus:      bus,
	}
}

func withParams(r *http.Request, params httprouter.Params) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), apiContext.Params, params))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body struct {
		Message map[string]interface{} `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body.Message
}

func TestProductCreateHandler(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	req := httptest.NewRequest(http.MethodPost, "/products",
		strings.NewReader(`{"sku":"H-1","name":"Widget","description":"d"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	msg := decodeEnvelope(t, rec)
	if msg["sku"] != "H-1" || msg["status"] != "active" {
		t.Errorf("response = %v", msg)
	}

	if _, err := stack.products.GetBySKU("H-1"); err != nil {
		t.Errorf("product not persisted: %v", err)
	}
}

func TestProductCreateHandlerValidation(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	cases := []struct {
		name string
		body string
	}{
		{"missing sku", `{"name":"Widget"}`},
		{"blank sku", `{"sku":"","name":"Widget"}`},
		{"missing name", `{"sku":"H-2"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Create(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestProductCreateHandlerConflict(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	body := `{"sku":"H-3","name":"Widget"}`
	first := httptest.NewRecorder()
	h.Create(first, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body)))
	if first.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.Create(second, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body)))
	if second.Code != http.StatusConflict {
		t.Errorf("second create status = %d, want 409", second.Code)
	}
}

func TestProductGetHandlerNotFound(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	req := withParams(httptest.NewRequest(http.MethodGet, "/products/missing", nil),
		httprouter.Params{{Key: "product_id", Value: "missing"}})
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProductUpdateHandlerPartial(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	p := &models.Product{SKU: "H-4", Name: "Before", Description: "keep me"}
	if err := stack.products.Create(p); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	req := withParams(httptest.NewRequest(http.MethodPatch, "/products/"+p.ID,
		strings.NewReader(`{"name":"After"}`)),
		httprouter.Params{{Key: "product_id", Value: p.ID}})
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, err := stack.products.GetByID(p.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Name != "After" {
		t.Errorf("name = %q", got.Name)
	}
	if got.Description != "keep me" {
		t.Errorf("omitted fields must be untouched, description = %q", got.Description)
	}
}

func TestProductBulkUpsertHandler(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	seed := &models.Product{SKU: "BU-1", Name: "Old"}
	if err := stack.products.Create(seed); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	body := `{"products":[{"sku":"BU-1","name":"New"},{"sku":"BU-2","name":"Fresh"}]}`
	rec := httptest.NewRecorder()
	h.BulkUpsert(rec, httptest.NewRequest(http.MethodPost, "/products/bulk", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	msg := decodeEnvelope(t, rec)
	if msg["created_count"] != float64(1) || msg["updated_count"] != float64(1) {
		t.Errorf("counts = %v", msg)
	}

	got, err := stack.products.GetBySKU("BU-1")
	if err != nil {
		t.Fatalf("GetBySKU() error: %v", err)
	}
	if got.Name != "New" {
		t.Errorf("name = %q, want updated", got.Name)
	}
}

func TestProductBulkDeleteSyncBelowThreshold(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	var ids []string
	for i := 0; i < 3; i++ {
		p := &models.Product{SKU: fmt.Sprintf("BD-%d", i), Name: "X"}
		if err := stack.products.Create(p); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		ids = append(ids, p.ID)
	}

	body, _ := json.Marshal(map[string][]string{"ids": ids})
	rec := httptest.NewRecorder()
	h.BulkDelete(rec, httptest.NewRequest(http.MethodPost, "/products/bulk-delete", strings.NewReader(string(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("small batch must delete synchronously, status = %d", rec.Code)
	}
	msg := decodeEnvelope(t, rec)
	if msg["deleted_count"] != float64(3) {
		t.Errorf("deleted_count = %v", msg["deleted_count"])
	}

	remaining, _ := stack.products.List()
	if len(remaining) != 0 {
		t.Errorf("expected no products left, got %d", len(remaining))
	}
}

func TestProductBulkDeleteAsyncAtThreshold(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 5)

	var ids []string
	for i := 0; i < 5; i++ {
		p := &models.Product{SKU: fmt.Sprintf("BDA-%d", i), Name: "X"}
		if err := stack.products.Create(p); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		ids = append(ids, p.ID)
	}

	body, _ := json.Marshal(map[string][]string{"ids": ids})
	rec := httptest.NewRecorder()
	h.BulkDelete(rec, httptest.NewRequest(http.MethodPost, "/products/bulk-delete", strings.NewReader(string(body))))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("batch at threshold must go async, status = %d", rec.Code)
	}
	msg := decodeEnvelope(t, rec)
	taskID, _ := msg["task_id"].(string)
	if taskID == "" {
		t.Fatalf("response = %v", msg)
	}
	if msg["status"] != models.JobStatePending {
		t.Errorf("status = %v", msg["status"])
	}

	stack.queue.Wait()

	job, err := stack.jobs.Get(taskID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job.State != models.JobStateSuccess {
		t.Errorf("job state = %q, error = %q", job.State, job.Error)
	}

	remaining, _ := stack.products.List()
	if len(remaining) != 0 {
		t.Errorf("expected no products left, got %d", len(remaining))
	}
}

func TestProductDeleteAllHandler(t *testing.T) {
	stack := setupStack(t)
	h := NewProductHandler(stack.products, stack.bus, stack.queue, 100)

	for i := 0; i < 4; i++ {
		if err := stack.products.Create(&models.Product{SKU: fmt.Sprintf("DA-%d", i), Name: "X"}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	h.DeleteAll(rec, httptest.NewRequest(http.MethodDelete, "/products", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("delete-all must always go async, status = %d", rec.Code)
	}
	msg := decodeEnvelope(t, rec)
	taskID, _ := msg["task_id"].(string)

	stack.queue.Wait()

	job, err := stack.jobs.Get(taskID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job.State != models.JobStateSuccess {
		t.Errorf("job state = %q", job.State)
	}
	var result map[string]interface{}
	json.Unmarshal(job.Result, &result)
	if result["deleted_count"] != float64(4) {
		t.Errorf("result = %v", result)
	}
}

func TestTaskStatusHandler(t *testing.T) {
	stack := setupStack(t)
	tracker := jobs.NewTracker(stack.runner, stack.jobs)
	taskHandler := NewTaskHandler(tracker)
	productHandler := NewProductHandler(stack.products, stack.bus, stack.queue, 1)

	p := &models.Product{SKU: "TS-1", Name: "X"}
	if err := stack.products.Create(p); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	body, _ := json.Marshal(map[string][]string{"ids": {p.ID}})
	rec := httptest.NewRecorder()
	productHandler.BulkDelete(rec, httptest.NewRequest(http.MethodPost, "/products/bulk-delete", strings.NewReader(string(body))))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	taskID, _ := decodeEnvelope(t, rec)["task_id"].(string)

	stack.queue.Wait()

	statusRec := httptest.NewRecorder()
	statusReq := withParams(httptest.NewRequest(http.MethodGet, "/tasks/"+taskID+"/status", nil),
		httprouter.Params{{Key: "task_id", Value: taskID}})
	taskHandler.Status(statusRec, statusReq)

	if statusRec.Code != http.StatusOK {
		t.Fatalf("status = %d", statusRec.Code)
	}
	msg := decodeEnvelope(t, statusRec)
	if msg["state"] != models.JobStateSuccess {
		t.Errorf("task state = %v", msg["state"])
	}
	if msg["task_id"] != taskID {
		t.Errorf("task_id = %v", msg["task_id"])
	}
}

func TestTaskStatusHandlerUnknownTask(t *testing.T) {
	stack := setupStack(t)
	taskHandler := NewTaskHandler(jobs.NewTracker(stack.runner, stack.jobs))

	rec := httptest.NewRecorder()
	req := withParams(httptest.NewRequest(http.MethodGet, "/tasks/nope/status", nil),
		httprouter.Params{{Key: "task_id", Value: "nope"}})
	taskHandler.Status(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
