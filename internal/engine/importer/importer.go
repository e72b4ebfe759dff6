package importer

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"stockr/internal/engine/events"
	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/pkg/metrics"
	"stockr/internal/platform/models"
)

var requiredColumns = []string{"sku", "name", "description"}

type ProductStore interface {
	ExistingSKUs(skus []string) (map[string]bool, error)
	ApplyChunk(creates, updates []*models.Product) error
}

type Publisher interface {
	Publish(eventType string, payload map[string]interface{}) int
}

type Result struct {
	SuccessCount   int      `json:"success_count"`
	ErrorCount     int      `json:"error_count"`
	Errors         []string `json:"errors,omitempty"`
	TotalProcessed int      `json:"total_processed"`
}

// Importer streams a CSV file in fixed-size row chunks. Each chunk is
// persisted as one transaction, so a commit is durable on its own: a later
// failure does NOT roll earlier chunks back. Whole-file atomicity would
// hold every row in one transaction regardless of file size. The fatal
// row-validation check below runs at parse time, before the offending
// row's chunk is written.
type Importer struct {
	store     ProductStore
	bus       Publisher
	chunkSize int
}

func New(store ProductStore, bus Publisher, chunkSize int) *Importer {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Importer{store: store, bus: bus, chunkSize: chunkSize}
}

// Import runs one CSV import to completion. On any fatal error the source
// file is deleted and the error is returned for the job runner to record;
// on success the file is deleted and product.uploaded is published.
func (imp *Importer) Import(ctx context.Context, filePath string) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.ImportDuration.Observe(time.Since(start).Seconds())
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, apperrors.NewFatalJob("open import file: %v", err)
	}

	result, err := imp.run(f)
	f.Close()

	// Cleanup always runs, success or failure. A cleanup error is logged,
	// never fatal.
	if rmErr := os.Remove(filePath); rmErr != nil {
		log.Error().Err(rmErr).Str("path", filePath).Msg("failed to delete import file")
	}

	if err != nil {
		return nil, err
	}

	imp.bus.Publish(events.ProductUploaded, map[string]interface{}{
		"success_count":   result.SuccessCount,
		"total_processed": result.TotalProcessed,
	})
	log.Info().
		Int("success_count", result.SuccessCount).
		Int("total_processed", result.TotalProcessed).
		Dur("duration", time.Since(start)).
		Msg("csv import completed")

	return result, nil
}

func (imp *Importer) run(f io.Reader) (*Result, error) {
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	columns, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	seen := make(map[string]bool)
	chunk := make([]*models.Product, 0, imp.chunkSize)
	rowNum := 1 // header is row 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewValidation("malformed CSV at row %d: %v", rowNum+1, err)
		}
		rowNum++

		p, err := parseRow(record, columns, rowNum)
		if err != nil {
			// One bad row aborts the entire import. Chunks committed before
			// this point stay committed.
			return nil, err
		}

		result.TotalProcessed++
		chunk = append(chunk, p)

		if len(chunk) >= imp.chunkSize {
			if err := imp.flush(chunk, seen, result); err != nil {
				return nil, err
			}
			chunk = chunk[:0]
		}
	}

	if len(chunk) > 0 {
		if err := imp.flush(chunk, seen, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// readHeader validates that all required columns are present
// (case-insensitive) and returns the column index map.
func readHeader(reader *csv.Reader) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.NewValidation("CSV file is empty or unreadable")
	}

	columns := make(map[string]int, len(header))
	for i, col := range header {
		columns[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidation("CSV file is missing required columns: %s", strings.Join(missing, ", "))
	}

	return columns, nil
}

func parseRow(record []string, columns map[string]int, rowNum int) (*models.Product, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	sku := field("sku")
	if sku == "" {
		return nil, apperrors.NewValidation("row %d has a missing or blank sku; import aborted", rowNum)
	}

	return &models.Product{
		SKU:         sku,
		Name:        field("name"),
		Description: field("description"),
		Status:      models.NormalizeStatus(field("status")),
	}, nil
}

// flush partitions one chunk into creates and updates with a single
// existence lookup and applies both in one transaction. Duplicate SKUs
// inside a chunk collapse to the last occurrence.
func (imp *Importer) flush(chunk []*models.Product, seen map[string]bool, result *Result) error {
	deduped := dedupeBySKU(chunk)

	skus := make([]string, 0, len(deduped))
	for _, p := range deduped {
		skus = append(skus, p.SKU)
	}

	existing, err := imp.store.ExistingSKUs(skus)
	if err != nil {
		return apperrors.NewFatalJob("sku lookup failed: %v", err)
	}

	var creates, updates []*models.Product
	for _, p := range deduped {
		if existing[p.SKU] {
			updates = append(updates, p)
		} else {
			creates = append(creates, p)
		}
	}

	if err := imp.store.ApplyChunk(creates, updates); err != nil {
		return apperrors.NewFatalJob("chunk persistence failed: %v", err)
	}
	metrics.ImportChunkSize.Observe(float64(len(deduped)))

	for _, p := range deduped {
		if !seen[p.SKU] {
			seen[p.SKU] = true
			result.SuccessCount++
		}
	}
	return nil
}

func dedupeBySKU(chunk []*models.Product) []*models.Product {
	index := make(map[string]int, len(chunk))
	deduped := make([]*models.Product, 0, len(chunk))
	for _, p := range chunk {
		if i, ok := index[p.SKU]; ok {
			deduped[i] = p // last occurrence wins
			continue
		}
		index[p.SKU] = len(deduped)
		deduped = append(deduped, p)
	}
	return deduped
}
