package importer

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/platform/queue"
)

// Assembler reassembles a chunked upload into one append-only file on disk.
// Chunks must arrive in order; no reordering or dedup is performed. The
// caller's transport guarantees ordering within one upload session.
type Assembler struct {
	dir   string
	queue queue.Enqueuer
}

func NewAssembler(dir string, q queue.Enqueuer) *Assembler {
	return &Assembler{dir: dir, queue: q}
}

type UploadStatus struct {
	UploadID string `json:"upload_id"`
	Complete bool   `json:"upload_complete"`
	JobID    string `json:"task_id,omitempty"`
}

// AppendChunk appends one chunk to the session file, minting an upload id
// on the first call. On the final chunk the assembled file is validated and
// handed to the import queue; a file that does not parse as CSV is deleted
// and the session ends with a validation error. No partially assembled file
// is ever handed to the importer.
func (a *Assembler) AppendChunk(ctx context.Context, uploadID string, chunk io.Reader, final bool) (*UploadStatus, error) {
	if uploadID == "" {
		uploadID = uuid.New().String()
	} else if _, err := uuid.Parse(uploadID); err != nil {
		// Upload ids name files on disk; reject anything we did not mint.
		return nil, apperrors.NewValidation("invalid upload_id '%s'", uploadID)
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return nil, err
	}

	path := filepath.Join(a.dir, uploadID+".csv")
	if err := appendToFile(path, chunk); err != nil {
		return nil, err
	}

	if !final {
		return &UploadStatus{UploadID: uploadID}, nil
	}

	if err := validateCSV(path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Error().Err(rmErr).Str("path", path).Msg("failed to delete invalid upload")
		}
		return nil, err
	}

	jobID, err := a.queue.Enqueue(ctx, queue.KindImportCSV, queue.ImportArgs{FilePath: path})
	if err != nil {
		// Keep the assembled file so the client can retry the final chunk
		// with a zero-byte body once the queue recovers.
		return nil, err
	}

	log.Info().Str("upload_id", uploadID).Str("job_id", jobID).Msg("upload complete, import enqueued")
	return &UploadStatus{UploadID: uploadID, Complete: true, JobID: jobID}, nil
}

func appendToFile(path string, chunk io.Reader) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, chunk); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// validateCSV checks that the assembled file parses as CSV by reading the
// first record. An empty file is invalid.
func validateCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return apperrors.NewValidation("Invalid CSV file format. Only CSV files are supported.")
	}
	return nil
}
