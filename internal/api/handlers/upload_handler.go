package handlers

import (
	"net/http"

	"stockr/internal/engine/importer"
	"stockr/internal/pkg/errors"
	"stockr/internal/platform/models"
)

type UploadHandler struct {
	assembler     *importer.Assembler
	maxChunkBytes int64
}

func NewUploadHandler(assembler *importer.Assembler, maxChunkBytes int64) *UploadHandler {
	if maxChunkBytes <= 0 {
		maxChunkBytes = 5 * 1024 * 1024
	}
	return &UploadHandler{assembler: assembler, maxChunkBytes: maxChunkBytes}
}

// Upload handles the chunked upload protocol: repeated multipart POSTs with
// a `file` chunk, an optional `upload_id` echoed from the first response,
// and `end=1` on the final chunk.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Per-request bound covers the chunk plus multipart framing; the
	// aggregate file size is unbounded.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes+64*1024)

	if err := r.ParseMultipartForm(h.maxChunkBytes); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid chunk parameters: "+err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "file is required")
		return
	}
	defer file.Close()

	uploadID := r.FormValue("upload_id")
	final := r.FormValue("end") == "1"

	status, err := h.assembler.AppendChunk(r.Context(), uploadID, file, final)
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}

	if status.Complete {
		errors.WriteSuccess(w, http.StatusAccepted, map[string]interface{}{
			"task_id":         status.JobID,
			"status":          models.JobStatePending,
			"message":         "File uploaded completely and processing started",
			"upload_complete": true,
			"upload_id":       status.UploadID,
		})
		return
	}

	errors.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"upload_id":       status.UploadID,
		"message":         "Chunk received successfully",
		"upload_complete": false,
	})
}
