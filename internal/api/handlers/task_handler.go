package handlers

import (
	"net/http"

	"stockr/internal/engine/jobs"
	"stockr/internal/pkg/errors"
)

type TaskHandler struct {
	tracker *jobs.Tracker
}

func NewTaskHandler(tracker *jobs.Tracker) *TaskHandler {
	return &TaskHandler{tracker: tracker}
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.tracker.Status(pathParam(r, "task_id"))
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	errors.WriteSuccess(w, http.StatusOK, status)
}
