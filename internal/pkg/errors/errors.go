package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for the catalog service. Validation, not-found and conflict
// errors terminate a request synchronously; transient delivery errors are
// retried inside the dispatcher; fatal job errors mark a background job
// FAILURE with the message preserved for operator inspection.

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func NewConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// TransientDeliveryError marks a webhook attempt failure that is eligible
// for another attempt (timeout, connection refused, HTTP >= 400).
type TransientDeliveryError struct {
	Message string
}

func (e *TransientDeliveryError) Error() string { return e.Message }

func NewTransientDelivery(format string, args ...interface{}) *TransientDeliveryError {
	return &TransientDeliveryError{Message: fmt.Sprintf(format, args...)}
}

type FatalJobError struct {
	Message string
}

func (e *FatalJobError) Error() string { return e.Message }

func NewFatalJob(format string, args ...interface{}) *FatalJobError {
	return &FatalJobError{Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Every response carries the same envelope: a "message" field holding the
// success payload or the error description, plus the HTTP status code.
type Envelope struct {
	Message interface{} `json:"message"`
	Code    string      `json:"code,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Message: payload})
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Message: message, Code: code})
}

// WriteFromError maps a taxonomy error onto the envelope and status code.
func WriteFromError(w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err):
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
	case IsNotFound(err):
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case IsConflict(err):
		WriteError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
