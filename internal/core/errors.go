package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError is raised before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("extraction failed: %v", e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type TransientCategory string

const (
	CategoryRateLimited   TransientCategory = "rate_limited"
	CategoryQuotaExceeded TransientCategory = "quota_exceeded"
	CategoryNetwork       TransientCategory = "network"
	CategoryFailure       TransientCategory = "failure"
)

// CategoryForStatus maps an upstream HTTP status to a category.
func CategoryForStatus(code int) TransientCategory {
	switch code {
	case http.StatusTooManyRequests:
		return CategoryRateLimited
	case http.StatusPaymentRequired:
		return CategoryQuotaExceeded
	}
	return CategoryFailure
}

// TransientServiceError reports a failure from the completion or crawl endpoints.
// Nothing retries these automatically.
type TransientServiceError struct {
	Service  string
	Category TransientCategory
	Status   int
	Err      error
}

func (e *TransientServiceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Service, e.Category)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

func NewStatusError(service string, status int, err error) *TransientServiceError {
	return &TransientServiceError{Service: service, Category: CategoryForStatus(status), Status: status, Err: err}
}

func NewNetworkError(service string, err error) *TransientServiceError {
	return &TransientServiceError{Service: service, Category: CategoryNetwork, Err: err}
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// HTTPStatus picks the response status a handler should use for err.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ee *ExtractionError
		te *TransientServiceError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &te):
		switch te.Category {
		case CategoryRateLimited:
			return http.StatusTooManyRequests
		case CategoryQuotaExceeded:
			return http.StatusPaymentRequired
		}
		return http.StatusInternalServerError
	case errors.As(err, &ee):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
