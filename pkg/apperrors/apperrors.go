package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes surfaced to callers. Adapter failures keep distinct codes so
// callers can tell "not configured" from "transient" from "already processed".
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeConflict               = "CONFLICT"
	CodeVersionConflict        = "VERSION_CONFLICT"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeDuplicateSource        = "DUPLICATE_SOURCE"
	CodeIngestionInFlight      = "INGESTION_IN_FLIGHT"
	CodeClassifierTimeout      = "CLASSIFIER_TIMEOUT"
	CodeClassifierError        = "CLASSIFIER_ERROR"
	CodeClassifierUnconfigured = "CLASSIFIER_UNCONFIGURED"
	CodeTransportError         = "TRANSPORT_ERROR"
	CodeInternal               = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches domain errors by code so errors.Is works across wrapping.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewVersionConflict signals that the caller's expected version is stale;
// the caller must re-read and decide whether to retry.
func NewVersionConflict(ticketID string, expected int64) error {
	return NewDomainError(CodeVersionConflict, "ticket was modified concurrently", http.StatusConflict, map[string]any{
		"ticket_id":        ticketID,
		"expected_version": expected,
	})
}

// NewInvalidTransition signals an attempt to leave a terminal state or to
// take an edge the lifecycle does not define.
func NewInvalidTransition(from, to string) error {
	return NewDomainError(CodeInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to), http.StatusUnprocessableEntity, map[string]any{
		"from": from,
		"to":   to,
	})
}

// NewDuplicateSource signals a source message that is already bound to a
// ticket. Ingestion treats it as the no-op success path.
func NewDuplicateSource(sourceID string) error {
	return NewDomainError(CodeDuplicateSource, "source message already ingested", http.StatusConflict, map[string]any{
		"source_id": sourceID,
	})
}

// NewIngestionInFlight signals a fresh reservation held by another worker.
func NewIngestionInFlight(sourceID string) error {
	return NewDomainError(CodeIngestionInFlight, "source message is being ingested by another worker", http.StatusConflict, map[string]any{
		"source_id": sourceID,
	})
}

func NewClassifierTimeout(err error) error {
	return &DomainError{
		Code:       CodeClassifierTimeout,
		Message:    "classifier call timed out",
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

func NewClassifierError(err error) error {
	return &DomainError{
		Code:       CodeClassifierError,
		Message:    "classifier call failed",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewClassifierUnconfigured() error {
	return NewDomainError(CodeClassifierUnconfigured, "no classifier configured", http.StatusServiceUnavailable, nil)
}

// NewTransportError wraps a mail transport failure. The ticket keeps its
// pre-send state; the operator sees the failure rather than a silent drop.
func NewTransportError(err error) error {
	return &DomainError{
		Code:       CodeTransportError,
		Message:    "mail transport unavailable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// CodeOf returns the domain error code, or empty for nil/unknown errors.
func CodeOf(err error) string {
	de := ToDomainError(err)
	if de == nil {
		return ""
	}
	return de.Code
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}
