package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"labeler_server/pkg/apperr"
)

// ConfigurationError reports missing or invalid configuration.
// It is raised at construction time and aborts a batch before any work starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) AppError() *apperr.AppError {
	return apperr.ConfigError(e.Error()).WithDetail("field", e.Field)
}

// ClassificationFormatError means the model answer could not be parsed or
// did not match the expected shape. No labels are applied for that message.
type ClassificationFormatError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ClassificationFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification format: %s: %v", e.Reason, e.Err)
	}
	return "classification format: " + e.Reason
}

func (e *ClassificationFormatError) Unwrap() error { return e.Err }

func (e *ClassificationFormatError) AppError() *apperr.AppError {
	return apperr.Wrap(e, apperr.CodeClassificationFormat, "classifier returned an invalid response", http.StatusBadGateway)
}

// ClassificationTransportError wraps a failed call to the LLM provider.
type ClassificationTransportError struct {
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ClassificationTransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classification transport (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("classification transport: %v", e.Err)
}

func (e *ClassificationTransportError) Unwrap() error { return e.Err }

func (e *ClassificationTransportError) AppError() *apperr.AppError {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return apperr.Timeout("classify").WithError(e)
	}
	return apperr.Wrap(e, apperr.CodeClassificationTransport, "classifier unavailable", http.StatusBadGateway)
}

// LabelCreationError is returned when the provider refuses to create a label.
// Only that label is skipped.
type LabelCreationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *LabelCreationError) Error() string {
	msg := fmt.Sprintf("cannot create label %q", e.Name)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LabelCreationError) Unwrap() error { return e.Err }

func (e *LabelCreationError) AppError() *apperr.AppError {
	return apperr.Wrap(e, apperr.CodeLabelCreation, e.Error(), http.StatusBadRequest).WithDetail("name", e.Name)
}

// GatewayAuthError means a Gmail call was rejected as unauthorized even after
// one token refresh.
type GatewayAuthError struct {
	Op  string
	Err error
}

func (e *GatewayAuthError) Error() string {
	return fmt.Sprintf("gmail %s: unauthorized: %v", e.Op, e.Err)
}

func (e *GatewayAuthError) Unwrap() error { return e.Err }

func (e *GatewayAuthError) AppError() *apperr.AppError {
	return apperr.Wrap(e, apperr.CodeGatewayAuth, "gmail authorization failed", http.StatusUnauthorized)
}

// GatewayTransportError wraps any other failed Gmail call.
type GatewayTransportError struct {
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *GatewayTransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gmail %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gmail %s: %v", e.Op, e.Err)
}

func (e *GatewayTransportError) Unwrap() error { return e.Err }

func (e *GatewayTransportError) AppError() *apperr.AppError {
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		return apperr.Timeout("gmail " + e.Op).WithError(e)
	case e.StatusCode == http.StatusConflict:
		return apperr.Conflict(e.Error()).WithError(e).WithDetail("op", e.Op)
	}
	status := http.StatusBadGateway
	if e.StatusCode == http.StatusNotFound {
		status = http.StatusNotFound
	} else if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests {
		status = http.StatusBadRequest
	}
	return apperr.Wrap(e, apperr.CodeGatewayTransport, "gmail request failed", status).WithDetail("op", e.Op)
}

// LedgerUnavailableError is logged when the ledger cannot be read.
// CheckLabeled never returns it; it fails open instead.
type LedgerUnavailableError struct {
	Op  string
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable (%s): %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

func (e *LedgerUnavailableError) AppError() *apperr.AppError {
	return apperr.Wrap(e, apperr.CodeLedgerUnavailable, "labeling ledger unavailable", http.StatusServiceUnavailable)
}

// ErrLedgerEntryNotFound is returned by the administrative delete.
var ErrLedgerEntryNotFound = errors.New("ledger entry not found")

// IsTransient reports whether a failed call may be retried:
// 5xx, 429, network errors and timeouts. Parse errors and other 4xx are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ct *ClassificationTransportError
	if errors.As(err, &ct) {
		return ct.Transient
	}
	var gt *GatewayTransportError
	if errors.As(err, &gt) {
		return gt.Transient
	}
	var fe *ClassificationFormatError
	if errors.As(err, &fe) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// TransientStatus reports whether an HTTP status is worth one retry.
func TransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// ErrLabelExists is wrapped by gateways when the provider reports that a
// label with the requested name already exists.
var ErrLabelExists = errors.New("label already exists")
