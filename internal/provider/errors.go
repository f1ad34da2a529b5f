package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code classifies provider and network failures so callers can decide
// how to persist and report them.
type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeConnection        Code = "connection_error"
	CodeTimeout           Code = "timeout_error"
	CodeCancelled         Code = "cancelled"
	CodeAuth              Code = "auth_error"
	CodeRateLimit         Code = "rate_limit"
	CodeModelNotFound     Code = "model_not_found"
	CodeInsufficientQuota Code = "insufficient_quota"
	CodeUnknown           Code = "unknown_error"
)

// Error is a typed provider failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed provider error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a typed provider error wrapping an underlying cause.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the provider error code, or CodeUnknown for untyped
// errors.
func CodeOf(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return CodeUnknown
}

// classifyTransportError maps a failed round trip onto the taxonomy.
// Context state wins over the transport error text: an expired deadline
// is a timeout, an external cancellation is a cancel, everything else is
// a connection failure.
func classifyTransportError(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return WrapError(CodeTimeout, "generate call exceeded its timeout", err)
	case errors.Is(ctx.Err(), context.Canceled):
		return WrapError(CodeCancelled, "generate call was cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(CodeTimeout, "generate call exceeded its timeout", err)
	case errors.Is(err, context.Canceled):
		return WrapError(CodeCancelled, "generate call was cancelled", err)
	default:
		return WrapError(CodeConnection, "backend unreachable", err)
	}
}

// classifyStatus maps a non-2xx HTTP response onto the taxonomy.
func classifyStatus(status int, body string) *Error {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) > 300 {
		trimmed = trimmed[:300]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(CodeAuth, fmt.Sprintf("backend rejected credentials (%d): %s", status, trimmed))
	case status == http.StatusNotFound:
		return NewError(CodeModelNotFound, fmt.Sprintf("model or endpoint not found (%d): %s", status, trimmed))
	case status == http.StatusTooManyRequests:
		if strings.Contains(trimmed, "insufficient_quota") {
			return NewError(CodeInsufficientQuota, fmt.Sprintf("quota exhausted (%d): %s", status, trimmed))
		}
		return NewError(CodeRateLimit, fmt.Sprintf("rate limited (%d): %s", status, trimmed))
	case status == http.StatusBadRequest:
		return NewError(CodeValidation, fmt.Sprintf("backend rejected request (%d): %s", status, trimmed))
	case status >= 500:
		return NewError(CodeConnection, fmt.Sprintf("backend error (%d): %s", status, trimmed))
	default:
		return NewError(CodeUnknown, fmt.Sprintf("unexpected status %d: %s", status, trimmed))
	}
}

// Normalize folds a provider type string to its canonical form, or
// returns false for anything outside the closed set.
func Normalize(raw string) (Type, bool) {
	kind := Type(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range KnownTypes {
		if kind == known {
			return known, true
		}
	}
	return "", false
}
