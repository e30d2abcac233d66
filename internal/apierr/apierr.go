// Package apierr defines the error kinds surfaced by the run core and their HTTP mapping.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is a stable error code returned to clients.
type Kind string

// Error kinds exposed in API responses.
const (
	KindFieldMissing        Kind = "field_missing"
	KindInvalidPayload      Kind = "invalid_payload"
	KindInvalidParameter    Kind = "invalid_parameter"
	KindUnsupportedModel    Kind = "unsupported_model"
	KindMicroappNotFound    Kind = "microapp_not_found"
	KindRunNotFound         Kind = "run_not_found"
	KindUserNotFound        Kind = "user_not_found"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindMicroappLimit       Kind = "microapp_limit"
	KindNoCredits           Kind = "no_credits"
	KindInvalidSubscription Kind = "invalid_subscription"
	KindProviderError       Kind = "provider_error"
	KindServerError         Kind = "server_error"
)

// Error is a classified failure carrying a stable kind.
type Error struct {
	Kind    Kind
	Field   string // Offending field or parameter, when relevant.
	Message string
	// UpstreamStatus is the provider HTTP status for provider errors (0 when unknown).
	UpstreamStatus int
	Err            error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FieldMissing reports an absent required input.
func FieldMissing(name string) *Error {
	return &Error{Kind: KindFieldMissing, Field: name, Message: fmt.Sprintf("%s is required", name)}
}

// InvalidPayload reports a malformed request body.
func InvalidPayload(msg string) *Error {
	return &Error{Kind: KindInvalidPayload, Message: msg}
}

// InvalidParameter reports an out-of-range model parameter.
func InvalidParameter(name, msg string) *Error {
	return &Error{Kind: KindInvalidParameter, Field: name, Message: fmt.Sprintf("invalid parameter %s: %s", name, msg)}
}

// UnsupportedModel reports a model identifier absent from the registry.
func UnsupportedModel(id string) *Error {
	return &Error{Kind: KindUnsupportedModel, Field: "model", Message: fmt.Sprintf("unsupported model: %s", id)}
}

// MicroappNotFound reports an unknown microapp id.
func MicroappNotFound(id uint64) *Error {
	return &Error{Kind: KindMicroappNotFound, Message: fmt.Sprintf("microapp %d not found", id)}
}

// RunNotFound reports that no run matches a PATCH reference.
func RunNotFound(ref string) *Error {
	return &Error{Kind: KindRunNotFound, Message: fmt.Sprintf("run %s not found", ref)}
}

// UserNotFound reports a missing owner during metering.
func UserNotFound(id uint64) *Error {
	return &Error{Kind: KindUserNotFound, Message: fmt.Sprintf("user %d not found", id)}
}

// QuotaExceeded reports that the guest daily session limit is reached.
func QuotaExceeded() *Error {
	return &Error{Kind: KindQuotaExceeded, Message: "daily guest session limit reached"}
}

// MicroappLimit reports that the owner reached the free-tier microapp cap.
func MicroappLimit(limit int) *Error {
	return &Error{Kind: KindMicroappLimit, Message: fmt.Sprintf("microapp limit of %d reached for the free plan", limit)}
}

// NoCredits reports that the owner has no credits left.
func NoCredits() *Error {
	return &Error{Kind: KindNoCredits, Message: "no credits available"}
}

// InvalidSubscription reports a subscription status that blocks runs.
func InvalidSubscription(status string) *Error {
	return &Error{Kind: KindInvalidSubscription, Message: fmt.Sprintf("subscription is %s", status)}
}

// Provider wraps an upstream LLM failure, keeping the provider message verbatim.
func Provider(upstreamStatus int, msg string, err error) *Error {
	msg = strings.TrimSpace(msg)
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindProviderError, Message: msg, UpstreamStatus: upstreamStatus, Err: err}
}

// Server wraps an unexpected failure.
func Server(err error) *Error {
	return &Error{Kind: KindServerError, Message: "internal server error", Err: err}
}

// KindOf returns the kind of err, defaulting to server_error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindServerError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e != nil && e.Kind == kind
}

// HTTPStatus maps an error to the HTTP status returned to clients.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindMicroappNotFound, KindRunNotFound:
		return http.StatusNotFound
	case KindServerError:
		return http.StatusInternalServerError
	case KindProviderError:
		switch e.UpstreamStatus {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return http.StatusBadRequest
		default:
			return http.StatusInternalServerError
		}
	default:
		return http.StatusBadRequest
	}
}
