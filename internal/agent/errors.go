package agent

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed. The router uses
// it to decide between moving to the next candidate, backing off first, or
// flagging a configuration problem.
type FailureReason string

const (
	FailureTimeout       FailureReason = "timeout"
	FailureRateLimit     FailureReason = "rate_limit"
	FailureAuth          FailureReason = "auth"
	FailureInvalid       FailureReason = "invalid_request"
	FailureContextLength FailureReason = "context_length"
	FailureServerError   FailureReason = "server_error"
	FailureUnavailable   FailureReason = "model_unavailable"
	FailureUnknown       FailureReason = "unknown"
)

// ConfigIssue reports whether the failure points at operator configuration
// rather than a transient condition.
func (r FailureReason) ConfigIssue() bool {
	switch r {
	case FailureAuth, FailureInvalid, FailureUnavailable:
		return true
	}
	return false
}

// ProviderError is a structured provider failure carrying the context the
// router and logs need.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps cause with provider context, classifying from the
// error text. Use WithStatus/WithCode to sharpen the classification when the
// SDK exposes them.
func NewProviderError(provider, model string, cause error) *ProviderError {
	pe := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailureUnknown,
	}
	if cause != nil {
		pe.Message = cause.Error()
		pe.Reason = ClassifyError(cause)
	}
	return pe
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatus(status); reason != FailureUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records the provider-specific error code and reclassifies from it.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyCode(code); reason != FailureUnknown {
		e.Reason = reason
	}
	return e
}

// ClassifyError maps an arbitrary error to a FailureReason by inspecting
// its text. SDKs do not share an error taxonomy, so string matching is the
// common denominator; WithStatus/WithCode override it when available.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "context length") ||
		strings.Contains(s, "context_length") ||
		strings.Contains(s, "maximum context") ||
		strings.Contains(s, "prompt is too long") ||
		strings.Contains(s, "too many tokens"):
		return FailureContextLength

	case strings.Contains(s, "timeout") ||
		strings.Contains(s, "deadline exceeded") ||
		strings.Contains(s, "context deadline"):
		return FailureTimeout

	case strings.Contains(s, "rate limit") ||
		strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "429"):
		return FailureRateLimit

	case strings.Contains(s, "unauthorized") ||
		strings.Contains(s, "invalid api key") ||
		strings.Contains(s, "invalid_api_key") ||
		strings.Contains(s, "authentication") ||
		strings.Contains(s, "401") ||
		strings.Contains(s, "403"):
		return FailureAuth

	case strings.Contains(s, "model not found") ||
		strings.Contains(s, "model_not_found") ||
		strings.Contains(s, "does not exist") ||
		strings.Contains(s, "unavailable"):
		return FailureUnavailable

	case strings.Contains(s, "internal server") ||
		strings.Contains(s, "server error") ||
		strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "504"):
		return FailureServerError

	case strings.Contains(s, "invalid request") ||
		strings.Contains(s, "invalid_request") ||
		strings.Contains(s, "400"):
		return FailureInvalid
	}

	return FailureUnknown
}

func classifyStatus(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return FailureContextLength
	case status == http.StatusNotFound:
		return FailureUnavailable
	case status == http.StatusBadRequest:
		return FailureInvalid
	case status >= 500:
		return FailureServerError
	}
	return FailureUnknown
}

func classifyCode(code string) FailureReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailureRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return FailureAuth
	case "context_length_exceeded":
		return FailureContextLength
	case "model_not_found", "not_found_error":
		return FailureUnavailable
	case "invalid_request_error":
		return FailureInvalid
	case "server_error", "internal_error", "overloaded_error", "api_error":
		return FailureServerError
	}
	return FailureUnknown
}

// Classify extracts the FailureReason from an error chain, falling back to
// text classification for raw errors.
func Classify(err error) FailureReason {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ClassifyError(err)
}
