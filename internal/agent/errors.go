package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies turn-level failures so the scheduler and the
// response preparer can react without parsing provider error strings.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "RATE_LIMITED"
	KindLLMTransient    ErrorKind = "LLM_TRANSIENT"
	KindContextOverflow ErrorKind = "CONTEXT_OVERFLOW"
	KindLLMEmpty        ErrorKind = "LLM_EMPTY"
	KindToolFailure     ErrorKind = "TOOL_FAILURE"
	KindToolDenied      ErrorKind = "TOOL_DENIED"
	KindPolicyDenied    ErrorKind = "POLICY_DENIED"
	KindTimeout         ErrorKind = "TIMEOUT"
	KindFatal           ErrorKind = "FATAL"
)

// Error is a classified agent error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a classified error without a cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind of a classified error, or KindFatal.
func KindOf(err error) ErrorKind {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	return KindFatal
}

// overflowMarkers are the provider error substrings that indicate the
// request exceeded the model's context window.
var overflowMarkers = []string{
	"exceeds maximum input length",
	"context_length_exceeded",
	"maximum context length",
	"too many tokens",
	"request too large",
}

// IsContextOverflow reports whether the error indicates a context-window
// overflow on the provider side.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range overflowMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ClassifyLLMError maps a provider error to an agent error kind.
func ClassifyLLMError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case IsContextOverflow(err):
		return KindContextOverflow
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"):
		return KindLLMTransient
	}
	return KindFatal
}
