package message

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Error names stored on assistant messages and published over the bus.
const (
	ErrOutputLength     = "MessageOutputLengthError"
	ErrAborted          = "MessageAbortedError"
	ErrAuth             = "ProviderAuthError"
	ErrAPI              = "APIError"
	ErrContextOverflow  = "ContextOverflowError"
	ErrStructuredOutput = "StructuredOutputError"
	ErrBusy             = "SessionBusyError"
	ErrNotFound         = "NotFoundError"
	ErrArgument         = "ArgumentError"
)

// Error is the serializable error attached to assistant messages. It
// implements error so it can travel through normal return paths.
type Error struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	ProviderID string `json:"providerID,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Is matches by name so errors.Is works across marshal boundaries.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Name == other.Name
	}
	return false
}

// NewBusy reports a session already claimed by a running loop.
func NewBusy(sessionID string) *Error {
	return &Error{Name: ErrBusy, Message: fmt.Sprintf("session %s is busy", sessionID)}
}

// NewNotFound reports a missing entity by kind and id.
func NewNotFound(kind, id string) *Error {
	return &Error{Name: ErrNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

// NewArgument reports invalid caller input.
func NewArgument(msg string) *Error {
	return &Error{Name: ErrArgument, Message: msg}
}

// NewAborted reports a user-initiated cancellation.
func NewAborted() *Error {
	return &Error{Name: ErrAborted, Message: "request was aborted"}
}

// NewStructuredOutput reports structured output that failed validation
// after all retries.
func NewStructuredOutput(msg string) *Error {
	return &Error{Name: ErrStructuredOutput, Message: msg}
}

// NewOutputLength reports a response truncated at the output token limit.
func NewOutputLength() *Error {
	return &Error{Name: ErrOutputLength, Message: "response exceeded the output token limit"}
}

// NewContextOverflow reports input that exceeded the model context window.
func NewContextOverflow(msg string) *Error {
	return &Error{Name: ErrContextOverflow, Message: msg}
}

// ClassifyProviderError normalizes a provider transport failure into the
// persisted taxonomy. Auth failures map to ProviderAuthError; everything
// else becomes an APIError, retryable only for server-side (>=500) status
// codes and connection resets.
func ClassifyProviderError(providerID string, statusCode int, err error) *Error {
	if err == nil {
		return nil
	}
	var known *Error
	if errors.As(err, &known) {
		return known
	}
	if errors.Is(err, context.Canceled) {
		return NewAborted()
	}

	msg := err.Error()
	if statusCode == 401 || statusCode == 403 || isAuthMessage(msg) {
		return &Error{
			Name:       ErrAuth,
			Message:    msg,
			ProviderID: providerID,
			StatusCode: statusCode,
		}
	}
	if isOverflowMessage(msg) {
		e := NewContextOverflow(msg)
		e.ProviderID = providerID
		return e
	}

	return &Error{
		Name:       ErrAPI,
		Message:    msg,
		ProviderID: providerID,
		StatusCode: statusCode,
		Retryable:  statusCode >= 500 || isConnReset(err),
	}
}

func isAuthMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key") ||
		strings.Contains(m, "unauthorized") ||
		strings.Contains(m, "authentication")
}

func isOverflowMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "context length") ||
		strings.Contains(m, "context window") ||
		strings.Contains(m, "prompt is too long") ||
		strings.Contains(m, "maximum context")
}

func isConnReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}

// Retryable reports whether the loop may retry the model call that
// produced this error.
func Retryable(e *Error) bool {
	if e == nil {
		return false
	}
	return e.Name == ErrAPI && e.Retryable
}
