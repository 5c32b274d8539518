package message

import (
	"context"
	"errors"
	"syscall"
	"testing"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantName   string
		wantRetry  bool
	}{
		{"server error", 500, errors.New("internal"), ErrAPI, true},
		{"overloaded", 529, errors.New("overloaded"), ErrAPI, true},
		{"client error", 400, errors.New("bad request"), ErrAPI, false},
		{"rate limit", 429, errors.New("too many requests"), ErrAPI, false},
		{"unauthorized", 401, errors.New("invalid x-api-key"), ErrAuth, false},
		{"auth by message", 0, errors.New("authentication failed"), ErrAuth, false},
		{"conn reset", 0, syscall.ECONNRESET, ErrAPI, true},
		{"overflow", 400, errors.New("prompt is too long: 250000 tokens"), ErrContextOverflow, false},
		{"canceled", 0, context.Canceled, ErrAborted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyProviderError("anthropic", tt.status, tt.err)
			if got.Name != tt.wantName {
				t.Errorf("name = %s, want %s", got.Name, tt.wantName)
			}
			if Retryable(got) != tt.wantRetry {
				t.Errorf("retryable = %v, want %v", Retryable(got), tt.wantRetry)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := NewBusy("session_1")
	if !errors.Is(err, &Error{Name: ErrBusy}) {
		t.Error("errors.Is failed to match by name")
	}
	if errors.Is(err, &Error{Name: ErrNotFound}) {
		t.Error("errors.Is matched a different name")
	}
}
