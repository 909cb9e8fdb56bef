package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates an operator-facing provider problem:
	// bad credentials or an unknown model identifier.
	ErrConfiguration = errors.New("llm configuration error")
	// ErrUnexpectedResponse indicates the provider answered without any
	// text content block.
	ErrUnexpectedResponse = errors.New("unexpected llm response shape")
)

// UpstreamError carries a provider failure status and message so callers
// can decide how to surface it. The client never retries.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("llm upstream error: status %d", e.Status)
	}
	return fmt.Sprintf("llm upstream error: status %d: %s", e.Status, e.Message)
}

// translateStatus maps provider HTTP failures onto the error taxonomy.
// 401/403 and 404 are configuration problems, everything else upstream.
func translateStatus(status int, message string) error {
	switch status {
	case 401, 403:
		return fmt.Errorf("provider rejected credentials (check the API key): %w", ErrConfiguration)
	case 404:
		return fmt.Errorf("model not found (check the model identifier): %w", ErrConfiguration)
	}
	return &UpstreamError{Status: status, Message: message}
}
