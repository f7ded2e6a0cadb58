package llm

import (
	"context"
	"time"
)

// Client provides a provider-neutral interface for generation calls.
// Implementations handle provider-specific details internally.
// Callers control timeouts via the context; a deadline expiry surfaces as an
// *Error with ErrorTypeTimeout.
type Client interface {
	// Generate sends a compiled prompt and returns the raw response text.
	Generate(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Client.
func (f ClientFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// WithTimeout wraps a client so every Generate call carries a deadline. A
// deadline expiry is reported as a timeout *Error.
func WithTimeout(client Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return client
	}
	return ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		text, err := client.Generate(ctx, prompt)
		if err != nil {
			if wrapped := WrapContextError(err); wrapped != nil {
				return "", wrapped
			}
			return "", err
		}
		return text, nil
	})
}
