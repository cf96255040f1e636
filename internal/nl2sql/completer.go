package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// TextCompleter is an opaque text-in, text-out model call.
type TextCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TransportError marks a failure to reach the model or a transient
// provider-side failure. Only these are retried.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model transport failure status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func isRetryableStatus(status int) bool {
	return status == 429 || status >= 500
}

// RetryingCompleter retries a transport failure at most Retries times.
// Content problems such as an empty answer are returned immediately.
type RetryingCompleter struct {
	Next    TextCompleter
	Retries int
	Logger  *slog.Logger
}

func (c *RetryingCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		text, err := c.Next.Complete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var transportErr *TransportError
		if !errors.As(err, &transportErr) || ctx.Err() != nil {
			return "", err
		}
		if c.Logger != nil && attempt < c.Retries {
			c.Logger.WarnContext(ctx, "retrying model completion after transport failure",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
		}
	}
	return "", lastErr
}
