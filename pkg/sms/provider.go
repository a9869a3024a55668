package sms

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound means the provider has no record of the message.
var ErrNotFound = errors.New("sms: message not found")

// ErrTimeout is returned when a provider call exceeds its deadline.
var ErrTimeout = errors.New("sms: provider call timed out")

// Message is the provider's view of one SMS.
type Message struct {
	SID       string
	Status    string
	Price     *float64
	ErrorCode int
	ErrorText string
}

// Provider sends SMS and reports delivery state.
type Provider interface {
	Send(ctx context.Context, to, body string) (*Message, error)
	Fetch(ctx context.Context, sid string) (*Message, error)
}

// ProviderError is an upstream rejection carrying the HTTP status it came with.
type ProviderError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("sms provider error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("sms provider error (http %d): %s", e.HTTPStatus, e.Message)
}

// callWithTimeout runs fn in its own goroutine so a client without context
// support still returns to the caller at the deadline.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{val: zero, err: fmt.Errorf("sms: provider panic: %v", r)}
			}
		}()
		v, err := fn()
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}
