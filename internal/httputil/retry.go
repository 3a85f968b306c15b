// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the retry policy and HTTP helpers shared by
// every stage that talks to the network.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Policy describes how a network call is retried. It carries no mutable
// state, so one value can be shared by concurrent callers.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier scales the wait per attempt. Zero means 2.
	Multiplier float64

	// OnRetry, when set, is told about every failed attempt that will be
	// retried. attempt is 1-based.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy mirrors the scraper defaults: three attempts, two seconds
// apart and doubling.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// Attempts returns the effective number of attempts.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the wait after the given failed attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// permanentError stops Retry from trying again.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// TransientError reports a network call that kept failing with retryable
// errors until the policy ran out of attempts.
type TransientError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetching %s: failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status code is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Retry calls fn until it succeeds, returns a Permanent error, the context
// is cancelled, or the policy's attempts are spent. On exhaustion it
// returns a *TransientError wrapping the last failure.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := p.Attempts()
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = err
		if attempt == attempts-1 {
			break
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return &TransientError{Attempts: attempts, Err: last}
}

// Do executes req with the retry policy. Transport errors, timeouts, 429
// and 5xx responses are retried; other non-2xx responses fail at once
// with a *StatusError. The returned response has a 2xx status and an open
// body the caller must close.
func Do(ctx context.Context, client *http.Client, req *http.Request, p Policy) (*http.Response, error) {
	var resp *http.Response
	err := Retry(ctx, p, func(attempt int) error {
		attemptReq := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return Permanent(fmt.Errorf("rewinding request body: %w", err))
			}
			attemptReq.Body = body
		}
		r, err := client.Do(attemptReq)
		if err != nil {
			if !retryableNetError(err) {
				return Permanent(err)
			}
			return err
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}

		// Drain and close the body before retrying.
		io.Copy(io.Discard, r.Body)
		r.Body.Close()

		se := &StatusError{URL: req.URL.String(), StatusCode: r.StatusCode}
		if !se.Retryable() {
			return Permanent(se)
		}
		return se
	})
	if err != nil {
		var te *TransientError
		if errors.As(err, &te) {
			te.URL = req.URL.String()
		}
		return nil, err
	}
	return resp, nil
}

// retryableNetError reports whether a client.Do error is worth another
// attempt. Dial, TLS, reset and per-call timeout failures are; caller
// cancellation is not.
func retryableNetError(err error) bool {
	return !errors.Is(err, context.Canceled)
}
