// Package testutil holds polling helpers for tests that observe asynchronous
// job processing.
package testutil

import (
	"fmt"
	"testing"
	"time"
)

type waitOptions struct {
	timeout  time.Duration
	interval time.Duration
	message  string
}

// WaitOption tunes a wait.
type WaitOption func(*waitOptions)

// WithTimeout sets how long to keep polling (default: 30s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

// WithInterval sets the pause between polls (default: 50ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.interval = d }
}

// WithMessage describes what is awaited; it is reported on timeout.
func WithMessage(format string, args ...any) WaitOption {
	return func(o *waitOptions) { o.message = fmt.Sprintf(format, args...) }
}

func resolve(opts []WaitOption) waitOptions {
	o := waitOptions{timeout: 30 * time.Second, interval: 50 * time.Millisecond, message: "condition"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// poll runs cond until it reports done or the timeout passes. cond
// always runs at least once, and once more right at the deadline.
func poll(o waitOptions, cond func() bool) bool {
	if cond() {
		return true
	}
	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cond() {
				return true
			}
		case <-deadline.C:
			return cond()
		}
	}
}

// WaitFor polls condition and reports whether it became true in time.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	return poll(resolve(opts), condition)
}

// MustWaitFor polls condition and fails the test if it never becomes true.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	o := resolve(opts)
	if !poll(o, condition) {
		tb.Fatalf("timed out after %v waiting for %s", o.timeout, o.message)
	}
}

// MustWaitForValue polls fn until it reports ok and returns the value it
// produced. The test fails on timeout.
func MustWaitForValue[T any](tb testing.TB, fn func() (T, bool), opts ...WaitOption) T {
	tb.Helper()
	o := resolve(opts)
	var last T
	ok := poll(o, func() bool {
		v, done := fn()
		last = v
		return done
	})
	if !ok {
		tb.Fatalf("timed out after %v waiting for %s (last value: %+v)", o.timeout, o.message, last)
	}
	return last
}
