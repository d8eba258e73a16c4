// Package adapter defines the notification boundary for finished
// sessions.
//
// Adapters publish session completion notifications to downstream
// systems so dashboards and pipelines can pick up fresh artifacts.
// The host owns adapter lifecycle; the core only publishes. Delivery
// failures are classified as profiler IO errors and retried per the
// recovery engine's policy, under its circuit breaker — adapters do
// not carry a retry mechanism of their own.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/burrow/trackerr"
)

// SessionCompletedEvent is the payload published when a session ends.
type SessionCompletedEvent struct {
	EventType       string  `json:"event_type"` // always "session_completed"
	SessionID       string  `json:"session_id"`
	Topology        string  `json:"topology"`
	Outcome         string  `json:"outcome"` // success or partial
	ContainerPath   string  `json:"container_path"`
	EventsObserved  int64   `json:"events_observed"`
	EventsKept      int64   `json:"events_kept"`
	EventsDropped   int64   `json:"events_dropped"`
	OverheadPercent float64 `json:"overhead_percent"`
	DurationMs      int64   `json:"duration_ms"`
	Timestamp       string  `json:"timestamp"` // ISO 8601
}

// Adapter publishes session completion events to a downstream system.
// Implementations must be safe for single-use per session.
type Adapter interface {
	// Publish sends a session completion event to the downstream
	// system. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// permanentError marks a delivery failure that retrying cannot fix
// (e.g. an HTTP 4xx: the request itself is wrong).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Deliver stops instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked non-retriable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Deliver runs attempt under the profiler's recovery policy. The
// engine decides the retry budget for IO failures; its circuit breaker
// collapses retries to a single attempt while a downstream dependency
// keeps failing, so a dead endpoint cannot stall session teardown.
// Successive retries back off exponentially from the policy's base
// delay. Failures marked Permanent return immediately.
func Deliver(ctx context.Context, engine *trackerr.Engine, op string, attempt func(context.Context) error) error {
	if engine == nil {
		engine = trackerr.NewEngine()
	}

	action := engine.Decide(trackerr.New(trackerr.KindIO, op, "", nil))
	attempts := 1
	if action.Kind == trackerr.ActionRetry && action.MaxAttempts > 0 {
		attempts = action.MaxAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return trackerr.New(trackerr.KindIO, op, "notification canceled", err)
		}
		if i > 0 {
			backoff := action.Delay << uint(i-1)
			select {
			case <-ctx.Done():
				return trackerr.New(trackerr.KindIO, op, "notification canceled during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			engine.RecordSuccess()
			return nil
		}
		engine.RecordFailure()
		if IsPermanent(lastErr) {
			return trackerr.New(trackerr.KindIO, op, "endpoint rejected the event", lastErr)
		}
	}

	return trackerr.New(trackerr.KindIO, op,
		fmt.Sprintf("gave up after %d attempts", attempts), lastErr)
}
