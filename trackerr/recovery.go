package trackerr

import (
	"sync"
	"time"
)

// ActionKind enumerates recovery action types.
type ActionKind string

const (
	ActionRetry    ActionKind = "retry"
	ActionFallback ActionKind = "fallback"
	ActionDegrade  ActionKind = "degrade"
	ActionReset    ActionKind = "reset"
	ActionSkip     ActionKind = "skip"
	ActionAbort    ActionKind = "abort"
)

// Action describes what the recovery engine decided to do for an error.
// Actions carry data, not behavior: the owning component interprets them.
// Constructing an Action never allocates beyond the struct itself, so
// recovery decisions are safe to make from drain paths.
type Action struct {
	Kind ActionKind

	// Retry parameters (ActionRetry).
	MaxAttempts int
	Delay       time.Duration

	// Fallback strategy name (ActionFallback), e.g. "events_only".
	Strategy string

	// Degradation parameters (ActionDegrade).
	DegradeLevel    int
	DegradeDuration time.Duration

	// Reset parameters (ActionReset).
	Component    string
	PreserveData bool
}

// DefaultPolicy maps error kinds to their default recovery actions.
func DefaultPolicy() map[Kind]Action {
	return map[Kind]Action{
		KindBufferOverflow:     {Kind: ActionSkip},
		KindReentrancyDetected: {Kind: ActionSkip},
		KindPointerNotFound:    {Kind: ActionSkip},
		KindScopeMismatch:      {Kind: ActionSkip},
		KindInvalidConfig:      {Kind: ActionAbort},
		KindCorruptedBinary:    {Kind: ActionFallback, Strategy: "rebuild_index"},
		KindUnsupportedVersion: {Kind: ActionFallback, Strategy: "legacy_reader"},
		KindPartialExport:      {Kind: ActionSkip},
		KindIO:                 {Kind: ActionRetry, MaxAttempts: 3, Delay: 100 * time.Millisecond},
		KindInternalInvariant:  {Kind: ActionAbort},
	}
}

// Engine decides recovery actions and tracks failure pressure through a
// circuit breaker. Safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	policy  map[Kind]Action
	breaker *CircuitBreaker
}

// NewEngine creates an engine with the default policy and breaker.
func NewEngine() *Engine {
	return &Engine{
		policy:  DefaultPolicy(),
		breaker: NewCircuitBreaker(DefaultBreakerConfig()),
	}
}

// Register overrides the action for a kind.
func (e *Engine) Register(kind Kind, action Action) {
	e.mu.Lock()
	e.policy[kind] = action
	e.mu.Unlock()
}

// Decide returns the recovery action for an error. When the circuit is
// open, retry actions collapse to skip so failing dependencies are not
// hammered.
func (e *Engine) Decide(err error) Action {
	kind := KindOf(err)

	e.mu.Lock()
	action, ok := e.policy[kind]
	e.mu.Unlock()
	if !ok {
		action = Action{Kind: ActionSkip}
	}

	if action.Kind == ActionRetry && !e.breaker.Allow() {
		return Action{Kind: ActionSkip}
	}
	return action
}

// RecordSuccess reports a successful recoverable operation to the breaker.
func (e *Engine) RecordSuccess() {
	e.breaker.RecordSuccess()
}

// RecordFailure reports a failed recoverable operation to the breaker.
func (e *Engine) RecordFailure() {
	e.breaker.RecordFailure()
}

// BreakerState returns the breaker's current state.
func (e *Engine) BreakerState() BreakerState {
	return e.breaker.State()
}
