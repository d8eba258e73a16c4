package registry

import (
	"fmt"
	"sync"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// ScopeTracker maintains per-thread stacks of open scopes. Scopes form
// a forest linked by parent IDs; a scope closes exactly once. Safe for
// concurrent use by multiple producers.
type ScopeTracker struct {
	mu sync.Mutex

	nextID types.ScopeID
	scopes map[types.ScopeID]*types.Scope
	// stacks holds the open-scope stack per producer.
	stacks map[uint64][]types.ScopeID

	registry *Registry
}

// NewScopeTracker creates a tracker that marks variables in the given
// registry when their scope closes.
func NewScopeTracker(registry *Registry) *ScopeTracker {
	return &ScopeTracker{
		nextID: 1,
		scopes: make(map[types.ScopeID]*types.Scope),
		stacks: make(map[uint64][]types.ScopeID),
		registry: registry,
	}
}

// Open pushes a named scope for the producer and returns its ID.
func (t *ScopeTracker) Open(threadID uint64, name string, timestamp uint64) types.ScopeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++

	scope := &types.Scope{
		ID:       id,
		Name:     name,
		OpenedAt: timestamp,
		ThreadID: threadID,
	}
	stack := t.stacks[threadID]
	if len(stack) > 0 {
		parent := stack[len(stack)-1]
		scope.ParentID = &parent
	}
	t.scopes[id] = scope
	t.stacks[threadID] = append(stack, id)
	return id
}

// Close pops the producer's current scope. The close must match the
// top of the producer's stack; a mismatch is rejected with ScopeMismatch
// and the session continues.
func (t *ScopeTracker) Close(threadID uint64, id types.ScopeID, timestamp uint64) error {
	t.mu.Lock()

	stack := t.stacks[threadID]
	if len(stack) == 0 || stack[len(stack)-1] != id {
		t.mu.Unlock()
		return trackerr.New(trackerr.KindScopeMismatch, "scope_close",
			"close scopes in reverse order of opening",
			fmt.Errorf("%w: scope %d is not the producer's current scope", trackerr.ErrScopeMismatch, id))
	}

	scope, ok := t.scopes[id]
	if !ok || scope.ClosedAt != nil {
		t.mu.Unlock()
		return trackerr.New(trackerr.KindScopeMismatch, "scope_close",
			"scope already closed",
			fmt.Errorf("%w: scope %d", trackerr.ErrScopeMismatch, id))
	}

	closedAt := timestamp
	if closedAt <= scope.OpenedAt {
		closedAt = scope.OpenedAt + 1
	}
	scope.ClosedAt = &closedAt
	t.stacks[threadID] = stack[:len(stack)-1]
	t.mu.Unlock()

	// Mark outside the lock; registry has its own striping.
	if t.registry != nil {
		t.registry.MarkScopeEnded(id)
	}
	return nil
}

// Current returns the producer's innermost open scope ID, or 0.
func (t *ScopeTracker) Current(threadID uint64) types.ScopeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	stack := t.stacks[threadID]
	if len(stack) == 0 {
		return 0
	}
	return stack[len(stack)-1]
}

// Snapshot returns all scopes ordered by ID.
func (t *ScopeTracker) Snapshot() []types.Scope {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Scope, 0, len(t.scopes))
	for id := types.ScopeID(1); id < t.nextID; id++ {
		if s, ok := t.scopes[id]; ok {
			out = append(out, *s)
		}
	}
	return out
}
