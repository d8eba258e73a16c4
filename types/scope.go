package types

// ScopeID identifies a scope within a session. Zero is never a valid
// scope ID.
type ScopeID = uint32

// Scope is a named, possibly nested region of execution that owns
// variable associations. Scopes form a forest per thread linked by
// ParentID; edges are IDs, not references.
type Scope struct {
	ID       ScopeID
	Name     string
	ParentID *ScopeID
	OpenedAt uint64
	// ClosedAt is nil while the scope is open. A scope closes exactly
	// once.
	ClosedAt *uint64
	// ThreadID is the producer that opened the scope.
	ThreadID uint64
}

// Open reports whether the scope has not been closed.
func (s *Scope) Open() bool {
	return s.ClosedAt == nil
}
