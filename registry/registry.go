// Package registry maintains the address-to-variable association map
// and the scope tree that owns those associations.
//
// The registry is append-only during a tracking session: records enter
// on allocation, transition to history on deallocation, and mutate only
// through the defined operations (associate, borrow/clone observation,
// passport stamping). Entries outlive the allocations they describe;
// history is retained until session end.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// registryShards stripes the ptr map; producers writing their own
// associations rarely touch the same shard.
const registryShards = 64

// Registry is the variable association map. Safe for concurrent use.
type Registry struct {
	shards [registryShards]registryShard

	// history holds records for freed allocations.
	historyMu sync.Mutex
	history   []*types.AllocationInfo
}

type registryShard struct {
	mu   sync.Mutex
	live map[uint64]*types.AllocationInfo
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].live = make(map[uint64]*types.AllocationInfo)
	}
	return r
}

func (r *Registry) shard(ptr uint64) *registryShard {
	// Drop low bits: allocator alignment makes them constant.
	return &r.shards[(ptr>>4)%registryShards]
}

// TrackAllocation inserts a live record for ptr. A re-used address whose
// previous record was never freed moves the old record to history with
// its leak flag set.
func (r *Registry) TrackAllocation(ptr, size, timestamp uint64, fp types.Fingerprint) {
	s := r.shard(ptr)
	s.mu.Lock()
	if prev, ok := s.live[ptr]; ok {
		prev.IsLeaked = true
		r.appendHistory(prev)
	}
	s.live[ptr] = &types.AllocationInfo{
		Ptr:         ptr,
		Size:        size,
		AllocatedAt: timestamp,
		Fingerprint: fp,
	}
	s.mu.Unlock()
}

// TrackDeallocation moves the record for ptr to history. Returns the
// allocation's size and fingerprint, or zeros when the pointer was
// never tracked.
func (r *Registry) TrackDeallocation(ptr, timestamp uint64) (size uint64, fp types.Fingerprint) {
	s := r.shard(ptr)
	s.mu.Lock()
	info, ok := s.live[ptr]
	if !ok {
		s.mu.Unlock()
		return 0, 0
	}
	delete(s.live, ptr)
	s.mu.Unlock()

	freedAt := timestamp
	if freedAt <= info.AllocatedAt {
		// Clock ties happen under coarse timers; keep FreedAt monotone
		// above AllocatedAt.
		freedAt = info.AllocatedAt + 1
	}
	info.FreedAt = &freedAt
	r.appendHistory(info)
	return info.Size, info.Fingerprint
}

func (r *Registry) appendHistory(info *types.AllocationInfo) {
	r.historyMu.Lock()
	r.history = append(r.history, info)
	r.historyMu.Unlock()
}

// Associate attaches a variable name, type, and scope to a live
// allocation. Idempotent on identical inputs. Fails with
// PointerNotFound when ptr has no live record; callers must associate
// after allocation tracking.
func (r *Registry) Associate(ptr uint64, name, typeName string, scopeID types.ScopeID) error {
	s := r.shard(ptr)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.live[ptr]
	if !ok {
		return trackerr.New(trackerr.KindPointerNotFound, "associate",
			"track the allocation before associating a variable",
			fmt.Errorf("%w: ptr 0x%x", trackerr.ErrPointerNotFound, ptr))
	}

	info.VariableName = name
	info.TypeName = typeName
	if scopeID != 0 {
		id := scopeID
		info.ScopeID = &id
	}
	info.OwnershipHistoryAvailable = true
	return nil
}

// ObserveBorrow records a borrow observation for ptr. Advisory only;
// unknown pointers are ignored.
func (r *Registry) ObserveBorrow(ptr, timestamp uint64, mutable bool, concurrent uint64) {
	s := r.shard(ptr)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.live[ptr]
	if !ok {
		return
	}
	if info.Borrow == nil {
		info.Borrow = &types.BorrowInfo{}
	}
	if mutable {
		info.Borrow.MutableCount++
	} else {
		info.Borrow.ImmutableCount++
	}
	if concurrent > info.Borrow.MaxConcurrent {
		info.Borrow.MaxConcurrent = concurrent
	}
	info.Borrow.LastBorrowAt = timestamp
}

// ObserveClone links a derivative allocation to its source, forming a
// DAG keyed by ptr. Both endpoints must be live; missing endpoints are
// ignored (the clone edge is advisory).
func (r *Registry) ObserveClone(sourcePtr, clonePtr uint64) {
	src := r.shard(sourcePtr)
	src.mu.Lock()
	if info, ok := src.live[sourcePtr]; ok {
		if info.Clone == nil {
			info.Clone = &types.CloneInfo{}
		}
		info.Clone.ClonedPtrs = append(info.Clone.ClonedPtrs, clonePtr)
		info.Clone.CloneCount++
	}
	src.mu.Unlock()

	dst := r.shard(clonePtr)
	dst.mu.Lock()
	if info, ok := dst.live[clonePtr]; ok {
		if info.Clone == nil {
			info.Clone = &types.CloneInfo{}
		}
		info.Clone.SourcePtr = sourcePtr
	}
	dst.mu.Unlock()
}

// StampPassport marks a live allocation as having crossed a trust
// boundary. Unknown pointers are ignored.
func (r *Registry) StampPassport(ptr, timestamp uint64, boundary, direction string) {
	s := r.shard(ptr)
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.live[ptr]; ok {
		info.Passport = &types.MemoryPassport{
			Boundary:  boundary,
			Direction: direction,
			StampedAt: timestamp,
		}
	}
}

// Lookup returns a copy of the live record for ptr.
func (r *Registry) Lookup(ptr uint64) (types.AllocationInfo, bool) {
	s := r.shard(ptr)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.live[ptr]
	if !ok {
		return types.AllocationInfo{}, false
	}
	return *info, true
}

// MarkScopeEnded flags remaining live variables of a scope. Called by
// the scope tracker on close; does not free anything.
func (r *Registry) MarkScopeEnded(scopeID types.ScopeID) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, info := range s.live {
			if info.ScopeID != nil && *info.ScopeID == scopeID {
				info.OwnershipHistoryAvailable = true
			}
		}
		s.mu.Unlock()
	}
}

// Snapshot returns every record, live and historical, sorted by
// allocation time then ptr. Live records still leaking at session end
// keep IsLeaked unset here; leak classification is an offline concern.
func (r *Registry) Snapshot() []types.AllocationInfo {
	var out []types.AllocationInfo

	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, info := range s.live {
			out = append(out, *info)
		}
		s.mu.Unlock()
	}

	r.historyMu.Lock()
	for _, info := range r.history {
		out = append(out, *info)
	}
	r.historyMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AllocatedAt != out[j].AllocatedAt {
			return out[i].AllocatedAt < out[j].AllocatedAt
		}
		return out[i].Ptr < out[j].Ptr
	})
	return out
}

// LiveCount returns the number of live allocations.
func (r *Registry) LiveCount() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.live)
		s.mu.Unlock()
	}
	return n
}
