package sampling

import (
	"sort"
	"sync"

	"github.com/pithecene-io/burrow/types"
)

// callSiteShards stripes the aggregate map so producers on different
// sites rarely contend.
const callSiteShards = 64

// CallSiteAggregator accumulates per-fingerprint frequency and byte
// totals. Updated unconditionally before the sampling decision so
// aggregate statistics stay exact even when individual events drop.
// Safe for concurrent use.
type CallSiteAggregator struct {
	shards [callSiteShards]callSiteShard
}

type callSiteShard struct {
	mu    sync.Mutex
	stats map[types.Fingerprint]*types.CallSiteStats
}

// NewCallSiteAggregator creates an empty aggregator.
func NewCallSiteAggregator() *CallSiteAggregator {
	a := &CallSiteAggregator{}
	for i := range a.shards {
		a.shards[i].stats = make(map[types.Fingerprint]*types.CallSiteStats)
	}
	return a
}

func (a *CallSiteAggregator) shard(fp types.Fingerprint) *callSiteShard {
	return &a.shards[fp%callSiteShards]
}

// Record folds one event into the per-site aggregate. The first
// observation of a site captures its representative name and type.
func (a *CallSiteAggregator) Record(fp types.Fingerprint, size uint64, variableName, typeName string) {
	s := a.shard(fp)
	s.mu.Lock()
	stats, ok := s.stats[fp]
	if !ok {
		stats = &types.CallSiteStats{
			Fingerprint:        fp,
			RepresentativeName: variableName,
			RepresentativeType: typeName,
		}
		s.stats[fp] = stats
	}
	stats.Count++
	stats.TotalBytes += size
	s.mu.Unlock()
}

// Lookup returns a copy of the stats for a fingerprint.
func (a *CallSiteAggregator) Lookup(fp types.Fingerprint) (types.CallSiteStats, bool) {
	s := a.shard(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.stats[fp]
	if !ok {
		return types.CallSiteStats{}, false
	}
	return *stats, true
}

// Merge folds another aggregator's contents into this one. Used when
// per-producer frequency tables are combined at export time.
func (a *CallSiteAggregator) Merge(other *CallSiteAggregator) {
	for i := range other.shards {
		src := &other.shards[i]
		src.mu.Lock()
		for fp, stats := range src.stats {
			dst := a.shard(fp)
			dst.mu.Lock()
			existing, ok := dst.stats[fp]
			if !ok {
				copied := *stats
				dst.stats[fp] = &copied
			} else {
				existing.Count += stats.Count
				existing.TotalBytes += stats.TotalBytes
			}
			dst.mu.Unlock()
		}
		src.mu.Unlock()
	}
}

// Snapshot returns all per-site aggregates sorted by fingerprint.
// Sorting makes export output deterministic.
func (a *CallSiteAggregator) Snapshot() []types.CallSiteStats {
	var out []types.CallSiteStats
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		for _, stats := range s.stats {
			out = append(out, *stats)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// Len returns the number of distinct call sites observed.
func (a *CallSiteAggregator) Len() int {
	n := 0
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		n += len(s.stats)
		s.mu.Unlock()
	}
	return n
}
