package convert

import (
	"sort"
	"strings"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/types"
)

// --- memory_analysis ---

type memoryAnalysis struct {
	Summary     allocationSummary  `json:"summary"`
	Allocations []allocationRecord `json:"allocations"`
}

type allocationSummary struct {
	TotalEvents        uint64 `json:"total_events"`
	DroppedEvents      uint64 `json:"dropped_events"`
	KeptAllocations    int    `json:"kept_allocations"`
	KeptDeallocations  int    `json:"kept_deallocations"`
	TrackedAllocations int    `json:"tracked_allocations"`
	LiveAllocations    int    `json:"live_allocations"`
	LeakedAllocations  int    `json:"leaked_allocations"`
	TotalBytes         uint64 `json:"total_bytes"`
}

type allocationRecord struct {
	Ptr          string `json:"ptr"`
	Size         uint64 `json:"size"`
	AllocatedAt  uint64 `json:"allocated_at"`
	FreedAt      uint64 `json:"freed_at,omitempty"`
	Live         bool   `json:"live"`
	Leaked       bool   `json:"leaked"`
	VariableName string `json:"variable_name,omitempty"`
	TypeName     string `json:"type_name,omitempty"`
	ScopeID      uint32 `json:"scope_id,omitempty"`
	Fingerprint  string `json:"fingerprint"`
}

func buildMemoryAnalysis(c *binfmt.Container) memoryAnalysis {
	records := sortedRegistry(c)

	out := memoryAnalysis{
		Allocations: make([]allocationRecord, 0, len(records)),
		Summary: allocationSummary{
			TotalEvents:   c.Header.TotalEvents,
			DroppedEvents: c.Header.TotalDropped,
		},
	}

	for _, ev := range c.Payload.Events {
		switch ev.Kind {
		case types.EventKindAllocation:
			out.Summary.KeptAllocations++
		case types.EventKindDeallocation:
			out.Summary.KeptDeallocations++
		}
	}

	for i := range records {
		r := &records[i]
		rec := allocationRecord{
			Ptr:          ptrHex(r.Ptr),
			Size:         r.Size,
			AllocatedAt:  r.AllocatedAt,
			Live:         r.Live(),
			Leaked:       r.IsLeaked,
			VariableName: r.VariableName,
			TypeName:     r.TypeName,
			Fingerprint:  ptrHex(r.Fingerprint),
		}
		if r.FreedAt != nil {
			rec.FreedAt = *r.FreedAt
		}
		if r.ScopeID != nil {
			rec.ScopeID = *r.ScopeID
		}
		out.Allocations = append(out.Allocations, rec)

		out.Summary.TrackedAllocations++
		out.Summary.TotalBytes += r.Size
		if r.Live() {
			out.Summary.LiveAllocations++
		}
		if r.IsLeaked {
			out.Summary.LeakedAllocations++
		}
	}
	return out
}

// --- lifetime ---

type lifetimeView struct {
	Timelines []allocationTimeline `json:"timelines"`
}

type allocationTimeline struct {
	Ptr    string                 `json:"ptr"`
	Events []types.OwnershipEvent `json:"events"`
}

// buildLifetime reconstructs per-allocation ownership timelines from
// registry bookkeeping. Borrow counters are best-effort observations,
// so borrow events carry the last observed timestamp, not one entry
// per borrow.
func buildLifetime(c *binfmt.Container) lifetimeView {
	records := sortedRegistry(c)
	out := lifetimeView{Timelines: make([]allocationTimeline, 0, len(records))}

	for i := range records {
		r := &records[i]
		events := []types.OwnershipEvent{
			{Kind: types.OwnershipAllocated, Timestamp: r.AllocatedAt},
		}
		if r.Borrow != nil {
			if r.Borrow.ImmutableCount > 0 {
				events = append(events, types.OwnershipEvent{
					Kind:      types.OwnershipBorrowed,
					Timestamp: r.Borrow.LastBorrowAt,
					Detail:    countDetail(r.Borrow.ImmutableCount),
				})
			}
			if r.Borrow.MutableCount > 0 {
				events = append(events, types.OwnershipEvent{
					Kind:      types.OwnershipMutablyBorrowed,
					Timestamp: r.Borrow.LastBorrowAt,
					Detail:    countDetail(r.Borrow.MutableCount),
				})
			}
		}
		if r.Clone != nil {
			for _, target := range r.Clone.ClonedPtrs {
				events = append(events, types.OwnershipEvent{
					Kind:      types.OwnershipCloned,
					Timestamp: r.AllocatedAt,
					Detail:    ptrHex(target),
				})
			}
			if r.Clone.SourcePtr != 0 {
				events = append(events, types.OwnershipEvent{
					Kind:      types.OwnershipTransferred,
					Timestamp: r.AllocatedAt,
					Detail:    ptrHex(r.Clone.SourcePtr),
				})
			}
		}
		if r.FreedAt != nil {
			events = append(events, types.OwnershipEvent{
				Kind:      types.OwnershipDropped,
				Timestamp: *r.FreedAt,
			})
		}

		sort.SliceStable(events, func(a, b int) bool {
			return events[a].Timestamp < events[b].Timestamp
		})
		out.Timelines = append(out.Timelines, allocationTimeline{
			Ptr:    ptrHex(r.Ptr),
			Events: events,
		})
	}
	return out
}

func countDetail(n uint64) string {
	return "observed " + utoa(n) + " times"
}

func utoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// --- performance ---

type performanceView struct {
	TotalEvents        uint64          `json:"total_events"`
	KeptEvents         int             `json:"kept_events"`
	DroppedEvents      uint64          `json:"dropped_events"`
	DropRate           float64         `json:"drop_rate"`
	SamplingEfficiency float64         `json:"sampling_efficiency"`
	SpanNanos          uint64          `json:"span_nanos"`
	ThroughputPerSec   float64         `json:"throughput_events_per_sec"`
	CallSites          []callSiteEntry `json:"call_sites"`
}

type callSiteEntry struct {
	Fingerprint        string `json:"fingerprint"`
	Count              uint64 `json:"count"`
	TotalBytes         uint64 `json:"total_bytes"`
	RepresentativeName string `json:"representative_name,omitempty"`
	RepresentativeType string `json:"representative_type,omitempty"`
}

func buildPerformance(c *binfmt.Container) performanceView {
	out := performanceView{
		TotalEvents:   c.Header.TotalEvents,
		KeptEvents:    len(c.Payload.Events),
		DroppedEvents: c.Header.TotalDropped,
		CallSites:     make([]callSiteEntry, 0, len(c.Payload.Frequency)),
	}
	if c.Header.TotalEvents > 0 {
		out.DropRate = float64(c.Header.TotalDropped) / float64(c.Header.TotalEvents)
		out.SamplingEfficiency = float64(len(c.Payload.Events)) / float64(c.Header.TotalEvents)
	}

	if n := len(c.Payload.Events); n > 0 {
		first := c.Payload.Events[0].Timestamp
		last := c.Payload.Events[n-1].Timestamp
		if last > first {
			out.SpanNanos = last - first
			out.ThroughputPerSec = float64(c.Header.TotalEvents) / (float64(out.SpanNanos) / 1e9)
		}
	}

	for _, s := range c.Payload.Frequency {
		out.CallSites = append(out.CallSites, callSiteEntry{
			Fingerprint:        ptrHex(s.Fingerprint),
			Count:              s.Count,
			TotalBytes:         s.TotalBytes,
			RepresentativeName: s.RepresentativeName,
			RepresentativeType: s.RepresentativeType,
		})
	}
	sort.SliceStable(out.CallSites, func(i, j int) bool {
		if out.CallSites[i].Count != out.CallSites[j].Count {
			return out.CallSites[i].Count > out.CallSites[j].Count
		}
		return out.CallSites[i].Fingerprint < out.CallSites[j].Fingerprint
	})
	return out
}

// --- unsafe_boundary ---

type unsafeBoundaryView struct {
	Crossings int              `json:"crossings"`
	Passports []passportRecord `json:"passports"`
}

type passportRecord struct {
	Ptr       string `json:"ptr"`
	Boundary  string `json:"boundary"`
	Direction string `json:"direction"`
	StampedAt uint64 `json:"stamped_at"`
	TypeName  string `json:"type_name,omitempty"`
}

func buildUnsafeBoundary(c *binfmt.Container) unsafeBoundaryView {
	out := unsafeBoundaryView{Passports: make([]passportRecord, 0)}
	for _, r := range sortedRegistry(c) {
		if r.Passport == nil {
			continue
		}
		out.Passports = append(out.Passports, passportRecord{
			Ptr:       ptrHex(r.Ptr),
			Boundary:  r.Passport.Boundary,
			Direction: r.Passport.Direction,
			StampedAt: r.Passport.StampedAt,
			TypeName:  r.TypeName,
		})
	}
	out.Crossings = len(out.Passports)
	return out
}

// --- complex_types ---

type complexTypesView struct {
	Categories []typeCategory `json:"categories"`
}

type typeCategory struct {
	Category   string      `json:"category"`
	Count      int         `json:"count"`
	TotalBytes uint64      `json:"total_bytes"`
	Types      []typeEntry `json:"types"`
}

type typeEntry struct {
	TypeName   string `json:"type_name"`
	Count      int    `json:"count"`
	TotalBytes uint64 `json:"total_bytes"`
}

// categorizeType buckets a type name. Heuristic, name-based: the core
// records names verbatim and never inspects user values.
func categorizeType(name string) string {
	switch {
	case name == "":
		return "unknown"
	case strings.HasPrefix(name, "[]") || strings.HasPrefix(name, "map[") ||
		strings.HasPrefix(name, "chan ") || strings.HasPrefix(name, "Vec<") ||
		strings.HasPrefix(name, "["):
		return "collection"
	case strings.HasPrefix(name, "*"):
		return "pointer"
	case strings.ContainsAny(name, "[<") && strings.ContainsAny(name, "]>"):
		return "generic"
	case name == "string" || name == "bytes":
		return "string"
	case name == "bool" || name == "int" || name == "int8" || name == "int16" ||
		name == "int32" || name == "int64" || name == "uint" || name == "uint8" ||
		name == "uint16" || name == "uint32" || name == "uint64" ||
		name == "float32" || name == "float64":
		return "primitive"
	default:
		return "struct"
	}
}

func buildComplexTypes(c *binfmt.Container) complexTypesView {
	type key struct{ category, typeName string }
	counts := make(map[key]*typeEntry)
	catBytes := make(map[string]uint64)
	catCount := make(map[string]int)

	for _, r := range c.Payload.Registry {
		category := categorizeType(r.TypeName)
		k := key{category, r.TypeName}
		entry, ok := counts[k]
		if !ok {
			entry = &typeEntry{TypeName: r.TypeName}
			counts[k] = entry
		}
		entry.Count++
		entry.TotalBytes += r.Size
		catBytes[category] += r.Size
		catCount[category]++
	}

	byCategory := make(map[string][]typeEntry)
	for k, entry := range counts {
		byCategory[k.category] = append(byCategory[k.category], *entry)
	}

	out := complexTypesView{Categories: make([]typeCategory, 0, len(byCategory))}
	for category, entries := range byCategory {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].TotalBytes != entries[j].TotalBytes {
				return entries[i].TotalBytes > entries[j].TotalBytes
			}
			return entries[i].TypeName < entries[j].TypeName
		})
		out.Categories = append(out.Categories, typeCategory{
			Category:   category,
			Count:      catCount[category],
			TotalBytes: catBytes[category],
			Types:      entries,
		})
	}
	sort.SliceStable(out.Categories, func(i, j int) bool {
		return out.Categories[i].Category < out.Categories[j].Category
	})
	return out
}
