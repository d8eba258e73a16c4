package binfmt

import "container/list"

// poolMissing is the index written when a string was evicted from a
// bounded pool or is empty. Readers map it to "".
const poolMissing = ^uint32(0)

// StringPool interns strings into dense indices shared across segments.
// The writer-side pool is bounded: when the limit is reached, the least
// recently used entry is evicted and later occurrences re-intern under
// a fresh index. Identical strings share one index while resident.
type StringPool struct {
	limit   int
	indices map[string]uint32
	strings []string
	// lru tracks residency order; elements hold pool indices.
	lru      *list.List
	elements map[uint32]*list.Element
	// evicted marks indices whose strings were dropped from the intern
	// map; their slots still encode so earlier references stay valid.
	evicted map[uint32]bool
}

// NewStringPool creates a pool bounded to limit distinct resident
// strings. Zero or negative means unbounded.
func NewStringPool(limit int) *StringPool {
	return &StringPool{
		limit:    limit,
		indices:  make(map[string]uint32),
		lru:      list.New(),
		elements: make(map[uint32]*list.Element),
		evicted:  make(map[uint32]bool),
	}
}

// Intern returns the pool index for s, adding it on first use. The
// empty string interns to poolMissing without occupying a slot.
func (p *StringPool) Intern(s string) uint32 {
	if s == "" {
		return poolMissing
	}
	if idx, ok := p.indices[s]; ok {
		if el := p.elements[idx]; el != nil {
			p.lru.MoveToFront(el)
		}
		return idx
	}

	if p.limit > 0 && len(p.indices) >= p.limit {
		// Evict the least recently used resident string. Its slot in
		// the encoded pool survives; only future interning forgets it.
		back := p.lru.Back()
		if back != nil {
			oldIdx := back.Value.(uint32)
			delete(p.indices, p.strings[oldIdx])
			delete(p.elements, oldIdx)
			p.evicted[oldIdx] = true
			p.lru.Remove(back)
		}
	}

	idx := uint32(len(p.strings))
	p.strings = append(p.strings, s)
	p.indices[s] = idx
	p.elements[idx] = p.lru.PushFront(idx)
	return idx
}

// Len returns the number of encoded slots, including evicted ones.
func (p *StringPool) Len() int {
	return len(p.strings)
}

// encode writes all slots in index order.
func (p *StringPool) encode(e *bufEncoder) {
	for _, s := range p.strings {
		e.lenString(s)
	}
}

// decodeStringPool reads count length-prefixed strings.
func decodeStringPool(d *bufDecoder, count uint32) []string {
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		out = append(out, d.lenString())
		if d.truncated {
			return out
		}
	}
	return out
}

// poolString resolves an index against a decoded pool.
func poolString(pool []string, idx uint32) string {
	if idx == poolMissing || int(idx) >= len(pool) {
		return ""
	}
	return pool[idx]
}
