// Package ring implements the per-producer event buffer.
//
// Buffer is a fixed-capacity single-producer/single-consumer ring.
// The tracked worker pushes, the aggregator pops; neither path takes a
// lock or allocates. Overflow increments a drop counter instead of
// blocking, and the counter travels with the exported data so consumers
// know how complete the sample stream is.
package ring

import (
	"sync/atomic"

	"github.com/pithecene-io/burrow/types"
)

// DefaultCapacity is the per-producer ring capacity when the
// configuration does not specify one.
const DefaultCapacity = 4096

// Buffer is an SPSC ring of event records.
//
// writeIdx is written only by the producer, readIdx only by the
// consumer. Both indices grow without wrapping; the slot index is the
// value masked by capacity-1. (writeIdx - readIdx) is the current
// length and is never observed above capacity.
type Buffer struct {
	// Hot producer fields first; the pad keeps the consumer index off
	// the producer's cache line.
	writeIdx atomic.Uint64
	dropped  atomic.Uint64
	_        [48]byte
	readIdx  atomic.Uint64
	_        [56]byte

	slots []types.EventRecord
	mask  uint64

	// producerID is the thread or task this ring collects for.
	producerID uint64
}

// New creates a ring with the given capacity, which must be a power of
// two. Invalid capacities fall back to DefaultCapacity.
func New(producerID uint64, capacity int) *Buffer {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		slots:      make([]types.EventRecord, capacity),
		mask:       uint64(capacity - 1),
		producerID: producerID,
	}
}

// ProducerID returns the thread or task ID this ring collects for.
func (b *Buffer) ProducerID() uint64 {
	return b.producerID
}

// Capacity returns the ring's slot count.
func (b *Buffer) Capacity() int {
	return len(b.slots)
}

// Push stores an event. Returns false and increments the drop counter
// when the ring is full. Producer-only; never allocates, never blocks.
func (b *Buffer) Push(ev *types.EventRecord) bool {
	w := b.writeIdx.Load()
	r := b.readIdx.Load()
	if w-r >= uint64(len(b.slots)) {
		b.dropped.Add(1)
		return false
	}
	b.slots[w&b.mask] = *ev
	b.writeIdx.Store(w + 1)
	return true
}

// Pop removes the oldest event into out. Returns false when the ring is
// empty. Consumer-only; never allocates, never blocks.
func (b *Buffer) Pop(out *types.EventRecord) bool {
	r := b.readIdx.Load()
	w := b.writeIdx.Load()
	if r == w {
		return false
	}
	*out = b.slots[r&b.mask]
	b.readIdx.Store(r + 1)
	return true
}

// Len returns the number of buffered events. Approximate when racing
// with the producer.
func (b *Buffer) Len() int {
	return int(b.writeIdx.Load() - b.readIdx.Load())
}

// Dropped returns the monotone count of events lost to overflow.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// AddDropped folds externally accounted drops (e.g. per-thread record
// caps) into the ring's counter so export sees one number per producer.
func (b *Buffer) AddDropped(n uint64) {
	b.dropped.Add(n)
}
