// Package sampling makes per-event keep/drop decisions and keeps exact
// per-site aggregates even for dropped events.
//
// The decider classifies events into size bands. Critical-sized events
// always survive; medium events survive probabilistically; small events
// survive by deterministic stride or probability, with the deterministic
// rule winning ties so identical workloads reproduce identical keep
// sets. Deallocations of previously kept allocations are always kept so
// lifetimes stay pairable downstream.
package sampling

import (
	"fmt"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// Config holds the sampling parameters.
type Config struct {
	// CriticalSizeThreshold is the byte size at or above which sampling
	// is bypassed entirely.
	CriticalSizeThreshold uint64
	// MediumSizeThreshold is the lower bound of the medium band.
	MediumSizeThreshold uint64
	// MediumSampleRate is the keep probability for medium events, in [0,1].
	MediumSampleRate float64
	// SmallSampleRate is the keep probability for small events, in [0,1].
	SmallSampleRate float64
	// FrequencySampleInterval keeps every Nth small observation per
	// call site. Zero disables the deterministic stride.
	FrequencySampleInterval uint64
	// MaxRecordsPerThread caps kept events per producer; excess events
	// count as drops. Zero means unlimited.
	MaxRecordsPerThread uint64
	// EnableFingerprintUpdate controls whether call-site aggregates are
	// updated. Disabling it breaks aggregate reconstruction and is not
	// recommended.
	EnableFingerprintUpdate bool
	// Seed seeds the decider's PRNG so probabilistic decisions are
	// reproducible. Zero selects a fixed default.
	Seed uint64
}

// DefaultConfig returns production sampling defaults.
func DefaultConfig() Config {
	return Config{
		CriticalSizeThreshold:   1 << 20, // 1 MiB
		MediumSizeThreshold:     4 << 10, // 4 KiB
		MediumSampleRate:        0.1,
		SmallSampleRate:         0.01,
		FrequencySampleInterval: 100,
		EnableFingerprintUpdate: true,
	}
}

// Validate checks rate and threshold coherence.
func (c *Config) Validate() error {
	if c.MediumSampleRate < 0 || c.MediumSampleRate > 1 {
		return trackerr.New(trackerr.KindInvalidConfig, "sampling",
			"medium_sample_rate must be in [0,1]",
			fmt.Errorf("medium_sample_rate %v out of range", c.MediumSampleRate))
	}
	if c.SmallSampleRate < 0 || c.SmallSampleRate > 1 {
		return trackerr.New(trackerr.KindInvalidConfig, "sampling",
			"small_sample_rate must be in [0,1]",
			fmt.Errorf("small_sample_rate %v out of range", c.SmallSampleRate))
	}
	if c.MediumSizeThreshold > c.CriticalSizeThreshold {
		return trackerr.New(trackerr.KindInvalidConfig, "sampling",
			"medium_size_threshold must not exceed critical_size_threshold",
			fmt.Errorf("medium %d > critical %d", c.MediumSizeThreshold, c.CriticalSizeThreshold))
	}
	return nil
}

// Decision is the outcome of a sampling check.
type Decision struct {
	Keep bool
	// Probabilistic is true when the keep came from a probability rule
	// rather than a deterministic one; recorded in the event flags.
	Probabilistic bool
}

// Decider makes keep/drop decisions for one producer. Not safe for
// concurrent use; each producer owns its own decider.
type Decider struct {
	config Config
	rng    xorshift64

	// siteObservations counts small-band observations per call site for
	// the deterministic stride.
	siteObservations map[types.Fingerprint]uint64
	// keptPtrs tracks live allocations that survived sampling, so their
	// deallocations are always kept.
	keptPtrs map[uint64]struct{}
}

// NewDecider creates a decider for one producer.
func NewDecider(config Config) *Decider {
	seed := config.Seed
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return &Decider{
		config:           config,
		rng:              xorshift64(seed),
		siteObservations: make(map[types.Fingerprint]uint64, 256),
		keptPtrs:         make(map[uint64]struct{}, 1024),
	}
}

// SetRates retunes the probabilistic rates and the deterministic
// stride. Called by the overhead governor between events; the decider's
// owner is the only goroutine touching it.
func (d *Decider) SetRates(small, medium float64, interval uint64) {
	d.config.SmallSampleRate = small
	d.config.MediumSampleRate = medium
	d.config.FrequencySampleInterval = interval
}

// Decide applies the sampling rules to one event.
func (d *Decider) Decide(kind types.EventKind, ptr, size uint64, fp types.Fingerprint) Decision {
	if kind == types.EventKindDeallocation {
		if _, ok := d.keptPtrs[ptr]; ok {
			delete(d.keptPtrs, ptr)
			return Decision{Keep: true}
		}
		// Unknown or previously dropped pointer: fall through to the
		// size rules like any other event.
		return d.decideBySize(size, fp)
	}

	dec := d.decideBySize(size, fp)
	if dec.Keep {
		d.keptPtrs[ptr] = struct{}{}
	}
	return dec
}

func (d *Decider) decideBySize(size uint64, fp types.Fingerprint) Decision {
	if size >= d.config.CriticalSizeThreshold {
		return Decision{Keep: true}
	}

	if size >= d.config.MediumSizeThreshold {
		if d.rng.Float64() < d.config.MediumSampleRate {
			return Decision{Keep: true, Probabilistic: true}
		}
		return Decision{}
	}

	// Small band: deterministic stride wins ties over probability.
	if interval := d.config.FrequencySampleInterval; interval > 0 {
		n := d.siteObservations[fp] + 1
		d.siteObservations[fp] = n
		if n%interval == 1 || interval == 1 {
			return Decision{Keep: true}
		}
	}
	if d.rng.Float64() < d.config.SmallSampleRate {
		return Decision{Keep: true, Probabilistic: true}
	}
	return Decision{}
}

// xorshift64 is a tiny deterministic PRNG. Not cryptographic; chosen so
// sampling decisions carry no allocation and reproduce across runs.
type xorshift64 uint64

func (x *xorshift64) next() uint64 {
	v := uint64(*x)
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	*x = xorshift64(v)
	return v
}

// Float64 returns a value in [0,1).
func (x *xorshift64) Float64() float64 {
	return float64(x.next()>>11) / float64(1<<53)
}
