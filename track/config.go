package track

import (
	"fmt"

	"github.com/pithecene-io/burrow/adapter"
	"github.com/pithecene-io/burrow/export"
	"github.com/pithecene-io/burrow/log"
	"github.com/pithecene-io/burrow/sampling"
	"github.com/pithecene-io/burrow/strategy"
	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// OverflowPolicy controls what a producer does when its ring is full.
type OverflowPolicy string

const (
	// OverflowDrop counts the event and moves on. The default, and the
	// only policy safe on a live hot path.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowBlock spins until the aggregator makes room. Only legal
	// for offline replay and tests; a stalled aggregator stalls the
	// producer.
	OverflowBlock OverflowPolicy = "block"
)

// OutputFormat selects what a snapshot writes.
type OutputFormat string

const (
	OutputBinary    OutputFormat = "binary"
	OutputJSONViews OutputFormat = "json_views"
	OutputBoth      OutputFormat = "both"
)

// Config configures a tracking session.
type Config struct {
	// Strategy forces a collection topology, or auto.
	Strategy types.Topology
	// Sampling holds the decider parameters.
	Sampling sampling.Config
	// BufferCapacity is the per-ring capacity; must be a power of two.
	BufferCapacity int
	// MaxOverheadPercent is the self-observation ceiling; when measured
	// overhead exceeds it, sampling thresholds rise until it is met.
	// Zero disables the governor.
	MaxOverheadPercent float64
	// OutputFormat selects snapshot artifacts.
	OutputFormat OutputFormat
	// Compress stores container segments zstd-compressed.
	Compress bool
	// OnOverflow is the ring overflow policy.
	OnOverflow OverflowPolicy
	// Sink receives export artifacts. Required.
	Sink export.Sink
	// ArtifactPrefix names artifacts; defaults to "burrow".
	ArtifactPrefix string
	// SpillDir, when set, bounds aggregator memory between snapshots.
	SpillDir string
	// TaskProvider integrates a cooperative-task runtime, enabling
	// task-local and hybrid topologies.
	TaskProvider strategy.TaskIDProvider
	// StringPoolLimit bounds the container intern table.
	StringPoolLimit int
	// Logger is optional; nil builds a session logger on stderr.
	Logger *log.Logger
	// Adapter, when set, receives a session-completed notification
	// after End. Publish failures are logged, never fatal.
	Adapter adapter.Adapter
}

// DefaultConfig returns a config suitable for most hosts: automatic
// topology, default sampling, drop on overflow, binary output.
func DefaultConfig(sink export.Sink) Config {
	return Config{
		Strategy:       types.TopologyAuto,
		Sampling:       sampling.DefaultConfig(),
		BufferCapacity: 4096,
		OutputFormat:   OutputBinary,
		OnOverflow:     OverflowDrop,
		Sink:           sink,
	}
}

// validate rejects configurations the session cannot honor.
func (c *Config) validate() error {
	if c.Sink == nil {
		return trackerr.New(trackerr.KindInvalidConfig, "session_start",
			"provide an export sink", fmt.Errorf("%w: nil sink", trackerr.ErrInvalidConfig))
	}
	if c.BufferCapacity != 0 && c.BufferCapacity&(c.BufferCapacity-1) != 0 {
		return trackerr.New(trackerr.KindInvalidConfig, "session_start",
			"buffer_capacity must be a power of two",
			fmt.Errorf("%w: buffer_capacity %d", trackerr.ErrInvalidConfig, c.BufferCapacity))
	}
	switch c.OnOverflow {
	case "", OverflowDrop, OverflowBlock:
	default:
		return trackerr.New(trackerr.KindInvalidConfig, "session_start",
			"on_overflow must be drop or block",
			fmt.Errorf("%w: on_overflow %q", trackerr.ErrInvalidConfig, c.OnOverflow))
	}
	switch c.OutputFormat {
	case "", OutputBinary, OutputJSONViews, OutputBoth:
	default:
		return trackerr.New(trackerr.KindInvalidConfig, "session_start",
			"output_format must be binary, json_views, or both",
			fmt.Errorf("%w: output_format %q", trackerr.ErrInvalidConfig, c.OutputFormat))
	}
	return c.Sampling.Validate()
}
