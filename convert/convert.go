// Package convert produces the analytical JSON views from a binary
// container.
//
// Each view is an independent file so consumers load only what they
// need. Views refer to shared allocations by the hex form of ptr.
// Conversion is deterministic: the same container produces byte
// identical views apart from the metadata timestamp the caller fixes.
package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"go.uber.org/multierr"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/export"
	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// View names, also the artifact suffixes.
const (
	ViewMemoryAnalysis = "memory_analysis"
	ViewLifetime       = "lifetime"
	ViewPerformance    = "performance"
	ViewUnsafeBoundary = "unsafe_boundary"
	ViewComplexTypes   = "complex_types"
)

// AllViews lists every view in emission order.
func AllViews() []string {
	return []string{ViewMemoryAnalysis, ViewLifetime, ViewPerformance, ViewUnsafeBoundary, ViewComplexTypes}
}

// Options controls conversion.
type Options struct {
	// Prefix names artifacts: <prefix>_<view>.json.
	Prefix string
	// CreatedAt stamps view metadata, in nanoseconds. The caller fixes
	// it so conversion is idempotent.
	CreatedAt uint64
	// Views selects a subset; nil means all views.
	Views []string
}

// Metadata is the top-level metadata field every view carries.
type Metadata struct {
	Version            string `json:"version"`
	CreatedAt          uint64 `json:"created_at"`
	SourceBinarySHA256 string `json:"source_binary_sha256"`
	Partial            bool   `json:"partial"`
}

// WriteViews parses a container and writes the selected views to the
// sink. Views over a partial container are valid and marked partial in
// their metadata.
func WriteViews(ctx context.Context, sink export.Sink, container []byte, opts Options) error {
	c, err := binfmt.Parse(container)
	if err != nil {
		return err
	}
	return writeParsed(ctx, sink, c, sha256Hex(container), opts)
}

// ConvertFile reads a container file and writes views into outDir.
// Used by the CLI front-end.
func ConvertFile(ctx context.Context, inputPath, outDir string, opts Options) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return trackerr.New(trackerr.KindIO, "convert", "input unreadable", err)
	}
	sink, err := export.NewFSSink(outDir)
	if err != nil {
		return err
	}
	return WriteViews(ctx, sink, data, opts)
}

func writeParsed(ctx context.Context, sink export.Sink, c *binfmt.Container, sourceSHA string, opts Options) error {
	if opts.Prefix == "" {
		opts.Prefix = "burrow"
	}
	views := opts.Views
	if len(views) == 0 {
		views = AllViews()
	}

	meta := Metadata{
		Version:            types.Version,
		CreatedAt:          opts.CreatedAt,
		SourceBinarySHA256: sourceSHA,
		Partial:            c.Header.HasFlag(binfmt.FlagPartialExport),
	}

	var errs error
	for _, view := range views {
		doc, err := buildView(view, c, meta)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		name := fmt.Sprintf("%s_%s.json", opts.Prefix, view)
		if err := sink.Put(ctx, name, doc); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func buildView(view string, c *binfmt.Container, meta Metadata) ([]byte, error) {
	var payload any
	var field string

	switch view {
	case ViewMemoryAnalysis:
		field, payload = "memory_analysis", buildMemoryAnalysis(c)
	case ViewLifetime:
		field, payload = "lifecycle_events", buildLifetime(c)
	case ViewPerformance:
		field, payload = "performance", buildPerformance(c)
	case ViewUnsafeBoundary:
		field, payload = "unsafe_boundary", buildUnsafeBoundary(c)
	case ViewComplexTypes:
		field, payload = "complex_types", buildComplexTypes(c)
	default:
		return nil, trackerr.New(trackerr.KindInvalidConfig, "convert",
			"unknown view name",
			fmt.Errorf("%w: view %q", trackerr.ErrInvalidConfig, view))
	}

	doc := map[string]any{
		"metadata": meta,
		field:      payload,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, trackerr.New(trackerr.KindInternalInvariant, "convert", "view not serializable", err)
	}
	return append(out, '\n'), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func ptrHex(ptr uint64) string {
	return fmt.Sprintf("0x%x", ptr)
}

func sortedRegistry(c *binfmt.Container) []types.AllocationInfo {
	out := make([]types.AllocationInfo, len(c.Payload.Registry))
	copy(out, c.Payload.Registry)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AllocatedAt != out[j].AllocatedAt {
			return out[i].AllocatedAt < out[j].AllocatedAt
		}
		return out[i].Ptr < out[j].Ptr
	})
	return out
}
