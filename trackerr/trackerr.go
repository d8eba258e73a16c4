// Package trackerr classifies profiler failures and drives recovery.
//
// Off-path failures carry a Kind and Severity so callers can use
// errors.Is/errors.As for typed assertions rather than string matching.
// Hot-path conditions (overflow, reentrancy) are never represented as
// errors at all; they are counted outcomes.
package trackerr

import (
	"errors"
	"fmt"
)

// Kind classifies a profiler error.
type Kind string

// Error kinds. Values appear in logs and machine-readable output.
const (
	KindBufferOverflow     Kind = "buffer_overflow"
	KindReentrancyDetected Kind = "reentrancy_detected"
	KindPointerNotFound    Kind = "pointer_not_found"
	KindScopeMismatch      Kind = "scope_mismatch"
	KindInvalidConfig      Kind = "invalid_configuration"
	KindCorruptedBinary    Kind = "corrupted_binary"
	KindUnsupportedVersion Kind = "unsupported_version"
	KindPartialExport      Kind = "partial_export"
	KindIO                 Kind = "io_error"
	KindInternalInvariant  Kind = "internal_invariant_violated"
)

// Severity ranks how badly a failure affects the session.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// defaultSeverity maps each kind to its default severity.
var defaultSeverity = map[Kind]Severity{
	KindBufferOverflow:     SeverityLow,
	KindReentrancyDetected: SeverityLow,
	KindPointerNotFound:    SeverityMedium,
	KindScopeMismatch:      SeverityMedium,
	KindInvalidConfig:      SeverityHigh,
	KindCorruptedBinary:    SeverityHigh,
	KindUnsupportedVersion: SeverityHigh,
	KindPartialExport:      SeverityMedium,
	KindIO:                 SeverityMedium,
	KindInternalInvariant:  SeverityCritical,
}

// SeverityOf returns the default severity for a kind.
func SeverityOf(kind Kind) Severity {
	if s, ok := defaultSeverity[kind]; ok {
		return s
	}
	return SeverityMedium
}

// Sentinel errors for the off-path taxonomy.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	ErrPointerNotFound    = errors.New("pointer has no live allocation record")
	ErrScopeMismatch      = errors.New("scope close does not match open scope")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrCorruptedBinary    = errors.New("corrupted binary container")
	ErrUnsupportedVersion = errors.New("unsupported container version")
	ErrPartialExport      = errors.New("partial export")
	ErrInternalInvariant  = errors.New("internal invariant violated")
)

// sentinelFor maps kinds to their sentinels where one exists.
var sentinelFor = map[Kind]error{
	KindPointerNotFound:    ErrPointerNotFound,
	KindScopeMismatch:      ErrScopeMismatch,
	KindInvalidConfig:      ErrInvalidConfig,
	KindCorruptedBinary:    ErrCorruptedBinary,
	KindUnsupportedVersion: ErrUnsupportedVersion,
	KindPartialExport:      ErrPartialExport,
	KindInternalInvariant:  ErrInternalInvariant,
}

// ProfileError wraps an underlying error with taxonomy classification.
// It preserves the original error in the chain for errors.As.
type ProfileError struct {
	// Kind classifies the failure.
	Kind Kind
	// Op is the operation that failed (e.g. "drain", "parse_segment").
	Op string
	// Hint is a human-readable recovery hint.
	Hint string
	// Err is the underlying error, if any.
	Err error
}

func (e *ProfileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error for chain traversal.
func (e *ProfileError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the kind's sentinel.
func (e *ProfileError) Is(target error) bool {
	if s, ok := sentinelFor[e.Kind]; ok {
		return errors.Is(s, target)
	}
	return false
}

// Severity returns the error's severity.
func (e *ProfileError) Severity() Severity {
	return SeverityOf(e.Kind)
}

// New creates a classified profiler error.
func New(kind Kind, op, hint string, err error) *ProfileError {
	return &ProfileError{Kind: kind, Op: op, Hint: hint, Err: err}
}

// KindOf extracts the kind from an error chain, or "" if the chain
// carries no ProfileError.
func KindOf(err error) Kind {
	var pe *ProfileError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// CorruptionError reports a structural defect found while parsing a
// container, with enough context to drive RebuildIndex recovery.
type CorruptionError struct {
	SegmentKind    uint32
	ExpectedLength uint32
	ActualLength   uint32
	Offset         int64
	Msg            string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted binary at offset %d (segment kind %d): %s: expected %d bytes, have %d",
		e.Offset, e.SegmentKind, e.Msg, e.ExpectedLength, e.ActualLength)
}

// Is matches the corrupted-binary sentinel.
func (e *CorruptionError) Is(target error) bool {
	return errors.Is(ErrCorruptedBinary, target)
}

// PartialExportError reports an export that completed with missing
// producers. Returned as success-with-warning by the aggregator.
type PartialExportError struct {
	BytesWritten   int64
	MissingThreads []uint64
}

func (e *PartialExportError) Error() string {
	return fmt.Sprintf("partial export: %d bytes written, %d producers missing",
		e.BytesWritten, len(e.MissingThreads))
}

// Is matches the partial-export sentinel.
func (e *PartialExportError) Is(target error) bool {
	return errors.Is(ErrPartialExport, target)
}
