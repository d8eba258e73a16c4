package types

// Version is the canonical project version.
// The CLI, the JSON view metadata, and the container tooling all report
// this constant.
const Version = "0.3.0"

// FormatVersion is the binary container format version written into the
// file header. Bumped only on incompatible layout changes.
const FormatVersion uint16 = 1
