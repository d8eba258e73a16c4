package sampling

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/pithecene-io/burrow/types"
)

// FingerprintFromPCs derives a call-site fingerprint from a program
// counter chain. Stable within a process run; alloc-free.
func FingerprintFromPCs(pcs []uintptr) types.Fingerprint {
	var d xxhash.Digest
	d.Reset()
	var scratch [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(scratch[:], uint64(pc))
		_, _ = d.Write(scratch[:])
	}
	return d.Sum64()
}

// FingerprintFromNames derives a fingerprint from variable and type
// names. Used when no symbol chain is available, so the same logical
// site hashes identically across runs.
func FingerprintFromNames(variableName, typeName string) types.Fingerprint {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.WriteString(variableName)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(typeName)
	return d.Sum64()
}
