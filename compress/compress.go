// Package compress defines the transport's pluggable block-compression
// capability (SPEC_FULL.md §2/§4.3: outgoing packets are "(optionally)
// compressed, then (optionally) encrypted"). No teacher file compresses
// anything; this is enriched from dep2p's go.mod, which carries
// klauspost/compress.
package compress

// Compressor block-compresses and decompresses whole packets.
type Compressor interface {
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
	// MaxOverhead bounds how much larger Compress's output can be than its
	// input. The fragmentation budget does not consult it; it reserves a
	// fixed allowance instead (SPEC_FULL.md §9 Open Question decision #1).
	MaxOverhead() int
}
