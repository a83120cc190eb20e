package compress

import "github.com/klauspost/compress/s2"

// S2Compressor is the default Compressor: S2 (a Snappy derivative tuned
// for throughput on small inputs), chosen from dep2p's
// klauspost/compress dependency over the same module's zstd codec because
// per-packet latency matters more than compression ratio for a live
// transport moving small, frequent datagrams.
type S2Compressor struct{}

func (S2Compressor) Compress(dst, src []byte) []byte {
	return s2.Encode(dst, src)
}

func (S2Compressor) Decompress(dst, src []byte) ([]byte, error) {
	return s2.Decode(dst, src)
}

func (S2Compressor) MaxOverhead() int {
	// s2.MaxEncodedLen returns -1 for inputs it refuses to bound; assume a
	// generous fixed allowance for the packet sizes this transport deals
	// with (see SPEC_FULL.md §9 Open Question decision #1).
	return 32
}
