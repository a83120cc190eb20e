package peer

import (
	"net/netip"

	"github.com/lattice-net/lattice/internal/alloc"
	"github.com/lattice-net/lattice/logging"
	"github.com/lattice-net/lattice/metrics"

	"github.com/benbjohnson/clock"
)

// Compressor mirrors compress.Compressor structurally, re-declared here
// (as config.Compressor already is) to keep peer free of an import on the
// compress package; any compress.Compressor satisfies it.
type Compressor interface {
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
	MaxOverhead() int
}

// HostFacade is everything a Peer needs back from its owning Host, kept as
// an interface so peer never imports host (host.Host embeds peer.Peer
// values the other direction). Grounded on the design note in
// SPEC_FULL.md §9 ("Peer carries a non-owning reference back to the Host
// for socket access and allocator").
type HostFacade interface {
	SendTo(remote netip.AddrPort, buf []byte) error
	Allocator() *alloc.Allocator
	Clock() clock.Clock
	Logger() *logging.Logger
	Metrics() *metrics.Collectors

	// TickMillis returns the low 16 bits of the host's monotonic
	// millisecond counter, the wire "tick slice".
	TickMillis() uint16

	CRC32Enabled() bool
	EncryptionEnabled() bool
	CompressionEnabled() bool
	Compressor() Compressor

	NewExchanger() (priv, pub []byte, sharedSecretFn func(peerPub []byte) ([]byte, error))
	DeriveEncryptor(sharedSecret []byte) (Encryptor, error)
	Sign(message []byte) ([]byte, error)
	Verify(publicKey, message, signature []byte) bool
	RandRead(p []byte) error

	// Unregister removes the peer from the host's registry once disposed.
	Unregister(remote netip.AddrPort)
}

// Encryptor mirrors crypto.Encryptor structurally for the same reason as
// Compressor above.
type Encryptor interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}
