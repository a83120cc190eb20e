// Package config defines Host and Peer configuration, built with
// functional options in the style of dep2p's Option pattern
// (dep2p/options.go: `type Option func(*options) error`, `With...`
// constructors returning them), adapted to two configuration targets
// (Host, Peer) instead of one.
package config

import (
	"fmt"
	"time"

	"github.com/lattice-net/lattice/conn"
	"github.com/lattice-net/lattice/crypto"
	"github.com/lattice-net/lattice/internal/alloc"
)

// HostConfig controls a Host's socket and allocator
// (SPEC_FULL.md §6 "Host configuration").
type HostConfig struct {
	Port             uint16
	DualMode         bool
	Broadcast        bool
	Encryption       bool
	Compression      bool
	CRC32            bool
	ReceiveCount     int
	ReceiveMTU       int
	SendBufferSize   int
	ReceiveBufferSize int

	Allocator alloc.Config

	PrivateKey []byte

	Exchanger       crypto.KeyExchanger
	SignerFactory   crypto.SignerFactory
	EncryptorFactory crypto.EncryptorFactory
	Compressor      Compressor

	// Bind overrides the socket implementation; nil selects conn.NewNetBind.
	// Tests substitute a conn.PipeBind/conn.LossyBind here.
	Bind conn.Bind
}

// Compressor is re-declared here so that config does not import package
// compress; compress.Compressor satisfies this interface structurally.
type Compressor interface {
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
	MaxOverhead() int
}

// HostOption mutates a HostConfig under construction.
type HostOption func(*HostConfig) error

// DefaultHostConfig matches the teacher's device defaults philosophy:
// usable out of the box, every knob overridable by an Option.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Port:              0,
		DualMode:          true,
		Broadcast:         false,
		Encryption:        true,
		Compression:       false,
		CRC32:             true,
		ReceiveCount:      4,
		ReceiveMTU:        1280,
		SendBufferSize:    1 << 20,
		ReceiveBufferSize: 1 << 20,
		Allocator:         alloc.DefaultConfig(),
	}
}

// NewHostConfig builds a HostConfig from DefaultHostConfig plus opts,
// applied in order.
func NewHostConfig(opts ...HostOption) (HostConfig, error) {
	cfg := DefaultHostConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return HostConfig{}, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

func WithPort(port uint16) HostOption {
	return func(c *HostConfig) error { c.Port = port; return nil }
}

func WithDualMode(enabled bool) HostOption {
	return func(c *HostConfig) error { c.DualMode = enabled; return nil }
}

func WithBroadcast(enabled bool) HostOption {
	return func(c *HostConfig) error { c.Broadcast = enabled; return nil }
}

func WithEncryption(enabled bool) HostOption {
	return func(c *HostConfig) error { c.Encryption = enabled; return nil }
}

func WithCompression(enabled bool) HostOption {
	return func(c *HostConfig) error { c.Compression = enabled; return nil }
}

func WithCRC32(enabled bool) HostOption {
	return func(c *HostConfig) error { c.CRC32 = enabled; return nil }
}

func WithReceiveCount(n int) HostOption {
	return func(c *HostConfig) error {
		if n <= 0 {
			return fmt.Errorf("receive_count must be positive, got %d", n)
		}
		c.ReceiveCount = n
		return nil
	}
}

func WithReceiveMTU(mtu int) HostOption {
	return func(c *HostConfig) error {
		if mtu <= 0 {
			return fmt.Errorf("receive_mtu must be positive, got %d", mtu)
		}
		c.ReceiveMTU = mtu
		return nil
	}
}

func WithSendBufferSize(size int) HostOption {
	return func(c *HostConfig) error { c.SendBufferSize = size; return nil }
}

func WithReceiveBufferSize(size int) HostOption {
	return func(c *HostConfig) error { c.ReceiveBufferSize = size; return nil }
}

func WithAllocatorConfig(ac alloc.Config) HostOption {
	return func(c *HostConfig) error { c.Allocator = ac; return nil }
}

func WithPrivateKey(key []byte) HostOption {
	return func(c *HostConfig) error { c.PrivateKey = key; return nil }
}

func WithExchanger(e crypto.KeyExchanger) HostOption {
	return func(c *HostConfig) error { c.Exchanger = e; return nil }
}

func WithSignerFactory(f crypto.SignerFactory) HostOption {
	return func(c *HostConfig) error { c.SignerFactory = f; return nil }
}

func WithEncryptorFactory(f crypto.EncryptorFactory) HostOption {
	return func(c *HostConfig) error { c.EncryptorFactory = f; return nil }
}

func WithCompressor(cp Compressor) HostOption {
	return func(c *HostConfig) error { c.Compressor = cp; return nil }
}

func WithBind(b conn.Bind) HostOption {
	return func(c *HostConfig) error { c.Bind = b; return nil }
}

// PeerConfig controls one Peer connection's timing and reliability
// behavior (SPEC_FULL.md §6 "Peer configuration").
type PeerConfig struct {
	MTU int

	PingDelay time.Duration
	SendDelay time.Duration

	ConnectAttempts int
	ConnectDelay    time.Duration

	ResendCount       int
	ResendDelayMin    time.Duration
	ResendDelayMax    time.Duration
	ResendDelayJitter time.Duration

	FragmentTimeout  time.Duration
	DuplicateTimeout time.Duration

	OrderedDelayMax     int
	OrderedDelayTimeout time.Duration

	UnsequencedMax int

	DisconnectDelay time.Duration

	RemotePublicKey []byte
}

type PeerOption func(*PeerConfig) error

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		MTU:                 1200,
		PingDelay:           1 * time.Second,
		SendDelay:           10 * time.Millisecond,
		ConnectAttempts:     10,
		ConnectDelay:        500 * time.Millisecond,
		ResendCount:         15,
		ResendDelayMin:      100 * time.Millisecond,
		ResendDelayMax:      2 * time.Second,
		ResendDelayJitter:   50 * time.Millisecond,
		FragmentTimeout:     10 * time.Second,
		DuplicateTimeout:    5 * time.Second,
		OrderedDelayMax:     8,
		OrderedDelayTimeout: 200 * time.Millisecond,
		UnsequencedMax:      512,
		DisconnectDelay:     200 * time.Millisecond,
	}
}

func NewPeerConfig(opts ...PeerOption) (PeerConfig, error) {
	cfg := DefaultPeerConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return PeerConfig{}, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

func WithMTU(mtu int) PeerOption {
	return func(c *PeerConfig) error {
		if mtu < 64 {
			return fmt.Errorf("mtu must be at least 64, got %d", mtu)
		}
		c.MTU = mtu
		return nil
	}
}

func WithPingDelay(d time.Duration) PeerOption {
	return func(c *PeerConfig) error { c.PingDelay = d; return nil }
}

func WithSendDelay(d time.Duration) PeerOption {
	return func(c *PeerConfig) error { c.SendDelay = d; return nil }
}

func WithConnectAttempts(n int) PeerOption {
	return func(c *PeerConfig) error { c.ConnectAttempts = n; return nil }
}

func WithConnectDelay(d time.Duration) PeerOption {
	return func(c *PeerConfig) error { c.ConnectDelay = d; return nil }
}

func WithResendPolicy(count int, min, max, jitter time.Duration) PeerOption {
	return func(c *PeerConfig) error {
		c.ResendCount = count
		c.ResendDelayMin = min
		c.ResendDelayMax = max
		c.ResendDelayJitter = jitter
		return nil
	}
}

func WithFragmentTimeout(d time.Duration) PeerOption {
	return func(c *PeerConfig) error { c.FragmentTimeout = d; return nil }
}

func WithDuplicateTimeout(d time.Duration) PeerOption {
	return func(c *PeerConfig) error { c.DuplicateTimeout = d; return nil }
}

func WithOrderedDelay(maxOutstanding int, timeout time.Duration) PeerOption {
	return func(c *PeerConfig) error {
		c.OrderedDelayMax = maxOutstanding
		c.OrderedDelayTimeout = timeout
		return nil
	}
}

func WithUnsequencedMax(n int) PeerOption {
	return func(c *PeerConfig) error { c.UnsequencedMax = n; return nil }
}

func WithDisconnectDelay(d time.Duration) PeerOption {
	return func(c *PeerConfig) error { c.DisconnectDelay = d; return nil }
}

func WithRemotePublicKey(key []byte) PeerOption {
	return func(c *PeerConfig) error { c.RemotePublicKey = key; return nil }
}
