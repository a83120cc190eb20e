// Package host implements the Host side of the transport: one UDP socket,
// a receive loop dispatching by PacketType, the handshake entry points
// (connect/accept/reject), and the peer registry. Grounded on the
// teacher's device.Device (device/device.go: keys/peers/pools grouped
// under named sub-structs, a *Logger threaded through) generalized from
// one fixed WireGuard tunnel device to a Host owning many independent
// Peer connections.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/lattice-net/lattice/compress"
	"github.com/lattice-net/lattice/config"
	"github.com/lattice-net/lattice/conn"
	"github.com/lattice-net/lattice/crypto"
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/internal/alloc"
	"github.com/lattice-net/lattice/logging"
	"github.com/lattice-net/lattice/metrics"
	"github.com/lattice-net/lattice/peer"
	"github.com/lattice-net/lattice/ratelimit"
	"github.com/lattice-net/lattice/wire"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

var (
	ErrShuttingDown = errors.New("host: shutting down")
	ErrNoSuchPeer   = errors.New("host: no such peer")
)

type pendingRequest struct {
	id        uuid.UUID
	remote    netip.AddrPort
	remoteKey []byte
	challenge []byte
}

// Host owns the socket, the crypto capability set, and every Peer dialed
// or accepted through it (SPEC_FULL.md §3 "Host").
type Host struct {
	cfg      config.HostConfig
	listener events.HostListener

	bind    conn.Bind
	clock   clock.Clock
	alloc   *alloc.Allocator
	log     *logging.Logger
	metrics *metrics.Collectors
	limiter *ratelimit.Limiter

	exchanger        crypto.KeyExchanger
	signerFactory    crypto.SignerFactory
	encryptorFactory crypto.EncryptorFactory
	compressor       config.Compressor
	signer           crypto.Signer

	peersMu sync.RWMutex
	peers   map[netip.AddrPort]*peer.Peer

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*pendingRequest

	tickEpoch time.Time

	disposeCtx    context.Context
	disposeCancel context.CancelFunc
	disposeOnce   sync.Once
	wg            sync.WaitGroup
}

// New binds the socket (per config.DualMode) and starts the receive loop
// (SPEC_FULL.md §4.1 "new(config, listener) -> Host").
func New(cfg config.HostConfig, listener events.HostListener) (*Host, error) {
	if listener == nil {
		listener = events.NopHostListener{}
	}

	bind := cfg.Bind
	if bind == nil {
		bind = conn.NewNetBind(cfg.SendBufferSize, cfg.ReceiveBufferSize)
	}
	if _, err := bind.Open(cfg.Port, cfg.DualMode); err != nil {
		return nil, fmt.Errorf("host: open bind: %w", err)
	}

	exchanger := cfg.Exchanger
	if exchanger == nil {
		exchanger = crypto.NewX25519Exchanger(nil)
	}
	signerFactory := cfg.SignerFactory
	if signerFactory == nil {
		signerFactory = crypto.Secp256k1Factory{}
	}
	encryptorFactory := cfg.EncryptorFactory
	if encryptorFactory == nil {
		encryptorFactory = crypto.ChaChaPolyFactory{}
	}
	var compressor config.Compressor = cfg.Compressor
	if compressor == nil {
		compressor = compress.S2Compressor{}
	}

	var signer crypto.Signer
	if len(cfg.PrivateKey) > 0 {
		signer = signerFactory.NewSigner(cfg.PrivateKey)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		cfg:              cfg,
		listener:         listener,
		bind:             bind,
		clock:            clock.New(),
		alloc:            alloc.New(cfg.Allocator),
		log:              logging.New("host"),
		metrics:          metrics.New(),
		limiter:          ratelimit.New(),
		exchanger:        exchanger,
		signerFactory:    signerFactory,
		encryptorFactory: encryptorFactory,
		compressor:       compressor,
		signer:           signer,
		peers:            make(map[netip.AddrPort]*peer.Peer),
		pending:          make(map[uuid.UUID]*pendingRequest),
		tickEpoch:        time.Now(),
		disposeCtx:       ctx,
		disposeCancel:    cancel,
	}

	h.wg.Add(1)
	go h.receiveLoop()
	return h, nil
}

// TickMillis is the wire "tick slice": the low 16 bits of the Host's
// monotonic millisecond counter (SPEC_FULL.md §4.2 "sent_ticks_low16").
func (h *Host) TickMillis() uint16 {
	return uint16(h.clock.Now().Sub(h.tickEpoch).Milliseconds())
}

func (h *Host) Allocator() *alloc.Allocator  { return h.alloc }
func (h *Host) Clock() clock.Clock           { return h.clock }
func (h *Host) Logger() *logging.Logger      { return h.log }
func (h *Host) Metrics() *metrics.Collectors { return h.metrics }

func (h *Host) CRC32Enabled() bool      { return h.cfg.CRC32 }
func (h *Host) EncryptionEnabled() bool { return h.cfg.Encryption }
func (h *Host) CompressionEnabled() bool {
	return h.cfg.Compression
}
func (h *Host) Compressor() peer.Compressor { return h.compressor }

func (h *Host) NewExchanger() (priv, pub []byte, sharedSecretFn func([]byte) ([]byte, error)) {
	priv, pub, err := h.exchanger.GenerateKeyPair()
	if err != nil {
		if h.log != nil {
			h.log.Errorf("host: key pair generation failed: %s", err)
		}
		return nil, nil, func([]byte) ([]byte, error) { return nil, err }
	}
	return priv, pub, func(peerPub []byte) ([]byte, error) {
		return h.exchanger.SharedSecret(priv, peerPub)
	}
}

func (h *Host) DeriveEncryptor(sharedSecret []byte) (peer.Encryptor, error) {
	return h.encryptorFactory.Derive(sharedSecret)
}

func (h *Host) Sign(message []byte) ([]byte, error) {
	if h.signer == nil {
		return nil, errors.New("host: no private key configured for signing")
	}
	return h.signer.Sign(message)
}

func (h *Host) Verify(publicKey, message, signature []byte) bool {
	return h.signerFactory.NewVerifier().Verify(publicKey, message, signature)
}

func (h *Host) RandRead(p []byte) error {
	_, err := crypto.DefaultRand{}.Read(p)
	return err
}

func (h *Host) SendTo(remote netip.AddrPort, buf []byte) error {
	return h.bind.Send(buf, remote)
}

func (h *Host) Unregister(remote netip.AddrPort) {
	h.peersMu.Lock()
	delete(h.peers, remote)
	n := len(h.peers)
	h.peersMu.Unlock()
	if h.metrics != nil {
		h.metrics.PeersConnected.Set(float64(n))
	}
}

// Connect constructs a Peer in CONNECTING_OUT and starts sending REQUEST
// packets (SPEC_FULL.md §4.1 "connect(...)").
func (h *Host) Connect(remote netip.AddrPort, peerCfg config.PeerConfig, listener events.PeerListener, payload []byte) (*peer.Peer, error) {
	select {
	case <-h.disposeCtx.Done():
		return nil, ErrShuttingDown
	default:
	}

	p := peer.New(remote, peerCfg, listener, h)
	h.peersMu.Lock()
	h.peers[remote] = p
	h.peersMu.Unlock()

	if err := p.StartOutbound(payload); err != nil {
		h.Unregister(remote)
		return nil, err
	}
	return p, nil
}

// Accept reciprocates the handshake for a pending ConnectionRequest
// (SPEC_FULL.md §4.1 "accept(request, ...)").
func (h *Host) Accept(req *events.ConnectionRequest, peerCfg config.PeerConfig, listener events.PeerListener) (*peer.Peer, error) {
	h.pendingMu.Lock()
	pend, ok := h.pending[req.ID]
	if ok {
		delete(h.pending, req.ID)
	}
	h.pendingMu.Unlock()
	if !ok {
		return nil, ErrNoSuchPeer
	}

	p := peer.New(pend.remote, peerCfg, listener, h)
	p.StartInbound(pend.remoteKey, pend.challenge)

	h.peersMu.Lock()
	h.peers[pend.remote] = p
	h.peersMu.Unlock()

	if err := p.Accept(); err != nil {
		h.Unregister(pend.remote)
		return nil, err
	}
	if h.metrics != nil {
		h.peersMu.RLock()
		n := len(h.peers)
		h.peersMu.RUnlock()
		h.metrics.PeersConnected.Set(float64(n))
	}
	return p, nil
}

// Reject sends REJECT to a pending inbound request and discards it
// (SPEC_FULL.md §4.1 "reject(request, optional payload)").
func (h *Host) Reject(req *events.ConnectionRequest, payload []byte) error {
	h.pendingMu.Lock()
	pend, ok := h.pending[req.ID]
	if ok {
		delete(h.pending, req.ID)
	}
	h.pendingMu.Unlock()
	if !ok {
		return ErrNoSuchPeer
	}
	pkt := wire.EncodeSimplePacket(wire.PacketReject, h.cfg.CRC32, payload)
	return h.bind.Send(pkt, pend.remote)
}

// SendAll fans a message out to every connected peer except those listed
// in excluded (SPEC_FULL.md §4.1 "send_all(message, excluded_peers)").
// Per-peer send failures (e.g. a peer that disconnected mid-fan-out) are
// collected rather than aborting the rest of the fan-out, and returned
// together.
func (h *Host) SendAll(out peer.Outgoing, excluded ...*peer.Peer) error {
	skip := make(map[*peer.Peer]struct{}, len(excluded))
	for _, p := range excluded {
		skip[p] = struct{}{}
	}
	h.peersMu.RLock()
	targets := make([]*peer.Peer, 0, len(h.peers))
	for _, p := range h.peers {
		if _, ok := skip[p]; ok {
			continue
		}
		targets = append(targets, p)
	}
	h.peersMu.RUnlock()

	var err error
	for _, p := range targets {
		if _, sendErr := p.Send(out); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", p, sendErr))
		}
	}
	return err
}

// SendUnconnected writes an UNCONNECTED packet directly to remote, bypassing
// any Peer.
func (h *Host) SendUnconnected(remote netip.AddrPort, payload []byte) error {
	pkt := wire.EncodeSimplePacket(wire.PacketUnconnected, h.cfg.CRC32, payload)
	return h.bind.Send(pkt, remote)
}

// SendBroadcast writes a BROADCAST packet to the address to
// (SPEC_FULL.md §4.1 "send_broadcast(port, writable)"). Grounded on
// NetBind.Send, which routes by destination address; callers pass the
// broadcast address appropriate to their platform/network.
func (h *Host) SendBroadcast(to netip.AddrPort, payload []byte) error {
	if !h.cfg.Broadcast {
		return errors.New("host: broadcast disabled in configuration")
	}
	pkt := wire.EncodeSimplePacket(wire.PacketBroadcast, h.cfg.CRC32, payload)
	return h.bind.Send(pkt, to)
}

// teardown cancels disposeCtx, runs perPeer against every currently
// registered peer, then closes the socket and stops the receive loop. Dispose
// and Shutdown differ only in what perPeer does to each peer.
func (h *Host) teardown(perPeer func(*peer.Peer)) {
	h.disposeOnce.Do(func() {
		h.disposeCancel()
		h.peersMu.RLock()
		peers := make([]*peer.Peer, 0, len(h.peers))
		for _, p := range h.peers {
			peers = append(peers, p)
		}
		h.peersMu.RUnlock()
		for _, p := range peers {
			perPeer(p)
		}
		h.limiter.Close()
		_ = h.bind.Close()
		h.wg.Wait()
		h.listener.OnShutdown()
	})
}

// Dispose tears every peer down immediately — no DISCONNECT is sent, the
// remote only learns of the teardown once it times out — closes the socket,
// and stops the receive loop (SPEC_FULL.md §4.1 "dispose()").
func (h *Host) Dispose() {
	h.teardown(func(p *peer.Peer) { p.Dispose(events.Disposed, nil, nil) })
}

// Shutdown tears every peer down gracefully: each peer sends and flushes a
// DISCONNECT to its remote before disposing, unlike Dispose's abrupt,
// unannounced teardown (SPEC_FULL.md §4.1 "shutdown()" vs "dispose()").
// Returns ctx.Err() if teardown doesn't finish before ctx is done.
func (h *Host) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.teardown(func(p *peer.Peer) { p.Disconnect(nil) })
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
