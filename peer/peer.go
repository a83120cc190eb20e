// Package peer implements one end of a logical connection between two
// Hosts: handshake, the outgoing/incoming pipelines, reliability,
// ordering, uniqueness, fragmentation, and the pinger/disconnect timers.
// Grounded on the teacher's device.Peer (device/peer.go: atomic lifecycle
// flags, a nested `timers` struct) generalized from WireGuard's single
// fixed tunnel session to an arbitrary reliable-messaging connection with
// per-channel ordering and application-selected reliability.
package peer

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-net/lattice/config"
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/internal/timer"
	"github.com/lattice-net/lattice/wire"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// State is the handshake/connection state machine (SPEC_FULL.md §4.6).
type State int32

const (
	StateConnectingOut State = iota
	StatePendingRequest
	StateConnected
	StateDisconnecting
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateConnectingOut:
		return "connecting_out"
	case StatePendingRequest:
		return "pending_request"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

type reliableKey struct {
	channel  uint8
	sequence uint16
}

type uniqueKey struct {
	channel  uint8
	sequence uint16
}

// Outgoing is the application-facing description of one message to send
// (SPEC_FULL.md §4.3 "send(message, optional listener)").
type Outgoing struct {
	Channel  uint8
	Type     wire.MessageType // defaults to wire.MessageCustom when zero-value used via Send
	Payload  []byte
	Reliable bool
	Ordered  bool
	Unique   bool
	Timed    bool
	Listener events.PeerListener // not consulted by Send; callbacks always go to the peer's listener
}

// Peer owns the connection state for one remote endpoint (SPEC_FULL.md §3).
type Peer struct {
	Remote   netip.AddrPort
	cfg      config.PeerConfig
	listener events.PeerListener
	host     HostFacade

	state    atomic.Int32
	rttMs    atomic.Uint32
	timeDelta atomic.Uint32

	disposeCtx    context.Context
	disposeCancel context.CancelFunc
	disposeOnce   sync.Once

	// handshake state, guarded by connectMu
	connectMu      sync.Mutex
	privKey        []byte
	pubKey         []byte
	sharedSecretFn func(peerPub []byte) ([]byte, error)
	encryptor      Encryptor
	challenge      []byte
	remotePub      []byte
	connectAttempt atomic.Uint32

	requestTimer    *timer.Timer
	pingTimer       *timer.Timer
	disconnectTimer *timer.Timer

	// uniqueness (SPEC_FULL.md §5 uniqueMu)
	uniqueMu  sync.Mutex
	uniqueSet *lru.LRU[uniqueKey, struct{}]

	// fragment reassembly (SPEC_FULL.md §5 fragmentMu)
	fragmentMu sync.Mutex
	fragment   fragmentState

	// ordering (SPEC_FULL.md §5 orderedMu)
	orderedMu sync.Mutex
	ordered   [256]*orderChannel

	// sequence counters (SPEC_FULL.md §5 three sequence locks)
	sequenceSendMu sync.Mutex
	sendSeq        [256]uint16

	sequenceReceiveMu sync.Mutex
	recvSeq           [256]uint16
	recvInitialized   [256]bool
	lostEstimate      [256]int64

	sequenceUnsequencedMu sync.Mutex
	unseqRun              [256]uint16

	// outstanding reliables (SPEC_FULL.md §5 reliablesMu)
	reliablesMu sync.Mutex
	reliables   map[reliableKey]*SentMessage

	// outgoing aggregator (SPEC_FULL.md §5 flushMu)
	flushMu    sync.Mutex
	flushBuf   []byte
	flushCount int
	flushTimed bool
	flushTimer *timer.Timer

	fragmentIDCounter atomic.Uint32

	connectPayload []byte
}

// New constructs a Peer in StateConnectingOut (outbound) or
// StatePendingRequest (inbound, set by the caller after construction).
// Grounded on device.Peer's construction shape in device/peer.go.
func New(remote netip.AddrPort, cfg config.PeerConfig, l events.PeerListener, host HostFacade) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		Remote:        remote,
		cfg:           cfg,
		listener:      l,
		host:          host,
		disposeCtx:    ctx,
		disposeCancel: cancel,
		reliables:     make(map[reliableKey]*SentMessage),
	}
	p.uniqueSet = lru.NewLRU[uniqueKey, struct{}](4096, nil, cfg.DuplicateTimeout)
	p.requestTimer = timer.New(host.Clock(), p.onRequestTimeout)
	p.pingTimer = timer.New(host.Clock(), p.onPingTimer)
	p.disconnectTimer = timer.New(host.Clock(), p.onDisconnectTimer)
	p.flushTimer = timer.New(host.Clock(), p.onFlushTimer)
	for c := range p.ordered {
		p.ordered[c] = newOrderChannel()
	}
	return p
}

func (p *Peer) State() State { return State(p.state.Load()) }

func (p *Peer) setState(s State) { p.state.Store(int32(s)) }

// Connected reports whether the peer has completed its handshake and is
// not yet disconnecting/disposed.
func (p *Peer) Connected() bool { return p.State() == StateConnected }

func (p *Peer) RTTMillis() uint32 { return p.rttMs.Load() }

// Dispose tears the peer down immediately: cancels every timer, notifies
// the listener exactly once, and unregisters from the host. Idempotent
// (SPEC_FULL.md §8 "Idempotent dispose").
func (p *Peer) Dispose(reason events.DisconnectReason, payload []byte, err error) {
	p.disposeOnce.Do(func() {
		p.setState(StateDisposed)
		p.disposeCancel()
		p.requestTimer.DelSync()
		p.pingTimer.DelSync()
		p.disconnectTimer.DelSync()
		p.flushTimer.DelSync()
		p.reliablesMu.Lock()
		for k, sm := range p.reliables {
			sm.resendTimer.DelSync()
			delete(p.reliables, k)
		}
		p.reliablesMu.Unlock()
		p.host.Unregister(p.Remote)
		if p.listener != nil {
			p.listener.OnDisconnect(p, payload, reason, err)
		}
	})
}

// Disconnect sends a DISCONNECT to the remote, flushes it onto the wire
// immediately rather than waiting for the next send_delay window, and tears
// this Peer down with events.Disconnected — the application-initiated
// counterpart to the abrupt, unannounced teardown Dispose performs, and to
// the receive-side DISCONNECT handling in handleMessage/onDisconnectTimer
// (SPEC_FULL.md §4.6).
func (p *Peer) Disconnect(payload []byte) {
	if p.Connected() {
		if _, err := p.Send(Outgoing{Type: wire.MessageDisconnect, Payload: payload}); err == nil {
			p.flushTimer.DelSync()
			p.onFlushTimer()
		}
	}
	p.Dispose(events.Disconnected, payload, nil)
}

func (p *Peer) fail(remote netip.AddrPort, err error) {
	if p.listener != nil {
		p.listener.OnException(p, err)
	}
	if l := p.host.Logger(); l != nil {
		l.Verbosef("peer %s: %s", p.Remote, err)
	}
}

func (p *Peer) String() string {
	return fmt.Sprintf("peer(%s)", p.Remote)
}

// nextFragmentID returns a monotonically increasing 16-bit fragment id.
func (p *Peer) nextFragmentID() uint16 {
	return uint16(p.fragmentIDCounter.Add(1))
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
