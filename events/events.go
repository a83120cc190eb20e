// Package events defines the listener contracts a Host and its Peers
// invoke on connection lifecycle, message delivery, and error conditions
// (SPEC_FULL.md §6 "Listener contracts"). Grounded on the teacher's own
// callback-shaped device.Peer event surface (device/peer.go's
// BeginSymmetricSession / peer lifecycle transitions get reported through
// these instead of silently flipping internal atomics), generalized from
// one fixed VPN-device behavior to caller-supplied listeners.
package events

import (
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-net/lattice/wire"
)

// DisconnectReason explains why a peer's connection ended
// (SPEC_FULL.md §6/§7).
type DisconnectReason int

const (
	Disconnected DisconnectReason = iota
	Terminated
	Timeout
	Rejected
	BadSignature
	Exception
	Disposed
)

func (r DisconnectReason) String() string {
	switch r {
	case Disconnected:
		return "disconnected"
	case Terminated:
		return "terminated"
	case Timeout:
		return "timeout"
	case Rejected:
		return "rejected"
	case BadSignature:
		return "bad_signature"
	case Exception:
		return "exception"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ConnectionRequest is handed to a HostListener's OnReceiveRequest and
// later to Host.Accept/Host.Reject to resolve it. ID correlates log lines
// and registry entries across the request/accept round trip. Encrypted and
// Authenticate reflect whether the inbound REQUEST carried a key-exchange
// public key and a signature challenge respectively, so a listener can
// decide whether to Accept before a Peer (and its config) even exists
// (SPEC_FULL.md §4.6).
type ConnectionRequest struct {
	ID           uuid.UUID
	Remote       netip.AddrPort
	Payload      []byte
	Encrypted    bool
	Authenticate bool
}

// MessageInfo accompanies a PeerListener's OnReceive call with the envelope
// metadata a CUSTOM message arrived with — the Go-native shape of spec.md
// §3's ReceivedMessage, carried directly on the struct every OnReceive call
// already takes rather than as a second parallel type.
type MessageInfo struct {
	Type         wire.MessageType
	Channel      uint8
	Sequence     uint16
	HasSequence  bool
	Attempt      uint8
	Reliable     bool
	Ordered      bool
	Unique       bool
	Timed        bool
	CreatedTicks uint16
	// Timestamp is the reconstructed host-local send time when Timed is
	// true (SPEC_FULL.md §9 "Clock reconstruction"), else the zero Time.
	Timestamp time.Time
}

// HostListener receives Host-scoped events: inbound handshake requests,
// unconnected/broadcast traffic, and raw socket exceptions.
type HostListener interface {
	OnReceiveRequest(req *ConnectionRequest)
	OnReceiveUnconnected(remote netip.AddrPort, payload []byte)
	OnReceiveBroadcast(remote netip.AddrPort, payload []byte)
	OnReceiveSocket(remote netip.AddrPort, raw []byte)
	OnException(remote netip.AddrPort, err error)
	OnShutdown()
}

// PeerListener receives events scoped to a single connected Peer.
// Implementations receive peer as `any` to avoid an import cycle between
// events and peer; callers type-assert to *peer.Peer.
type PeerListener interface {
	OnConnect(p any)
	OnDisconnect(p any, payload []byte, reason DisconnectReason, err error)
	OnReceive(p any, payload []byte, info MessageInfo)
	OnUpdateRTT(p any, rttMillis uint32)
	OnException(p any, err error)
}

// NopHostListener and NopPeerListener are convenience no-op implementations
// for callers (and tests) that only care about a subset of callbacks.
type NopHostListener struct{}

func (NopHostListener) OnReceiveRequest(*ConnectionRequest)                {}
func (NopHostListener) OnReceiveUnconnected(netip.AddrPort, []byte)        {}
func (NopHostListener) OnReceiveBroadcast(netip.AddrPort, []byte)          {}
func (NopHostListener) OnReceiveSocket(netip.AddrPort, []byte)             {}
func (NopHostListener) OnException(netip.AddrPort, error)                  {}
func (NopHostListener) OnShutdown()                                       {}

type NopPeerListener struct{}

func (NopPeerListener) OnConnect(any)                                  {}
func (NopPeerListener) OnDisconnect(any, []byte, DisconnectReason, error) {}
func (NopPeerListener) OnReceive(any, []byte, MessageInfo)              {}
func (NopPeerListener) OnUpdateRTT(any, uint32)                         {}
func (NopPeerListener) OnException(any, error)                         {}
