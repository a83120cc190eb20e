package host

import (
	"errors"
	"net"
	"net/netip"

	"github.com/lattice-net/lattice/conn"
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/wire"

	"github.com/google/uuid"
)

// receiveLoop is the Host's receive loop: repeatedly reads a datagram into
// a pooled buffer, examines its PacketType, and dispatches
// (SPEC_FULL.md §4.1 "Receive loop"). ReceiveCount controls how many of
// these run concurrently, grounded on the teacher's per-CPU worker pools
// (device/receive.go's "RoutineHandshake"/"RoutineDecryption" worker
// counts scaled by runtime.NumCPU()).
func (h *Host) receiveLoop() {
	defer h.wg.Done()
	n := h.cfg.ReceiveCount
	if n < 1 {
		n = 1
	}
	for i := 0; i < n-1; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.receiveWorker()
		}()
	}
	h.receiveWorker()
}

func (h *Host) receiveWorker() {
	for {
		select {
		case <-h.disposeCtx.Done():
			return
		default:
		}

		bp := h.alloc.GetBuffer(h.cfg.ReceiveMTU)
		n, from, err := h.bind.Receive(*bp)
		if err != nil {
			h.alloc.PutBuffer(bp)
			if errors.Is(err, conn.ErrClosed) || errors.Is(err, net.ErrClosed) {
				return
			}
			h.listener.OnException(from, err)
			continue
		}
		raw := append([]byte(nil), (*bp)[:n]...)
		h.alloc.PutBuffer(bp)

		h.dispatch(from, raw)
	}
}

func (h *Host) dispatch(from netip.AddrPort, raw []byte) {
	if len(raw) < 1 {
		return
	}
	hdr := wire.DecodePacketHeader(raw[0])

	switch hdr.Type {
	case wire.PacketRequest:
		h.handleRequest(from, hdr, raw)
	case wire.PacketUnconnected:
		body, ok := stripSimpleHeader(raw, hdr, h.cfg.CRC32)
		if !ok {
			h.listener.OnException(from, wire.ErrCRC)
			return
		}
		h.listener.OnReceiveUnconnected(from, body)
	case wire.PacketBroadcast:
		body, ok := stripSimpleHeader(raw, hdr, h.cfg.CRC32)
		if !ok {
			h.listener.OnException(from, wire.ErrCRC)
			return
		}
		h.listener.OnReceiveBroadcast(from, body)
	case wire.PacketConnected, wire.PacketAccept, wire.PacketReject:
		h.peersMu.RLock()
		p, ok := h.peers[from]
		h.peersMu.RUnlock()
		if !ok {
			h.listener.OnReceiveSocket(from, raw)
			return
		}
		p.HandleDatagram(raw)
	default:
		h.listener.OnReceiveSocket(from, raw)
	}
}

// handleRequest rate-limits inbound REQUESTs per source address, then
// surfaces a ConnectionRequest (SPEC_FULL.md §4.1/§4.6).
func (h *Host) handleRequest(from netip.AddrPort, hdr wire.PacketHeader, raw []byte) {
	if !h.limiter.Allow(from.Addr()) {
		return
	}

	r := wire.NewReader(raw[1:])
	if hdr.Flags.Has(wire.FlagVerified) {
		want, err := r.ReadUint32()
		if err != nil {
			h.listener.OnException(from, err)
			return
		}
		if h.cfg.CRC32 && wire.CRC32(raw[1+4:]) != want {
			h.listener.OnException(from, wire.ErrCRC)
			return
		}
	}

	keyLen, err := r.ReadUint16()
	if err != nil {
		h.listener.OnException(from, err)
		return
	}
	challengeLen, err := r.ReadUint16()
	if err != nil {
		h.listener.OnException(from, err)
		return
	}
	key, err := r.ReadBytes(int(keyLen))
	if err != nil {
		h.listener.OnException(from, err)
		return
	}
	challenge, err := r.ReadBytes(int(challengeLen))
	if err != nil {
		h.listener.OnException(from, err)
		return
	}
	appPayload := r.ReadRest()

	id := uuid.New()
	pend := &pendingRequest{
		id:        id,
		remote:    from,
		remoteKey: append([]byte(nil), key...),
		challenge: append([]byte(nil), challenge...),
	}
	h.pendingMu.Lock()
	h.pending[id] = pend
	h.pendingMu.Unlock()

	req := &events.ConnectionRequest{
		ID:           id,
		Remote:       from,
		Payload:      append([]byte(nil), appPayload...),
		Encrypted:    len(key) > 0,
		Authenticate: len(challenge) > 0,
	}
	h.listener.OnReceiveRequest(req)
}

// stripSimpleHeader validates an UNCONNECTED/BROADCAST packet's optional
// CRC and returns the body past the header.
func stripSimpleHeader(raw []byte, hdr wire.PacketHeader, crcEnabled bool) ([]byte, bool) {
	pos := 1
	if hdr.Flags.Has(wire.FlagVerified) {
		if len(raw) < pos+4 {
			return nil, false
		}
		r := wire.NewReader(raw[pos:])
		want, _ := r.ReadUint32()
		pos += 4
		if crcEnabled {
			if wire.CRC32(raw[pos:]) != want {
				return nil, false
			}
		}
	}
	if pos > len(raw) {
		return nil, false
	}
	return raw[pos:], true
}
