package peer

import (
	"time"

	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/wire"
)

// HandleDatagram is the Host receive loop's entry point for any datagram
// whose source already maps to this Peer (SPEC_FULL.md §4.1/§4.4).
func (p *Peer) HandleDatagram(raw []byte) {
	if m := p.host.Metrics(); m != nil {
		m.BytesReceived.Add(float64(len(raw)))
	}

	dp, err := decodePacket(raw, p.host.CRC32Enabled())
	if err != nil {
		p.fail(p.Remote, err)
		return
	}

	switch dp.Header.Type {
	case wire.PacketAccept:
		p.handleAccept(dp.Body)
		return
	case wire.PacketReject:
		p.handleReject(dp.Body)
		return
	case wire.PacketConnected:
		// handled below
	default:
		return
	}

	body := dp.Body
	if dp.Header.Flags.Has(wire.FlagFragmented) {
		complete, ready := p.handleFragment(dp.Frag, body)
		if !ready {
			return
		}
		body = complete
	}

	if p.host.EncryptionEnabled() {
		enc := p.currentEncryptor()
		if enc == nil {
			p.fail(p.Remote, ErrNotConnected)
			return
		}
		nonceLen := enc.NonceSize()
		if len(body) < nonceLen {
			p.fail(p.Remote, wire.ErrMalformed)
			return
		}
		nonce, ciphertext := body[:nonceLen], body[nonceLen:]
		bp := p.host.Allocator().GetBuffer(0)
		plain, err := enc.Open((*bp)[:0], nonce, ciphertext, nil)
		if err != nil {
			p.host.Allocator().PutBuffer(bp)
			p.fail(p.Remote, err)
			return
		}
		*bp = plain
		body = plain
		defer p.host.Allocator().PutBuffer(bp)
	}

	if p.host.CompressionEnabled() {
		c := p.host.Compressor()
		bp := p.host.Allocator().GetBuffer(0)
		out, err := c.Decompress((*bp)[:0], body)
		if err != nil {
			p.host.Allocator().PutBuffer(bp)
			p.fail(p.Remote, err)
			return
		}
		*bp = out
		body = out
		defer p.host.Allocator().PutBuffer(bp)
	}

	if dp.Header.Flags.Has(wire.FlagCombined) {
		p.demuxCombined(body, dp.Ticks)
		return
	}
	p.handleMessage(body, dp.Ticks)
}

func (p *Peer) demuxCombined(body []byte, packetTicks uint16) {
	r := wire.NewReader(body)
	for r.Remaining() > 0 {
		length, err := r.ReadUint32()
		if err != nil {
			p.fail(p.Remote, err)
			return
		}
		msg, err := r.ReadBytes(int(length))
		if err != nil {
			p.fail(p.Remote, err)
			return
		}
		p.handleMessage(msg, packetTicks)
	}
}

// handleMessage parses and dispatches one CONNECTED message
// (SPEC_FULL.md §4.4). packetTicks is the tick slice of the outer packet
// that carried it, needed to correct an ACK's RTT sample for the delay
// between the ACK message being created and its packet actually being
// flushed (see handleAcknowledge).
func (p *Peer) handleMessage(raw []byte, packetTicks uint16) {
	r := wire.NewReader(raw)
	hdr, err := wire.DecodeMessageHeader(r)
	if err != nil {
		p.fail(p.Remote, err)
		return
	}

	var createdTicks uint16
	hasTiming := hdr.Flags.Has(wire.MsgTimed)
	if hasTiming {
		createdTicks, err = r.ReadUint16()
		if err != nil {
			p.fail(p.Remote, err)
			return
		}
	}

	var sequence uint16
	sequenced := hdr.Flags.Has(wire.MsgSequenced)
	if sequenced {
		sequence, err = r.ReadUint16()
		if err != nil {
			p.fail(p.Remote, err)
			return
		}
	}

	var attempt uint8
	reliable := hdr.Flags.Has(wire.MsgReliable)
	if reliable {
		attempt, err = r.ReadUint8()
		if err != nil {
			p.fail(p.Remote, err)
			return
		}
	}

	var channel uint8
	if hdr.Flags.Has(wire.MsgChanneled) {
		channel, err = r.ReadUint8()
		if err != nil {
			p.fail(p.Remote, err)
			return
		}
	}
	payload := r.ReadRest()

	unique := hdr.Flags.Has(wire.MsgUnique)
	duplicate := false
	if unique {
		duplicate = p.checkUnique(channel, sequence)
		if duplicate {
			if m := p.host.Metrics(); m != nil {
				m.MessagesDuplicated.Inc()
			}
		}
	}

	if sequenced {
		p.updateLossEstimate(channel, sequence)
	}

	if reliable {
		p.sendAck(channel, sequence, attempt)
	}

	switch hdr.Type {
	case wire.MessagePing:
		return
	case wire.MessageDisconnect:
		p.disconnectTimer.Mod(p.cfg.DisconnectDelay)
		return
	case wire.MessageAcknowledge:
		p.handleAcknowledge(channel, payload, createdTicks, packetTicks)
		return
	case wire.MessageCustom:
		if duplicate {
			return
		}
		info := events.MessageInfo{
			Type:         hdr.Type,
			Channel:      channel,
			Sequence:     sequence,
			HasSequence:  sequenced,
			Attempt:      attempt,
			Reliable:     reliable,
			Ordered:      hdr.Flags.Has(wire.MsgOrdered),
			Unique:       unique,
			Timed:        hasTiming,
			CreatedTicks: createdTicks,
		}
		if hasTiming {
			info.Timestamp = p.reconstructTimestamp(createdTicks)
		}
		if unique && hdr.Flags.Has(wire.MsgOrdered) {
			p.onOrderedMessage(channel, sequence, reliable, payload, info)
			return
		}
		p.deliver(payload, info)
	}
}

func (p *Peer) sendAck(channel uint8, sequence uint16, attempt uint8) {
	w := wire.NewWriter(make([]byte, 0, 8))
	w.WriteUint16(sequence)
	w.WriteUint8(attempt)
	_, _ = p.Send(Outgoing{Channel: channel, Type: wire.MessageAcknowledge, Payload: w.Bytes(), Timed: true})
}

// handleAcknowledge matches an ACKNOWLEDGE to its outstanding reliable and,
// on a first-attempt/first-attempt round trip, derives RTT
// (SPEC_FULL.md §4.4). The acked (sequence, attempt) pair travels in the
// ACKNOWLEDGE message's payload, not its own envelope fields, since the ack
// itself is a distinct send with its own sequence on the same channel.
//
// ackCreatedTicks is the ACK message's own message-level created_ticks
// (when it was enqueued); ackPacketTicks is the packet-level tick slice of
// the packet that actually carried it onto the wire. Their difference is
// the ACK's own queuing delay inside the remote's send_delay window, which
// must be subtracted out to isolate true network RTT.
func (p *Peer) handleAcknowledge(channel uint8, payload []byte, ackCreatedTicks, ackPacketTicks uint16) {
	pr := wire.NewReader(payload)
	ackedSeq, err := pr.ReadUint16()
	if err != nil {
		return
	}
	ackAttempt, err := pr.ReadUint8()
	if err != nil {
		return
	}
	key := reliableKey{channel: channel, sequence: ackedSeq}
	p.reliablesMu.Lock()
	sm, ok := p.reliables[key]
	if ok {
		delete(p.reliables, key)
	}
	p.reliablesMu.Unlock()
	if !ok {
		return
	}
	sm.acked.Store(true)
	sm.resendTimer.DelSync()

	if sm.attempt.Load() == 0 && ackAttempt == 0 {
		now := p.host.TickMillis()
		correction := int32(ackPacketTicks) - int32(ackCreatedTicks)
		rtt := int32(now) - int32(sm.sentTicks) - correction
		if rtt < 0 {
			rtt += 1 << 16
		}
		if rtt > 0 && rtt < 32768 {
			p.rttMs.Store(uint32(rtt))
			p.timeDelta.Store(uint32(now) - uint32(ackPacketTicks))
			if p.listener != nil {
				p.listener.OnUpdateRTT(p, uint32(rtt))
			}
		}
	}
}

// updateLossEstimate advances the per-channel expected-sequence tracker
// used for the loss/duplicate statistics (SPEC_FULL.md §4.4).
func (p *Peer) updateLossEstimate(channel uint8, observed uint16) {
	p.sequenceReceiveMu.Lock()
	defer p.sequenceReceiveMu.Unlock()
	if !p.recvInitialized[channel] {
		p.recvInitialized[channel] = true
		p.recvSeq[channel] = observed
		return
	}
	expected := p.recvSeq[channel] + 1
	switch {
	case observed > expected:
		gap := int64(observed) - int64(expected)
		p.lostEstimate[channel] += gap
		p.recvSeq[channel] = observed
		if m := p.host.Metrics(); m != nil {
			m.MessagesLost.Add(float64(gap))
		}
	case observed < expected:
		p.lostEstimate[channel]--
	default:
		p.recvSeq[channel] = observed
	}
}

// reconstructTimestamp lifts a remote's 16-bit tick slice to a full
// host-local time by choosing the 48-bit high part nearest to the local
// clock (SPEC_FULL.md §9 "Clock reconstruction").
func (p *Peer) reconstructTimestamp(remoteTicks uint16) time.Time {
	now := p.host.Clock().Now()
	nowMs := now.UnixMilli()
	localLow := uint16(nowMs)
	diff := int32(remoteTicks) - int32(localLow)
	if diff > 1<<15 {
		diff -= 1 << 16
	} else if diff < -(1 << 15) {
		diff += 1 << 16
	}
	reconstructedMs := nowMs + int64(diff)
	return time.UnixMilli(reconstructedMs)
}
