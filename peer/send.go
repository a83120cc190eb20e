package peer

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lattice-net/lattice/timestamp"
	"github.com/lattice-net/lattice/wire"
)

// Send implements SPEC_FULL.md §4.3: allocates a send sequence, computes
// flags, and enqueues the encoded message into the flush buffer.
func (p *Peer) Send(out Outgoing) (*SentMessage, error) {
	if !p.Connected() {
		return nil, ErrNotConnected
	}
	if out.Type == wire.MessageCustom && out.Payload == nil {
		out.Payload = []byte{}
	}

	seq := p.allocateSendSequence(out.Channel)

	flags := wire.MessageFlags(0)
	if out.Timed {
		flags |= wire.MsgTimed
	}
	if out.Reliable {
		flags |= wire.MsgReliable
	}
	if out.Ordered {
		flags |= wire.MsgOrdered
	}
	if out.Unique {
		flags |= wire.MsgUnique
	}
	if out.Channel != 0 {
		flags |= wire.MsgChanneled
	}

	forceSeq := p.bumpUnsequencedRun(out.Channel, out.Reliable || out.Ordered || out.Unique)
	sequenced := out.Reliable || out.Ordered || out.Unique || forceSeq
	if sequenced {
		flags |= wire.MsgSequenced
	}

	sm := &SentMessage{
		Channel:  out.Channel,
		Sequence: seq,
		Type:     out.Type,
		Payload:  out.Payload,
		Reliable: out.Reliable,
		Ordered:  out.Ordered,
		Unique:   out.Unique,
		Timed:    out.Timed,
		Created:  timestamp.From(p.host.Clock().Now()),
	}
	sm.sentTicks = p.host.TickMillis()

	encoded := p.encodeMessage(wire.MessageHeader{Type: out.Type, Flags: flags}, sm, sequenced)
	p.enqueueFlush(encoded)

	if out.Reliable {
		p.registerReliable(sm)
	}
	if m := p.host.Metrics(); m != nil {
		m.MessagesSent.Inc()
	}
	return sm, nil
}

func (p *Peer) allocateSendSequence(channel uint8) uint16 {
	p.sequenceSendMu.Lock()
	defer p.sequenceSendMu.Unlock()
	p.sendSeq[channel]++
	return p.sendSeq[channel]
}

// bumpUnsequencedRun tracks how many consecutive unsequenced sends a
// channel has had; once it exceeds unsequenced_max the next send is forced
// SEQUENCED so the receiver's loss/duplicate reasoning has a reference
// point (SPEC_FULL.md §4.3 step 2).
func (p *Peer) bumpUnsequencedRun(channel uint8, alreadySequenced bool) bool {
	p.sequenceUnsequencedMu.Lock()
	defer p.sequenceUnsequencedMu.Unlock()
	if alreadySequenced {
		p.unseqRun[channel] = 0
		return false
	}
	p.unseqRun[channel]++
	if int(p.unseqRun[channel]) > p.cfg.UnsequencedMax {
		p.unseqRun[channel] = 0
		return true
	}
	return false
}

// encodeMessage lays out one CONNECTED message: header, optional tick,
// optional sequence, optional attempt, optional channel, payload
// (SPEC_FULL.md §4.2).
func (p *Peer) encodeMessage(hdr wire.MessageHeader, sm *SentMessage, sequenced bool) []byte {
	w := wire.NewWriter(make([]byte, 0, len(sm.Payload)+16))
	hdr.WriteTo(w)
	if hdr.Flags.Has(wire.MsgTimed) {
		w.WriteUint16(sm.sentTicks)
	}
	if sequenced {
		w.WriteUint16(sm.Sequence)
	}
	if hdr.Flags.Has(wire.MsgReliable) {
		w.WriteUint8(uint8(sm.attempt.Load()))
	}
	if hdr.Flags.Has(wire.MsgChanneled) {
		w.WriteUint8(sm.Channel)
	}
	w.WriteBytes(sm.Payload)
	return w.Bytes()
}

// enqueueFlush appends an encoded message, prefixed with its u32 length, to
// the outgoing aggregator and (re)starts the flush timer (SPEC_FULL.md §4.3
// step 3, §4.7). onFlushTimer strips the prefix again when only one message
// was queued.
func (p *Peer) enqueueFlush(encoded []byte) {
	p.flushMu.Lock()
	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(encoded)))
	p.flushBuf = append(p.flushBuf, lenBuf[:]...)
	p.flushBuf = append(p.flushBuf, encoded...)
	p.flushCount++
	pending := p.flushCount
	p.flushMu.Unlock()

	if pending == 1 {
		p.flushTimer.Mod(p.cfg.SendDelay)
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// onFlushTimer fires once per send_delay window, draining the aggregator
// into one logical packet and transmitting it (possibly as several
// fragments).
func (p *Peer) onFlushTimer() {
	p.flushMu.Lock()
	if p.flushCount == 0 {
		p.flushMu.Unlock()
		return
	}
	buf := p.flushBuf
	count := p.flushCount
	p.flushBuf = nil
	p.flushCount = 0
	p.flushMu.Unlock()

	combined := count > 1
	if !combined {
		// A lone message is sent bare, without its length prefix.
		buf = buf[4:]
	}
	p.transmit(buf, combined)
}

// transmit compresses, encrypts, fragments, and sends one logical CONNECTED
// packet body (SPEC_FULL.md §4.3).
func (p *Peer) transmit(body []byte, combined bool) {
	if p.host.CompressionEnabled() {
		c := p.host.Compressor()
		bp := p.host.Allocator().GetBuffer(0)
		body = c.Compress((*bp)[:0], body)
		*bp = body
		defer p.host.Allocator().PutBuffer(bp)
	}

	if p.host.EncryptionEnabled() {
		enc := p.currentEncryptor()
		if enc == nil {
			p.fail(p.Remote, fmt.Errorf("peer: no encryptor derived"))
			return
		}
		nonceLen := enc.NonceSize()
		bp := p.host.Allocator().GetBuffer(nonceLen)
		if err := p.host.RandRead((*bp)[:nonceLen]); err != nil {
			p.host.Allocator().PutBuffer(bp)
			p.fail(p.Remote, err)
			return
		}
		sealed := enc.Seal((*bp)[:nonceLen], (*bp)[:nonceLen], body, nil)
		*bp = sealed
		body = sealed
		defer p.host.Allocator().PutBuffer(bp)
	}

	crcEnabled := p.host.CRC32Enabled()
	budget := fragmentBudget(p.cfg.MTU, crcEnabled)
	ticks := p.host.TickMillis()
	if len(body) <= budget {
		pkt := encodePacket(wire.PacketConnected, crcEnabled, combined, true, ticks, nil, body)
		p.sendRaw(pkt)
		return
	}

	id := p.nextFragmentID()
	nParts := (len(body) + budget - 1) / budget
	for i := 0; i < nParts; i++ {
		start := i * budget
		end := start + budget
		if end > len(body) {
			end = len(body)
		}
		frag := wire.FragmentHeader{FragmentID: id, Part: uint16(i), LastPart: uint16(nParts - 1)}
		pkt := encodePacket(wire.PacketConnected, crcEnabled, combined, true, ticks, &frag, body[start:end])
		p.sendRaw(pkt)
	}
}

func (p *Peer) sendRaw(pkt []byte) {
	if err := p.host.SendTo(p.Remote, pkt); err != nil {
		p.fail(p.Remote, err)
		return
	}
	if m := p.host.Metrics(); m != nil {
		m.BytesSent.Add(float64(len(pkt)))
	}
}

func (p *Peer) registerReliable(sm *SentMessage) {
	key := reliableKey{channel: sm.Channel, sequence: sm.Sequence}
	sm.resendTimer = newResendTimer(p, sm)
	p.reliablesMu.Lock()
	p.reliables[key] = sm
	p.reliablesMu.Unlock()
	sm.resendTimer.Mod(p.cfg.ResendDelayMin)
}

func (p *Peer) resendDelay() time.Duration {
	rtt := time.Duration(p.rttMs.Load()) * time.Millisecond
	if jitter := p.cfg.ResendDelayJitter; jitter > 0 {
		rtt += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	return clampDuration(rtt, p.cfg.ResendDelayMin, p.cfg.ResendDelayMax)
}
