package peer

import (
	"github.com/lattice-net/lattice/events"
)

// orderChannel is one of the 256 per-channel ordering states
// (SPEC_FULL.md §3/§4.5), all guarded by Peer.orderedMu (a single coarse
// lock, per SPEC_FULL.md §5).
type orderChannel struct {
	// delivered is the last sequence handed to the listener in order; it
	// starts at 0 because send sequences start at 1.
	delivered uint16
	// stall is closed and replaced on every advance, per the design note
	// "Per-channel signal for ordering waits: represent as a one-shot
	// notifier per channel, replaced on each notification" (SPEC_FULL.md §9).
	stall   chan struct{}
	pending map[uint16]pendingOrdered
}

type pendingOrdered struct {
	payload []byte
	info    events.MessageInfo
}

func newOrderChannel() *orderChannel {
	return &orderChannel{stall: make(chan struct{}), pending: make(map[uint16]pendingOrdered)}
}

// onOrderedMessage implements SPEC_FULL.md §4.5 for one CUSTOM + UNIQUE +
// ORDERED message.
func (p *Peer) onOrderedMessage(channel uint8, seq uint16, reliable bool, payload []byte, info events.MessageInfo) {
	p.orderedMu.Lock()
	oc := p.ordered[channel]

	diff := int32(seq) - int32(oc.delivered)
	switch {
	case diff == 1:
		oc.delivered = seq
		p.deliverOrderedLocked(oc, payload, info)
		p.advanceOrderedLocked(oc)
		p.wakeStallLocked(oc)
		p.orderedMu.Unlock()

	case diff > 1:
		// Reorder gap.
		if reliable && p.cfg.OrderedDelayMax > 0 && p.cfg.OrderedDelayTimeout > 0 {
			oc.pending[seq] = pendingOrdered{payload: payload, info: info}
			p.orderedMu.Unlock()
			go p.waitOrdered(channel, seq)
			return
		}
		oc.delivered = seq
		p.deliverOrderedLocked(oc, payload, info)
		p.advanceOrderedLocked(oc)
		p.wakeStallLocked(oc)
		p.orderedMu.Unlock()

	default:
		// Late message (diff <= 0): drop unreliables, deliver reliables
		// anyway since they were previously counted as lost.
		p.orderedMu.Unlock()
		if reliable {
			p.deliver(payload, info)
		}
	}
}

// deliverOrderedLocked delivers payload and then drains any pending
// messages that are now next-in-line. Must be called with orderedMu held.
func (p *Peer) deliverOrderedLocked(oc *orderChannel, payload []byte, info events.MessageInfo) {
	p.orderedMu.Unlock()
	p.deliver(payload, info)
	p.orderedMu.Lock()
}

func (p *Peer) advanceOrderedLocked(oc *orderChannel) {
	for {
		next := oc.delivered + 1
		pend, ok := oc.pending[next]
		if !ok {
			return
		}
		delete(oc.pending, next)
		oc.delivered = next
		p.deliverOrderedLocked(oc, pend.payload, pend.info)
	}
}

func (p *Peer) wakeStallLocked(oc *orderChannel) {
	close(oc.stall)
	oc.stall = make(chan struct{})
}

// waitOrdered suspends a reordered reliable message until its gap is
// filled, the stall signal fires, or ordered_delay_timeout×ordered_delay_max
// elapses, per SPEC_FULL.md §4.5.
func (p *Peer) waitOrdered(channel uint8, seq uint16) {
	for i := 0; i < p.cfg.OrderedDelayMax; i++ {
		p.orderedMu.Lock()
		oc := p.ordered[channel]
		pend, stillPending := oc.pending[seq]
		stall := oc.stall
		p.orderedMu.Unlock()
		if !stillPending {
			return // delivered by the normal advance path already
		}

		select {
		case <-stall:
		case <-p.host.Clock().After(p.cfg.OrderedDelayTimeout):
		case <-p.disposeCtx.Done():
			return
		}

		p.orderedMu.Lock()
		oc = p.ordered[channel]
		if _, stillPending = oc.pending[seq]; !stillPending {
			p.orderedMu.Unlock()
			return
		}
		diff := int32(seq) - int32(oc.delivered)
		if diff == 1 {
			delete(oc.pending, seq)
			oc.delivered = seq
			p.deliverOrderedLocked(oc, pend.payload, pend.info)
			p.advanceOrderedLocked(oc)
			p.wakeStallLocked(oc)
			p.orderedMu.Unlock()
			return
		}
		p.orderedMu.Unlock()
	}

	// Final timeout: deliver regardless of the gap.
	p.orderedMu.Lock()
	oc := p.ordered[channel]
	pend, stillPending := oc.pending[seq]
	if !stillPending {
		p.orderedMu.Unlock()
		return
	}
	delete(oc.pending, seq)
	if int32(seq) > int32(oc.delivered) {
		oc.delivered = seq
	}
	p.deliverOrderedLocked(oc, pend.payload, pend.info)
	p.advanceOrderedLocked(oc)
	p.wakeStallLocked(oc)
	p.orderedMu.Unlock()
}

// deliver hands payload to the peer's listener.
func (p *Peer) deliver(payload []byte, info events.MessageInfo) {
	if p.listener != nil {
		p.listener.OnReceive(p, payload, info)
	}
	if m := p.host.Metrics(); m != nil {
		m.MessagesReceived.Inc()
	}
}
