package peer

import (
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/internal/timer"
	"github.com/lattice-net/lattice/wire"
)

// onRequestTimeout drives the outbound handshake's resend loop: re-send
// REQUEST up to connect_attempts times, connect_delay apart, then give up
// (SPEC_FULL.md §4.6).
func (p *Peer) onRequestTimeout() {
	if p.State() != StateConnectingOut {
		return
	}
	attempt := p.connectAttempt.Add(1)
	if int(attempt) > p.cfg.ConnectAttempts {
		// Dispose waits (DelSync) for this very timer's callback to return,
		// so it runs on its own goroutine rather than inside the callback.
		go p.Dispose(events.Timeout, nil, ErrTimeout)
		return
	}
	p.sendRequest()
	p.requestTimer.Mod(p.cfg.ConnectDelay)
}

// onPingTimer sends a reliable PING on channel 0 every ping_delay, the
// pinger described in SPEC_FULL.md §4.6.
func (p *Peer) onPingTimer() {
	if !p.Connected() {
		return
	}
	_, _ = p.Send(Outgoing{Channel: 0, Type: wire.MessagePing, Reliable: true})
	p.pingTimer.Mod(p.cfg.PingDelay)
}

// onDisconnectTimer fires disconnect_delay after a DISCONNECT message is
// received, completing the graceful teardown in SPEC_FULL.md §4.4.
func (p *Peer) onDisconnectTimer() {
	// As in onRequestTimeout: Dispose DelSyncs this timer, so it must not
	// run inside the timer's own callback.
	go p.Dispose(events.Terminated, nil, nil)
}

// newResendTimer builds the per-reliable resend loop: attempt, increment,
// resend, reschedule at clamp(rtt+jitter, resend_delay_min, resend_delay_max),
// until resend_count is exhausted (SPEC_FULL.md §4.3).
func newResendTimer(p *Peer, sm *SentMessage) *timer.Timer {
	var t *timer.Timer
	t = timer.New(p.host.Clock(), func() {
		if sm.acked.Load() {
			return
		}
		attempt := sm.attempt.Add(1)
		if int(attempt) > p.cfg.ResendCount {
			key := reliableKey{channel: sm.Channel, sequence: sm.Sequence}
			p.reliablesMu.Lock()
			delete(p.reliables, key)
			p.reliablesMu.Unlock()
			p.Dispose(events.Timeout, nil, ErrTimeout)
			return
		}
		p.resend(sm)
		if m := p.host.Metrics(); m != nil {
			m.MessagesResent.Inc()
		}
		t.Mod(p.resendDelay())
	})
	return t
}

// resend re-encodes sm with its current attempt counter and transmits it
// immediately, bypassing the flush aggregator (reliable resends run their
// own loop outside the flush path per SPEC_FULL.md §4.3).
func (p *Peer) resend(sm *SentMessage) {
	flags := wire.MessageFlags(wire.MsgReliable)
	if sm.Timed {
		flags |= wire.MsgTimed
	}
	if sm.Ordered {
		flags |= wire.MsgOrdered
	}
	if sm.Unique {
		flags |= wire.MsgUnique
	}
	if sm.Channel != 0 {
		flags |= wire.MsgChanneled
	}
	flags |= wire.MsgSequenced
	sm.sentTicks = p.host.TickMillis()
	encoded := p.encodeMessage(wire.MessageHeader{Type: sm.Type, Flags: flags}, sm, true)
	p.transmit(encoded, false)
}
