package peer

import (
	"sync/atomic"

	"github.com/lattice-net/lattice/internal/timer"
	"github.com/lattice-net/lattice/timestamp"
	"github.com/lattice-net/lattice/wire"
)

// SentMessage is the handle returned by every Send and, for a reliable
// send, the record kept in the outstanding-reliables map (SPEC_FULL.md
// §3). Invariant: a
// reliable message is in peer.reliables iff not yet acknowledged and not
// yet timed out.
type SentMessage struct {
	Channel  uint8
	Sequence uint16
	Type     wire.MessageType
	Payload  []byte
	Reliable bool
	Ordered  bool
	Unique   bool
	Timed    bool
	Created  timestamp.Compact

	attempt     atomic.Uint32
	acked       atomic.Bool
	sentTicks   uint16
	resendTimer *timer.Timer
}

func (s *SentMessage) Attempt() uint32 { return s.attempt.Load() }
func (s *SentMessage) Acked() bool     { return s.acked.Load() }
