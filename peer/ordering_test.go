package peer

import (
	"testing"
	"time"

	"github.com/lattice-net/lattice/config"
	"github.com/lattice-net/lattice/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedInSequenceDeliversImmediately(t *testing.T) {
	p, _, l := newTestPeer(t)
	p.onOrderedMessage(0, 1, false, []byte("a"), events.MessageInfo{Sequence: 1})
	p.onOrderedMessage(0, 2, false, []byte("b"), events.MessageInfo{Sequence: 2})

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.received, 2)
	assert.Equal(t, []byte("a"), l.received[0].payload)
	assert.Equal(t, []byte("b"), l.received[1].payload)
}

func TestOrderedUnreliableGapDeliversImmediately(t *testing.T) {
	p, _, l := newTestPeer(t)
	p.onOrderedMessage(0, 1, false, []byte("a"), events.MessageInfo{Sequence: 1})
	p.onOrderedMessage(0, 5, false, []byte("e"), events.MessageInfo{Sequence: 5})

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.received, 2)
	assert.Equal(t, []byte("e"), l.received[1].payload)
}

func TestOrderedReliableGapWaitsThenDeliversInOrder(t *testing.T) {
	p, _, l := newTestPeer(t, func(c *config.PeerConfig) {
		c.OrderedDelayMax = 4
		c.OrderedDelayTimeout = 5 * time.Millisecond
	})
	p.onOrderedMessage(0, 1, true, []byte("a"), events.MessageInfo{Sequence: 1})
	p.onOrderedMessage(0, 3, true, []byte("c"), events.MessageInfo{Sequence: 3})

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.received) == 1
	}, 50*time.Millisecond, time.Millisecond, "\"c\" must be held pending the gap at sequence 2")

	p.onOrderedMessage(0, 2, true, []byte("b"), events.MessageInfo{Sequence: 2})

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.received) == 3
	}, 200*time.Millisecond, time.Millisecond, "filling the gap must release the pending message")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, []byte("a"), l.received[0].payload)
	assert.Equal(t, []byte("b"), l.received[1].payload)
	assert.Equal(t, []byte("c"), l.received[2].payload)
}

func TestOrderedLateUnreliableDropped(t *testing.T) {
	p, _, l := newTestPeer(t)
	p.onOrderedMessage(0, 5, false, []byte("base"), events.MessageInfo{Sequence: 5})
	p.onOrderedMessage(0, 3, false, []byte("late"), events.MessageInfo{Sequence: 3})

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.received, 1)
}

func TestOrderedLateReliableStillDelivered(t *testing.T) {
	p, _, l := newTestPeer(t)
	// An unreliable message across a gap is delivered at once and moves the
	// channel's delivered sequence to 5, so 3 then arrives late.
	p.onOrderedMessage(0, 5, false, []byte("base"), events.MessageInfo{Sequence: 5})
	p.onOrderedMessage(0, 3, true, []byte("late"), events.MessageInfo{Sequence: 3})

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.received, 2)
	assert.Equal(t, []byte("late"), l.received[1].payload)
}

func TestOrderedChannelsAreIndependent(t *testing.T) {
	p, _, l := newTestPeer(t)
	p.onOrderedMessage(0, 1, false, []byte("ch0"), events.MessageInfo{Channel: 0, Sequence: 1})
	p.onOrderedMessage(1, 9, false, []byte("ch1"), events.MessageInfo{Channel: 1, Sequence: 9})

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.received, 2)
}
