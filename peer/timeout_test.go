package peer

import (
	"testing"
	"time"

	"github.com/lattice-net/lattice/config"
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectTimeoutDisposesAfterAttemptsExhausted(t *testing.T) {
	p, h, l := newTestPeer(t, func(c *config.PeerConfig) {
		c.ConnectAttempts = 2
		c.ConnectDelay = time.Millisecond
	})

	require.NoError(t, p.StartOutbound(nil))

	for i := 0; i < 4; i++ {
		h.clk.Add(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return p.State() == StateDisposed
	}, 200*time.Millisecond, time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.disconnected, 1)
	assert.Equal(t, events.Timeout, l.disconnected[0])
}

func TestDisconnectMessageSchedulesGracefulTeardown(t *testing.T) {
	p, h, l := newTestPeer(t, func(c *config.PeerConfig) {
		c.DisconnectDelay = 5 * time.Millisecond
	})
	p.setState(StateConnected)

	w := wire.NewWriter(nil)
	wire.MessageHeader{Type: wire.MessageDisconnect}.WriteTo(w)
	p.handleMessage(w.Bytes(), 0)

	assert.Equal(t, StateConnected, p.State(), "teardown must wait for disconnect_delay, not happen immediately")

	h.clk.Add(6 * time.Millisecond)

	require.Eventually(t, func() bool {
		return p.State() == StateDisposed
	}, 200*time.Millisecond, time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.disconnected, 1)
	assert.Equal(t, events.Terminated, l.disconnected[0])
}
