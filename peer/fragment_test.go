package peer

import (
	"testing"
	"time"

	"github.com/lattice-net/lattice/config"
	"github.com/lattice-net/lattice/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentReassembly(t *testing.T) {
	p, _, _ := newTestPeer(t)
	payload := []byte("fragment reassembly across three parts of varying content")
	parts := [][]byte{payload[:20], payload[20:40], payload[40:]}

	var out []byte
	var ready bool
	for i, part := range parts {
		hdr := wire.FragmentHeader{FragmentID: 7, Part: uint16(i), LastPart: uint16(len(parts) - 1)}
		out, ready = p.handleFragment(hdr, part)
	}
	require.True(t, ready)
	assert.Equal(t, payload, out)
}

func TestFragmentOutOfOrderPartsStillReassemble(t *testing.T) {
	p, _, _ := newTestPeer(t)
	payload := []byte("ordering of arrival must not matter to reassembly")
	parts := [][]byte{payload[:20], payload[20:40], payload[40:]}

	order := []int{2, 0, 1}
	var out []byte
	var ready bool
	for _, i := range order {
		hdr := wire.FragmentHeader{FragmentID: 3, Part: uint16(i), LastPart: uint16(len(parts) - 1)}
		out, ready = p.handleFragment(hdr, parts[i])
	}
	require.True(t, ready)
	assert.Equal(t, payload, out)
}

func TestFragmentDuplicatePartDropped(t *testing.T) {
	p, _, _ := newTestPeer(t)
	hdr := wire.FragmentHeader{FragmentID: 1, Part: 0, LastPart: 1}
	_, ready := p.handleFragment(hdr, []byte("a"))
	assert.False(t, ready)
	_, ready = p.handleFragment(hdr, []byte("a"))
	assert.False(t, ready, "duplicate part must not complete the reassembly")
}

func TestFragmentNewIDReplacesInProgress(t *testing.T) {
	p, _, _ := newTestPeer(t)
	stale := wire.FragmentHeader{FragmentID: 1, Part: 0, LastPart: 1}
	p.handleFragment(stale, []byte("stale"))

	fresh := []wire.FragmentHeader{
		{FragmentID: 2, Part: 0, LastPart: 1},
		{FragmentID: 2, Part: 1, LastPart: 1},
	}
	var out []byte
	var ready bool
	for _, hdr := range fresh {
		out, ready = p.handleFragment(hdr, []byte{byte(hdr.Part)})
	}
	require.True(t, ready)
	assert.Equal(t, []byte{0, 1}, out)
}

func TestFragmentImpossiblePartDropped(t *testing.T) {
	p, _, _ := newTestPeer(t)
	hdr := wire.FragmentHeader{FragmentID: 1, Part: 5, LastPart: 1}
	_, ready := p.handleFragment(hdr, []byte("x"))
	assert.False(t, ready)
}

func TestFragmentReassemblyTimesOutAndDiscardsPartial(t *testing.T) {
	p, h, _ := newTestPeer(t, func(c *config.PeerConfig) {
		c.FragmentTimeout = 5 * time.Millisecond
	})
	hdr := wire.FragmentHeader{FragmentID: 9, Part: 0, LastPart: 1}
	_, ready := p.handleFragment(hdr, []byte("partial"))
	require.False(t, ready)

	h.clk.Add(6 * time.Millisecond)

	p.fragmentMu.Lock()
	active := p.fragment.active
	p.fragmentMu.Unlock()
	assert.False(t, active)
}

func TestFragmentBudgetReservesCRCAndHeaderOverhead(t *testing.T) {
	withCRC := fragmentBudget(1200, true)
	withoutCRC := fragmentBudget(1200, false)
	assert.Equal(t, withoutCRC-4, withCRC)
	assert.Greater(t, withCRC, 0)
}

func TestFragmentBudgetNeverGoesNonPositive(t *testing.T) {
	assert.Equal(t, 1, fragmentBudget(1, true))
}
