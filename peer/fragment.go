package peer

import (
	"github.com/lattice-net/lattice/internal/bitfield"
	"github.com/lattice-net/lattice/internal/timer"
	"github.com/lattice-net/lattice/wire"
)

// fragmentState holds the single in-progress fragment reassembly
// (SPEC_FULL.md §3: "exactly one in-progress fragment identified by
// fragment_id"). Guarded by Peer.fragmentMu.
type fragmentState struct {
	active   bool
	id       uint16
	lastPart uint16
	partLen  int
	parts    [][]byte
	seen     bitfield.Window
	received int
	timeout  *timer.Timer
}

// handleFragment integrates one fragment part into the in-progress
// reassembly, returning the reassembled packet bytes once every part has
// arrived (SPEC_FULL.md §4.4 step 3).
func (p *Peer) handleFragment(hdr wire.FragmentHeader, part []byte) (complete []byte, ready bool) {
	p.fragmentMu.Lock()
	defer p.fragmentMu.Unlock()

	f := &p.fragment
	if !f.active || f.id != hdr.FragmentID {
		// First part of a new fragment_id replaces any in-progress fragment.
		f.active = true
		f.id = hdr.FragmentID
		f.lastPart = hdr.LastPart
		f.partLen = 0
		f.parts = make([][]byte, hdr.LastPart+1)
		f.seen.Reset()
		f.received = 0
		if f.timeout == nil {
			f.timeout = timer.New(p.host.Clock(), p.onFragmentTimeout)
		}
	}
	if hdr.Part > f.lastPart {
		return nil, false // malformed triple, drop
	}
	isLast := hdr.Part == f.lastPart
	if !isLast {
		if f.partLen == 0 {
			f.partLen = len(part)
		} else if len(part) != f.partLen {
			return nil, false // non-last parts must share length
		}
	}
	if !f.seen.Mark(uint64(hdr.Part), uint64(f.lastPart)+1) {
		return nil, false // duplicate part, discard
	}
	cp := make([]byte, len(part))
	copy(cp, part)
	f.parts[hdr.Part] = cp
	f.received++
	f.timeout.Mod(p.cfg.FragmentTimeout)

	if f.received != len(f.parts) {
		return nil, false
	}
	total := 0
	for _, part := range f.parts {
		total += len(part)
	}
	// Reassembly buffer comes from the shared allocator per SPEC_FULL.md
	// §4.4 step 4; ownership passes to the caller, which carries it through
	// decrypt/decompress and on to the listener, so it is never returned
	// here.
	bp := p.host.Allocator().GetBuffer(0)
	out := (*bp)[:0]
	for _, part := range f.parts {
		out = append(out, part...)
	}
	f.active = false
	f.parts = nil
	f.timeout.Del()
	return out, true
}

func (p *Peer) onFragmentTimeout() {
	p.fragmentMu.Lock()
	p.fragment.active = false
	p.fragment.parts = nil
	p.fragmentMu.Unlock()
}

// fragmentBudget returns the maximum payload bytes one fragment part may
// carry given mtu and the fixed per-part overhead (fragment header, shared
// packet header, optional CRC, the packet-level tick slice every CONNECTED
// packet now carries, and a reserved compression allowance per DESIGN.md
// Open Question decision #1).
func fragmentBudget(mtu int, crcEnabled bool) int {
	overhead := 1 // packet header byte
	if crcEnabled {
		overhead += 4
	}
	overhead += 6 // fragment header: id+part+last_part, 2 bytes each
	overhead += 2 // packet-level tick slice
	const compressionOverheadReserve = 16
	budget := mtu - overhead - compressionOverheadReserve
	if budget < 1 {
		budget = 1
	}
	return budget
}
