package conn

import (
	"math/rand/v2"
	"net/netip"
	"sync"
)

// PipeBind is an in-process Bind used by tests in place of a real UDP
// socket, grounded on the teacher's own test harness pattern
// (device/device_test.go builds a pair of devices joined by in-memory
// conn.Bind stand-ins rather than opening real sockets).
type PipeBind struct {
	self netip.AddrPort

	mu     sync.Mutex
	peers  map[netip.AddrPort]*PipeBind
	queue  chan datagram
	closed bool
}

type datagram struct {
	from netip.AddrPort
	data []byte
}

// NewPipeNetwork builds n PipeBinds that can all address each other by
// the supplied endpoints, simulating a LAN of hosts sharing no real
// socket.
func NewPipeNetwork(endpoints []netip.AddrPort) []*PipeBind {
	binds := make([]*PipeBind, len(endpoints))
	peers := make(map[netip.AddrPort]*PipeBind, len(endpoints))
	for i, ep := range endpoints {
		b := &PipeBind{
			self:  ep,
			peers: peers,
			queue: make(chan datagram, 256),
		}
		binds[i] = b
		peers[ep] = b
	}
	return binds
}

func (p *PipeBind) Open(port uint16, dualStack bool) (uint16, error) {
	return p.self.Port(), nil
}

func (p *PipeBind) Receive(buf []byte) (int, netip.AddrPort, error) {
	dg, ok := <-p.queue
	if !ok {
		return 0, netip.AddrPort{}, ErrClosed
	}
	n := copy(buf, dg.data)
	return n, dg.from, nil
}

func (p *PipeBind) Send(buf []byte, to netip.AddrPort) error {
	p.mu.Lock()
	dst, ok := p.peers[to]
	p.mu.Unlock()
	if !ok {
		return nil // no listener at that endpoint; real UDP would also silently drop
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	dst.mu.Lock()
	closed := dst.closed
	dst.mu.Unlock()
	if closed {
		return nil
	}
	select {
	case dst.queue <- datagram{from: p.self, data: cp}:
	default:
		// queue full, drop like an overwhelmed real socket buffer
	}
	return nil
}

func (p *PipeBind) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.queue)
	return nil
}

// LossyBind wraps a Bind and drops or duplicates outgoing datagrams
// according to fixed probabilities, used by tests exercising resend and
// duplicate-suppression behavior (SPEC_FULL.md §8).
type LossyBind struct {
	Bind
	DropProbability   float64
	DupeProbability   float64
	rng               *rand.Rand
	mu                sync.Mutex
}

func NewLossyBind(inner Bind, seed uint64) *LossyBind {
	return &LossyBind{Bind: inner, rng: rand.New(rand.NewPCG(seed, seed^0xdeadbeef))}
}

func (l *LossyBind) Send(buf []byte, to netip.AddrPort) error {
	l.mu.Lock()
	r := l.rng.Float64()
	dupe := l.rng.Float64() < l.DupeProbability
	l.mu.Unlock()
	if r < l.DropProbability {
		return nil
	}
	if err := l.Bind.Send(buf, to); err != nil {
		return err
	}
	if dupe {
		return l.Bind.Send(buf, to)
	}
	return nil
}
