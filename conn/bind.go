// Package conn abstracts the Host's one UDP socket, grounded on the
// teacher's conn.Bind (conn/bind.go): dual ipv4/ipv6 listen on one port,
// parse arbitrary remote endpoints, send/receive datagrams. Dropped
// relative to the teacher: UDP GSO/GRO segmentation offload (conn/gso.go)
// and sticky PKTINFO source-address preservation (conn/sticky.go) — see
// DESIGN.md for why neither has a home in this transport.
package conn

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrBindAlreadyOpen mirrors the teacher's same-named sentinel.
var ErrBindAlreadyOpen = errors.New("conn: bind already open")

// ErrClosed is returned by Receive once the bind has been closed.
var ErrClosed = errors.New("conn: closed")

// Bind owns the Host's UDP socket(s). Implementations must allow
// concurrent Send calls (SPEC_FULL.md §5: "the implementation is
// responsible for ensuring the socket API used tolerates concurrent
// sends").
type Bind interface {
	// Open binds port (0 picks an ephemeral one) and, if dualStack is
	// true, both an IPv4 and an IPv6 socket on the same port number.
	Open(port uint16, dualStack bool) (actualPort uint16, err error)
	// Receive blocks for one datagram, writing into buf and returning its
	// length and source endpoint.
	Receive(buf []byte) (n int, from netip.AddrPort, err error)
	Send(buf []byte, to netip.AddrPort) error
	Close() error
}

// maxDatagramSize is the largest UDP payload a socket can ever hand back,
// used to size each receive goroutine's private read buffer regardless of
// the caller's own buffer size.
const maxDatagramSize = 65535

type rawDatagram struct {
	buf  []byte
	from netip.AddrPort
	err  error
}

// NetBind is the default Bind, backed by real net.UDPConn sockets.
type NetBind struct {
	ipv4 *net.UDPConn
	ipv6 *net.UDPConn

	sendBufferSize    int
	receiveBufferSize int

	recv chan rawDatagram
}

// NewNetBind returns a NetBind that, once opened, requests the given
// SO_SNDBUF/SO_RCVBUF sizes on every socket it opens (0 leaves the OS
// default in place). Grounded on the teacher's own direct use of
// golang.org/x/sys/unix for socket-level control in conn/sticky.go,
// applied here to the simpler concern of sizing the kernel buffers per
// SPEC_FULL.md §6's send_buffer_size/receive_buffer_size knobs.
func NewNetBind(sendBufferSize, receiveBufferSize int) *NetBind {
	return &NetBind{sendBufferSize: sendBufferSize, receiveBufferSize: receiveBufferSize}
}

func (b *NetBind) Open(port uint16, dualStack bool) (uint16, error) {
	if b.ipv4 != nil || b.ipv6 != nil {
		return 0, ErrBindAlreadyOpen
	}
	v4conn, actual, err := listenNet("udp4", int(port))
	if err != nil && !errors.Is(err, syscall.EAFNOSUPPORT) {
		return 0, err
	}
	b.ipv4 = v4conn
	if v4conn != nil {
		b.setBufferSizes(v4conn)
	}
	if dualStack {
		v6conn, _, err := listenNet("udp6", actual)
		if err != nil && !errors.Is(err, syscall.EAFNOSUPPORT) {
			if b.ipv4 != nil {
				b.ipv4.Close()
			}
			return 0, err
		}
		b.ipv6 = v6conn
		if v6conn != nil {
			b.setBufferSizes(v6conn)
		}
	}
	if b.ipv4 == nil && b.ipv6 == nil {
		return 0, syscall.EAFNOSUPPORT
	}

	b.recv = make(chan rawDatagram, 16)
	if b.ipv4 != nil {
		go b.receiveLoop(b.ipv4)
	}
	if b.ipv6 != nil {
		go b.receiveLoop(b.ipv6)
	}
	return uint16(actual), nil
}

// receiveLoop reads one socket (ipv4 or ipv6) until it errors (typically
// because Close closed it), forwarding every datagram to the shared recv
// channel Receive drains from. One goroutine per open socket is how a
// dual-stack bind (config.DualMode) services both families: a v6 socket
// bound on this stack never receives v4 traffic, so Receive cannot simply
// prefer one socket over the other.
func (b *NetBind) receiveLoop(conn *net.UDPConn) {
	for {
		buf := make([]byte, maxDatagramSize)
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		b.recv <- rawDatagram{buf: buf[:n], from: from, err: err}
		if err != nil {
			return
		}
	}
}

// setBufferSizes applies the configured SO_SNDBUF/SO_RCVBUF sizes to conn.
// Failures are not fatal: every platform accepts a UDP socket with the
// kernel's default buffer sizing.
func (b *NetBind) setBufferSizes(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		if b.sendBufferSize > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, b.sendBufferSize)
		}
		if b.receiveBufferSize > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, b.receiveBufferSize)
		}
	})
}

func listenNet(network string, port int) (*net.UDPConn, int, error) {
	pc, err := (&net.ListenConfig{}).ListenPacket(context.Background(), network, ":"+strconv.Itoa(port))
	if err != nil {
		return nil, 0, err
	}
	udpConn := pc.(*net.UDPConn)
	addr := udpConn.LocalAddr().(*net.UDPAddr)
	return udpConn, addr.Port, nil
}

func (b *NetBind) Receive(buf []byte) (int, netip.AddrPort, error) {
	if b.recv == nil {
		return 0, netip.AddrPort{}, ErrClosed
	}
	dg := <-b.recv
	if dg.err != nil {
		return 0, dg.from, dg.err
	}
	n := copy(buf, dg.buf)
	return n, dg.from, nil
}

func (b *NetBind) Send(buf []byte, to netip.AddrPort) error {
	conn := b.ipv4
	if to.Addr().Is6() && !to.Addr().Is4In6() {
		conn = b.ipv6
	}
	if conn == nil {
		conn = b.ipv4
	}
	if conn == nil {
		return ErrClosed
	}
	_, err := conn.WriteToUDPAddrPort(buf, to)
	return err
}

func (b *NetBind) Close() error {
	var err error
	if b.ipv4 != nil {
		err = b.ipv4.Close()
		b.ipv4 = nil
	}
	if b.ipv6 != nil {
		if e := b.ipv6.Close(); e != nil && err == nil {
			err = e
		}
		b.ipv6 = nil
	}
	return err
}

// ParseEndpoint parses a "host:port" string into a netip.AddrPort,
// resolving hostnames the way net.ResolveUDPAddr does.
func ParseEndpoint(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	addr, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.AddrPort{}, errors.New("conn: unresolvable address")
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(udpAddr.Port)), nil
}
