package peer

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/lattice-net/lattice/config"
	"github.com/lattice-net/lattice/crypto"
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/internal/alloc"
	"github.com/lattice-net/lattice/logging"
	"github.com/lattice-net/lattice/metrics"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// fakeHost is a minimal HostFacade backed by a mock clock and an optional
// direct link to another Peer, standing in for a real Host and UDP socket
// (DESIGN.md's Tests entry lists clock.Mock as the tool for deterministic timer
// tests; these tests pair it with an in-memory send path instead of a
// real conn.Bind).
type fakeHost struct {
	clk   *clock.Mock
	epoch time.Time
	alloc *alloc.Allocator
	log   *logging.Logger
	met   *metrics.Collectors

	crc, encryption, compression bool
	compressor                   Compressor

	exchanger        crypto.KeyExchanger
	signerFactory    crypto.SignerFactory
	encryptorFactory crypto.EncryptorFactory
	signer           crypto.Signer
	signerPub        []byte

	mu     sync.Mutex
	remote *Peer
	sent   [][]byte
}

func newFakeHost(clk *clock.Mock) *fakeHost {
	priv, pub, err := (crypto.Secp256k1Factory{}).GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return &fakeHost{
		clk:              clk,
		epoch:            clk.Now(),
		alloc:            alloc.New(alloc.DefaultConfig()),
		log:              logging.Silent(),
		met:              metrics.New(),
		crc:              true,
		exchanger:        crypto.NewX25519Exchanger(nil),
		signerFactory:    crypto.Secp256k1Factory{},
		encryptorFactory: crypto.ChaChaPolyFactory{},
		signer:           (crypto.Secp256k1Factory{}).NewSigner(priv),
		signerPub:        pub,
	}
}

func (h *fakeHost) setRemote(p *Peer) {
	h.mu.Lock()
	h.remote = p
	h.mu.Unlock()
}

func (h *fakeHost) SendTo(remote netip.AddrPort, buf []byte) error {
	cp := append([]byte(nil), buf...)
	h.mu.Lock()
	h.sent = append(h.sent, cp)
	r := h.remote
	h.mu.Unlock()
	if r != nil {
		// Peer.HandleDatagram only understands ACCEPT/REJECT/CONNECTED;
		// a REQUEST harmlessly falls through its default case, matching
		// how a real Host (not a Peer) owns REQUEST handling.
		r.HandleDatagram(append([]byte(nil), cp...))
	}
	return nil
}

func (h *fakeHost) lastSent() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sent) == 0 {
		return nil
	}
	return h.sent[len(h.sent)-1]
}

func (h *fakeHost) Allocator() *alloc.Allocator  { return h.alloc }
func (h *fakeHost) Clock() clock.Clock           { return h.clk }
func (h *fakeHost) Logger() *logging.Logger      { return h.log }
func (h *fakeHost) Metrics() *metrics.Collectors { return h.met }

func (h *fakeHost) TickMillis() uint16 {
	return uint16(h.clk.Now().Sub(h.epoch).Milliseconds())
}

func (h *fakeHost) CRC32Enabled() bool       { return h.crc }
func (h *fakeHost) EncryptionEnabled() bool  { return h.encryption }
func (h *fakeHost) CompressionEnabled() bool { return h.compression }
func (h *fakeHost) Compressor() Compressor   { return h.compressor }

func (h *fakeHost) NewExchanger() (priv, pub []byte, sharedSecretFn func([]byte) ([]byte, error)) {
	priv, pub, err := h.exchanger.GenerateKeyPair()
	if err != nil {
		return nil, nil, func([]byte) ([]byte, error) { return nil, err }
	}
	return priv, pub, func(peerPub []byte) ([]byte, error) {
		return h.exchanger.SharedSecret(priv, peerPub)
	}
}

func (h *fakeHost) DeriveEncryptor(sharedSecret []byte) (Encryptor, error) {
	return h.encryptorFactory.Derive(sharedSecret)
}

func (h *fakeHost) Sign(message []byte) ([]byte, error) {
	return h.signer.Sign(message)
}

func (h *fakeHost) Verify(publicKey, message, signature []byte) bool {
	return h.signerFactory.NewVerifier().Verify(publicKey, message, signature)
}

func (h *fakeHost) RandRead(p []byte) error {
	_, err := crypto.DefaultRand{}.Read(p)
	return err
}

func (h *fakeHost) Unregister(netip.AddrPort) {}

// recordingListener implements events.PeerListener, collecting every
// callback for assertions.
type recordingListener struct {
	mu           sync.Mutex
	connected    int
	disconnected []events.DisconnectReason
	received     []receivedMsg
	rtts         []uint32
	exceptions   []error
}

type receivedMsg struct {
	payload []byte
	info    events.MessageInfo
}

func newRecordingListener() *recordingListener {
	return &recordingListener{}
}

func (l *recordingListener) OnConnect(p any) {
	l.mu.Lock()
	l.connected++
	l.mu.Unlock()
}

func (l *recordingListener) OnDisconnect(p any, payload []byte, reason events.DisconnectReason, err error) {
	l.mu.Lock()
	l.disconnected = append(l.disconnected, reason)
	l.mu.Unlock()
}

func (l *recordingListener) OnReceive(p any, payload []byte, info events.MessageInfo) {
	l.mu.Lock()
	l.received = append(l.received, receivedMsg{payload: append([]byte(nil), payload...), info: info})
	l.mu.Unlock()
}

func (l *recordingListener) OnUpdateRTT(p any, rttMillis uint32) {
	l.mu.Lock()
	l.rtts = append(l.rtts, rttMillis)
	l.mu.Unlock()
}

func (l *recordingListener) OnException(p any, err error) {
	l.mu.Lock()
	l.exceptions = append(l.exceptions, err)
	l.mu.Unlock()
}

func mustAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	require.NoError(t, err)
	return ap
}

// newTestPeer builds a single unwired Peer suitable for exercising
// fragment/ordering/unique/reliability logic without a remote.
func newTestPeer(t *testing.T, mutate ...func(*config.PeerConfig)) (*Peer, *fakeHost, *recordingListener) {
	t.Helper()
	clk := clock.NewMock()
	h := newFakeHost(clk)
	l := newRecordingListener()
	cfg, err := config.NewPeerConfig()
	require.NoError(t, err)
	for _, m := range mutate {
		m(&cfg)
	}
	p := New(mustAddr(t, "127.0.0.1:9000"), cfg, l, h)
	return p, h, l
}
