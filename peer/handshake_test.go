package peer

import (
	"fmt"
	"testing"
	"time"

	"github.com/lattice-net/lattice/config"
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/wire"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parsedRequest mirrors the REQUEST body sendRequest encodes: key/challenge
// length prefixes followed by key, challenge, and an optional payload
// (SPEC_FULL.md §4.2). Host.handleRequest parses this same layout; a Peer
// never does, since PacketRequest falls through HandleDatagram's default
// case, so this test harness parses it directly in place of a Host.
type parsedRequest struct {
	key       []byte
	challenge []byte
	payload   []byte
}

func parseRequestPacket(t *testing.T, raw []byte, crcEnabled bool) parsedRequest {
	t.Helper()
	dp, err := decodePacket(raw, crcEnabled)
	require.NoError(t, err)
	require.Equal(t, wire.PacketRequest, dp.Header.Type)

	r := wire.NewReader(dp.Body)
	keyLen, err := r.ReadUint16()
	require.NoError(t, err)
	challengeLen, err := r.ReadUint16()
	require.NoError(t, err)
	key, err := r.ReadBytes(int(keyLen))
	require.NoError(t, err)
	challenge, err := r.ReadBytes(int(challengeLen))
	require.NoError(t, err)
	return parsedRequest{key: key, challenge: challenge, payload: r.ReadRest()}
}

// wirePeers builds a client/server pair sharing one mock clock, each backed
// by its own fakeHost wired to forward sends into the other's
// HandleDatagram (ACCEPT/REJECT/CONNECTED only; REQUEST is handled out of
// band by the test, standing in for Host.handleRequest).
func wirePeers(t *testing.T, mutateClient, mutateServer func(*config.PeerConfig)) (client, server *Peer, ch *fakeHost, sh *fakeHost, cl, sl *recordingListener) {
	t.Helper()
	clk := clock.NewMock()
	ch = newFakeHost(clk)
	sh = newFakeHost(clk)

	clientCfg, err := config.NewPeerConfig()
	require.NoError(t, err)
	if mutateClient != nil {
		mutateClient(&clientCfg)
	}
	serverCfg, err := config.NewPeerConfig()
	require.NoError(t, err)
	if mutateServer != nil {
		mutateServer(&serverCfg)
	}

	cl = newRecordingListener()
	sl = newRecordingListener()
	client = New(mustAddr(t, "127.0.0.1:9001"), clientCfg, cl, ch)
	server = New(mustAddr(t, "127.0.0.1:9002"), serverCfg, sl, sh)

	ch.setRemote(server)
	sh.setRemote(client)
	return client, server, ch, sh, cl, sl
}

func TestHandshakeOutboundAcceptReachesConnected(t *testing.T) {
	client, server, ch, _, cl, sl := wirePeers(t, nil, nil)

	require.NoError(t, client.StartOutbound(nil))

	raw := ch.lastSent()
	require.NotNil(t, raw)
	req := parseRequestPacket(t, raw, true)
	server.StartInbound(req.key, req.challenge)
	require.NoError(t, server.Accept())

	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, StateConnected, server.State())

	cl.mu.Lock()
	assert.Equal(t, 1, cl.connected)
	cl.mu.Unlock()
	sl.mu.Lock()
	assert.Equal(t, 1, sl.connected)
	sl.mu.Unlock()
}

func TestHandshakeRejectDisposesNonConnectedPeer(t *testing.T) {
	client, server, ch, _, cl, _ := wirePeers(t, nil, nil)

	require.NoError(t, client.StartOutbound(nil))
	raw := ch.lastSent()
	req := parseRequestPacket(t, raw, true)
	server.StartInbound(req.key, req.challenge)

	require.NoError(t, server.Reject([]byte("no thanks")))

	assert.Equal(t, StateDisposed, client.State())
	assert.Equal(t, StateDisposed, server.State())

	cl.mu.Lock()
	defer cl.mu.Unlock()
	require.Len(t, cl.disconnected, 1)
	assert.Equal(t, events.Rejected, cl.disconnected[0])
}

func TestHandshakeBadSignatureDisposesClient(t *testing.T) {
	client, server, ch, _, cl, _ := wirePeers(t, func(c *config.PeerConfig) {
		// An arbitrary key that does not match the server's real signer
		// public key forces signature verification to fail.
		c.RemotePublicKey = []byte("not-the-real-server-public-key-")
	}, nil)

	require.NoError(t, client.StartOutbound(nil))
	raw := ch.lastSent()
	req := parseRequestPacket(t, raw, true)
	server.StartInbound(req.key, req.challenge)
	require.NoError(t, server.Accept())

	require.Eventually(t, func() bool {
		return client.State() == StateDisposed
	}, 100*time.Millisecond, time.Millisecond)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	require.Len(t, cl.disconnected, 1)
	assert.Equal(t, events.BadSignature, cl.disconnected[0])
}

// TestHandshakeCompletesAcrossCRCEncryptionAuthenticateCube sweeps every
// combination of the three handshake-adjacent toggles and checks both sides
// reach CONNECTED and a reliable CUSTOM message still round-trips correctly
// under each (spec.md §8's "handshake completes" property, parameterized
// rather than three fixed scenarios).
func TestHandshakeCompletesAcrossCRCEncryptionAuthenticateCube(t *testing.T) {
	for _, crc := range []bool{false, true} {
		for _, enc := range []bool{false, true} {
			for _, auth := range []bool{false, true} {
				crc, enc, auth := crc, enc, auth
				t.Run(fmt.Sprintf("crc=%v/encryption=%v/authenticate=%v", crc, enc, auth), func(t *testing.T) {
					client, server, ch, sh, _, sl := wirePeers(t, nil, nil)
					if auth {
						client.cfg.RemotePublicKey = sh.signerPub
					}
					ch.crc, sh.crc = crc, crc
					ch.encryption, sh.encryption = enc, enc

					require.NoError(t, client.StartOutbound(nil))
					raw := ch.lastSent()
					require.NotNil(t, raw)
					req := parseRequestPacket(t, raw, crc)
					server.StartInbound(req.key, req.challenge)
					require.NoError(t, server.Accept())

					require.Equal(t, StateConnected, client.State())
					require.Equal(t, StateConnected, server.State())

					_, err := client.Send(Outgoing{Type: wire.MessageCustom, Payload: []byte("cube"), Reliable: true})
					require.NoError(t, err)
					// Send only queues the message; the flush timer runs on
					// the shared mock clock and fires once send_delay passes.
					ch.clk.Add(client.cfg.SendDelay)

					require.Eventually(t, func() bool {
						sl.mu.Lock()
						defer sl.mu.Unlock()
						return len(sl.received) == 1
					}, 200*time.Millisecond, time.Millisecond)

					sl.mu.Lock()
					defer sl.mu.Unlock()
					assert.Equal(t, []byte("cube"), sl.received[0].payload)
				})
			}
		}
	}
}
