package peer

import (
	"github.com/lattice-net/lattice/events"
	"github.com/lattice-net/lattice/wire"
)

// StartOutbound moves a freshly constructed Peer into CONNECTING_OUT,
// generates the local key pair (and, only when remote_public_key is
// configured, a random challenge for the remote to sign), and sends the
// first REQUEST (SPEC_FULL.md §4.6 "Outbound: connect sends REQUEST(key,
// random, optional payload)...").
func (p *Peer) StartOutbound(payload []byte) error {
	p.connectMu.Lock()
	priv, pub, sharedSecretFn := p.host.NewExchanger()
	p.privKey = priv
	p.pubKey = pub
	p.sharedSecretFn = sharedSecretFn

	var challenge []byte
	if len(p.cfg.RemotePublicKey) > 0 {
		challenge = make([]byte, 32)
		if err := p.host.RandRead(challenge); err != nil {
			p.connectMu.Unlock()
			return err
		}
	}
	p.challenge = challenge
	p.connectPayload = payload
	p.connectMu.Unlock()

	p.setState(StateConnectingOut)
	p.sendRequest()
	p.requestTimer.Mod(p.cfg.ConnectDelay)
	return nil
}

// sendRequest (re)transmits REQUEST(key, random, optional payload)
// (SPEC_FULL.md §4.2).
func (p *Peer) sendRequest() {
	p.connectMu.Lock()
	pub := p.pubKey
	challenge := p.challenge
	payload := p.connectPayload
	p.connectMu.Unlock()

	w := wire.NewWriter(make([]byte, 0, len(pub)+len(challenge)+len(payload)+8))
	w.WriteUint16(uint16(len(pub)))
	w.WriteUint16(uint16(len(challenge)))
	w.WriteBytes(pub)
	w.WriteBytes(challenge)
	w.WriteBytes(payload)

	pkt := encodePacket(wire.PacketRequest, p.host.CRC32Enabled(), false, false, 0, nil, w.Bytes())
	if err := p.host.SendTo(p.Remote, pkt); err != nil {
		p.fail(p.Remote, err)
	}
}

// StartInbound moves a freshly constructed Peer (one that surfaced as a
// ConnectionRequest) into PENDING_REQUEST, recording the remote's offered
// key and challenge for Accept/Reject to use.
func (p *Peer) StartInbound(remoteKey, remoteChallenge []byte) {
	p.connectMu.Lock()
	p.remotePub = remoteKey
	p.challenge = remoteChallenge
	p.connectMu.Unlock()
	p.setState(StatePendingRequest)
}

// handleAccept processes an inbound ACCEPT on the outbound side: verifies
// the signature (if remote_public_key is configured), derives the
// encryptor, starts the pinger, and moves to CONNECTED
// (SPEC_FULL.md §4.6).
func (p *Peer) handleAccept(body []byte) {
	if p.State() != StateConnectingOut {
		return
	}
	r := wire.NewReader(body)
	keyLen, err := r.ReadUint16()
	if err != nil {
		p.fail(p.Remote, err)
		return
	}
	sigLen, err := r.ReadUint16()
	if err != nil {
		p.fail(p.Remote, err)
		return
	}
	remoteKey, err := r.ReadBytes(int(keyLen))
	if err != nil {
		p.fail(p.Remote, err)
		return
	}
	signature, err := r.ReadBytes(int(sigLen))
	if err != nil {
		p.fail(p.Remote, err)
		return
	}

	p.connectMu.Lock()
	challenge := p.challenge
	sharedSecretFn := p.sharedSecretFn
	p.connectMu.Unlock()

	if len(p.cfg.RemotePublicKey) > 0 {
		if !p.host.Verify(p.cfg.RemotePublicKey, challenge, signature) {
			p.requestTimer.DelSync()
			p.Dispose(events.BadSignature, nil, ErrBadSignature)
			return
		}
	}

	sharedSecret, err := sharedSecretFn(remoteKey)
	if err != nil {
		p.fail(p.Remote, err)
		p.Dispose(events.Exception, nil, err)
		return
	}
	encryptor, err := p.host.DeriveEncryptor(sharedSecret)
	if err != nil {
		p.fail(p.Remote, err)
		p.Dispose(events.Exception, nil, err)
		return
	}

	p.connectMu.Lock()
	p.remotePub = remoteKey
	p.encryptor = encryptor
	p.connectMu.Unlock()

	p.requestTimer.DelSync()
	p.setState(StateConnected)
	p.pingTimer.Mod(p.cfg.PingDelay)
	if p.listener != nil {
		p.listener.OnConnect(p)
	}
}

// handleReject processes an inbound REJECT. On a non-connected peer it
// delivers the opaque payload to the listener and disposes; on an
// already-connected peer it is a spoof candidate surfaced as an exception
// without a state change (SPEC_FULL.md §4.6).
func (p *Peer) handleReject(body []byte) {
	if p.Connected() {
		p.fail(p.Remote, ErrRejected)
		return
	}
	p.requestTimer.DelSync()
	p.Dispose(events.Rejected, body, ErrRejected)
}

// Accept resolves an inbound ConnectionRequest: builds ACCEPT (echoing our
// key if the request offered one, signing the request's random if
// nonzero), starts the pinger once the send completes, and moves to
// CONNECTED (SPEC_FULL.md §4.6).
func (p *Peer) Accept() error {
	p.connectMu.Lock()
	remoteKey := p.remotePub
	challenge := p.challenge
	p.connectMu.Unlock()

	var pub []byte
	var sharedSecretFn func([]byte) ([]byte, error)
	if len(remoteKey) > 0 {
		priv, ourPub, fn := p.host.NewExchanger()
		pub = ourPub
		sharedSecretFn = fn
		p.connectMu.Lock()
		p.privKey = priv
		p.pubKey = ourPub
		p.connectMu.Unlock()
	}

	var signature []byte
	if len(challenge) > 0 {
		sig, err := p.host.Sign(challenge)
		if err != nil {
			return err
		}
		signature = sig
	}

	w := wire.NewWriter(make([]byte, 0, len(pub)+len(signature)+4))
	w.WriteUint16(uint16(len(pub)))
	w.WriteUint16(uint16(len(signature)))
	w.WriteBytes(pub)
	w.WriteBytes(signature)

	pkt := encodePacket(wire.PacketAccept, p.host.CRC32Enabled(), false, false, 0, nil, w.Bytes())
	if err := p.host.SendTo(p.Remote, pkt); err != nil {
		return err
	}

	if sharedSecretFn != nil && len(remoteKey) > 0 {
		sharedSecret, err := sharedSecretFn(remoteKey)
		if err != nil {
			return err
		}
		encryptor, err := p.host.DeriveEncryptor(sharedSecret)
		if err != nil {
			return err
		}
		p.connectMu.Lock()
		p.encryptor = encryptor
		p.connectMu.Unlock()
	}

	p.setState(StateConnected)
	p.pingTimer.Mod(p.cfg.PingDelay)
	if p.listener != nil {
		p.listener.OnConnect(p)
	}
	return nil
}

// Reject sends REJECT(payload) to a pending inbound request and disposes
// it (SPEC_FULL.md §4.1 "reject(request, optional payload)").
func (p *Peer) Reject(payload []byte) error {
	pkt := encodePacket(wire.PacketReject, p.host.CRC32Enabled(), false, false, 0, nil, payload)
	err := p.host.SendTo(p.Remote, pkt)
	p.Dispose(events.Disposed, nil, nil)
	return err
}

// currentEncryptor returns the peer's derived symmetric encryptor, or nil
// before the handshake has completed.
func (p *Peer) currentEncryptor() Encryptor {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()
	return p.encryptor
}
