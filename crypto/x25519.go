package crypto

import "golang.org/x/crypto/curve25519"

// X25519Exchanger is the default KeyExchanger, grounded directly on the
// teacher's Curve25519 key-clamping and DH usage (device/noise_types.go,
// device/noise.go).
type X25519Exchanger struct {
	rand Rand
}

func NewX25519Exchanger(rand Rand) *X25519Exchanger {
	if rand == nil {
		rand = DefaultRand{}
	}
	return &X25519Exchanger{rand: rand}
}

func (x *X25519Exchanger) PublicKeySize() int { return 32 }

func (x *X25519Exchanger) GenerateKeyPair() (priv, pub []byte, err error) {
	priv = make([]byte, 32)
	if _, err = x.rand.Read(priv); err != nil {
		return nil, nil, err
	}
	clampPrivateKey(priv)
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func (x *X25519Exchanger) SharedSecret(priv, peerPub []byte) ([]byte, error) {
	return curve25519.X25519(priv, peerPub)
}

// clampPrivateKey applies the standard Curve25519 clamping: clear the
// lower 3 bits (cofactor safety), clear the top bit, set the second-
// highest bit — identical to the teacher's NoisePrivateKey construction.
func clampPrivateKey(priv []byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}
