package crypto

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Secp256k1Factory is the default SignerFactory, enriched from dep2p's
// go.mod (github.com/decred/dcrd/dcrec/secp256k1/v4), which that pack repo
// carries for exactly this concern: signing/verifying a node's identity
// challenge. Used here for the handshake's random-challenge signature
// (SPEC_FULL.md §4.6).
type Secp256k1Factory struct{}

func (Secp256k1Factory) GenerateKeyPair() (priv, pub []byte, err error) {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	return sk.Serialize(), sk.PubKey().SerializeCompressed(), nil
}

func (Secp256k1Factory) NewSigner(priv []byte) Signer {
	sk := secp256k1.PrivKeyFromBytes(priv)
	return secp256k1Signer{sk: sk}
}

func (Secp256k1Factory) NewVerifier() Verifier {
	return secp256k1Verifier{}
}

type secp256k1Signer struct {
	sk *secp256k1.PrivateKey
}

func (s secp256k1Signer) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := schnorr.Sign(s.sk, digest[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

type secp256k1Verifier struct{}

func (secp256k1Verifier) Verify(publicKey, message, signature []byte) bool {
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pub)
}
