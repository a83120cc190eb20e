// Package crypto defines the transport's pluggable cryptographic
// capabilities — KeyExchanger, Encryptor, Signer/Verifier, CSPRNG — as
// interfaces (SPEC_FULL.md §1 non-goal: "concrete cipher or signature
// algorithms specified as pluggable capabilities"), plus default
// implementations so the module is usable without a caller supplying their
// own. Grounded on the teacher's noise handshake (device/noise.go,
// device/noise_types.go): a Diffie-Hellman key exchange, an AEAD transport
// cipher, and a chain-key KDF, all built from golang.org/x/crypto
// primitives exactly as the teacher does.
package crypto

import "errors"

var (
	ErrDecrypt           = errors.New("crypto: decryption failed")
	ErrSignatureMismatch = errors.New("crypto: signature verification failed")
)

// KeyExchanger performs a Diffie-Hellman-style key exchange: generate an
// ephemeral key pair, then combine a private key with a peer's public key
// into a shared secret. Host.connect/accept use this once per handshake.
type KeyExchanger interface {
	GenerateKeyPair() (priv, pub []byte, err error)
	SharedSecret(priv, peerPub []byte) ([]byte, error)
	PublicKeySize() int
}

// Encryptor is a derived symmetric AEAD cipher, held once per connected
// Peer (SPEC_FULL.md §3: "symmetric encryptor (once derived)").
type Encryptor interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// EncryptorFactory derives an Encryptor from a KeyExchanger's shared
// secret.
type EncryptorFactory interface {
	Derive(sharedSecret []byte) (Encryptor, error)
}

// Signer produces a signature over an arbitrary challenge (the
// handshake's random-challenge bytes, SPEC_FULL.md §4.6).
type Signer interface {
	Sign(message []byte) (signature []byte, err error)
}

// Verifier checks a Signer's output against a known public key.
type Verifier interface {
	Verify(publicKey, message, signature []byte) bool
}

// SignerFactory mints Signer/Verifier capability from a key pair, and can
// generate one.
type SignerFactory interface {
	GenerateKeyPair() (priv, pub []byte, err error)
	NewSigner(priv []byte) Signer
	NewVerifier() Verifier
}

// Rand is the CSPRNG capability used for random challenges, nonces, and
// handshake key material.
type Rand interface {
	Read(p []byte) (int, error)
}
