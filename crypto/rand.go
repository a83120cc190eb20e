package crypto

import cryptorand "crypto/rand"

// DefaultRand wraps crypto/rand.Reader. No pack repo wires a third-party
// CSPRNG (the teacher generates its own random indices straight from
// crypto/rand in device/index_table.go's randUint32) — see DESIGN.md.
type DefaultRand struct{}

func (DefaultRand) Read(p []byte) (int, error) {
	return cryptorand.Read(p)
}
