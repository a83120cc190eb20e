// Package timestamp provides a compact, monotonic-friendly timestamp used
// for internal bookkeeping (SentMessage.Created).
// It never appears on the wire: the wire protocol only ever carries the
// low 16 bits of a sender's millisecond tick counter (see the peer
// package's HostFacade.TickMillis).
package timestamp

import (
	"encoding/binary"
	"time"
)

// Size is the encoded width of a Compact timestamp.
const Size = 12

// base shifts seconds into a range that is always positive when encoded,
// avoiding sign-handling differences across platforms.
const base = uint64(0x400000000000000a)

// Compact is a fixed-width, big-endian timestamp: 8 bytes of seconds
// (offset by base) followed by 4 bytes of nanoseconds.
type Compact [Size]byte

// Now returns the Compact encoding of the current wall-clock time.
func Now() Compact {
	return From(time.Now())
}

// From encodes an arbitrary time.Time.
func From(t time.Time) Compact {
	var c Compact
	binary.BigEndian.PutUint64(c[:8], base+uint64(t.Unix()))
	binary.BigEndian.PutUint32(c[8:], uint32(t.Nanosecond()))
	return c
}

// Time decodes back to a time.Time.
func (c Compact) Time() time.Time {
	secs := int64(binary.BigEndian.Uint64(c[:8]) - base)
	nanos := int64(binary.BigEndian.Uint32(c[8:]))
	return time.Unix(secs, nanos)
}

// After reports whether c represents a later instant than other.
func (c Compact) After(other Compact) bool {
	for i := range c {
		if c[i] != other[i] {
			return c[i] > other[i]
		}
	}
	return false
}

func (c Compact) String() string {
	return c.Time().String()
}
