package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCRC32RejectsSingleBitFlip exercises the "CRC32 covers every byte
// following the 4-byte CRC field" property from SPEC_FULL.md §4.2: flipping
// any one bit anywhere in the covered region must change the checksum.
func TestCRC32RejectsSingleBitFlip(t *testing.T) {
	pkt := EncodeSimplePacket(PacketBroadcast, true, []byte("duplicate suppression and CRC coverage"))
	r := NewReader(pkt[1:])
	wantCRC, err := r.ReadUint32()
	require.NoError(t, err)
	covered := pkt[5:]
	require.Equal(t, wantCRC, CRC32(covered))

	for byteIdx := 0; byteIdx < len(covered); byteIdx += 7 {
		for bit := uint(0); bit < 8; bit++ {
			flipped := append([]byte(nil), covered...)
			flipped[byteIdx] ^= 1 << bit
			assert.NotEqual(t, wantCRC, CRC32(flipped),
				"bit %d of byte %d must change the checksum", bit, byteIdx)
		}
	}
}

func TestDecodePacketDetectsCRCMismatch(t *testing.T) {
	pkt := EncodeSimplePacket(PacketConnected, true, []byte("payload"))
	pkt[len(pkt)-1] ^= 0xFF

	_, err := decodeSimpleForTest(pkt)
	assert.ErrorIs(t, err, ErrCRC)
}

// decodeSimpleForTest mirrors the CRC-check half of decodePacket (an
// unexported peer-package helper this package cannot import) closely
// enough to exercise CRC32 mismatch detection against an EncodeSimplePacket
// payload.
func decodeSimpleForTest(raw []byte) ([]byte, error) {
	r := NewReader(raw)
	b, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	hdr := DecodePacketHeader(b)
	if !hdr.Flags.Has(FlagVerified) {
		return r.ReadRest(), nil
	}
	want, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if got := CRC32(raw[r.Pos():]); got != want {
		return nil, ErrCRC
	}
	return r.ReadRest(), nil
}
