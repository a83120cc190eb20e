// Package wire implements the Lattice transport's wire format: packet and
// message headers, little-endian integer cursors, and CRC32 framing. This
// file is the sole authority for the byte layout described in SPEC_FULL.md
// §6 — nothing outside this package may encode or decode header bytes.
package wire

import "fmt"

// PacketType occupies the low 3 bits of the packet header byte.
type PacketType uint8

const (
	PacketUnused1     PacketType = 0
	PacketRequest     PacketType = 1
	PacketAccept      PacketType = 2
	PacketReject      PacketType = 3
	PacketConnected   PacketType = 4
	PacketUnconnected PacketType = 5
	PacketBroadcast   PacketType = 6
	PacketUnused2     PacketType = 7

	packetTypeMask = 0x07
)

func (t PacketType) String() string {
	switch t {
	case PacketRequest:
		return "REQUEST"
	case PacketAccept:
		return "ACCEPT"
	case PacketReject:
		return "REJECT"
	case PacketConnected:
		return "CONNECTED"
	case PacketUnconnected:
		return "UNCONNECTED"
	case PacketBroadcast:
		return "BROADCAST"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// PacketFlags occupies the high 5 bits (3..7) of the packet header byte.
type PacketFlags uint8

const (
	FlagVerified    PacketFlags = 1 << 3
	FlagTimed       PacketFlags = 1 << 4
	FlagFragmented  PacketFlags = 1 << 5
	FlagCompressed  PacketFlags = 1 << 6
	FlagCombined    PacketFlags = 1 << 7
	packetFlagsMask             = FlagVerified | FlagTimed | FlagFragmented | FlagCompressed | FlagCombined
)

func (f PacketFlags) Has(bit PacketFlags) bool { return f&bit != 0 }

// PacketHeader is the decoded leading byte of every datagram.
type PacketHeader struct {
	Type  PacketType
	Flags PacketFlags
}

// Byte encodes the header as its single wire byte.
func (h PacketHeader) Byte() byte {
	return byte(h.Type&packetTypeMask) | byte(h.Flags&packetFlagsMask)
}

// DecodePacketHeader parses the leading header byte.
func DecodePacketHeader(b byte) PacketHeader {
	return PacketHeader{
		Type:  PacketType(b & packetTypeMask),
		Flags: PacketFlags(b) & packetFlagsMask,
	}
}

// EncodeSimplePacket builds an unfragmented, uncombined datagram: header
// byte, optional CRC32 over everything after it, then body. Used directly
// by Host for REJECT/UNCONNECTED/BROADCAST, which never fragment or
// combine (SPEC_FULL.md §4.1/§4.2); Peer encodes its own packets,
// including the REQUEST/ACCEPT/REJECT handshake packets and the CONNECTED
// path, which does fragment and combine.
func EncodeSimplePacket(pktType PacketType, verified bool, body []byte) []byte {
	w := NewWriter(make([]byte, 0, len(body)+5))
	flags := PacketFlags(0)
	if verified {
		flags |= FlagVerified
	}
	w.WriteUint8(PacketHeader{Type: pktType, Flags: flags}.Byte())
	if !verified {
		w.WriteBytes(body)
		return w.Bytes()
	}
	off := w.ReserveUint32()
	start := w.Len()
	w.WriteBytes(body)
	w.PatchUint32(off, CRC32(w.Bytes()[start:]))
	return w.Bytes()
}

// FragmentHeader is present when FlagFragmented is set: 16-bit fragment id,
// 16-bit part index, 16-bit last-part index (per SPEC_FULL.md §6).
type FragmentHeader struct {
	FragmentID uint16
	Part       uint16
	LastPart   uint16
}
