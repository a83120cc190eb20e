package peer

import (
	"github.com/lattice-net/lattice/wire"
)

// encodePacket assembles one outer datagram: header byte, optional CRC32,
// optional fragment header, optional packet-level tick slice, then body
// (SPEC_FULL.md §4.2). CRC32 covers every byte following the 4-byte CRC
// field, per spec. ticks is the host's tick counter at the moment this
// datagram is actually handed to the socket, letting the receiver correct
// for queuing delay between a message's creation and its packet's send
// (used by the ACK RTT formula in handleAcknowledge).
func encodePacket(pktType wire.PacketType, verified, combined, timed bool, ticks uint16, frag *wire.FragmentHeader, body []byte) []byte {
	flags := wire.PacketFlags(0)
	if verified {
		flags |= wire.FlagVerified
	}
	if frag != nil {
		flags |= wire.FlagFragmented
	}
	if timed {
		flags |= wire.FlagTimed
	}
	if combined {
		flags |= wire.FlagCombined
	}
	w := wire.NewWriter(make([]byte, 0, len(body)+16))
	w.WriteUint8(wire.PacketHeader{Type: pktType, Flags: flags}.Byte())
	var crcOffset int
	if verified {
		crcOffset = w.ReserveUint32()
	}
	coveredStart := w.Len()
	if frag != nil {
		w.WriteUint16(frag.FragmentID)
		w.WriteUint16(frag.Part)
		w.WriteUint16(frag.LastPart)
	}
	if timed {
		w.WriteUint16(ticks)
	}
	w.WriteBytes(body)
	if verified {
		crc := wire.CRC32(w.Bytes()[coveredStart:])
		w.PatchUint32(crcOffset, crc)
	}
	return w.Bytes()
}

// decodedPacket is the parsed form of an inbound datagram before fragment
// reassembly / decrypt / decompress.
type decodedPacket struct {
	Header wire.PacketHeader
	Frag   wire.FragmentHeader
	Ticks  uint16
	Body   []byte
}

func decodePacket(raw []byte, crcEnabled bool) (decodedPacket, error) {
	r := wire.NewReader(raw)
	b, err := r.ReadUint8()
	if err != nil {
		return decodedPacket{}, err
	}
	hdr := wire.DecodePacketHeader(b)

	if hdr.Flags.Has(wire.FlagVerified) {
		wantCRC, err := r.ReadUint32()
		if err != nil {
			return decodedPacket{}, err
		}
		if crcEnabled {
			got := wire.CRC32(raw[r.Pos():])
			if got != wantCRC {
				return decodedPacket{}, wire.ErrCRC
			}
		}
	}

	var frag wire.FragmentHeader
	if hdr.Flags.Has(wire.FlagFragmented) {
		id, err := r.ReadUint16()
		if err != nil {
			return decodedPacket{}, err
		}
		part, err := r.ReadUint16()
		if err != nil {
			return decodedPacket{}, err
		}
		last, err := r.ReadUint16()
		if err != nil {
			return decodedPacket{}, err
		}
		if part > last {
			return decodedPacket{}, wire.ErrMalformed
		}
		frag = wire.FragmentHeader{FragmentID: id, Part: part, LastPart: last}
	}

	var ticks uint16
	if hdr.Flags.Has(wire.FlagTimed) {
		ticks, err = r.ReadUint16()
		if err != nil {
			return decodedPacket{}, err
		}
	}

	return decodedPacket{Header: hdr, Frag: frag, Ticks: ticks, Body: r.ReadRest()}, nil
}
