package wire

import "fmt"

// MessageType is the first byte of a CONNECTED message's two-byte header;
// only its low 3 bits are kept.
type MessageType uint8

const (
	MessageCustom      MessageType = 0
	MessageAcknowledge MessageType = 1
	MessageDisconnect  MessageType = 2
	MessagePing        MessageType = 3

	messageTypeMask = 0x07
)

func (t MessageType) String() string {
	switch t {
	case MessageCustom:
		return "CUSTOM"
	case MessageAcknowledge:
		return "ACKNOWLEDGE"
	case MessageDisconnect:
		return "DISCONNECT"
	case MessagePing:
		return "PING"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// MessageFlags gates which optional fields follow a message's header.
//
// SPEC_FULL.md's authoritative wire summary describes MessageType and
// MessageFlags as sharing one header byte (3 type bits + 5 flag bits), but
// lists six independent flags (TIMED, RELIABLE, ORDERED, UNIQUE, CHANNELED,
// SEQUENCED) — one more than five bits can hold, and scenarios such as a
// reliable, ordered, unique, non-default-channel message legitimately need
// all six simultaneously (see DESIGN.md, Open Question decision #3). This
// implementation resolves that by giving messages a full second header
// byte for flags, so type and flags are two separate wire bytes rather
// than one combined byte. All six flags get independent, always-available
// bits; nothing else about the field ordering changes.
type MessageFlags uint8

const (
	MsgTimed     MessageFlags = 1 << 0
	MsgReliable  MessageFlags = 1 << 1
	MsgOrdered   MessageFlags = 1 << 2
	MsgUnique    MessageFlags = 1 << 3
	MsgChanneled MessageFlags = 1 << 4
	MsgSequenced MessageFlags = 1 << 5
)

func (f MessageFlags) Has(bit MessageFlags) bool { return f&bit != 0 }

// MessageHeader is the decoded header of one CONNECTED-packet message.
type MessageHeader struct {
	Type  MessageType
	Flags MessageFlags
}

func (h MessageHeader) WriteTo(w *Writer) {
	w.WriteUint8(byte(h.Type & messageTypeMask))
	w.WriteUint8(byte(h.Flags))
}

func DecodeMessageHeader(r *Reader) (MessageHeader, error) {
	typeByte, err := r.ReadUint8()
	if err != nil {
		return MessageHeader{}, err
	}
	flagsByte, err := r.ReadUint8()
	if err != nil {
		return MessageHeader{}, err
	}
	return MessageHeader{
		Type:  MessageType(typeByte & messageTypeMask),
		Flags: MessageFlags(flagsByte),
	}, nil
}
