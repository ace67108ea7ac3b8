// Package parser implements the packet codec (component B): translating
// Socket.IO packets, possibly carrying binary attachments, to and from the
// sequence of Engine.IO WebSocket frames used to carry them on the wire.
package parser

import "github.com/havenshade/sockrose/message"

// FrameKind is the Engine.IO frame kind, the outermost tag on the wire.
// Only Message carries a Socket.IO sub-type.
type FrameKind byte

const (
	FrameOpen FrameKind = iota
	FrameClose
	FramePing
	FramePong
	FrameMessage
	FrameUpgrade
	FrameNoop
)

func (k FrameKind) valid() bool { return k >= FrameOpen && k <= FrameNoop }

// Type is the Socket.IO sub-type, meaningful only when Packet.Frame is
// FrameMessage.
type Type byte

const (
	Connect Type = iota
	Disconnect
	Event
	Ack
	ConnectError
	BinaryEvent
	BinaryAck
)

func (t Type) valid() bool { return t >= Connect && t <= BinaryAck }

// DefaultNamespace is the namespace a Packet is addressed to when its Nsp
// field is left empty.
const DefaultNamespace = "/"

// Packet is one decoded (or about-to-be-encoded) Socket.IO packet: one
// Engine.IO MESSAGE frame plus any binary attachments that travel with it.
type Packet struct {
	Frame FrameKind
	Type  Type // only meaningful when Frame == FrameMessage

	// Nsp defaults to DefaultNamespace when empty.
	Nsp string

	// AckID is nil when the sender neither requests nor replies to an
	// acknowledgement.
	AckID *uint32

	// Data is the packet's payload message. Nil for packets that carry
	// none (PING, PONG, bare DISCONNECT, ...).
	Data *message.Message

	// Attachments is the declared count of pending binary frames for a
	// BinaryEvent/BinaryAck packet that hasn't finished arriving yet. It
	// is always 0 on a fully decoded or freshly constructed packet.
	Attachments int

	// Buffers holds the binary attachments, in wire order, once a
	// BinaryEvent/BinaryAck packet has fully arrived. Encode does not read
	// it; it collects attachments from Data and returns them instead.
	Buffers [][]byte
}

// IsBinary reports whether the packet's sub-type is one of the two binary
// variants.
func (p *Packet) IsBinary() bool {
	return p.Type == BinaryEvent || p.Type == BinaryAck
}

// Namespace returns Nsp, defaulting to "/".
func (p *Packet) Namespace() string {
	if p.Nsp == "" {
		return DefaultNamespace
	}
	return p.Nsp
}

// null returns a delivered packet standing in for a malformed one: a
// FrameMessage/Event packet with a null payload addressed to the default
// namespace, which
// the engine treats as a no-op (§4.B.3, §7).
func null() *Packet {
	return &Packet{Frame: FrameMessage, Type: Event, Nsp: DefaultNamespace, Data: message.Null()}
}
