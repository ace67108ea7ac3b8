package parser

import (
	"strconv"
	"strings"

	"github.com/havenshade/sockrose/message"
)

// Encode renders p as a text frame followed by any binary attachment
// frames, in the order a transport must write them (§4.B.2): the text
// frame always first, then binaries in the order they were encountered by
// the tree walk. Callers that don't need attachments can ignore every
// return value past the first.
func Encode(p *Packet) (text []byte, binaries [][]byte) {
	data := p.Data
	var buffers [][]byte

	if (p.Type == Event || p.Type == Ack) && data != nil {
		hasBinary := false
		data.Walk(func(*message.Message) { hasBinary = true })
		if hasBinary {
			data = deconstruct(data, &buffers)
			if p.Type == Event {
				p = withType(p, BinaryEvent)
			} else {
				p = withType(p, BinaryAck)
			}
		}
	}

	return []byte(encodeHeader(p, data, len(buffers))), buffers
}

func withType(p *Packet, t Type) *Packet {
	clone := *p
	clone.Type = t
	return &clone
}

// deconstruct walks data, replacing every binary leaf with a
// {"_placeholder": true, "num": k} marker object (k is the leaf's
// zero-based index in traversal order) and appending the leaf's bytes to
// *buffers in that same order.
func deconstruct(data *message.Message, buffers *[][]byte) *message.Message {
	switch data.Kind() {
	case message.KindBinary:
		idx := len(*buffers)
		*buffers = append(*buffers, data.Binary())
		return message.NewObject().
			Set("_placeholder", message.NewBool(true)).
			Set("num", message.NewInt(int64(idx)))
	case message.KindArray:
		items := data.Array()
		out := make([]*message.Message, len(items))
		for i, item := range items {
			out[i] = deconstruct(item, buffers)
		}
		return message.NewArray(out...)
	case message.KindObject:
		out := message.NewObject()
		for _, k := range data.Keys() {
			out.Set(k, deconstruct(data.Get(k), buffers))
		}
		return out
	default:
		return data
	}
}

func encodeHeader(p *Packet, data *message.Message, numBuffers int) string {
	var b strings.Builder

	if p.Frame != FrameMessage {
		// OPEN/CLOSE/PING/PONG/UPGRADE/NOOP are bare Engine.IO frames: a
		// single frame digit, no Socket.IO sub-type header at all. PONG in
		// particular must serialize to exactly "3" (§4.B.1) for the server
		// to recognize the heartbeat reply.
		b.WriteByte('0' + byte(p.Frame))
		if data != nil && data.Kind() != message.KindNull {
			if encoded, err := message.EncodeJSON(data); err == nil {
				b.Write(encoded)
			}
		}
		return b.String()
	}

	b.WriteByte('4') // Engine.IO MESSAGE frame
	b.WriteByte('0' + byte(p.Type))

	if p.IsBinary() {
		b.WriteString(strconv.Itoa(numBuffers))
		b.WriteByte('-')
	}

	if nsp := p.Nsp; nsp != "" && nsp != DefaultNamespace {
		b.WriteString(nsp)
		b.WriteByte(',')
	}

	if p.AckID != nil {
		b.WriteString(strconv.FormatUint(uint64(*p.AckID), 10))
	}

	if data != nil && data.Kind() != message.KindNull {
		if encoded, err := message.EncodeJSON(data); err == nil {
			b.Write(encoded)
		}
	}

	return b.String()
}
