package parser

import (
	"github.com/havenshade/sockrose/message"
)

// Decoder is a small stateful object holding at most one "partial packet"
// — a BinaryEvent/BinaryAck packet whose header has arrived but whose
// attachments haven't all shown up yet (§4.B.3).
type Decoder struct {
	partial *Packet
	want    int
}

// NewDecoder returns a fresh decoder with no partial packet.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset discards any partial packet. Used when the engine tears down a
// connection and must not let attachments from one session leak into the
// next.
func (d *Decoder) Reset() {
	d.partial = nil
	d.want = 0
}

// DecodeText feeds a text (non-binary) frame to the decoder. It returns a
// ready packet, or nil if the packet declared attachments that haven't all
// arrived yet. A malformed header never returns an error: it yields a
// delivered packet with a null payload, which the engine treats as a
// no-op (§4.B.3, §7).
func (d *Decoder) DecodeText(frame []byte) *Packet {
	p, ok := parseHeader(frame)
	if !ok {
		return null()
	}

	if p.IsBinary() && p.Attachments > 0 {
		d.partial = p
		d.want = p.Attachments
		return nil
	}

	return p
}

// DecodeBinary feeds a binary attachment frame to the decoder. It returns
// a ready packet once every declared attachment has arrived, substituting
// each placeholder object for its matching buffer by Num index. An
// out-of-range index yields a null-payload packet rather than panicking.
func (d *Decoder) DecodeBinary(frame []byte) *Packet {
	if d.partial == nil {
		return nil
	}
	d.partial.Buffers = append(d.partial.Buffers, frame)
	if len(d.partial.Buffers) < d.want {
		return nil
	}

	p := d.partial
	d.partial = nil
	d.want = 0

	data, ok := reconstruct(p.Data, p.Buffers)
	if !ok {
		return null()
	}
	p.Data = data
	p.Attachments = 0
	return p
}

func reconstruct(data *message.Message, buffers [][]byte) (*message.Message, bool) {
	if data == nil {
		return data, true
	}
	switch data.Kind() {
	case message.KindObject:
		if data.Get("_placeholder").Bool() {
			num := int(data.Get("num").Int64())
			if num < 0 || num >= len(buffers) {
				return nil, false
			}
			return message.NewBinary(buffers[num]), true
		}
		out := message.NewObject()
		for _, k := range data.Keys() {
			v, ok := reconstruct(data.Get(k), buffers)
			if !ok {
				return nil, false
			}
			out.Set(k, v)
		}
		return out, true
	case message.KindArray:
		items := data.Array()
		out := make([]*message.Message, len(items))
		for i, item := range items {
			v, ok := reconstruct(item, buffers)
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return message.NewArray(out...), true
	default:
		return data, true
	}
}

// parseHeader parses the Engine.IO/Socket.IO text header grammar (§4.B.1):
//
//	<frame-digit><type-digit>[<n>-][<nsp>,][<ack-id>]<json?>
func parseHeader(frame []byte) (*Packet, bool) {
	if len(frame) == 0 {
		return nil, false
	}

	frameDigit := frame[0]
	if frameDigit < '0' || frameDigit > '6' {
		return nil, false
	}
	p := &Packet{Frame: FrameKind(frameDigit - '0')}
	i := 1

	if p.Frame != FrameMessage {
		if i < len(frame) {
			data, err := message.DecodeJSON(frame[i:])
			if err == nil {
				p.Data = data
			}
		}
		return p, true
	}

	if i >= len(frame) {
		return nil, false
	}
	typeDigit := frame[i]
	if typeDigit < '0' || typeDigit > '6' {
		return nil, false
	}
	p.Type = Type(typeDigit - '0')
	if !p.Type.valid() {
		return nil, false
	}
	i++

	if p.IsBinary() {
		j := i
		for j < len(frame) && frame[j] >= '0' && frame[j] <= '9' {
			j++
		}
		if j == i || j >= len(frame) || frame[j] != '-' {
			return nil, false
		}
		n := 0
		for _, c := range frame[i:j] {
			n = n*10 + int(c-'0')
		}
		p.Attachments = n
		i = j + 1
	}

	if i < len(frame) && frame[i] == '/' {
		j := i
		for j < len(frame) && frame[j] != ',' {
			j++
		}
		p.Nsp = string(frame[i:j])
		i = j
		if i < len(frame) && frame[i] == ',' {
			i++
		}
	} else {
		p.Nsp = DefaultNamespace
	}

	if i < len(frame) && frame[i] >= '0' && frame[i] <= '9' {
		j := i
		for j < len(frame) && frame[j] >= '0' && frame[j] <= '9' {
			j++
		}
		var id uint32
		for _, c := range frame[i:j] {
			id = id*10 + uint32(c-'0')
		}
		p.AckID = &id
		i = j
	}

	if i < len(frame) {
		data, err := message.DecodeJSON(frame[i:])
		if err != nil {
			return nil, false
		}
		p.Data = data
	}

	return p, true
}
