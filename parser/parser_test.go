package parser

import (
	"bytes"
	"testing"

	"github.com/havenshade/sockrose/message"
)

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	ackID := uint32(7)
	p := &Packet{
		Frame: FrameMessage,
		Type:  Event,
		Nsp:   "/chat",
		AckID: &ackID,
		Data:  message.List{message.NewString("hi")}.ToArray("msg"),
	}

	text, binaries := Encode(p)
	if len(binaries) != 0 {
		t.Fatalf("expected no binary frames, got %d", len(binaries))
	}

	d := NewDecoder()
	got := d.DecodeText(text)
	if got == nil {
		t.Fatal("expected immediate decode")
	}
	if got.Type != Event || got.Namespace() != "/chat" || got.AckID == nil || *got.AckID != 7 {
		t.Fatalf("bad decode: %+v", got)
	}
	name, args := message.FromArray(got.Data)
	if name != "msg" || len(args) != 1 || args[0].String() != "hi" {
		t.Fatalf("bad payload: %v %v", name, args)
	}
}

func TestBinaryEventRoundTrip(t *testing.T) {
	payload := message.List{message.NewBinary([]byte{0, 1, 2, 3})}.ToArray("data")
	p := &Packet{Frame: FrameMessage, Type: Event, Nsp: "/", Data: payload}

	text, binaries := Encode(p)
	if len(binaries) != 1 || !bytes.Equal(binaries[0], []byte{0, 1, 2, 3}) {
		t.Fatalf("expected one binary frame {0,1,2,3}, got %v", binaries)
	}
	if text[0] != '4' || text[1] != byte('0'+BinaryEvent) {
		t.Fatalf("expected upgraded BINARY_EVENT header, got %q", text)
	}

	d := NewDecoder()
	partial := d.DecodeText(text)
	if partial != nil {
		t.Fatal("expected nil while awaiting attachment")
	}
	got := d.DecodeBinary(binaries[0])
	if got == nil {
		t.Fatal("expected packet once attachment arrives")
	}
	_, args := message.FromArray(got.Data)
	if len(args) != 1 || !bytes.Equal(args[0].Binary(), []byte{0, 1, 2, 3}) {
		t.Fatalf("bad reconstructed payload: %v", args)
	}
}

func TestServerBinaryEventLiteral(t *testing.T) {
	// 451-["data",{"_placeholder":true,"num":0}] followed by a binary frame.
	d := NewDecoder()
	if partial := d.DecodeText([]byte(`451-["data",{"_placeholder":true,"num":0}]`)); partial != nil {
		t.Fatal("expected nil while awaiting attachment")
	}
	got := d.DecodeBinary([]byte{0, 1, 2, 3})
	if got == nil {
		t.Fatal("expected delivered packet")
	}
	_, args := message.FromArray(got.Data)
	if len(args) != 1 || !bytes.Equal(args[0].Binary(), []byte{0, 1, 2, 3}) {
		t.Fatalf("bad reconstructed payload: %v", args)
	}
}

func TestPacketRoundTripPreservesFields(t *testing.T) {
	ackID := uint32(42)
	p := &Packet{
		Frame: FrameMessage,
		Type:  Ack,
		Nsp:   "/admin",
		AckID: &ackID,
		Data:  message.NewArray(message.NewString("ok")),
	}
	text, _ := Encode(p)
	d := NewDecoder()
	got := d.DecodeText(text)
	if got.Frame != p.Frame || got.Type != p.Type || got.Namespace() != p.Nsp || *got.AckID != *p.AckID {
		t.Fatalf("packet round-trip mismatch: %+v vs %+v", got, p)
	}
}

func TestMalformedHeaderYieldsNullPacket(t *testing.T) {
	d := NewDecoder()
	got := d.DecodeText([]byte("not a valid header"))
	if got == nil || got.Data.Kind() != message.KindNull {
		t.Fatalf("expected null-payload packet, got %+v", got)
	}
}

func TestOutOfRangePlaceholderYieldsNullPacket(t *testing.T) {
	d := NewDecoder()
	d.DecodeText([]byte(`451-["data",{"_placeholder":true,"num":5}]`))
	got := d.DecodeBinary([]byte{9})
	if got == nil || got.Data.Kind() != message.KindNull {
		t.Fatalf("expected null-payload packet for out-of-range index, got %+v", got)
	}
}

func TestDefaultNamespaceOmittedOnWire(t *testing.T) {
	p := &Packet{Frame: FrameMessage, Type: Event, Nsp: "/", Data: message.List{}.ToArray("ping")}
	text, _ := Encode(p)
	if bytes.Contains(text, []byte("/,")) {
		t.Fatalf("default namespace should be omitted, got %q", text)
	}
}

func TestNonDefaultNamespaceIncluded(t *testing.T) {
	p := &Packet{Frame: FrameMessage, Type: Event, Nsp: "/chat", Data: message.List{}.ToArray("ping")}
	text, _ := Encode(p)
	if !bytes.HasPrefix(text, []byte("42/chat,")) {
		t.Fatalf("expected nsp prefix, got %q", text)
	}
}
