package parser

// Codec bundles the encode and decode sides of the packet protocol the way
// the engine uses them: one Codec per Engine, reset whenever the transport
// closes so binary attachments never straddle reconnects.
type Codec struct {
	decoder *Decoder
}

// NewCodec returns a Codec with a fresh decoder.
func NewCodec() *Codec {
	return &Codec{decoder: NewDecoder()}
}

// Encode renders p as a text frame plus any binary frames, in wire order.
func (c *Codec) Encode(p *Packet) (text []byte, binaries [][]byte) {
	return Encode(p)
}

// DecodeText feeds an inbound text frame to the decoder.
func (c *Codec) DecodeText(frame []byte) *Packet {
	return c.decoder.DecodeText(frame)
}

// DecodeBinary feeds an inbound binary frame to the decoder.
func (c *Codec) DecodeBinary(frame []byte) *Packet {
	return c.decoder.DecodeBinary(frame)
}

// Reset discards any in-flight partial packet.
func (c *Codec) Reset() {
	c.decoder.Reset()
}
