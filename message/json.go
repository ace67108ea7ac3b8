package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// EncodeJSON serializes m as JSON text. The codec is responsible for
// stripping binary leaves (via Walk) before calling this; EncodeJSON
// refuses a tree that still contains one, since a binary value has no JSON
// representation of its own.
//
// Doubles are written with strconv's shortest round-tripping
// representation, which for float64 always carries at least 15
// significant digits when that many are needed to round-trip — satisfying
// §4.B.4 without over- or under-shooting precision. Integers are written
// as exact decimal, never routed through float64, so 64-bit values outside
// the ±2^53 exact-float range survive the wire unchanged.
func EncodeJSON(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, m *Message) error {
	if m == nil {
		buf.WriteString("null")
		return nil
	}
	switch m.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if m.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		if m.unsigned {
			buf.WriteString(strconv.FormatUint(uint64(m.i), 10))
		} else {
			buf.WriteString(strconv.FormatInt(m.i, 10))
		}
	case KindDouble:
		buf.WriteString(strconv.FormatFloat(m.f, 'g', -1, 64))
	case KindString:
		writeJSONString(buf, m.s)
	case KindBinary:
		return fmt.Errorf("message: cannot encode binary leaf as JSON (attachment not deconstructed)")
	case KindArray:
		buf.WriteByte('[')
		for i, item := range m.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range m.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, f.key)
			buf.WriteByte(':')
			if err := writeJSON(buf, f.val); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("message: unknown kind %v", m.kind)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[(r>>4)&0xf])
				buf.WriteByte(hexDigits[r&0xf])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// DecodeJSON parses JSON text into a Message tree. Numeric tokens are kept
// as json.Number and re-parsed as int64 first, then uint64, falling back
// to float64, so that integers outside the 53-bit exact-float range
// round-trip losslessly (§4.B.4) while fractional values still decode as
// doubles. Object field order is the source text's insertion order, read
// token-by-token rather than via map[string]any (which would scramble it).
func DecodeJSON(data []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	m, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("message: trailing data after JSON value")
	}
	return m, nil
}

func decodeValue(dec *json.Decoder) (*Message, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (*Message, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case json.Number:
		return fromNumber(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []*Message{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return NewArray(items...), nil
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("message: non-string object key")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		default:
			return nil, fmt.Errorf("message: unexpected delimiter %v", t)
		}
	default:
		return Null(), nil
	}
}

func fromNumber(n json.Number) *Message {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewInt(i)
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return NewUint(u)
	}
	f, _ := strconv.ParseFloat(s, 64)
	return NewDouble(f)
}
