// Package message implements the tagged-variant value tree (component A)
// shared by the packet codec and the public socket API: a JSON-like tree
// with an extra binary-blob variant for Socket.IO attachments.
package message

// Kind identifies which variant a Message currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindDouble
	KindString
	KindBool
	KindBinary
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Message is an immutable, shared-ownership node of the value tree. The
// zero value is not meaningful; use Null() or one of the New* helpers.
//
// Accessors are total: asking for the wrong variant returns the type's zero
// value rather than panicking or erroring, since generic dispatch code
// (the codec, the event listener adapters) routinely probes a message's
// Kind before deciding how to read it, and some of it doesn't bother.
type Message struct {
	kind   Kind
	i      int64
	f      float64
	s      string
	b      bool
	bin    []byte
	arr    []*Message
	fields []field

	unsigned bool // i holds a uint64 above math.MaxInt64 (set by NewUint)
}

type field struct {
	key string
	val *Message
}

var nullMessage = &Message{kind: KindNull}

// Null returns the shared null message.
func Null() *Message { return nullMessage }

// NewInt wraps a signed 64-bit integer.
func NewInt(v int64) *Message { return &Message{kind: KindInt, i: v} }

// NewUint wraps an unsigned 64-bit integer. Values above math.MaxInt64 are
// preserved exactly by the codec (§4.B.4) but Int64() truncates them the
// way a plain int64 conversion would; callers that need the unsigned value
// back should use Uint64().
func NewUint(v uint64) *Message { return &Message{kind: KindInt, i: int64(v), unsigned: int64(v) < 0} }

// NewDouble wraps a float64.
func NewDouble(v float64) *Message { return &Message{kind: KindDouble, f: v} }

// NewString wraps a string.
func NewString(v string) *Message { return &Message{kind: KindString, s: v} }

// NewBool wraps a bool.
func NewBool(v bool) *Message { return &Message{kind: KindBool, b: v} }

// NewBinary wraps an owned byte buffer. The slice is retained, not copied;
// callers should not mutate it after handing it to NewBinary.
func NewBinary(v []byte) *Message { return &Message{kind: KindBinary, bin: v} }

// NewArray wraps an ordered sequence of messages.
func NewArray(items ...*Message) *Message {
	return &Message{kind: KindArray, arr: items}
}

// NewObject returns an empty object message. Use Set to build it up; Set
// returns the same message so calls can be chained.
func NewObject() *Message {
	return &Message{kind: KindObject}
}

// Set inserts or overwrites a field on an object message. Calling Set on a
// non-object message is a no-op, consistent with the "total accessors"
// rule elsewhere in this package.
func (m *Message) Set(key string, val *Message) *Message {
	if m.kind != KindObject {
		return m
	}
	for i := range m.fields {
		if m.fields[i].key == key {
			m.fields[i].val = val
			return m
		}
	}
	m.fields = append(m.fields, field{key, val})
	return m
}

// Kind reports the active variant.
func (m *Message) Kind() Kind {
	if m == nil {
		return KindNull
	}
	return m.kind
}

// Int64 returns the wrapped integer, or 0 if m is not a KindInt message.
func (m *Message) Int64() int64 {
	if m == nil || m.kind != KindInt {
		return 0
	}
	return m.i
}

// Uint64 returns the wrapped integer reinterpreted as unsigned.
func (m *Message) Uint64() uint64 {
	if m == nil || m.kind != KindInt {
		return 0
	}
	return uint64(m.i)
}

// Float64 returns the wrapped double, or 0 if m is not a KindDouble message.
func (m *Message) Float64() float64 {
	if m == nil || m.kind != KindDouble {
		return 0
	}
	return m.f
}

// String returns the wrapped string, or "" if m is not a KindString message.
func (m *Message) String() string {
	if m == nil || m.kind != KindString {
		return ""
	}
	return m.s
}

// Bool returns the wrapped bool, or false if m is not a KindBool message.
func (m *Message) Bool() bool {
	if m == nil || m.kind != KindBool {
		return false
	}
	return m.b
}

// Binary returns the wrapped buffer, or nil if m is not a KindBinary message.
func (m *Message) Binary() []byte {
	if m == nil || m.kind != KindBinary {
		return nil
	}
	return m.bin
}

// Array returns the wrapped sequence, or nil if m is not a KindArray message.
func (m *Message) Array() []*Message {
	if m == nil || m.kind != KindArray {
		return nil
	}
	return m.arr
}

// Get returns the field named key on an object message, or the null
// message if absent or m is not an object.
func (m *Message) Get(key string) *Message {
	if m == nil || m.kind != KindObject {
		return nullMessage
	}
	for _, f := range m.fields {
		if f.key == key {
			return f.val
		}
	}
	return nullMessage
}

// Keys returns the field names of an object message in insertion order.
func (m *Message) Keys() []string {
	if m == nil || m.kind != KindObject {
		return nil
	}
	keys := make([]string, len(m.fields))
	for i, f := range m.fields {
		keys[i] = f.key
	}
	return keys
}

// Has reports whether an object message has the given field.
func (m *Message) Has(key string) bool {
	if m == nil || m.kind != KindObject {
		return false
	}
	for _, f := range m.fields {
		if f.key == key {
			return true
		}
	}
	return false
}

// Walk visits every binary leaf of the tree in traversal order (the order
// the packet codec must emit attachment frames in). It does not mutate m.
func (m *Message) Walk(visit func(*Message)) {
	if m == nil {
		return
	}
	switch m.kind {
	case KindBinary:
		visit(m)
	case KindArray:
		for _, child := range m.arr {
			child.Walk(visit)
		}
	case KindObject:
		for _, f := range m.fields {
			f.val.Walk(visit)
		}
	}
}
