package message

import "testing"

func TestRoundTripScalars(t *testing.T) {
	cases := []*Message{
		NewInt(42),
		NewInt(-9007199254740993), // below -2^53, must not lose precision
		NewUint(18446744073709551615),
		NewDouble(3.14159265358979),
		NewString("hello \"world\"\n\t\x01"),
		NewBool(true),
		Null(),
	}
	for _, m := range cases {
		data, err := EncodeJSON(m)
		if err != nil {
			t.Fatalf("encode %v: %v", m, err)
		}
		got, err := DecodeJSON(data)
		if err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if got.Kind() != m.Kind() {
			t.Fatalf("kind mismatch for %q: want %v got %v", data, m.Kind(), got.Kind())
		}
	}
}

func TestLargeIntegerPrecision(t *testing.T) {
	m := NewUint(18446744073709551615)
	data, err := EncodeJSON(m)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "18446744073709551615" {
		t.Fatalf("got %s, want exact decimal", data)
	}
	got, err := DecodeJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Uint64() != 18446744073709551615 {
		t.Fatalf("got %d", got.Uint64())
	}
}

func TestObjectPreservesInsertionOrder(t *testing.T) {
	obj := NewObject().Set("z", NewInt(1)).Set("a", NewInt(2)).Set("m", NewInt(3))
	data, err := EncodeJSON(obj)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"z", "a", "m"}
	keys := got.Keys()
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestArrayRoundTrip(t *testing.T) {
	arr := NewArray(NewString("ping"), NewInt(1), NewBool(false))
	data, err := EncodeJSON(arr)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	items := got.Array()
	if len(items) != 3 || items[0].String() != "ping" || items[1].Int64() != 1 || items[2].Bool() != false {
		t.Fatalf("bad round-trip: %v", items)
	}
}

func TestWalkVisitsBinaryInOrder(t *testing.T) {
	tree := NewArray(
		NewString("data"),
		NewObject().Set("a", NewBinary([]byte{1})),
		NewArray(NewBinary([]byte{2}), NewString("x"), NewBinary([]byte{3})),
	)
	var order [][]byte
	tree.Walk(func(m *Message) {
		order = append(order, m.Binary())
	})
	if len(order) != 3 || order[0][0] != 1 || order[1][0] != 2 || order[2][0] != 3 {
		t.Fatalf("bad walk order: %v", order)
	}
}

func TestMessageListToArray(t *testing.T) {
	l := List{NewString("world")}
	arr := l.ToArray("hello")
	name, args := FromArray(arr)
	if name != "hello" || len(args) != 1 || args[0].String() != "world" {
		t.Fatalf("got name=%q args=%v", name, args)
	}
}

func TestTotalAccessorsOnWrongKind(t *testing.T) {
	m := NewString("x")
	if m.Int64() != 0 || m.Bool() != false || m.Array() != nil || m.Binary() != nil {
		t.Fatalf("expected zero fallbacks for wrong-kind accessors")
	}
	if Null().Get("x").Kind() != KindNull {
		t.Fatalf("Get on non-object should return null")
	}
}
