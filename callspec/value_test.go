package callspec

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		typ  ScalarType
		raw  uint64
		want uint64
	}{
		{Uint8, 0x1ff, 0xff},
		{Int8, 0xff, 0xffffffffffffffff},
		{Int8, 0x7f, 0x7f},
		{Int16, 0x18000, 0xffffffffffff8000},
		{Uint32, 0x1_0000_0001, 1},
		{Bool, 6, 0},
		{Bool, 3, 1},
		{Uint64, 0xdeadbeef, 0xdeadbeef},
	}
	for _, c := range cases {
		if got := Normalize(c.typ, c.raw); got != c.want {
			t.Errorf("Normalize(%s, %#x) = %#x, want %#x", c.typ, c.raw, got, c.want)
		}
	}
}

func TestIntRoundTrip(t *testing.T) {
	v := Int(Int16, -300)
	if v.Int64() != -300 {
		t.Errorf("Int16(-300) decoded as %d", v.Int64())
	}
	f := Float(Float32, 0.25)
	if f.Float64() != 0.25 {
		t.Errorf("Float32(0.25) decoded as %g", f.Float64())
	}
}

func TestEqualIgnoringHandles(t *testing.T) {
	a := []Value{Handle("pkg@1.0::IFoo", 1), Scalar(Uint8, 1)}
	b := []Value{Handle("pkg@1.0::IFoo", 2), Scalar(Uint8, 1)}
	if EqualValues(a, b, false) {
		t.Errorf("handles differ but values compared equal")
	}
	if !EqualValues(a, b, true) {
		t.Errorf("values should match when handles are ignored")
	}
	b[0].Type = "pkg@1.0::IBar"
	if EqualValues(a, b, true) {
		t.Errorf("different interface types must not match")
	}
}

func TestValueString(t *testing.T) {
	v := Value{Kind: KindStruct, Fields: []Value{Int(Int32, -1).Named("a"), Str("x").Named("b")}}
	if got, want := v.String(), `{a=-1, b="x"}`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
	call := FuncCall{Interface: "IBar", Func: FuncSpec{Name: "ping", Args: []Value{Scalar(Bool, 1)}}}
	if got, want := call.String(), "IBar::ping(true)"; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestCloneIsDeep(t *testing.T) {
	spec := sampleSpec()
	cp := spec.Clone()
	cp.Calls[1].Func.Args[0].Fields[0].Str = "changed"
	if spec.Calls[1].Func.Args[0].Fields[0].Str != "hello" {
		t.Errorf("Clone shares struct fields with the original")
	}
}
