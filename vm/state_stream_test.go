package vm

import (
	"bytes"
	"errors"
	"testing"
)

// roundTrip writes v into a fresh buffer and reads it back.
func roundTrip(t *testing.T, code *CodeTable, v *Variable) Variable {
	t.Helper()
	buf := NewBuffer(0, BufferGrow, 1)
	if err := v.Serialize(NewStateWriter(buf, code)); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf.Seek(0)
	var out Variable
	if err := out.Serialize(NewStateReader(buf, code)); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestStateStreamVariableRoundTrip(t *testing.T) {
	code := NewCodeTable()
	fn := &Bytecode{Name: "fn", Code: []byte{byte(OpNop)}}
	code.Add(fn)

	var arr Variable
	s := String("nested")
	arr.ArraySet(1, 1, &s)
	s.Cleanup()

	tests := []struct {
		name string
		v    Variable
	}{
		{"undefined", Undefined()},
		{"bool", Bool(true)},
		{"int", Int(-12)},
		{"int64", Int64(1 << 50)},
		{"real", Real(6.25)},
		{"string", String("hello")},
		{"array", arr},
		{"code", CodeRef(fn)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, code, &tt.v)
			defer got.Cleanup()
			if got.Type() != tt.v.Type() {
				t.Fatalf("type = %s, want %s", got.Type(), tt.v.Type())
			}
			if got.String() != tt.v.String() {
				t.Errorf("value = %s, want %s", got.String(), tt.v.String())
			}
		})
	}

	ref := roundTrip(t, code, &tests[7].v)
	if b, _ := ref.Code(); b != fn {
		t.Errorf("code reference restored to %p, want %p", b, fn)
	}
	arr.Cleanup()
}

func TestStateStreamPointerReadsNil(t *testing.T) {
	host := &struct{ n int }{7}
	p := Pointer(host)
	got := roundTrip(t, nil, &p)
	if got.Type() != TypePointer {
		t.Fatalf("type = %s", got.Type())
	}
	if v, _ := got.PointerValue(); v != nil {
		t.Errorf("pointer restored as %v, want nil", v)
	}
}

func TestStateStreamUnknownCode(t *testing.T) {
	fn := &Bytecode{Name: "stray"}
	v := CodeRef(fn)
	buf := NewBuffer(0, BufferGrow, 1)
	err := v.Serialize(NewStateWriter(buf, NewCodeTable()))
	if !errors.Is(err, ErrInvalidCodeIndex) {
		t.Errorf("writing unregistered code error = %v", err)
	}
}

func TestStateStreamCanaryMismatch(t *testing.T) {
	buf := NewBuffer(0, BufferGrow, 1)
	if err := SerializeCanary(NewStateWriter(buf, nil), SectionCanary); err != nil {
		t.Fatal(err)
	}
	buf.Bytes()[3] ^= 0xFF
	buf.Seek(0)
	err := SerializeCanary(NewStateReader(buf, nil), SectionCanary)
	if !errors.Is(err, ErrCanaryMismatch) {
		t.Errorf("corrupted canary error = %v", err)
	}
	if Classify(err) != ClassInternal {
		t.Errorf("canary mismatch classified as %v", Classify(err))
	}
}

func TestStateStreamTruncated(t *testing.T) {
	buf := NewBuffer(0, BufferGrow, 1)
	s := String("truncate me")
	if err := s.Serialize(NewStateWriter(buf, nil)); err != nil {
		t.Fatal(err)
	}
	s.Cleanup()
	fixed := NewBuffer(buf.Tell()-4, BufferFixed, 1)
	copy(fixed.Bytes(), buf.Bytes())

	var out Variable
	err := out.Serialize(NewStateReader(fixed, nil))
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("truncated read error = %v", err)
	}
}

func TestStateStreamMapIsDeterministic(t *testing.T) {
	encode := func(keys []uint32) []byte {
		m := make(map[uint32]int64)
		for _, k := range keys {
			m[k] = int64(k) * 10
		}
		buf := NewBuffer(0, BufferGrow, 1)
		if err := SerializeMap(NewStateWriter(buf, nil), &m, SerializePOD[int64]); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()[:buf.Tell()]
	}
	a := encode([]uint32{5, 1, 9, 3})
	b := encode([]uint32{9, 3, 1, 5})
	if !bytes.Equal(a, b) {
		t.Error("equal maps encoded differently")
	}
}

func TestStateStreamMapRoundTrip(t *testing.T) {
	m := map[uint32]int64{1: 10, 2: 20, 300: -1}
	buf := NewBuffer(0, BufferGrow, 1)
	if err := SerializeMap(NewStateWriter(buf, nil), &m, SerializePOD[int64]); err != nil {
		t.Fatal(err)
	}
	buf.Seek(0)
	var got map[uint32]int64
	if err := SerializeMap(NewStateReader(buf, nil), &got, SerializePOD[int64]); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(m) {
		t.Fatalf("restored %d entries, want %d", len(got), len(m))
	}
	for k, v := range m {
		if got[k] != v {
			t.Errorf("key %d = %d, want %d", k, got[k], v)
		}
	}
}
