package vm

import (
	"errors"
	"math"
	"testing"
)

func TestBufferGrowRoundTrip(t *testing.T) {
	b := NewBuffer(0, BufferGrow, 1)
	if !WriteValue(b, uint32(0xDEADBEEF)) {
		t.Fatal("write to grow buffer was short")
	}
	b.Seek(0)
	got, ok := ReadValue[uint32](b)
	if !ok {
		t.Fatal("read failed")
	}
	if got != 0xDEADBEEF {
		t.Errorf("read %#x, want 0xdeadbeef", got)
	}
	if b.Size() < bufferMinGrow {
		t.Errorf("grown size = %d, want at least %d", b.Size(), bufferMinGrow)
	}
}

func TestBufferFloats(t *testing.T) {
	b := NewBuffer(16, BufferFixed, 1)
	WriteValue(b, float32(1.5))
	WriteValue(b, math.Pi)
	b.Seek(0)
	f32, _ := ReadValue[float32](b)
	f64, _ := ReadValue[float64](b)
	if f32 != 1.5 {
		t.Errorf("f32 = %v, want 1.5", f32)
	}
	if f64 != math.Pi {
		t.Errorf("f64 = %v, want pi", f64)
	}
}

func TestBufferFixedShortWrite(t *testing.T) {
	b := NewBuffer(6, BufferFixed, 1)
	if !WriteValue(b, uint32(1)) {
		t.Fatal("first write should fit")
	}
	if WriteValue(b, uint32(2)) {
		t.Error("second write should be short")
	}
	if b.Good() {
		t.Error("Good() should be false after a short write")
	}
	if b.Size() != 6 {
		t.Errorf("fixed buffer resized to %d", b.Size())
	}
	b.Seek(0)
	if !b.Good() {
		t.Error("Seek should reset Good()")
	}
}

func TestBufferWrap(t *testing.T) {
	b := NewBuffer(4, BufferWrap, 1)
	n := b.Write([]byte{1, 2, 3, 4, 5, 6})
	if n != 6 {
		t.Fatalf("wrote %d bytes, want 6", n)
	}
	want := []byte{5, 6, 3, 4}
	for i, c := range b.Bytes() {
		if c != want[i] {
			t.Errorf("byte %d = %d, want %d", i, c, want[i])
		}
	}
	if b.Tell() != 2 {
		t.Errorf("cursor = %d, want 2", b.Tell())
	}
}

func TestBufferAlignment(t *testing.T) {
	b := NewBuffer(16, BufferFixed, 4)
	WriteValue(b, uint8(7))
	WriteValue(b, uint32(9))
	if b.Tell() != 8 {
		t.Errorf("cursor = %d, want 8 after aligned write", b.Tell())
	}
	b.Seek(0)
	u8, _ := ReadValue[uint8](b)
	u32, _ := ReadValue[uint32](b)
	if u8 != 7 || u32 != 9 {
		t.Errorf("read %d, %d; want 7, 9", u8, u32)
	}
}

func TestBufferStrings(t *testing.T) {
	b := NewBuffer(0, BufferGrow, 1)
	if n := b.WriteString("hello"); n != 6 {
		t.Errorf("WriteString wrote %d bytes, want 6", n)
	}
	b.WriteString("world")
	b.Seek(0)
	for _, want := range []string{"hello", "world"} {
		s, ok := b.ReadString()
		if !ok || s != want {
			t.Errorf("ReadString = %q, %v; want %q", s, ok, want)
		}
	}
}

func TestBufferClear(t *testing.T) {
	fixed := NewBuffer(8, BufferFixed, 1)
	err := fixed.Clear()
	if !errors.Is(err, ErrMisc) {
		t.Errorf("Clear on fixed buffer = %v, want misc error", err)
	}

	grow := NewBuffer(8, BufferGrow, 1)
	WriteValue(grow, uint64(1))
	if err := grow.Clear(); err != nil {
		t.Fatalf("Clear on grow buffer: %v", err)
	}
	if grow.Size() != 0 || grow.Tell() != 0 {
		t.Errorf("after Clear size=%d tell=%d, want 0, 0", grow.Size(), grow.Tell())
	}
}

func TestBufferSeekClamps(t *testing.T) {
	b := NewBuffer(10, BufferFixed, 1)
	b.Seek(100)
	if b.Tell() != 10 {
		t.Errorf("Seek(100) cursor = %d, want 10", b.Tell())
	}
	if !b.EOF() {
		t.Error("EOF should be true at the end of a fixed buffer")
	}
	b.Seek(-3)
	if b.Tell() != 0 {
		t.Errorf("Seek(-3) cursor = %d, want 0", b.Tell())
	}
}

func TestBufferResize(t *testing.T) {
	b := NewBuffer(4, BufferFixed, 1)
	b.Write([]byte{1, 2, 3, 4})
	b.Resize(2)
	if b.Size() != 2 || b.Tell() != 2 {
		t.Errorf("after shrink size=%d tell=%d, want 2, 2", b.Size(), b.Tell())
	}
	b.Resize(6)
	want := []byte{1, 2, 0, 0, 0, 0}
	for i, c := range b.Bytes() {
		if c != want[i] {
			t.Errorf("byte %d = %d, want %d", i, c, want[i])
		}
	}
}

func TestBufferPeekKeepsCursor(t *testing.T) {
	b := NewBuffer(8, BufferFixed, 1)
	b.Write([]byte{10, 20, 30})
	p := make([]byte, 2)
	if n := b.Peek(1, p); n != 2 {
		t.Fatalf("Peek read %d bytes, want 2", n)
	}
	if p[0] != 20 || p[1] != 30 {
		t.Errorf("Peek = %v, want [20 30]", p)
	}
	if b.Tell() != 3 {
		t.Errorf("cursor moved to %d", b.Tell())
	}
}
