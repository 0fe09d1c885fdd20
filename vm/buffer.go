package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Buffer types
// ---------------------------------------------------------------------------

// BufferType selects what a Buffer does when the cursor reaches the end.
type BufferType uint8

const (
	BufferFixed BufferType = iota // short read/write at capacity
	BufferGrow                    // doubles, minimum 64 bytes
	BufferWrap                    // cursor wraps to 0
	BufferFast                    // like fixed, byte-sized access only
)

func (t BufferType) String() string {
	switch t {
	case BufferFixed:
		return "fixed"
	case BufferGrow:
		return "grow"
	case BufferWrap:
		return "wrap"
	case BufferFast:
		return "fast"
	default:
		return fmt.Sprintf("BufferType(%d)", uint8(t))
	}
}

const bufferMinGrow = 64

// ErrBufferClear is returned by Clear on buffers that are not growable.
var ErrBufferClear = &ScriptError{Kind: ErrMisc, Message: "can only clear 'grow' buffers"}

// ---------------------------------------------------------------------------
// Buffer
// ---------------------------------------------------------------------------

// Buffer is byte-addressable storage with a cursor, an alignment and a growth
// policy.
type Buffer struct {
	data    []byte
	pos     int
	align   int
	typ     BufferType
	good    bool
	scratch [8]byte
}

// NewBuffer creates a buffer of the given size. Alignment below 1 is treated
// as 1.
func NewBuffer(size int, typ BufferType, align int) *Buffer {
	if align < 1 {
		align = 1
	}
	if size < 0 {
		size = 0
	}
	return &Buffer{
		data:  make([]byte, size),
		align: align,
		typ:   typ,
		good:  true,
	}
}

func (b *Buffer) Type() BufferType { return b.typ }
func (b *Buffer) Alignment() int   { return b.align }
func (b *Buffer) Size() int        { return len(b.data) }
func (b *Buffer) Tell() int        { return b.pos }

// Good reports whether every operation since the last Seek completed in full.
func (b *Buffer) Good() bool { return b.good }

// EOF reports whether the cursor is at the end. Growable and wrapping buffers
// never end.
func (b *Buffer) EOF() bool {
	if b.typ == BufferGrow || b.typ == BufferWrap {
		return false
	}
	return b.pos >= len(b.data)
}

// Seek moves the cursor. Out of range positions clamp to the size.
func (b *Buffer) Seek(pos int) {
	b.good = true
	if pos < 0 {
		pos = 0
	}
	if pos > len(b.data) {
		pos = len(b.data)
	}
	b.pos = pos
}

// Resize changes the capacity, truncating or zero-extending.
func (b *Buffer) Resize(size int) {
	if size < 0 {
		size = 0
	}
	if size <= cap(b.data) {
		old := len(b.data)
		b.data = b.data[:size]
		clear(b.data[min(old, size):])
	} else {
		grown := make([]byte, size)
		copy(grown, b.data)
		b.data = grown
	}
	if b.pos > size {
		b.pos = size
	}
}

// Clear empties a growable buffer.
func (b *Buffer) Clear() error {
	if b.typ != BufferGrow {
		return ErrBufferClear
	}
	b.data = b.data[:0]
	b.pos = 0
	b.good = true
	return nil
}

// Address returns the backing storage for native interop. An empty buffer is
// first given 64 bytes so the slice is never nil.
func (b *Buffer) Address() []byte {
	if len(b.data) == 0 {
		b.Resize(bufferMinGrow)
	}
	return b.data
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte { return b.data }

// bound makes the cursor valid for the next byte, applying the growth
// policy. It returns false when the buffer cannot accept more bytes.
func (b *Buffer) bound() bool {
	if b.pos < len(b.data) {
		return true
	}
	switch b.typ {
	case BufferGrow:
		b.Resize(max(bufferMinGrow, b.pos*2, len(b.data)*2))
		return true
	case BufferWrap:
		if len(b.data) == 0 {
			b.good = false
			return false
		}
		b.pos = 0
		return true
	default:
		b.good = false
		return false
	}
}

// alignCursor advances the cursor through padding.
func (b *Buffer) alignCursor() bool {
	for b.pos%b.align != 0 {
		if !b.bound() {
			return false
		}
		b.pos++
	}
	return true
}

// WriteByte writes one byte at the cursor.
func (b *Buffer) WriteByte(c byte) error {
	if !b.bound() {
		return fmt.Errorf("buffer full at %d", b.pos)
	}
	b.data[b.pos] = c
	b.pos++
	return nil
}

// ReadByte reads one byte at the cursor.
func (b *Buffer) ReadByte() (byte, error) {
	if !b.bound() {
		return 0, fmt.Errorf("buffer exhausted at %d", b.pos)
	}
	c := b.data[b.pos]
	b.pos++
	return c, nil
}

// Write copies p into the buffer after alignment and returns how many bytes
// were written. FIXED and FAST buffers stop short at capacity.
func (b *Buffer) Write(p []byte) int {
	if !b.alignCursor() {
		return 0
	}
	n := 0
	for n < len(p) {
		if !b.bound() {
			break
		}
		c := copy(b.data[b.pos:], p[n:])
		if b.typ == BufferWrap {
			c = min(c, len(b.data)-b.pos)
		}
		b.pos += c
		n += c
	}
	return n
}

// Read fills p from the buffer after alignment and returns how many bytes
// were read.
func (b *Buffer) Read(p []byte) int {
	if !b.alignCursor() {
		return 0
	}
	n := 0
	for n < len(p) {
		if b.typ == BufferGrow && b.pos >= len(b.data) {
			b.good = false
			break
		}
		if !b.bound() {
			break
		}
		c := copy(p[n:], b.data[b.pos:])
		b.pos += c
		n += c
	}
	return n
}

// Peek reads len(p) bytes at offset without moving the cursor.
func (b *Buffer) Peek(offset int, p []byte) int {
	saved, good := b.pos, b.good
	b.Seek(offset)
	n := b.Read(p)
	b.pos, b.good = saved, good
	return n
}

// WriteString writes s followed by a NUL terminator.
func (b *Buffer) WriteString(s string) int {
	n := b.Write([]byte(s))
	if n == len(s) {
		if b.WriteByte(0) == nil {
			n++
		}
	}
	return n
}

// ReadString reads a NUL-terminated string.
func (b *Buffer) ReadString() (string, bool) {
	if !b.alignCursor() {
		return "", false
	}
	start := b.pos
	for b.pos < len(b.data) {
		if b.data[b.pos] == 0 {
			s := string(b.data[start:b.pos])
			b.pos++
			return s, true
		}
		b.pos++
	}
	b.good = false
	return string(b.data[start:]), false
}

// ---------------------------------------------------------------------------
// Typed access
// ---------------------------------------------------------------------------

// POD is the set of fixed-size types copied byte-for-byte in host order.
type POD interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

// podSize returns the encoded width of T.
func podSize[T POD]() int {
	var v T
	switch any(v).(type) {
	case bool, int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	case int64, uint64, float64:
		return 8
	}
	return binary.Size(v)
}

func encodePOD[T POD](dst []byte, v T) {
	o := binary.NativeEndian
	switch x := any(v).(type) {
	case bool:
		dst[0] = 0
		if x {
			dst[0] = 1
		}
	case int8:
		dst[0] = byte(x)
	case uint8:
		dst[0] = x
	case int16:
		o.PutUint16(dst, uint16(x))
	case uint16:
		o.PutUint16(dst, x)
	case int32:
		o.PutUint32(dst, uint32(x))
	case uint32:
		o.PutUint32(dst, x)
	case float32:
		o.PutUint32(dst, math.Float32bits(x))
	case int64:
		o.PutUint64(dst, uint64(x))
	case uint64:
		o.PutUint64(dst, x)
	case float64:
		o.PutUint64(dst, math.Float64bits(x))
	default:
		binary.Encode(dst, o, v)
	}
}

func decodePOD[T POD](src []byte) T {
	o := binary.NativeEndian
	var v T
	switch p := any(&v).(type) {
	case *bool:
		*p = src[0] != 0
	case *int8:
		*p = int8(src[0])
	case *uint8:
		*p = src[0]
	case *int16:
		*p = int16(o.Uint16(src))
	case *uint16:
		*p = o.Uint16(src)
	case *int32:
		*p = int32(o.Uint32(src))
	case *uint32:
		*p = o.Uint32(src)
	case *float32:
		*p = math.Float32frombits(o.Uint32(src))
	case *int64:
		*p = int64(o.Uint64(src))
	case *uint64:
		*p = o.Uint64(src)
	case *float64:
		*p = math.Float64frombits(o.Uint64(src))
	default:
		binary.Decode(src, o, &v)
	}
	return v
}

// WriteValue writes v at the cursor in host byte order. It reports whether
// the whole value fit.
func WriteValue[T POD](b *Buffer, v T) bool {
	n := podSize[T]()
	encodePOD(b.scratch[:n], v)
	return b.Write(b.scratch[:n]) == n
}

// ReadValue reads a T at the cursor. ok is false on a short read.
func ReadValue[T POD](b *Buffer) (v T, ok bool) {
	n := podSize[T]()
	if b.Read(b.scratch[:n]) != n {
		return v, false
	}
	return decodePOD[T](b.scratch[:n]), true
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// Serialize writes or reads the buffer's type, alignment, cursor and
// contents.
func (b *Buffer) Serialize(s *StateStream) error {
	typ := uint8(b.typ)
	align := uint32(b.align)
	pos := uint64(b.pos)
	if err := SerializePOD(s, &typ); err != nil {
		return err
	}
	if err := SerializePOD(s, &align); err != nil {
		return err
	}
	if err := SerializePOD(s, &pos); err != nil {
		return err
	}
	if err := SerializeBytes(s, &b.data); err != nil {
		return err
	}
	if !s.Writing() {
		b.typ = BufferType(typ)
		b.align = max(1, int(align))
		b.pos = min(int(pos), len(b.data))
		b.good = true
	}
	return nil
}
