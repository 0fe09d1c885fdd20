package vm

import (
	"cmp"
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// StateStream: one protocol for both directions
// ---------------------------------------------------------------------------

// SectionCanary brackets snapshot sections.
const SectionCanary uint64 = 0xDEADBEEF4B1D1337

// StateStream walks a Buffer either writing or reading. Every serialize
// function takes a pointer to the value and a stream; when writing the value
// is stored, when reading it is overwritten. Sharing one function per type
// keeps the two directions from drifting apart.
type StateStream struct {
	buf   *Buffer
	write bool
	code  *CodeTable
}

// NewStateWriter returns a stream that appends to buf.
func NewStateWriter(buf *Buffer, code *CodeTable) *StateStream {
	return &StateStream{buf: buf, write: true, code: code}
}

// NewStateReader returns a stream that reads from buf.
func NewStateReader(buf *Buffer, code *CodeTable) *StateStream {
	return &StateStream{buf: buf, write: false, code: code}
}

// Writing reports the direction of the stream.
func (s *StateStream) Writing() bool { return s.write }

// Buffer returns the underlying buffer.
func (s *StateStream) Buffer() *Buffer { return s.buf }

// Remaining returns the unread byte count.
func (s *StateStream) Remaining() int { return s.buf.Size() - s.buf.Tell() }

// Serializable is implemented by types with a bespoke layout.
type Serializable interface {
	Serialize(s *StateStream) error
}

// Serialize dispatches to v's own method.
func Serialize[T Serializable](s *StateStream, v T) error {
	return v.Serialize(s)
}

// SerializePOD copies a fixed-size value byte-for-byte.
func SerializePOD[T POD](s *StateStream, v *T) error {
	if s.write {
		if !WriteValue(s.buf, *v) {
			return internalErrorf(ErrCorruptSnapshot, "short write at %d", s.buf.Tell())
		}
		return nil
	}
	x, ok := ReadValue[T](s.buf)
	if !ok {
		return internalErrorf(ErrCorruptSnapshot, "unexpected end of stream at %d", s.buf.Tell())
	}
	*v = x
	return nil
}

// SerializeBytes writes a length prefix followed by the bytes.
func SerializeBytes(s *StateStream, v *[]byte) error {
	n := uint64(len(*v))
	if err := SerializePOD(s, &n); err != nil {
		return err
	}
	if s.write {
		if s.buf.Write(*v) != len(*v) {
			return internalErrorf(ErrCorruptSnapshot, "short write at %d", s.buf.Tell())
		}
		return nil
	}
	if n > uint64(s.Remaining()) {
		return internalErrorf(ErrCorruptSnapshot, "length %d exceeds stream", n)
	}
	b := make([]byte, n)
	if s.buf.Read(b) != int(n) {
		return internalErrorf(ErrCorruptSnapshot, "unexpected end of stream at %d", s.buf.Tell())
	}
	*v = b
	return nil
}

// SerializeString writes a length-prefixed string.
func SerializeString(s *StateStream, v *string) error {
	b := []byte(*v)
	if err := SerializeBytes(s, &b); err != nil {
		return err
	}
	if !s.write {
		*v = string(b)
	}
	return nil
}

// SerializeCanary writes c, or reads a value and checks it equals c.
func SerializeCanary(s *StateStream, c uint64) error {
	got := c
	if err := SerializePOD(s, &got); err != nil {
		return err
	}
	if got != c {
		return internalErrorf(ErrCanaryMismatch, "expected %#x, found %#x at %d", c, got, s.buf.Tell()-8)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// SerializeSlice writes a count followed by each element. On read the slice
// is replaced by one of the stored length.
func SerializeSlice[T any](s *StateStream, v *[]T, elem func(*StateStream, *T) error) error {
	n := uint64(len(*v))
	if err := SerializePOD(s, &n); err != nil {
		return err
	}
	if !s.write {
		if n > uint64(s.Remaining()) {
			return internalErrorf(ErrCorruptSnapshot, "count %d exceeds stream", n)
		}
		*v = make([]T, n)
	}
	for i := range *v {
		if err := elem(s, &(*v)[i]); err != nil {
			return err
		}
	}
	return nil
}

// SerializePODSlice serializes a slice of fixed-size values.
func SerializePODSlice[T POD](s *StateStream, v *[]T) error {
	return SerializeSlice(s, v, SerializePOD[T])
}

// SerializeSliceMapped stores each element through a projection to a
// fixed-size representation and restores it through the matching injection.
// This is how in-memory references are swizzled to indices.
func SerializeSliceMapped[T any, S POD](s *StateStream, v *[]T, project func(T) (S, error), inject func(S) (T, error)) error {
	return SerializeSlice(s, v, func(s *StateStream, el *T) error {
		var rep S
		if s.write {
			r, err := project(*el)
			if err != nil {
				return err
			}
			rep = r
		}
		if err := SerializePOD(s, &rep); err != nil {
			return err
		}
		if !s.write {
			x, err := inject(rep)
			if err != nil {
				return err
			}
			*el = x
		}
		return nil
	})
}

// SerializeMap writes a count followed by key/value pairs in ascending key
// order, so equal maps produce equal bytes.
func SerializeMap[K interface {
	POD
	cmp.Ordered
}, V any](s *StateStream, m *map[K]V, val func(*StateStream, *V) error) error {
	n := uint64(len(*m))
	if err := SerializePOD(s, &n); err != nil {
		return err
	}
	if s.write {
		keys := make([]K, 0, len(*m))
		for k := range *m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if err := SerializePOD(s, &k); err != nil {
				return err
			}
			v := (*m)[k]
			if err := val(s, &v); err != nil {
				return err
			}
		}
		return nil
	}
	if n > uint64(s.Remaining()) {
		return internalErrorf(ErrCorruptSnapshot, "count %d exceeds stream", n)
	}
	*m = make(map[K]V, n)
	for range n {
		var k K
		var v V
		if err := SerializePOD(s, &k); err != nil {
			return err
		}
		if err := val(s, &v); err != nil {
			return err
		}
		(*m)[k] = v
	}
	return nil
}

// ---------------------------------------------------------------------------
// Code references
// ---------------------------------------------------------------------------

// serializeCode swizzles a bytecode reference to its code-table index.
func (s *StateStream) serializeCode(b **Bytecode) error {
	idx := uint32(noCodeIndex)
	if s.write && *b != nil {
		i, ok := s.code.IndexOf(*b)
		if !ok {
			return internalErrorf(ErrInvalidCodeIndex, "bytecode %q is not in the code table", (*b).Name)
		}
		idx = i
	}
	if err := SerializePOD(s, &idx); err != nil {
		return err
	}
	if s.write {
		return nil
	}
	if idx == noCodeIndex {
		*b = nil
		return nil
	}
	code, err := s.code.Get(idx)
	if err != nil {
		return fmt.Errorf("code reference: %w", err)
	}
	*b = code
	return nil
}
