package vm

import "math"

// ---------------------------------------------------------------------------
// Buffer natives
// ---------------------------------------------------------------------------

// BufferDataType selects the encoding used by buffer_read and buffer_write.
type BufferDataType int

const (
	BufferU8     BufferDataType = 1
	BufferS8     BufferDataType = 2
	BufferU16    BufferDataType = 3
	BufferS16    BufferDataType = 4
	BufferU32    BufferDataType = 5
	BufferS32    BufferDataType = 6
	BufferF32    BufferDataType = 8
	BufferF64    BufferDataType = 9
	BufferBool   BufferDataType = 10
	BufferString BufferDataType = 11
	BufferU64    BufferDataType = 12
	BufferText   BufferDataType = 13
)

// Seek bases for buffer_seek.
const (
	SeekStart    = 0
	SeekRelative = 1
	SeekEnd      = 2
)

func shortWrite(b *Buffer) error {
	return scriptErrorf(ErrOutOfBounds, "%s buffer of %d bytes is full at %d", b.Type(), b.Size(), b.Tell())
}

func shortRead(b *Buffer) error {
	return scriptErrorf(ErrOutOfBounds, "read past the end of a %s buffer of %d bytes", b.Type(), b.Size())
}

// writeTyped encodes v as dt at the cursor.
func writeTyped(b *Buffer, dt BufferDataType, v *Variable) error {
	if dt == BufferString || dt == BufferText {
		s, err := v.CoerceString()
		if err != nil {
			return err
		}
		n := b.WriteString(s)
		if dt == BufferText {
			// text is not terminated; step back over the NUL
			if n == len(s)+1 && b.pos > 0 {
				b.pos--
				n--
			}
		}
		if n < len(s) {
			return shortWrite(b)
		}
		return nil
	}
	var ok bool
	switch dt {
	case BufferF32, BufferF64:
		f, err := v.CoerceReal()
		if err != nil {
			return err
		}
		if dt == BufferF32 {
			ok = WriteValue(b, float32(f))
		} else {
			ok = WriteValue(b, f)
		}
	case BufferBool:
		t, err := v.CoerceBool()
		if err != nil {
			return err
		}
		ok = WriteValue(b, t)
	default:
		n, err := v.CoerceInt64()
		if err != nil {
			return err
		}
		switch dt {
		case BufferU8:
			ok = WriteValue(b, uint8(n))
		case BufferS8:
			ok = WriteValue(b, int8(n))
		case BufferU16:
			ok = WriteValue(b, uint16(n))
		case BufferS16:
			ok = WriteValue(b, int16(n))
		case BufferU32:
			ok = WriteValue(b, uint32(n))
		case BufferS32:
			ok = WriteValue(b, int32(n))
		case BufferU64:
			ok = WriteValue(b, uint64(n))
		default:
			return scriptErrorf(ErrMisc, "unknown buffer data type %d", dt)
		}
	}
	if !ok {
		return shortWrite(b)
	}
	return nil
}

func readAs[T POD](b *Buffer, conv func(T) Variable) (Variable, error) {
	v, ok := ReadValue[T](b)
	if !ok {
		return Undefined(), shortRead(b)
	}
	return conv(v), nil
}

// readTyped decodes a dt at the cursor.
func readTyped(b *Buffer, dt BufferDataType) (Variable, error) {
	switch dt {
	case BufferU8:
		return readAs(b, func(v uint8) Variable { return Real(float64(v)) })
	case BufferS8:
		return readAs(b, func(v int8) Variable { return Real(float64(v)) })
	case BufferU16:
		return readAs(b, func(v uint16) Variable { return Real(float64(v)) })
	case BufferS16:
		return readAs(b, func(v int16) Variable { return Real(float64(v)) })
	case BufferU32:
		return readAs(b, func(v uint32) Variable { return Real(float64(v)) })
	case BufferS32:
		return readAs(b, func(v int32) Variable { return Real(float64(v)) })
	case BufferU64:
		return readAs(b, func(v uint64) Variable {
			if v > math.MaxInt64 {
				return Real(float64(v))
			}
			return Int64(int64(v))
		})
	case BufferF32:
		return readAs(b, func(v float32) Variable { return Real(float64(v)) })
	case BufferF64:
		return readAs(b, Real)
	case BufferBool:
		return readAs(b, Bool)
	case BufferString, BufferText:
		s, ok := b.ReadString()
		if !ok && s == "" {
			return Undefined(), shortRead(b)
		}
		return String(s), nil
	}
	return Undefined(), scriptErrorf(ErrMisc, "unknown buffer data type %d", dt)
}

func bufferNative(fn func(e *Executor, b *Buffer, out *Variable, args []Variable) error) NativeFunc {
	return dsNative(func(r *Resources) *HandleTable[Buffer] { return r.Buffers }, fn)
}

func argDataType(args []Variable, i int) (BufferDataType, error) {
	n, err := argInt(args, i)
	return BufferDataType(n), err
}

func registerBufferNatives(t *NativeTable) {
	t.Register("buffer_create", 3, func(e *Executor, out *Variable, args []Variable) error {
		size, err := argInt(args, 0)
		if err != nil {
			return err
		}
		typ, err := argInt(args, 1)
		if err != nil {
			return err
		}
		align, err := argInt(args, 2)
		if err != nil {
			return err
		}
		if typ < int(BufferFixed) || typ > int(BufferFast) {
			return scriptErrorf(ErrMisc, "unknown buffer type %d", typ)
		}
		if size < 0 {
			return scriptErrorf(ErrOutOfBounds, "buffer size %d", size)
		}
		b := NewBuffer(size, BufferType(typ), align)
		setResult(out, handleResult(e.World().Resources().Buffers.New(b)))
		return nil
	})
	t.Register("buffer_delete", 1, func(e *Executor, out *Variable, args []Variable) error {
		h, err := argHandle(args, 0)
		if err != nil {
			return err
		}
		return e.World().Resources().DeleteBuffer(h)
	})
	t.Register("buffer_exists", 1, func(e *Executor, out *Variable, args []Variable) error {
		h, err := argHandle(args, 0)
		if err != nil {
			return err
		}
		setResult(out, Bool(e.World().Resources().Buffers.Exists(h)))
		return nil
	})
	t.Register("buffer_write", 3, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		dt, err := argDataType(args, 0)
		if err != nil {
			return err
		}
		return writeTyped(b, dt, &args[1])
	}))
	t.Register("buffer_read", 2, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		dt, err := argDataType(args, 0)
		if err != nil {
			return err
		}
		v, err := readTyped(b, dt)
		if err != nil {
			return err
		}
		setResult(out, v)
		return nil
	}))
	t.Register("buffer_peek", 3, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		offset, err := argInt(args, 0)
		if err != nil {
			return err
		}
		dt, err := argDataType(args, 1)
		if err != nil {
			return err
		}
		saved, good := b.pos, b.good
		b.Seek(offset)
		v, err := readTyped(b, dt)
		b.pos, b.good = saved, good
		if err != nil {
			return err
		}
		setResult(out, v)
		return nil
	}))
	t.Register("buffer_poke", 4, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		offset, err := argInt(args, 0)
		if err != nil {
			return err
		}
		dt, err := argDataType(args, 1)
		if err != nil {
			return err
		}
		saved, good := b.pos, b.good
		b.Seek(offset)
		err = writeTyped(b, dt, &args[2])
		b.pos, b.good = saved, good
		return err
	}))
	t.Register("buffer_seek", 3, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		base, err := argInt(args, 0)
		if err != nil {
			return err
		}
		offset, err := argInt(args, 1)
		if err != nil {
			return err
		}
		switch base {
		case SeekStart:
			b.Seek(offset)
		case SeekRelative:
			b.Seek(b.Tell() + offset)
		case SeekEnd:
			b.Seek(b.Size() + offset)
		default:
			return scriptErrorf(ErrMisc, "unknown seek base %d", base)
		}
		return nil
	}))
	t.Register("buffer_tell", 1, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		setResult(out, Int(int32(b.Tell())))
		return nil
	}))
	t.Register("buffer_get_size", 1, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		setResult(out, Int(int32(b.Size())))
		return nil
	}))
	t.Register("buffer_get_type", 1, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		setResult(out, Int(int32(b.Type())))
		return nil
	}))
	t.Register("buffer_get_alignment", 1, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		setResult(out, Int(int32(b.Alignment())))
		return nil
	}))
	t.Register("buffer_resize", 2, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		size, err := argInt(args, 0)
		if err != nil {
			return err
		}
		b.Resize(size)
		return nil
	}))
	t.Register("buffer_clear", 1, bufferNative(func(e *Executor, b *Buffer, out *Variable, args []Variable) error {
		return b.Clear()
	}))
}
