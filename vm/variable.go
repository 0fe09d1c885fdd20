package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// VariableType
// ---------------------------------------------------------------------------

// VariableType tags the payload held by a Variable.
type VariableType uint8

const (
	TypeUndefined VariableType = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeReal
	TypeString
	TypeArray
	TypePointer
	TypeCode
)

func (t VariableType) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeBool:
		return "boolean"
	case TypeInt:
		return "int"
	case TypeInt64:
		return "int64"
	case TypeReal:
		return "real"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypePointer:
		return "pointer"
	case TypeCode:
		return "code"
	default:
		return fmt.Sprintf("VariableType(%d)", uint8(t))
	}
}

// ---------------------------------------------------------------------------
// Variable
// ---------------------------------------------------------------------------

// Variable is a dynamically typed script value. String and array payloads
// are reference counted and copied on write, so a Variable must be released
// with Cleanup before its storage is reused. The zero value is undefined.
type Variable struct {
	typ  VariableType
	bits uint64 // bool, int, int64 and real payloads
	str  COWString
	arr  *Array
	ptr  any
	code *Bytecode
}

// Undefined returns the undefined value.
func Undefined() Variable { return Variable{} }

// Bool returns a boolean Variable.
func Bool(b bool) Variable {
	v := Variable{typ: TypeBool}
	if b {
		v.bits = 1
	}
	return v
}

// Int returns a 32-bit integer Variable.
func Int(i int32) Variable { return Variable{typ: TypeInt, bits: uint64(int64(i))} }

// Int64 returns a 64-bit integer Variable.
func Int64(i int64) Variable { return Variable{typ: TypeInt64, bits: uint64(i)} }

// Real returns a real Variable.
func Real(f float64) Variable { return Variable{typ: TypeReal, bits: math.Float64bits(f)} }

// String returns a string Variable owning a fresh copy-on-write store.
func String(s string) Variable { return Variable{typ: TypeString, str: NewCOWString(s)} }

// NewArrayVariable returns an empty array Variable.
func NewArrayVariable() Variable { return Variable{typ: TypeArray, arr: newArray()} }

// Pointer wraps an opaque host value.
func Pointer(p any) Variable { return Variable{typ: TypePointer, ptr: p} }

// CodeRef returns a reference to executable code.
func CodeRef(b *Bytecode) Variable { return Variable{typ: TypeCode, code: b} }

func fromCOW(s COWString) Variable { return Variable{typ: TypeString, str: s} }

func (v *Variable) Type() VariableType { return v.typ }
func (v *Variable) IsUndefined() bool  { return v.typ == TypeUndefined }
func (v *Variable) IsString() bool     { return v.typ == TypeString }
func (v *Variable) IsArray() bool      { return v.typ == TypeArray }
func (v *Variable) IsCode() bool       { return v.typ == TypeCode }

// IsNumeric reports whether v holds a bool, int, int64 or real.
func (v *Variable) IsNumeric() bool {
	switch v.typ {
	case TypeBool, TypeInt, TypeInt64, TypeReal:
		return true
	}
	return false
}

func (v *Variable) isIntegral() bool {
	return v.typ == TypeBool || v.typ == TypeInt || v.typ == TypeInt64
}

func (v *Variable) refcounted() bool {
	return v.typ == TypeString || v.typ == TypeArray
}

// Copy makes v share src's payload. v must not hold a live string or array.
func (v *Variable) Copy(src *Variable) {
	if v.refcounted() {
		panic(internalErrorf(ErrStackDiscipline, "copy over live %s", v.typ))
	}
	*v = Variable{typ: src.typ, bits: src.bits, ptr: src.ptr, code: src.code}
	switch src.typ {
	case TypeString:
		v.str = src.str.Copy()
	case TypeArray:
		src.arr.refs++
		v.arr = src.arr
	}
}

// Set releases v's payload and then copies src into it.
func (v *Variable) Set(src *Variable) {
	if v == src {
		return
	}
	tmp := Variable{}
	tmp.Copy(src)
	v.Cleanup()
	*v = tmp
}

// Cleanup releases v's payload and leaves it undefined.
func (v *Variable) Cleanup() {
	switch v.typ {
	case TypeString:
		v.str.Release()
	case TypeArray:
		v.arr.decref()
	}
	*v = Variable{}
}

// Move returns v's value and leaves v undefined without touching refcounts.
func (v *Variable) Move() Variable {
	out := *v
	*v = Variable{}
	return out
}

// Refcount returns the reference count of a string or array payload, or 0.
func (v *Variable) Refcount() int {
	switch v.typ {
	case TypeString:
		return v.str.Refcount()
	case TypeArray:
		return v.arr.refs
	}
	return 0
}

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

// StringView returns the characters of a string Variable.
func (v *Variable) StringView() (string, error) {
	if v.typ != TypeString {
		return "", typeCastError(v.typ, TypeString)
	}
	return v.str.View(), nil
}

// COW returns the string payload for in-place editing.
func (v *Variable) COW() (*COWString, error) {
	if v.typ != TypeString {
		return nil, typeCastError(v.typ, TypeString)
	}
	return &v.str, nil
}

// Array returns the array payload for reading.
func (v *Variable) Array() (*Array, error) {
	if v.typ != TypeArray {
		return nil, typeCastError(v.typ, TypeArray)
	}
	return v.arr, nil
}

// Code returns the referenced bytecode.
func (v *Variable) Code() (*Bytecode, error) {
	if v.typ != TypeCode {
		return nil, typeCastError(v.typ, TypeCode)
	}
	return v.code, nil
}

// PointerValue returns the wrapped host value.
func (v *Variable) PointerValue() (any, error) {
	if v.typ != TypePointer {
		return nil, typeCastError(v.typ, TypePointer)
	}
	return v.ptr, nil
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// ArrayGet copies the element at [row][col] into out.
func (v *Variable) ArrayGet(row, col int, out *Variable) error {
	a, err := v.Array()
	if err != nil {
		return err
	}
	el, err := a.Get(row, col)
	if err != nil {
		return err
	}
	out.Set(el)
	return nil
}

// ArraySet stores val at [row][col], growing the array as needed. An
// undefined Variable becomes an array first. A shared array is privatized
// before the write.
func (v *Variable) ArraySet(row, col int, val *Variable) error {
	switch v.typ {
	case TypeUndefined:
		*v = NewArrayVariable()
	case TypeArray:
		if v.arr.refs > 1 {
			priv := v.arr.clone()
			v.arr.decref()
			v.arr = priv
		}
	default:
		return typeCastError(v.typ, TypeArray)
	}
	el, err := v.arr.slot(row, col)
	if err != nil {
		return err
	}
	el.Set(val)
	return nil
}

// ---------------------------------------------------------------------------
// Coercion
// ---------------------------------------------------------------------------

// CoerceReal converts a numeric Variable to float64.
func (v *Variable) CoerceReal() (float64, error) {
	switch v.typ {
	case TypeBool, TypeInt:
		return float64(int32(v.bits)), nil
	case TypeInt64:
		return float64(int64(v.bits)), nil
	case TypeReal:
		return math.Float64frombits(v.bits), nil
	}
	return 0, typeCastError(v.typ, TypeReal)
}

// CoerceInt64 converts a numeric Variable to int64, truncating reals toward
// zero.
func (v *Variable) CoerceInt64() (int64, error) {
	switch v.typ {
	case TypeBool, TypeInt:
		return int64(int32(v.bits)), nil
	case TypeInt64:
		return int64(v.bits), nil
	case TypeReal:
		f := math.Float64frombits(v.bits)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, typeCastError(v.typ, TypeInt64)
		}
		return int64(math.Trunc(f)), nil
	}
	return 0, typeCastError(v.typ, TypeInt64)
}

// CoerceInt converts a numeric Variable to int32.
func (v *Variable) CoerceInt() (int32, error) {
	i, err := v.CoerceInt64()
	if err != nil {
		return 0, typeCastError(v.typ, TypeInt)
	}
	return int32(i), nil
}

// CoerceIndex converts a numeric Variable to a non-negative index.
func (v *Variable) CoerceIndex() (int, error) {
	i, err := v.CoerceInt64()
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, scriptErrorf(ErrOutOfBounds, "negative index %d", i)
	}
	return int(i), nil
}

// CoerceBool converts a numeric Variable to a truth value.
func (v *Variable) CoerceBool() (bool, error) {
	switch v.typ {
	case TypeBool:
		return v.bits != 0, nil
	case TypeInt:
		return int32(v.bits) > 0, nil
	case TypeInt64:
		return int64(v.bits) > 0, nil
	case TypeReal:
		return math.Float64frombits(v.bits) >= 0.5, nil
	case TypeUndefined:
		return false, &ScriptError{Kind: ErrMisc, Message: "condition on undefined variable"}
	case TypeString, TypeArray, TypePointer, TypeCode:
		return false, scriptErrorf(ErrUnknownBehavior, "condition on %s", v.typ)
	}
	return false, typeCastError(v.typ, TypeBool)
}

// CoerceString returns the characters of a string Variable. Other types do
// not convert implicitly.
func (v *Variable) CoerceString() (string, error) {
	return v.StringView()
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// String renders v for display.
func (v Variable) String() string {
	var sb strings.Builder
	v.format(&sb, 0)
	return sb.String()
}

func (v *Variable) format(sb *strings.Builder, depth int) {
	switch v.typ {
	case TypeUndefined:
		sb.WriteString("undefined")
	case TypeBool:
		if v.bits != 0 {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case TypeInt:
		sb.WriteString(strconv.FormatInt(int64(int32(v.bits)), 10))
	case TypeInt64:
		sb.WriteString(strconv.FormatInt(int64(v.bits), 10))
	case TypeReal:
		f := math.Float64frombits(v.bits)
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			sb.WriteString(strconv.FormatFloat(f, 'f', 0, 64))
		} else {
			sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	case TypeString:
		if depth > 0 {
			sb.WriteString(strconv.Quote(v.str.View()))
		} else {
			sb.WriteString(v.str.View())
		}
	case TypeArray:
		if depth > 8 {
			sb.WriteString("[...]")
			return
		}
		sb.WriteByte('[')
		for i, row := range v.arr.rows {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('[')
			for j := range row {
				if j > 0 {
					sb.WriteString(", ")
				}
				row[j].format(sb, depth+1)
			}
			sb.WriteByte(']')
		}
		sb.WriteByte(']')
	case TypePointer:
		fmt.Fprintf(sb, "<pointer %p>", v.ptr)
	case TypeCode:
		if v.code != nil {
			sb.WriteString("<code " + v.code.Name + ">")
		} else {
			sb.WriteString("<code>")
		}
	}
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

const (
	arrayCanaryBegin uint64 = 0xDEADBEEFAE1D5A5A
	arrayCanaryEnd   uint64 = 0xF4DBEED13A1DEAD7
)

// Serialize writes or reads the tag followed by the payload. Code
// references are written as code-table indices. Pointers do not survive a
// round trip and read back as nil.
func (v *Variable) Serialize(s *StateStream) error {
	if s.Writing() {
		return v.serializeValue(s)
	}
	// Decode into a temporary so a failed read leaves v undefined rather
	// than tagged with a missing payload.
	v.Cleanup()
	var r Variable
	if err := r.serializeValue(s); err != nil {
		return err
	}
	*v = r
	return nil
}

func (v *Variable) serializeValue(s *StateStream) error {
	if err := SerializePOD(s, &v.typ); err != nil {
		return err
	}
	switch v.typ {
	case TypeUndefined, TypeBool, TypeInt, TypeInt64, TypeReal:
		return SerializePOD(s, &v.bits)
	case TypePointer:
		var zero uint64
		if !s.Writing() {
			v.ptr = nil
		}
		return SerializePOD(s, &zero)
	case TypeString:
		str := v.str.View()
		if err := SerializeString(s, &str); err != nil {
			return err
		}
		if !s.Writing() {
			v.str = NewCOWString(str)
		}
		return nil
	case TypeCode:
		return s.serializeCode(&v.code)
	case TypeArray:
		return v.serializeArray(s)
	default:
		return internalErrorf(ErrCorruptSnapshot, "unknown variable tag %d", v.typ)
	}
}

func (v *Variable) serializeArray(s *StateStream) error {
	if err := SerializeCanary(s, arrayCanaryBegin); err != nil {
		return err
	}
	if !s.Writing() {
		v.arr = newArray()
	}
	err := SerializeSlice(s, &v.arr.rows, func(s *StateStream, row *[]Variable) error {
		return SerializeSlice(s, row, func(s *StateStream, el *Variable) error {
			return el.Serialize(s)
		})
	})
	if err != nil {
		return err
	}
	return SerializeCanary(s, arrayCanaryEnd)
}
