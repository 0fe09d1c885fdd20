package vm

import (
	"math"
	"reflect"
	"strings"
)

// ---------------------------------------------------------------------------
// Numeric helpers
// ---------------------------------------------------------------------------

// numericResult picks the tag of a binary numeric result: real wins over
// int64, which wins over int.
func numericResult(a, b *Variable) VariableType {
	switch {
	case a.typ == TypeReal || b.typ == TypeReal:
		return TypeReal
	case a.typ == TypeInt64 || b.typ == TypeInt64:
		return TypeInt64
	default:
		return TypeInt
	}
}

func makeNumeric(t VariableType, i int64, f float64) Variable {
	switch t {
	case TypeReal:
		return Real(f)
	case TypeInt64:
		return Int64(i)
	default:
		return Int(int32(i))
	}
}

func operandError(op string, a, b *Variable) *ScriptError {
	return scriptErrorf(ErrType, "cannot %s %s and %s", op, a.typ, b.typ)
}

// numericOperands checks both operands are numeric and returns them as
// integers and reals.
func numericOperands(op string, a, b *Variable) (ai, bi int64, af, bf float64, err error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		err = operandError(op, a, b)
		return
	}
	af, _ = a.CoerceReal()
	bf, _ = b.CoerceReal()
	if a.isIntegral() {
		ai, _ = a.CoerceInt64()
	}
	if b.isIntegral() {
		bi, _ = b.CoerceInt64()
	}
	return
}

// replace swaps v's value for r, releasing the old payload.
func (v *Variable) replace(r Variable) {
	v.Cleanup()
	*v = r
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// Add adds o to v, or appends o to v when both are strings.
func (v *Variable) Add(o *Variable) error {
	if v.typ == TypeString && o.typ == TypeString {
		v.str.Append(o.str.View())
		return nil
	}
	ai, bi, af, bf, err := numericOperands("add", v, o)
	if err != nil {
		return err
	}
	v.replace(makeNumeric(numericResult(v, o), ai+bi, af+bf))
	return nil
}

// Sub subtracts o from v.
func (v *Variable) Sub(o *Variable) error {
	ai, bi, af, bf, err := numericOperands("subtract", v, o)
	if err != nil {
		return err
	}
	v.replace(makeNumeric(numericResult(v, o), ai-bi, af-bf))
	return nil
}

// Mul multiplies v by o.
func (v *Variable) Mul(o *Variable) error {
	ai, bi, af, bf, err := numericOperands("multiply", v, o)
	if err != nil {
		return err
	}
	v.replace(makeNumeric(numericResult(v, o), ai*bi, af*bf))
	return nil
}

// Div divides v by o. The result is always real.
func (v *Variable) Div(o *Variable) error {
	_, _, af, bf, err := numericOperands("divide", v, o)
	if err != nil {
		return err
	}
	if bf == 0 {
		return &ScriptError{Kind: ErrDivideByZero}
	}
	v.replace(Real(af / bf))
	return nil
}

// IntDiv divides v by o, truncating toward zero.
func (v *Variable) IntDiv(o *Variable) error {
	ai, bi, af, bf, err := numericOperands("divide", v, o)
	if err != nil {
		return err
	}
	if bf == 0 {
		return &ScriptError{Kind: ErrDivideByZero}
	}
	t := numericResult(v, o)
	if t == TypeReal {
		v.replace(Real(math.Trunc(af / bf)))
		return nil
	}
	v.replace(makeNumeric(t, ai/bi, 0))
	return nil
}

// Mod sets v to the remainder of v / o. The sign follows the dividend.
func (v *Variable) Mod(o *Variable) error {
	ai, bi, af, bf, err := numericOperands("modulo", v, o)
	if err != nil {
		return err
	}
	if bf == 0 {
		return &ScriptError{Kind: ErrDivideByZero}
	}
	t := numericResult(v, o)
	if t == TypeReal {
		v.replace(Real(math.Mod(af, bf)))
		return nil
	}
	v.replace(makeNumeric(t, ai%bi, 0))
	return nil
}

// bitwise applies f to the int64 values of v and o.
func (v *Variable) bitwise(op string, o *Variable, f func(a, b int64) int64) error {
	if !v.IsNumeric() || !o.IsNumeric() {
		return operandError(op, v, o)
	}
	a, err := v.CoerceInt64()
	if err != nil {
		return err
	}
	b, err := o.CoerceInt64()
	if err != nil {
		return err
	}
	r := f(a, b)
	v.replace(makeNumeric(numericResult(v, o), r, float64(r)))
	return nil
}

func (v *Variable) Shl(o *Variable) error {
	return v.bitwise("shift", o, func(a, b int64) int64 { return a << uint64(b&63) })
}

func (v *Variable) Shr(o *Variable) error {
	return v.bitwise("shift", o, func(a, b int64) int64 { return a >> uint64(b&63) })
}

func (v *Variable) And(o *Variable) error {
	return v.bitwise("and", o, func(a, b int64) int64 { return a & b })
}

func (v *Variable) Or(o *Variable) error {
	return v.bitwise("or", o, func(a, b int64) int64 { return a | b })
}

func (v *Variable) Xor(o *Variable) error {
	return v.bitwise("xor", o, func(a, b int64) int64 { return a ^ b })
}

// Invert replaces v with its bitwise complement.
func (v *Variable) Invert() error {
	i, err := v.CoerceInt64()
	if err != nil {
		return scriptErrorf(ErrType, "cannot invert %s", v.typ)
	}
	v.replace(makeNumeric(numericResult(v, v), ^i, float64(^i)))
	return nil
}

// Negate replaces v with -v.
func (v *Variable) Negate() error {
	if !v.IsNumeric() {
		return scriptErrorf(ErrType, "cannot negate %s", v.typ)
	}
	i, _ := v.CoerceInt64()
	f, _ := v.CoerceReal()
	v.replace(makeNumeric(numericResult(v, v), -i, -f))
	return nil
}

// Increment adds 1 to a numeric v.
func (v *Variable) Increment(delta int64) error {
	d := Int64(delta)
	if v.typ != TypeInt64 {
		d = Int(int32(delta))
	}
	return v.Add(&d)
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Equal reports whether a and b are equal. Undefined equals only undefined,
// numerics compare by value across tags, strings by content and arrays by
// identity.
func Equal(a, b *Variable) bool {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		if a.isIntegral() && b.isIntegral() {
			ai, _ := a.CoerceInt64()
			bi, _ := b.CoerceInt64()
			return ai == bi
		}
		af, _ := a.CoerceReal()
		bf, _ := b.CoerceReal()
		return af == bf
	case a.typ != b.typ:
		return false
	}
	switch a.typ {
	case TypeUndefined:
		return true
	case TypeString:
		return a.str.Equal(&b.str)
	case TypeArray:
		return a.arr == b.arr
	case TypeCode:
		return a.code == b.code
	case TypePointer:
		return samePointer(a.ptr, b.ptr)
	}
	return false
}

func samePointer(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// Order compares a and b for the ordering opcodes. Undefined sorts below
// every defined value, numerics compare by value and strings
// lexicographically. Any other pairing is a type error.
func Order(a, b *Variable) (int, error) {
	switch {
	case a.typ == TypeUndefined || b.typ == TypeUndefined:
		return rankCompare(a.typ == TypeUndefined, b.typ == TypeUndefined), nil
	case a.IsNumeric() && b.IsNumeric():
		if a.isIntegral() && b.isIntegral() {
			ai, _ := a.CoerceInt64()
			bi, _ := b.CoerceInt64()
			return compareOrdered(ai, bi), nil
		}
		af, _ := a.CoerceReal()
		bf, _ := b.CoerceReal()
		return compareOrdered(af, bf), nil
	case a.typ == TypeString && b.typ == TypeString:
		return strings.Compare(a.str.View(), b.str.View()), nil
	}
	return 0, scriptErrorf(ErrType, "cannot order %s and %s", a.typ, b.typ)
}

// rankCompare orders by undefined-ness: undefined first.
func rankCompare(aUndef, bUndef bool) int {
	switch {
	case aUndef == bUndef:
		return 0
	case aUndef:
		return -1
	default:
		return 1
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
