package vm

import (
	"errors"
	"math"
	"testing"
)

func TestVariableRefcounting(t *testing.T) {
	s := String("shared")
	var a, b Variable
	a.Copy(&s)
	b.Set(&a)
	if s.Refcount() != 3 {
		t.Errorf("refcount with three owners = %d", s.Refcount())
	}
	a.Cleanup()
	if s.Refcount() != 2 {
		t.Errorf("refcount after Cleanup = %d", s.Refcount())
	}
	if !a.IsUndefined() {
		t.Errorf("cleaned variable is %s", a.Type())
	}
	moved := b.Move()
	if s.Refcount() != 2 {
		t.Errorf("Move changed refcount to %d", s.Refcount())
	}
	if !b.IsUndefined() {
		t.Errorf("moved-from variable is %s", b.Type())
	}
	moved.Cleanup()
	s.Cleanup()
}

func TestVariableCopyOverLiveValuePanics(t *testing.T) {
	dst := String("live")
	src := Int(1)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrStackDiscipline) {
			t.Errorf("recovered %v, want stack discipline error", r)
		}
		dst.Cleanup()
	}()
	dst.Copy(&src)
}

func TestVariableCoercion(t *testing.T) {
	tests := []struct {
		name     string
		v        Variable
		real     float64
		int64    int64
		castFail bool
	}{
		{"bool", Bool(true), 1, 1, false},
		{"int", Int(-4), -4, -4, false},
		{"int64", Int64(1 << 40), 1 << 40, 1 << 40, false},
		{"real truncates", Real(2.7), 2.7, 2, false},
		{"negative real truncates", Real(-2.5), -2.5, -2, false},
		{"negative fraction truncates", Real(-0.9), -0.9, 0, false},
		{"string", String("3"), 0, 0, true},
		{"undefined", Undefined(), 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer tt.v.Cleanup()
			f, err := tt.v.CoerceReal()
			if tt.castFail {
				if !errors.Is(err, ErrTypeCast) {
					t.Errorf("CoerceReal error = %v, want type cast", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CoerceReal: %v", err)
			}
			if f != tt.real {
				t.Errorf("CoerceReal = %v, want %v", f, tt.real)
			}
			i, err := tt.v.CoerceInt64()
			if err != nil {
				t.Fatalf("CoerceInt64: %v", err)
			}
			if i != tt.int64 {
				t.Errorf("CoerceInt64 = %d, want %d", i, tt.int64)
			}
		})
	}
}

func TestVariableCoerceIntTowardZero(t *testing.T) {
	tests := []struct {
		v    Variable
		want int32
	}{
		{Real(-1.5), -1},
		{Real(1.5), 1},
		{Real(-3.99), -3},
	}
	for _, tt := range tests {
		got, err := tt.v.CoerceInt()
		if err != nil || got != tt.want {
			t.Errorf("CoerceInt(%s) = %d, %v; want %d", tt.v.String(), got, err, tt.want)
		}
	}
}

func TestVariableCoerceIntRejectsNaN(t *testing.T) {
	v := Real(math.NaN())
	if _, err := v.CoerceInt64(); !errors.Is(err, ErrTypeCast) {
		t.Errorf("CoerceInt64(NaN) error = %v", err)
	}
}

func TestVariableTruthiness(t *testing.T) {
	tests := []struct {
		v    Variable
		want bool
		kind error
	}{
		{Bool(true), true, nil},
		{Int(1), true, nil},
		{Int(0), false, nil},
		{Int(-1), false, nil},
		{Int64(-1), false, nil},
		{Int64(2), true, nil},
		{Real(0.5), true, nil},
		{Real(0.49), false, nil},
		{Undefined(), false, ErrMisc},
		{String("x"), false, ErrUnknownBehavior},
	}

	for _, tt := range tests {
		got, err := tt.v.CoerceBool()
		if tt.kind != nil {
			if !errors.Is(err, tt.kind) {
				t.Errorf("CoerceBool(%s) error = %v, want %v", tt.v.String(), err, tt.kind)
			}
		} else if err != nil || got != tt.want {
			t.Errorf("CoerceBool(%s) = %v, %v; want %v", tt.v.String(), got, err, tt.want)
		}
		tt.v.Cleanup()
	}
}

func TestVariableArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b *Variable) error
		a, b Variable
		typ  VariableType
		want float64
	}{
		{"int add", (*Variable).Add, Int(3), Int(4), TypeInt, 7},
		{"int64 wins over int", (*Variable).Add, Int(3), Int64(4), TypeInt64, 7},
		{"real wins", (*Variable).Add, Int64(3), Real(0.5), TypeReal, 3.5},
		{"sub", (*Variable).Sub, Int(3), Int(5), TypeInt, -2},
		{"mul", (*Variable).Mul, Real(1.5), Int(4), TypeReal, 6},
		{"div is real", (*Variable).Div, Int(7), Int(2), TypeReal, 3.5},
		{"int div", (*Variable).IntDiv, Int(7), Int(2), TypeInt, 3},
		{"int div truncates", (*Variable).IntDiv, Real(-7), Int(2), TypeReal, -3},
		{"mod follows dividend", (*Variable).Mod, Int(-7), Int(3), TypeInt, -1},
		{"real mod", (*Variable).Mod, Real(-7.5), Real(2), TypeReal, -1.5},
		{"shift", (*Variable).Shl, Int(1), Int(4), TypeInt, 16},
		{"and", (*Variable).And, Int(6), Int(3), TypeInt, 2},
		{"xor", (*Variable).Xor, Int(6), Int(3), TypeInt, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.a, tt.b
			if err := tt.op(&a, &b); err != nil {
				t.Fatalf("op: %v", err)
			}
			if a.Type() != tt.typ {
				t.Errorf("result type = %s, want %s", a.Type(), tt.typ)
			}
			got, _ := a.CoerceReal()
			if got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVariableDivideByZero(t *testing.T) {
	ops := map[string]func(a, b *Variable) error{
		"div":  (*Variable).Div,
		"idiv": (*Variable).IntDiv,
		"mod":  (*Variable).Mod,
	}
	for name, op := range ops {
		a, b := Int(1), Real(0)
		err := op(&a, &b)
		if !errors.Is(err, ErrDivideByZero) {
			t.Errorf("%s by zero error = %v", name, err)
		}
		if Classify(err) != ClassScript {
			t.Errorf("%s by zero classified as %v", name, Classify(err))
		}
	}
}

func TestVariableStringConcat(t *testing.T) {
	a, b := String("ab"), String("cd")
	if err := a.Add(&b); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got, _ := a.StringView(); got != "abcd" {
		t.Errorf("concat = %q", got)
	}
	if got, _ := b.StringView(); got != "cd" {
		t.Errorf("right operand changed to %q", got)
	}

	n := Int(1)
	if err := a.Add(&n); !errors.Is(err, ErrType) {
		t.Errorf("string + int error = %v, want type error", err)
	}
	a.Cleanup()
	b.Cleanup()
}

func TestVariableUnary(t *testing.T) {
	v := Int(5)
	if err := v.Negate(); err != nil {
		t.Fatal(err)
	}
	if i, _ := v.CoerceInt64(); i != -5 || v.Type() != TypeInt {
		t.Errorf("Negate = %s %d", v.Type(), i)
	}
	if err := v.Increment(1); err != nil {
		t.Fatal(err)
	}
	if i, _ := v.CoerceInt64(); i != -4 {
		t.Errorf("Increment = %d", i)
	}
	if err := v.Invert(); err != nil {
		t.Fatal(err)
	}
	if i, _ := v.CoerceInt64(); i != 3 {
		t.Errorf("Invert = %d, want 3", i)
	}

	s := String("x")
	if err := s.Negate(); !errors.Is(err, ErrType) {
		t.Errorf("negate string error = %v", err)
	}
	s.Cleanup()
}

func TestVariableEquality(t *testing.T) {
	arr := NewArrayVariable()
	var alias Variable
	alias.Copy(&arr)
	other := NewArrayVariable()
	defer func() {
		arr.Cleanup()
		alias.Cleanup()
		other.Cleanup()
	}()

	tests := []struct {
		name string
		a, b Variable
		want bool
	}{
		{"int and real", Int(3), Real(3), true},
		{"int and int64", Int(3), Int64(3), true},
		{"different numbers", Int(3), Real(3.5), false},
		{"undefined", Undefined(), Undefined(), true},
		{"undefined and zero", Undefined(), Int(0), false},
		{"strings", String("a"), String("a"), true},
		{"string and number", String("1"), Int(1), false},
		{"same array", arr, alias, true},
		{"different arrays", arr, other, false},
	}
	for _, tt := range tests {
		if got := Equal(&tt.a, &tt.b); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestVariableOrdering(t *testing.T) {
	tests := []struct {
		a, b Variable
		want int
	}{
		{Undefined(), Int(0), -1},
		{Int(0), Undefined(), 1},
		{Int(1), Real(1.5), -1},
		{Int64(9), Int(2), 1},
		{String("apple"), String("banana"), -1},
		{String("b"), String("b"), 0},
	}
	for _, tt := range tests {
		got, err := Order(&tt.a, &tt.b)
		if err != nil {
			t.Errorf("Order(%s, %s): %v", tt.a.String(), tt.b.String(), err)
			continue
		}
		if got != tt.want {
			t.Errorf("Order(%s, %s) = %d, want %d", tt.a.String(), tt.b.String(), got, tt.want)
		}
	}

	s, n := String("a"), Int(1)
	if _, err := Order(&s, &n); !errors.Is(err, ErrType) {
		t.Errorf("Order(string, int) error = %v", err)
	}
	s.Cleanup()
}

func TestVariableArrayCopyOnWrite(t *testing.T) {
	var a Variable
	five := Real(5)
	if err := a.ArraySet(0, 2, &five); err != nil {
		t.Fatalf("ArraySet: %v", err)
	}
	arr, _ := a.Array()
	if arr.Height() != 1 || arr.Length(0) != 3 {
		t.Fatalf("array is %dx%d, want 1x3", arr.Height(), arr.Length(0))
	}

	var b Variable
	b.Copy(&a)
	if a.Refcount() != 2 {
		t.Errorf("shared array refcount = %d", a.Refcount())
	}
	one := Real(1)
	if err := b.ArraySet(0, 0, &one); err != nil {
		t.Fatal(err)
	}
	if a.Refcount() != 1 || b.Refcount() != 1 {
		t.Errorf("refcounts after write = %d, %d", a.Refcount(), b.Refcount())
	}

	var out Variable
	if err := a.ArrayGet(0, 0, &out); err != nil {
		t.Fatal(err)
	}
	if f, _ := out.CoerceReal(); f != 0 {
		t.Errorf("original array element = %v, want 0", f)
	}
	if err := b.ArrayGet(0, 0, &out); err != nil {
		t.Fatal(err)
	}
	if f, _ := out.CoerceReal(); f != 1 {
		t.Errorf("copied array element = %v, want 1", f)
	}
	if err := a.ArrayGet(3, 0, &out); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("out of range read error = %v", err)
	}

	n := Int(2)
	if err := n.ArraySet(0, 0, &one); !errors.Is(err, ErrTypeCast) {
		t.Errorf("index into int error = %v", err)
	}
	a.Cleanup()
	b.Cleanup()
}

func TestVariableString(t *testing.T) {
	var arr Variable
	x := String("x")
	arr.ArraySet(0, 1, &x)
	x.Cleanup()
	defer arr.Cleanup()

	tests := []struct {
		v    Variable
		want string
	}{
		{Undefined(), "undefined"},
		{Bool(true), "true"},
		{Int(-3), "-3"},
		{Real(3), "3"},
		{Real(2.5), "2.5"},
		{arr, `[[0, "x"]]`},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
