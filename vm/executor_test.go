package vm

import (
	"errors"
	"strings"
	"testing"
)

func newTestExecutor(t *testing.T, cfg Config) (*Executor, *Program, *World) {
	t.Helper()
	prog := NewProgram()
	world := NewWorld(DefaultEpsilon)
	return NewExecutor(cfg, prog, world), prog, world
}

// compile builds a bytecode with emit and adds it to prog's code table.
func compile(prog *Program, name string, argc, retc int, emit func(b *BytecodeBuilder)) *Bytecode {
	b := NewBytecodeBuilder()
	emit(b)
	bc := b.Build(name, argc, retc, "")
	prog.Code.Add(bc)
	return bc
}

// inline builds an unregistered bytecode for ExecuteInline.
func inline(emit func(b *BytecodeBuilder)) *Bytecode {
	b := NewBytecodeBuilder()
	emit(b)
	return b.Build("inline", 0, 0, "")
}

func defineSum2(prog *Program) *Bytecode {
	return compile(prog, "sum2", 2, 1, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.EmitUint32(OpLda, 0)
		b.EmitUint32(OpLda, 1)
		b.Emit(OpAdd)
		b.EmitUint8(OpRet, 1)
	})
}

func realOf(t *testing.T, v Variable) float64 {
	t.Helper()
	f, err := v.CoerceReal()
	if err != nil {
		t.Fatalf("result is %s, not numeric", v.Type())
	}
	return f
}

func TestExecutorAddOpcode(t *testing.T) {
	e, _, _ := newTestExecutor(t, DefaultConfig())
	e.Push(Int(3))
	e.Push(Int(4))
	if err := e.ExecuteInline(inline(func(b *BytecodeBuilder) { b.Emit(OpAdd) })); err != nil {
		t.Fatalf("ExecuteInline: %v", err)
	}
	if e.SP() != 1 {
		t.Fatalf("stack depth = %d, want 1", e.SP())
	}
	got := e.Pop()
	if got.Type() != TypeInt || realOf(t, got) != 7 {
		t.Errorf("3 + 4 = %s %s, want int 7", got.Type(), got.String())
	}
}

func TestExecutorCallWithArguments(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	sum2 := defineSum2(prog)

	rets, err := e.Execute(sum2, Real(2), Real(5))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rets) != 1 || realOf(t, rets[0]) != 7 {
		t.Fatalf("sum2(2, 5) = %v", rets)
	}
	if e.SP() != 0 || e.Depth() != 0 {
		t.Errorf("executor not idle after call: sp %d depth %d", e.SP(), e.Depth())
	}
}

func TestExecutorNestedCall(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	sum2 := defineSum2(prog)
	outer := compile(prog, "outer", 0, 1, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.EmitFloat64(OpLdiF64, 40)
		b.EmitFloat64(OpLdiF64, 2)
		b.EmitCall(sum2.Index, 2)
		b.EmitUint8(OpRet, 1)
	})

	rets, err := e.Execute(outer)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rets) != 1 || realOf(t, rets[0]) != 42 {
		t.Errorf("outer() = %v, want [42]", rets)
	}
}

func TestExecutorLocalsAndBranches(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	maxFn := compile(prog, "max", 2, 1, func(b *BytecodeBuilder) {
		first := b.NewLabel()
		done := b.NewLabel()
		b.EmitUint32(OpAll, 1)
		b.EmitUint32(OpLda, 0)
		b.EmitUint32(OpLda, 1)
		b.Emit(OpGt)
		b.Emit(OpCond)
		b.EmitJump(OpBcond, first)
		b.EmitUint32(OpLda, 1)
		b.EmitUint32(OpStl, 0)
		b.EmitJump(OpJmp, done)
		b.Mark(first)
		b.EmitUint32(OpLda, 0)
		b.EmitUint32(OpStl, 0)
		b.Mark(done)
		b.EmitUint32(OpLdl, 0)
		b.EmitUint8(OpRet, 1)
	})

	tests := []struct {
		a, b int32
		want float64
	}{
		{3, 9, 9},
		{10, 2, 10},
		{-1, -1, -1},
	}
	for _, tt := range tests {
		rets, err := e.Execute(maxFn, Int(tt.a), Int(tt.b))
		if err != nil {
			t.Fatalf("max(%d, %d): %v", tt.a, tt.b, err)
		}
		if got := realOf(t, rets[0]); got != tt.want {
			t.Errorf("max(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestExecutorVariadicArgc(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	count := compile(prog, "count", -1, 1, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.Emit(OpArgc)
		b.EmitUint8(OpRet, 1)
	})
	rets, err := e.Execute(count, Int(1), String("two"), Undefined())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if realOf(t, rets[0]) != 3 {
		t.Errorf("argc = %s, want 3", rets[0].String())
	}
}

func TestExecutorArgumentMismatch(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	sum2 := defineSum2(prog)
	_, err := e.Execute(sum2, Real(1))
	if !errors.Is(err, ErrMisc) {
		t.Fatalf("error = %v, want argument count error", err)
	}
	if Classify(err) != ClassScript {
		t.Errorf("classified as %v", Classify(err))
	}
	if e.SP() != 0 {
		t.Errorf("stack not reset: sp %d", e.SP())
	}
}

func TestExecutorCallIndirect(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	seven := compile(prog, "seven", 0, 1, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.EmitInt32(OpLdiS32, 7)
		b.EmitUint8(OpRet, 1)
	})
	code := inline(func(b *BytecodeBuilder) {
		b.EmitUint32(OpLdiCode, seven.Index)
		b.EmitUint8(OpCalli, 0)
	})
	if err := e.ExecuteInline(code); err != nil {
		t.Fatalf("ExecuteInline: %v", err)
	}
	if got := e.Pop(); realOf(t, got) != 7 {
		t.Errorf("calli result = %s", got.String())
	}
}

func TestExecutorStackOverflow(t *testing.T) {
	e, prog, _ := newTestExecutor(t, Config{StackSize: 16, CallDepth: 64})
	rec := compile(prog, "rec", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.EmitCall(0, 0)
		b.EmitUint8(OpRet, 0)
	})
	if rec.Index != 0 {
		t.Fatalf("rec registered at %d", rec.Index)
	}

	_, err := e.Execute(rec)
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("error = %v, want stack overflow", err)
	}
	if Classify(err) != ClassResource {
		t.Errorf("classified as %v", Classify(err))
	}
	var re *ResourceError
	if !errors.As(err, &re) || re.Limit != 16 {
		t.Errorf("resource error = %#v", re)
	}
	if e.SP() != 0 || e.Depth() != 0 {
		t.Errorf("executor not reset: sp %d depth %d", e.SP(), e.Depth())
	}
}

func TestExecutorCallDepthExceeded(t *testing.T) {
	e, prog, _ := newTestExecutor(t, Config{StackSize: 1024, CallDepth: 4})
	rec := compile(prog, "rec", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.EmitCall(0, 0)
		b.EmitUint8(OpRet, 0)
	})
	_, err := e.Execute(rec)
	if !errors.Is(err, ErrCallDepthExceeded) {
		t.Fatalf("error = %v, want call depth exceeded", err)
	}
}

func TestExecutorExceptionTrace(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	b := NewBytecodeBuilder()
	b.Line(1)
	b.EmitUint32(OpAll, 0)
	b.Line(2)
	b.EmitFloat64(OpLdiF64, 1)
	b.EmitFloat64(OpLdiF64, 0)
	b.Emit(OpFdiv)
	b.EmitUint8(OpRet, 1)
	div := b.Build("div", 0, 1, "var x\nreturn 1 / 0")
	prog.Code.Add(div)
	outer := compile(prog, "outer", 0, 1, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.EmitCall(div.Index, 0)
		b.EmitUint8(OpRet, 1)
	})

	_, err := e.Execute(outer)
	if !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("error = %v, want divide by zero", err)
	}
	var trace *ExceptionTrace
	if !errors.As(err, &trace) {
		t.Fatalf("error %T is not an ExceptionTrace", err)
	}
	want := []string{
		"at div: line 2, pc 23   return 1 / 0",
		"by outer: pc 11",
	}
	if len(trace.Trace) != len(want) {
		t.Fatalf("trace:\n%s", trace.TraceString())
	}
	for i := range want {
		if trace.Trace[i] != want[i] {
			t.Errorf("trace line %d = %q, want %q", i, trace.Trace[i], want[i])
		}
	}
	if !strings.Contains(err.Error(), "divide by zero") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestExceptionTraceWithoutFrames(t *testing.T) {
	trace := &ExceptionTrace{Err: ErrMisc}
	if got := trace.TraceString(); got != "<no trace data>" {
		t.Errorf("TraceString() = %q", got)
	}
}

func TestExecutorContextMismatch(t *testing.T) {
	e, _, world := newTestExecutor(t, DefaultConfig())
	inst := world.CreateInstance(0)
	code := inline(func(b *BytecodeBuilder) {
		b.EmitInt64(OpLdiS64, inst.ID)
		b.Emit(OpPushSelf)
		b.Emit(OpLdiTrue)
		b.Emit(OpPopSelf)
	})
	err := e.ExecuteInline(code)
	if !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("error = %v, want context mismatch", err)
	}
	if Classify(err) != ClassInternal {
		t.Errorf("classified as %v", Classify(err))
	}
	if e.SP() != 0 || e.Self() != nil {
		t.Errorf("executor not reset: sp %d self %v", e.SP(), e.Self())
	}
}

func TestExecutorSelfAndOther(t *testing.T) {
	e, _, world := newTestExecutor(t, DefaultConfig())
	outer := world.CreateInstance(0)
	inner := world.CreateInstance(0)

	e.PushSelf(outer)
	code := inline(func(b *BytecodeBuilder) {
		b.EmitInt32(OpLdiS32, 5)
		b.EmitUint32(OpSts, 3)
		b.EmitInt64(OpLdiS64, inner.ID)
		b.Emit(OpPushSelf)
		b.Emit(OpLdiSelf)
		b.EmitUint32(OpSts, 9)
		b.EmitUint32(OpLdo, 3)
		b.EmitUint32(OpSts, 10)
		b.EmitUint32(OpLds, 4)
		b.EmitUint32(OpSto, 9)
	})
	if err := e.ExecuteInline(code); err != nil {
		t.Fatalf("ExecuteInline: %v", err)
	}
	if e.Self() != inner || e.Other() != outer {
		t.Fatalf("self/other = %v/%v", e.Self(), e.Other())
	}
	e.PopSelf()
	e.PopSelf()
	if e.Self() != nil {
		t.Errorf("self after popping = %v", e.Self())
	}

	if v, ok := inner.Lookup(9); !ok || realOf(t, *v) != float64(inner.ID) {
		t.Errorf("inner var 9 = %v", v)
	}
	if v, ok := inner.Lookup(10); !ok || realOf(t, *v) != 5 {
		t.Errorf("inner var 10 = %v, want other's var 3", v)
	}
	if v, ok := outer.Lookup(9); !ok || !v.IsUndefined() {
		t.Errorf("outer var 9 = %v, want undefined read from inner var 4", v)
	}
	if v, ok := outer.Lookup(3); !ok || realOf(t, *v) != 5 {
		t.Errorf("outer var 3 = %v", v)
	}
}

func TestExecutorGlobalArrays(t *testing.T) {
	e, _, world := newTestExecutor(t, DefaultConfig())
	code := inline(func(b *BytecodeBuilder) {
		b.EmitInt32(OpLdiS32, 0)
		b.EmitInt32(OpLdiS32, 2)
		b.EmitFloat64(OpLdiF64, 7.5)
		b.EmitUint32(OpStga, 1)
		b.EmitInt32(OpLdiS32, 0)
		b.EmitInt32(OpLdiS32, 2)
		b.EmitUint32(OpLdga, 1)
	})
	if err := e.ExecuteInline(code); err != nil {
		t.Fatalf("ExecuteInline: %v", err)
	}
	if got := e.Pop(); realOf(t, got) != 7.5 {
		t.Errorf("global[0][2] = %s", got.String())
	}
	arr, err := world.Global(1).Array()
	if err != nil {
		t.Fatalf("global 1: %v", err)
	}
	if arr.Length(0) != 3 {
		t.Errorf("row length = %d, want 3", arr.Length(0))
	}
}

func TestExecutorNativeCall(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	double := prog.Natives.Register("double", 1, func(e *Executor, out *Variable, args []Variable) error {
		f, err := argReal(args, 0)
		if err != nil {
			return err
		}
		setResult(out, Real(f*2))
		return nil
	})
	fail := prog.Natives.Register("fail", 0, func(e *Executor, out *Variable, args []Variable) error {
		return errors.New("host said no")
	})

	code := inline(func(b *BytecodeBuilder) {
		b.EmitInt32(OpLdiS32, 21)
		b.EmitNative(double, 1)
	})
	if err := e.ExecuteInline(code); err != nil {
		t.Fatalf("ExecuteInline: %v", err)
	}
	if got := e.Pop(); realOf(t, got) != 42 {
		t.Errorf("double(21) = %s", got.String())
	}

	err := e.ExecuteInline(inline(func(b *BytecodeBuilder) { b.EmitNative(fail, 0) }))
	if !errors.Is(err, ErrMisc) || !strings.Contains(err.Error(), "fail: host said no") {
		t.Errorf("native error = %v", err)
	}
}

func TestExecutorNotAndComparison(t *testing.T) {
	e, _, _ := newTestExecutor(t, DefaultConfig())
	code := inline(func(b *BytecodeBuilder) {
		b.EmitString("a")
		b.EmitString("b")
		b.Emit(OpLt)
		b.Emit(OpNot)
		b.EmitInt32(OpLdiS32, 2)
		b.EmitFloat64(OpLdiF64, 2)
		b.Emit(OpEq)
	})
	if err := e.ExecuteInline(code); err != nil {
		t.Fatalf("ExecuteInline: %v", err)
	}
	eq, notLess := e.Pop(), e.Pop()
	if b, _ := eq.CoerceBool(); !b {
		t.Error("2 == 2.0 should be true")
	}
	if b, _ := notLess.CoerceBool(); b {
		t.Error(`!("a" < "b") should be false`)
	}
}

func TestExecutorReset(t *testing.T) {
	e, _, world := newTestExecutor(t, DefaultConfig())
	e.Push(String("left over"))
	e.PushSelf(world.CreateInstance(0))
	e.Reset()
	if e.SP() != 0 || e.Self() != nil || e.Depth() != 0 {
		t.Errorf("Reset left sp %d self %v depth %d", e.SP(), e.Self(), e.Depth())
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (Config{StackSize: 4, CallDepth: 1}).Validate(); err == nil {
		t.Error("tiny stack should be rejected")
	}
	if err := (Config{StackSize: 64}).Validate(); err == nil {
		t.Error("zero call depth should be rejected")
	}
}
