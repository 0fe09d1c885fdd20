package vm

import (
	"encoding/binary"
	"errors"
	"math"
	"runtime"
)

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Execute runs b with args using the full call protocol and returns the
// values it returned. Errors raised anywhere below are returned as an
// *ExceptionTrace; the executor is reset when the outermost Execute fails.
func (e *Executor) Execute(b *Bytecode, args ...Variable) (rets []Variable, err error) {
	outer := len(e.ra) == 0
	base := e.sp
	defer func() {
		if r := recover(); r != nil {
			if !outer {
				panic(r)
			}
			err = e.fail(r)
		}
	}()

	for _, a := range args {
		e.Push(a)
	}
	e.call(b, len(args))

	n := e.sp - base
	rets = make([]Variable, n)
	for i := n - 1; i >= 0; i-- {
		rets[i] = e.Pop()
	}
	return rets, nil
}

// ExecuteInline runs b directly on the current stack without pushing a
// frame. It stops at the end of the code or at eof.
func (e *Executor) ExecuteInline(b *Bytecode) (err error) {
	outer := len(e.ra) == 0
	defer func() {
		if r := recover(); r != nil {
			if !outer {
				panic(r)
			}
			err = e.fail(r)
		}
	}()
	e.ra = append(e.ra, e.pc)
	e.pc = ProgramCounter{Code: b}
	e.run(true)
	e.returnToCaller()
	return nil
}

// fail turns a recovered panic into an *ExceptionTrace and resets the
// executor. Panics that are not VM errors are re-raised.
func (e *Executor) fail(r any) error {
	var verr error
	switch x := r.(type) {
	case *ScriptError:
		verr = x
	case *InternalError:
		verr = x
	case *ResourceError:
		verr = x
	case runtime.Error:
		verr = internalErrorf(ErrCorruptBytecode, "%v", x)
	case error:
		var se *ScriptError
		var ie *InternalError
		var re *ResourceError
		if !errors.As(x, &se) && !errors.As(x, &ie) && !errors.As(x, &re) {
			panic(r)
		}
		verr = x
	default:
		panic(r)
	}
	trace := e.captureTrace()
	log.Debugf("execution failed: %v", verr)
	e.Reset()
	return &ExceptionTrace{Err: verr, Trace: trace}
}

// raise unwinds to the nearest Execute with err.
func raise(err error) {
	panic(err)
}

// call runs b as a callee whose argc arguments are already on the stack.
func (e *Executor) call(b *Bytecode, argc int) {
	if b == nil {
		panic(internalErrorf(ErrInvalidCodeIndex, "call to nil bytecode"))
	}
	if b.ArgCount >= 0 && argc != b.ArgCount {
		raise(scriptErrorf(ErrMisc, "%s expects %d arguments, got %d", b.Name, b.ArgCount, argc))
	}
	if len(e.ra) > e.cfg.CallDepth {
		panic(&ResourceError{Kind: ErrCallDepthExceeded, Limit: e.cfg.CallDepth})
	}
	before := e.sp - argc
	e.Push(Int(int32(argc)))
	e.ra = append(e.ra, e.pc)
	e.pc = ProgramCounter{Code: b}
	e.run(false)
	if b.RetCount >= 0 && e.sp != before+b.RetCount {
		panic(internalErrorf(ErrStackDiscipline, "%s left depth %d, expected %d", b.Name, e.sp, before+b.RetCount))
	}
}

func (e *Executor) returnToCaller() {
	n := len(e.ra)
	e.pc = e.ra[n-1]
	e.ra = e.ra[:n-1]
}

// ret implements the return protocol: move the return values aside, drop
// the locals, restore the caller's locals offset, drop argc and the
// arguments, then push the return values back.
func (e *Executor) ret(count int) {
	rets := make([]Variable, count)
	for i := count - 1; i >= 0; i-- {
		rets[i] = e.Pop()
	}
	if e.sp < e.localsStart {
		panic(internalErrorf(ErrStackDiscipline, "ret below locals (sp %d, locals %d)", e.sp, e.localsStart))
	}
	e.drop(e.sp - e.localsStart)
	saved := e.Pop()
	prev, err := saved.CoerceInt64()
	if err != nil {
		panic(internalErrorf(ErrStackDiscipline, "saved locals offset holds %s", saved.Type()))
	}
	e.localsStart = int(prev)
	argcV := e.Pop()
	argc, err := argcV.CoerceInt64()
	if err != nil {
		panic(internalErrorf(ErrStackDiscipline, "argument count holds %s", argcV.Type()))
	}
	e.drop(int(argc))
	for _, r := range rets {
		e.Push(r)
	}
	e.returnToCaller()
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func operandU32(code []byte, at int) uint32 {
	return binary.NativeEndian.Uint32(code[at:])
}

// run executes the current frame until it returns. In inline mode reaching
// the end of the code also stops.
func (e *Executor) run(inline bool) {
	for {
		code := e.pc.Code.Code
		at := e.pc.Offset
		if at >= len(code) {
			if inline {
				return
			}
			panic(internalErrorf(ErrCorruptBytecode, "%s ran past its end", e.pc.Code.Name))
		}
		op := Opcode(code[at])
		if e.debugger != nil {
			e.debugger.BeforeInstruction(e, e.pc, op)
		}
		next := at + 1

		switch op {
		// --- Stack operations ---
		case OpNop:

		case OpPop:
			e.drop(1)

		case OpDup:
			e.Push(copyOf(e.Peek(0)))

		case OpDup2:
			a, b := copyOf(e.Peek(1)), copyOf(e.Peek(0))
			e.Push(a)
			e.Push(b)

		// --- Literals ---
		case OpLdiFalse:
			e.Push(Bool(false))

		case OpLdiTrue:
			e.Push(Bool(true))

		case OpLdiUndef:
			e.Push(Undefined())

		case OpLdiF64:
			e.Push(Real(math.Float64frombits(binary.NativeEndian.Uint64(code[next:]))))
			next += 8

		case OpLdiS32:
			e.Push(Int(int32(operandU32(code, next))))
			next += 4

		case OpLdiS64:
			e.Push(Int64(int64(binary.NativeEndian.Uint64(code[next:]))))
			next += 8

		case OpLdiString:
			n := int(operandU32(code, next))
			next += 4
			e.Push(String(string(code[next : next+n])))
			next += n

		case OpLdiCode:
			b, err := e.program.Code.Get(operandU32(code, next))
			if err != nil {
				raise(err)
			}
			e.Push(CodeRef(b))
			next += 4

		case OpLdiSelf:
			e.Push(instanceID(e.self))

		case OpLdiOther:
			e.Push(instanceID(e.other))

		// --- Arithmetic ---
		case OpAdd:
			e.binary((*Variable).Add)
		case OpSub:
			e.binary((*Variable).Sub)
		case OpMul:
			e.binary((*Variable).Mul)
		case OpFdiv:
			e.binary((*Variable).Div)
		case OpIdiv:
			e.binary((*Variable).IntDiv)
		case OpMod:
			e.binary((*Variable).Mod)
		case OpLsh:
			e.binary((*Variable).Shl)
		case OpRsh:
			e.binary((*Variable).Shr)
		case OpBand:
			e.binary((*Variable).And)
		case OpBor:
			e.binary((*Variable).Or)
		case OpBxor:
			e.binary((*Variable).Xor)

		case OpBnot:
			e.unary((*Variable).Invert)
		case OpNeg:
			e.unary((*Variable).Negate)
		case OpInc:
			e.unary(func(v *Variable) error { return v.Increment(1) })
		case OpDec:
			e.unary(func(v *Variable) error { return v.Increment(-1) })

		case OpNot:
			v := e.Pop()
			b, err := v.CoerceBool()
			v.Cleanup()
			if err != nil {
				raise(err)
			}
			e.Push(Bool(!b))

		// --- Comparison ---
		case OpEq, OpNeq:
			b, a := e.Pop(), e.Pop()
			eq := Equal(&a, &b)
			a.Cleanup()
			b.Cleanup()
			e.Push(Bool(eq == (op == OpEq)))

		case OpLt, OpGt, OpLte, OpGte:
			b, a := e.Pop(), e.Pop()
			r, err := Order(&a, &b)
			a.Cleanup()
			b.Cleanup()
			if err != nil {
				raise(err)
			}
			var res bool
			switch op {
			case OpLt:
				res = r < 0
			case OpGt:
				res = r > 0
			case OpLte:
				res = r <= 0
			default:
				res = r >= 0
			}
			e.Push(Bool(res))

		// --- Condition register ---
		case OpCond, OpNcond:
			v := e.Pop()
			b, err := v.CoerceBool()
			v.Cleanup()
			if err != nil {
				raise(err)
			}
			e.cond = b == (op == OpCond)

		case OpPcond:
			e.Push(Bool(e.cond))

		// --- Frames and variables ---
		case OpAll:
			n := int(operandU32(code, next))
			next += 4
			e.Push(Int64(int64(e.localsStart)))
			e.localsStart = e.sp
			for range n {
				e.Push(Undefined())
			}

		case OpStl:
			e.store(e.Local(int(operandU32(code, next))))
			next += 4

		case OpLdl:
			e.Push(copyOf(e.Local(int(operandU32(code, next)))))
			next += 4

		case OpLdpl:
			e.Push(copyOf(e.Prelocal(int(operandU32(code, next)))))
			next += 4

		case OpLda:
			arg, err := e.Argument(int(operandU32(code, next)))
			if err != nil {
				raise(err)
			}
			e.Push(copyOf(arg))
			next += 4

		case OpArgc:
			e.Push(Int(int32(e.ArgCount())))

		case OpSts:
			e.store(e.requireSelf().Var(operandU32(code, next)))
			next += 4

		case OpLds:
			e.Push(loadVar(e.requireSelf(), operandU32(code, next)))
			next += 4

		case OpSto:
			e.store(e.requireOther().Var(operandU32(code, next)))
			next += 4

		case OpLdo:
			e.Push(loadVar(e.requireOther(), operandU32(code, next)))
			next += 4

		case OpStg:
			e.store(e.world.Global(operandU32(code, next)))
			next += 4

		case OpLdg:
			e.Push(copyOf(e.world.Global(operandU32(code, next))))
			next += 4

		// --- Arrays ---
		case OpStla:
			e.arrayStore(e.Local(int(operandU32(code, next))))
			next += 4

		case OpLdla:
			e.arrayLoad(e.Local(int(operandU32(code, next))))
			next += 4

		case OpStsa:
			e.arrayStore(e.requireSelf().Var(operandU32(code, next)))
			next += 4

		case OpLdsa:
			e.arrayLoad(e.requireSelf().Var(operandU32(code, next)))
			next += 4

		case OpStga:
			e.arrayStore(e.world.Global(operandU32(code, next)))
			next += 4

		case OpLdga:
			e.arrayLoad(e.world.Global(operandU32(code, next)))
			next += 4

		// --- Control flow ---
		case OpJmp:
			next = int(operandU32(code, next))

		case OpBcond:
			if e.cond {
				next = int(operandU32(code, next))
			} else {
				next += 4
			}

		case OpCall:
			b, err := e.program.Code.Get(operandU32(code, next))
			if err != nil {
				raise(err)
			}
			argc := int(code[next+4])
			e.pc.Offset = next + 5
			e.call(b, argc)
			continue

		case OpCalli:
			argc := int(code[next])
			ref := e.Pop()
			b, err := ref.Code()
			ref.Cleanup()
			if err != nil {
				raise(err)
			}
			e.pc.Offset = next + 1
			e.call(b, argc)
			continue

		case OpRet:
			e.ret(int(code[next]))
			return

		case OpNat:
			idx := operandU32(code, next)
			argc := int(code[next+4])
			e.pc.Offset = next + 5
			e.native(idx, argc)
			continue

		// --- Context ---
		case OpPushSelf:
			v := e.Pop()
			id, err := v.CoerceInt64()
			v.Cleanup()
			if err != nil {
				raise(err)
			}
			inst, ok := e.world.Instance(id)
			if !ok {
				raise(scriptErrorf(ErrStaleHandle, "instance %d does not exist", id))
			}
			e.PushSelf(inst)

		case OpPopSelf:
			e.PopSelf()

		case OpEOF:
			if inline {
				return
			}
			panic(internalErrorf(ErrCorruptBytecode, "%s reached eof without returning", e.pc.Code.Name))

		default:
			panic(internalErrorf(ErrCorruptBytecode, "unknown opcode %#02x at %d", byte(op), at))
		}

		e.pc.Offset = next
	}
}

// ---------------------------------------------------------------------------
// Instruction helpers
// ---------------------------------------------------------------------------

func instanceID(inst *Instance) Variable {
	if inst == nil {
		return Undefined()
	}
	return Int64(inst.ID)
}

func loadVar(inst *Instance, id uint32) Variable {
	v, ok := inst.Lookup(id)
	if !ok {
		return Undefined()
	}
	return copyOf(v)
}

// binary pops b then a, applies a op= b and pushes a.
func (e *Executor) binary(op func(a, b *Variable) error) {
	b, a := e.Pop(), e.Pop()
	err := op(&a, &b)
	b.Cleanup()
	if err != nil {
		a.Cleanup()
		raise(err)
	}
	e.Push(a)
}

func (e *Executor) unary(op func(v *Variable) error) {
	v := e.Pop()
	if err := op(&v); err != nil {
		v.Cleanup()
		raise(err)
	}
	e.Push(v)
}

// store pops the top value into slot, releasing the previous occupant.
func (e *Executor) store(slot *Variable) {
	v := e.Pop()
	slot.Cleanup()
	*slot = v
}

// popIndex pops a numeric array index.
func (e *Executor) popIndex() int {
	v := e.Pop()
	i, err := v.CoerceIndex()
	v.Cleanup()
	if err != nil {
		raise(err)
	}
	return i
}

// arrayStore pops value, col and row and writes target[row][col].
func (e *Executor) arrayStore(target *Variable) {
	val := e.Pop()
	col := e.popIndex()
	row := e.popIndex()
	err := target.ArraySet(row, col, &val)
	val.Cleanup()
	if err != nil {
		raise(err)
	}
}

// arrayLoad pops col and row and pushes target[row][col].
func (e *Executor) arrayLoad(target *Variable) {
	col := e.popIndex()
	row := e.popIndex()
	var out Variable
	if err := target.ArrayGet(row, col, &out); err != nil {
		raise(err)
	}
	e.Push(out)
}

// native calls native idx on the top argc values and replaces them with its
// result.
func (e *Executor) native(idx uint32, argc int) {
	info, err := e.program.Natives.Get(idx)
	if err != nil {
		raise(err)
	}
	if info.Argc >= 0 && argc != info.Argc {
		raise(scriptErrorf(ErrMisc, "%s expects %d arguments, got %d", info.Name, info.Argc, argc))
	}
	if argc > e.sp {
		panic(internalErrorf(ErrStackDiscipline, "native %s wants %d arguments, stack has %d", info.Name, argc, e.sp))
	}
	args := e.stack[e.sp-argc : e.sp]
	var out Variable
	if err := info.Fn(e, &out, args); err != nil {
		out.Cleanup()
		raise(nativeError(info.Name, err))
	}
	e.drop(argc)
	e.Push(out)
}

// nativeError keeps VM errors as they are and reports anything else as a
// script error.
func nativeError(name string, err error) error {
	if Classify(err) != ClassInternal {
		return err
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &ScriptError{Kind: ErrMisc, Message: name + ": " + err.Error()}
}
