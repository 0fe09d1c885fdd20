package vm

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Core natives
// ---------------------------------------------------------------------------

func typePredicate(match func(v *Variable) bool) NativeFunc {
	return func(e *Executor, out *Variable, args []Variable) error {
		setResult(out, Bool(match(&args[0])))
		return nil
	}
}

// RegisterStandardNatives installs the core, data structure and buffer
// natives into t.
func RegisterStandardNatives(t *NativeTable) {
	registerCoreNatives(t)
	registerDSNatives(t)
	registerBufferNatives(t)
}

func registerCoreNatives(t *NativeTable) {
	t.Register("is_undefined", 1, typePredicate((*Variable).IsUndefined))
	t.Register("is_string", 1, typePredicate((*Variable).IsString))
	t.Register("is_array", 1, typePredicate((*Variable).IsArray))
	t.Register("is_real", 1, typePredicate((*Variable).IsNumeric))
	t.Register("is_method", 1, typePredicate((*Variable).IsCode))
	t.Register("typeof", 1, func(e *Executor, out *Variable, args []Variable) error {
		setResult(out, String(args[0].Type().String()))
		return nil
	})

	t.Register("string", 1, func(e *Executor, out *Variable, args []Variable) error {
		if args[0].IsString() {
			out.Set(&args[0])
			return nil
		}
		setResult(out, String(args[0].String()))
		return nil
	})
	t.Register("real", 1, func(e *Executor, out *Variable, args []Variable) error {
		if args[0].IsNumeric() {
			f, _ := args[0].CoerceReal()
			setResult(out, Real(f))
			return nil
		}
		s, err := argString(args, 0)
		if err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return typeCastError(TypeString, TypeReal)
		}
		setResult(out, Real(f))
		return nil
	})
	t.Register("string_length", 1, func(e *Executor, out *Variable, args []Variable) error {
		s, err := argString(args, 0)
		if err != nil {
			return err
		}
		setResult(out, Int(int32(len(s))))
		return nil
	})

	t.Register("array_height_2d", 1, func(e *Executor, out *Variable, args []Variable) error {
		a, err := args[0].Array()
		if err != nil {
			return err
		}
		setResult(out, Int(int32(a.Height())))
		return nil
	})
	t.Register("array_length_2d", 2, func(e *Executor, out *Variable, args []Variable) error {
		a, err := args[0].Array()
		if err != nil {
			return err
		}
		row, err := args[1].CoerceIndex()
		if err != nil {
			return err
		}
		setResult(out, Int(int32(a.Length(row))))
		return nil
	})

	t.Register("instance_exists", 1, func(e *Executor, out *Variable, args []Variable) error {
		id, err := args[0].CoerceInt64()
		if err != nil {
			return err
		}
		inst, ok := e.World().Instance(id)
		setResult(out, Bool(ok && inst.Active))
		return nil
	})

	t.Register("async_load", 0, func(e *Executor, out *Variable, args []Variable) error {
		setResult(out, handleResult(e.AsyncLoad()))
		return nil
	})

	t.Register("show_debug_message", 1, func(e *Executor, out *Variable, args []Variable) error {
		log.Notice(args[0].String())
		return nil
	})
}
