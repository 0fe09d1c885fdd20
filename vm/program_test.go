package vm

import (
	"context"
	"errors"
	"testing"
)

func TestProgramVerify(t *testing.T) {
	tests := []struct {
		name    string
		emit    func(b *BytecodeBuilder)
		wantErr error
	}{
		{"valid", func(b *BytecodeBuilder) {
			l := b.NewLabel()
			b.EmitUint32(OpAll, 0)
			b.EmitJump(OpJmp, l)
			b.Emit(OpNop)
			b.Mark(l)
			b.EmitUint8(OpRet, 0)
		}, nil},
		{"jump into an operand", func(b *BytecodeBuilder) {
			b.EmitUint32(OpJmp, 3)
		}, ErrCorruptBytecode},
		{"unknown code index", func(b *BytecodeBuilder) {
			b.EmitCall(99, 0)
		}, ErrInvalidCodeIndex},
		{"unknown native", func(b *BytecodeBuilder) {
			b.EmitNative(100000, 0)
		}, ErrCorruptBytecode},
		{"truncated operand", func(b *BytecodeBuilder) {
			b.Emit(OpLdiS32)
		}, ErrCorruptBytecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := NewProgram()
			compile(prog, "fn", 0, 0, tt.emit)
			err := prog.Verify(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Verify: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProgramVerifyParents(t *testing.T) {
	prog := NewProgram()
	o := NewObject("self_parent")
	o.Parent = 0
	prog.AddObject(o)
	if err := prog.Verify(context.Background()); err == nil {
		t.Error("object that is its own parent passed verification")
	}

	prog = NewProgram()
	o = NewObject("dangling")
	o.Parent = 5
	prog.AddObject(o)
	if err := prog.Verify(context.Background()); err == nil {
		t.Error("dangling parent passed verification")
	}
}

func TestProgramVerifyCancelled(t *testing.T) {
	prog := NewProgram()
	defineSum2(prog)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := prog.Verify(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Verify with cancelled context = %v", err)
	}
}

func TestProgramDigest(t *testing.T) {
	a, b := NewProgram(), NewProgram()
	defineSum2(a)
	defineSum2(b)
	if a.Digest() != b.Digest() {
		t.Error("identical programs have different digests")
	}
	compile(b, "extra", 0, 0, func(b *BytecodeBuilder) { b.Emit(OpNop) })
	if a.Digest() == b.Digest() {
		t.Error("digest did not change with the code table")
	}
}

func TestProgramHandlerLookup(t *testing.T) {
	prog := NewProgram()
	create := marker(prog, "create", 1)
	alarm := marker(prog, "alarm", 2)
	base := prog.AddObject(NewObject("base").
		On(EventCreate, create).
		OnDynamic(DynAlarm, 0, alarm))
	child := NewObject("child")
	child.Parent = base
	idx := prog.AddObject(child)

	if got := prog.HandlerFor(idx, EventCreate); got != create {
		t.Errorf("HandlerFor(create) = %v", got)
	}
	if got := prog.EventIndex(idx, EventCreate); got != create.Index {
		t.Errorf("EventIndex(create) = %d, want %d", got, create.Index)
	}
	if got := prog.DynamicHandlerFor(idx, DynAlarm, 0); got != alarm {
		t.Errorf("DynamicHandlerFor(alarm 0) = %v", got)
	}
	if got := prog.DynamicHandlerFor(idx, DynAlarm, 1); got != nil {
		t.Errorf("DynamicHandlerFor(alarm 1) = %v, want nil", got)
	}
	// step and draw pairs land in their static slots
	child.OnDynamic(DynDraw, SubDrawNormal, alarm)
	if child.Events[EventDraw] != alarm {
		t.Error("draw pair was not stored in the draw slot")
	}
	if _, ok := prog.Object(7); ok {
		t.Error("Object(7) found an object")
	}
}
