package vm

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// Object is a compiled object definition: a name, an optional parent and the
// bytecode run for each event.
type Object struct {
	Name    string
	Parent  int // index into Program.Objects, -1 for none
	Events  [StaticEventCount]*Bytecode
	Dynamic map[EventKey]*Bytecode
}

// NewObject creates an object with no parent and no handlers.
func NewObject(name string) *Object {
	return &Object{Name: name, Parent: -1}
}

// On sets the handler for a static event.
func (o *Object) On(ev StaticEvent, b *Bytecode) *Object {
	o.Events[ev] = b
	return o
}

// OnDynamic sets the handler for a dynamic pair. Pairs with a static slot are
// stored there.
func (o *Object) OnDynamic(ev DynamicEvent, sub DynamicSubEvent, b *Bytecode) *Object {
	if se, ok := DynamicToStatic(ev, sub); ok {
		return o.On(se, b)
	}
	if o.Dynamic == nil {
		o.Dynamic = make(map[EventKey]*Bytecode)
	}
	o.Dynamic[EventKey{ev, sub}] = b
	return o
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is everything compiled ahead of execution: the code table, the
// native table, object definitions and the default handler per static event.
type Program struct {
	Code          *CodeTable
	Natives       *NativeTable
	Objects       []*Object
	DefaultEvents [StaticEventCount]*Bytecode
}

// NewProgram creates an empty program with the standard natives registered.
func NewProgram() *Program {
	p := &Program{
		Code:    NewCodeTable(),
		Natives: NewNativeTable(),
	}
	RegisterStandardNatives(p.Natives)
	return p
}

// AddObject registers o and returns its index.
func (p *Program) AddObject(o *Object) int {
	p.Objects = append(p.Objects, o)
	return len(p.Objects) - 1
}

// Object returns the object at idx.
func (p *Program) Object(idx int) (*Object, bool) {
	if idx < 0 || idx >= len(p.Objects) {
		return nil, false
	}
	return p.Objects[idx], true
}

// ObjectIndex finds an object by name.
func (p *Program) ObjectIndex(name string) (int, bool) {
	for i, o := range p.Objects {
		if o.Name == name {
			return i, true
		}
	}
	return -1, false
}

// HandlerFor returns the bytecode object runs for ev, searching the parent
// chain and then the program default.
func (p *Program) HandlerFor(object int, ev StaticEvent) *Bytecode {
	seen := 0
	for idx := object; idx >= 0 && seen <= len(p.Objects); seen++ {
		o, ok := p.Object(idx)
		if !ok {
			break
		}
		if b := o.Events[ev]; b != nil {
			return b
		}
		idx = o.Parent
	}
	return p.DefaultEvents[ev]
}

// DynamicHandlerFor returns the bytecode object runs for a dynamic pair.
// Pairs with a static slot resolve through HandlerFor.
func (p *Program) DynamicHandlerFor(object int, ev DynamicEvent, sub DynamicSubEvent) *Bytecode {
	if se, ok := DynamicToStatic(ev, sub); ok {
		return p.HandlerFor(object, se)
	}
	key := EventKey{ev, sub}
	seen := 0
	for idx := object; idx >= 0 && seen <= len(p.Objects); seen++ {
		o, ok := p.Object(idx)
		if !ok {
			break
		}
		if b := o.Dynamic[key]; b != nil {
			return b
		}
		idx = o.Parent
	}
	return nil
}

// EventIndex returns the code index object runs for ev, or NoEvent.
func (p *Program) EventIndex(object int, ev StaticEvent) uint32 {
	if b := p.HandlerFor(object, ev); b != nil {
		return b.Index
	}
	return NoEvent
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// Verify decodes every bytecode and checks operand bounds, jump targets and
// code and native indices. Bytecodes are checked concurrently.
func (p *Program) Verify(ctx context.Context) error {
	for i, o := range p.Objects {
		if o.Parent >= len(p.Objects) || o.Parent == i {
			return fmt.Errorf("object %s: invalid parent %d", o.Name, o.Parent)
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range p.Code.All() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.verifyBytecode(b); err != nil {
				return fmt.Errorf("%s: %w", b.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Program) verifyBytecode(b *Bytecode) error {
	code := b.Code
	starts := make(map[int]bool)
	var jumps []int
	for pc := 0; pc < len(code); {
		n, err := instructionLength(code, pc)
		if err != nil {
			return err
		}
		starts[pc] = true
		op := Opcode(code[pc])
		switch op {
		case OpJmp, OpBcond:
			jumps = append(jumps, int(binary.NativeEndian.Uint32(code[pc+1:])))
		case OpCall, OpLdiCode:
			idx := binary.NativeEndian.Uint32(code[pc+1:])
			if int(idx) >= p.Code.Len() {
				return internalErrorf(ErrInvalidCodeIndex, "%s at %d refers to code %d (table has %d)", op, pc, idx, p.Code.Len())
			}
		case OpNat:
			idx := binary.NativeEndian.Uint32(code[pc+1:])
			if int(idx) >= p.Natives.Len() {
				return internalErrorf(ErrCorruptBytecode, "nat at %d refers to native %d (table has %d)", pc, idx, p.Natives.Len())
			}
		}
		pc += n
	}
	for _, target := range jumps {
		if target != len(code) && !starts[target] {
			return internalErrorf(ErrCorruptBytecode, "jump target %d is not an instruction boundary", target)
		}
	}
	return nil
}

// Digest hashes the code table. Snapshots record it so they are only
// restored alongside the program that produced them.
func (p *Program) Digest() uint64 {
	h := xxh3.New()
	var scratch [8]byte
	for _, b := range p.Code.All() {
		h.WriteString(b.Name)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(int32(b.ArgCount)))
		binary.LittleEndian.PutUint32(scratch[4:], uint32(int32(b.RetCount)))
		h.Write(scratch[:])
		binary.LittleEndian.PutUint64(scratch[:], uint64(len(b.Code)))
		h.Write(scratch[:])
		h.Write(b.Code)
	}
	return h.Sum64()
}
