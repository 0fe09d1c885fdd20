package vm

import "fmt"

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config sizes the executor's fixed-capacity stacks.
type Config struct {
	StackSize int // operand stack slots
	CallDepth int // maximum nested calls
}

// DefaultConfig returns the sizes used when nothing is configured.
func DefaultConfig() Config {
	return Config{StackSize: 1 << 16, CallDepth: 4096}
}

// Validate rejects sizes the executor cannot run with.
func (c Config) Validate() error {
	if c.StackSize < 16 {
		return fmt.Errorf("stack size %d is too small", c.StackSize)
	}
	if c.CallDepth < 1 {
		return fmt.Errorf("call depth %d is too small", c.CallDepth)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Executor: stack machine state
// ---------------------------------------------------------------------------

// contextFrame is the self/other pair saved by PushSelf.
type contextFrame struct {
	self, other *Instance
	sp          int
}

// Executor runs bytecode on one pre-allocated operand stack shared by every
// frame. It is long-lived: Reset it between unrelated runs instead of
// making a new one. An Executor is not safe for concurrent use.
type Executor struct {
	cfg     Config
	program *Program
	world   WorldState

	stack       []Variable // fixed capacity, never grown
	sp          int        // next free slot
	localsStart int        // first local of the current frame

	pc       ProgramCounter
	ra       []ProgramCounter // return addresses; ra[0] is the host
	cond     bool
	self     *Instance
	other    *Instance
	contexts []contextFrame

	debugger  Debugger
	asyncLoad Handle // map exposed to async handlers, -1 outside them
}

// NewExecutor creates an executor for prog operating on world.
func NewExecutor(cfg Config, prog *Program, world WorldState) *Executor {
	def := DefaultConfig()
	if cfg.StackSize <= 0 {
		cfg.StackSize = def.StackSize
	}
	if cfg.CallDepth <= 0 {
		cfg.CallDepth = def.CallDepth
	}
	return &Executor{
		cfg:       cfg,
		program:   prog,
		world:     world,
		stack:     make([]Variable, cfg.StackSize),
		ra:        make([]ProgramCounter, 0, cfg.CallDepth+1),
		asyncLoad: -1,
	}
}

func (e *Executor) Program() *Program  { return e.program }
func (e *Executor) World() WorldState  { return e.world }
func (e *Executor) Config() Config     { return e.cfg }
func (e *Executor) Self() *Instance    { return e.self }
func (e *Executor) Other() *Instance   { return e.other }
func (e *Executor) PC() ProgramCounter { return e.pc }

// SP returns the number of occupied stack slots.
func (e *Executor) SP() int { return e.sp }

// Depth returns the number of active calls.
func (e *Executor) Depth() int { return max(0, len(e.ra)) }

// AsyncLoad returns the handle of the map describing the async result being
// handled, or -1.
func (e *Executor) AsyncLoad() Handle { return e.asyncLoad }

// Attach installs a debugger, or removes it when d is nil.
func (e *Executor) Attach(d Debugger) { e.debugger = d }

// Reset clears all execution state. World state is untouched.
func (e *Executor) Reset() {
	for i := 0; i < e.sp; i++ {
		e.stack[i].Cleanup()
	}
	e.sp = 0
	e.localsStart = 0
	e.pc = ProgramCounter{}
	e.ra = e.ra[:0]
	e.cond = false
	e.self, e.other = nil, nil
	e.contexts = e.contexts[:0]
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

// Push moves v onto the stack. Exceeding the stack capacity panics with a
// *ResourceError, which Execute reports as an error.
func (e *Executor) Push(v Variable) {
	if e.sp >= len(e.stack) {
		v.Cleanup()
		panic(&ResourceError{Kind: ErrStackOverflow, Limit: len(e.stack)})
	}
	slot := &e.stack[e.sp]
	if slot.refcounted() {
		panic(internalErrorf(ErrStackDiscipline, "push over live slot %d", e.sp))
	}
	*slot = v
	e.sp++
}

// Pop moves the top value off the stack. The caller owns the result.
func (e *Executor) Pop() Variable {
	if e.sp <= 0 {
		panic(internalErrorf(ErrStackDiscipline, "operand stack underflow"))
	}
	e.sp--
	return e.stack[e.sp].Move()
}

// Peek returns the value depth slots below the top.
func (e *Executor) Peek(depth int) *Variable {
	i := e.sp - 1 - depth
	if i < 0 || depth < 0 {
		panic(internalErrorf(ErrStackDiscipline, "peek %d with %d values", depth, e.sp))
	}
	return &e.stack[i]
}

// drop pops and releases n values.
func (e *Executor) drop(n int) {
	for range n {
		v := e.Pop()
		v.Cleanup()
	}
}

// Local returns local i of the current frame.
func (e *Executor) Local(i int) *Variable {
	j := e.localsStart + i
	if i < 0 || j >= e.sp {
		panic(internalErrorf(ErrStackDiscipline, "local %d out of frame", i))
	}
	return &e.stack[j]
}

// Prelocal returns slot i below the current frame's locals: 0 is the saved
// locals offset, 1 the argument count, 2 onwards the arguments last first.
func (e *Executor) Prelocal(i int) *Variable {
	j := e.localsStart - 1 - i
	if i < 0 || j < 0 {
		panic(internalErrorf(ErrStackDiscipline, "prelocal %d out of frame", i))
	}
	return &e.stack[j]
}

// ArgCount returns the number of arguments of the current frame.
func (e *Executor) ArgCount() int {
	n, err := e.Prelocal(1).CoerceInt64()
	if err != nil {
		panic(internalErrorf(ErrStackDiscipline, "argument count slot holds %s", e.Prelocal(1).Type()))
	}
	return int(n)
}

// Argument returns argument i of the current frame.
func (e *Executor) Argument(i int) (*Variable, error) {
	argc := e.ArgCount()
	if i < 0 || i >= argc {
		return nil, scriptErrorf(ErrOutOfBounds, "argument %d of %d", i, argc)
	}
	return e.Prelocal(2 + argc - 1 - i), nil
}

// ---------------------------------------------------------------------------
// Self/other context
// ---------------------------------------------------------------------------

// PushSelf makes inst the self instance; the previous self becomes other.
// Every PushSelf must be matched by a PopSelf at the same stack depth.
func (e *Executor) PushSelf(inst *Instance) {
	e.contexts = append(e.contexts, contextFrame{self: e.self, other: e.other, sp: e.sp})
	e.other = e.self
	e.self = inst
}

// PopSelf restores the self/other pair saved by the matching PushSelf.
func (e *Executor) PopSelf() {
	n := len(e.contexts)
	if n == 0 {
		panic(internalErrorf(ErrContextMismatch, "popself without pushself"))
	}
	top := e.contexts[n-1]
	if top.sp != e.sp {
		panic(internalErrorf(ErrContextMismatch, "stack depth %d at popself, %d at pushself", e.sp, top.sp))
	}
	e.contexts = e.contexts[:n-1]
	e.self, e.other = top.self, top.other
}

// requireSelf returns the self instance or raises a script error.
func (e *Executor) requireSelf() *Instance {
	if e.self == nil {
		panic(&ScriptError{Kind: ErrMisc, Message: "no self instance"})
	}
	return e.self
}

func (e *Executor) requireOther() *Instance {
	if e.other == nil {
		panic(&ScriptError{Kind: ErrMisc, Message: "no other instance"})
	}
	return e.other
}

// ---------------------------------------------------------------------------
// Traces
// ---------------------------------------------------------------------------

// captureTrace formats the return-address stack and current pc. The first
// return address belongs to the host and is skipped.
func (e *Executor) captureTrace() []string {
	var frames []ProgramCounter
	for _, pc := range e.ra {
		if pc.Code != nil {
			frames = append(frames, pc)
		}
	}
	if e.pc.Code != nil {
		frames = append(frames, e.pc)
	}
	return formatTrace(frames)
}
