package vm

import "fmt"

// ---------------------------------------------------------------------------
// Native functions
// ---------------------------------------------------------------------------

// NativeFunc is the uniform signature of every native function. args is a
// view of the caller's stack and must not be retained; the result goes in
// out. The executor is the explicit context: natives reach the world only
// through it.
type NativeFunc func(e *Executor, out *Variable, args []Variable) error

// Variadic marks a native that accepts any number of arguments.
const Variadic = -1

// NativeInfo describes one registered native.
type NativeInfo struct {
	Name string
	Argc int
	Fn   NativeFunc
}

// NativeTable binds native names to dense indices used by the nat opcode.
// It is rebuilt from code at startup and never serialized.
type NativeTable struct {
	entries []NativeInfo
	names   map[string]uint32
}

// NewNativeTable creates an empty table.
func NewNativeTable() *NativeTable {
	return &NativeTable{names: make(map[string]uint32)}
}

// Register adds fn under name and returns its index. Registering a name
// again replaces the function but keeps the index.
func (t *NativeTable) Register(name string, argc int, fn NativeFunc) uint32 {
	if idx, ok := t.names[name]; ok {
		t.entries[idx] = NativeInfo{Name: name, Argc: argc, Fn: fn}
		return idx
	}
	idx := uint32(len(t.entries))
	t.entries = append(t.entries, NativeInfo{Name: name, Argc: argc, Fn: fn})
	t.names[name] = idx
	return idx
}

// Lookup returns the index of name.
func (t *NativeTable) Lookup(name string) (uint32, bool) {
	idx, ok := t.names[name]
	return idx, ok
}

// MustLookup returns the index of name or panics.
func (t *NativeTable) MustLookup(name string) uint32 {
	idx, ok := t.names[name]
	if !ok {
		panic(fmt.Sprintf("native %q is not registered", name))
	}
	return idx
}

// Get returns the native at idx.
func (t *NativeTable) Get(idx uint32) (*NativeInfo, error) {
	if int(idx) >= len(t.entries) {
		return nil, internalErrorf(ErrCorruptBytecode, "native index %d (table has %d)", idx, len(t.entries))
	}
	return &t.entries[idx], nil
}

// Len returns the number of natives.
func (t *NativeTable) Len() int { return len(t.entries) }

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

func argReal(args []Variable, i int) (float64, error) {
	return args[i].CoerceReal()
}

func argInt(args []Variable, i int) (int, error) {
	n, err := args[i].CoerceInt64()
	return int(n), err
}

func argHandle(args []Variable, i int) (Handle, error) {
	n, err := args[i].CoerceInt64()
	if err != nil {
		return 0, err
	}
	return Handle(n), nil
}

func argString(args []Variable, i int) (string, error) {
	return args[i].StringView()
}

// setResult releases out and stores v.
func setResult(out *Variable, v Variable) {
	out.Cleanup()
	*out = v
}
