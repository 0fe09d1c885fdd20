package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack operations
const (
	OpNop  Opcode = 0x00 // no operation
	OpPop  Opcode = 0x01 // discard top of stack
	OpDup  Opcode = 0x02 // duplicate top of stack
	OpDup2 Opcode = 0x03 // duplicate top two values
)

// Literals
const (
	OpLdiFalse  Opcode = 0x10 // push false
	OpLdiTrue   Opcode = 0x11 // push true
	OpLdiUndef  Opcode = 0x12 // push undefined
	OpLdiF64    Opcode = 0x13 // push real (8 bytes)
	OpLdiS32    Opcode = 0x14 // push int (4 bytes)
	OpLdiS64    Opcode = 0x15 // push int64 (8 bytes)
	OpLdiString Opcode = 0x16 // push string (4-byte length, bytes)
	OpLdiCode   Opcode = 0x17 // push code reference (4-byte code index)
	OpLdiSelf   Opcode = 0x18 // push id of self
	OpLdiOther  Opcode = 0x19 // push id of other
)

// Arithmetic, bitwise and logical
const (
	OpAdd  Opcode = 0x20 // a + b
	OpSub  Opcode = 0x21 // a - b
	OpMul  Opcode = 0x22 // a * b
	OpFdiv Opcode = 0x23 // a / b, always real
	OpIdiv Opcode = 0x24 // a div b
	OpMod  Opcode = 0x25 // a mod b
	OpLsh  Opcode = 0x26 // a << b
	OpRsh  Opcode = 0x27 // a >> b
	OpBand Opcode = 0x28 // a & b
	OpBor  Opcode = 0x29 // a | b
	OpBxor Opcode = 0x2A // a ^ b
	OpBnot Opcode = 0x2B // ~a
	OpNeg  Opcode = 0x2C // -a
	OpNot  Opcode = 0x2D // !a
	OpInc  Opcode = 0x2E // a + 1
	OpDec  Opcode = 0x2F // a - 1
)

// Comparison
const (
	OpLt  Opcode = 0x30
	OpGt  Opcode = 0x31
	OpLte Opcode = 0x32
	OpGte Opcode = 0x33
	OpEq  Opcode = 0x34
	OpNeq Opcode = 0x35
)

// Condition register
const (
	OpCond  Opcode = 0x38 // pop, set condition from truthiness
	OpNcond Opcode = 0x39 // pop, set condition from falsiness
	OpPcond Opcode = 0x3A // push condition as bool
)

// Frames and variables
const (
	OpAll  Opcode = 0x40 // allocate locals (4-byte count)
	OpStl  Opcode = 0x41 // pop into local (4-byte index)
	OpLdl  Opcode = 0x42 // push local (4-byte index)
	OpLdpl Opcode = 0x43 // push prelocal (4-byte index)
	OpLda  Opcode = 0x44 // push argument (4-byte index)
	OpArgc Opcode = 0x45 // push argument count
	OpSts  Opcode = 0x48 // pop into self variable (4-byte id)
	OpLds  Opcode = 0x49 // push self variable (4-byte id)
	OpSto  Opcode = 0x4A // pop into other variable (4-byte id)
	OpLdo  Opcode = 0x4B // push other variable (4-byte id)
	OpStg  Opcode = 0x4C // pop into global (4-byte id)
	OpLdg  Opcode = 0x4D // push global (4-byte id)
)

// Array elements: value, row, col on the stack
const (
	OpStla Opcode = 0x50 // local[row][col] = value (4-byte local)
	OpLdla Opcode = 0x51 // push local[row][col] (4-byte local)
	OpStsa Opcode = 0x52 // self.var[row][col] = value (4-byte id)
	OpLdsa Opcode = 0x53 // push self.var[row][col] (4-byte id)
	OpStga Opcode = 0x54 // global[row][col] = value (4-byte id)
	OpLdga Opcode = 0x55 // push global[row][col] (4-byte id)
)

// Control flow
const (
	OpJmp   Opcode = 0x60 // jump (4-byte absolute target)
	OpBcond Opcode = 0x61 // jump if condition set (4-byte absolute target)
	OpCall  Opcode = 0x62 // call (4-byte code index, 1-byte argc)
	OpCalli Opcode = 0x63 // call code reference on top of stack (1-byte argc)
	OpRet   Opcode = 0x64 // return (1-byte return count)
	OpNat   Opcode = 0x65 // native call (4-byte native index, 1-byte argc)
)

// Context
const (
	OpPushSelf Opcode = 0x70 // pop instance id, make it self
	OpPopSelf  Opcode = 0x71 // restore previous self and other
	OpEOF      Opcode = 0xFF // end of code
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// operandVariable marks opcodes whose operand length depends on the code.
const operandVariable = -1

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes, or operandVariable
	StackEffect  int    // net effect on stack (-99 = variable)
}

const stackVariable = -99

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:  {"nop", 0, 0},
	OpPop:  {"pop", 0, -1},
	OpDup:  {"dup", 0, 1},
	OpDup2: {"dup2", 0, 2},

	OpLdiFalse:  {"ldi_false", 0, 1},
	OpLdiTrue:   {"ldi_true", 0, 1},
	OpLdiUndef:  {"ldi_undef", 0, 1},
	OpLdiF64:    {"ldi_f64", 8, 1},
	OpLdiS32:    {"ldi_s32", 4, 1},
	OpLdiS64:    {"ldi_s64", 8, 1},
	OpLdiString: {"ldi_string", operandVariable, 1},
	OpLdiCode:   {"ldi_code", 4, 1},
	OpLdiSelf:   {"ldi_self", 0, 1},
	OpLdiOther:  {"ldi_other", 0, 1},

	OpAdd:  {"add", 0, -1},
	OpSub:  {"sub", 0, -1},
	OpMul:  {"mul", 0, -1},
	OpFdiv: {"fdiv", 0, -1},
	OpIdiv: {"idiv", 0, -1},
	OpMod:  {"mod", 0, -1},
	OpLsh:  {"lsh", 0, -1},
	OpRsh:  {"rsh", 0, -1},
	OpBand: {"band", 0, -1},
	OpBor:  {"bor", 0, -1},
	OpBxor: {"bxor", 0, -1},
	OpBnot: {"bnot", 0, 0},
	OpNeg:  {"neg", 0, 0},
	OpNot:  {"not", 0, 0},
	OpInc:  {"inc", 0, 0},
	OpDec:  {"dec", 0, 0},

	OpLt:  {"lt", 0, -1},
	OpGt:  {"gt", 0, -1},
	OpLte: {"lte", 0, -1},
	OpGte: {"gte", 0, -1},
	OpEq:  {"eq", 0, -1},
	OpNeq: {"neq", 0, -1},

	OpCond:  {"cond", 0, -1},
	OpNcond: {"ncond", 0, -1},
	OpPcond: {"pcond", 0, 1},

	OpAll:  {"all", 4, stackVariable},
	OpStl:  {"stl", 4, -1},
	OpLdl:  {"ldl", 4, 1},
	OpLdpl: {"ldpl", 4, 1},
	OpLda:  {"lda", 4, 1},
	OpArgc: {"argc", 0, 1},
	OpSts:  {"sts", 4, -1},
	OpLds:  {"lds", 4, 1},
	OpSto:  {"sto", 4, -1},
	OpLdo:  {"ldo", 4, 1},
	OpStg:  {"stg", 4, -1},
	OpLdg:  {"ldg", 4, 1},

	OpStla: {"stla", 4, -3},
	OpLdla: {"ldla", 4, -1},
	OpStsa: {"stsa", 4, -3},
	OpLdsa: {"ldsa", 4, -1},
	OpStga: {"stga", 4, -3},
	OpLdga: {"ldga", 4, -1},

	OpJmp:   {"jmp", 4, 0},
	OpBcond: {"bcond", 4, 0},
	OpCall:  {"call", 5, stackVariable},
	OpCalli: {"calli", 1, stackVariable},
	OpRet:   {"ret", 1, stackVariable},
	OpNat:   {"nat", 5, stackVariable},

	OpPushSelf: {"pushself", 0, -1},
	OpPopSelf:  {"popself", 0, 0},
	OpEOF:      {"eof", 0, 0},
}

// Info returns metadata for the opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0, StackEffect: 0}
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the opcode's name.
func (op Opcode) Name() string {
	return op.Info().Name
}

func (op Opcode) String() string {
	return op.Name()
}

// instructionLength returns the size of the instruction at pc including the
// opcode byte.
func instructionLength(code []byte, pc int) (int, error) {
	op := Opcode(code[pc])
	info, ok := opcodeTable[op]
	if !ok {
		return 0, internalErrorf(ErrCorruptBytecode, "unknown opcode %#02x at %d", byte(op), pc)
	}
	n := info.OperandBytes
	if n == operandVariable {
		if pc+5 > len(code) {
			return 0, internalErrorf(ErrCorruptBytecode, "truncated %s at %d", op, pc)
		}
		n = 4 + int(binary.NativeEndian.Uint32(code[pc+1:]))
	}
	if pc+1+n > len(code) {
		return 0, internalErrorf(ErrCorruptBytecode, "truncated %s at %d", op, pc)
	}
	return 1 + n, nil
}

// ---------------------------------------------------------------------------
// Bytecode
// ---------------------------------------------------------------------------

// Bytecode is one compiled, addressable unit of instructions.
type Bytecode struct {
	Index    uint32 // position in the code table
	Name     string
	Code     []byte
	ArgCount int // declared arguments, -1 for variadic
	RetCount int // declared return values
	Debug    *DebugSymbols
}

// LineEntry maps the instruction starting at Offset to a source line.
type LineEntry struct {
	Offset int
	Line   int
}

// DebugSymbols carries optional source information for a Bytecode.
type DebugSymbols struct {
	File   string
	Source string
	Lines  []LineEntry // sorted by Offset
}

// LineAt returns the source line for the instruction at offset.
func (d *DebugSymbols) LineAt(offset int) (int, bool) {
	if d == nil || len(d.Lines) == 0 {
		return 0, false
	}
	i := sort.Search(len(d.Lines), func(i int) bool { return d.Lines[i].Offset > offset })
	if i == 0 {
		return 0, false
	}
	return d.Lines[i-1].Line, true
}

// SourceLine returns the text of a 1-based source line.
func (d *DebugSymbols) SourceLine(line int) string {
	if d == nil || line < 1 {
		return ""
	}
	lines := strings.Split(d.Source, "\n")
	if line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

// ProgramCounter addresses one instruction.
type ProgramCounter struct {
	Code   *Bytecode
	Offset int
}

// Describe renders the location for traces: "name: line N, pc P   source"
// when symbols exist, otherwise "name: pc P".
func (pc ProgramCounter) Describe() string {
	if pc.Code == nil {
		return fmt.Sprintf("<unknown>: pc %d", pc.Offset)
	}
	name := pc.Code.Name
	if name == "" {
		name = fmt.Sprintf("bytecode %d", pc.Code.Index)
	}
	if line, ok := pc.Code.Debug.LineAt(pc.Offset); ok {
		desc := fmt.Sprintf("%s: line %d, pc %d", name, line, pc.Offset)
		if src := pc.Code.Debug.SourceLine(line); src != "" {
			desc += "   " + src
		}
		return desc
	}
	return fmt.Sprintf("%s: pc %d", name, pc.Offset)
}

// ---------------------------------------------------------------------------
// CodeTable: stable indices for bytecode
// ---------------------------------------------------------------------------

const noCodeIndex = math.MaxUint32

// CodeTable owns every Bytecode of a program. Indices are stable for the
// lifetime of the program, which is what snapshots store in place of
// references.
type CodeTable struct {
	code  []*Bytecode
	index map[*Bytecode]uint32
	names map[string]uint32
}

// NewCodeTable creates an empty table.
func NewCodeTable() *CodeTable {
	return &CodeTable{
		index: make(map[*Bytecode]uint32),
		names: make(map[string]uint32),
	}
}

// Add appends b, assigns its Index and returns it. Adding the same Bytecode
// twice returns the existing index.
func (t *CodeTable) Add(b *Bytecode) uint32 {
	if idx, ok := t.index[b]; ok {
		return idx
	}
	idx := uint32(len(t.code))
	b.Index = idx
	t.code = append(t.code, b)
	t.index[b] = idx
	if b.Name != "" {
		t.names[b.Name] = idx
	}
	return idx
}

// Get returns the bytecode at idx.
func (t *CodeTable) Get(idx uint32) (*Bytecode, error) {
	if int(idx) >= len(t.code) {
		return nil, internalErrorf(ErrInvalidCodeIndex, "index %d (table has %d)", idx, len(t.code))
	}
	return t.code[idx], nil
}

// IndexOf returns b's index.
func (t *CodeTable) IndexOf(b *Bytecode) (uint32, bool) {
	idx, ok := t.index[b]
	return idx, ok
}

// Lookup finds bytecode by name.
func (t *CodeTable) Lookup(name string) (*Bytecode, bool) {
	idx, ok := t.names[name]
	if !ok {
		return nil, false
	}
	return t.code[idx], true
}

// Len returns the number of entries.
func (t *CodeTable) Len() int { return len(t.code) }

// All returns the entries in index order.
func (t *CodeTable) All() []*Bytecode { return t.code }

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
	lines []LineEntry
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Line records that code emitted from here on belongs to a source line.
func (b *BytecodeBuilder) Line(line int) {
	if n := len(b.lines); n > 0 && b.lines[n-1].Offset == len(b.bytes) {
		b.lines[n-1].Line = line
		return
	}
	b.lines = append(b.lines, LineEntry{Offset: len(b.bytes), Line: line})
}

// Build wraps the emitted code in a Bytecode. Line information is attached
// when source is non-empty or lines were recorded.
func (b *BytecodeBuilder) Build(name string, argc, retc int, source string) *Bytecode {
	bc := &Bytecode{Name: name, Code: b.bytes, ArgCount: argc, RetCount: retc}
	if source != "" || len(b.lines) > 0 {
		bc.Debug = &DebugSymbols{File: name, Source: source, Lines: b.lines}
	}
	return bc
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitUint8 appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitUint8(op Opcode, operand uint8) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint32 appends an opcode with a 32-bit operand in host byte order.
func (b *BytecodeBuilder) EmitUint32(op Opcode, operand uint32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.NativeEndian.AppendUint32(b.bytes, operand)
}

// EmitInt32 appends an opcode with a signed 32-bit operand.
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.EmitUint32(op, uint32(operand))
}

// EmitInt64 appends an opcode with a signed 64-bit operand.
func (b *BytecodeBuilder) EmitInt64(op Opcode, operand int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.NativeEndian.AppendUint64(b.bytes, uint64(operand))
}

// EmitFloat64 appends an opcode with a 64-bit float operand.
func (b *BytecodeBuilder) EmitFloat64(op Opcode, operand float64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.NativeEndian.AppendUint64(b.bytes, math.Float64bits(operand))
}

// EmitString appends ldi_string.
func (b *BytecodeBuilder) EmitString(s string) {
	b.EmitUint32(OpLdiString, uint32(len(s)))
	b.bytes = append(b.bytes, s...)
}

// EmitCall appends a call to the bytecode at index.
func (b *BytecodeBuilder) EmitCall(index uint32, argc uint8) {
	b.EmitUint32(OpCall, index)
	b.bytes = append(b.bytes, argc)
}

// EmitNative appends a native call.
func (b *BytecodeBuilder) EmitNative(index uint32, argc uint8) {
	b.EmitUint32(OpNat, index)
	b.bytes = append(b.bytes, argc)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target, possibly not yet placed.
type Label struct {
	resolved bool
	position int
	refs     []int // operand positions waiting for this label
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		binary.NativeEndian.PutUint32(b.bytes[ref:], uint32(label.position))
	}
	label.refs = nil
}

// EmitJump emits jmp or bcond to a label. Targets are absolute offsets.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	if label.resolved {
		b.EmitUint32(op, uint32(label.position))
		return
	}
	b.EmitUint32(op, 0)
	label.refs = append(label.refs, len(b.bytes)-4)
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader decodes instructions and operands.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

func (r *BytecodeReader) need(n int) {
	if r.pos+n > len(r.bytes) {
		panic(internalErrorf(ErrCorruptBytecode, "operand underflow at %d", r.pos))
	}
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	r.need(1)
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadUint8 reads a single byte operand.
func (r *BytecodeReader) ReadUint8() uint8 {
	r.need(1)
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint32 reads a 32-bit operand.
func (r *BytecodeReader) ReadUint32() uint32 {
	r.need(4)
	v := binary.NativeEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v
}

// ReadInt32 reads a signed 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadInt64 reads a signed 64-bit operand.
func (r *BytecodeReader) ReadInt64() int64 {
	r.need(8)
	v := binary.NativeEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return int64(v)
}

// ReadFloat64 reads a 64-bit float operand.
func (r *BytecodeReader) ReadFloat64() float64 {
	return math.Float64frombits(uint64(r.ReadInt64()))
}

// ReadString reads a length-prefixed string operand.
func (r *BytecodeReader) ReadString() string {
	n := int(r.ReadUint32())
	r.need(n)
	s := string(r.bytes[r.pos : r.pos+n])
	r.pos += n
	return s
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at the reader's
// position and advances past it.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	name := op.Name()

	switch op {
	case OpLdiF64:
		return fmt.Sprintf("%04d  %s %g", pos, name, r.ReadFloat64())
	case OpLdiS32:
		return fmt.Sprintf("%04d  %s %d", pos, name, r.ReadInt32())
	case OpLdiS64:
		return fmt.Sprintf("%04d  %s %d", pos, name, r.ReadInt64())
	case OpLdiString:
		return fmt.Sprintf("%04d  %s %q", pos, name, r.ReadString())
	case OpJmp, OpBcond:
		return fmt.Sprintf("%04d  %s -> %04d", pos, name, r.ReadUint32())
	case OpCall, OpNat:
		idx := r.ReadUint32()
		argc := r.ReadUint8()
		return fmt.Sprintf("%04d  %s %d argc=%d", pos, name, idx, argc)
	case OpCalli, OpRet:
		return fmt.Sprintf("%04d  %s %d", pos, name, r.ReadUint8())
	}

	switch op.Info().OperandBytes {
	case 4:
		return fmt.Sprintf("%04d  %s %d", pos, name, r.ReadUint32())
	case 0:
		return fmt.Sprintf("%04d  %s", pos, name)
	default:
		r.Seek(r.Position() + op.Info().OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, name)
	}
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var lines []string
	for r.HasMore() {
		lines = append(lines, DisassembleInstruction(r))
	}
	return strings.Join(lines, "\n")
}
