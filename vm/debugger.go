package vm

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Debugger is consulted before every instruction. It may block to pace
// execution but must not change executor state.
type Debugger interface {
	BeforeInstruction(e *Executor, pc ProgramCounter, op Opcode)
}

// ---------------------------------------------------------------------------
// DebugServer: breakpoints and stepping for front ends
// ---------------------------------------------------------------------------

// DebugServer implements Debugger with breakpoints, pause and stepping. The
// interpreter thread blocks inside BeforeInstruction while paused; a front
// end on another goroutine reads Events and calls Resume or a step method.
type DebugServer struct {
	active      bool
	breakpoints map[breakpointKey]bool
	pauseChan   chan string
	resumeChan  chan struct{}
	eventChan   chan DebugEvent
	mu          sync.Mutex

	// Stepping state
	stepMode  StepMode
	stepDepth int // executor depth when the step began

	// Current pause state
	paused  bool
	lastLoc SourceLocation
}

// breakpointKey identifies a breakpoint by line, or by offset when line is 0.
type breakpointKey struct {
	code   string
	line   int
	offset int
}

// StepMode indicates the current stepping mode.
type StepMode int

const (
	StepNone StepMode = iota
	StepOver
	StepInto
	StepOut
)

// DebugEvent is sent to front ends when execution stops or continues.
type DebugEvent struct {
	Type     string // "stopped", "continued"
	Reason   string // "breakpoint", "step", "pause"
	Location SourceLocation
	Frames   []SourceLocation // innermost first
	Stack    []string         // operand stack, top first
}

// SourceLocation is a position in bytecode and, when symbols exist, source.
type SourceLocation struct {
	Code   string
	Line   int // 0 without symbols
	Offset int
	Source string
}

func (l SourceLocation) String() string {
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.Code, l.Line)
	}
	return fmt.Sprintf("%s@%d", l.Code, l.Offset)
}

func (l SourceLocation) sameLine(o SourceLocation) bool {
	if l.Code != o.Code {
		return false
	}
	if l.Line > 0 {
		return l.Line == o.Line
	}
	return l.Offset == o.Offset
}

func locate(pc ProgramCounter) SourceLocation {
	if pc.Code == nil {
		return SourceLocation{Offset: pc.Offset}
	}
	loc := SourceLocation{Code: pc.Code.Name, Offset: pc.Offset}
	if line, ok := pc.Code.Debug.LineAt(pc.Offset); ok {
		loc.Line = line
		loc.Source = pc.Code.Debug.SourceLine(line)
	}
	return loc
}

// NewDebugServer creates an inactive debug server.
func NewDebugServer() *DebugServer {
	return &DebugServer{
		breakpoints: make(map[breakpointKey]bool),
		pauseChan:   make(chan string, 1),
		resumeChan:  make(chan struct{}, 1),
		eventChan:   make(chan DebugEvent, 16),
	}
}

// Activate enables the debug server.
func (d *DebugServer) Activate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = true
}

// Deactivate disables the debug server and clears its breakpoints.
func (d *DebugServer) Deactivate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.breakpoints = make(map[breakpointKey]bool)
}

// Events returns the channel stop and continue events are sent on.
func (d *DebugServer) Events() <-chan DebugEvent {
	return d.eventChan
}

// SetBreakpoint stops execution when code reaches a source line.
func (d *DebugServer) SetBreakpoint(code string, line int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[breakpointKey{code: code, line: line}] = true
}

// SetOffsetBreakpoint stops execution at a bytecode offset.
func (d *DebugServer) SetOffsetBreakpoint(code string, offset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[breakpointKey{code: code, offset: offset}] = true
}

// RemoveBreakpoint removes a line breakpoint.
func (d *DebugServer) RemoveBreakpoint(code string, line int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := breakpointKey{code: code, line: line}
	if _, exists := d.breakpoints[key]; !exists {
		return fmt.Errorf("no breakpoint at %s:%d", code, line)
	}
	delete(d.breakpoints, key)
	return nil
}

// Pause asks the interpreter to stop before its next instruction.
func (d *DebugServer) Pause() {
	select {
	case d.pauseChan <- "pause":
	default:
	}
}

// Resume continues after a stop.
func (d *DebugServer) Resume() {
	d.resume(StepNone)
}

// StepInto stops at the next source line, entering calls.
func (d *DebugServer) StepInto() { d.resume(StepInto) }

// StepOver stops at the next source line of the current or a calling frame.
func (d *DebugServer) StepOver() { d.resume(StepOver) }

// StepOut stops once the current frame has returned.
func (d *DebugServer) StepOut() { d.resume(StepOut) }

func (d *DebugServer) resume(mode StepMode) {
	d.mu.Lock()
	d.stepMode = mode
	d.paused = false
	d.mu.Unlock()
	select {
	case d.resumeChan <- struct{}{}:
	default:
	}
}

// IsPaused reports whether the interpreter is stopped.
func (d *DebugServer) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// BeforeInstruction implements Debugger.
func (d *DebugServer) BeforeInstruction(e *Executor, pc ProgramCounter, op Opcode) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	loc := locate(pc)
	newLine := !loc.sameLine(d.lastLoc)
	d.lastLoc = loc

	reason := ""
	select {
	case r := <-d.pauseChan:
		reason = r
	default:
	}
	if reason == "" && newLine {
		if d.breakpoints[breakpointKey{code: loc.Code, line: loc.Line}] && loc.Line > 0 {
			reason = "breakpoint"
		}
	}
	if reason == "" && d.breakpoints[breakpointKey{code: loc.Code, offset: loc.Offset}] {
		reason = "breakpoint"
	}
	if reason == "" && newLine {
		depth := e.Depth()
		switch d.stepMode {
		case StepInto:
			reason = "step"
		case StepOver:
			if depth <= d.stepDepth {
				reason = "step"
			}
		case StepOut:
			if depth < d.stepDepth {
				reason = "step"
			}
		}
	}
	if reason == "" {
		d.mu.Unlock()
		return
	}

	d.paused = true
	d.stepDepth = e.Depth()
	d.stepMode = StepNone
	d.mu.Unlock()

	select {
	case <-d.resumeChan: // stale resume from before the stop
	default:
	}
	d.sendEvent(DebugEvent{
		Type:     "stopped",
		Reason:   reason,
		Location: loc,
		Frames:   callStack(e, pc),
		Stack:    stackView(e, 8),
	})
	<-d.resumeChan
	d.sendEvent(DebugEvent{Type: "continued", Location: loc})
}

func (d *DebugServer) sendEvent(ev DebugEvent) {
	select {
	case d.eventChan <- ev:
	default:
		log.Warningf("debug event %s dropped, front end is not reading", ev.Type)
	}
}

// callStack describes pc and every caller, innermost first.
func callStack(e *Executor, pc ProgramCounter) []SourceLocation {
	frames := []SourceLocation{locate(pc)}
	for i := len(e.ra) - 1; i >= 0; i-- {
		if e.ra[i].Code != nil {
			frames = append(frames, locate(e.ra[i]))
		}
	}
	return frames
}

// stackView formats up to n values from the top of the operand stack.
func stackView(e *Executor, n int) []string {
	n = min(n, e.SP())
	out := make([]string, n)
	for i := range n {
		out[i] = e.Peek(i).String()
	}
	return out
}

// ---------------------------------------------------------------------------
// Tracer: structured instruction log
// ---------------------------------------------------------------------------

// Tracer logs every instruction as a structured zerolog event and then
// defers to an optional inner debugger.
type Tracer struct {
	log  zerolog.Logger
	next Debugger
}

// NewTracer writes JSON lines to w.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{log: zerolog.New(w).With().Str("component", "vm").Logger()}
}

// Chain makes d run after every traced instruction.
func (t *Tracer) Chain(d Debugger) *Tracer {
	t.next = d
	return t
}

// BeforeInstruction implements Debugger.
func (t *Tracer) BeforeInstruction(e *Executor, pc ProgramCounter, op Opcode) {
	ev := t.log.Debug().
		Str("op", op.String()).
		Int("pc", pc.Offset).
		Int("sp", e.SP()).
		Int("depth", e.Depth())
	if pc.Code != nil {
		ev = ev.Str("code", pc.Code.Name)
	}
	ev.Msg("step")
	if t.next != nil {
		t.next.BeforeInstruction(e, pc, op)
	}
}
