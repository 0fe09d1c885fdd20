package vm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ---------------------------------------------------------------------------
// Error policy
// ---------------------------------------------------------------------------

// Policy tells the dispatcher what to do after a script error.
type Policy int

const (
	// Continue skips the failed handler and runs the remaining instances.
	Continue Policy = iota
	// Abort stops the dispatch and returns the error.
	Abort
)

func (p Policy) String() string {
	if p == Abort {
		return "abort"
	}
	return "continue"
}

// ErrorHandler decides how dispatch proceeds after a script error in the
// handler of inst.
type ErrorHandler func(inst *Instance, trace *ExceptionTrace) Policy

// DispatchStats counts handler runs since the dispatcher was created.
type DispatchStats struct {
	Handled int
	Failed  int
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher drives the executor once per event over the live instances of
// its world. It runs on the interpreter thread only; background work reaches
// it through the AsyncQueue.
type Dispatcher struct {
	exec    *Executor
	onError ErrorHandler
	async   *AsyncQueue
	stats   DispatchStats
}

// NewDispatcher creates a dispatcher for e. Script errors continue by
// default.
func NewDispatcher(e *Executor) *Dispatcher {
	return &Dispatcher{
		exec:    e,
		onError: func(*Instance, *ExceptionTrace) Policy { return Continue },
		async:   &AsyncQueue{},
	}
}

// OnError installs the script error handler.
func (d *Dispatcher) OnError(h ErrorHandler) {
	if h == nil {
		h = func(*Instance, *ExceptionTrace) Policy { return Continue }
	}
	d.onError = h
}

// Executor returns the executor being driven.
func (d *Dispatcher) Executor() *Executor { return d.exec }

// Stats returns the handler counters.
func (d *Dispatcher) Stats() DispatchStats { return d.stats }

// Async returns the queue background work delivers results to.
func (d *Dispatcher) Async() *AsyncQueue { return d.async }

// DispatchStatic runs ev for every active instance in ascending id order.
func (d *Dispatcher) DispatchStatic(ev StaticEvent) error {
	prog := d.exec.Program()
	for _, inst := range d.exec.World().Instances() {
		if !inst.Active {
			continue
		}
		if err := d.run(inst, ev.String(), prog.HandlerFor(inst.Object, ev)); err != nil {
			return err
		}
	}
	return nil
}

// DispatchDynamic runs a dynamic pair for every active instance. Pairs that
// map onto a static event dispatch as that event.
func (d *Dispatcher) DispatchDynamic(ev DynamicEvent, sub DynamicSubEvent) error {
	if se, ok := DynamicToStatic(ev, sub); ok {
		return d.DispatchStatic(se)
	}
	prog := d.exec.Program()
	name := EventKey{ev, sub}.String()
	for _, inst := range d.exec.World().Instances() {
		if !inst.Active {
			continue
		}
		if err := d.run(inst, name, prog.DynamicHandlerFor(inst.Object, ev, sub)); err != nil {
			return err
		}
	}
	return nil
}

// DispatchInstance runs ev for a single instance.
func (d *Dispatcher) DispatchInstance(inst *Instance, ev StaticEvent) error {
	if !inst.Active {
		return nil
	}
	return d.run(inst, ev.String(), d.exec.Program().HandlerFor(inst.Object, ev))
}

// run executes b with inst as self. A nil b is a no-op.
func (d *Dispatcher) run(inst *Instance, event string, b *Bytecode) error {
	if b == nil {
		return nil
	}
	dispatchLog.Debugf("%s: instance %d runs %s", event, inst.ID, b.Name)
	d.stats.Handled++

	e := d.exec
	e.PushSelf(inst)
	rets, err := e.Execute(b)
	if err == nil {
		cleanupAll(rets)
		e.PopSelf()
		return nil
	}
	d.stats.Failed++

	var trace *ExceptionTrace
	if !errors.As(err, &trace) {
		trace = &ExceptionTrace{Err: err}
	}
	switch Classify(err) {
	case ClassScript:
		dispatchLog.Warningf("%s event of instance %d failed: %v\n%s", event, inst.ID, trace.Err, trace.TraceString())
		if d.onError(inst, trace) == Abort {
			return err
		}
		return nil
	default:
		dispatchLog.Errorf("%s event of instance %d: %v\n%s", event, inst.ID, trace.Err, trace.TraceString())
		return err
	}
}

// ---------------------------------------------------------------------------
// Async delivery
// ---------------------------------------------------------------------------

// AsyncResult is a completed background operation addressed to one
// instance. Info values may be strings, numbers or bools.
type AsyncResult struct {
	Listener int64
	Sub      DynamicSubEvent
	Info     map[string]any
}

// AsyncQueue collects results from background goroutines. Deliver is safe
// for concurrent use; results are only acted upon by Dispatcher.Poll.
type AsyncQueue struct {
	mu      sync.Mutex
	pending []AsyncResult
}

// Deliver queues r for the next Poll.
func (q *AsyncQueue) Deliver(r AsyncResult) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
}

// Len returns the number of undelivered results.
func (q *AsyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *AsyncQueue) drain() []AsyncResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func asyncValue(v any) Variable {
	switch x := v.(type) {
	case nil:
		return Undefined()
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		return Real(x)
	case float32:
		return Real(float64(x))
	case int:
		return Real(float64(x))
	case int32:
		return Real(float64(x))
	case int64:
		return Int64(x)
	case []byte:
		return String(string(x))
	default:
		return String(fmt.Sprint(x))
	}
}

// Poll delivers every queued result on the interpreter thread. Each result
// is exposed to its listener's handler as a fresh async_load map that lives
// until the handler returns. It returns the number of results handed to a
// live instance.
func (d *Dispatcher) Poll() (int, error) {
	results := d.async.drain()
	delivered := 0
	for i, r := range results {
		inst, ok := d.exec.World().Instance(r.Listener)
		if !ok || !inst.Active {
			dispatchLog.Debugf("async result for missing instance %d dropped", r.Listener)
			continue
		}
		delivered++
		if err := d.deliver(inst, r); err != nil {
			// requeue what was not reached
			for _, rest := range results[i+1:] {
				d.async.Deliver(rest)
			}
			return delivered, err
		}
	}
	return delivered, nil
}

// deliver runs the async handler of inst with r loaded into async_load.
func (d *Dispatcher) deliver(inst *Instance, r AsyncResult) error {
	res := d.exec.World().Resources()
	h, m := res.NewMap()
	d.exec.asyncLoad = h
	defer func() {
		d.exec.asyncLoad = -1
		// The handler may have destroyed async_load and reused its handle.
		if cur, err := res.Maps.Get(h); err == nil && cur == m {
			res.Maps.Delete(h)
		}
	}()

	for _, k := range slices.Sorted(maps.Keys(r.Info)) {
		key, val := String(k), asyncValue(r.Info[k])
		err := m.Replace(&key, &val)
		key.Cleanup()
		val.Cleanup()
		if err != nil {
			return err
		}
	}
	b := d.exec.Program().DynamicHandlerFor(inst.Object, DynOther, r.Sub)
	return d.run(inst, EventKey{DynOther, r.Sub}.String(), b)
}
