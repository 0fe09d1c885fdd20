package vm

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// WorldState: what the executor may touch outside its own stack
// ---------------------------------------------------------------------------

// WorldState is the mutable world the dispatcher hands to the executor.
// The executor and the natives reach instances, globals and resources only
// through this interface.
type WorldState interface {
	Serializable
	Instance(id int64) (*Instance, bool)
	Instances() []*Instance
	Global(id uint32) *Variable
	Resources() *Resources
}

// ---------------------------------------------------------------------------
// Instance
// ---------------------------------------------------------------------------

// Instance is a live object in the world.
type Instance struct {
	ID     int64
	Object int // index into Program.Objects
	Active bool
	vars   map[uint32]*Variable
}

// Var returns the slot for variable id, creating it as undefined.
func (inst *Instance) Var(id uint32) *Variable {
	if inst.vars == nil {
		inst.vars = make(map[uint32]*Variable)
	}
	v, ok := inst.vars[id]
	if !ok {
		v = &Variable{}
		inst.vars[id] = v
	}
	return v
}

// Lookup returns variable id if it has been set.
func (inst *Instance) Lookup(id uint32) (*Variable, bool) {
	v, ok := inst.vars[id]
	return v, ok
}

// VarCount returns the number of variables set on the instance.
func (inst *Instance) VarCount() int { return len(inst.vars) }

func (inst *Instance) release() {
	for _, v := range inst.vars {
		v.Cleanup()
	}
	inst.vars = nil
}

func serializeVariableRef(s *StateStream, v **Variable) error {
	if !s.Writing() {
		*v = &Variable{}
	}
	return (*v).Serialize(s)
}

func (inst *Instance) Serialize(s *StateStream) error {
	if err := SerializePOD(s, &inst.ID); err != nil {
		return err
	}
	obj := int32(inst.Object)
	if err := SerializePOD(s, &obj); err != nil {
		return err
	}
	inst.Object = int(obj)
	if err := SerializePOD(s, &inst.Active); err != nil {
		return err
	}
	if !s.Writing() {
		inst.release()
	}
	if inst.vars == nil {
		inst.vars = make(map[uint32]*Variable)
	}
	return SerializeMap(s, &inst.vars, serializeVariableRef)
}

// ---------------------------------------------------------------------------
// Resources: one handle table per resource kind
// ---------------------------------------------------------------------------

// Resources holds every handle-addressed heap resource. Handle spaces are
// independent per kind.
type Resources struct {
	Lists      *HandleTable[DSList]
	Maps       *HandleTable[DSMap]
	Grids      *HandleTable[DSGrid]
	Stacks     *HandleTable[DSStack]
	Queues     *HandleTable[DSQueue]
	Priorities *HandleTable[DSPriority]
	Buffers    *HandleTable[Buffer]

	cmp      DSComparator
	external map[Handle]bool // buffers owned by the host
}

// NewResources creates empty tables.
func NewResources(epsilon float64) *Resources {
	return &Resources{
		Lists:      NewHandleTable[DSList]("list"),
		Maps:       NewHandleTable[DSMap]("map"),
		Grids:      NewHandleTable[DSGrid]("grid"),
		Stacks:     NewHandleTable[DSStack]("stack"),
		Queues:     NewHandleTable[DSQueue]("queue"),
		Priorities: NewHandleTable[DSPriority]("priority"),
		Buffers:    NewHandleTable[Buffer]("buffer"),
		cmp:        DSComparator{Epsilon: epsilon},
		external:   make(map[Handle]bool),
	}
}

// Comparator returns the comparator used by maps, priorities and sorts.
func (r *Resources) Comparator() DSComparator { return r.cmp }

// SetEpsilon changes the numeric tolerance of the comparator.
func (r *Resources) SetEpsilon(eps float64) { r.cmp.Epsilon = eps }

// NewMap creates a map bound to the shared comparator.
func (r *Resources) NewMap() (Handle, *DSMap) {
	m := &DSMap{cmp: &r.cmp}
	return r.Maps.New(m), m
}

// NewPriority creates a priority queue bound to the shared comparator.
func (r *Resources) NewPriority() (Handle, *DSPriority) {
	p := &DSPriority{cmp: &r.cmp}
	return r.Priorities.New(p), p
}

// AddExistingBuffer registers a buffer owned by the host.
func (r *Resources) AddExistingBuffer(b *Buffer) Handle {
	h := r.Buffers.New(b)
	r.external[h] = true
	return h
}

// RemoveExistingBuffer unregisters a host-owned buffer without releasing it.
func (r *Resources) RemoveExistingBuffer(h Handle) bool {
	if !r.external[h] {
		return false
	}
	delete(r.external, h)
	_, ok := r.Buffers.Remove(h)
	return ok
}

// DeleteBuffer releases a buffer created by script code.
func (r *Resources) DeleteBuffer(h Handle) error {
	if r.external[h] {
		return scriptErrorf(ErrMisc, "buffer %d is owned by the host", h)
	}
	if !r.Buffers.Delete(h) {
		return scriptErrorf(ErrStaleHandle, "buffer %d does not exist", h)
	}
	return nil
}

// Clear deletes every resource.
func (r *Resources) Clear() {
	r.Lists.Clear()
	r.Maps.Clear()
	r.Grids.Clear()
	r.Stacks.Clear()
	r.Queues.Clear()
	r.Priorities.Clear()
	r.Buffers.Clear()
	clear(r.external)
}

// Serialize writes or reads every table, each bracketed by a canary.
func (r *Resources) Serialize(s *StateStream) error {
	if err := SerializePOD(s, &r.cmp.Epsilon); err != nil {
		return err
	}
	sections := []func() error{
		func() error { return r.Lists.Serialize(s, serializeElem[DSList]) },
		func() error {
			return r.Maps.Serialize(s, func(s *StateStream, m *DSMap) error {
				m.cmp = &r.cmp
				return m.Serialize(s)
			})
		},
		func() error { return r.Grids.Serialize(s, serializeElem[DSGrid]) },
		func() error { return r.Stacks.Serialize(s, serializeElem[DSStack]) },
		func() error { return r.Queues.Serialize(s, serializeElem[DSQueue]) },
		func() error {
			return r.Priorities.Serialize(s, func(s *StateStream, p *DSPriority) error {
				p.cmp = &r.cmp
				return p.Serialize(s)
			})
		},
		func() error { return r.Buffers.Serialize(s, serializeElem[Buffer]) },
	}
	for _, section := range sections {
		if err := section(); err != nil {
			return err
		}
		if err := SerializeCanary(s, SectionCanary); err != nil {
			return err
		}
	}
	if !s.Writing() {
		clear(r.external)
	}
	return nil
}

// serializeElem adapts a Serialize method to the HandleTable callback.
func serializeElem[T any, PT interface {
	*T
	Serializable
}](s *StateStream, v *T) error {
	return PT(v).Serialize(s)
}

// ---------------------------------------------------------------------------
// World
// ---------------------------------------------------------------------------

// World is the default WorldState: instances, globals and resources.
type World struct {
	instances map[int64]*Instance
	globals   map[uint32]*Variable
	resources *Resources
	nextID    int64
}

// FirstInstanceID is the id given to the first created instance.
const FirstInstanceID = 100000

// NewWorld creates an empty world.
func NewWorld(epsilon float64) *World {
	return &World{
		instances: make(map[int64]*Instance),
		globals:   make(map[uint32]*Variable),
		resources: NewResources(epsilon),
		nextID:    FirstInstanceID,
	}
}

// CreateInstance adds an active instance of object.
func (w *World) CreateInstance(object int) *Instance {
	inst := &Instance{ID: w.nextID, Object: object, Active: true}
	w.instances[inst.ID] = inst
	w.nextID++
	return inst
}

// DestroyInstance removes an instance and releases its variables.
func (w *World) DestroyInstance(id int64) bool {
	inst, ok := w.instances[id]
	if !ok {
		return false
	}
	inst.release()
	delete(w.instances, id)
	return true
}

func (w *World) Instance(id int64) (*Instance, bool) {
	inst, ok := w.instances[id]
	return inst, ok
}

// Instances returns every instance in ascending id order.
func (w *World) Instances() []*Instance {
	ids := make([]int64, 0, len(w.instances))
	for id := range w.instances {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*Instance, len(ids))
	for i, id := range ids {
		out[i] = w.instances[id]
	}
	return out
}

func (w *World) Global(id uint32) *Variable {
	v, ok := w.globals[id]
	if !ok {
		v = &Variable{}
		w.globals[id] = v
	}
	return v
}

func (w *World) Resources() *Resources { return w.resources }

// Reset destroys every instance, global and resource.
func (w *World) Reset() {
	for _, inst := range w.instances {
		inst.release()
	}
	clear(w.instances)
	for _, v := range w.globals {
		v.Cleanup()
	}
	clear(w.globals)
	w.resources.Clear()
	w.nextID = FirstInstanceID
}

// Serialize writes or reads globals, instances and resources.
func (w *World) Serialize(s *StateStream) error {
	if !s.Writing() {
		w.Reset()
	}
	if err := SerializeCanary(s, SectionCanary); err != nil {
		return err
	}
	if err := SerializeMap(s, &w.globals, serializeVariableRef); err != nil {
		return fmt.Errorf("globals: %w", err)
	}
	if err := SerializeCanary(s, SectionCanary); err != nil {
		return err
	}
	if err := SerializePOD(s, &w.nextID); err != nil {
		return err
	}
	err := SerializeMap(s, &w.instances, func(s *StateStream, inst **Instance) error {
		if !s.Writing() {
			*inst = &Instance{}
		}
		return (*inst).Serialize(s)
	})
	if err != nil {
		return fmt.Errorf("instances: %w", err)
	}
	if err := SerializeCanary(s, SectionCanary); err != nil {
		return err
	}
	if err := w.resources.Serialize(s); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	return nil
}
