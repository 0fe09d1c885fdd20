package vm

import (
	"slices"
	"sort"
)

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func copyOf(v *Variable) Variable {
	var out Variable
	out.Copy(v)
	return out
}

func cleanupAll(vs []Variable) {
	for i := range vs {
		vs[i].Cleanup()
	}
}

func serializeVariables(s *StateStream, vs *[]Variable) error {
	if !s.Writing() {
		cleanupAll(*vs)
	}
	return SerializeSlice(s, vs, func(s *StateStream, v *Variable) error { return v.Serialize(s) })
}

// ---------------------------------------------------------------------------
// DSList
// ---------------------------------------------------------------------------

// NestedKind marks a list element as owning another data structure.
type NestedKind uint8

const (
	NestedNone NestedKind = iota
	NestedList
	NestedMap
)

// DSList is an indexable sequence of Variables.
type DSList struct {
	items  []Variable
	nested map[uint32]NestedKind
}

func (l *DSList) Len() int { return len(l.items) }

func (l *DSList) checkIndex(i int) error {
	if i < 0 || i >= len(l.items) {
		return scriptErrorf(ErrOutOfBounds, "list index %d (size %d)", i, len(l.items))
	}
	return nil
}

// Add appends a copy of v.
func (l *DSList) Add(v *Variable) {
	l.items = append(l.items, copyOf(v))
}

// Get returns the element at i.
func (l *DSList) Get(i int) (*Variable, error) {
	if err := l.checkIndex(i); err != nil {
		return nil, err
	}
	return &l.items[i], nil
}

// Set stores a copy of v at i, padding with undefined if i is past the end.
func (l *DSList) Set(i int, v *Variable) error {
	if i < 0 {
		return scriptErrorf(ErrOutOfBounds, "list index %d", i)
	}
	for len(l.items) <= i {
		l.items = append(l.items, Undefined())
	}
	l.items[i].Set(v)
	return nil
}

// Insert places a copy of v before index i.
func (l *DSList) Insert(i int, v *Variable) error {
	if i < 0 || i > len(l.items) {
		return scriptErrorf(ErrOutOfBounds, "list index %d (size %d)", i, len(l.items))
	}
	l.items = slices.Insert(l.items, i, copyOf(v))
	l.shiftNested(i, 1)
	return nil
}

// Delete removes the element at i.
func (l *DSList) Delete(i int) error {
	if err := l.checkIndex(i); err != nil {
		return err
	}
	l.items[i].Cleanup()
	l.items = slices.Delete(l.items, i, i+1)
	delete(l.nested, uint32(i))
	l.shiftNested(i+1, -1)
	return nil
}

// shiftNested moves the nested marks at or after from by delta.
func (l *DSList) shiftNested(from, delta int) {
	if len(l.nested) == 0 {
		return
	}
	moved := make(map[uint32]NestedKind, len(l.nested))
	for k, kind := range l.nested {
		if int(k) >= from {
			k = uint32(int(k) + delta)
		}
		moved[k] = kind
	}
	l.nested = moved
}

// Find returns the index of the first element equal to v, or -1.
func (l *DSList) Find(v *Variable) int {
	for i := range l.items {
		if Equal(&l.items[i], v) {
			return i
		}
	}
	return -1
}

// Sort orders the elements with c.
func (l *DSList) Sort(c DSComparator, ascending bool) error {
	var err error
	sort.SliceStable(l.items, func(i, j int) bool {
		r, e := c.Compare(&l.items[i], &l.items[j])
		if e != nil && err == nil {
			err = e
		}
		if ascending {
			return r < 0
		}
		return r > 0
	})
	return err
}

// Mark records that element i owns a nested structure.
func (l *DSList) Mark(i int, kind NestedKind) error {
	if err := l.checkIndex(i); err != nil {
		return err
	}
	if l.nested == nil {
		l.nested = make(map[uint32]NestedKind)
	}
	if kind == NestedNone {
		delete(l.nested, uint32(i))
	} else {
		l.nested[uint32(i)] = kind
	}
	return nil
}

// Marked returns the nested kind of element i.
func (l *DSList) Marked(i int) NestedKind {
	return l.nested[uint32(i)]
}

func (l *DSList) Clear() {
	cleanupAll(l.items)
	l.items = l.items[:0]
	l.nested = nil
}

func (l *DSList) Release() { l.Clear() }

func (l *DSList) Serialize(s *StateStream) error {
	if err := serializeVariables(s, &l.items); err != nil {
		return err
	}
	if l.nested == nil {
		l.nested = make(map[uint32]NestedKind)
	}
	return SerializeMap(s, &l.nested, SerializePOD[NestedKind])
}

// ---------------------------------------------------------------------------
// DSMap
// ---------------------------------------------------------------------------

type dsEntry struct {
	key   Variable
	value Variable
}

// DSMap is an ordered map keyed by the data structure comparator.
type DSMap struct {
	entries []dsEntry
	cmp     *DSComparator
}

func (m *DSMap) comparator() DSComparator {
	if m.cmp == nil {
		return DSComparator{Epsilon: DefaultEpsilon}
	}
	return *m.cmp
}

func (m *DSMap) Len() int { return len(m.entries) }

// search returns the position of k and whether it is present.
func (m *DSMap) search(k *Variable) (int, bool, error) {
	c := m.comparator()
	var err error
	i := sort.Search(len(m.entries), func(i int) bool {
		r, e := c.Compare(&m.entries[i].key, k)
		if e != nil {
			err = e
		}
		return r >= 0
	})
	if err != nil {
		return 0, false, err
	}
	if i < len(m.entries) {
		r, e := c.Compare(&m.entries[i].key, k)
		if e != nil {
			return 0, false, e
		}
		return i, r == 0, nil
	}
	return i, false, nil
}

// Add inserts k → v unless k is present. It reports whether it inserted.
func (m *DSMap) Add(k, v *Variable) (bool, error) {
	i, found, err := m.search(k)
	if err != nil || found {
		return false, err
	}
	m.entries = slices.Insert(m.entries, i, dsEntry{key: copyOf(k), value: copyOf(v)})
	return true, nil
}

// Replace sets k → v, inserting if needed.
func (m *DSMap) Replace(k, v *Variable) error {
	i, found, err := m.search(k)
	if err != nil {
		return err
	}
	if found {
		m.entries[i].value.Set(v)
		return nil
	}
	m.entries = slices.Insert(m.entries, i, dsEntry{key: copyOf(k), value: copyOf(v)})
	return nil
}

// Find returns the value for k.
func (m *DSMap) Find(k *Variable) (*Variable, bool, error) {
	i, found, err := m.search(k)
	if err != nil || !found {
		return nil, false, err
	}
	return &m.entries[i].value, true, nil
}

// Delete removes k if present.
func (m *DSMap) Delete(k *Variable) error {
	i, found, err := m.search(k)
	if err != nil || !found {
		return err
	}
	m.entries[i].key.Cleanup()
	m.entries[i].value.Cleanup()
	m.entries = slices.Delete(m.entries, i, i+1)
	return nil
}

// First returns the smallest key.
func (m *DSMap) First() (*Variable, bool) {
	if len(m.entries) == 0 {
		return nil, false
	}
	return &m.entries[0].key, true
}

// Last returns the largest key.
func (m *DSMap) Last() (*Variable, bool) {
	if len(m.entries) == 0 {
		return nil, false
	}
	return &m.entries[len(m.entries)-1].key, true
}

// Next returns the key following k.
func (m *DSMap) Next(k *Variable) (*Variable, bool, error) {
	i, found, err := m.search(k)
	if err != nil {
		return nil, false, err
	}
	if found {
		i++
	}
	if i >= len(m.entries) {
		return nil, false, nil
	}
	return &m.entries[i].key, true, nil
}

// Prev returns the key preceding k.
func (m *DSMap) Prev(k *Variable) (*Variable, bool, error) {
	i, _, err := m.search(k)
	if err != nil {
		return nil, false, err
	}
	if i == 0 {
		return nil, false, nil
	}
	return &m.entries[i-1].key, true, nil
}

func (m *DSMap) Clear() {
	for i := range m.entries {
		m.entries[i].key.Cleanup()
		m.entries[i].value.Cleanup()
	}
	m.entries = m.entries[:0]
}

func (m *DSMap) Release() { m.Clear() }

func (m *DSMap) Serialize(s *StateStream) error {
	if !s.Writing() {
		m.Clear()
	}
	return SerializeSlice(s, &m.entries, func(s *StateStream, e *dsEntry) error {
		if err := e.key.Serialize(s); err != nil {
			return err
		}
		return e.value.Serialize(s)
	})
}

// ---------------------------------------------------------------------------
// DSGrid
// ---------------------------------------------------------------------------

// DSGrid is a width × height table addressed as [x][y].
type DSGrid struct {
	width, height int
	cells         []Variable // column-major: x*height + y
}

// NewDSGrid creates a grid filled with real 0.
func NewDSGrid(width, height int) *DSGrid {
	g := &DSGrid{}
	g.Resize(width, height)
	return g
}

func (g *DSGrid) Width() int  { return g.width }
func (g *DSGrid) Height() int { return g.height }

func (g *DSGrid) index(x, y int) (int, error) {
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return 0, scriptErrorf(ErrOutOfBounds, "grid cell [%d, %d] (size %dx%d)", x, y, g.width, g.height)
	}
	return x*g.height + y, nil
}

// Get returns the cell at [x][y].
func (g *DSGrid) Get(x, y int) (*Variable, error) {
	i, err := g.index(x, y)
	if err != nil {
		return nil, err
	}
	return &g.cells[i], nil
}

// Set stores a copy of v at [x][y].
func (g *DSGrid) Set(x, y int, v *Variable) error {
	i, err := g.index(x, y)
	if err != nil {
		return err
	}
	g.cells[i].Set(v)
	return nil
}

// Resize changes the dimensions, keeping the overlapping cells.
func (g *DSGrid) Resize(width, height int) {
	width, height = max(0, width), max(0, height)
	cells := make([]Variable, width*height)
	for x := range width {
		for y := range height {
			if x < g.width && y < g.height {
				cells[x*height+y] = g.cells[x*g.height+y].Move()
			} else {
				cells[x*height+y] = Real(0)
			}
		}
	}
	cleanupAll(g.cells)
	g.cells, g.width, g.height = cells, width, height
}

// Fill sets every cell to a copy of v.
func (g *DSGrid) Fill(v *Variable) {
	for i := range g.cells {
		g.cells[i].Set(v)
	}
}

func (g *DSGrid) Release() {
	cleanupAll(g.cells)
	g.cells = nil
	g.width, g.height = 0, 0
}

func (g *DSGrid) Serialize(s *StateStream) error {
	w, h := uint32(g.width), uint32(g.height)
	if err := SerializePOD(s, &w); err != nil {
		return err
	}
	if err := SerializePOD(s, &h); err != nil {
		return err
	}
	if err := serializeVariables(s, &g.cells); err != nil {
		return err
	}
	if !s.Writing() {
		if int(w)*int(h) != len(g.cells) {
			return internalErrorf(ErrCorruptSnapshot, "grid %dx%d holds %d cells", w, h, len(g.cells))
		}
		g.width, g.height = int(w), int(h)
	}
	return nil
}

// ---------------------------------------------------------------------------
// DSStack and DSQueue
// ---------------------------------------------------------------------------

// DSStack is a LIFO of Variables.
type DSStack struct {
	items []Variable
}

func (st *DSStack) Len() int { return len(st.items) }

func (st *DSStack) Push(v *Variable) { st.items = append(st.items, copyOf(v)) }

// Pop moves the top element out. ok is false when empty.
func (st *DSStack) Pop() (Variable, bool) {
	if len(st.items) == 0 {
		return Undefined(), false
	}
	v := st.items[len(st.items)-1].Move()
	st.items = st.items[:len(st.items)-1]
	return v, true
}

// Top returns the top element.
func (st *DSStack) Top() (*Variable, bool) {
	if len(st.items) == 0 {
		return nil, false
	}
	return &st.items[len(st.items)-1], true
}

func (st *DSStack) Clear() {
	cleanupAll(st.items)
	st.items = st.items[:0]
}

func (st *DSStack) Release() { st.Clear() }

func (st *DSStack) Serialize(s *StateStream) error { return serializeVariables(s, &st.items) }

// DSQueue is a FIFO of Variables.
type DSQueue struct {
	items []Variable
}

func (q *DSQueue) Len() int { return len(q.items) }

func (q *DSQueue) Enqueue(v *Variable) { q.items = append(q.items, copyOf(v)) }

// Dequeue moves the head element out. ok is false when empty.
func (q *DSQueue) Dequeue() (Variable, bool) {
	if len(q.items) == 0 {
		return Undefined(), false
	}
	v := q.items[0].Move()
	q.items = slices.Delete(q.items, 0, 1)
	return v, true
}

// Head returns the oldest element.
func (q *DSQueue) Head() (*Variable, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return &q.items[0], true
}

// Tail returns the newest element.
func (q *DSQueue) Tail() (*Variable, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return &q.items[len(q.items)-1], true
}

func (q *DSQueue) Clear() {
	cleanupAll(q.items)
	q.items = q.items[:0]
}

func (q *DSQueue) Release() { q.Clear() }

func (q *DSQueue) Serialize(s *StateStream) error { return serializeVariables(s, &q.items) }

// ---------------------------------------------------------------------------
// DSPriority
// ---------------------------------------------------------------------------

type priorityChain struct {
	priority Variable
	values   []Variable // FIFO among equal priorities
}

// DSPriority is a priority queue. Values with equal priority leave in
// insertion order.
type DSPriority struct {
	chains []priorityChain // ascending by priority
	size   int
	cmp    *DSComparator
}

func (p *DSPriority) comparator() DSComparator {
	if p.cmp == nil {
		return DSComparator{Epsilon: DefaultEpsilon}
	}
	return *p.cmp
}

func (p *DSPriority) Len() int { return p.size }

// Add queues a copy of v with the given priority.
func (p *DSPriority) Add(v, priority *Variable) error {
	c := p.comparator()
	var err error
	i := sort.Search(len(p.chains), func(i int) bool {
		r, e := c.Compare(&p.chains[i].priority, priority)
		if e != nil {
			err = e
		}
		return r >= 0
	})
	if err != nil {
		return err
	}
	if i < len(p.chains) {
		if r, _ := c.Compare(&p.chains[i].priority, priority); r == 0 {
			p.chains[i].values = append(p.chains[i].values, copyOf(v))
			p.size++
			return nil
		}
	}
	p.chains = slices.Insert(p.chains, i, priorityChain{priority: copyOf(priority), values: []Variable{copyOf(v)}})
	p.size++
	return nil
}

// FindMin returns the oldest value with the lowest priority.
func (p *DSPriority) FindMin() (*Variable, bool) {
	if len(p.chains) == 0 {
		return nil, false
	}
	return &p.chains[0].values[0], true
}

// FindMax returns the oldest value with the highest priority.
func (p *DSPriority) FindMax() (*Variable, bool) {
	if len(p.chains) == 0 {
		return nil, false
	}
	return &p.chains[len(p.chains)-1].values[0], true
}

func (p *DSPriority) take(i int) Variable {
	ch := &p.chains[i]
	v := ch.values[0].Move()
	ch.values = slices.Delete(ch.values, 0, 1)
	if len(ch.values) == 0 {
		ch.priority.Cleanup()
		p.chains = slices.Delete(p.chains, i, i+1)
	}
	p.size--
	return v
}

// DeleteMin removes and returns FindMin's value.
func (p *DSPriority) DeleteMin() (Variable, bool) {
	if len(p.chains) == 0 {
		return Undefined(), false
	}
	return p.take(0), true
}

// DeleteMax removes and returns FindMax's value.
func (p *DSPriority) DeleteMax() (Variable, bool) {
	if len(p.chains) == 0 {
		return Undefined(), false
	}
	return p.take(len(p.chains) - 1), true
}

func (p *DSPriority) Clear() {
	for i := range p.chains {
		p.chains[i].priority.Cleanup()
		cleanupAll(p.chains[i].values)
	}
	p.chains = p.chains[:0]
	p.size = 0
}

func (p *DSPriority) Release() { p.Clear() }

func (p *DSPriority) Serialize(s *StateStream) error {
	if !s.Writing() {
		p.Clear()
	}
	err := SerializeSlice(s, &p.chains, func(s *StateStream, ch *priorityChain) error {
		if err := ch.priority.Serialize(s); err != nil {
			return err
		}
		return serializeVariables(s, &ch.values)
	})
	if err != nil {
		return err
	}
	if !s.Writing() {
		p.size = 0
		for _, ch := range p.chains {
			p.size += len(ch.values)
		}
	}
	return nil
}
