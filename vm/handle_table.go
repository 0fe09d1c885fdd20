package vm

import "fmt"

// ---------------------------------------------------------------------------
// HandleTable: integer handles over heap resources
// ---------------------------------------------------------------------------

// Handle identifies a live resource within one HandleTable.
type Handle int

// releaser is implemented by resources that hold Variables and must drop
// their references when deleted.
type releaser interface {
	Release()
}

// HandleTable hands out small integer handles for resources of one kind.
// Deleted slots are reused smallest-first so the live handle space stays
// dense under heavy create/destroy churn.
type HandleTable[T any] struct {
	kind    string
	entries []*T
	live    int
	minFree int // no free slot exists below this index
}

// NewHandleTable creates an empty table. kind names the resource in error
// messages.
func NewHandleTable[T any](kind string) *HandleTable[T] {
	return &HandleTable[T]{kind: kind}
}

// Kind returns the resource name used in error messages.
func (t *HandleTable[T]) Kind() string { return t.kind }

// New stores v and returns its handle.
func (t *HandleTable[T]) New(v *T) Handle {
	if v == nil {
		v = new(T)
	}
	for i := t.minFree; i < len(t.entries); i++ {
		if t.entries[i] == nil {
			t.entries[i] = v
			t.minFree = i + 1
			t.live++
			return Handle(i)
		}
	}
	t.entries = append(t.entries, v)
	t.minFree = len(t.entries)
	t.live++
	return Handle(len(t.entries) - 1)
}

// Exists reports whether h refers to a live resource.
func (t *HandleTable[T]) Exists(h Handle) bool {
	return h >= 0 && int(h) < len(t.entries) && t.entries[h] != nil
}

// Get returns the resource for h, or a stale-handle script error.
func (t *HandleTable[T]) Get(h Handle) (*T, error) {
	if !t.Exists(h) {
		return nil, &ScriptError{Kind: ErrStaleHandle, Message: fmt.Sprintf("%s %d does not exist", t.kind, h)}
	}
	return t.entries[h], nil
}

// Delete frees h. It reports whether h was live.
func (t *HandleTable[T]) Delete(h Handle) bool {
	if !t.Exists(h) {
		return false
	}
	if r, ok := any(t.entries[h]).(releaser); ok {
		r.Release()
	}
	t.entries[h] = nil
	t.live--
	if int(h) < t.minFree {
		t.minFree = int(h)
	}
	// Trailing tombstones carry no information.
	for len(t.entries) > 0 && t.entries[len(t.entries)-1] == nil {
		t.entries = t.entries[:len(t.entries)-1]
	}
	t.minFree = min(t.minFree, len(t.entries))
	return true
}

// Remove detaches h without releasing the resource, for resources whose
// lifetime is owned elsewhere.
func (t *HandleTable[T]) Remove(h Handle) (*T, bool) {
	if !t.Exists(h) {
		return nil, false
	}
	v := t.entries[h]
	t.entries[h] = nil
	t.live--
	if int(h) < t.minFree {
		t.minFree = int(h)
	}
	return v, true
}

// Clear deletes every resource.
func (t *HandleTable[T]) Clear() {
	for i := range t.entries {
		t.Delete(Handle(i))
	}
	t.entries = t.entries[:0]
	t.live = 0
	t.minFree = 0
}

// Len returns the number of live resources.
func (t *HandleTable[T]) Len() int { return t.live }

// Handles returns the live handles in ascending order.
func (t *HandleTable[T]) Handles() []Handle {
	out := make([]Handle, 0, t.live)
	for i, e := range t.entries {
		if e != nil {
			out = append(out, Handle(i))
		}
	}
	return out
}

// Serialize writes or reads the table layout and each live element in slot
// order, so handles are identical after a restore. On read the table is
// cleared first.
func (t *HandleTable[T]) Serialize(s *StateStream, elem func(*StateStream, *T) error) error {
	if !s.Writing() {
		t.Clear()
	}
	slots := uint64(len(t.entries))
	if err := SerializePOD(s, &slots); err != nil {
		return err
	}
	if !s.Writing() {
		if slots > uint64(s.Remaining()) {
			return internalErrorf(ErrCorruptSnapshot, "%s table claims %d slots", t.kind, slots)
		}
		t.entries = make([]*T, slots)
	}
	for i := range t.entries {
		present := t.entries[i] != nil
		if err := SerializePOD(s, &present); err != nil {
			return err
		}
		if !present {
			continue
		}
		if !s.Writing() {
			t.entries[i] = new(T)
		}
		if err := elem(s, t.entries[i]); err != nil {
			if !s.Writing() {
				t.entries[i] = nil
				t.recount()
			}
			return fmt.Errorf("%s %d: %w", t.kind, i, err)
		}
	}
	if !s.Writing() {
		t.recount()
	}
	return nil
}

// recount rebuilds the live count and free cursor after entries was
// replaced wholesale.
func (t *HandleTable[T]) recount() {
	t.live = 0
	t.minFree = len(t.entries)
	for i, e := range t.entries {
		if e != nil {
			t.live++
		} else if i < t.minFree {
			t.minFree = i
		}
	}
}
