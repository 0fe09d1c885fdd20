package vm

import (
	"errors"
	"testing"
)

func TestHandleTableUniqueHandles(t *testing.T) {
	tbl := NewHandleTable[DSList]("list")
	seen := make(map[Handle]bool)
	for range 10 {
		h := tbl.New(nil)
		if seen[h] {
			t.Fatalf("handle %d handed out twice", h)
		}
		seen[h] = true
	}
	if tbl.Len() != 10 {
		t.Errorf("Len() = %d, want 10", tbl.Len())
	}
}

func TestHandleTableReusesSmallestFree(t *testing.T) {
	tbl := NewHandleTable[DSList]("list")
	for range 4 {
		tbl.New(nil)
	}
	tbl.Delete(2)
	tbl.Delete(1)
	if h := tbl.New(nil); h != 1 {
		t.Errorf("first reuse = %d, want 1", h)
	}
	if h := tbl.New(nil); h != 2 {
		t.Errorf("second reuse = %d, want 2", h)
	}
	if h := tbl.New(nil); h != 4 {
		t.Errorf("fresh handle = %d, want 4", h)
	}
}

func TestHandleTableDeletedHandleIsStale(t *testing.T) {
	tbl := NewHandleTable[DSMap]("map")
	h := tbl.New(nil)
	if !tbl.Delete(h) {
		t.Fatal("Delete of live handle returned false")
	}
	if tbl.Exists(h) {
		t.Error("handle still exists after Delete")
	}
	if tbl.Delete(h) {
		t.Error("second Delete returned true")
	}
	_, err := tbl.Get(h)
	if !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Get on deleted handle = %v, want stale handle", err)
	}
	if Classify(err) != ClassScript {
		t.Errorf("stale handle classified as %v", Classify(err))
	}
}

func TestHandleTableDeleteReleases(t *testing.T) {
	tbl := NewHandleTable[DSList]("list")
	h := tbl.New(nil)
	l, _ := tbl.Get(h)
	s := String("payload")
	l.Add(&s)
	if s.Refcount() != 2 {
		t.Fatalf("refcount after Add = %d, want 2", s.Refcount())
	}
	tbl.Delete(h)
	if s.Refcount() != 1 {
		t.Errorf("refcount after Delete = %d, want 1", s.Refcount())
	}
	s.Cleanup()
}

func TestHandleTableRemoveDoesNotRelease(t *testing.T) {
	tbl := NewHandleTable[Buffer]("buffer")
	b := NewBuffer(8, BufferFixed, 1)
	h := tbl.New(b)
	got, ok := tbl.Remove(h)
	if !ok || got != b {
		t.Fatalf("Remove = %p, %v; want %p, true", got, ok, b)
	}
	if tbl.Exists(h) {
		t.Error("handle exists after Remove")
	}
	if b.Size() != 8 {
		t.Errorf("removed buffer was modified, size %d", b.Size())
	}
}

func TestHandleTableHandlesAndClear(t *testing.T) {
	tbl := NewHandleTable[DSStack]("stack")
	for range 3 {
		tbl.New(nil)
	}
	tbl.Delete(1)
	hs := tbl.Handles()
	if len(hs) != 2 || hs[0] != 0 || hs[1] != 2 {
		t.Errorf("Handles() = %v, want [0 2]", hs)
	}
	tbl.Clear()
	if tbl.Len() != 0 || len(tbl.Handles()) != 0 {
		t.Errorf("after Clear Len=%d Handles=%v", tbl.Len(), tbl.Handles())
	}
	if h := tbl.New(nil); h != 0 {
		t.Errorf("first handle after Clear = %d, want 0", h)
	}
}
