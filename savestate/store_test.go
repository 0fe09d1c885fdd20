package savestate

import (
	"errors"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T, depth int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "states.db"), depth)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSlots(t *testing.T) {
	s := openStore(t, 4)
	a := NewEnvelope("first", 0x8000000000000001, []byte("aaaa"), false)
	b := NewEnvelope("second", 7, []byte("bbbbbbbb"), false)

	if err := s.Save("quick", a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("auto", b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("quick")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != a.ID || got.Label != "first" {
		t.Errorf("loaded %s %q, want %s first", got.ID, got.Label, a.ID)
	}

	infos, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Slot != "auto" || infos[1].Slot != "quick" {
		t.Fatalf("List = %+v", infos)
	}
	if infos[1].Program != 0x8000000000000001 || infos[1].Size != 4 || infos[1].ID != a.ID {
		t.Errorf("quick slot info = %+v", infos[1])
	}
	if !infos[1].Created.Equal(a.Created) {
		t.Errorf("created = %v, want %v", infos[1].Created, a.Created)
	}

	if err := s.Save("quick", b); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := s.Load("quick"); got.ID != b.ID {
		t.Error("Save did not replace the slot")
	}

	if err := s.Delete("quick"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("quick"); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("Load of deleted slot: %v", err)
	}
	if err := s.Delete("quick"); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("second Delete: %v", err)
	}
}

func TestStoreRewind(t *testing.T) {
	s := openStore(t, 3)
	var envs []*Envelope
	for i := range 5 {
		env := NewEnvelope("", uint64(i), []byte{byte(i)}, false)
		envs = append(envs, env)
		if err := s.PushRewind(env); err != nil {
			t.Fatalf("PushRewind %d: %v", i, err)
		}
	}
	if n, err := s.RewindLen(); err != nil || n != 3 {
		t.Fatalf("RewindLen = %d, %v; want 3", n, err)
	}
	for _, want := range []int{4, 3, 2} {
		env, err := s.PopRewind()
		if err != nil {
			t.Fatalf("PopRewind: %v", err)
		}
		if env.ID != envs[want].ID {
			t.Errorf("popped envelope %d, want %d", env.Program, want)
		}
	}
	if _, err := s.PopRewind(); !errors.Is(err, ErrRewindEmpty) {
		t.Errorf("PopRewind on empty history: %v", err)
	}
}

func TestStoreRewindDisabled(t *testing.T) {
	s := openStore(t, 0)
	if err := s.PushRewind(NewEnvelope("", 1, nil, false)); err != nil {
		t.Fatalf("PushRewind: %v", err)
	}
	if n, _ := s.RewindLen(); n != 0 {
		t.Errorf("RewindLen = %d with rewind disabled", n)
	}
}
