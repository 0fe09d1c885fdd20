package vm

import "testing"

func TestCOWStringAppendAfterCopy(t *testing.T) {
	a := NewCOWString("hello")
	b := a.Copy()
	a.Append(" world")

	if got := a.View(); got != "hello world" {
		t.Errorf("a = %q, want %q", got, "hello world")
	}
	if got := b.View(); got != "hello" {
		t.Errorf("b = %q, want %q", got, "hello")
	}
	if a.Refcount() != 2 {
		t.Errorf("pure append should keep sharing, refcount %d", a.Refcount())
	}
}

func TestCOWStringEditIsolatesCopies(t *testing.T) {
	a := NewCOWString("abcdef")
	b := a.Copy()

	copy(a.Edit(0, 1), "X")
	if got := a.View(); got != "Xbcdef" {
		t.Errorf("a = %q, want %q", got, "Xbcdef")
	}
	if got := b.View(); got != "abcdef" {
		t.Errorf("b = %q, want %q", got, "abcdef")
	}
	if a.Refcount() != 1 || b.Refcount() != 1 {
		t.Errorf("refcounts after privatize = %d, %d; want 1, 1", a.Refcount(), b.Refcount())
	}
	if b.SharedLen() != 0 {
		t.Errorf("sole owner still reports %d shared bytes", b.SharedLen())
	}
}

func TestCOWStringSecondAppendCopies(t *testing.T) {
	a := NewCOWString("hello")
	b := a.Copy()
	a.Append(" world")
	b.Append("!")

	if got := a.View(); got != "hello world" {
		t.Errorf("a = %q, want %q", got, "hello world")
	}
	if got := b.View(); got != "hello!" {
		t.Errorf("b = %q, want %q", got, "hello!")
	}
}

func TestCOWStringRefcount(t *testing.T) {
	a := NewCOWString("x")
	if a.Refcount() != 1 {
		t.Fatalf("new string refcount = %d", a.Refcount())
	}
	b := a.Copy()
	c := b.Copy()
	if a.Refcount() != 3 {
		t.Errorf("refcount with three owners = %d", a.Refcount())
	}
	if a.SharedLen() != 1 {
		t.Errorf("shared length = %d, want 1", a.SharedLen())
	}
	c.Release()
	b.Release()
	if a.Refcount() != 1 {
		t.Errorf("refcount after releases = %d", a.Refcount())
	}
	if a.SharedLen() != 0 {
		t.Errorf("single owner still shares %d bytes", a.SharedLen())
	}
	if c.View() != "" || c.Refcount() != 0 {
		t.Errorf("released string = %q refs %d", c.View(), c.Refcount())
	}
}

func TestCOWStringShrink(t *testing.T) {
	a := NewCOWString("hello world")
	b := a.Copy()
	b.Shrink(6, 100)
	if got := b.View(); got != "world" {
		t.Errorf("shrunk view = %q, want %q", got, "world")
	}
	if got := a.View(); got != "hello world" {
		t.Errorf("original view = %q", got)
	}
	w := NewCOWString("world")
	if !b.Equal(&w) {
		t.Error("shrunk view should equal a fresh string with the same characters")
	}
}

func TestCOWStringEditOnEmpty(t *testing.T) {
	var s COWString
	s.Append("abc")
	if got := s.View(); got != "abc" {
		t.Errorf("append to zero string = %q", got)
	}
}
