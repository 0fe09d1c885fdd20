package vm

// ---------------------------------------------------------------------------
// COWString: shared, range-tracked, copy-on-write characters
// ---------------------------------------------------------------------------

// span is a half-open byte range into a store.
type span struct {
	start, end int
}

func (s span) empty() bool { return s.end <= s.start }

func (s span) union(o span) span {
	switch {
	case s.empty():
		return o
	case o.empty():
		return s
	}
	return span{min(s.start, o.start), max(s.end, o.end)}
}

// cowStore is the backing storage shared by COWString copies. shared covers
// every byte visible through more than one owner; it is empty whenever there
// is a single owner.
type cowStore struct {
	str    []byte
	refs   int
	shared span
}

func (d *cowStore) unshareIfSingle() {
	if d.refs <= 1 {
		d.shared = span{}
	}
}

// COWString is one owner's window onto a cowStore. Copies share the store
// until an edit would be visible through another owner.
type COWString struct {
	d      *cowStore
	window span
}

// NewCOWString creates a single-owner string holding s.
func NewCOWString(s string) COWString {
	d := &cowStore{str: []byte(s), refs: 1}
	return COWString{d: d, window: span{0, len(s)}}
}

// Copy returns another owner of the same characters. The copied window
// becomes shared.
func (c *COWString) Copy() COWString {
	if c.d == nil {
		return COWString{}
	}
	c.d.refs++
	c.d.shared = c.d.shared.union(c.window)
	c.d.unshareIfSingle()
	return COWString{d: c.d, window: c.window}
}

// Release drops this owner's reference and leaves c empty.
func (c *COWString) Release() {
	if c.d != nil {
		c.d.refs--
		c.d.unshareIfSingle()
	}
	*c = COWString{}
}

// Refcount returns the number of owners of the backing store.
func (c *COWString) Refcount() int {
	if c.d == nil {
		return 0
	}
	return c.d.refs
}

// SharedLen returns the length of the store's shared range.
func (c *COWString) SharedLen() int {
	if c.d == nil || c.d.shared.empty() {
		return 0
	}
	return c.d.shared.end - c.d.shared.start
}

// Len returns the length of the visible characters.
func (c *COWString) Len() int { return c.window.end - c.window.start }

// View returns the visible characters.
func (c *COWString) View() string {
	if c.d == nil {
		return ""
	}
	return string(c.d.str[c.window.start:c.window.end])
}

// Bytes returns the visible characters without copying. The slice must not
// be modified; use Edit for that.
func (c *COWString) Bytes() []byte {
	if c.d == nil {
		return nil
	}
	return c.d.str[c.window.start:c.window.end]
}

// editRequiresCopy reports whether writing r (store coordinates) would be
// observed by another owner.
func (c *COWString) editRequiresCopy(r span) bool {
	if r.empty() || c.d.shared.empty() {
		return false
	}
	if r.start >= c.d.shared.end && (c.window.end > c.d.shared.end || c.window.end == len(c.d.str)) {
		return false
	}
	return true
}

// privatize moves c onto a fresh single-owner store holding only its view.
func (c *COWString) privatize() {
	view := make([]byte, c.Len(), c.Len()+16)
	copy(view, c.d.str[c.window.start:c.window.end])
	c.d.refs--
	c.d.unshareIfSingle()
	c.d = &cowStore{str: view, refs: 1}
	c.window = span{0, len(view)}
}

// Edit returns a writable slice covering [start, end) of the view, growing
// the string if end is past its length. The backing store is copied first
// when the write would otherwise be visible through another owner; a pure
// append past all shared data writes in place.
func (c *COWString) Edit(start, end int) []byte {
	if c.d == nil {
		*c = NewCOWString("")
	}
	r := span{c.window.start + start, c.window.start + end}
	if c.editRequiresCopy(r) {
		base := c.window.start
		c.privatize()
		r = span{r.start - base, r.end - base}
	}
	if r.end > len(c.d.str) {
		if r.end <= cap(c.d.str) {
			c.d.str = c.d.str[:r.end]
		} else {
			grown := make([]byte, r.end, max(r.end, 2*cap(c.d.str)))
			copy(grown, c.d.str)
			c.d.str = grown
		}
	}
	c.window = c.window.union(r)
	return c.d.str[r.start:r.end]
}

// Append adds s to the end of the view.
func (c *COWString) Append(s string) {
	n := c.Len()
	copy(c.Edit(n, n+len(s)), s)
}

// Shrink narrows the view to [start, end) of the current view. No
// characters are copied.
func (c *COWString) Shrink(start, end int) {
	start = max(0, min(start, c.Len()))
	end = max(start, min(end, c.Len()))
	c.window = span{c.window.start + start, c.window.start + end}
}

// Equal compares visible characters.
func (c *COWString) Equal(o *COWString) bool {
	return string(c.Bytes()) == string(o.Bytes())
}
