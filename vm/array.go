package vm

// ---------------------------------------------------------------------------
// Array: refcounted 2-D copy-on-write storage
// ---------------------------------------------------------------------------

// Array is the payload of an array Variable. Rows may have different
// lengths.
type Array struct {
	rows [][]Variable
	refs int
}

func newArray() *Array {
	return &Array{refs: 1}
}

// Refcount returns the number of Variables referencing the array.
func (a *Array) Refcount() int { return a.refs }

// Height returns the number of rows.
func (a *Array) Height() int { return len(a.rows) }

// Length returns the length of row i, or 0 if the row does not exist.
func (a *Array) Length(i int) int {
	if i < 0 || i >= len(a.rows) {
		return 0
	}
	return len(a.rows[i])
}

// Get returns the element at [row][col].
func (a *Array) Get(row, col int) (*Variable, error) {
	if row < 0 || row >= len(a.rows) || col < 0 || col >= len(a.rows[row]) {
		return nil, scriptErrorf(ErrOutOfBounds, "array index [%d, %d]", row, col)
	}
	return &a.rows[row][col], nil
}

// slot returns a writable element, extending rows and columns with real 0.
func (a *Array) slot(row, col int) (*Variable, error) {
	if row < 0 || col < 0 {
		return nil, scriptErrorf(ErrOutOfBounds, "array index [%d, %d]", row, col)
	}
	for len(a.rows) <= row {
		a.rows = append(a.rows, nil)
	}
	r := a.rows[row]
	for len(r) <= col {
		r = append(r, Real(0))
	}
	a.rows[row] = r
	return &a.rows[row][col], nil
}

// clone deep-copies the rows, taking a reference on every element payload.
func (a *Array) clone() *Array {
	out := &Array{rows: make([][]Variable, len(a.rows)), refs: 1}
	for i, row := range a.rows {
		out.rows[i] = make([]Variable, len(row))
		for j := range row {
			out.rows[i][j].Copy(&row[j])
		}
	}
	return out
}

// decref drops one reference, releasing the elements when the last one goes.
func (a *Array) decref() {
	a.refs--
	if a.refs > 0 {
		return
	}
	for i := range a.rows {
		for j := range a.rows[i] {
			a.rows[i][j].Cleanup()
		}
	}
	a.rows = nil
}
