package vm

import (
	"math"
	"strings"
)

// DefaultEpsilon is the tolerance used when comparing numeric keys.
const DefaultEpsilon = 0.00001

// DSComparator orders values stored in data structures: undefined before
// strings before numerics. Numerics within Epsilon of each other are equal.
type DSComparator struct {
	Epsilon float64
}

func dsRank(v *Variable) (int, error) {
	switch {
	case v.typ == TypeUndefined:
		return 0, nil
	case v.typ == TypeString:
		return 1, nil
	case v.IsNumeric():
		return 2, nil
	}
	return 0, scriptErrorf(ErrType, "cannot use %s as a data structure key", v.typ)
}

// Compare returns -1, 0 or 1.
func (c DSComparator) Compare(a, b *Variable) (int, error) {
	ra, err := dsRank(a)
	if err != nil {
		return 0, err
	}
	rb, err := dsRank(b)
	if err != nil {
		return 0, err
	}
	if ra != rb {
		return compareOrdered(int64(ra), int64(rb)), nil
	}
	switch ra {
	case 1:
		return strings.Compare(a.str.View(), b.str.View()), nil
	case 2:
		af, _ := a.CoerceReal()
		bf, _ := b.CoerceReal()
		if math.Abs(af-bf) <= c.Epsilon {
			return 0, nil
		}
		return compareOrdered(af, bf), nil
	}
	return 0, nil
}

// Equal reports whether a and b compare equal.
func (c DSComparator) Equal(a, b *Variable) (bool, error) {
	r, err := c.Compare(a, b)
	return r == 0, err
}
