package machin

import (
	"fmt"
	"math"
)

const (
	// The largest divisor accepted by a long division pass. The carried
	// remainder is always smaller than the divisor, so Radix*remainder plus a
	// group no larger than MaxGroup in magnitude stays well inside int64.
	MaxDivisor = math.MaxInt32
	// The largest magnitude a group may hold. Set, division, multiplication
	// and accumulation panic with ErrOverflow rather than exceed it.
	MaxGroup = math.MaxInt32
)

// Panics unless v is within [-MaxGroup, MaxGroup]; returns v otherwise.
func mustFit(i int, v int64) int64 {
	if v > MaxGroup || v < -MaxGroup {
		panic(fmt.Sprintf("machin: group %d value %d: %v", i, v, ErrOverflow))
	}
	return v
}

// Returns the quotient and remainder of a/b with the quotient rounded toward
// negative infinity; the remainder takes the sign of b. Go's / and % truncate
// toward zero, which would corrupt the remainder chain of a negative group.
func floorDivMod(a, b int64) (int64, int64) {
	q, r := a/b, a%b
	if r != 0 && (r < 0) != (b < 0) {
		q--
		r += b
	}
	return q, r
}

// longDivision holds the state of one long division pass as it sweeps the
// groups of a Digits from most to least significant.
type longDivision struct {
	divisor   int64
	remainder int64
}

// Panics if divisor is outside [1, MaxDivisor]; both series only ever use
// small odd numbers and the squares 25 and 57121.
func newLongDivision(divisor int64) longDivision {
	if divisor < 1 || divisor > MaxDivisor {
		panic(fmt.Sprintf("machin: divisor %d: %v", divisor, ErrInvalidDivisor))
	}
	return longDivision{divisor: divisor}
}

// Consumes the next group and returns the quotient group, carrying the
// remainder forward. Panics with ErrOverflow if group exceeds MaxGroup in
// magnitude.
func (l *longDivision) next(group int64) int64 {
	if group > MaxGroup || group < -MaxGroup {
		panic(fmt.Sprintf("machin: dividend group %d: %v", group, ErrOverflow))
	}
	q, r := floorDivMod(Radix*l.remainder+group, l.divisor)
	l.remainder = r
	return q
}

// Divides d in place by divisor and returns the remainder left after the least
// significant group. The remainder is below the working precision and is
// normally discarded.
func (d *Digits) Divide(divisor int64) int64 {
	div := newLongDivision(divisor)
	for i, g := range d.groups {
		d.groups[i] = div.next(g)
	}
	return div.remainder
}

// Returns d/divisor as a new Digits together with the final remainder; d is
// not modified.
func Quotient(d *Digits, divisor int64) (*Digits, int64) {
	q := d.Clone()
	r := q.Divide(divisor)
	return q, r
}
