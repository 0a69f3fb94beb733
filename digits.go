package machin

import (
	"fmt"
)

const (
	// The base of each digit group; every group carries three decimal digits.
	Radix = 1000
	// The number of decimal digits held by a single group.
	GroupWidth = 3
	// The number of extra low-order groups carried beyond the requested
	// digits. Two groups is an empirical margin that absorbs the truncation of
	// both series and the rounding lost by the final multiplications; it is
	// not a derived error bound.
	GuardGroups = 2
)

// Digits is a fixed-point number stored as a fixed length sequence of base
// Radix digit groups, most significant first. Group 0 holds the integer part
// and group k is weighted by Radix^-k.
//
// No range invariant holds for a Digits value; groups may be negative or
// exceed Radix while series terms are being summed. Use Normalize to obtain a
// Value with canonical groups.
type Digits struct {
	groups []int64
}

// Returns the number of groups that follow the integer part for a request of
// digits decimal digits.
func Precision(digits int) int {
	return digits/GroupWidth + GuardGroups
}

// Allocates a zero valued Digits with precision groups after the integer part.
func NewDigits(precision int) *Digits {
	if precision < 0 {
		precision = 0
	}
	return &Digits{
		groups: make([]int64, precision+1),
	}
}

// Returns the total number of groups, including the integer part.
func (d *Digits) Len() int {
	return len(d.groups)
}

// Returns the number of groups after the integer part.
func (d *Digits) Precision() int {
	return len(d.groups) - 1
}

// Returns the group at index i.
func (d *Digits) At(i int) int64 {
	return d.groups[i]
}

// Replaces the group at index i with v. Panics with ErrOverflow if v exceeds
// MaxGroup in magnitude.
func (d *Digits) Set(i int, v int64) {
	d.groups[i] = mustFit(i, v)
}

// Returns true if every group is zero.
func (d *Digits) IsZero() bool {
	for _, g := range d.groups {
		if g != 0 {
			return false
		}
	}
	return true
}

// Returns an independent copy of d.
func (d *Digits) Clone() *Digits {
	groups := make([]int64, len(d.groups))
	copy(groups, d.groups)
	return &Digits{groups: groups}
}

// Sets every group to zero and the integer part to n.
func (d *Digits) reset(n int64) {
	for i := range d.groups {
		d.groups[i] = 0
	}
	d.groups[0] = n
}

// Multiplies d in place by factor with a single least-significant to
// most-significant carry pass. The final carry is kept in the integer part.
//
// Factor must be within [-MaxDivisor, MaxDivisor]. Every group is checked
// against MaxGroup before it is multiplied so the product cannot wrap, and the
// integer part must still fit MaxGroup afterwards; either failure panics with
// ErrOverflow and leaves d untouched.
func (d *Digits) Multiply(factor int64) {
	if factor > MaxDivisor || factor < -MaxDivisor {
		panic(fmt.Sprintf("machin: factor %d: %v", factor, ErrOverflow))
	}
	for i, g := range d.groups {
		mustFit(i, g)
	}
	// |g*factor| < 2^62 and |carry| < 2^53, so the intermediate fits int64.
	var carry int64
	product := make([]int64, len(d.groups))
	for i := len(d.groups) - 1; i > 0; i-- {
		carry, product[i] = floorDivMod(d.groups[i]*factor+carry, Radix)
	}
	product[0] = mustFit(0, d.groups[0]*factor+carry)
	copy(d.groups, product)
}
