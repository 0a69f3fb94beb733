package machin

// Value is a normalized fixed-point number: every group after the integer
// part lies in [0, Radix). Values are only produced by Normalize.
type Value struct {
	groups []int64
}

// Resolves out of range groups of d with a single borrow/carry sweep from the
// least significant group up to group 1, and returns the result as a Value.
// Group 0 is never range checked and absorbs every final carry or borrow. The
// sweep runs on a copy; d is not modified.
func Normalize(d *Digits) Value {
	p := d.Clone().groups
	for i := len(p) - 1; i > 0; i-- {
		if p[i] < 0 {
			b, _ := floorDivMod(p[i], Radix)
			p[i] -= (b - 1) * Radix
			p[i-1] += b - 1
		}
		if p[i] >= Radix {
			b, _ := floorDivMod(p[i], Radix)
			p[i] -= b * Radix
			p[i-1] += b
		}
	}
	return Value{groups: p}
}

// Returns the integer part of v.
func (v Value) IntegerPart() int64 {
	if len(v.groups) == 0 {
		return 0
	}
	return v.groups[0]
}

// Returns the number of groups after the integer part.
func (v Value) Precision() int {
	if len(v.groups) == 0 {
		return 0
	}
	return len(v.groups) - 1
}

// Returns the group at index i; group 0 is the integer part.
func (v Value) Group(i int) int64 {
	return v.groups[i]
}
