package machin

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"testing"
)

// Builds a Digits from literal groups, most significant first.
func newTestDigits(groups ...int64) *Digits {
	d := NewDigits(len(groups) - 1)
	for i, g := range groups {
		d.Set(i, g)
	}
	return d
}

func TestPrecision(t *testing.T) {
	tests := map[int]int{
		0:     2,
		1:     2,
		2:     2,
		3:     3,
		5:     3,
		10:    5,
		100:   35,
		10000: 3335,
	}
	for digits, expected := range tests {
		if actual := Precision(digits); actual != expected {
			t.Errorf("Digits %d: expected precision %d got %d", digits, expected, actual)
		}
	}
}

func TestNewDigits(t *testing.T) {
	for precision := 0; precision < 10; precision++ {
		d := NewDigits(precision)
		if d.Len() != precision+1 {
			t.Errorf("Precision %d: expected length %d got %d", precision, precision+1, d.Len())
		}
		if d.Precision() != precision {
			t.Errorf("Precision %d: Precision() returned %d", precision, d.Precision())
		}
		if !d.IsZero() {
			t.Errorf("Precision %d: new Digits is not zero", precision)
		}
	}
	if d := NewDigits(-3); d.Len() != 1 {
		t.Errorf("Negative precision: expected length 1 got %d", d.Len())
	}
}

func TestDigits_Clone(t *testing.T) {
	d := newTestDigits(1, 2, 3)
	c := d.Clone()
	c.Set(1, 999)
	if d.At(1) != 2 {
		t.Errorf("Clone shares storage with original: group 1 is %d", d.At(1))
	}
	if c.Len() != d.Len() {
		t.Errorf("Expected clone length %d got %d", d.Len(), c.Len())
	}
}

func TestDigits_IsZero(t *testing.T) {
	if newTestDigits(0, 0, 0, 1).IsZero() {
		t.Error("Least significant group is set, expected IsZero to be false")
	}
	if newTestDigits(0, 0, -1, 0).IsZero() {
		t.Error("Negative group is set, expected IsZero to be false")
	}
	if !newTestDigits(0, 0, 0, 0).IsZero() {
		t.Error("Expected IsZero to be true")
	}
}

func TestDigits_Multiply(t *testing.T) {
	tests := []struct {
		name     string
		input    []int64
		factor   int64
		expected []int64
	}{
		{
			name:     "no carry",
			input:    []int64{0, 100, 200},
			factor:   4,
			expected: []int64{0, 400, 800},
		},
		{
			name:     "carry",
			input:    []int64{0, 785, 398},
			factor:   4,
			expected: []int64{3, 141, 592},
		},
		{
			name:     "carry into integer part",
			input:    []int64{1, 999, 999},
			factor:   4,
			expected: []int64{7, 999, 996},
		},
		{
			name:     "negative group borrows",
			input:    []int64{1, 0, -1},
			factor:   4,
			expected: []int64{3, 999, 996},
		},
		{
			name:     "out of range group",
			input:    []int64{0, 2500, 0},
			factor:   2,
			expected: []int64{5, 0, 0},
		},
	}
	for _, test := range tests {
		d := newTestDigits(test.input...)
		d.Multiply(test.factor)
		for i, expected := range test.expected {
			if actual := d.At(i); actual != expected {
				t.Errorf("%s: group %d: expected %d got %d", test.name, i, expected, actual)
			}
		}
	}
}

// Runs f and fails unless it panics with a message naming expected.
func expectPanic(t *testing.T, name string, expected error, f func()) {
	t.Helper()
	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Errorf("%s: expected a panic", name)
			return
		}
		if msg := fmt.Sprint(recovered); !strings.Contains(msg, expected.Error()) {
			t.Errorf("%s: unexpected panic message %s", name, msg)
		}
	}()
	f()
}

func TestDigits_Set_Overflow(t *testing.T) {
	d := NewDigits(2)
	d.Set(1, MaxGroup)
	d.Set(2, -MaxGroup)
	expectPanic(t, "MaxInt64", ErrOverflow, func() { d.Set(0, math.MaxInt64) })
	expectPanic(t, "MaxGroup+1", ErrOverflow, func() { d.Set(1, MaxGroup+1) })
	expectPanic(t, "-MaxGroup-1", ErrOverflow, func() { d.Set(2, -MaxGroup-1) })
	if d.At(0) != 0 || d.At(1) != MaxGroup || d.At(2) != -MaxGroup {
		t.Errorf("Rejected Set modified the groups: %d %d %d", d.At(0), d.At(1), d.At(2))
	}
}

// A group at the bound is multiplied exactly; a product that would not fit
// the integer part panics and leaves the value untouched.
func TestDigits_Multiply_Overflow(t *testing.T) {
	d := newTestDigits(0, MaxGroup)
	expected := digitsToBig(d)
	expected.Mul(expected, big.NewInt(4))
	d.Multiply(4)
	if actual := digitsToBig(d); actual.Cmp(expected) != 0 {
		t.Errorf("Expected %v got %v", expected, actual)
	}

	d = newTestDigits(MaxGroup/2, 1)
	expectPanic(t, "integer part", ErrOverflow, func() { d.Multiply(4) })
	if d.At(0) != MaxGroup/2 || d.At(1) != 1 {
		t.Errorf("Rejected Multiply modified the groups: %d %d", d.At(0), d.At(1))
	}
	expectPanic(t, "factor", ErrOverflow, func() { NewDigits(1).Multiply(MaxDivisor + 1) })
}

func TestLongDivision_Overflow(t *testing.T) {
	div := newLongDivision(3)
	expectPanic(t, "dividend", ErrOverflow, func() { div.next(math.MaxInt64) })
	expectPanic(t, "negative dividend", ErrOverflow, func() { div.next(-MaxGroup - 1) })
	d := newTestDigits(MaxGroup, MaxGroup)
	value := digitsToBig(d)
	r := d.Divide(3)
	actual := digitsToBig(d)
	actual.Mul(actual, big.NewInt(3))
	actual.Add(actual, big.NewInt(r))
	if actual.Cmp(value) != 0 {
		t.Errorf("Expected %v got %v", value, actual)
	}
}
