package machin

import (
	"fmt"
)

// Performs one long division pass of term by divisor and adds each quotient
// group, multiplied by sign, into the matching group of acc. The term is left
// untouched; the remainder after the last group is returned.
//
// Sign must be +1 or -1, and term and acc must have the same length. An
// accumulator group pushed beyond MaxGroup panics with ErrOverflow.
func Accumulate(term *Digits, divisor int64, acc *Digits, sign int64) int64 {
	mustMatch(term, acc)
	mustBeSign(sign)
	div := newLongDivision(divisor)
	for i, g := range term.groups {
		acc.groups[i] = mustFit(i, acc.groups[i]+sign*div.next(g))
	}
	return div.remainder
}

// seriesSweep fuses the four passes of one outer series iteration:
//
//	term /= square; acc += first * term/n
//	term /= square; acc += second * term/n2
//
// Each pass carries an independent remainder across the sweep. Returns true
// if the term is zero at every group once the sweep completes.
func seriesSweep(term, acc *Digits, square, n, n2, first int64) bool {
	var (
		shrink1 = newLongDivision(square)
		add1    = newLongDivision(n)
		shrink2 = newLongDivision(square)
		add2    = newLongDivision(n2)
		second  = -first
		zero    = true
	)
	for i, g := range term.groups {
		g = shrink1.next(g)
		a := acc.groups[i] + first*add1.next(g)
		g = shrink2.next(g)
		acc.groups[i] = mustFit(i, a+second*add2.next(g))
		term.groups[i] = g
		if g != 0 {
			zero = false
		}
	}
	return zero
}

func mustMatch(a, b *Digits) {
	if len(a.groups) != len(b.groups) {
		panic(fmt.Sprintf("machin: mismatched digit lengths %d and %d", len(a.groups), len(b.groups)))
	}
}

func mustBeSign(sign int64) {
	if sign != 1 && sign != -1 {
		panic(fmt.Sprintf("machin: sign must be +1 or -1, got %d", sign))
	}
}
