package machin

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// The largest number of guard groups PiCertain will try before giving up.
	MaxGuardGroups = 8
)

// PiCertain could not confirm the requested digits within MaxGuardGroups.
var ErrUncertain = errors.New("digits could not be confirmed")

var ten = big.NewInt(10)

// Returns an upper bound on the absolute error of the computation, in units of
// the least significant group.
//
// Every long division truncates toward negative infinity, so a seeded term is
// low by less than one unit and a term divided by x^2 stays low by less than
// x^2/(x^2-1) < 2 units. Each accumulated term/n is therefore off by less than
// 1+2/n <= 5/3, two per iteration. Adding one unit for the seed and one for the
// series tail gives |E(x)| < 4*iterations + 2. The two multiplications by 4 are
// exact, so the result is off by at most 16*|E(5)| + 4*|E(239)|.
func (s Stats) ErrorBound() int64 {
	e5 := 4*int64(s.Iterations5) + 2
	e239 := 4*int64(s.Iterations239) + 2
	return 16*e5 + 4*e239
}

// Reports whether every number within bound units of the least significant
// group of v shares the first digits digits after the point with v.
func (v Value) Certain(digits int, bound int64) bool {
	scale := v.Precision() * GroupWidth
	if digits < 0 || digits > scale || len(v.groups) == 0 {
		return false
	}
	n, ok := new(big.Int).SetString(strings.Replace(v.String(), ".", "", 1), 10)
	if !ok {
		return false
	}
	shift := new(big.Int).Exp(ten, big.NewInt(int64(scale-digits)), nil)
	b := big.NewInt(bound)
	lower := new(big.Int).Sub(n, b)
	upper := new(big.Int).Add(n, b)
	// Div is Euclidean; with a positive divisor it rounds toward negative
	// infinity, which matches truncation of the decimal expansion.
	return lower.Div(lower, shift).Cmp(upper.Div(upper, shift)) == 0
}

// Returns exactly digits decimal digits of pi after the point, with no guard
// digits. Unlike Compute, every returned digit is confirmed against the error
// bound of the computation; when the guard groups are not enough to settle the
// last digit (for example before a run of nines) the computation is repeated
// with one more guard group, up to MaxGuardGroups.
func PiCertain(ctx context.Context, digits int) (string, Stats, error) {
	l := logger.V(1).WithValues("digits", digits)
	l.Info("PiCertain: enter")
	var stats Stats
	for guard := GuardGroups; guard <= MaxGuardGroups; guard++ {
		value, s, err := pi(ctx, digits, guard)
		if err != nil {
			return "", s, err
		}
		stats = s
		if value.Certain(digits, stats.ErrorBound()) {
			result := Truncate(value.String(), digits)
			l.Info("PiCertain: exit", "guard", guard)
			return result, stats, nil
		}
		l.Info("Digits are not settled; retrying with another guard group", "guard", guard, "bound", stats.ErrorBound())
	}
	return "", stats, fmt.Errorf("%d digits with %d guard groups: %w", digits, MaxGuardGroups, ErrUncertain)
}
