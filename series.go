package machin

import (
	"context"
	"fmt"
)

// The largest x accepted by Arctan; x*x must remain a valid divisor.
const MaxArctanArgument = 46340

// arctan evaluates the Taylor expansion of arctan(1/x) into an accumulator
//
//	arctan(1/x) = 1/x - 1/(3x^3) + 1/(5x^5) - ...
type arctan struct {
	x int64
}

// Seeds term with 1/x and adds sign*term into acc; this is the k=0 term of
// the expansion.
func (a arctan) seed(term, acc *Digits, sign int64) {
	term.reset(1)
	term.Divide(a.x)
	for i, g := range term.groups {
		acc.groups[i] += sign * g
	}
}

// Adds sign*arctan(1/x) into acc at the working precision of acc, using term
// as the scratch buffer. The loop ends once the term underflows to zero at
// every group. Returns the number of outer iterations, each of which consumes
// two odd denominators.
func (a arctan) evaluate(ctx context.Context, term, acc *Digits, sign int64) (int, error) {
	mustMatch(term, acc)
	mustBeSign(sign)
	l := logger.V(1).WithValues("x", a.x, "sign", sign, "precision", acc.Precision())
	l.Info("arctan evaluate: enter")
	a.seed(term, acc, sign)
	square := a.x * a.x
	odds := NewOddSequence(3)
	iterations := 0
	for {
		if err := ctx.Err(); err != nil {
			return iterations, fmt.Errorf("arctan(1/%d) interrupted after %d iterations: %w", a.x, iterations, err)
		}
		n, n2 := odds.Next(), odds.Next()
		iterations++
		if seriesSweep(term, acc, square, n, n2, -sign) {
			break
		}
	}
	l.Info("arctan evaluate: exit", "iterations", iterations)
	return iterations, nil
}

// Returns arctan(1/x) with precision groups after the integer part, and the
// number of outer series iterations needed for the term to vanish. The result
// is not normalized.
func Arctan(x int64, precision int) (*Digits, int, error) {
	if x < 2 {
		return nil, 0, fmt.Errorf("arctan(1/%d): %w", x, ErrInvalidArgument)
	}
	if x > MaxArctanArgument {
		return nil, 0, fmt.Errorf("arctan(1/%d): x squared exceeds %d: %w", x, MaxDivisor, ErrInvalidArgument)
	}
	if precision > Precision(MaxDigits) {
		return nil, 0, fmt.Errorf("arctan(1/%d) with %d groups: %w", x, precision, ErrTooManyDigits)
	}
	acc := NewDigits(precision)
	iterations, err := arctan{x: x}.evaluate(context.Background(), NewDigits(precision), acc, 1)
	if err != nil {
		return nil, iterations, err
	}
	return acc, iterations, nil
}
