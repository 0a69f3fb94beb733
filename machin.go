// Package machin computes decimal digits of pi with the Machin identity
//
//	pi = 16*arctan(1/5) - 4*arctan(1/239)
//
// evaluated on a fixed-point array of base 1000 digit groups. The algorithm is
// O(digits^2) per series and single threaded; it trades asymptotic speed for
// code that is easy to follow.
package machin

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

const (
	// The largest digit count that Pi will compute. The odd denominators of the
	// arctan(1/5) series stay below MaxDivisor up to this limit.
	MaxDigits = 1_000_000
)

var (
	// The requested digit count was zero or negative.
	ErrInvalidDigitCount = errors.New("digit count must be greater than zero")
	// The requested digit count exceeded MaxDigits.
	ErrTooManyDigits = fmt.Errorf("digit count must be <= %d", MaxDigits)
	// An argument outside the domain of an operation.
	ErrInvalidArgument = errors.New("invalid argument")
	// A long division divisor outside [1, MaxDivisor].
	ErrInvalidDivisor = fmt.Errorf("divisor must be in [1, %d]", MaxDivisor)
	// A group, product or accumulated sum would exceed MaxGroup.
	ErrOverflow = fmt.Errorf("group magnitude must be <= %d", MaxGroup)
	// The integer part of a finished computation was not 3.
	ErrIntegerPart = errors.New("integer part of result is not 3")
)

// Logger to use in this package; default is a no-op logger.
var logger = logr.Discard()

// Change the logger instance used by this package.
func SetLogger(l logr.Logger) {
	logger = l
}

// Stats describes the work performed by a single pi computation.
type Stats struct {
	// Requested decimal digits.
	Digits int
	// Groups after the integer part, including guard groups.
	Precision int
	// Outer iterations of the arctan(1/5) series.
	Iterations5 int
	// Outer iterations of the arctan(1/239) series.
	Iterations239 int
}

// Returns pi as a normalized Value holding at least digits accurate decimal
// digits after the point.
func Pi(digits int) (Value, error) {
	value, _, err := PiContext(context.Background(), digits)
	return value, err
}

// Returns pi as a normalized Value, along with the statistics of the
// computation. The context is checked between series iterations.
func PiContext(ctx context.Context, digits int) (Value, Stats, error) {
	return pi(ctx, digits, GuardGroups)
}

func pi(ctx context.Context, digits, guard int) (Value, Stats, error) {
	l := logger.V(1).WithValues("digits", digits, "guard", guard)
	l.Info("pi: enter")
	stats := Stats{Digits: digits}
	switch {
	case digits < 1:
		return Value{}, stats, fmt.Errorf("requested %d digits: %w", digits, ErrInvalidDigitCount)
	case digits > MaxDigits:
		return Value{}, stats, fmt.Errorf("requested %d digits: %w", digits, ErrTooManyDigits)
	}
	stats.Precision = digits/GroupWidth + guard
	p := NewDigits(stats.Precision)
	var err error
	stats.Iterations5, err = arctan{x: 5}.evaluate(ctx, NewDigits(stats.Precision), p, 1)
	if err != nil {
		return Value{}, stats, err
	}
	p.Multiply(4)
	stats.Iterations239, err = arctan{x: 239}.evaluate(ctx, NewDigits(stats.Precision), p, -1)
	if err != nil {
		return Value{}, stats, err
	}
	p.Multiply(4)
	value := Normalize(p)
	if value.IntegerPart() != 3 {
		return Value{}, stats, fmt.Errorf("integer part is %d: %w", value.IntegerPart(), ErrIntegerPart)
	}
	l.Info("pi: exit", "precision", stats.Precision, "iterations5", stats.Iterations5, "iterations239", stats.Iterations239)
	return value, stats, nil
}

// Returns the decimal expansion of pi with digits accurate digits after the
// point. The trailing guard digits are included, unrounded; use Truncate to
// drop them.
func Compute(digits int) (string, error) {
	return ComputeContext(context.Background(), digits)
}

// Same as Compute, but the computation stops early if ctx is done.
func ComputeContext(ctx context.Context, digits int) (string, error) {
	value, _, err := PiContext(ctx, digits)
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
