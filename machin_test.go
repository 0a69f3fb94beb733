package machin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

const (
	// The first 100 fractional digits of pi.
	PI_DIGITS = "1415926535897932384626433832795028841971693993751058209749445923078164062862089986280348253421170679"
	// Largest digit count checked in the monotonic precision test.
	TEST_MONOTONIC_LIMIT = 300
)

// Returns the reference expansion in testdata/pi.txt, "3." followed by 10050
// fractional digits computed independently with Gauss-Legendre.
func loadReference(t testing.TB) string {
	t.Helper()
	data, err := os.ReadFile("testdata/pi.txt")
	if err != nil {
		t.Fatalf("Error reading reference digits: %v", err)
	}
	reference := strings.TrimSpace(string(data))
	if !strings.HasPrefix(reference, "3."+PI_DIGITS) {
		t.Fatalf("Reference digits do not start with 3.%s", PI_DIGITS)
	}
	return reference
}

func TestCompute(t *testing.T) {
	reference := loadReference(t)
	for _, digits := range []int{1, 5, 10, 100, 1000, 10000} {
		digits := digits
		t.Run(fmt.Sprintf("digits=%d", digits), func(t *testing.T) {
			t.Parallel()
			actual, err := Compute(digits)
			if err != nil {
				t.Fatalf("Error calling Compute: %v", err)
			}
			if expectedLen := 2 + GroupWidth*Precision(digits); len(actual) != expectedLen {
				t.Errorf("Expected length %d got %d", expectedLen, len(actual))
			}
			expected := reference[:2+digits]
			if !strings.HasPrefix(actual, expected) {
				t.Errorf("Checking digits: %d: expected prefix %s got %s", digits, expected, Truncate(actual, digits))
			}
		})
	}
}

func TestCompute_Small(t *testing.T) {
	tests := []struct {
		digits   int
		expected string
	}{
		{digits: 1, expected: "3.141616"},
		{digits: 5, expected: "3.141592672"},
		{digits: 10, expected: "3.141592653589812"},
		{digits: 20, expected: "3.141592653589793238462648"},
	}
	for _, test := range tests {
		actual, err := Compute(test.digits)
		if err != nil {
			t.Errorf("Digits %d: error calling Compute: %v", test.digits, err)
			continue
		}
		if actual != test.expected {
			t.Errorf("Digits %d: expected %s got %s", test.digits, test.expected, actual)
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	first, err := Compute(500)
	if err != nil {
		t.Fatalf("Error calling Compute: %v", err)
	}
	for i := 0; i < 3; i++ {
		actual, err := Compute(500)
		if err != nil {
			t.Fatalf("Error calling Compute: %v", err)
		}
		if actual != first {
			t.Errorf("Run %d: output differs from first run", i)
		}
	}
}

// The accurate prefix for a smaller digit count must be a prefix of the result
// for any larger count. Only the digits confirmed by the error bound are
// compared, so the guard digits never take part.
func TestPiCertain_MonotonicPrecision(t *testing.T) {
	ctx := context.Background()
	previous := ""
	for digits := 1; digits <= TEST_MONOTONIC_LIMIT; digits++ {
		actual, _, err := PiCertain(ctx, digits)
		if err != nil {
			t.Fatalf("Digits %d: error calling PiCertain: %v", digits, err)
		}
		if len(actual) != 2+digits {
			t.Errorf("Digits %d: expected length %d got %d", digits, 2+digits, len(actual))
		}
		if !strings.HasPrefix(actual, previous) {
			t.Errorf("Digits %d: %s is not a prefix of %s", digits, previous, actual)
		}
		previous = actual
	}
}

func TestPiCertain(t *testing.T) {
	reference := loadReference(t)
	ctx := context.Background()
	// 761 is followed by the run of six nines at the Feynman point and needs
	// more than the default guard groups.
	for _, digits := range []int{1, 11, 359, 761, 762, 2000} {
		actual, stats, err := PiCertain(ctx, digits)
		if err != nil {
			t.Errorf("Digits %d: error calling PiCertain: %v", digits, err)
			continue
		}
		if expected := reference[:2+digits]; actual != expected {
			t.Errorf("Digits %d: expected %s got %s", digits, expected, actual)
		}
		if stats.Precision < Precision(digits) {
			t.Errorf("Digits %d: expected precision >= %d got %d", digits, Precision(digits), stats.Precision)
		}
	}
}

func TestPiContext_IntegerPart(t *testing.T) {
	ctx := context.Background()
	for digits := 1; digits <= 64; digits++ {
		value, stats, err := PiContext(ctx, digits)
		if err != nil {
			t.Fatalf("Digits %d: error calling PiContext: %v", digits, err)
		}
		if value.IntegerPart() != 3 {
			t.Errorf("Digits %d: expected integer part 3 got %d", digits, value.IntegerPart())
		}
		if stats.Precision != Precision(digits) {
			t.Errorf("Digits %d: expected precision %d got %d", digits, Precision(digits), stats.Precision)
		}
		for i := 1; i <= value.Precision(); i++ {
			if g := value.Group(i); g < 0 || g >= Radix {
				t.Errorf("Digits %d: group %d out of range: %d", digits, i, g)
			}
		}
	}
}

func TestPiContext_Iterations(t *testing.T) {
	ctx := context.Background()
	for _, digits := range []int{10, 100, 1000} {
		_, stats, err := PiContext(ctx, digits)
		if err != nil {
			t.Fatalf("Digits %d: error calling PiContext: %v", digits, err)
		}
		if stats.Iterations239 >= stats.Iterations5 {
			t.Errorf("Digits %d: arctan(1/239) took %d iterations, arctan(1/5) took %d", digits, stats.Iterations239, stats.Iterations5)
		}
	}
}

func TestPiContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := PiContext(ctx, 1000)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled got %v", err)
	}
}

func TestCompute_InvalidDigits(t *testing.T) {
	tests := []struct {
		digits   int
		expected error
	}{
		{digits: 0, expected: ErrInvalidDigitCount},
		{digits: -1, expected: ErrInvalidDigitCount},
		{digits: MaxDigits + 1, expected: ErrTooManyDigits},
	}
	for _, test := range tests {
		actual, err := Compute(test.digits)
		if !errors.Is(err, test.expected) {
			t.Errorf("Digits %d: expected error %v got %v", test.digits, test.expected, err)
		}
		if actual != "" {
			t.Errorf("Digits %d: expected empty result got %s", test.digits, actual)
		}
		if _, _, err := PiCertain(context.Background(), test.digits); !errors.Is(err, test.expected) {
			t.Errorf("Digits %d: PiCertain expected error %v got %v", test.digits, test.expected, err)
		}
	}
}

func TestPi(t *testing.T) {
	value, err := Pi(100)
	if err != nil {
		t.Fatalf("Error calling Pi: %v", err)
	}
	if actual := Truncate(value.String(), 100); actual != "3."+PI_DIGITS {
		t.Errorf("Expected 3.%s got %s", PI_DIGITS, actual)
	}
}

func BenchmarkCompute(b *testing.B) {
	for _, digits := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("digits=%d", digits), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = Compute(digits)
			}
		})
	}
}
