package machin

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/govalues/decimal"
)

const (
	// Digits per block, blocks per line and digits per paragraph used by
	// Layout.
	layoutBlock     = 10
	layoutLine      = 50
	layoutParagraph = 1000
)

// Renders v as the integer part, a decimal point, and every following group
// zero padded to three digits. No rounding is applied; the trailing guard
// digits are not guaranteed to be accurate.
func (v Value) String() string {
	if len(v.groups) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(v.groups)*GroupWidth + 2)
	sb.WriteString(strconv.FormatInt(v.groups[0], 10))
	sb.WriteByte('.')
	for _, g := range v.groups[1:] {
		fmt.Fprintf(&sb, "%03d", g)
	}
	return sb.String()
}

// Returns the leading significant digits of v that fit a decimal.Decimal
// coefficient, truncated toward zero.
func (v Value) Decimal() (decimal.Decimal, error) {
	return Approximate(v.String())
}

// Parses a rendered expansion of pi into a decimal.Decimal, keeping as many
// leading digits as the coefficient can hold. Extra digits are truncated.
func Approximate(s string) (decimal.Decimal, error) {
	if point := strings.IndexByte(s, '.'); point >= 0 {
		// The integer part takes point digits of the coefficient.
		keep := decimal.MaxPrec - point
		if keep < 0 {
			keep = 0
		}
		s = Truncate(s, keep)
	}
	d, err := decimal.Parse(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse %q as decimal: %w", s, err)
	}
	return d, nil
}

// Returns s cut to at most digits decimal digits after the point, without
// rounding. Strings without a decimal point are returned unchanged.
func Truncate(s string, digits int) string {
	point := strings.IndexByte(s, '.')
	if point < 0 {
		return s
	}
	if digits <= 0 {
		return s[:point]
	}
	if end := point + 1 + digits; end < len(s) {
		return s[:end]
	}
	return s
}

// Writes s in the traditional print layout: a "pi = 3." header line, then the
// fractional digits in blocks of ten, fifty digits to a line, with a blank
// line after every thousand digits.
func Layout(w io.Writer, s string) error {
	integer, fraction, _ := strings.Cut(s, ".")
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "pi = %s.\n\n", integer); err != nil {
		return fmt.Errorf("failure writing layout header: %w", err)
	}
	for i := 0; i < len(fraction); i++ {
		if err := bw.WriteByte(fraction[i]); err != nil {
			return fmt.Errorf("failure writing digit %d: %w", i+1, err)
		}
		var sep string
		switch n := i + 1; {
		case n == len(fraction):
		case n%layoutParagraph == 0:
			sep = "\n\n"
		case n%layoutLine == 0:
			sep = "\n"
		case n%layoutBlock == 0:
			sep = " "
		}
		if _, err := bw.WriteString(sep); err != nil {
			return fmt.Errorf("failure writing separator: %w", err)
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("failure writing trailer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failure flushing layout: %w", err)
	}
	return nil
}
