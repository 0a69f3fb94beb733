package machin

// OddSequence lazily produces consecutive odd integers from a starting value.
// The series evaluator consumes two denominators per outer iteration.
type OddSequence struct {
	start int64
	next  int64
}

// Returns a sequence that begins at start; an even start is moved up to the
// next odd integer.
func NewOddSequence(start int64) *OddSequence {
	if start%2 == 0 {
		start++
	}
	return &OddSequence{
		start: start,
		next:  start,
	}
}

// Returns the next odd integer in the sequence.
func (o *OddSequence) Next() int64 {
	n := o.next
	o.next += 2
	return n
}

// Restarts the sequence from its starting value.
func (o *OddSequence) Reset() {
	o.next = o.start
}
