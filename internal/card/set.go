package card

// Set is a fixed-size set of called numbers in 1..MaxNumber. The zero value is
// empty and ready to use.
type Set struct {
	bits [2]uint64
}

// SetOf returns a set holding nums. Out of range values are ignored.
func SetOf(nums ...int) Set {
	var s Set
	for _, n := range nums {
		s.Add(n)
	}
	return s
}

// Add inserts n and reports whether it was newly added.
func (s *Set) Add(n int) bool {
	if n < 1 || n > MaxNumber {
		return false
	}
	word, bit := n/64, uint(n%64)
	if s.bits[word]&(1<<bit) != 0 {
		return false
	}
	s.bits[word] |= 1 << bit
	return true
}

// Has reports whether n has been called.
func (s Set) Has(n int) bool {
	if n < 1 || n > MaxNumber {
		return false
	}
	return s.bits[n/64]&(1<<uint(n%64)) != 0
}

// Len returns the number of members.
func (s Set) Len() int {
	n := 0
	for _, w := range s.bits {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}
