// Package skiplist computes the back links of a chain entry.
//
// Entry i links to i-1 and, for k = 1, 2, ..., to the greatest multiple of
// radix^k strictly below i. Generation stops once a target repeats or
// reaches 0; 0 itself is emitted as the terminal link. With radix 4:
//
//	Backlinks(16, 4) = [15, 12, 0]
//	Backlinks(5, 4)  = [4]
//	Backlinks(63, 4) = [62, 60, 48, 0]
//
// Following the smallest declared link that does not undershoot a target
// reaches any earlier index in O(log_radix n) hops. Radix 0 disables
// skipping: every entry links only to its predecessor.
package skiplist

// Backlinks returns the link targets of index in declaration order. Index 0
// has none. Radix 1 is invalid and panics; callers validate radix first.
func Backlinks(index uint64, radix uint32) []uint64 {
	if radix == 1 {
		panic("skiplist: radix 1")
	}
	if index == 0 {
		return nil
	}
	out := []uint64{index - 1}
	if radix == 0 {
		return out
	}
	r := uint64(radix)
	for p := r; ; {
		m := ((index - 1) / p) * p
		if m == out[len(out)-1] {
			break
		}
		out = append(out, m)
		if m == 0 {
			break
		}
		if p > (^uint64(0))/r {
			// radix^(k+1) overflows; the next target is 0.
			out = append(out, 0)
			break
		}
		p *= r
	}
	return out
}

// Layer returns the highest k such that radix^k divides index. Index 0 sits
// on every layer; by convention it reports 0 here.
func Layer(index uint64, radix uint32) int {
	if index == 0 || radix < 2 {
		return 0
	}
	r := uint64(radix)
	k := 0
	for index%r == 0 {
		index /= r
		k++
	}
	return k
}

// NextHop returns the index to move to from `from` on the way down to `to`:
// the smallest link of `from` that is still >= to. ok is false when
// from <= to.
func NextHop(from, to uint64, radix uint32) (next uint64, pos int, ok bool) {
	if from <= to {
		return 0, 0, false
	}
	links := Backlinks(from, radix)
	next, pos = links[0], 0
	for i, l := range links {
		if l >= to && l < next {
			next, pos = l, i
		}
	}
	return next, pos, true
}

// Path returns the indices visited walking from `from` down to `to`,
// excluding `from` and ending with `to`. It is empty when from <= to.
func Path(from, to uint64, radix uint32) []uint64 {
	var out []uint64
	for cur := from; cur > to; {
		next, _, _ := NextHop(cur, to, radix)
		out = append(out, next)
		cur = next
	}
	return out
}
