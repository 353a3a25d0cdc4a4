package resolver

import (
	"fmt"
	"iter"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
)

// AbsoluteRange selects the tixels of one strand from Start to End, both
// inclusive. Start > End iterates newest first.
type AbsoluteRange struct {
	Strand cid.Cid
	Start  uint64
	End    uint64
}

// NewRange returns the range from start to end on strand.
func NewRange(strand cid.Cid, start, end uint64) AbsoluteRange {
	return AbsoluteRange{Strand: strand, Start: start, End: end}
}

// Ascending reports whether iteration goes from lower to higher indices.
func (r AbsoluteRange) Ascending() bool { return r.Start <= r.End }

func (r AbsoluteRange) Lower() uint64 { return min(r.Start, r.End) }
func (r AbsoluteRange) Upper() uint64 { return max(r.Start, r.End) }

// Len is the number of indices in the range.
func (r AbsoluteRange) Len() uint64 { return r.Upper() - r.Lower() + 1 }

// Contains reports whether index lies within the range.
func (r AbsoluteRange) Contains(index uint64) bool {
	return index >= r.Lower() && index <= r.Upper()
}

// Indices yields every index in iteration order.
func (r AbsoluteRange) Indices() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if r.Ascending() {
			for i := r.Start; ; i++ {
				if !yield(i) || i == r.End {
					return
				}
			}
		}
		for i := r.Start; ; i-- {
			if !yield(i) || i == r.End {
				return
			}
		}
	}
}

// Batches splits the range into consecutive sub-ranges of at most size
// indices, keeping the direction. size 0 yields the whole range.
func (r AbsoluteRange) Batches(size uint64) iter.Seq[AbsoluteRange] {
	return func(yield func(AbsoluteRange) bool) {
		if size == 0 || size >= r.Len() {
			yield(r)
			return
		}
		if r.Ascending() {
			for start := r.Start; ; start += size {
				end := start + size - 1
				if end >= r.End || end < start {
					yield(AbsoluteRange{Strand: r.Strand, Start: start, End: r.End})
					return
				}
				if !yield(AbsoluteRange{Strand: r.Strand, Start: start, End: end}) {
					return
				}
			}
		}
		for start := r.Start; ; start -= size {
			if start-r.End < size {
				yield(AbsoluteRange{Strand: r.Strand, Start: start, End: r.End})
				return
			}
			if !yield(AbsoluteRange{Strand: r.Strand, Start: start, End: start - size + 1}) {
				return
			}
		}
	}
}

func (r AbsoluteRange) String() string {
	return fmt.Sprintf("%s:%d:%d", cidutil.Format(r.Strand), r.Start, r.End)
}
