package resolver

import (
	"context"
	"iter"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/twine"
	"xdao.co/twine/verify"
)

// Resolution is a verified tixel together with its verified strand.
type Resolution struct {
	Strand *twine.Strand
	Tixel  *twine.Tixel
}

// ResolveStrand fetches and verifies a strand.
func ResolveStrand(ctx context.Context, r Resolver, strand cid.Cid) (*twine.Strand, error) {
	s, err := r.FetchStrand(ctx, strand)
	if err != nil {
		return nil, err
	}
	if !s.CID().Equals(strand) {
		return nil, twine.MismatchError(strand, s.CID())
	}
	if err := verify.Strand(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Resolve runs q, then verifies the strand, the tixel and the tixel's back
// links. A backend answering with a different tixel than asked for is
// reported as Malformed.
func Resolve(ctx context.Context, r Resolver, q SingleQuery) (Resolution, error) {
	s, err := ResolveStrand(ctx, r, q.Strand)
	if err != nil {
		return Resolution{}, err
	}
	t, err := q.Fetch(ctx, r)
	if err != nil {
		return Resolution{}, err
	}
	if err := answers(q, t); err != nil {
		return Resolution{}, err
	}
	if err := checkTixel(ctx, r, t, s); err != nil {
		return Resolution{}, err
	}
	return Resolution{Strand: s, Tixel: t}, nil
}

func ResolveLatest(ctx context.Context, r Resolver, strand cid.Cid) (Resolution, error) {
	return Resolve(ctx, r, Latest(strand))
}

func ResolveIndex(ctx context.Context, r Resolver, strand cid.Cid, index uint64) (Resolution, error) {
	return Resolve(ctx, r, AtIndex(strand, index))
}

func ResolveStitch(ctx context.Context, r Resolver, s twine.Stitch) (Resolution, error) {
	return Resolve(ctx, r, AtStitch(s))
}

// ResolveRange streams verified tixels of rng. The strand is verified once
// up front; each element is checked before it is yielded. A stream that
// ends short of the range is Malformed.
func ResolveRange(ctx context.Context, r Resolver, rng AbsoluteRange) iter.Seq2[Resolution, error] {
	return func(yield func(Resolution, error) bool) {
		s, err := ResolveStrand(ctx, r, rng.Strand)
		if err != nil {
			yield(Resolution{}, err)
			return
		}
		want := rng.Indices()
		next, stop := iter.Pull(want)
		defer stop()
		for t, err := range r.RangeStream(ctx, rng) {
			if err != nil {
				yield(Resolution{}, err)
				return
			}
			idx, ok := next()
			if !ok || !t.StrandCID().Equals(rng.Strand) || t.Index() != idx {
				yield(Resolution{}, twine.NewError(twine.KindMalformed, "range %s: got index %d, expected %d", rng, t.Index(), idx))
				return
			}
			if err := checkTixel(ctx, r, t, s); err != nil {
				yield(Resolution{}, err)
				return
			}
			if !yield(Resolution{Strand: s, Tixel: t}, nil) {
				return
			}
		}
		if idx, ok := next(); ok {
			yield(Resolution{}, twine.NewError(twine.KindMalformed, "range %s: stream ended before index %d", rng, idx))
		}
	}
}

func checkTixel(ctx context.Context, r Resolver, t *twine.Tixel, s *twine.Strand) error {
	if err := verify.TixelWithStrand(t, s); err != nil {
		return err
	}
	return verify.Links(ctx, r, t, s)
}

func answers(q SingleQuery, t *twine.Tixel) error {
	if !t.StrandCID().Equals(q.Strand) {
		return twine.NewError(twine.KindMalformed, "asked for strand %s, got a tixel of %s", cidutil.Format(q.Strand), cidutil.Format(t.StrandCID()))
	}
	switch q.Kind {
	case SingleIndex:
		if t.Index() != q.Index {
			return twine.NewError(twine.KindMalformed, "asked for index %d, got %d", q.Index, t.Index())
		}
	case SingleStitch:
		if !t.CID().Equals(q.Tixel) {
			return twine.MismatchError(q.Tixel, t.CID())
		}
	}
	return nil
}
