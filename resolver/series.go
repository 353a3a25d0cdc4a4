package resolver

import (
	"context"
	"iter"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/twine"
)

// Series provides ordered fallback across resolvers.
//
// Lookups go to each resolver in slice order. A NotFound moves on to the
// next one; any other error stops the search and is returned as is. Callers
// choose the order; nothing is randomised.
type Series struct {
	Resolvers []Resolver
	Logger    *zap.Logger
}

var _ Resolver = Series{}

func (s Series) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func first[T any](ctx context.Context, s Series, what string, fn func(Resolver) (T, error)) (T, error) {
	var zero T
	for i, r := range s.Resolvers {
		v, err := fn(r)
		if err == nil {
			return v, nil
		}
		if !twine.IsNotFound(err) {
			return zero, err
		}
		s.log().Debug("resolver fallback", zap.String("lookup", what), zap.Int("resolver", i))
		if err := ContextError(ctx); err != nil {
			return zero, err
		}
	}
	return zero, twine.NewError(twine.KindNotFound, "%s: not found in any of %d resolvers", what, len(s.Resolvers))
}

func anyHas(ctx context.Context, s Series, fn func(Resolver) (bool, error)) (bool, error) {
	for _, r := range s.Resolvers {
		ok, err := fn(r)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if err := ContextError(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s Series) HasIndex(ctx context.Context, strand cid.Cid, index uint64) (bool, error) {
	return anyHas(ctx, s, func(r Resolver) (bool, error) { return r.HasIndex(ctx, strand, index) })
}

func (s Series) HasTwine(ctx context.Context, strand, id cid.Cid) (bool, error) {
	return anyHas(ctx, s, func(r Resolver) (bool, error) { return r.HasTwine(ctx, strand, id) })
}

func (s Series) HasStrand(ctx context.Context, strand cid.Cid) (bool, error) {
	return anyHas(ctx, s, func(r Resolver) (bool, error) { return r.HasStrand(ctx, strand) })
}

func (s Series) FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error) {
	return first(ctx, s, "latest of "+cidutil.Format(strand), func(r Resolver) (*twine.Tixel, error) {
		return r.FetchLatest(ctx, strand)
	})
}

func (s Series) FetchIndex(ctx context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	return first(ctx, s, "index of "+cidutil.Format(strand), func(r Resolver) (*twine.Tixel, error) {
		return r.FetchIndex(ctx, strand, index)
	})
}

func (s Series) FetchTixel(ctx context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	return first(ctx, s, "tixel "+cidutil.Format(tixel), func(r Resolver) (*twine.Tixel, error) {
		return r.FetchTixel(ctx, strand, tixel)
	})
}

func (s Series) FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error) {
	return first(ctx, s, "strand "+cidutil.Format(strand), func(r Resolver) (*twine.Strand, error) {
		return r.FetchStrand(ctx, strand)
	})
}

// RangeStream serves the whole range from the first resolver that holds
// both ends of it.
func (s Series) RangeStream(ctx context.Context, rng AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return func(yield func(*twine.Tixel, error) bool) {
		for _, r := range s.Resolvers {
			lo, err := r.HasIndex(ctx, rng.Strand, rng.Lower())
			if err != nil {
				yield(nil, err)
				return
			}
			hi, err := r.HasIndex(ctx, rng.Strand, rng.Upper())
			if err != nil {
				yield(nil, err)
				return
			}
			if lo && hi {
				for t, err := range r.RangeStream(ctx, rng) {
					if !yield(t, err) || err != nil {
						return
					}
				}
				return
			}
		}
		yield(nil, twine.NewError(twine.KindNotFound, "range %s: not held by any resolver", rng))
	}
}

// FetchStrands yields the union of all resolvers' strands, each once, in
// resolver order.
func (s Series) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return func(yield func(*twine.Strand, error) bool) {
		seen := make(map[cid.Cid]struct{})
		for _, r := range s.Resolvers {
			for st, err := range r.FetchStrands(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				if _, dup := seen[st.CID()]; dup {
					continue
				}
				seen[st.CID()] = struct{}{}
				if !yield(st, nil) {
					return
				}
			}
		}
	}
}
