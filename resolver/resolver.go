// Package resolver is the read side of chain storage.
//
// A Resolver fetches strands and tixels from one backend. It performs no
// verification: the Resolve* functions in this package fetch and then
// verify, and are what consumers that need trust should call. Series chains
// several resolvers with ordered fallback.
package resolver

import (
	"context"
	"iter"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/twine"
)

// Resolver is implemented by every backend. All methods are safe for
// concurrent use. Point lookups fail with a twine.KindNotFound error when
// the block is absent; Has* methods only fail on backend errors.
//
// RangeStream and FetchStrands are pull-based: elements are produced as the
// caller ranges over them and breaking out of the loop releases whatever the
// backend holds (cursors, streams, transactions). A sequence stops after the
// first error it yields.
type Resolver interface {
	HasIndex(ctx context.Context, strand cid.Cid, index uint64) (bool, error)
	HasTwine(ctx context.Context, strand, id cid.Cid) (bool, error)
	HasStrand(ctx context.Context, strand cid.Cid) (bool, error)

	FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error)
	FetchIndex(ctx context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error)
	FetchTixel(ctx context.Context, strand, tixel cid.Cid) (*twine.Tixel, error)
	FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error)

	RangeStream(ctx context.Context, r AbsoluteRange) iter.Seq2[*twine.Tixel, error]
	FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error]
}

// ContextError maps a done context to a Cancelled error, or returns nil.
func ContextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return twine.WrapError(twine.KindCancelled, "cancelled", err)
	}
	return nil
}

// Fail returns a sequence that yields err once.
func Fail[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// IndexStream walks r by index, fetching each element with fetch. Backends
// without a native range cursor use it to implement RangeStream.
func IndexStream(ctx context.Context, r AbsoluteRange, fetch func(ctx context.Context, index uint64) (*twine.Tixel, error)) iter.Seq2[*twine.Tixel, error] {
	return func(yield func(*twine.Tixel, error) bool) {
		for i := range r.Indices() {
			if err := ContextError(ctx); err != nil {
				yield(nil, err)
				return
			}
			t, err := fetch(ctx, i)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}
