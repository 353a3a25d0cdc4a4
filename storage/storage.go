// Package storage is the write side of chain storage.
//
// A Store is a resolver.Resolver that can also persist and delete blocks.
// Every Store in this module verifies a block before persisting it: strands
// with verify.Strand, tixels with verify.TixelWithStrand against the strand
// the store already holds. Saving a block that is already stored is a no-op.
//
// Batch saves are atomic per item, not per batch: each item either lands
// completely or not at all, and a failure never disturbs earlier items.
package storage

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/ipfs/go-cid"
	"go.uber.org/multierr"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/twine"
	"xdao.co/twine/verify"
)

// Store extends a Resolver with mutation.
type Store interface {
	resolver.Resolver

	// Save verifies and persists one block.
	Save(ctx context.Context, tw twine.Twine) error
	// SaveMany saves each block in order and reports every outcome. The
	// returned error combines the per-item failures.
	SaveMany(ctx context.Context, tws []twine.Twine) ([]Result, error)
	// SaveStream is SaveMany over a lazy sequence.
	SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]Result, error)
	// Delete removes a tixel, or a strand together with all of its tixels.
	Delete(ctx context.Context, id cid.Cid) error
}

// Result is the outcome of saving one block.
type Result struct {
	CID cid.Cid
	Err error
}

// Saver is the single-item save a backend implements; SaveEach builds the
// batch operations on top of it.
type Saver interface {
	Save(ctx context.Context, tw twine.Twine) error
}

// SaveEach saves every block of tws with s, stopping early only when ctx is
// done. Items not attempted because of cancellation are not reported.
func SaveEach(ctx context.Context, s Saver, tws iter.Seq[twine.Twine]) ([]Result, error) {
	var results []Result
	var errs error
	for tw := range tws {
		if err := resolver.ContextError(ctx); err != nil {
			return results, multierr.Append(errs, err)
		}
		if twine.IsNil(tw) {
			err := twine.NewError(twine.KindInvalidTwineFormat, "nil twine")
			results = append(results, Result{Err: err})
			errs = multierr.Append(errs, err)
			continue
		}
		err := s.Save(ctx, tw)
		results = append(results, Result{CID: tw.CID(), Err: err})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", cidutil.Format(tw.CID()), err))
		}
	}
	return results, errs
}

// SaveSlice is SaveEach over a slice.
func SaveSlice(ctx context.Context, s Saver, tws []twine.Twine) ([]Result, error) {
	return SaveEach(ctx, s, slices.Values(tws))
}

// SortForSave orders tws so each block's strand is saved before it:
// strands first, then tixels by index. The sort is stable.
func SortForSave(tws []twine.Twine) {
	slices.SortStableFunc(tws, func(a, b twine.Twine) int {
		ta, aTixel := a.(*twine.Tixel)
		tb, bTixel := b.(*twine.Tixel)
		switch {
		case !aTixel && !bTixel:
			return 0
		case !aTixel:
			return -1
		case !bTixel:
			return 1
		}
		return cmp.Compare(ta.Index(), tb.Index())
	})
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Check verifies tw before it is persisted into a store that reads through
// r. A tixel's strand must already be stored.
func Check(ctx context.Context, r resolver.Resolver, tw twine.Twine) error {
	if twine.IsNil(tw) {
		return twine.NewError(twine.KindInvalidTwineFormat, "nil twine")
	}
	switch v := tw.(type) {
	case *twine.Strand:
		return verify.Strand(v)
	case *twine.Tixel:
		s, err := r.FetchStrand(ctx, v.StrandCID())
		if err != nil {
			if twine.IsNotFound(err) {
				return twine.WrapError(twine.KindNotFound, "strand of tixel "+cidutil.Format(v.CID())+" is not stored", err)
			}
			return err
		}
		return verify.TixelWithStrand(v, s)
	}
	return twine.NewError(twine.KindInvalidTwineFormat, "unknown twine %T", tw)
}
