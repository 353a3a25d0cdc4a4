package storage

import (
	"context"
	"fmt"
	"iter"

	"github.com/ipfs/go-cid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"xdao.co/twine/resolver"
	"xdao.co/twine/twine"
)

// Named associates a Store with a stable backend name for reporting.
type Named struct {
	Name  string
	Store Store
}

// Replicating writes to every backend and reads with ordered fallback.
//
// A save succeeds only if every backend accepts the block; SaveAll reports
// the per-backend outcome. Reads behave like resolver.Series over the
// backends in slice order.
type Replicating struct {
	Backends []Named
	Logger   *zap.Logger
}

var _ Store = (*Replicating)(nil)

func (r *Replicating) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Replicating) series() resolver.Series {
	rs := make([]resolver.Resolver, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store != nil {
			rs = append(rs, b.Store)
		}
	}
	return resolver.Series{Resolvers: rs, Logger: r.Logger}
}

// SaveAll saves tw to every backend and returns backend name -> error for
// the ones that failed.
func (r *Replicating) SaveAll(ctx context.Context, tw twine.Twine) (map[string]error, error) {
	if len(r.Backends) == 0 {
		return nil, fmt.Errorf("storage: Replicating has no backends")
	}
	if twine.IsNil(tw) {
		return nil, twine.NewError(twine.KindInvalidTwineFormat, "nil twine")
	}
	failed := make(map[string]error)
	var errs error
	for _, b := range r.Backends {
		if b.Store == nil {
			return nil, fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		if err := b.Store.Save(ctx, tw); err != nil {
			r.log().Warn("replica save failed", zap.String("backend", b.Name), zap.Stringer("cid", tw.CID()), zap.Error(err))
			failed[b.Name] = err
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.Name, err))
		}
	}
	return failed, errs
}

func (r *Replicating) Save(ctx context.Context, tw twine.Twine) error {
	_, err := r.SaveAll(ctx, tw)
	return err
}

func (r *Replicating) SaveMany(ctx context.Context, tws []twine.Twine) ([]Result, error) {
	return SaveSlice(ctx, r, tws)
}

func (r *Replicating) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]Result, error) {
	return SaveEach(ctx, r, tws)
}

// Delete removes id from every backend that holds it. It is NotFound only
// when no backend held it.
func (r *Replicating) Delete(ctx context.Context, id cid.Cid) error {
	var errs error
	deleted := false
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		err := b.Store.Delete(ctx, id)
		switch {
		case err == nil:
			deleted = true
		case IsNotFound(err):
		default:
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.Name, err))
		}
	}
	if errs != nil {
		return errs
	}
	if !deleted {
		return twine.NewError(twine.KindNotFound, "%s not found in any backend", id)
	}
	return nil
}

func (r *Replicating) HasIndex(ctx context.Context, strand cid.Cid, index uint64) (bool, error) {
	return r.series().HasIndex(ctx, strand, index)
}

func (r *Replicating) HasTwine(ctx context.Context, strand, id cid.Cid) (bool, error) {
	return r.series().HasTwine(ctx, strand, id)
}

func (r *Replicating) HasStrand(ctx context.Context, strand cid.Cid) (bool, error) {
	return r.series().HasStrand(ctx, strand)
}

func (r *Replicating) FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error) {
	return r.series().FetchLatest(ctx, strand)
}

func (r *Replicating) FetchIndex(ctx context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	return r.series().FetchIndex(ctx, strand, index)
}

func (r *Replicating) FetchTixel(ctx context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	return r.series().FetchTixel(ctx, strand, tixel)
}

func (r *Replicating) FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error) {
	return r.series().FetchStrand(ctx, strand)
}

func (r *Replicating) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return r.series().RangeStream(ctx, rng)
}

func (r *Replicating) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return r.series().FetchStrands(ctx)
}
