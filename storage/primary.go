package storage

import (
	"context"
	"iter"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/twine/resolver"
	"xdao.co/twine/twine"
)

// Primary writes to its first backend and reads with ordered fallback
// across all of them.
type Primary struct {
	resolver.Series
	write Store
}

var _ Store = (*Primary)(nil)

// NewPrimary builds a Primary over backends; backends[0] takes the writes.
func NewPrimary(backends []Named, logger *zap.Logger) *Primary {
	rs := make([]resolver.Resolver, 0, len(backends))
	for _, b := range backends {
		rs = append(rs, b.Store)
	}
	p := &Primary{Series: resolver.Series{Resolvers: rs, Logger: logger}}
	if len(backends) > 0 {
		p.write = backends[0].Store
	}
	return p
}

func (p *Primary) writer() (Store, error) {
	if p.write == nil {
		return nil, twine.NewError(twine.KindConnectionFailure, "no backend to write to")
	}
	return p.write, nil
}

func (p *Primary) Save(ctx context.Context, tw twine.Twine) error {
	w, err := p.writer()
	if err != nil {
		return err
	}
	return w.Save(ctx, tw)
}

func (p *Primary) SaveMany(ctx context.Context, tws []twine.Twine) ([]Result, error) {
	return SaveSlice(ctx, p, tws)
}

func (p *Primary) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]Result, error) {
	return SaveEach(ctx, p, tws)
}

// Delete removes id from the write backend only.
func (p *Primary) Delete(ctx context.Context, id cid.Cid) error {
	w, err := p.writer()
	if err != nil {
		return err
	}
	return w.Delete(ctx, id)
}
