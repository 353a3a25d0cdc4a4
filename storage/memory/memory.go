// Package memory is an in-process Store backed by maps. It is the reference
// backend for tests and for short-lived tools.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

type chain struct {
	strand *twine.Strand
	byIdx  map[uint64]*twine.Tixel
	latest uint64
}

// Store keeps shared, immutable handles to every saved block.
type Store struct {
	mu     sync.RWMutex
	chains map[cid.Cid]*chain
	tixels map[cid.Cid]*twine.Tixel
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		chains: make(map[cid.Cid]*chain),
		tixels: make(map[cid.Cid]*twine.Tixel),
	}
}

func (s *Store) Save(ctx context.Context, tw twine.Twine) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	if err := storage.Check(ctx, s, tw); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := tw.(type) {
	case *twine.Strand:
		if _, ok := s.chains[v.CID()]; !ok {
			s.chains[v.CID()] = &chain{strand: v, byIdx: make(map[uint64]*twine.Tixel)}
		}
	case *twine.Tixel:
		c, ok := s.chains[v.StrandCID()]
		if !ok {
			// Deleted between Check and here.
			return storage.StrandNotFound(v.StrandCID())
		}
		if prev, ok := c.byIdx[v.Index()]; ok {
			if prev.CID().Equals(v.CID()) {
				return nil
			}
			return twine.NewError(twine.KindInvalidTwineFormat, "index %d of strand %s is already taken by %s",
				v.Index(), cidutil.Format(v.StrandCID()), cidutil.Format(prev.CID()))
		}
		c.byIdx[v.Index()] = v
		if len(c.byIdx) == 1 || v.Index() > c.latest {
			c.latest = v.Index()
		}
		s.tixels[v.CID()] = v
	}
	return nil
}

func (s *Store) SaveMany(ctx context.Context, tws []twine.Twine) ([]storage.Result, error) {
	return storage.SaveSlice(ctx, s, tws)
}

func (s *Store) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]storage.Result, error) {
	return storage.SaveEach(ctx, s, tws)
}

func (s *Store) Delete(_ context.Context, id cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chains[id]; ok {
		for _, t := range c.byIdx {
			delete(s.tixels, t.CID())
		}
		delete(s.chains, id)
		return nil
	}
	t, ok := s.tixels[id]
	if !ok {
		return twine.NewError(twine.KindNotFound, "%s not found", cidutil.Format(id))
	}
	delete(s.tixels, id)
	if c, ok := s.chains[t.StrandCID()]; ok {
		delete(c.byIdx, t.Index())
		if t.Index() == c.latest {
			c.latest = 0
			for i := range c.byIdx {
				c.latest = max(c.latest, i)
			}
		}
	}
	return nil
}

func (s *Store) HasIndex(_ context.Context, strand cid.Cid, index uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[strand]
	if !ok {
		return false, nil
	}
	_, ok = c.byIdx[index]
	return ok, nil
}

func (s *Store) HasTwine(_ context.Context, strand, id cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id.Equals(strand) {
		_, ok := s.chains[strand]
		return ok, nil
	}
	t, ok := s.tixels[id]
	return ok && t.StrandCID().Equals(strand), nil
}

func (s *Store) HasStrand(_ context.Context, strand cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chains[strand]
	return ok, nil
}

func (s *Store) FetchLatest(_ context.Context, strand cid.Cid) (*twine.Tixel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[strand]
	if !ok {
		return nil, storage.StrandNotFound(strand)
	}
	if len(c.byIdx) == 0 {
		return nil, storage.LatestNotFound(strand)
	}
	return c.byIdx[c.latest], nil
}

func (s *Store) FetchIndex(_ context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[strand]
	if !ok {
		return nil, storage.StrandNotFound(strand)
	}
	t, ok := c.byIdx[index]
	if !ok {
		return nil, storage.IndexNotFound(strand, index)
	}
	return t, nil
}

func (s *Store) FetchTixel(_ context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tixels[tixel]
	if !ok || !t.StrandCID().Equals(strand) {
		return nil, storage.TixelNotFound(strand, tixel)
	}
	return t, nil
}

func (s *Store) FetchStrand(_ context.Context, strand cid.Cid) (*twine.Strand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[strand]
	if !ok {
		return nil, storage.StrandNotFound(strand)
	}
	return c.strand, nil
}

// RangeStream takes the read lock per element, never across a yield.
func (s *Store) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return resolver.IndexStream(ctx, rng, func(ctx context.Context, index uint64) (*twine.Tixel, error) {
		return s.FetchIndex(ctx, rng.Strand, index)
	})
}

// FetchStrands yields a snapshot of the stored strands ordered by CID.
func (s *Store) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return func(yield func(*twine.Strand, error) bool) {
		s.mu.RLock()
		strands := make([]*twine.Strand, 0, len(s.chains))
		for _, c := range s.chains {
			strands = append(strands, c.strand)
		}
		s.mu.RUnlock()
		sort.Slice(strands, func(i, j int) bool { return cidutil.Less(strands[i].CID(), strands[j].CID()) })
		for _, st := range strands {
			if err := resolver.ContextError(ctx); err != nil {
				yield(nil, err)
				return
			}
			if !yield(st, nil) {
				return
			}
		}
	}
}
