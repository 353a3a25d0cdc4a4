// Package cache wraps a Resolver with LRU caches of the blocks it returns.
//
// Blocks are immutable, so a cached strand or tixel is always a correct
// answer for its CID, and a cached index stays correct as long as the
// backend never deletes. FetchLatest is always forwarded.
package cache

import (
	"context"
	"iter"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

// DefaultSize is the entry count of each cache when New is given 0.
const DefaultSize = 4096

type indexKey struct {
	strand cid.Cid
	index  uint64
}

// Cache is a caching Resolver. It is safe for concurrent use.
type Cache struct {
	r       resolver.Resolver
	strands *lru.Cache[cid.Cid, *twine.Strand]
	tixels  *lru.Cache[cid.Cid, *twine.Tixel]
	index   *lru.Cache[indexKey, cid.Cid]
	log     *zap.Logger

	hits, misses atomic.Uint64
}

var _ resolver.Resolver = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// New wraps r. size bounds each of the strand, tixel and index caches.
func New(r resolver.Resolver, size int, opts ...Option) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	strands, err := lru.New[cid.Cid, *twine.Strand](size)
	if err != nil {
		return nil, err
	}
	tixels, err := lru.New[cid.Cid, *twine.Tixel](size)
	if err != nil {
		return nil, err
	}
	index, err := lru.New[indexKey, cid.Cid](size)
	if err != nil {
		return nil, err
	}
	c := &Cache{r: r, strands: strands, tixels: tixels, index: index, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Stats reports cache hits and misses since creation.
func (c *Cache) Stats() (hits, misses uint64) { return c.hits.Load(), c.misses.Load() }

// Purge empties every cache.
func (c *Cache) Purge() {
	c.strands.Purge()
	c.tixels.Purge()
	c.index.Purge()
}

func (c *Cache) remember(t *twine.Tixel) {
	c.tixels.Add(t.CID(), t)
	c.index.Add(indexKey{t.StrandCID(), t.Index()}, t.CID())
}

func (c *Cache) hit() { c.hits.Add(1) }

func (c *Cache) miss() { c.misses.Add(1) }

func (c *Cache) HasIndex(ctx context.Context, strand cid.Cid, index uint64) (bool, error) {
	if c.index.Contains(indexKey{strand, index}) {
		return true, nil
	}
	return c.r.HasIndex(ctx, strand, index)
}

func (c *Cache) HasTwine(ctx context.Context, strand, id cid.Cid) (bool, error) {
	if id.Equals(strand) {
		return c.HasStrand(ctx, strand)
	}
	if t, ok := c.tixels.Peek(id); ok && t.StrandCID().Equals(strand) {
		return true, nil
	}
	return c.r.HasTwine(ctx, strand, id)
}

func (c *Cache) HasStrand(ctx context.Context, strand cid.Cid) (bool, error) {
	if c.strands.Contains(strand) {
		return true, nil
	}
	return c.r.HasStrand(ctx, strand)
}

// FetchLatest is never served from cache; the tixel it returns is cached
// under its CID and index.
func (c *Cache) FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error) {
	t, err := c.r.FetchLatest(ctx, strand)
	if err != nil {
		return nil, err
	}
	c.remember(t)
	return t, nil
}

func (c *Cache) FetchIndex(ctx context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	if id, ok := c.index.Get(indexKey{strand, index}); ok {
		if t, ok := c.tixels.Get(id); ok {
			c.hit()
			return t, nil
		}
	}
	c.miss()
	t, err := c.r.FetchIndex(ctx, strand, index)
	if err != nil {
		return nil, err
	}
	c.remember(t)
	return t, nil
}

func (c *Cache) FetchTixel(ctx context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	if t, ok := c.tixels.Get(tixel); ok && t.StrandCID().Equals(strand) {
		c.hit()
		return t, nil
	}
	c.miss()
	t, err := c.r.FetchTixel(ctx, strand, tixel)
	if err != nil {
		return nil, err
	}
	c.remember(t)
	return t, nil
}

func (c *Cache) FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error) {
	if s, ok := c.strands.Get(strand); ok {
		c.hit()
		return s, nil
	}
	c.miss()
	s, err := c.r.FetchStrand(ctx, strand)
	if err != nil {
		return nil, err
	}
	c.strands.Add(strand, s)
	return s, nil
}

// RangeStream forwards to the wrapped resolver and caches what passes
// through.
func (c *Cache) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return func(yield func(*twine.Tixel, error) bool) {
		for t, err := range c.r.RangeStream(ctx, rng) {
			if err == nil {
				c.remember(t)
			}
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

func (c *Cache) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return func(yield func(*twine.Strand, error) bool) {
		for s, err := range c.r.FetchStrands(ctx) {
			if err == nil {
				c.strands.Add(s.CID(), s)
			}
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

// Store adds the cache to a storage.Store. Writes go straight to the
// backend; Delete empties the cache, since cached indices may name the
// deleted blocks.
type Store struct {
	*Cache
	st storage.Store
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps st.
func NewStore(st storage.Store, size int, opts ...Option) (*Store, error) {
	c, err := New(st, size, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{Cache: c, st: st}, nil
}

func (s *Store) Save(ctx context.Context, tw twine.Twine) error {
	return s.st.Save(ctx, tw)
}

func (s *Store) SaveMany(ctx context.Context, tws []twine.Twine) ([]storage.Result, error) {
	return s.st.SaveMany(ctx, tws)
}

func (s *Store) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]storage.Result, error) {
	return s.st.SaveStream(ctx, tws)
}

func (s *Store) Delete(ctx context.Context, id cid.Cid) error {
	defer s.Purge()
	if err := s.st.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Debug("cache purged after delete", zap.String("cid", cidutil.Format(id)))
	return nil
}
