package cache_test

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/storage/cache"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/storage/testkit"
	"xdao.co/twine/twine"
)

// counting counts calls that reach the backend.
type counting struct {
	resolver.Resolver
	calls int
}

func (c *counting) FetchIndex(ctx context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	c.calls++
	return c.Resolver.FetchIndex(ctx, strand, index)
}

func (c *counting) FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error) {
	c.calls++
	return c.Resolver.FetchLatest(ctx, strand)
}

func (c *counting) FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error) {
	c.calls++
	return c.Resolver.FetchStrand(ctx, strand)
}

func setup(t *testing.T, n int) (*cache.Cache, *counting, *memory.Store, testkit.Chain) {
	t.Helper()
	st := memory.New()
	c := testkit.NewChain(t, 1, 4, n)
	if _, err := st.SaveMany(context.Background(), c.Twines()); err != nil {
		t.Fatalf("SaveMany: %v", err)
	}
	backend := &counting{Resolver: st}
	cc, err := cache.New(backend, 16)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return cc, backend, st, c
}

func TestCacheServesRepeatedLookups(t *testing.T) {
	ctx := context.Background()
	cc, backend, _, c := setup(t, 3)

	for i := 0; i < 3; i++ {
		if _, err := cc.FetchIndex(ctx, c.Strand.CID(), 1); err != nil {
			t.Fatalf("FetchIndex: %v", err)
		}
		if _, err := cc.FetchStrand(ctx, c.Strand.CID()); err != nil {
			t.Fatalf("FetchStrand: %v", err)
		}
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls = %d, want 2", backend.calls)
	}
	hits, misses := cc.Stats()
	if hits != 4 || misses != 2 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
	if _, err := cc.FetchTixel(ctx, c.Strand.CID(), c.Tixels[1].CID()); err != nil {
		t.Fatalf("FetchTixel: %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("FetchTixel reached the backend")
	}
}

func TestCacheNeverCachesLatest(t *testing.T) {
	ctx := context.Background()
	cc, backend, st, c := setup(t, 2)

	if _, err := cc.FetchLatest(ctx, c.Strand.CID()); err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	more := testkit.NewChain(t, 1, 4, 3)
	if err := st.Save(ctx, more.Tixels[2]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	latest, err := cc.FetchLatest(ctx, c.Strand.CID())
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if latest.Index() != 2 {
		t.Fatalf("latest = %d, want 2", latest.Index())
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls = %d, want 2", backend.calls)
	}
}

func TestCacheRangePopulates(t *testing.T) {
	ctx := context.Background()
	cc, backend, _, c := setup(t, 5)
	if _, err := resolver.Collect(cc.RangeStream(ctx, resolver.NewRange(c.Strand.CID(), 0, 4))); err != nil {
		t.Fatalf("RangeStream: %v", err)
	}
	before := backend.calls
	if _, err := cc.FetchIndex(ctx, c.Strand.CID(), 3); err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if backend.calls != before {
		t.Fatalf("FetchIndex after range reached the backend")
	}
	if ok, _ := cc.HasIndex(ctx, c.Strand.CID(), 4); !ok {
		t.Fatalf("HasIndex = false")
	}
	cc.Purge()
	if _, err := cc.FetchIndex(ctx, c.Strand.CID(), 3); err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if backend.calls != before+1 {
		t.Fatalf("Purge did not empty the cache")
	}
}

func TestCachePassesThroughNotFound(t *testing.T) {
	cc, _, _, c := setup(t, 1)
	if _, err := cc.FetchIndex(context.Background(), c.Strand.CID(), 9); !twine.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestCacheStoreConformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		st, err := cache.NewStore(memory.New(), 8)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		return st
	})
}
