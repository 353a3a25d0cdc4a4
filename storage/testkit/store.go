package testkit

import (
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

// NewStore constructs a fresh, empty Store for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.Store

func saveChain(t *testing.T, st storage.Store, c Chain) {
	t.Helper()
	results, err := st.SaveMany(context.Background(), c.Twines())
	if err != nil {
		t.Fatalf("SaveMany failed: %v", err)
	}
	if len(results) != len(c.Twines()) {
		t.Fatalf("SaveMany reported %d results, want %d", len(results), len(c.Twines()))
	}
}

// RunStoreConformance runs the behaviour every backend must share.
func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("SaveFetchRoundTrip", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 3)
		saveChain(t, st, c)

		s, err := st.FetchStrand(ctx, c.Strand.CID())
		if err != nil {
			t.Fatalf("FetchStrand failed: %v", err)
		}
		if !twine.SameBytes(s, c.Strand) {
			t.Fatalf("FetchStrand returned different bytes")
		}
		for i, want := range c.Tixels {
			got, err := st.FetchTixel(ctx, c.Strand.CID(), want.CID())
			if err != nil {
				t.Fatalf("FetchTixel(%d) failed: %v", i, err)
			}
			if !twine.SameBytes(got, want) {
				t.Fatalf("FetchTixel(%d) returned different bytes", i)
			}
			got, err = st.FetchIndex(ctx, c.Strand.CID(), uint64(i))
			if err != nil {
				t.Fatalf("FetchIndex(%d) failed: %v", i, err)
			}
			if !got.CID().Equals(want.CID()) {
				t.Fatalf("FetchIndex(%d) returned %s", i, got.CID())
			}
		}
	})

	t.Run("SaveIdempotent", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 2)
		saveChain(t, st, c)
		saveChain(t, st, c)
		latest, err := st.FetchLatest(ctx, c.Strand.CID())
		if err != nil {
			t.Fatalf("FetchLatest failed: %v", err)
		}
		if latest.Index() != 1 {
			t.Fatalf("latest = %d, want 1", latest.Index())
		}
	})

	t.Run("TixelWithoutStrandRejected", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 1)
		err := st.Save(ctx, c.Tixels[0])
		if !twine.IsNotFound(err) {
			t.Fatalf("Save without strand: got %v, want NotFound", err)
		}
		if ok, _ := st.HasTwine(ctx, c.Strand.CID(), c.Tixels[0].CID()); ok {
			t.Fatalf("rejected tixel was persisted")
		}
	})

	t.Run("ForgedTixelRejected", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 0)
		saveChain(t, st, c)
		err := st.Save(ctx, c.Forged(t))
		if !twine.IsKind(err, twine.KindBadSignature) {
			t.Fatalf("Save forged: got %v, want BadSignature", err)
		}
		if ok, _ := st.HasIndex(ctx, c.Strand.CID(), 0); ok {
			t.Fatalf("forged tixel was persisted")
		}
	})

	t.Run("SaveManyPartialFailure", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 2)
		batch := append(c.Twines(), c.Forged(t))

		results, err := st.SaveMany(ctx, batch)
		if err == nil {
			t.Fatalf("SaveMany succeeded with a forged item")
		}
		if !errors.Is(err, twine.ErrBadSignature) {
			t.Fatalf("aggregate error %v does not carry BadSignature", err)
		}
		if len(results) != 4 {
			t.Fatalf("results = %d, want 4", len(results))
		}
		for i, r := range results[:3] {
			if r.Err != nil {
				t.Fatalf("item %d failed: %v", i, r.Err)
			}
		}
		if !twine.IsKind(results[3].Err, twine.KindBadSignature) {
			t.Fatalf("item 3: got %v, want BadSignature", results[3].Err)
		}
		if failed := storage.Failed(results); len(failed) != 1 {
			t.Fatalf("Failed = %d, want 1", len(failed))
		}
		for _, tw := range c.Twines() {
			if ok, err := st.HasTwine(ctx, c.Strand.CID(), tw.CID()); err != nil || !ok {
				t.Fatalf("valid item %s not persisted (err=%v)", tw.CID(), err)
			}
		}
	})

	t.Run("NilItems", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 1)
		var nilTixel *twine.Tixel
		var nilStrand *twine.Strand
		if err := st.Save(ctx, nilTixel); !twine.IsKind(err, twine.KindInvalidTwineFormat) {
			t.Fatalf("Save(nil tixel): got %v, want InvalidTwineFormat", err)
		}
		batch := []twine.Twine{c.Strand, nil, nilStrand, nilTixel, c.Tixels[0]}
		results, err := st.SaveMany(ctx, batch)
		if err == nil {
			t.Fatalf("SaveMany accepted nil items")
		}
		if len(results) != 5 {
			t.Fatalf("results = %d, want 5", len(results))
		}
		for i, r := range results {
			nilItem := i >= 1 && i <= 3
			if nilItem != (r.Err != nil) {
				t.Fatalf("item %d: err = %v", i, r.Err)
			}
		}
		if ok, err := st.HasIndex(ctx, c.Strand.CID(), 0); err != nil || !ok {
			t.Fatalf("tixel after nil items not persisted (err=%v)", err)
		}
	})

	t.Run("SaveStream", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 2, 2, 5)
		results, err := st.SaveStream(ctx, c.All())
		if err != nil {
			t.Fatalf("SaveStream failed: %v", err)
		}
		if len(results) != 6 {
			t.Fatalf("results = %d, want 6", len(results))
		}
		latest, err := st.FetchLatest(ctx, c.Strand.CID())
		if err != nil || latest.Index() != 4 {
			t.Fatalf("FetchLatest = %v, %v", latest, err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 2)
		missing := NewChain(t, 9, 4, 1)

		if _, err := st.FetchStrand(ctx, missing.Strand.CID()); !twine.IsNotFound(err) {
			t.Fatalf("FetchStrand missing: %v", err)
		}
		if _, err := st.FetchLatest(ctx, missing.Strand.CID()); !twine.IsNotFound(err) {
			t.Fatalf("FetchLatest missing: %v", err)
		}

		saveChain(t, st, NewChain(t, 1, 4, 0))
		if _, err := st.FetchLatest(ctx, c.Strand.CID()); !twine.IsNotFound(err) {
			t.Fatalf("FetchLatest of empty strand: %v", err)
		}

		saveChain(t, st, c)
		if _, err := st.FetchIndex(ctx, c.Strand.CID(), 7); !twine.IsNotFound(err) {
			t.Fatalf("FetchIndex past end: %v", err)
		}
		if _, err := st.FetchTixel(ctx, c.Strand.CID(), missing.Tixels[0].CID()); !twine.IsNotFound(err) {
			t.Fatalf("FetchTixel missing: %v", err)
		}
		if _, err := st.FetchTixel(ctx, missing.Strand.CID(), c.Tixels[0].CID()); !twine.IsNotFound(err) {
			t.Fatalf("FetchTixel on wrong strand: %v", err)
		}
		if err := st.Delete(ctx, missing.Strand.CID()); !twine.IsNotFound(err) {
			t.Fatalf("Delete missing: %v", err)
		}
	})

	t.Run("Has", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 2)
		other := NewChain(t, 2, 4, 1)
		saveChain(t, st, c)

		checks := []struct {
			name string
			fn   func() (bool, error)
			want bool
		}{
			{"HasStrand", func() (bool, error) { return st.HasStrand(ctx, c.Strand.CID()) }, true},
			{"HasStrand/missing", func() (bool, error) { return st.HasStrand(ctx, other.Strand.CID()) }, false},
			{"HasIndex", func() (bool, error) { return st.HasIndex(ctx, c.Strand.CID(), 1) }, true},
			{"HasIndex/past", func() (bool, error) { return st.HasIndex(ctx, c.Strand.CID(), 2) }, false},
			{"HasIndex/missingStrand", func() (bool, error) { return st.HasIndex(ctx, other.Strand.CID(), 0) }, false},
			{"HasTwine/strand", func() (bool, error) { return st.HasTwine(ctx, c.Strand.CID(), c.Strand.CID()) }, true},
			{"HasTwine/tixel", func() (bool, error) { return st.HasTwine(ctx, c.Strand.CID(), c.Tixels[1].CID()) }, true},
			{"HasTwine/foreign", func() (bool, error) { return st.HasTwine(ctx, c.Strand.CID(), other.Tixels[0].CID()) }, false},
		}
		for _, tc := range checks {
			got, err := tc.fn()
			if err != nil {
				t.Fatalf("%s failed: %v", tc.name, err)
			}
			if got != tc.want {
				t.Fatalf("%s = %v, want %v", tc.name, got, tc.want)
			}
		}
	})

	t.Run("Latest", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 5)
		// Out-of-order arrival still reports the highest index.
		saveChain(t, st, Chain{Strand: c.Strand})
		for _, i := range []int{0, 3, 1, 4, 2} {
			if err := st.Save(ctx, c.Tixels[i]); err != nil {
				t.Fatalf("Save(%d) failed: %v", i, err)
			}
		}
		latest, err := st.FetchLatest(ctx, c.Strand.CID())
		if err != nil {
			t.Fatalf("FetchLatest failed: %v", err)
		}
		if !latest.CID().Equals(c.Tixels[4].CID()) {
			t.Fatalf("latest = %d, want 4", latest.Index())
		}
	})

	t.Run("IndexCollision", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 1)
		saveChain(t, st, c)
		// Same signer, same index, different content.
		clash, err := twine.NewTixel(twine.TixelFields{
			Strand: c.Strand.CID(),
			Index:  0,
			Source: "clash",
			Hash:   c.Strand.HashCode(),
			Spec:   c.Strand.Spec(),
		}, c.Signer)
		if err != nil {
			t.Fatalf("NewTixel failed: %v", err)
		}
		if err := st.Save(ctx, clash); !twine.IsKind(err, twine.KindInvalidTwineFormat) {
			t.Fatalf("Save clash: got %v, want InvalidTwineFormat", err)
		}
		got, err := st.FetchIndex(ctx, c.Strand.CID(), 0)
		if err != nil || !got.CID().Equals(c.Tixels[0].CID()) {
			t.Fatalf("index 0 changed after clash (err=%v)", err)
		}
	})

	t.Run("Range", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 17)
		saveChain(t, st, c)
		id := c.Strand.CID()

		collect := func(rng resolver.AbsoluteRange) []uint64 {
			t.Helper()
			var out []uint64
			for tx, err := range st.RangeStream(ctx, rng) {
				if err != nil {
					t.Fatalf("RangeStream(%s) failed: %v", rng, err)
				}
				out = append(out, tx.Index())
			}
			return out
		}
		assertIndices(t, collect(resolver.NewRange(id, 3, 7)), []uint64{3, 4, 5, 6, 7})
		assertIndices(t, collect(resolver.NewRange(id, 16, 12)), []uint64{16, 15, 14, 13, 12})
		assertIndices(t, collect(resolver.NewRange(id, 5, 5)), []uint64{5})

		var seen []uint64
		for tx, err := range st.RangeStream(ctx, resolver.NewRange(id, 0, 16)) {
			if err != nil {
				t.Fatalf("RangeStream failed: %v", err)
			}
			seen = append(seen, tx.Index())
			if len(seen) == 2 {
				break
			}
		}
		assertIndices(t, seen, []uint64{0, 1})

		var gotErr error
		for _, err := range st.RangeStream(ctx, resolver.NewRange(id, 15, 20)) {
			if err != nil {
				gotErr = err
				break
			}
		}
		if !twine.IsNotFound(gotErr) {
			t.Fatalf("RangeStream past end: got %v, want NotFound", gotErr)
		}
	})

	t.Run("RangeCancelled", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 3)
		saveChain(t, st, c)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		var gotErr error
		for _, err := range st.RangeStream(cctx, resolver.NewRange(c.Strand.CID(), 0, 2)) {
			if err != nil {
				gotErr = err
				break
			}
		}
		if !twine.IsKind(gotErr, twine.KindCancelled) {
			t.Fatalf("got %v, want Cancelled", gotErr)
		}
	})

	t.Run("SkipListLinks", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 17)
		saveChain(t, st, c)
		tx, err := st.FetchIndex(ctx, c.Strand.CID(), 16)
		if err != nil {
			t.Fatalf("FetchIndex failed: %v", err)
		}
		var targets []uint64
		for _, l := range tx.Links() {
			target, err := st.FetchTixel(ctx, c.Strand.CID(), l)
			if err != nil {
				t.Fatalf("FetchTixel(link) failed: %v", err)
			}
			targets = append(targets, target.Index())
		}
		assertIndices(t, targets, []uint64{15, 12, 0})
	})

	t.Run("FetchStrands", func(t *testing.T) {
		st := newStore(t)
		a := NewChain(t, 1, 4, 1)
		b := NewChain(t, 2, 4, 0)
		saveChain(t, st, a)
		saveChain(t, st, b)

		seen := map[cid.Cid]bool{}
		for s, err := range st.FetchStrands(ctx) {
			if err != nil {
				t.Fatalf("FetchStrands failed: %v", err)
			}
			seen[s.CID()] = true
		}
		if len(seen) != 2 || !seen[a.Strand.CID()] || !seen[b.Strand.CID()] {
			t.Fatalf("FetchStrands returned %d strands", len(seen))
		}
	})

	t.Run("DeleteTixel", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 3)
		saveChain(t, st, c)
		if err := st.Delete(ctx, c.Tixels[2].CID()); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := st.FetchTixel(ctx, c.Strand.CID(), c.Tixels[2].CID()); !twine.IsNotFound(err) {
			t.Fatalf("deleted tixel still fetchable: %v", err)
		}
		if ok, _ := st.HasIndex(ctx, c.Strand.CID(), 2); ok {
			t.Fatalf("deleted index still present")
		}
		latest, err := st.FetchLatest(ctx, c.Strand.CID())
		if err != nil || latest.Index() != 1 {
			t.Fatalf("latest after delete = %v, %v", latest, err)
		}
	})

	t.Run("DeleteStrand", func(t *testing.T) {
		st := newStore(t)
		c := NewChain(t, 1, 4, 3)
		keep := NewChain(t, 2, 4, 1)
		saveChain(t, st, c)
		saveChain(t, st, keep)
		if err := st.Delete(ctx, c.Strand.CID()); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if ok, _ := st.HasStrand(ctx, c.Strand.CID()); ok {
			t.Fatalf("deleted strand still present")
		}
		for _, tx := range c.Tixels {
			if _, err := st.FetchTixel(ctx, c.Strand.CID(), tx.CID()); !twine.IsNotFound(err) {
				t.Fatalf("tixel %d survived strand delete: %v", tx.Index(), err)
			}
		}
		if ok, _ := st.HasStrand(ctx, keep.Strand.CID()); !ok {
			t.Fatalf("unrelated strand removed")
		}
	})
}

func assertIndices(t *testing.T, got, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("indices = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("indices = %v, want %v", got, want)
		}
	}
}
