package resolver_test

import (
	"context"
	"iter"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/storage/testkit"
	"xdao.co/twine/twine"
)

func stored(t *testing.T, chains ...testkit.Chain) *memory.Store {
	t.Helper()
	st := memory.New()
	for _, c := range chains {
		if _, err := st.SaveMany(context.Background(), c.Twines()); err != nil {
			t.Fatalf("SaveMany: %v", err)
		}
	}
	return st
}

func indices[T interface{ Index() uint64 }](t *testing.T, seq func(func(T, error) bool)) []uint64 {
	t.Helper()
	var out []uint64
	for v, err := range seq {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		out = append(out, v.Index())
	}
	return out
}

func equal(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseSelector(t *testing.T) {
	c := testkit.NewChain(t, 1, 4, 1)
	s := cidutil.Format(c.Strand.CID())
	tx := cidutil.Format(c.Tixels[0].CID())

	tests := []struct {
		in   string
		kind resolver.SelectorKind
		chk  func(resolver.Selector) bool
	}{
		{"all", resolver.SelectAll, nil},
		{"ALL", resolver.SelectAll, nil},
		{" * ", resolver.SelectAll, nil},
		{s, resolver.SelectStrand, func(sel resolver.Selector) bool { return sel.Strand.Equals(c.Strand.CID()) }},
		{s + ":3", resolver.SelectSingle, func(sel resolver.Selector) bool {
			return sel.Single.Kind == resolver.SingleIndex && sel.Single.Index == 3
		}},
		{s + ":latest", resolver.SelectSingle, func(sel resolver.Selector) bool { return sel.Single.Kind == resolver.SingleLatest }},
		{s + ":-1", resolver.SelectSingle, func(sel resolver.Selector) bool { return sel.Single.Kind == resolver.SingleLatest }},
		{s + ":" + tx, resolver.SelectSingle, func(sel resolver.Selector) bool {
			return sel.Single.Kind == resolver.SingleStitch && sel.Single.Tixel.Equals(c.Tixels[0].CID())
		}},
		{s + ":10:2", resolver.SelectRange, func(sel resolver.Selector) bool {
			return sel.Range.Start == 10 && sel.Range.End == 2
		}},
		{s + "::", resolver.SelectRange, func(sel resolver.Selector) bool {
			return sel.Range.Start == resolver.LatestBound && sel.Range.End == 0
		}},
		{s + ":-3:", resolver.SelectRange, func(sel resolver.Selector) bool {
			return sel.Range.Start == -3 && sel.Range.End == 0
		}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			sel, err := resolver.ParseSelector(tc.in)
			if err != nil {
				t.Fatalf("ParseSelector: %v", err)
			}
			if sel.Kind != tc.kind {
				t.Fatalf("kind = %d, want %d", sel.Kind, tc.kind)
			}
			if tc.chk != nil && !tc.chk(sel) {
				t.Fatalf("unexpected selector %+v", sel)
			}
		})
	}
}

func TestParseSelectorErrors(t *testing.T) {
	c := testkit.NewChain(t, 1, 4, 0)
	s := cidutil.Format(c.Strand.CID())
	for _, in := range []string{"", "nonsense", s + ":1:2:3", s + ":-2", s + ":x:1", s + ":notacid"} {
		t.Run(in, func(t *testing.T) {
			_, err := resolver.ParseSelector(in)
			if !twine.IsKind(err, twine.KindParse) {
				t.Fatalf("err = %v, want Parse", err)
			}
		})
	}
}

func TestSelectorString(t *testing.T) {
	c := testkit.NewChain(t, 1, 4, 0)
	s := cidutil.Format(c.Strand.CID())
	for _, in := range []string{"all", s, s + ":4", s + ":latest", s + ":9:2"} {
		sel, err := resolver.ParseSelector(in)
		if err != nil {
			t.Fatalf("ParseSelector(%q): %v", in, err)
		}
		if got := sel.String(); got != in {
			t.Fatalf("String() = %q, want %q", got, in)
		}
	}
}

func TestSelectorStream(t *testing.T) {
	ctx := context.Background()
	a := testkit.NewChain(t, 1, 4, 6)
	b := testkit.NewChain(t, 2, 4, 0)
	st := stored(t, a, b)
	s := cidutil.Format(a.Strand.CID())

	run := func(in string) []twine.Twine {
		t.Helper()
		sel, err := resolver.ParseSelector(in)
		if err != nil {
			t.Fatalf("ParseSelector: %v", err)
		}
		out, err := resolver.Collect(sel.Stream(ctx, st))
		if err != nil {
			t.Fatalf("Stream(%s): %v", in, err)
		}
		return out
	}

	if got := run("all"); len(got) != 2 {
		t.Fatalf("all yielded %d blocks", len(got))
	}
	got := run(s)
	if len(got) != 7 || !twine.IsStrand(got[0]) {
		t.Fatalf("strand selector yielded %d blocks", len(got))
	}
	if got := run(s + ":latest"); len(got) != 1 || !got[0].CID().Equals(a.Tixels[5].CID()) {
		t.Fatalf("latest selector wrong")
	}
	var idx []uint64
	for _, tw := range run(s + ":-2:1") {
		tx, err := twine.AsTixel(tw)
		if err != nil {
			t.Fatalf("AsTixel: %v", err)
		}
		idx = append(idx, tx.Index())
	}
	if !equal(idx, []uint64{4, 3, 2, 1}) {
		t.Fatalf("range selector = %v", idx)
	}
	if got := run(cidutil.Format(b.Strand.CID())); len(got) != 1 {
		t.Fatalf("empty strand yielded %d blocks", len(got))
	}
}

func TestRangeQueryAbsolute(t *testing.T) {
	var id cid.Cid
	tests := []struct {
		start, end resolver.Bound
		latest     uint64
		want       []uint64
		notFound   bool
	}{
		{resolver.LatestBound, 0, 5, []uint64{5, 4, 3, 2, 1, 0}, false},
		{-2, -4, 5, []uint64{4, 3, 2}, false},
		{-10, resolver.LatestBound, 3, []uint64{0, 1, 2, 3}, false},
		{1, 3, 5, []uint64{1, 2, 3}, false},
		{1, 9, 5, nil, true},
	}
	for _, tc := range tests {
		rng, err := resolver.RangeQuery{Strand: id, Start: tc.start, End: tc.end}.Absolute(tc.latest)
		if tc.notFound {
			if !twine.IsNotFound(err) {
				t.Fatalf("%d..%d: err = %v, want NotFound", tc.start, tc.end, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d..%d: %v", tc.start, tc.end, err)
		}
		var got []uint64
		for i := range rng.Indices() {
			got = append(got, i)
		}
		if !equal(got, tc.want) {
			t.Fatalf("%d..%d = %v, want %v", tc.start, tc.end, got, tc.want)
		}
	}
}

func TestAbsoluteRangeBatches(t *testing.T) {
	var id cid.Cid
	collect := func(r resolver.AbsoluteRange, size uint64) [][2]uint64 {
		var out [][2]uint64
		for b := range r.Batches(size) {
			out = append(out, [2]uint64{b.Start, b.End})
		}
		return out
	}
	up := collect(resolver.NewRange(id, 0, 10), 4)
	if len(up) != 3 || up[0] != [2]uint64{0, 3} || up[2] != [2]uint64{8, 10} {
		t.Fatalf("ascending batches = %v", up)
	}
	down := collect(resolver.NewRange(id, 10, 0), 4)
	if len(down) != 3 || down[0] != [2]uint64{10, 7} || down[2] != [2]uint64{2, 0} {
		t.Fatalf("descending batches = %v", down)
	}
	if whole := collect(resolver.NewRange(id, 3, 5), 0); len(whole) != 1 {
		t.Fatalf("size 0 batches = %v", whole)
	}
	r := resolver.NewRange(id, 7, 2)
	if r.Len() != 6 || !r.Contains(2) || r.Contains(8) || r.Ascending() {
		t.Fatalf("range helpers wrong for %s", r)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 1, 4, 17)
	st := stored(t, c)

	res, err := resolver.ResolveLatest(ctx, st, c.Strand.CID())
	if err != nil {
		t.Fatalf("ResolveLatest: %v", err)
	}
	if res.Tixel.Index() != 16 || !res.Strand.CID().Equals(c.Strand.CID()) {
		t.Fatalf("ResolveLatest returned index %d", res.Tixel.Index())
	}
	if _, err := resolver.ResolveIndex(ctx, st, c.Strand.CID(), 12); err != nil {
		t.Fatalf("ResolveIndex: %v", err)
	}
	if _, err := resolver.ResolveStitch(ctx, st, c.Tixels[5].Stitch()); err != nil {
		t.Fatalf("ResolveStitch: %v", err)
	}
	if _, err := resolver.ResolveIndex(ctx, st, c.Strand.CID(), 40); !twine.IsNotFound(err) {
		t.Fatalf("ResolveIndex past end: %v", err)
	}

	var got []uint64
	for r, err := range resolver.ResolveRange(ctx, st, resolver.NewRange(c.Strand.CID(), 16, 10)) {
		if err != nil {
			t.Fatalf("ResolveRange: %v", err)
		}
		got = append(got, r.Tixel.Index())
	}
	if !equal(got, []uint64{16, 15, 14, 13, 12, 11, 10}) {
		t.Fatalf("ResolveRange = %v", got)
	}
}

// wrongIndex answers every index lookup with index 0.
type wrongIndex struct {
	resolver.Resolver
}

func (w wrongIndex) FetchIndex(ctx context.Context, strand cid.Cid, _ uint64) (*twine.Tixel, error) {
	return w.Resolver.FetchIndex(ctx, strand, 0)
}

func TestResolveRejectsWrongAnswer(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 1, 4, 3)
	st := wrongIndex{stored(t, c)}
	_, err := resolver.ResolveIndex(ctx, st, c.Strand.CID(), 2)
	if !twine.IsKind(err, twine.KindMalformed) {
		t.Fatalf("err = %v, want Malformed", err)
	}
}

// truncating cuts every range stream after limit tixels.
type truncating struct {
	resolver.Resolver
	limit int
}

func (tr truncating) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return func(yield func(*twine.Tixel, error) bool) {
		n := 0
		for t, err := range tr.Resolver.RangeStream(ctx, rng) {
			if n == tr.limit || !yield(t, err) || err != nil {
				return
			}
			n++
		}
	}
}

func TestResolveRangeRejectsShortStream(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 1, 4, 6)
	st := truncating{Resolver: stored(t, c), limit: 2}
	var got int
	var gotErr error
	for _, err := range resolver.ResolveRange(ctx, st, resolver.NewRange(c.Strand.CID(), 0, 5)) {
		if err != nil {
			gotErr = err
			break
		}
		got++
	}
	if got != 2 {
		t.Fatalf("verified %d tixels before the error, want 2", got)
	}
	if !twine.IsKind(gotErr, twine.KindMalformed) {
		t.Fatalf("err = %v, want Malformed", gotErr)
	}
}

func TestResolveRejectsBadLinks(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 1, 2, 2)
	st := stored(t, c)
	// Index 2 at radix 2 must link to 1 then 0. Right count, wrong target.
	bad, err := twine.NewTixel(twine.TixelFields{
		Strand: c.Strand.CID(),
		Index:  2,
		Links:  []cid.Cid{c.Tixels[1].CID(), c.Tixels[1].CID()},
		Hash:   c.Strand.HashCode(),
		Spec:   c.Strand.Spec(),
	}, c.Signer)
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}
	if err := st.Save(ctx, bad); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := resolver.ResolveLatest(ctx, st, c.Strand.CID()); !twine.IsKind(err, twine.KindInvalidTwineFormat) {
		t.Fatalf("err = %v, want InvalidTwineFormat", err)
	}
}

func TestSeriesFallback(t *testing.T) {
	ctx := context.Background()
	a := testkit.NewChain(t, 1, 4, 4)
	b := testkit.NewChain(t, 2, 4, 2)
	first := stored(t, a)
	second := stored(t, a, b)
	series := resolver.Series{Resolvers: []resolver.Resolver{first, second}}

	if _, err := series.FetchLatest(ctx, b.Strand.CID()); err != nil {
		t.Fatalf("FetchLatest via fallback: %v", err)
	}
	if ok, err := series.HasStrand(ctx, b.Strand.CID()); err != nil || !ok {
		t.Fatalf("HasStrand = %v, %v", ok, err)
	}
	missing := testkit.NewChain(t, 3, 4, 0)
	if _, err := series.FetchStrand(ctx, missing.Strand.CID()); !twine.IsNotFound(err) {
		t.Fatalf("FetchStrand missing: %v", err)
	}

	strands, err := resolver.Collect(series.FetchStrands(ctx))
	if err != nil {
		t.Fatalf("FetchStrands: %v", err)
	}
	if len(strands) != 2 {
		t.Fatalf("FetchStrands = %d, want 2", len(strands))
	}

	got := indices(t, series.RangeStream(ctx, resolver.NewRange(b.Strand.CID(), 0, 1)))
	if !equal(got, []uint64{0, 1}) {
		t.Fatalf("RangeStream = %v", got)
	}
	var gotErr error
	for _, err := range series.RangeStream(ctx, resolver.NewRange(b.Strand.CID(), 0, 9)) {
		gotErr = err
	}
	if !twine.IsNotFound(gotErr) {
		t.Fatalf("RangeStream past end: %v", gotErr)
	}

	if _, err := resolver.ResolveLatest(ctx, series, b.Strand.CID()); err != nil {
		t.Fatalf("ResolveLatest via series: %v", err)
	}
}

func TestSeriesStopsOnHardError(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 1, 4, 1)
	series := resolver.Series{Resolvers: []resolver.Resolver{failing{}, stored(t, c)}}
	if _, err := series.FetchStrand(ctx, c.Strand.CID()); !twine.IsKind(err, twine.KindConnectionFailure) {
		t.Fatalf("err = %v, want ConnectionFailure", err)
	}
}

type failing struct{ resolver.Resolver }

func (failing) FetchStrand(context.Context, cid.Cid) (*twine.Strand, error) {
	return nil, twine.NewError(twine.KindConnectionFailure, "down")
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := resolver.ContextError(ctx); !twine.IsKind(err, twine.KindCancelled) {
		t.Fatalf("ContextError = %v", err)
	}
	if err := resolver.ContextError(context.Background()); err != nil {
		t.Fatalf("ContextError(live) = %v", err)
	}
}
