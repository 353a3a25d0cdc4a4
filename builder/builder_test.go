package builder_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/builder"
	"xdao.co/twine/codec"
	"xdao.co/twine/keys"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/twine"
	"xdao.co/twine/value"
)

func signer(t *testing.T, b byte) keys.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	s, err := keys.Ed25519FromSeed(seed)
	if err != nil {
		t.Fatalf("Ed25519FromSeed: %v", err)
	}
	return s
}

var genesis = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

// chain builds and stores a strand with n tixels.
func chain(t *testing.T, b *builder.Builder, st *memory.Store, radix uint8, n int) (*twine.Strand, []*twine.Tixel) {
	t.Helper()
	ctx := context.Background()
	s, err := b.CreateStrand(builder.StrandOptions{Radix: radix, Genesis: genesis})
	if err != nil {
		t.Fatalf("CreateStrand: %v", err)
	}
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save strand: %v", err)
	}
	var out []*twine.Tixel
	for i := 0; i < n; i++ {
		opts := builder.TixelOptions{Payload: value.MustFrom(map[string]any{"n": i})}
		var tx *twine.Tixel
		if i == 0 {
			tx, err = b.First(s, opts)
		} else {
			tx, err = b.Next(ctx, out[i-1], opts)
		}
		if err != nil {
			t.Fatalf("build %d: %v", i, err)
		}
		if err := st.Save(ctx, tx); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		out = append(out, tx)
	}
	return s, out
}

func TestBuildChainRadix4(t *testing.T) {
	st := memory.New()
	b := builder.New(signer(t, 1), st)
	s, tixels := chain(t, b, st, 4, 17)

	if s.Radix() != 4 {
		t.Fatalf("radix = %d", s.Radix())
	}
	for i, tx := range tixels {
		if tx.Index() != uint64(i) {
			t.Fatalf("tixel %d has index %d", i, tx.Index())
		}
		if !tx.StrandCID().Equals(s.CID()) {
			t.Fatalf("tixel %d on wrong strand", i)
		}
	}
	if len(tixels[0].Links()) != 0 {
		t.Fatalf("first tixel has links")
	}

	want := []uint64{15, 12, 0}
	links := tixels[16].Links()
	if len(links) != len(want) {
		t.Fatalf("links = %d, want %d", len(links), len(want))
	}
	for k, l := range links {
		if !l.Equals(tixels[want[k]].CID()) {
			t.Fatalf("link %d does not point at index %d", k, want[k])
		}
	}
	if prev, ok := tixels[16].Previous(); !ok || !prev.Equals(tixels[15].CID()) {
		t.Fatalf("Previous() wrong")
	}

	latest, err := st.FetchLatest(context.Background(), s.CID())
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if latest.Index() != 16 {
		t.Fatalf("latest = %d", latest.Index())
	}
}

func TestCreateStrandDefaults(t *testing.T) {
	b := builder.New(signer(t, 1), memory.New(), builder.WithClock(func() time.Time { return genesis }))
	s, err := b.CreateStrand(builder.StrandOptions{})
	if err != nil {
		t.Fatalf("CreateStrand: %v", err)
	}
	if s.Radix() != twine.DefaultRadix {
		t.Fatalf("radix = %d", s.Radix())
	}
	if !s.Genesis().Equal(genesis) {
		t.Fatalf("genesis = %v", s.Genesis())
	}
	if s.Spec() != twine.DefaultSpec {
		t.Fatalf("spec = %q", s.Spec())
	}

	p, err := b.CreateStrand(builder.StrandOptions{PredecessorOnly: true})
	if err != nil {
		t.Fatalf("CreateStrand predecessor-only: %v", err)
	}
	if p.Radix() != 0 {
		t.Fatalf("radix = %d", p.Radix())
	}
}

func TestPredecessorOnlyChain(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	b := builder.New(signer(t, 1), st)
	s, err := b.CreateStrand(builder.StrandOptions{PredecessorOnly: true, Genesis: genesis})
	if err != nil {
		t.Fatalf("CreateStrand: %v", err)
	}
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	prev, err := b.First(s, builder.TixelOptions{})
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if err := st.Save(ctx, prev); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for i := 1; i < 6; i++ {
		next, err := b.Next(ctx, prev, builder.TixelOptions{})
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got := next.Links(); len(got) != 1 || !got[0].Equals(prev.CID()) {
			t.Fatalf("index %d links = %v", i, got)
		}
		if err := st.Save(ctx, next); err != nil {
			t.Fatalf("Save: %v", err)
		}
		prev = next
	}
}

func TestCreateStrandRadixOne(t *testing.T) {
	b := builder.New(signer(t, 1), memory.New())
	_, err := b.CreateStrand(builder.StrandOptions{Radix: 1})
	if !twine.IsKind(err, twine.KindInvalidTwineFormat) {
		t.Fatalf("err = %v, want InvalidTwineFormat", err)
	}
}

func TestNextWithForeignSigner(t *testing.T) {
	st := memory.New()
	_, tixels := chain(t, builder.New(signer(t, 1), st), st, 4, 2)

	other := builder.New(signer(t, 2), st)
	_, err := other.Next(context.Background(), tixels[1], builder.TixelOptions{})
	if !twine.IsKind(err, twine.KindBadSignature) {
		t.Fatalf("err = %v, want BadSignature", err)
	}
}

func TestNextPropagatesNotFound(t *testing.T) {
	st := memory.New()
	b := builder.New(signer(t, 1), st)
	s, tixels := chain(t, b, st, 2, 2)

	// Index 2 at radix 2 links back to 0; remove it.
	if err := st.Delete(context.Background(), tixels[0].CID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := b.Next(context.Background(), tixels[1], builder.TixelOptions{})
	if !twine.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFound", err)
	}

	empty := builder.New(signer(t, 1), memory.New())
	if _, err := empty.Next(context.Background(), tixels[1], builder.TixelOptions{}); !twine.IsNotFound(err) {
		t.Fatalf("missing strand %s: err = %v", s.CID(), err)
	}
}

// forgedStrand answers strand lookups with a copy whose radix was edited
// to 1 after signing.
type forgedStrand struct {
	resolver.Resolver
	strand *twine.Strand
}

func (f forgedStrand) FetchStrand(_ context.Context, id cid.Cid) (*twine.Strand, error) {
	var block map[string]any
	if err := codec.Unmarshal(f.strand.Bytes(), &block); err != nil {
		return nil, err
	}
	block["c"].(map[string]any)["r"] = 1
	data, err := codec.Marshal(block)
	if err != nil {
		return nil, err
	}
	tw, err := twine.FromBlock(id, data)
	if err != nil {
		return nil, err
	}
	return tw.(*twine.Strand), nil
}

func TestNextRejectsTamperedStrand(t *testing.T) {
	st := memory.New()
	s, tixels := chain(t, builder.New(signer(t, 1), st), st, 4, 2)

	b := builder.New(signer(t, 1), forgedStrand{Resolver: st, strand: s})
	_, err := b.Next(context.Background(), tixels[1], builder.TixelOptions{})
	if !twine.IsKind(err, twine.KindCidMismatch) {
		t.Fatalf("err = %v, want CidMismatch", err)
	}
}

func TestMixinsAndDrop(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, others := chain(t, builder.New(signer(t, 2), st), st, 4, 2)
	_, thirds := chain(t, builder.New(signer(t, 3), st), st, 4, 1)

	b := builder.New(signer(t, 1), st)
	s, err := b.CreateStrand(builder.StrandOptions{Radix: 4, Genesis: genesis})
	if err != nil {
		t.Fatalf("CreateStrand: %v", err)
	}
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	save := func(tx *twine.Tixel, err error) *twine.Tixel {
		t.Helper()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if err := st.Save(ctx, tx); err != nil {
			t.Fatalf("Save: %v", err)
		}
		return tx
	}

	t0 := save(b.First(s, builder.TixelOptions{Mixins: []twine.Stitch{others[0].Stitch()}}))
	if t0.Drop() != 0 {
		t.Fatalf("t0 drop = %d", t0.Drop())
	}

	t1 := save(b.Next(ctx, t0, builder.TixelOptions{}))
	if len(t1.Mixins()) != 1 || !t1.Mixins()[0].Tixel.Equals(others[0].CID()) {
		t.Fatalf("mixins not carried over: %v", t1.Mixins())
	}
	if t1.Drop() != 0 {
		t.Fatalf("t1 drop = %d", t1.Drop())
	}

	// Superset: drop unchanged.
	t2 := save(b.Next(ctx, t1, builder.TixelOptions{Mixins: []twine.Stitch{others[1].Stitch(), thirds[0].Stitch()}}))
	if len(t2.Mixins()) != 2 || t2.Drop() != 0 {
		t.Fatalf("t2 mixins = %d drop = %d", len(t2.Mixins()), t2.Drop())
	}

	// A strand removed: drop moves to this index.
	t3 := save(b.Next(ctx, t2, builder.TixelOptions{Mixins: []twine.Stitch{thirds[0].Stitch()}}))
	if t3.Drop() != 3 {
		t.Fatalf("t3 drop = %d, want 3", t3.Drop())
	}

	t4 := save(b.Next(ctx, t3, builder.TixelOptions{Mixins: []twine.Stitch{}}))
	if len(t4.Mixins()) != 0 || t4.Drop() != 4 {
		t.Fatalf("t4 mixins = %d drop = %d", len(t4.Mixins()), t4.Drop())
	}
}

func TestSameChainMixinRejected(t *testing.T) {
	st := memory.New()
	b := builder.New(signer(t, 1), st)
	_, tixels := chain(t, b, st, 4, 1)
	_, err := b.Next(context.Background(), tixels[0], builder.TixelOptions{Mixins: []twine.Stitch{tixels[0].Stitch()}})
	if !twine.IsKind(err, twine.KindInvalidTwineFormat) {
		t.Fatalf("err = %v, want InvalidTwineFormat", err)
	}
}

func TestTixelHasherOverride(t *testing.T) {
	st := memory.New()
	b := builder.New(signer(t, 1), st)
	s, err := b.CreateStrand(builder.StrandOptions{Genesis: genesis})
	if err != nil {
		t.Fatalf("CreateStrand: %v", err)
	}
	tx, err := b.First(s, builder.TixelOptions{Hasher: 0x12})
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if tx.HashCode() != 0x12 {
		t.Fatalf("hash = %#x", tx.HashCode())
	}
	if got := tx.CID().Prefix().MhType; got != 0x12 {
		t.Fatalf("cid hash = %#x", got)
	}
	if tx.CID().Prefix().Codec != cid.DagCBOR {
		t.Fatalf("codec = %#x", tx.CID().Prefix().Codec)
	}
}
