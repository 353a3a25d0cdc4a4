package verify

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/twine/codec"
	"xdao.co/twine/keys"
	"xdao.co/twine/skiplist"
	"xdao.co/twine/twine"
	"xdao.co/twine/value"
)

type mapFetcher struct {
	strands map[cid.Cid]*twine.Strand
	tixels  map[cid.Cid]*twine.Tixel
}

func newMapFetcher() *mapFetcher {
	return &mapFetcher{strands: map[cid.Cid]*twine.Strand{}, tixels: map[cid.Cid]*twine.Tixel{}}
}

func (m *mapFetcher) FetchStrand(_ context.Context, strand cid.Cid) (*twine.Strand, error) {
	s, ok := m.strands[strand]
	if !ok {
		return nil, twine.NewError(twine.KindNotFound, "strand")
	}
	return s, nil
}

func (m *mapFetcher) FetchTixel(_ context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	t, ok := m.tixels[tixel]
	if !ok || !t.StrandCID().Equals(strand) {
		return nil, twine.NewError(twine.KindNotFound, "tixel")
	}
	return t, nil
}

func signer(t *testing.T, b byte) keys.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	s, err := keys.Ed25519FromSeed(seed)
	if err != nil {
		t.Fatalf("Ed25519FromSeed: %v", err)
	}
	return s
}

func strand(t *testing.T, sg keys.Signer, radix uint8) *twine.Strand {
	t.Helper()
	s, err := twine.NewStrand(twine.StrandFields{
		Key:     sg.Public(),
		Radix:   radix,
		Genesis: time.Unix(1700000000, 0),
		Hash:    multihash.SHA3_512,
	}, sg)
	if err != nil {
		t.Fatalf("NewStrand: %v", err)
	}
	return s
}

// chain builds n tixels with correct back links directly on twine.NewTixel.
func chain(t *testing.T, f *mapFetcher, sg keys.Signer, s *twine.Strand, n int) []*twine.Tixel {
	t.Helper()
	f.strands[s.CID()] = s
	var out []*twine.Tixel
	for i := 0; i < n; i++ {
		var links []cid.Cid
		for _, idx := range skiplist.Backlinks(uint64(i), uint32(s.Radix())) {
			links = append(links, out[idx].CID())
		}
		tx, err := twine.NewTixel(twine.TixelFields{
			Strand:  s.CID(),
			Index:   uint64(i),
			Links:   links,
			Payload: value.Int(int64(i)),
			Hash:    multihash.SHA3_512,
		}, sg)
		if err != nil {
			t.Fatalf("NewTixel %d: %v", i, err)
		}
		f.tixels[tx.CID()] = tx
		out = append(out, tx)
	}
	return out
}

// reencode decodes tw into a generic tree, lets edit modify it and re-encodes.
func reencode(t *testing.T, tw twine.Twine, edit func(block map[string]any)) []byte {
	t.Helper()
	var block map[string]any
	if err := codec.Unmarshal(tw.Bytes(), &block); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	edit(block)
	out, err := codec.Marshal(block)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return out
}

func TestValidChain(t *testing.T) {
	ctx := context.Background()
	f := newMapFetcher()
	sg := signer(t, 1)
	s := strand(t, sg, 4)
	txs := chain(t, f, sg, s, 20)
	if err := Twine(ctx, f, s); err != nil {
		t.Fatalf("strand: %v", err)
	}
	for _, tx := range txs {
		if err := Twine(ctx, f, tx); err != nil {
			t.Fatalf("tixel %d: %v", tx.Index(), err)
		}
	}
}

func TestBadSignature(t *testing.T) {
	ctx := context.Background()
	f := newMapFetcher()
	sg := signer(t, 1)
	s := strand(t, sg, 4)
	txs := chain(t, f, sg, s, 3)

	data := reencode(t, txs[2], func(block map[string]any) {
		sig := block["s"].([]byte)
		sig[0] ^= 0xff
	})
	bad, err := twine.DecodeTixel(data)
	if err != nil {
		t.Fatalf("DecodeTixel: %v", err)
	}
	if err := Tixel(ctx, f, bad); !twine.IsKind(err, twine.KindBadSignature) {
		t.Fatalf("flipped signature: got %v want BadSignature", err)
	}

	data = reencode(t, txs[2], func(block map[string]any) {
		block["c"].(map[string]any)["src"] = "forged"
	})
	bad, err = twine.DecodeTixel(data)
	if err != nil {
		t.Fatalf("DecodeTixel: %v", err)
	}
	if err := Tixel(ctx, f, bad); !twine.IsKind(err, twine.KindBadSignature) {
		t.Fatalf("altered payload: got %v want BadSignature", err)
	}

	data = reencode(t, s, func(block map[string]any) {
		block["c"].(map[string]any)["r"] = uint64(8)
	})
	forged, err := twine.DecodeStrand(data)
	if err != nil {
		t.Fatalf("DecodeStrand: %v", err)
	}
	if err := Strand(forged); !twine.IsKind(err, twine.KindBadSignature) {
		t.Fatalf("altered strand: got %v want BadSignature", err)
	}
}

func TestSignature(t *testing.T) {
	sg := signer(t, 1)
	msg := []byte("detached message")
	sig, err := sg.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Signature(sg.Public(), msg, sig); err != nil {
		t.Fatalf("Signature: %v", err)
	}
	if err := Signature(signer(t, 2).Public(), msg, sig); !twine.IsKind(err, twine.KindBadSignature) {
		t.Fatalf("foreign key: got %v want BadSignature", err)
	}
	if err := Signature(sg.Public(), []byte("other message"), sig); !twine.IsKind(err, twine.KindBadSignature) {
		t.Fatalf("other message: got %v want BadSignature", err)
	}
}

func TestCidMismatch(t *testing.T) {
	ctx := context.Background()
	f := newMapFetcher()
	sg := signer(t, 1)
	s := strand(t, sg, 4)
	txs := chain(t, f, sg, s, 3)

	tw, err := twine.FromBlock(txs[1].CID(), txs[2].Bytes())
	if err != nil {
		t.Fatalf("FromBlock: %v", err)
	}
	if err := Twine(ctx, f, tw); !twine.IsKind(err, twine.KindCidMismatch) {
		t.Fatalf("got %v want CidMismatch", err)
	}
}

func TestSameChainMixin(t *testing.T) {
	ctx := context.Background()
	f := newMapFetcher()
	sg := signer(t, 1)
	s := strand(t, sg, 4)
	txs := chain(t, f, sg, s, 2)

	// A block carrying a same-chain mixin can only come from outside the
	// constructor, so splice one into an encoded tixel and re-sign it.
	data := reencode(t, txs[1], func(block map[string]any) {
		content := block["c"].(map[string]any)
		content["x"] = []any{map[string]any{"s": codec.NewLink(s.CID()), "t": codec.NewLink(txs[0].CID())}}
		msg, err := codec.Marshal(content)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		sig, err := sg.Sign(msg)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		block["s"] = sig
	})
	bad, err := twine.DecodeTixel(data)
	if err != nil {
		t.Fatalf("DecodeTixel: %v", err)
	}
	if got := bad.Mixins(); len(got) != 1 || !got[0].Strand.Equals(s.CID()) {
		t.Fatalf("spliced mixin missing: %v", got)
	}
	if err := Tixel(ctx, f, bad); !twine.IsKind(err, twine.KindInvalidTwineFormat) {
		t.Fatalf("got %v want InvalidTwineFormat", err)
	}
}

func TestWrongLinks(t *testing.T) {
	ctx := context.Background()
	f := newMapFetcher()
	sg := signer(t, 1)
	s := strand(t, sg, 2)
	txs := chain(t, f, sg, s, 5)

	// Index 4 at radix 2 must link to [3, 2, 0]; point the second link at 1.
	tx, err := twine.NewTixel(twine.TixelFields{
		Strand: s.CID(),
		Index:  4,
		Links:  []cid.Cid{txs[3].CID(), txs[1].CID(), txs[0].CID()},
		Hash:   multihash.SHA3_512,
	}, sg)
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}
	if err := TixelWithStrand(tx, s); err != nil {
		t.Fatalf("link count is right, TixelWithStrand should pass: %v", err)
	}
	if err := Tixel(ctx, f, tx); !twine.IsKind(err, twine.KindInvalidTwineFormat) {
		t.Fatalf("wrong target: got %v want InvalidTwineFormat", err)
	}

	short, err := twine.NewTixel(twine.TixelFields{
		Strand: s.CID(),
		Index:  4,
		Links:  []cid.Cid{txs[3].CID()},
		Hash:   multihash.SHA3_512,
	}, sg)
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}
	if err := TixelWithStrand(short, s); !twine.IsKind(err, twine.KindInvalidTwineFormat) {
		t.Fatalf("wrong count: got %v want InvalidTwineFormat", err)
	}
}

func TestForeignSigner(t *testing.T) {
	f := newMapFetcher()
	owner, intruder := signer(t, 1), signer(t, 2)
	s := strand(t, owner, 4)
	f.strands[s.CID()] = s
	tx, err := twine.NewTixel(twine.TixelFields{Strand: s.CID(), Hash: multihash.SHA3_512}, intruder)
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}
	if err := Tixel(context.Background(), f, tx); !twine.IsKind(err, twine.KindBadSignature) {
		t.Fatalf("got %v want BadSignature", err)
	}
}

func TestResolutionErrorsPropagate(t *testing.T) {
	f := newMapFetcher()
	sg := signer(t, 1)
	s := strand(t, sg, 4)
	tx, err := twine.NewTixel(twine.TixelFields{Strand: s.CID(), Hash: multihash.SHA3_512}, sg)
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}
	if err := Tixel(context.Background(), f, tx); !twine.IsNotFound(err) {
		t.Fatalf("missing strand: got %v want NotFound", err)
	}
}
