package twine

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/codec"
	"xdao.co/twine/value"
)

func TestStrandRadix(t *testing.T) {
	signer := testSigner(t, 1)
	_, err := NewStrand(StrandFields{Key: signer.Public(), Radix: 1, Hash: multihash.SHA3_512}, signer)
	if !IsKind(err, KindInvalidTwineFormat) {
		t.Fatalf("radix 1: got %v want InvalidTwineFormat", err)
	}
	for _, r := range []uint8{0, 2, 3, 4, 32, 255} {
		s := testStrand(t, signer, r)
		if s.Radix() != r {
			t.Fatalf("radix: got %d want %d", s.Radix(), r)
		}
	}
}

func TestStrandRejectsForeignSigner(t *testing.T) {
	a, b := testSigner(t, 1), testSigner(t, 2)
	_, err := NewStrand(StrandFields{Key: a.Public(), Radix: 2, Hash: multihash.SHA3_512}, b)
	if !IsKind(err, KindBadSignature) {
		t.Fatalf("got %v want BadSignature", err)
	}
}

func TestStrandUnsupportedHash(t *testing.T) {
	signer := testSigner(t, 1)
	_, err := NewStrand(StrandFields{Key: signer.Public(), Radix: 2, Hash: multihash.MD5}, signer)
	if !errors.Is(err, ErrUnsupportedHashAlgorithm) {
		t.Fatalf("got %v want UnsupportedHashAlgorithm", err)
	}
}

func TestCIDRoundTrip(t *testing.T) {
	signer := testSigner(t, 1)
	s := testStrand(t, signer, 4)
	tx := testTixel(t, signer, s)

	for _, tw := range []Twine{s, tx} {
		back, err := DecodeTwine(tw.Bytes())
		if err != nil {
			t.Fatalf("DecodeTwine(%s): %v", tw.CID(), err)
		}
		if !back.CID().Equals(tw.CID()) {
			t.Fatalf("cid changed: %s -> %s", tw.CID(), back.CID())
		}
		if IsStrand(back) != IsStrand(tw) {
			t.Fatalf("decoded into the wrong block type")
		}
		if err := CheckCID(back); err != nil {
			t.Fatalf("CheckCID: %v", err)
		}
		again, err := RecomputeCID(back)
		if err != nil {
			t.Fatalf("RecomputeCID: %v", err)
		}
		if !again.Equals(tw.CID()) {
			t.Fatalf("recomputed cid differs")
		}
		if !SameBytes(back, tw) {
			t.Fatalf("bytes differ after round trip")
		}
	}

	back, err := DecodeStrand(s.Bytes())
	if err != nil {
		t.Fatalf("DecodeStrand: %v", err)
	}
	if !back.Key().Equal(signer.Public()) {
		t.Fatalf("key changed")
	}
	if !back.Genesis().Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("genesis changed: %s", back.Genesis())
	}
	if _, ok := back.Expiry(); ok {
		t.Fatalf("unexpected expiry")
	}
	name, _ := back.Details().Get("name")
	if got, _ := name.AsString(); got != "test" {
		t.Fatalf("details changed: %q", got)
	}
}

func TestFromBlockKeepsDeclaredCID(t *testing.T) {
	signer := testSigner(t, 1)
	s := testStrand(t, signer, 4)
	tx := testTixel(t, signer, s)

	wrong, err := cidutil.Sum(multihash.SHA3_512, []byte("other"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	tw, err := FromBlock(wrong, tx.Bytes())
	if err != nil {
		t.Fatalf("FromBlock: %v", err)
	}
	if !tw.CID().Equals(wrong) {
		t.Fatalf("declared cid not kept")
	}
	err = CheckCID(tw)
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindCidMismatch {
		t.Fatalf("got %v want CidMismatch", err)
	}
	if !e.Expected.Equals(wrong) || !e.Actual.Equals(tx.CID()) {
		t.Fatalf("mismatch carries wrong cids: %s %s", e.Expected, e.Actual)
	}
	if _, err := StrandFromBlock(tx.CID(), tx.Bytes()); !IsKind(err, KindParse) {
		t.Fatalf("StrandFromBlock on a tixel: got %v", err)
	}
}

func TestMixins(t *testing.T) {
	signer := testSigner(t, 1)
	own := testStrand(t, signer, 4)

	var foreign []*Tixel
	for i := byte(2); i < 5; i++ {
		other := testSigner(t, i)
		st := testStrand(t, other, 2)
		foreign = append(foreign, testTixel(t, other, st))
	}

	tx := testTixel(t, signer, own, foreign[2].Stitch(), foreign[0].Stitch(), foreign[1].Stitch())
	got := tx.Mixins()
	if len(got) != 3 {
		t.Fatalf("mixins: got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !cidutil.Less(got[i-1].Strand, got[i].Strand) {
			t.Fatalf("mixins not sorted by strand cid")
		}
	}

	self := testTixel(t, signer, own)
	_, err := NewTixel(TixelFields{
		Strand: own.CID(),
		Index:  1,
		Links:  []cid.Cid{self.CID()},
		Mixins: []Stitch{self.Stitch()},
		Hash:   multihash.SHA3_512,
	}, signer)
	if !IsKind(err, KindInvalidTwineFormat) {
		t.Fatalf("same-chain mixin: got %v want InvalidTwineFormat", err)
	}

	_, err = SortMixins(own.CID(), []Stitch{foreign[0].Stitch(), foreign[0].Stitch()})
	if !IsKind(err, KindInvalidTwineFormat) {
		t.Fatalf("duplicate strand: got %v want InvalidTwineFormat", err)
	}
}

func TestTaggedJSON(t *testing.T) {
	signer := testSigner(t, 1)
	s := testStrand(t, signer, 4)
	tx, err := NewTixel(TixelFields{
		Strand:  s.CID(),
		Index:   0,
		Payload: value.MustFrom(map[string]any{"f": 2.5, "b": []byte{1, 2}, "l": s.CID(), "one": 1.0}),
		Hash:    multihash.SHA2_256,
	}, signer)
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}

	data, err := MarshalTaggedJSONArray([]Twine{s, tx})
	if err != nil {
		t.Fatalf("MarshalTaggedJSONArray: %v", err)
	}
	back, err := ParseTaggedJSONArray(data)
	if err != nil {
		t.Fatalf("ParseTaggedJSONArray: %v\n%s", err, data)
	}
	if len(back) != 2 || !back[0].CID().Equals(s.CID()) || !back[1].CID().Equals(tx.CID()) {
		t.Fatalf("tagged json round trip changed cids")
	}
	if !bytes.Equal(back[1].Bytes(), tx.Bytes()) {
		t.Fatalf("tagged json round trip changed canonical bytes")
	}

	single, err := MarshalTaggedJSON(tx)
	if err != nil {
		t.Fatalf("MarshalTaggedJSON: %v", err)
	}
	tampered := bytes.Replace(single, []byte(`2.5`), []byte(`3.5`), 1)
	if bytes.Equal(tampered, single) {
		t.Fatalf("payload float not found in %s", single)
	}
	if _, err := ParseTaggedJSON(tampered); !IsKind(err, KindCidMismatch) {
		t.Fatalf("tampered json: got %v", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := DecodeTwine([]byte{0xff, 0x00}); !IsKind(err, KindParse) {
		t.Fatalf("garbage: got %v want Parse", err)
	}
	data, err := codec.Marshal(map[string]any{"c": map[string]any{"zz": 1}, "s": []byte{1}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := DecodeTwine(data); !IsKind(err, KindParse) {
		t.Fatalf("unknown content: got %v want Parse", err)
	}
}

func TestIsNil(t *testing.T) {
	var s *Strand
	var x *Tixel
	cases := []struct {
		name string
		tw   Twine
		want bool
	}{
		{"untyped", nil, true},
		{"strand", s, true},
		{"tixel", x, true},
		{"value", &Strand{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNil(tc.tw); got != tc.want {
				t.Fatalf("IsNil = %v, want %v", got, tc.want)
			}
		})
	}
}
