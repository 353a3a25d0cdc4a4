package twine

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/multiformats/go-multihash"

	"xdao.co/twine/keys"
	"xdao.co/twine/value"
)

func testSigner(t *testing.T, b byte) keys.Signer {
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

func testStrand(t *testing.T, signer keys.Signer, radix uint8) *Strand {
	t.Helper()
	s, err := NewStrand(StrandFields{
		Key:     signer.Public(),
		Radix:   radix,
		Details: value.MustFrom(map[string]any{"name": "test"}),
		Genesis: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Hash:    multihash.SHA3_512,
	}, signer)
	if err != nil {
		t.Fatalf("NewStrand: %v", err)
	}
	return s
}

func testTixel(t *testing.T, signer keys.Signer, s *Strand, mixins ...Stitch) *Tixel {
	t.Helper()
	tx, err := NewTixel(TixelFields{
		Strand:  s.CID(),
		Index:   0,
		Source:  "unit",
		Mixins:  mixins,
		Payload: value.MustFrom(map[string]any{"n": 1}),
		Hash:    multihash.SHA3_512,
	}, signer)
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}
	return tx
}
