// Package testkit holds the conformance suite every Store backend runs and
// the chain fixtures it is built on.
package testkit

import (
	"context"
	"crypto/ed25519"
	"iter"
	"slices"
	"testing"
	"time"

	"xdao.co/twine/builder"
	"xdao.co/twine/keys"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/twine"
	"xdao.co/twine/value"
)

// Genesis is the fixed genesis time of fixture strands.
var Genesis = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Signer returns a deterministic ed25519 signer; seed selects the key.
func Signer(t testing.TB, seed byte) keys.Signer {
	t.Helper()
	raw := make([]byte, ed25519.SeedSize)
	for i := range raw {
		raw[i] = seed
	}
	s, err := keys.Ed25519FromSeed(raw)
	if err != nil {
		t.Fatalf("Ed25519FromSeed: %v", err)
	}
	return s
}

// Chain is a built strand and its tixels in index order.
type Chain struct {
	Signer keys.Signer
	Strand *twine.Strand
	Tixels []*twine.Tixel
}

// NewChain builds a strand of n tixels at radix, signed by Signer(t, seed).
// Building happens in a private memory store; nothing is saved elsewhere.
func NewChain(t testing.TB, seed byte, radix uint8, n int) Chain {
	t.Helper()
	ctx := context.Background()
	scratch := memory.New()
	signer := Signer(t, seed)
	b := builder.New(signer, scratch)
	s, err := b.CreateStrand(builder.StrandOptions{
		Radix:   radix,
		Details: value.MustFrom(map[string]any{"fixture": int(seed)}),
		Genesis: Genesis,
	})
	if err != nil {
		t.Fatalf("CreateStrand: %v", err)
	}
	if err := scratch.Save(ctx, s); err != nil {
		t.Fatalf("Save strand: %v", err)
	}
	c := Chain{Signer: signer, Strand: s}
	for i := 0; i < n; i++ {
		opts := builder.TixelOptions{Payload: value.MustFrom(map[string]any{"i": i})}
		var tx *twine.Tixel
		if i == 0 {
			tx, err = b.First(s, opts)
		} else {
			tx, err = b.Next(ctx, c.Tixels[i-1], opts)
		}
		if err != nil {
			t.Fatalf("build tixel %d: %v", i, err)
		}
		if err := scratch.Save(ctx, tx); err != nil {
			t.Fatalf("Save tixel %d: %v", i, err)
		}
		c.Tixels = append(c.Tixels, tx)
	}
	return c
}

// Twines returns the strand followed by every tixel.
func (c Chain) Twines() []twine.Twine {
	out := []twine.Twine{c.Strand}
	for _, tx := range c.Tixels {
		out = append(out, tx)
	}
	return out
}

// All is Twines as a sequence.
func (c Chain) All() iter.Seq[twine.Twine] { return slices.Values(c.Twines()) }

// Forged returns an index-0 tixel on c's strand signed by a different key.
// Stores must reject it with BadSignature.
func (c Chain) Forged(t testing.TB) *twine.Tixel {
	t.Helper()
	tx, err := twine.NewTixel(twine.TixelFields{
		Strand:  c.Strand.CID(),
		Index:   0,
		Payload: value.String("forged"),
		Hash:    c.Strand.HashCode(),
		Spec:    c.Strand.Spec(),
	}, Signer(t, 0xee))
	if err != nil {
		t.Fatalf("NewTixel: %v", err)
	}
	return tx
}
