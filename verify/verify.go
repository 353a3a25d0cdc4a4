// Package verify checks strands and tixels.
//
// Every function is stateless: it reads through the Fetcher it is given and
// never writes anywhere, so it is safe to run concurrently and repeatedly.
// Failures are *twine.Error values of the verification family; errors from
// the Fetcher are returned unchanged.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/keys"
	"xdao.co/twine/skiplist"
	"xdao.co/twine/twine"
)

// Fetcher is the subset of a resolver that verification reads through.
type Fetcher interface {
	FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error)
	FetchTixel(ctx context.Context, strand, tixel cid.Cid) (*twine.Tixel, error)
}

// Strand checks the CID, radix, specification and self-signature of s.
func Strand(s *twine.Strand) error {
	if s == nil {
		return twine.NewError(twine.KindInvalidTwineFormat, "nil strand")
	}
	if err := twine.CheckCID(s); err != nil {
		return err
	}
	if s.Radix() == 1 {
		return twine.NewError(twine.KindInvalidTwineFormat, "strand %s: radix must not be 1", cidutil.Format(s.CID()))
	}
	if _, err := twine.ParseSpecification(s.Spec()); err != nil {
		return asFormat(err)
	}
	return signature(s.Key(), s)
}

// TixelWithStrand checks t against a strand the caller already holds: CID,
// owning strand, back-link count, mixins and signature. It does not resolve
// link targets; Tixel does.
func TixelWithStrand(t *twine.Tixel, s *twine.Strand) error {
	if t == nil || s == nil {
		return twine.NewError(twine.KindInvalidTwineFormat, "nil tixel or strand")
	}
	if err := twine.CheckCID(t); err != nil {
		return err
	}
	if !t.StrandCID().Equals(s.CID()) {
		return twine.NewError(twine.KindInvalidTwineFormat, "tixel %s belongs to strand %s, not %s",
			cidutil.Format(t.CID()), cidutil.Format(t.StrandCID()), cidutil.Format(s.CID()))
	}
	if s.Radix() == 1 {
		return twine.NewError(twine.KindInvalidTwineFormat, "strand %s: radix must not be 1", cidutil.Format(s.CID()))
	}
	if _, err := twine.ParseSpecification(t.Spec()); err != nil {
		return asFormat(err)
	}
	want := skiplist.Backlinks(t.Index(), uint32(s.Radix()))
	if got := len(t.Links()); got != len(want) {
		return twine.NewError(twine.KindInvalidTwineFormat, "tixel %d: expected %d back links, found %d", t.Index(), len(want), got)
	}
	if err := Mixins(t); err != nil {
		return err
	}
	return signature(s.Key(), t)
}

// Mixins checks that every mixin of t points at another chain, once per
// chain, in strand order.
func Mixins(t *twine.Tixel) error {
	mixins := t.Mixins()
	sorted, err := twine.SortMixins(t.StrandCID(), mixins)
	if err != nil {
		return err
	}
	for i := range mixins {
		if !mixins[i].Strand.Equals(sorted[i].Strand) {
			return twine.NewError(twine.KindInvalidTwineFormat, "tixel %d: mixins are not sorted by strand", t.Index())
		}
	}
	return nil
}

// Tixel fetches the owning strand of t, verifies both, then resolves every
// back link and checks it lands on the index the skip-list rule demands.
func Tixel(ctx context.Context, f Fetcher, t *twine.Tixel) error {
	if t == nil {
		return twine.NewError(twine.KindInvalidTwineFormat, "nil tixel")
	}
	s, err := f.FetchStrand(ctx, t.StrandCID())
	if err != nil {
		return err
	}
	if err := Strand(s); err != nil {
		return err
	}
	if err := TixelWithStrand(t, s); err != nil {
		return err
	}
	return Links(ctx, f, t, s)
}

// Links resolves the back links of t and compares their indices with the
// skip-list targets, element by element.
func Links(ctx context.Context, f Fetcher, t *twine.Tixel, s *twine.Strand) error {
	want := skiplist.Backlinks(t.Index(), uint32(s.Radix()))
	links := t.Links()
	if len(links) != len(want) {
		return twine.NewError(twine.KindInvalidTwineFormat, "tixel %d: expected %d back links, found %d", t.Index(), len(want), len(links))
	}
	for k, link := range links {
		target, err := f.FetchTixel(ctx, s.CID(), link)
		if err != nil {
			return err
		}
		if !target.StrandCID().Equals(s.CID()) {
			return twine.NewError(twine.KindInvalidTwineFormat, "tixel %d: back link %d leaves the chain", t.Index(), k)
		}
		if target.Index() != want[k] {
			return twine.NewError(twine.KindInvalidTwineFormat, "tixel %d: back link %d points at index %d, expected %d",
				t.Index(), k, target.Index(), want[k])
		}
	}
	return nil
}

// Twine dispatches on the block type.
func Twine(ctx context.Context, f Fetcher, tw twine.Twine) error {
	switch v := tw.(type) {
	case *twine.Strand:
		return Strand(v)
	case *twine.Tixel:
		return Tixel(ctx, f, v)
	}
	return twine.NewError(twine.KindInvalidTwineFormat, "unknown twine %T", tw)
}

// Signature checks sig over msg with the declared key. It is the primitive
// the block checks use, exposed for callers holding raw bytes.
func Signature(pub keys.PublicKey, msg, sig []byte) error {
	if err := keys.Verify(pub, msg, sig); err != nil {
		return twine.WrapError(twine.KindBadSignature, "signature", err)
	}
	return nil
}

func signature(pub keys.PublicKey, tw twine.Twine) error {
	msg, err := tw.SigningBytes()
	if err != nil {
		return err
	}
	if err := Signature(pub, msg, tw.Signature()); err != nil {
		return fmt.Errorf("%s: %w", cidutil.Format(tw.CID()), err)
	}
	return nil
}

// asFormat reports an unusable specification as a format problem.
func asFormat(err error) error {
	var e *twine.Error
	if errors.As(err, &e) && e.Kind == twine.KindInvalidTwineFormat {
		return err
	}
	return twine.WrapError(twine.KindInvalidTwineFormat, "specification", err)
}
