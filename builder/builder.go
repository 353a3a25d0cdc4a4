// Package builder creates strands and appends tixels to them.
//
// A Builder signs with one key and reads earlier entries through a
// resolver to find back-link targets. It holds no per-chain state: every
// Next call takes the previous tixel explicitly, so a stale builder cannot
// fork a chain by accident. Concurrent Next calls on the same chain are not
// safe and must be serialised by the caller.
package builder

import (
	"context"
	"math"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/keys"
	"xdao.co/twine/resolver"
	"xdao.co/twine/skiplist"
	"xdao.co/twine/twine"
	"xdao.co/twine/value"
)

// Builder produces signed blocks for chains owned by its signer.
type Builder struct {
	signer keys.Signer
	r      resolver.Resolver
	log    *zap.Logger
	now    func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithClock replaces time.Now for genesis timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns a builder signing with signer and resolving link targets
// through r.
func New(signer keys.Signer, r resolver.Resolver, opts ...Option) *Builder {
	b := &Builder{signer: signer, r: r, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// StrandOptions describe a new chain. Zero values pick the defaults: radix
// twine.DefaultRadix, hash sha3-512, genesis now.
type StrandOptions struct {
	Radix uint8
	// PredecessorOnly builds a radix-0 chain whose entries link only to
	// their predecessor.
	PredecessorOnly bool
	Details         value.Value
	Meta            value.Value
	Hasher          uint64
	Subspec         string
	SubspecVersion  string
	Genesis         time.Time
	Expiry          time.Time
}

// CreateStrand builds and signs the genesis record. Radix 1 is
// InvalidTwineFormat.
func (b *Builder) CreateStrand(opts StrandOptions) (*twine.Strand, error) {
	if b.signer == nil {
		return nil, twine.NewError(twine.KindBadSignature, "builder has no signer")
	}
	radix := opts.Radix
	switch {
	case opts.PredecessorOnly:
		radix = 0
	case radix == 0:
		radix = twine.DefaultRadix
	}
	hasher := opts.Hasher
	if hasher == 0 {
		hasher = cidutil.DefaultHash
	}
	spec, err := twine.NewSpecification(opts.Subspec, opts.SubspecVersion)
	if err != nil {
		return nil, err
	}
	genesis := opts.Genesis
	if genesis.IsZero() {
		genesis = b.now()
	}
	s, err := twine.NewStrand(twine.StrandFields{
		Key:     b.signer.Public(),
		Radix:   radix,
		Details: opts.Details,
		Meta:    opts.Meta,
		Genesis: genesis,
		Expiry:  opts.Expiry,
		Hash:    hasher,
		Spec:    spec.String(),
	}, b.signer)
	if err != nil {
		return nil, err
	}
	b.log.Debug("strand created", zap.String("strand", cidutil.Format(s.CID())), zap.Uint8("radix", radix))
	return s, nil
}

// TixelOptions describe one entry.
//
// A nil Mixins slice in Next carries over the previous entry's mixins; pass
// an empty, non-nil slice to drop them all. Hasher 0 uses the strand's hash.
type TixelOptions struct {
	Payload value.Value
	Mixins  []twine.Stitch
	Source  string
	Hasher  uint64
}

// First builds index 0 of strand.
func (b *Builder) First(strand *twine.Strand, opts TixelOptions) (*twine.Tixel, error) {
	if err := b.owns(strand); err != nil {
		return nil, err
	}
	t, err := twine.NewTixel(twine.TixelFields{
		Strand:  strand.CID(),
		Index:   0,
		Source:  opts.Source,
		Mixins:  opts.Mixins,
		Payload: opts.Payload,
		Hash:    hasherFor(opts, strand),
		Spec:    strand.Spec(),
	}, b.signer)
	if err != nil {
		return nil, err
	}
	b.log.Debug("tixel built", zap.String("strand", cidutil.Format(strand.CID())), zap.Uint64("index", 0))
	return t, nil
}

// Next builds the entry after prev. The strand is fetched and verified
// first, then back-link targets other than prev itself are read through the
// builder's resolver; resolver and verification errors are returned
// unchanged.
func (b *Builder) Next(ctx context.Context, prev *twine.Tixel, opts TixelOptions) (*twine.Tixel, error) {
	if prev == nil {
		return nil, twine.NewError(twine.KindInvalidTwineFormat, "next without a previous tixel")
	}
	if prev.Index() == math.MaxUint64 {
		return nil, twine.NewError(twine.KindInvalidTwineFormat, "index overflow on strand %s", cidutil.Format(prev.StrandCID()))
	}
	strand, err := resolver.ResolveStrand(ctx, b.r, prev.StrandCID())
	if err != nil {
		return nil, err
	}
	if err := b.owns(strand); err != nil {
		return nil, err
	}
	index := prev.Index() + 1
	links, err := b.links(ctx, strand, prev, index)
	if err != nil {
		return nil, err
	}
	mixins := opts.Mixins
	if mixins == nil {
		mixins = prev.Mixins()
	}
	drop := prev.Drop()
	if !supersetOf(mixins, prev.Mixins()) {
		drop = index
	}
	t, err := twine.NewTixel(twine.TixelFields{
		Strand:  strand.CID(),
		Index:   index,
		Source:  opts.Source,
		Links:   links,
		Mixins:  mixins,
		Drop:    drop,
		Payload: opts.Payload,
		Hash:    hasherFor(opts, strand),
		Spec:    strand.Spec(),
	}, b.signer)
	if err != nil {
		return nil, err
	}
	b.log.Debug("tixel built",
		zap.String("strand", cidutil.Format(strand.CID())),
		zap.Uint64("index", index),
		zap.Int("links", len(links)))
	return t, nil
}

func (b *Builder) links(ctx context.Context, strand *twine.Strand, prev *twine.Tixel, index uint64) ([]cid.Cid, error) {
	targets := skiplist.Backlinks(index, uint32(strand.Radix()))
	links := make([]cid.Cid, len(targets))
	for k, target := range targets {
		if target == prev.Index() {
			links[k] = prev.CID()
			continue
		}
		t, err := b.r.FetchIndex(ctx, strand.CID(), target)
		if err != nil {
			return nil, err
		}
		if !t.StrandCID().Equals(strand.CID()) || t.Index() != target {
			return nil, twine.NewError(twine.KindMalformed, "asked for index %d of %s, got index %d of %s",
				target, cidutil.Format(strand.CID()), t.Index(), cidutil.Format(t.StrandCID()))
		}
		links[k] = t.CID()
	}
	return links, nil
}

func (b *Builder) owns(strand *twine.Strand) error {
	if strand == nil {
		return twine.NewError(twine.KindInvalidTwineFormat, "nil strand")
	}
	if b.signer == nil {
		return twine.NewError(twine.KindBadSignature, "builder has no signer")
	}
	if !b.signer.Public().Equal(strand.Key()) {
		return twine.NewError(twine.KindBadSignature, "signer is not the key of strand %s", cidutil.Format(strand.CID()))
	}
	return nil
}

func hasherFor(opts TixelOptions, strand *twine.Strand) uint64 {
	if opts.Hasher != 0 {
		return opts.Hasher
	}
	return strand.HashCode()
}

// supersetOf reports whether every strand mixed into prev is still mixed in.
func supersetOf(next, prev []twine.Stitch) bool {
	have := make(map[cid.Cid]struct{}, len(next))
	for _, m := range next {
		have[m.Strand] = struct{}{}
	}
	for _, m := range prev {
		if _, ok := have[m.Strand]; !ok {
			return false
		}
	}
	return true
}
