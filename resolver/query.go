package resolver

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/twine"
)

// SingleKind says how a SingleQuery picks its tixel.
type SingleKind int

const (
	SingleLatest SingleKind = iota
	SingleIndex
	SingleStitch
)

// SingleQuery selects one tixel of a strand: the latest, the one at Index,
// or the one with CID Tixel.
type SingleQuery struct {
	Strand cid.Cid
	Kind   SingleKind
	Index  uint64
	Tixel  cid.Cid
}

func Latest(strand cid.Cid) SingleQuery { return SingleQuery{Strand: strand, Kind: SingleLatest} }

func AtIndex(strand cid.Cid, index uint64) SingleQuery {
	return SingleQuery{Strand: strand, Kind: SingleIndex, Index: index}
}

func AtStitch(s twine.Stitch) SingleQuery {
	return SingleQuery{Strand: s.Strand, Kind: SingleStitch, Tixel: s.Tixel}
}

// Fetch runs the query without verification.
func (q SingleQuery) Fetch(ctx context.Context, r Resolver) (*twine.Tixel, error) {
	switch q.Kind {
	case SingleLatest:
		return r.FetchLatest(ctx, q.Strand)
	case SingleIndex:
		return r.FetchIndex(ctx, q.Strand, q.Index)
	case SingleStitch:
		return r.FetchTixel(ctx, q.Strand, q.Tixel)
	}
	return nil, twine.NewError(twine.KindParse, "unknown query kind %d", q.Kind)
}

func (q SingleQuery) String() string {
	s := cidutil.Format(q.Strand)
	switch q.Kind {
	case SingleIndex:
		return fmt.Sprintf("%s:%d", s, q.Index)
	case SingleStitch:
		return s + ":" + cidutil.Format(q.Tixel)
	}
	return s + ":latest"
}

// Bound is one end of a RangeQuery. A non-negative value is an absolute
// index; a negative value counts back from the latest tixel, -1 being the
// latest itself.
type Bound int64

// LatestBound is the latest tixel of the strand.
const LatestBound Bound = -1

// RangeQuery is a range whose bounds may be relative to the latest tixel.
type RangeQuery struct {
	Strand cid.Cid
	Start  Bound
	End    Bound
}

// Absolute resolves the bounds against latest. Relative bounds reaching
// past genesis clamp to 0; an absolute bound past latest is NotFound.
func (q RangeQuery) Absolute(latest uint64) (AbsoluteRange, error) {
	start, err := q.Start.resolve(latest)
	if err != nil {
		return AbsoluteRange{}, err
	}
	end, err := q.End.resolve(latest)
	if err != nil {
		return AbsoluteRange{}, err
	}
	return AbsoluteRange{Strand: q.Strand, Start: start, End: end}, nil
}

func (b Bound) resolve(latest uint64) (uint64, error) {
	if b >= 0 {
		if uint64(b) > latest {
			return 0, twine.NewError(twine.KindNotFound, "index %d is past the latest index %d", b, latest)
		}
		return uint64(b), nil
	}
	back := uint64(-(b + 1))
	if back > latest {
		return 0, nil
	}
	return latest - back, nil
}

// Resolve fetches the latest tixel of the strand and resolves the bounds.
func (q RangeQuery) Resolve(ctx context.Context, r Resolver) (AbsoluteRange, error) {
	if q.Start >= 0 && q.End >= 0 {
		return AbsoluteRange{Strand: q.Strand, Start: uint64(q.Start), End: uint64(q.End)}, nil
	}
	latest, err := r.FetchLatest(ctx, q.Strand)
	if err != nil {
		return AbsoluteRange{}, err
	}
	return q.Absolute(latest.Index())
}

func (b Bound) String() string {
	if b == LatestBound {
		return ""
	}
	return fmt.Sprintf("%d", int64(b))
}

func (q RangeQuery) String() string {
	return cidutil.Format(q.Strand) + ":" + q.Start.String() + ":" + q.End.String()
}
