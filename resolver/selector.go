package resolver

import (
	"context"
	"iter"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/twine"
)

// SelectorKind is the shape of a parsed selector.
type SelectorKind int

const (
	SelectAll SelectorKind = iota
	SelectStrand
	SelectSingle
	SelectRange
)

// Selector is a parsed query string:
//
//	all | ALL | *                every strand
//	<strand>                     one strand and all of its tixels
//	<strand>:<index>             one tixel; also :latest or :<tixel cid>
//	<strand>:<upper>:<lower>     inclusive range; an empty upper means the
//	                             latest tixel, an empty lower means genesis
//
// Negative indices count back from the latest tixel (-1 is the latest).
type Selector struct {
	Kind   SelectorKind
	Strand cid.Cid
	Single SingleQuery
	Range  RangeQuery
}

// ParseSelector parses s. Errors are of kind twine.KindParse.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "all", "ALL", "*":
		return Selector{Kind: SelectAll}, nil
	case "":
		return Selector{}, twine.NewError(twine.KindParse, "empty selector")
	}
	parts := strings.Split(s, ":")
	strand, err := cidutil.Parse(parts[0])
	if err != nil {
		return Selector{}, twine.WrapError(twine.KindParse, "selector strand", err)
	}
	switch len(parts) {
	case 1:
		return Selector{Kind: SelectStrand, Strand: strand}, nil
	case 2:
		q, err := parseSingle(strand, parts[1])
		if err != nil {
			return Selector{}, err
		}
		return Selector{Kind: SelectSingle, Strand: strand, Single: q}, nil
	case 3:
		upper, err := parseBound(parts[1], LatestBound)
		if err != nil {
			return Selector{}, err
		}
		lower, err := parseBound(parts[2], 0)
		if err != nil {
			return Selector{}, err
		}
		return Selector{Kind: SelectRange, Strand: strand, Range: RangeQuery{Strand: strand, Start: upper, End: lower}}, nil
	}
	return Selector{}, twine.NewError(twine.KindParse, "selector %q: too many ':' separators", s)
}

func parseSingle(strand cid.Cid, part string) (SingleQuery, error) {
	switch {
	case part == "latest" || part == "":
		return Latest(strand), nil
	case isInteger(part):
		b, err := parseBound(part, LatestBound)
		if err != nil {
			return SingleQuery{}, err
		}
		if b == LatestBound {
			return Latest(strand), nil
		}
		if b < 0 {
			return SingleQuery{}, twine.NewError(twine.KindParse, "relative index %d needs a range selector", b)
		}
		return AtIndex(strand, uint64(b)), nil
	}
	tixel, err := cidutil.Parse(part)
	if err != nil {
		return SingleQuery{}, twine.WrapError(twine.KindParse, "selector tixel", err)
	}
	return AtStitch(twine.Stitch{Strand: strand, Tixel: tixel}), nil
}

func isInteger(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseBound(s string, empty Bound) (Bound, error) {
	if s == "" {
		return empty, nil
	}
	if s == "latest" {
		return LatestBound, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, twine.WrapError(twine.KindParse, "selector bound "+strconv.Quote(s), err)
	}
	return Bound(n), nil
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectStrand:
		return cidutil.Format(s.Strand)
	case SelectSingle:
		return s.Single.String()
	case SelectRange:
		return s.Range.String()
	}
	return "all"
}

// Stream yields every block the selector names, unverified: strands for
// SelectAll, the strand then its tixels oldest first for SelectStrand, one
// tixel for SelectSingle and the range for SelectRange.
func (s Selector) Stream(ctx context.Context, r Resolver) iter.Seq2[twine.Twine, error] {
	return func(yield func(twine.Twine, error) bool) {
		switch s.Kind {
		case SelectAll:
			for st, err := range r.FetchStrands(ctx) {
				if !emit(yield, st, err) {
					return
				}
			}
		case SelectStrand:
			st, err := r.FetchStrand(ctx, s.Strand)
			if !emit(yield, st, err) {
				return
			}
			latest, err := r.FetchLatest(ctx, s.Strand)
			if twine.IsNotFound(err) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			for t, err := range r.RangeStream(ctx, NewRange(s.Strand, 0, latest.Index())) {
				if !emit(yield, t, err) {
					return
				}
			}
		case SelectSingle:
			t, err := s.Single.Fetch(ctx, r)
			emit(yield, t, err)
		case SelectRange:
			rng, err := s.Range.Resolve(ctx, r)
			if err != nil {
				yield(nil, err)
				return
			}
			for t, err := range r.RangeStream(ctx, rng) {
				if !emit(yield, t, err) {
					return
				}
			}
		}
	}
}

// emit forwards one element, keeping a nil interface on error. It reports
// whether the caller should continue.
func emit[T twine.Twine](yield func(twine.Twine, error) bool, v T, err error) bool {
	if err != nil {
		yield(nil, err)
		return false
	}
	return yield(v, nil)
}
