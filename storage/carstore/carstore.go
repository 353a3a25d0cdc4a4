// Package carstore reads and writes chains as CARv1 files, the archive
// format other twine implementations exchange.
//
// A CAR written here has the strand CIDs followed by the latest tixel CID
// of each strand as roots, and holds each strand block followed by its
// tixels oldest first. Readers accept any block order.
package carstore

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
	carstorage "github.com/ipld/go-car/v2/storage"

	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

type chain struct {
	strand *twine.Strand
	latest *twine.Tixel
}

// Export writes the given strands and all of their tixels to w. Every block
// is resolved with full verification before it is written.
func Export(ctx context.Context, w io.Writer, r resolver.Resolver, strands ...cid.Cid) error {
	if len(strands) == 0 {
		return twine.NewError(twine.KindParse, "carstore: no strands to export")
	}
	chains := make([]chain, 0, len(strands))
	for _, id := range strands {
		s, err := resolver.ResolveStrand(ctx, r, id)
		if err != nil {
			return err
		}
		c := chain{strand: s}
		latest, err := r.FetchLatest(ctx, id)
		switch {
		case err == nil:
			c.latest = latest
		case !twine.IsNotFound(err):
			return err
		}
		chains = append(chains, c)
	}
	return write(ctx, w, chains, func(c chain) iter.Seq2[*twine.Tixel, error] {
		return func(yield func(*twine.Tixel, error) bool) {
			for res, err := range resolver.ResolveRange(ctx, r, resolver.NewRange(c.strand.CID(), 0, c.latest.Index())) {
				if !yield(res.Tixel, err) || err != nil {
					return
				}
			}
		}
	})
}

// dump writes every chain r holds without re-verifying it. It serves stores
// whose contents were verified on save and may have gaps.
func dump(ctx context.Context, w io.Writer, r resolver.Resolver) error {
	var chains []chain
	for s, err := range r.FetchStrands(ctx) {
		if err != nil {
			return err
		}
		c := chain{strand: s}
		latest, err := r.FetchLatest(ctx, s.CID())
		switch {
		case err == nil:
			c.latest = latest
		case !twine.IsNotFound(err):
			return err
		}
		chains = append(chains, c)
	}
	if len(chains) == 0 {
		return nil
	}
	return write(ctx, w, chains, func(c chain) iter.Seq2[*twine.Tixel, error] {
		return func(yield func(*twine.Tixel, error) bool) {
			for i := range resolver.NewRange(c.strand.CID(), 0, c.latest.Index()).Indices() {
				t, err := r.FetchIndex(ctx, c.strand.CID(), i)
				if twine.IsNotFound(err) {
					continue
				}
				if !yield(t, err) || err != nil {
					return
				}
			}
		}
	})
}

func write(ctx context.Context, w io.Writer, chains []chain, tixels func(chain) iter.Seq2[*twine.Tixel, error]) error {
	roots := make([]cid.Cid, 0, 2*len(chains))
	for _, c := range chains {
		roots = append(roots, c.strand.CID())
	}
	for _, c := range chains {
		if c.latest != nil {
			roots = append(roots, c.latest.CID())
		}
	}
	cw, err := carstorage.NewWritable(w, roots, carv2.WriteAsCarV1(true))
	if err != nil {
		return err
	}
	for _, c := range chains {
		if err := put(ctx, cw, c.strand); err != nil {
			return err
		}
		if c.latest == nil {
			continue
		}
		for t, err := range tixels(c) {
			if err != nil {
				return err
			}
			if err := put(ctx, cw, t); err != nil {
				return err
			}
		}
	}
	return cw.Finalize()
}

func put(ctx context.Context, cw carstorage.WritableCar, tw twine.Twine) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	return cw.Put(ctx, tw.CID().KeyString(), tw.Bytes())
}

// Read decodes every block of a CAR stream. Blocks are checked against
// their CIDs but not verified; saving them into a Store does that.
func Read(ctx context.Context, rd io.Reader) ([]cid.Cid, []twine.Twine, error) {
	br, err := carv2.NewBlockReader(rd)
	if err != nil {
		return nil, nil, twine.WrapError(twine.KindMalformed, "carstore: header", err)
	}
	var tws []twine.Twine
	for {
		if err := resolver.ContextError(ctx); err != nil {
			return nil, nil, err
		}
		blk, err := br.Next()
		if errors.Is(err, io.EOF) {
			return br.Roots, tws, nil
		}
		if err != nil {
			return nil, nil, twine.WrapError(twine.KindMalformed, "carstore: block", err)
		}
		tw, err := storage.Decode(blk.Cid(), blk.RawData())
		if err != nil {
			return nil, nil, err
		}
		tws = append(tws, tw)
	}
}

// Import reads a CAR stream and saves its blocks to st, strands first and
// tixels in index order.
func Import(ctx context.Context, rd io.Reader, st storage.Store) ([]storage.Result, error) {
	if st == nil {
		return nil, twine.NewError(twine.KindConnectionFailure, "carstore: nil store")
	}
	_, tws, err := Read(ctx, rd)
	if err != nil {
		return nil, err
	}
	storage.SortForSave(tws)
	return st.SaveMany(ctx, tws)
}
