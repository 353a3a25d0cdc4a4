// Package bundle moves whole chains between stores as tar archives.
//
// A bundle holds one block per entry under blocks/<cid> plus an index.json
// describing the chain. Bundle bytes are deterministic: block entries are in
// lexicographic CID order and tar headers are normalized.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

// FormatVersion is the current index.json schema version.
const FormatVersion = 1

const indexName = "index.json"

var epoch = time.Unix(0, 0).UTC()

// Index is the contents of index.json. It is informational; Import trusts
// only the blocks.
type Index struct {
	Version int          `json:"version"`
	Strand  string       `json:"strand"`
	Latest  uint64       `json:"latest"`
	Blocks  []IndexBlock `json:"blocks"`
}

type IndexBlock struct {
	CID   string  `json:"cid"`
	Size  int     `json:"size"`
	Index *uint64 `json:"index,omitempty"`
}

// Export writes the strand and every tixel from 0 to latest to w. Each
// block is resolved with full verification before it is written.
func Export(ctx context.Context, w io.Writer, r resolver.Resolver, strand cid.Cid) error {
	s, err := resolver.ResolveStrand(ctx, r, strand)
	if err != nil {
		return err
	}
	blocks := []twine.Twine{s}
	latest, err := r.FetchLatest(ctx, strand)
	switch {
	case err == nil:
		for res, err := range resolver.ResolveRange(ctx, r, resolver.NewRange(strand, 0, latest.Index())) {
			if err != nil {
				return err
			}
			blocks = append(blocks, res.Tixel)
		}
	case !twine.IsNotFound(err):
		return err
	}

	idx := Index{Version: FormatVersion, Strand: cidutil.Format(strand)}
	if len(blocks) > 1 {
		idx.Latest = latest.Index()
	}
	slices.SortFunc(blocks, func(a, b twine.Twine) int {
		return strings.Compare(cidutil.Format(a.CID()), cidutil.Format(b.CID()))
	})

	tw := tar.NewWriter(w)
	for _, b := range blocks {
		entry := IndexBlock{CID: cidutil.Format(b.CID()), Size: len(b.Bytes())}
		if t, ok := b.(*twine.Tixel); ok {
			i := t.Index()
			entry.Index = &i
		}
		if err := writeFile(tw, "blocks/"+entry.CID, b.Bytes()); err != nil {
			_ = tw.Close()
			return err
		}
		idx.Blocks = append(idx.Blocks, entry)
	}
	data, err := json.Marshal(idx)
	if err != nil {
		_ = tw.Close()
		return err
	}
	if err := writeFile(tw, indexName, append(data, '\n')); err != nil {
		_ = tw.Close()
		return err
	}
	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown skips unknown tar entries instead of failing.
	IgnoreUnknown bool
}

// Import reads a bundle from rd and saves its blocks to st.
func Import(ctx context.Context, rd io.Reader, st storage.Store) ([]storage.Result, error) {
	return ImportWithOptions(ctx, rd, st, ImportOptions{})
}

// ImportWithOptions decodes every block, checking it against the CID in its
// entry name, then saves strands before tixels and tixels in index order so
// each store can verify them. Saving is per item as in storage.Store.
func ImportWithOptions(ctx context.Context, rd io.Reader, st storage.Store, opts ImportOptions) ([]storage.Result, error) {
	if st == nil {
		return nil, fmt.Errorf("bundle: nil store")
	}
	blocks, err := read(ctx, rd, opts)
	if err != nil {
		return nil, err
	}
	storage.SortForSave(blocks)
	return st.SaveMany(ctx, blocks)
}

func read(ctx context.Context, rd io.Reader, opts ImportOptions) ([]twine.Twine, error) {
	tr := tar.NewReader(rd)
	seen := map[string]struct{}{}
	var blocks []twine.Twine
	for {
		if err := resolver.ContextError(ctx); err != nil {
			return nil, err
		}
		h, err := tr.Next()
		if err == io.EOF {
			return blocks, nil
		}
		if err != nil {
			return nil, twine.WrapError(twine.KindMalformed, "bundle", err)
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}
		if name == indexName {
			var idx Index
			if err := json.NewDecoder(tr).Decode(&idx); err != nil {
				return nil, twine.WrapError(twine.KindMalformed, "bundle: "+indexName, err)
			}
			if idx.Version != FormatVersion {
				return nil, twine.NewError(twine.KindMalformed, "bundle: unsupported version %d", idx.Version)
			}
			continue
		}
		cidStr, ok := strings.CutPrefix(name, "blocks/")
		if !ok {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unknown entry: %s", name)
		}
		id, err := cidutil.Parse(cidStr)
		if err != nil {
			return nil, twine.WrapError(twine.KindMalformed, "bundle: "+name, err)
		}
		key := id.KeyString()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("bundle: duplicate block entry: %s", cidStr)
		}
		seen[key] = struct{}{}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, twine.WrapError(twine.KindMalformed, "bundle: "+name, err)
		}
		tw, err := storage.Decode(id, data)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, tw)
	}
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
