// Package localfs is a Store in a directory tree.
//
// Layout under the root:
//
//	blocks/<xx>/<cid>                   block bytes, written once
//	strands/<strand>/index/<index>      tixel CID as text, index zero-padded
//
// Block files are immutable: an existing file is never rewritten, and one
// whose bytes differ from a block being saved is reported as corrupt.
// Index files are written to a temporary name and renamed into place.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

// Store is a filesystem-backed Store. It never uses the network. Writes are
// serialised within one process; two processes sharing a root are not
// coordinated.
type Store struct {
	root string
	mu   sync.RWMutex
}

var _ storage.Store = (*Store)(nil)

// New constructs a store rooted at root. The directory will be created if
// needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	for _, dir := range []string{filepath.Join(root, "blocks"), filepath.Join(root, "strands")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storage.ConnectionFailure("localfs", err)
		}
	}
	return &Store{root: root}, nil
}

// Root is the directory the store lives in.
func (s *Store) Root() string { return s.root }

func (s *Store) blockPath(id cid.Cid) string {
	str := cidutil.Format(id)
	return filepath.Join(s.root, "blocks", str[len(str)-2:], str)
}

func (s *Store) strandDir(strand cid.Cid) string {
	return filepath.Join(s.root, "strands", cidutil.Format(strand))
}

func (s *Store) indexDir(strand cid.Cid) string {
	return filepath.Join(s.strandDir(strand), "index")
}

func (s *Store) indexPath(strand cid.Cid, index uint64) string {
	return filepath.Join(s.indexDir(strand), fmt.Sprintf("%020d", index))
}

func (s *Store) Save(ctx context.Context, tw twine.Twine) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	if err := storage.Check(ctx, s, tw); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := tw.(type) {
	case *twine.Strand:
		if err := s.putBlock(v); err != nil {
			return err
		}
		return fsError(os.MkdirAll(s.indexDir(v.CID()), 0o755))
	case *twine.Tixel:
		if _, err := os.Stat(s.indexDir(v.StrandCID())); err != nil {
			return storage.StrandNotFound(v.StrandCID())
		}
		path := s.indexPath(v.StrandCID(), v.Index())
		prev, err := os.ReadFile(path)
		switch {
		case err == nil:
			if string(prev) == cidutil.Format(v.CID()) {
				return nil
			}
			return twine.NewError(twine.KindInvalidTwineFormat, "index %d of strand %s is already taken",
				v.Index(), cidutil.Format(v.StrandCID()))
		case !os.IsNotExist(err):
			return fsError(err)
		}
		if err := s.putBlock(v); err != nil {
			return err
		}
		return fsError(writeAtomic(path, []byte(cidutil.Format(v.CID()))))
	}
	return twine.NewError(twine.KindInvalidTwineFormat, "unknown twine %T", tw)
}

func (s *Store) putBlock(tw twine.Twine) error {
	path := s.blockPath(tw.CID())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fsError(err)
	}
	data := tw.Bytes()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil || !bytes.Equal(existing, data) {
				return storage.Malformed(cidutil.Format(tw.CID()), errors.New("existing block file differs"))
			}
			return nil
		}
		return fsError(err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fsError(err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fsError(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fsError(err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) SaveMany(ctx context.Context, tws []twine.Twine) ([]storage.Result, error) {
	return storage.SaveSlice(ctx, s, tws)
}

func (s *Store) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]storage.Result, error) {
	return storage.SaveEach(ctx, s, tws)
}

func (s *Store) Delete(ctx context.Context, id cid.Cid) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.strandDir(id)); err == nil {
		indices, err := s.indices(id)
		if err != nil {
			return err
		}
		for _, i := range indices {
			if tid, err := s.readIndex(id, i); err == nil {
				_ = os.Remove(s.blockPath(tid))
			}
		}
		if err := os.RemoveAll(s.strandDir(id)); err != nil {
			return fsError(err)
		}
		return fsError(os.Remove(s.blockPath(id)))
	}
	t, err := s.readTixel(id)
	if err != nil {
		return err
	}
	if err := os.Remove(s.indexPath(t.StrandCID(), t.Index())); err != nil && !os.IsNotExist(err) {
		return fsError(err)
	}
	return fsError(os.Remove(s.blockPath(id)))
}

// indices lists the stored indices of strand in ascending order.
func (s *Store) indices(strand cid.Cid) ([]uint64, error) {
	entries, err := os.ReadDir(s.indexDir(strand))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.StrandNotFound(strand)
		}
		return nil, fsError(err)
	}
	var out []uint64
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		i, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			return nil, storage.Malformed(e.Name(), err)
		}
		out = append(out, i)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) readIndex(strand cid.Cid, index uint64) (cid.Cid, error) {
	b, err := os.ReadFile(s.indexPath(strand, index))
	if err != nil {
		if os.IsNotExist(err) {
			if _, serr := os.Stat(s.indexDir(strand)); serr != nil {
				return cid.Undef, storage.StrandNotFound(strand)
			}
			return cid.Undef, storage.IndexNotFound(strand, index)
		}
		return cid.Undef, fsError(err)
	}
	id, err := cidutil.Parse(strings.TrimSpace(string(b)))
	if err != nil {
		return cid.Undef, storage.Malformed("index file", err)
	}
	return id, nil
}

func (s *Store) readBlock(id cid.Cid) ([]byte, error) {
	b, err := os.ReadFile(s.blockPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, twine.NewError(twine.KindNotFound, "%s not found", cidutil.Format(id))
		}
		return nil, fsError(err)
	}
	return b, nil
}

func (s *Store) readTixel(id cid.Cid) (*twine.Tixel, error) {
	b, err := s.readBlock(id)
	if err != nil {
		return nil, err
	}
	return storage.DecodeTixel(id, b)
}

func (s *Store) HasIndex(_ context.Context, strand cid.Cid, index uint64) (bool, error) {
	_, err := os.Stat(s.indexPath(strand, index))
	return err == nil, nil
}

func (s *Store) HasTwine(ctx context.Context, strand, id cid.Cid) (bool, error) {
	if id.Equals(strand) {
		return s.HasStrand(ctx, strand)
	}
	_, err := s.FetchTixel(ctx, strand, id)
	if twine.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) HasStrand(_ context.Context, strand cid.Cid) (bool, error) {
	_, err := os.Stat(s.indexDir(strand))
	return err == nil, nil
}

func (s *Store) FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error) {
	s.mu.RLock()
	indices, err := s.indices(strand)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, storage.LatestNotFound(strand)
	}
	return s.FetchIndex(ctx, strand, indices[len(indices)-1])
}

func (s *Store) FetchIndex(_ context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, err := s.readIndex(strand, index)
	if err != nil {
		return nil, err
	}
	t, err := s.readTixel(id)
	if twine.IsNotFound(err) {
		return nil, storage.Malformed(cidutil.Format(id), errors.New("indexed block missing"))
	}
	return t, err
}

func (s *Store) FetchTixel(_ context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(s.blockPath(tixel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.TixelNotFound(strand, tixel)
		}
		return nil, fsError(err)
	}
	t, err := storage.DecodeTixel(tixel, b)
	if err != nil {
		return nil, err
	}
	if !t.StrandCID().Equals(strand) {
		return nil, storage.TixelNotFound(strand, tixel)
	}
	return t, nil
}

func (s *Store) FetchStrand(_ context.Context, strand cid.Cid) (*twine.Strand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := os.Stat(s.indexDir(strand)); err != nil {
		return nil, storage.StrandNotFound(strand)
	}
	b, err := s.readBlock(strand)
	if err != nil {
		if twine.IsNotFound(err) {
			return nil, storage.StrandNotFound(strand)
		}
		return nil, err
	}
	return storage.DecodeStrand(strand, b)
}

func (s *Store) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return resolver.IndexStream(ctx, rng, func(ctx context.Context, index uint64) (*twine.Tixel, error) {
		return s.FetchIndex(ctx, rng.Strand, index)
	})
}

// FetchStrands yields the stored strands ordered by directory name.
func (s *Store) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return func(yield func(*twine.Strand, error) bool) {
		entries, err := os.ReadDir(filepath.Join(s.root, "strands"))
		if err != nil {
			yield(nil, fsError(err))
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			id, err := cidutil.Parse(e.Name())
			if err != nil {
				yield(nil, storage.Malformed(e.Name(), err))
				return
			}
			st, err := s.FetchStrand(ctx, id)
			if !yield(st, err) || err != nil {
				return
			}
		}
	}
}

func fsError(err error) error {
	if err == nil {
		return nil
	}
	return storage.ConnectionFailure("localfs", err)
}
