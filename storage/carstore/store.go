package carstore

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipfs/go-cid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/twine"
)

// Store keeps a CAR file's chains in memory and rewrites the file after
// every mutation. It suits small archives that are edited in place.
type Store struct {
	*memory.Store

	path string
	log  *zap.Logger

	// mu serialises rewrites of the file.
	mu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// Open loads path into memory. A missing or empty file is an empty store.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{Store: memory.New(), path: path, log: logger}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, twine.WrapError(twine.KindConnectionFailure, "carstore: open", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, twine.WrapError(twine.KindConnectionFailure, "carstore: stat", err)
	}
	if info.Size() == 0 {
		return s, nil
	}
	if _, err := Import(ctx, f, s.Store); err != nil {
		return nil, err
	}
	logger.Debug("car file loaded", zap.String("path", path))
	return s, nil
}

func (s *Store) Save(ctx context.Context, tw twine.Twine) error {
	if err := s.Store.Save(ctx, tw); err != nil {
		return err
	}
	return s.Flush(ctx)
}

func (s *Store) SaveMany(ctx context.Context, tws []twine.Twine) ([]storage.Result, error) {
	results, err := storage.SaveSlice(ctx, s.Store, tws)
	return results, multierr.Append(err, s.Flush(ctx))
}

func (s *Store) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]storage.Result, error) {
	results, err := storage.SaveEach(ctx, s.Store, tws)
	return results, multierr.Append(err, s.Flush(ctx))
}

func (s *Store) Delete(ctx context.Context, id cid.Cid) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Flush rewrites the file from memory through a temporary file and rename.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return twine.WrapError(twine.KindConnectionFailure, "carstore: flush", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.car")
	if err != nil {
		return twine.WrapError(twine.KindConnectionFailure, "carstore: flush", err)
	}
	defer os.Remove(tmp.Name())
	if err := dump(ctx, tmp, s.Store); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return twine.WrapError(twine.KindConnectionFailure, "carstore: flush", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return twine.WrapError(twine.KindConnectionFailure, "carstore: flush", err)
	}
	s.log.Debug("car file written", zap.String("path", s.path))
	return nil
}

// Close flushes the file.
func (s *Store) Close() error {
	return s.Flush(context.Background())
}
