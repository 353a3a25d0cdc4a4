// Package boltstore is a Store in a single bolt database file.
//
// Layout:
//
//	blocks/<cid>            compressed block bytes
//	chains/<strand>/<index> tixel CID, index as 8 big-endian bytes
//
// The chains bucket holds one sub-bucket per stored strand, so the latest
// tixel is the last key of that sub-bucket.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"iter"
	"time"

	"github.com/boltdb/bolt"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

var (
	bucketBlocks = []byte("blocks")
	bucketChains = []byte("chains")
)

// rangeBatch is how many tixels one read transaction serves.
const rangeBatch = 64

// Store is safe for concurrent use; bolt serialises writers.
type Store struct {
	db  *bolt.DB
	log *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("boltstore: path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, storage.ConnectionFailure("boltstore: open "+path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBlocks, bucketChains} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, storage.ConnectionFailure("boltstore: init "+path, err)
	}
	log.Debug("bolt store opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// Path is the database file.
func (s *Store) Path() string { return s.db.Path() }

func indexKey(i uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, i)
	return k
}

func (s *Store) Save(ctx context.Context, tw twine.Twine) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	if err := storage.Check(ctx, s, tw); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		chains := tx.Bucket(bucketChains)
		switch v := tw.(type) {
		case *twine.Strand:
			if _, err := chains.CreateBucketIfNotExists(v.CID().Bytes()); err != nil {
				return err
			}
			return putBlock(blocks, v)
		case *twine.Tixel:
			chain := chains.Bucket(v.StrandCID().Bytes())
			if chain == nil {
				return storage.StrandNotFound(v.StrandCID())
			}
			key := indexKey(v.Index())
			if prev := chain.Get(key); prev != nil {
				if bytes.Equal(prev, v.CID().Bytes()) {
					return nil
				}
				return twine.NewError(twine.KindInvalidTwineFormat, "index %d of strand %s is already taken",
					v.Index(), cidutil.Format(v.StrandCID()))
			}
			if err := putBlock(blocks, v); err != nil {
				return err
			}
			return chain.Put(key, v.CID().Bytes())
		}
		return twine.NewError(twine.KindInvalidTwineFormat, "unknown twine %T", tw)
	})
}

func putBlock(blocks *bolt.Bucket, tw twine.Twine) error {
	key := tw.CID().Bytes()
	if blocks.Get(key) != nil {
		return nil
	}
	return blocks.Put(key, pack(tw.Bytes()))
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
	return s.update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		chains := tx.Bucket(bucketChains)
		if chain := chains.Bucket(id.Bytes()); chain != nil {
			err := chain.ForEach(func(_, v []byte) error {
				return blocks.Delete(v)
			})
			if err != nil {
				return err
			}
			if err := chains.DeleteBucket(id.Bytes()); err != nil {
				return err
			}
			return blocks.Delete(id.Bytes())
		}
		raw := blocks.Get(id.Bytes())
		if raw == nil {
			return twine.NewError(twine.KindNotFound, "%s not found", cidutil.Format(id))
		}
		t, err := decodeTixel(id, raw)
		if err != nil {
			return err
		}
		if chain := chains.Bucket(t.StrandCID().Bytes()); chain != nil {
			if err := chain.Delete(indexKey(t.Index())); err != nil {
				return err
			}
		}
		return blocks.Delete(id.Bytes())
	})
}

func (s *Store) HasIndex(_ context.Context, strand cid.Cid, index uint64) (bool, error) {
	var ok bool
	err := s.view(func(tx *bolt.Tx) error {
		chain := tx.Bucket(bucketChains).Bucket(strand.Bytes())
		ok = chain != nil && chain.Get(indexKey(index)) != nil
		return nil
	})
	return ok, err
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
	var ok bool
	err := s.view(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketChains).Bucket(strand.Bytes()) != nil
		return nil
	})
	return ok, err
}

func (s *Store) FetchLatest(_ context.Context, strand cid.Cid) (*twine.Tixel, error) {
	var t *twine.Tixel
	err := s.view(func(tx *bolt.Tx) error {
		chain := tx.Bucket(bucketChains).Bucket(strand.Bytes())
		if chain == nil {
			return storage.StrandNotFound(strand)
		}
		_, v := chain.Cursor().Last()
		if v == nil {
			return storage.LatestNotFound(strand)
		}
		var err error
		t, err = loadTixel(tx, v)
		return err
	})
	return t, err
}

func (s *Store) FetchIndex(_ context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	var t *twine.Tixel
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		t, err = fetchIndex(tx, strand, index)
		return err
	})
	return t, err
}

func fetchIndex(tx *bolt.Tx, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	chain := tx.Bucket(bucketChains).Bucket(strand.Bytes())
	if chain == nil {
		return nil, storage.StrandNotFound(strand)
	}
	v := chain.Get(indexKey(index))
	if v == nil {
		return nil, storage.IndexNotFound(strand, index)
	}
	return loadTixel(tx, v)
}

func (s *Store) FetchTixel(_ context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	var t *twine.Tixel
	err := s.view(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlocks).Get(tixel.Bytes())
		if raw == nil {
			return storage.TixelNotFound(strand, tixel)
		}
		var err error
		t, err = decodeTixel(tixel, raw)
		if err != nil {
			return err
		}
		if !t.StrandCID().Equals(strand) {
			return storage.TixelNotFound(strand, tixel)
		}
		return nil
	})
	return t, err
}

func (s *Store) FetchStrand(_ context.Context, strand cid.Cid) (*twine.Strand, error) {
	var st *twine.Strand
	err := s.view(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketChains).Bucket(strand.Bytes()) == nil {
			return storage.StrandNotFound(strand)
		}
		raw := tx.Bucket(bucketBlocks).Get(strand.Bytes())
		if raw == nil {
			return storage.Malformed(cidutil.Format(strand), fmt.Errorf("strand block missing"))
		}
		data, err := unpack(raw)
		if err != nil {
			return storage.Malformed(cidutil.Format(strand), err)
		}
		st, err = storage.DecodeStrand(strand, data)
		return err
	})
	return st, err
}

// RangeStream reads the range in batches, one read transaction per batch.
// No transaction is open while the caller runs.
func (s *Store) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return func(yield func(*twine.Tixel, error) bool) {
		for batch := range rng.Batches(rangeBatch) {
			if err := resolver.ContextError(ctx); err != nil {
				yield(nil, err)
				return
			}
			var got []*twine.Tixel
			err := s.view(func(tx *bolt.Tx) error {
				for i := range batch.Indices() {
					t, err := fetchIndex(tx, rng.Strand, i)
					if err != nil {
						return err
					}
					got = append(got, t)
				}
				return nil
			})
			for _, t := range got {
				if !yield(t, nil) {
					return
				}
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (s *Store) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return func(yield func(*twine.Strand, error) bool) {
		var ids []cid.Cid
		err := s.view(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketChains).ForEach(func(k, _ []byte) error {
				id, err := cid.Cast(k)
				if err != nil {
					return storage.Malformed("strand key", err)
				}
				ids = append(ids, id)
				return nil
			})
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			st, err := s.FetchStrand(ctx, id)
			if !yield(st, err) || err != nil {
				return
			}
		}
	}
}

func loadTixel(tx *bolt.Tx, key []byte) (*twine.Tixel, error) {
	id, err := cid.Cast(key)
	if err != nil {
		return nil, storage.Malformed("index entry", err)
	}
	raw := tx.Bucket(bucketBlocks).Get(key)
	if raw == nil {
		return nil, storage.Malformed(cidutil.Format(id), fmt.Errorf("indexed block missing"))
	}
	return decodeTixel(id, raw)
}

func decodeTixel(id cid.Cid, raw []byte) (*twine.Tixel, error) {
	data, err := unpack(raw)
	if err != nil {
		return nil, storage.Malformed(cidutil.Format(id), err)
	}
	return storage.DecodeTixel(id, data)
}

// view and update keep twine errors intact and report anything else from
// bolt as a connection failure.
func (s *Store) view(fn func(*bolt.Tx) error) error {
	return backendError(s.db.View(fn))
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	return backendError(s.db.Update(fn))
}

func backendError(err error) error {
	if err == nil || twine.KindOf(err) != "" {
		return err
	}
	return storage.ConnectionFailure("boltstore", err)
}
