// Package sqlstore is a Store in a SQLite database, accessed through a
// connection pool. Strands and tixels live in two tables; a unique
// constraint on (strand, idx) keeps one tixel per index.
package sqlstore

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"math"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/resolver"
	"xdao.co/twine/storage"
	"xdao.co/twine/twine"
)

const schema = `
CREATE TABLE IF NOT EXISTS strands (
	cid  BLOB PRIMARY KEY,
	data BLOB NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS tixels (
	cid    BLOB PRIMARY KEY,
	strand BLOB NOT NULL,
	idx    INTEGER NOT NULL,
	data   BLOB NOT NULL,
	UNIQUE (strand, idx)
) WITHOUT ROWID;
`

// rangeBatch is how many rows one range query reads.
const rangeBatch = 128

// Config configures Open.
type Config struct {
	Path     string
	PoolSize int
	Logger   *zap.Logger
}

// Store is safe for concurrent use.
type Store struct {
	pool *pool
	log  *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database and its schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlstore: Path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p, err := openPool(cfg.Path, cfg.PoolSize, log)
	if err != nil {
		return nil, storage.ConnectionFailure("sqlstore", err)
	}
	s := &Store{pool: p, log: log}
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		_ = p.close()
		return nil, err
	}
	return s, nil
}

// Close closes every pooled connection.
func (s *Store) Close() error { return s.pool.close() }

func (s *Store) withConn(ctx context.Context, fn func(*sqlite.Conn) error) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	conn, err := s.pool.take(ctx)
	if err != nil {
		if cerr := resolver.ContextError(ctx); cerr != nil {
			return cerr
		}
		return storage.ConnectionFailure("sqlstore", err)
	}
	defer s.pool.put(conn)
	return backendError(fn(conn))
}

func backendError(err error) error {
	if err == nil || twine.KindOf(err) != "" {
		return err
	}
	return storage.ConnectionFailure("sqlstore", err)
}

func blob(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

func (s *Store) Save(ctx context.Context, tw twine.Twine) error {
	if err := resolver.ContextError(ctx); err != nil {
		return err
	}
	if err := storage.Check(ctx, s, tw); err != nil {
		return err
	}
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)
		switch v := tw.(type) {
		case *twine.Strand:
			return sqlitex.Execute(conn, `INSERT OR IGNORE INTO strands (cid, data) VALUES (?, ?)`,
				&sqlitex.ExecOptions{Args: []any{v.CID().Bytes(), v.Bytes()}})
		case *twine.Tixel:
			return saveTixel(conn, v)
		}
		return twine.NewError(twine.KindInvalidTwineFormat, "unknown twine %T", tw)
	})
}

func saveTixel(conn *sqlite.Conn, t *twine.Tixel) error {
	if t.Index() > math.MaxInt64 {
		return twine.NewError(twine.KindInvalidTwineFormat, "index %d exceeds the sqlite integer range", t.Index())
	}
	found, err := exists(conn, `SELECT 1 FROM strands WHERE cid = ?`, t.StrandCID().Bytes())
	if err != nil {
		return err
	}
	if !found {
		return storage.StrandNotFound(t.StrandCID())
	}
	var prev []byte
	err = sqlitex.Execute(conn, `SELECT cid FROM tixels WHERE strand = ? AND idx = ?`, &sqlitex.ExecOptions{
		Args: []any{t.StrandCID().Bytes(), int64(t.Index())},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			prev = blob(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return err
	}
	if prev != nil {
		if bytes.Equal(prev, t.CID().Bytes()) {
			return nil
		}
		return twine.NewError(twine.KindInvalidTwineFormat, "index %d of strand %s is already taken",
			t.Index(), cidutil.Format(t.StrandCID()))
	}
	return sqlitex.Execute(conn, `INSERT INTO tixels (cid, strand, idx, data) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{t.CID().Bytes(), t.StrandCID().Bytes(), int64(t.Index()), t.Bytes()}})
}

func exists(conn *sqlite.Conn, query string, args ...any) (bool, error) {
	var found bool
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

func (s *Store) SaveMany(ctx context.Context, tws []twine.Twine) ([]storage.Result, error) {
	return storage.SaveSlice(ctx, s, tws)
}

func (s *Store) SaveStream(ctx context.Context, tws iter.Seq[twine.Twine]) ([]storage.Result, error) {
	return storage.SaveEach(ctx, s, tws)
}

func (s *Store) Delete(ctx context.Context, id cid.Cid) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)
		key := id.Bytes()
		if err := sqlitex.Execute(conn, `DELETE FROM strands WHERE cid = ?`, &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
			return err
		}
		if conn.Changes() > 0 {
			return sqlitex.Execute(conn, `DELETE FROM tixels WHERE strand = ?`, &sqlitex.ExecOptions{Args: []any{key}})
		}
		if err := sqlitex.Execute(conn, `DELETE FROM tixels WHERE cid = ?`, &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return twine.NewError(twine.KindNotFound, "%s not found", cidutil.Format(id))
		}
		return nil
	})
}

func (s *Store) HasIndex(ctx context.Context, strand cid.Cid, index uint64) (bool, error) {
	if index > math.MaxInt64 {
		return false, nil
	}
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		found, err = exists(conn, `SELECT 1 FROM tixels WHERE strand = ? AND idx = ?`, strand.Bytes(), int64(index))
		return err
	})
	return found, err
}

func (s *Store) HasTwine(ctx context.Context, strand, id cid.Cid) (bool, error) {
	if id.Equals(strand) {
		return s.HasStrand(ctx, strand)
	}
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		found, err = exists(conn, `SELECT 1 FROM tixels WHERE cid = ? AND strand = ?`, id.Bytes(), strand.Bytes())
		return err
	})
	return found, err
}

func (s *Store) HasStrand(ctx context.Context, strand cid.Cid) (bool, error) {
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		found, err = exists(conn, `SELECT 1 FROM strands WHERE cid = ?`, strand.Bytes())
		return err
	})
	return found, err
}

// queryTixels runs a query whose rows are (cid, data) and decodes each.
func queryTixels(conn *sqlite.Conn, query string, args ...any) ([]*twine.Tixel, error) {
	var out []*twine.Tixel
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id, err := cid.Cast(blob(stmt, 0))
			if err != nil {
				return storage.Malformed("tixel key", err)
			}
			t, err := storage.DecodeTixel(id, blob(stmt, 1))
			if err != nil {
				return err
			}
			out = append(out, t)
			return nil
		},
	})
	return out, err
}

func (s *Store) FetchLatest(ctx context.Context, strand cid.Cid) (*twine.Tixel, error) {
	var t *twine.Tixel
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		rows, err := queryTixels(conn, `SELECT cid, data FROM tixels WHERE strand = ? ORDER BY idx DESC LIMIT 1`, strand.Bytes())
		if err != nil {
			return err
		}
		if len(rows) == 1 {
			t = rows[0]
			return nil
		}
		found, err := exists(conn, `SELECT 1 FROM strands WHERE cid = ?`, strand.Bytes())
		if err != nil {
			return err
		}
		if !found {
			return storage.StrandNotFound(strand)
		}
		return storage.LatestNotFound(strand)
	})
	return t, err
}

func (s *Store) FetchIndex(ctx context.Context, strand cid.Cid, index uint64) (*twine.Tixel, error) {
	if index > math.MaxInt64 {
		return nil, storage.IndexNotFound(strand, index)
	}
	var t *twine.Tixel
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		rows, err := queryTixels(conn, `SELECT cid, data FROM tixels WHERE strand = ? AND idx = ?`, strand.Bytes(), int64(index))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return storage.IndexNotFound(strand, index)
		}
		t = rows[0]
		return nil
	})
	return t, err
}

func (s *Store) FetchTixel(ctx context.Context, strand, tixel cid.Cid) (*twine.Tixel, error) {
	var t *twine.Tixel
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		rows, err := queryTixels(conn, `SELECT cid, data FROM tixels WHERE cid = ? AND strand = ?`, tixel.Bytes(), strand.Bytes())
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return storage.TixelNotFound(strand, tixel)
		}
		t = rows[0]
		return nil
	})
	return t, err
}

func (s *Store) FetchStrand(ctx context.Context, strand cid.Cid) (*twine.Strand, error) {
	var st *twine.Strand
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var data []byte
		err := sqlitex.Execute(conn, `SELECT data FROM strands WHERE cid = ?`, &sqlitex.ExecOptions{
			Args: []any{strand.Bytes()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = blob(stmt, 0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if data == nil {
			return storage.StrandNotFound(strand)
		}
		st, err = storage.DecodeStrand(strand, data)
		return err
	})
	return st, err
}

// RangeStream reads one batch per query and yields it with the
// connection already returned to the pool.
func (s *Store) RangeStream(ctx context.Context, rng resolver.AbsoluteRange) iter.Seq2[*twine.Tixel, error] {
	return func(yield func(*twine.Tixel, error) bool) {
		if rng.Upper() > math.MaxInt64 {
			yield(nil, storage.IndexNotFound(rng.Strand, rng.Upper()))
			return
		}
		for batch := range rng.Batches(rangeBatch) {
			order := "ASC"
			if !batch.Ascending() {
				order = "DESC"
			}
			var rows []*twine.Tixel
			err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
				rows, err = queryTixels(conn,
					`SELECT cid, data FROM tixels WHERE strand = ? AND idx BETWEEN ? AND ? ORDER BY idx `+order,
					rng.Strand.Bytes(), int64(batch.Lower()), int64(batch.Upper()))
				return err
			})
			if err != nil {
				yield(nil, err)
				return
			}
			k := 0
			for want := range batch.Indices() {
				if k >= len(rows) || rows[k].Index() != want {
					yield(nil, storage.IndexNotFound(rng.Strand, want))
					return
				}
				if !yield(rows[k], nil) {
					return
				}
				k++
			}
		}
	}
}

func (s *Store) FetchStrands(ctx context.Context) iter.Seq2[*twine.Strand, error] {
	return func(yield func(*twine.Strand, error) bool) {
		var strands []*twine.Strand
		err := s.withConn(ctx, func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, `SELECT cid, data FROM strands ORDER BY cid`, &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					id, err := cid.Cast(blob(stmt, 0))
					if err != nil {
						return storage.Malformed("strand key", err)
					}
					st, err := storage.DecodeStrand(id, blob(stmt, 1))
					if err != nil {
						return err
					}
					strands = append(strands, st)
					return nil
				},
			})
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, st := range strands {
			if !yield(st, nil) {
				return
			}
		}
	}
}
