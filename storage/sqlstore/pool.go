package sqlstore

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pool wraps sqlitex.Pool with the connection pragmas every connection
// needs before first use.
type pool struct {
	inner *sqlitex.Pool
	log   *zap.Logger
	path  string
}

func openPool(path string, size int, log *zap.Logger) (*pool, error) {
	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}
	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", path, err)
	}
	log.Debug("sqlite pool opened", zap.String("path", path), zap.Int("pool_size", size))
	return &pool{inner: inner, log: log, path: path}, nil
}

func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: take: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) { p.inner.Put(conn) }

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		p.log.Error("sqlite pool close error", zap.String("path", p.path), zap.Error(err))
		return fmt.Errorf("sqlstore: closing %s: %w", p.path, err)
	}
	p.log.Debug("sqlite pool closed", zap.String("path", p.path))
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}
	return nil
}
