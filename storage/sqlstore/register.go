package sqlstore

import (
	"context"
	"net/url"
	"strconv"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Scheme:      "sqlite",
		Description: "SQLite database file; ?pool=N sets the connection pool size",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		Example:     "sqlite:/var/lib/twine/twine.db",
		Open: func(ctx context.Context, u *url.URL, opts storeregistry.Options) (storage.Store, func() error, error) {
			path, err := storeregistry.PathOf(u)
			if err != nil {
				return nil, nil, err
			}
			cfg := Config{Path: path, Logger: opts.Logger}
			if p := u.Query().Get("pool"); p != "" {
				if cfg.PoolSize, err = strconv.Atoi(p); err != nil {
					return nil, nil, err
				}
			}
			st, err := Open(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
	})
}
