package boltstore

import (
	"context"
	"net/url"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Scheme:      "bolt",
		Description: "Embedded bolt database file",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		Example:     "bolt:/var/lib/twine/twine.bolt",
		Open: func(_ context.Context, u *url.URL, opts storeregistry.Options) (storage.Store, func() error, error) {
			path, err := storeregistry.PathOf(u)
			if err != nil {
				return nil, nil, err
			}
			st, err := Open(path, opts.Logger)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
	})
}
