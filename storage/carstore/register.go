package carstore

import (
	"context"
	"net/url"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Scheme:      "car",
		Description: "CARv1 file, loaded into memory and rewritten on every change",
		Usage:       storeregistry.UsageCLI,
		Example:     "car:./chains.car",
		Open: func(ctx context.Context, u *url.URL, opts storeregistry.Options) (storage.Store, func() error, error) {
			path, err := storeregistry.PathOf(u)
			if err != nil {
				return nil, nil, err
			}
			st, err := Open(ctx, path, opts.Logger)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
	})
}
