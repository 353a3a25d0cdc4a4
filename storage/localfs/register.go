package localfs

import (
	"context"
	"net/url"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Scheme:      "localfs",
		Description: "Local filesystem store (directory)",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		Example:     "localfs:/var/lib/twine",
		Open: func(_ context.Context, u *url.URL, _ storeregistry.Options) (storage.Store, func() error, error) {
			dir, err := storeregistry.PathOf(u)
			if err != nil {
				return nil, nil, err
			}
			st, err := New(dir)
			return st, nil, err
		},
	})
}
