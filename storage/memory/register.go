package memory

import (
	"context"
	"net/url"
	"sync"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
)

var (
	namedMu sync.Mutex
	named   = map[string]*Store{}
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Scheme:      "memory",
		Description: "In-process memory store; memory:<name> is shared within the process",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		Example:     "memory:",
		Open: func(_ context.Context, u *url.URL, _ storeregistry.Options) (storage.Store, func() error, error) {
			name := u.Opaque
			if name == "" {
				return New(), nil, nil
			}
			namedMu.Lock()
			defer namedMu.Unlock()
			st, ok := named[name]
			if !ok {
				st = New()
				named[name] = st
			}
			return st, nil, nil
		},
	})
}
