package grpcstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Scheme:      "grpc",
		Description: "gRPC store client (talks to twine-grpcd); ?timeout=, ?dial_timeout=, ?max_msg_bytes=",
		Usage:       storeregistry.UsageCLI,
		Example:     "grpc://localhost:7070",
		Open: func(_ context.Context, u *url.URL, _ storeregistry.Options) (storage.Store, func() error, error) {
			if u.Host == "" {
				return nil, nil, fmt.Errorf("grpcstore: missing host in %q", u.String())
			}
			q := u.Query()
			opts := DialOptions{Timeout: 5 * time.Second}
			if v := q.Get("dial_timeout"); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpcstore: dial_timeout: %w", err)
				}
				opts.Timeout = d
			}
			if v := q.Get("max_msg_bytes"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpcstore: max_msg_bytes: %w", err)
				}
				opts.MaxMsgBytes = n
			}
			client, err := Dial(u.Host, opts)
			if err != nil {
				return nil, nil, err
			}
			if v := q.Get("timeout"); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					_ = client.Close()
					return nil, nil, fmt.Errorf("grpcstore: timeout: %w", err)
				}
				client.Timeout = d
			}
			return client, client.Close, nil
		},
	})
}
