// Package storeregistry opens a storage.Store from a URI such as
// "bolt:/var/lib/twine.db" or "grpc://host:7070".
//
// Backends register themselves in init():
//
//	storeregistry.MustRegister(storeregistry.Backend{ ... })
//
// The binary must import the backend package for registration to occur.
package storeregistry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"xdao.co/twine/storage"
)

// Usage is a bit set of the binaries a backend is offered in.
type Usage uint8

const (
	// UsageCLI offers the backend to the twine CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon offers the backend to twine-grpcd as the store it serves.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

// ErrHTTPScheme rejects http and https store URIs. Remote stores are
// served over gRPC by twine-grpcd.
var ErrHTTPScheme = errors.New("remote stores speak gRPC, not HTTP")

// Options are passed to every backend opener.
type Options struct {
	Logger *zap.Logger
}

// Backend is a build-time plugin that opens a Store for one URI scheme.
type Backend struct {
	Scheme      string
	Description string
	Usage       Usage
	// Example is a sample URI shown in help output.
	Example string

	// Open constructs the Store. It returns an optional close function.
	Open func(ctx context.Context, u *url.URL, opts Options) (storage.Store, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Scheme == "" {
		return fmt.Errorf("storeregistry: backend scheme is required")
	}
	if b.Open == nil {
		return fmt.Errorf("storeregistry: backend %q missing Open", b.Scheme)
	}
	if b.Usage == 0 {
		return fmt.Errorf("storeregistry: backend %q missing Usage", b.Scheme)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Scheme]; exists {
		return fmt.Errorf("storeregistry: backend %q already registered", b.Scheme)
	}
	backends[b.Scheme] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by scheme.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scheme < out[j].Scheme })
	return out
}

// Schemes returns backend schemes matching usage, sorted.
func Schemes(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Scheme)
	}
	return n
}

// Parse splits a store URI and checks that its scheme is registered.
func Parse(uri string) (*url.URL, Backend, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, Backend{}, fmt.Errorf("storeregistry: %q: %w", uri, err)
	}
	if u.Scheme == "" {
		return nil, Backend{}, fmt.Errorf("storeregistry: %q has no scheme", uri)
	}
	mu.RLock()
	b, ok := backends[strings.ToLower(u.Scheme)]
	mu.RUnlock()
	if !ok {
		if scheme := strings.ToLower(u.Scheme); scheme == "http" || scheme == "https" {
			return nil, Backend{}, fmt.Errorf("storeregistry: %q: %w; use grpc://%s", uri, ErrHTTPScheme, u.Host)
		}
		return nil, Backend{}, fmt.Errorf("storeregistry: unknown scheme %q", u.Scheme)
	}
	return u, b, nil
}

// Open opens the store named by uri if its backend matches usage.
func Open(ctx context.Context, uri string, usage Usage, opts Options) (storage.Store, func() error, error) {
	u, b, err := Parse(uri)
	if err != nil {
		return nil, nil, err
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("storeregistry: backend %q not supported in this binary", b.Scheme)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	st, closeFn, err := b.Open(ctx, u, opts)
	if err != nil {
		return nil, nil, err
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return st, closeFn, nil
}

// PathOf returns the filesystem path of a "scheme:path" or
// "scheme:///abs/path" URI.
func PathOf(u *url.URL) (string, error) {
	p := u.Opaque
	if p == "" {
		p = u.Host + u.Path
	}
	if p == "" {
		return "", fmt.Errorf("storeregistry: %s URI needs a path", u.Scheme)
	}
	return p, nil
}
