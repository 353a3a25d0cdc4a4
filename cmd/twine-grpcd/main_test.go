package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"xdao.co/twine/storage/cache"
	"xdao.co/twine/storage/grpcstore"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/storage/testkit"
)

func TestServeRoundTrip(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- serve(ctx, lis, memory.New(), zap.NewNop()) }()

	client, err := grpcstore.Dial(lis.Addr().String(), grpcstore.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	c := testkit.NewChain(t, 1, 4, 3)
	if _, err := client.SaveMany(ctx, c.Twines()); err != nil {
		t.Fatalf("SaveMany: %v", err)
	}
	latest, err := client.FetchLatest(ctx, c.Strand.CID())
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if latest.Index() != 2 {
		t.Fatalf("latest = %d", latest.Index())
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestOpenWrapsCache(t *testing.T) {
	o := options{storeURI: "memory:", cacheSize: 16}
	st, closeFn, err := o.open(context.Background(), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*cache.Store); !ok {
		t.Fatalf("open returned %T, want *cache.Store", st)
	}

	o.cacheSize = 0
	st, _, err = o.open(context.Background(), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := st.(*memory.Store); !ok {
		t.Fatalf("open returned %T, want *memory.Store", st)
	}
}

func TestListBackends(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"--list-backends"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	for _, scheme := range []string{"bolt", "localfs", "memory", "sqlite"} {
		if !strings.Contains(out.String(), scheme+"\t") {
			t.Fatalf("missing %s in %q", scheme, out.String())
		}
	}
	if strings.Contains(out.String(), "grpc\t") {
		t.Fatalf("daemon lists the grpc client backend")
	}
}

func TestBadStore(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"--store", "nope:/x", "--log-level", "none"}, &out, &errOut); code != 2 {
		t.Fatalf("exit %d, want 2", code)
	}
}
