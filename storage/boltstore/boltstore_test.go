package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/boltstore"
	"xdao.co/twine/storage/testkit"
)

func open(t *testing.T, path string) *boltstore.Store {
	t.Helper()
	st, err := boltstore.Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBoltConformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		return open(t, filepath.Join(t.TempDir(), "twine.bolt"))
	})
}

func TestBoltReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "twine.bolt")
	c := testkit.NewChain(t, 1, 4, 5)

	st, err := boltstore.Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := st.SaveMany(ctx, c.Twines()); err != nil {
		t.Fatalf("SaveMany failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st = open(t, path)
	latest, err := st.FetchLatest(ctx, c.Strand.CID())
	if err != nil {
		t.Fatalf("FetchLatest after reopen: %v", err)
	}
	if !latest.CID().Equals(c.Tixels[4].CID()) {
		t.Fatalf("latest after reopen = %d", latest.Index())
	}
}
