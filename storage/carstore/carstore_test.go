package carstore_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/carstore"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/storage/testkit"
	"xdao.co/twine/twine"
)

func source(t *testing.T, chains ...testkit.Chain) *memory.Store {
	t.Helper()
	st := memory.New()
	for _, c := range chains {
		if _, err := st.SaveMany(context.Background(), c.Twines()); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := testkit.NewChain(t, 1, 4, 6)
	b := testkit.NewChain(t, 2, 2, 3)

	var buf bytes.Buffer
	if err := carstore.Export(ctx, &buf, source(t, a, b), a.Strand.CID(), b.Strand.CID()); err != nil {
		t.Fatal(err)
	}

	roots, tws, err := carstore.Read(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	wantRoots := []cid.Cid{a.Strand.CID(), b.Strand.CID(), a.Tixels[5].CID(), b.Tixels[2].CID()}
	if len(roots) != len(wantRoots) {
		t.Fatalf("roots = %v", roots)
	}
	for i := range roots {
		if !roots[i].Equals(wantRoots[i]) {
			t.Fatalf("root %d = %s, want %s", i, roots[i], wantRoots[i])
		}
	}
	if len(tws) != 11 {
		t.Fatalf("got %d blocks, want 11", len(tws))
	}
	if !tws[0].CID().Equals(a.Strand.CID()) || !tws[7].CID().Equals(b.Strand.CID()) {
		t.Fatalf("strands are not ahead of their tixels")
	}

	dst := memory.New()
	results, err := carstore.Import(ctx, bytes.NewReader(buf.Bytes()), dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(storage.Failed(results)) != 0 || len(results) != 11 {
		t.Fatalf("results = %+v", results)
	}
	for _, c := range []testkit.Chain{a, b} {
		latest, err := dst.FetchLatest(ctx, c.Strand.CID())
		if err != nil {
			t.Fatal(err)
		}
		if !latest.CID().Equals(c.Tixels[len(c.Tixels)-1].CID()) {
			t.Fatalf("latest = %s", latest.CID())
		}
	}
}

func TestExportStrandWithoutTixels(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 3, 4, 0)

	var buf bytes.Buffer
	if err := carstore.Export(ctx, &buf, source(t, c), c.Strand.CID()); err != nil {
		t.Fatal(err)
	}
	roots, tws, err := carstore.Read(ctx, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 || len(tws) != 1 || !tws[0].CID().Equals(c.Strand.CID()) {
		t.Fatalf("roots = %v, blocks = %d", roots, len(tws))
	}
}

func TestExportErrors(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 1, 4, 2)
	var buf bytes.Buffer
	if err := carstore.Export(ctx, &buf, memory.New()); !twine.IsKind(err, twine.KindParse) {
		t.Fatalf("no strands: got %v, want Parse", err)
	}
	if err := carstore.Export(ctx, &buf, memory.New(), c.Strand.CID()); !twine.IsNotFound(err) {
		t.Fatalf("missing strand: got %v, want NotFound", err)
	}
}

func TestReadTruncated(t *testing.T) {
	ctx := context.Background()
	c := testkit.NewChain(t, 1, 4, 3)
	var buf bytes.Buffer
	if err := carstore.Export(ctx, &buf, source(t, c), c.Strand.CID()); err != nil {
		t.Fatal(err)
	}
	cut := buf.Bytes()[:buf.Len()-5]
	if _, _, err := carstore.Read(ctx, bytes.NewReader(cut)); !twine.IsKind(err, twine.KindMalformed) {
		t.Fatalf("truncated: got %v, want Malformed", err)
	}
	if _, _, err := carstore.Read(ctx, bytes.NewReader([]byte("not a car"))); !twine.IsKind(err, twine.KindMalformed) {
		t.Fatalf("garbage: got %v, want Malformed", err)
	}
}

func TestStoreConformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		t.Helper()
		st, err := carstore.Open(context.Background(), filepath.Join(t.TempDir(), "chains.car"), nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return st
	})
}

func TestStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chains.car")
	c := testkit.NewChain(t, 4, 3, 5)

	st, err := carstore.Open(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveMany(ctx, c.Twines()); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, c.Tixels[4].CID()); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	_, tws, err := carstore.Read(ctx, f)
	if err != nil {
		t.Fatal(err)
	}
	if len(tws) != 5 {
		t.Fatalf("file holds %d blocks, want 5", len(tws))
	}

	again, err := carstore.Open(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	latest, err := again.FetchLatest(ctx, c.Strand.CID())
	if err != nil {
		t.Fatal(err)
	}
	if latest.Index() != 3 {
		t.Fatalf("latest = %d, want 3", latest.Index())
	}
}
