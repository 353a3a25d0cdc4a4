package storeconfig_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/twine/storage"
	_ "xdao.co/twine/storage/memory"
	"xdao.co/twine/storage/storeconfig"
	"xdao.co/twine/storage/storeregistry"
	"xdao.co/twine/storage/testkit"
)

func TestAddRemoveDefault(t *testing.T) {
	var c storeconfig.Config
	if err := c.Add(storeconfig.Entry{Name: "a", URI: "memory:"}); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := c.Add(storeconfig.Entry{Name: "b", URI: "memory:"}); err != nil {
		t.Fatalf("Add b: %v", err)
	}
	if d, _ := c.Default(); d.Name != "a" {
		t.Fatalf("default = %q, want a", d.Name)
	}
	if err := c.Add(storeconfig.Entry{Name: "c", URI: "memory:", Default: true}); err != nil {
		t.Fatalf("Add c: %v", err)
	}
	if d, _ := c.Default(); d.Name != "c" {
		t.Fatalf("default = %q, want c", d.Name)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if e, ok := c.Lookup("b"); !ok || e.URI != "memory:" {
		t.Fatalf("Lookup b = %+v, %v", e, ok)
	}
	if _, ok := c.Lookup("zz"); ok {
		t.Fatalf("Lookup found a missing entry")
	}
	if err := c.Remove("c"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if d, _ := c.Default(); d.Name != "a" {
		t.Fatalf("default after remove = %q, want a", d.Name)
	}
	if err := c.SetDefault("b"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	ordered, err := c.Ordered("")
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}
	if ordered[0].Name != "b" || ordered[1].Name != "a" {
		t.Fatalf("ordered = %+v", ordered)
	}
}

func TestAddErrors(t *testing.T) {
	var c storeconfig.Config
	if err := c.Add(storeconfig.Entry{Name: "a", URI: "memory:"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	cases := []struct {
		name string
		e    storeconfig.Entry
	}{
		{"duplicate", storeconfig.Entry{Name: "a", URI: "memory:"}},
		{"no name", storeconfig.Entry{URI: "memory:"}},
		{"unknown scheme", storeconfig.Entry{Name: "x", URI: "nope:/tmp"}},
		{"no scheme", storeconfig.Entry{Name: "y", URI: "/tmp/db"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.Add(tc.e); err == nil {
				t.Fatalf("Add(%+v) succeeded", tc.e)
			}
		})
	}
	if err := c.Remove("missing"); err == nil {
		t.Fatalf("Remove(missing) succeeded")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	empty, err := storeconfig.Load(path)
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if len(empty.Resolvers) != 0 {
		t.Fatalf("missing file produced %d resolvers", len(empty.Resolvers))
	}

	c := &storeconfig.Config{WritePolicy: storeconfig.WriteAll}
	if err := c.Add(storeconfig.Entry{Name: "one", URI: "memory:one"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(storeconfig.Entry{Name: "two", URI: "memory:two"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := storeconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.WritePolicy != storeconfig.WriteAll || len(got.Resolvers) != 2 || !got.Resolvers[0].Default {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad yaml":    "resolvers: [",
		"duplicate":   "resolvers:\n  - {name: a, uri: 'memory:'}\n  - {name: a, uri: 'memory:'}\n",
		"two default": "resolvers:\n  - {name: a, uri: 'memory:', default: true}\n  - {name: b, uri: 'memory:', default: true}\n",
		"policy":      "write_policy: some\nresolvers:\n  - {name: a, uri: 'memory:'}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			if err := writeFile(path, body); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := storeconfig.Load(path); err == nil {
				t.Fatalf("Load succeeded")
			}
		})
	}
}

func TestDefaultPathEnv(t *testing.T) {
	t.Setenv(storeconfig.EnvVar, "/etc/twine.yaml")
	p, err := storeconfig.DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	if p != "/etc/twine.yaml" {
		t.Fatalf("DefaultPath = %q", p)
	}
}

func TestOpenPolicies(t *testing.T) {
	ctx := context.Background()
	chain := testkit.NewChain(t, 3, 4, 2)

	t.Run("first", func(t *testing.T) {
		c := &storeconfig.Config{}
		_ = c.Add(storeconfig.Entry{Name: "w", URI: "memory:first-w"})
		_ = c.Add(storeconfig.Entry{Name: "r", URI: "memory:first-r"})
		st, closeFn, err := c.Open(ctx, storeregistry.UsageCLI, "", storeregistry.Options{})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer closeFn()
		if _, ok := st.(*storage.Primary); !ok {
			t.Fatalf("Open returned %T, want *storage.Primary", st)
		}
		if _, err := st.SaveMany(ctx, chain.Twines()); err != nil {
			t.Fatalf("SaveMany: %v", err)
		}
		r, _, _ := storeregistry.Open(ctx, "memory:first-r", storeregistry.UsageCLI, storeregistry.Options{})
		if ok, _ := r.HasStrand(ctx, chain.Strand.CID()); ok {
			t.Fatalf("write reached the second store")
		}
		if _, err := st.FetchLatest(ctx, chain.Strand.CID()); err != nil {
			t.Fatalf("FetchLatest: %v", err)
		}
	})

	t.Run("all", func(t *testing.T) {
		c := &storeconfig.Config{WritePolicy: storeconfig.WriteAll}
		_ = c.Add(storeconfig.Entry{Name: "a", URI: "memory:all-a"})
		_ = c.Add(storeconfig.Entry{Name: "b", URI: "memory:all-b"})
		st, closeFn, err := c.Open(ctx, storeregistry.UsageCLI, "b", storeregistry.Options{})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer closeFn()
		if _, err := st.SaveMany(ctx, chain.Twines()); err != nil {
			t.Fatalf("SaveMany: %v", err)
		}
		for _, uri := range []string{"memory:all-a", "memory:all-b"} {
			r, _, _ := storeregistry.Open(ctx, uri, storeregistry.UsageCLI, storeregistry.Options{})
			if ok, _ := r.HasIndex(ctx, chain.Strand.CID(), 1); !ok {
				t.Fatalf("%s missing index 1", uri)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		var c storeconfig.Config
		if _, _, err := c.Open(ctx, storeregistry.UsageCLI, "", storeregistry.Options{}); err == nil {
			t.Fatalf("Open of empty config succeeded")
		}
	})

	t.Run("unknown preferred", func(t *testing.T) {
		c := &storeconfig.Config{}
		_ = c.Add(storeconfig.Entry{Name: "a", URI: "memory:"})
		if _, _, err := c.Open(ctx, storeregistry.UsageCLI, "zzz", storeregistry.Options{}); err == nil {
			t.Fatalf("Open with unknown preferred succeeded")
		}
	})
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
