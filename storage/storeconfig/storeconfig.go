// Package storeconfig persists named resolver entries in a YAML file and
// opens them through storeregistry.
//
// Callers still need to link the backends they want via blank imports.
//
// WritePolicy values:
//   - "first" (default): write only to the first store; reads fall back in order
//   - "all": write to every store (see storage.Replicating)
//
// Example:
//
//	write_policy: all
//	resolvers:
//	  - name: local
//	    uri: bolt:/home/me/.twine/chains.db
//	    default: true
//	  - name: archive
//	    uri: grpc://archive.example.net:7070
package storeconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeregistry"
)

// EnvVar overrides the config file location.
const EnvVar = "TWINE_CONFIG"

const (
	WriteFirst = "first"
	WriteAll   = "all"
)

// Entry is one named resolver.
type Entry struct {
	Name    string `yaml:"name"`
	URI     string `yaml:"uri"`
	Default bool   `yaml:"default,omitempty"`
}

// Config is the file contents.
type Config struct {
	WritePolicy string  `yaml:"write_policy,omitempty"`
	Resolvers   []Entry `yaml:"resolvers"`
}

// DefaultPath is $TWINE_CONFIG, or ~/.twine/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvVar); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("storeconfig: %w", err)
	}
	return filepath.Join(home, ".twine", "config.yaml"), nil
}

// Load reads path. A missing file is an empty config.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("storeconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("storeconfig: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("storeconfig: %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes c to path, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Resolvers))
	defaults := 0
	for _, e := range c.Resolvers {
		if e.Name == "" {
			return errors.New("resolver name is required")
		}
		if e.URI == "" {
			return fmt.Errorf("resolver %q: uri is required", e.Name)
		}
		if _, ok := seen[e.Name]; ok {
			return fmt.Errorf("duplicate resolver %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if e.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("more than one default resolver")
	}
	switch c.WritePolicy {
	case "", WriteFirst, WriteAll:
		return nil
	default:
		return fmt.Errorf("invalid write_policy %q", c.WritePolicy)
	}
}

func (c *Config) find(name string) int {
	return slices.IndexFunc(c.Resolvers, func(e Entry) bool { return e.Name == name })
}

// Lookup returns the entry called name.
func (c *Config) Lookup(name string) (Entry, bool) {
	i := c.find(name)
	if i < 0 {
		return Entry{}, false
	}
	return c.Resolvers[i], true
}

// Add appends e after checking that its scheme is registered. The first
// entry, or one added with Default set, becomes the default.
func (c *Config) Add(e Entry) error {
	if e.Name == "" {
		return errors.New("storeconfig: resolver name is required")
	}
	if c.find(e.Name) >= 0 {
		return fmt.Errorf("storeconfig: resolver %q already exists", e.Name)
	}
	if _, _, err := storeregistry.Parse(e.URI); err != nil {
		return err
	}
	if len(c.Resolvers) == 0 {
		e.Default = true
	}
	if e.Default {
		c.clearDefault()
	}
	c.Resolvers = append(c.Resolvers, e)
	return nil
}

// Remove drops the named entry. Removing the default promotes the first
// remaining entry.
func (c *Config) Remove(name string) error {
	i := c.find(name)
	if i < 0 {
		return fmt.Errorf("storeconfig: no resolver named %q", name)
	}
	wasDefault := c.Resolvers[i].Default
	c.Resolvers = slices.Delete(c.Resolvers, i, i+1)
	if wasDefault && len(c.Resolvers) > 0 {
		c.Resolvers[0].Default = true
	}
	return nil
}

// SetDefault marks the named entry as default.
func (c *Config) SetDefault(name string) error {
	i := c.find(name)
	if i < 0 {
		return fmt.Errorf("storeconfig: no resolver named %q", name)
	}
	c.clearDefault()
	c.Resolvers[i].Default = true
	return nil
}

func (c *Config) clearDefault() {
	for i := range c.Resolvers {
		c.Resolvers[i].Default = false
	}
}

// Default returns the default entry.
func (c *Config) Default() (Entry, bool) {
	for _, e := range c.Resolvers {
		if e.Default {
			return e, true
		}
	}
	if len(c.Resolvers) > 0 {
		return c.Resolvers[0], true
	}
	return Entry{}, false
}

// Ordered returns the entries with preferred (or the default, when
// preferred is empty) moved to the front.
func (c *Config) Ordered(preferred string) ([]Entry, error) {
	ordered := slices.Clone(c.Resolvers)
	if preferred == "" {
		d, ok := c.Default()
		if !ok {
			return nil, nil
		}
		preferred = d.Name
	}
	idx := slices.IndexFunc(ordered, func(e Entry) bool { return e.Name == preferred })
	if idx < 0 {
		return nil, fmt.Errorf("storeconfig: no resolver named %q", preferred)
	}
	if idx != 0 {
		e := ordered[idx]
		copy(ordered[1:idx+1], ordered[0:idx])
		ordered[0] = e
	}
	return ordered, nil
}

// Open opens every entry, preferred first, and combines them per
// WritePolicy. A single entry is returned as is.
func (c *Config) Open(ctx context.Context, usage storeregistry.Usage, preferred string, opts storeregistry.Options) (storage.Store, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, fmt.Errorf("storeconfig: %w", err)
	}
	ordered, err := c.Ordered(preferred)
	if err != nil {
		return nil, nil, err
	}
	if len(ordered) == 0 {
		return nil, nil, errors.New("storeconfig: no resolvers configured")
	}

	named := make([]storage.Named, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	for _, e := range ordered {
		st, closeFn, err := storeregistry.Open(ctx, e.URI, usage, opts)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("storeconfig: resolver %q: %w", e.Name, err)
		}
		named = append(named, storage.Named{Name: e.Name, Store: st})
		closers = append(closers, closeFn)
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}
	if c.WritePolicy == WriteAll {
		return &storage.Replicating{Backends: named, Logger: opts.Logger}, closeAll, nil
	}
	return storage.NewPrimary(named, opts.Logger), closeAll, nil
}
