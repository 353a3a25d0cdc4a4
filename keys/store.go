package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ipfs/go-cid"
	"gopkg.in/yaml.v3"
)

// ErrNoKey is returned when a named key is not in the store.
var ErrNoKey = errors.New("keys: no such key")

// ErrForeignStrand is returned when a strand is bound to a key other than
// the one asked for.
var ErrForeignStrand = errors.New("keys: strand belongs to another key")

const keyExt = ".yaml"

// KeyStore keeps Ed25519 seeds as YAML files, readable only by the owner:
//
//	<dir>/<name>/root.yaml
//	<dir>/<name>/chains/<chain>.yaml
//
// Each file also records the strands its key created, so a chain key can be
// checked against a strand before it signs for it.
type KeyStore struct {
	dir string
}

// keyFile is the on-disk form of one key.
type keyFile struct {
	Alg     Algorithm `yaml:"alg"`
	Seed    string    `yaml:"seed"`
	Strands []string  `yaml:"strands,omitempty"`
}

// KeyEntry lists one root key, the chain keys derived from it and the
// strands each of them created. Bindings of the root key are under "".
type KeyEntry struct {
	Name    string
	Chains  []string
	Strands map[string][]cid.Cid
}

// DefaultDirectory is ~/.twine/keys.
func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".twine", "keys"), nil
}

// OpenKeyStore returns a store rooted at dir, or at DefaultDirectory when
// dir is empty. Nothing is created until a key is written.
func OpenKeyStore(dir string) (*KeyStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDirectory(); err != nil {
			return nil, err
		}
	}
	return &KeyStore{dir: dir}, nil
}

// Dir is the directory the store lives in.
func (ks *KeyStore) Dir() string { return ks.dir }

// path returns the file of the root key of name, or of its chain key.
func (ks *KeyStore) path(name, chain string) (string, error) {
	if err := CheckName(name); err != nil {
		return "", err
	}
	if chain == "" {
		return filepath.Join(ks.dir, name, "root"+keyExt), nil
	}
	if err := CheckName(chain); err != nil {
		return "", fmt.Errorf("chain: %w", err)
	}
	return filepath.Join(ks.dir, name, "chains", chain+keyExt), nil
}

// CheckName accepts letters, digits, '-' and '_'. Names are path elements,
// so anything else is refused.
func CheckName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("invalid character %q in name", r)
		}
	}
	return nil
}

// ParseSeedHex decodes a hex seed, with or without a 0x prefix.
func ParseSeedHex(s string) ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return seed, nil
}

func load(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, path)
	}
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if kf.Alg != Ed25519 {
		return nil, fmt.Errorf("%s: unsupported algorithm %q", path, kf.Alg)
	}
	return &kf, nil
}

func (kf *keyFile) signer() (Signer, error) {
	seed, err := ParseSeedHex(kf.Seed)
	if err != nil {
		return nil, err
	}
	return Ed25519FromSeed(seed)
}

// store writes kf to path. With create set an existing file is an error
// unless overwrite is also set; without it the file is replaced through a
// rename so a crash never leaves half a key.
func (kf *keyFile) store(path string, create, overwrite bool) error {
	data, err := yaml.Marshal(kf)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if create && !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, fs.ErrExist)
		}
	}
	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (ks *KeyStore) create(name, chain string, seed []byte, overwrite bool) (PublicKey, error) {
	path, err := ks.path(name, chain)
	if err != nil {
		return PublicKey{}, err
	}
	signer, err := Ed25519FromSeed(seed)
	if err != nil {
		return PublicKey{}, err
	}
	kf := &keyFile{Alg: Ed25519, Seed: hex.EncodeToString(seed)}
	if err := kf.store(path, true, overwrite); err != nil {
		return PublicKey{}, err
	}
	return signer.Public(), nil
}

// CreateRoot stores seed as the root key of name and returns its public key.
func (ks *KeyStore) CreateRoot(name string, seed []byte, overwrite bool) (PublicKey, error) {
	return ks.create(name, "", seed, overwrite)
}

// DeriveChain derives the chain key of name from its root and stores it.
// Overwriting keeps the key, since derivation is deterministic, but drops
// its strand bindings.
func (ks *KeyStore) DeriveChain(name, chain string, overwrite bool) (PublicKey, error) {
	if chain == "" {
		return PublicKey{}, errors.New("chain: name cannot be empty")
	}
	rootPath, err := ks.path(name, "")
	if err != nil {
		return PublicKey{}, err
	}
	root, err := load(rootPath)
	if err != nil {
		return PublicKey{}, err
	}
	rootSeed, err := ParseSeedHex(root.Seed)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%s: %w", rootPath, err)
	}
	seed, err := DeriveChainSeed(rootSeed, chain)
	if err != nil {
		return PublicKey{}, err
	}
	return ks.create(name, chain, seed, overwrite)
}

// Signer loads the root key of name, or its chain key when chain is set.
func (ks *KeyStore) Signer(name, chain string) (Signer, error) {
	path, err := ks.path(name, chain)
	if err != nil {
		return nil, err
	}
	kf, err := load(path)
	if err != nil {
		return nil, err
	}
	return kf.signer()
}

// Bind records that the key of name and chain created strand, whose
// declared key is pub. pub must be that key's public key, and a strand
// bound to another key of name is refused with ErrForeignStrand.
func (ks *KeyStore) Bind(name, chain string, strand cid.Cid, pub PublicKey) error {
	if !strand.Defined() {
		return errors.New("keys: undefined strand")
	}
	owner, err := ks.Owner(name, strand)
	switch {
	case err == nil && owner == chain:
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s is bound to %s", ErrForeignStrand, strand, label(name, owner))
	case !errors.Is(err, ErrNoKey):
		return err
	}

	path, err := ks.path(name, chain)
	if err != nil {
		return err
	}
	kf, err := load(path)
	if err != nil {
		return err
	}
	signer, err := kf.signer()
	if err != nil {
		return err
	}
	if !signer.Public().Equal(pub) {
		return fmt.Errorf("keys: strand %s declares %s, not the key of %s", strand, FormatPublicKey(pub), label(name, chain))
	}
	kf.Strands = append(kf.Strands, strand.String())
	return kf.store(path, false, false)
}

// Owner returns the chain name of the key of name bound to strand, ""
// for the root key. An unbound strand is ErrNoKey.
func (ks *KeyStore) Owner(name string, strand cid.Cid) (string, error) {
	entry, err := ks.entry(name)
	if err != nil {
		return "", err
	}
	for chain, strands := range entry.Strands {
		if slices.ContainsFunc(strands, strand.Equals) {
			return chain, nil
		}
	}
	return "", fmt.Errorf("%w: %s is not bound to %s", ErrNoKey, strand, name)
}

// CheckStrand fails with ErrForeignStrand when strand is bound to a key of
// name other than chain. Strands with no binding pass.
func (ks *KeyStore) CheckStrand(name, chain string, strand cid.Cid) error {
	owner, err := ks.Owner(name, strand)
	if errors.Is(err, ErrNoKey) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != chain {
		return fmt.Errorf("%w: %s was created with %s", ErrForeignStrand, strand, label(name, owner))
	}
	return nil
}

func label(name, chain string) string {
	if chain == "" {
		return name
	}
	return name + "/" + chain
}

func (ks *KeyStore) entry(name string) (KeyEntry, error) {
	rootPath, err := ks.path(name, "")
	if err != nil {
		return KeyEntry{}, err
	}
	e := KeyEntry{Name: name, Strands: map[string][]cid.Cid{}}
	collect := func(chain, path string) error {
		kf, err := load(path)
		if err != nil {
			return err
		}
		for _, s := range kf.Strands {
			id, err := cid.Decode(s)
			if err != nil {
				return fmt.Errorf("%s: strand %q: %w", path, s, err)
			}
			e.Strands[chain] = append(e.Strands[chain], id)
		}
		return nil
	}
	if err := collect("", rootPath); err != nil {
		return KeyEntry{}, err
	}

	files, err := os.ReadDir(filepath.Join(ks.dir, name, "chains"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return KeyEntry{}, err
	}
	for _, f := range files {
		chain, ok := strings.CutSuffix(f.Name(), keyExt)
		if f.IsDir() || !ok || CheckName(chain) != nil {
			continue
		}
		if err := collect(chain, filepath.Join(ks.dir, name, "chains", f.Name())); err != nil {
			return KeyEntry{}, err
		}
		e.Chains = append(e.Chains, chain)
	}
	slices.Sort(e.Chains)
	return e, nil
}

// List returns every root key with its chain keys and bindings, sorted by
// name. Directories without a root key are skipped.
func (ks *KeyStore) List() ([]KeyEntry, error) {
	dirs, err := os.ReadDir(ks.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []KeyEntry
	for _, d := range dirs {
		if !d.IsDir() || CheckName(d.Name()) != nil {
			continue
		}
		e, err := ks.entry(d.Name())
		if errors.Is(err, ErrNoKey) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b KeyEntry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
