package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// FormatPublicKey renders a key as "<alg>:<base64>" for display and flags.
func FormatPublicKey(pub PublicKey) string {
	return string(pub.Alg) + ":" + base64.StdEncoding.EncodeToString(pub.Key)
}

// ParsePublicKey is the inverse of FormatPublicKey.
func ParsePublicKey(s string) (PublicKey, error) {
	algName, b64, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("%w: expected <alg>:<base64>", ErrInvalidPublicKey)
	}
	alg, err := ParseAlgorithm(algName)
	if err != nil {
		return PublicKey{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return PublicKey{Alg: alg, Key: raw}, nil
}

// DeriveChainSeed deterministically derives the Ed25519 seed of a named
// chain key from a root seed, so one root can sign several strands.
func DeriveChainSeed(rootSeed []byte, chain string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckName(chain); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("xdao-twine-keystore-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("chain:"))
	_, _ = h.Write([]byte(chain))
	sum := h.Sum(nil)
	out := make([]byte, ed25519.SeedSize)
	copy(out, sum[:ed25519.SeedSize])
	return out, nil
}
