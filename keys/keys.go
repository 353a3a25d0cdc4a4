package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"xdao.co/twine/codec"
)

// Algorithm names a signature scheme.
type Algorithm string

const (
	Ed25519    Algorithm = "ed25519"
	ES256      Algorithm = "es256"
	ES384      Algorithm = "es384"
	RS256      Algorithm = "rs256"
	Dilithium3 Algorithm = "dilithium3"
)

var (
	ErrBadSignature      = errors.New("keys: bad signature")
	ErrUnsupportedAlg    = errors.New("keys: unsupported algorithm")
	ErrInvalidPublicKey  = errors.New("keys: invalid public key")
	ErrMissingPrivateKey = errors.New("keys: missing private key")
)

// ParseAlgorithm accepts an algorithm name in any case.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case Ed25519, ES256, ES384, RS256, Dilithium3:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlg, s)
}

// PublicKey is the key a strand declares. Key holds the raw Ed25519 key, the
// PKIX DER encoding for ECDSA and RSA, or the packed Dilithium3 key.
type PublicKey struct {
	Alg Algorithm   `json:"a"`
	Key codec.Bytes `json:"k"`
}

// Equal reports whether both keys are identical.
func (p PublicKey) Equal(o PublicKey) bool {
	return p.Alg == o.Alg && string(p.Key) == string(o.Key)
}

// Signer produces signatures that Verify accepts for Public().
type Signer interface {
	Public() PublicKey
	Sign(message []byte) ([]byte, error)
}

// Verify checks sig over message. Any failure, including an undecodable key,
// wraps ErrBadSignature unless the algorithm itself is unknown.
func Verify(pub PublicKey, message, sig []byte) error {
	switch pub.Alg {
	case Ed25519:
		if len(pub.Key) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: %w: ed25519 key must be %d bytes", ErrBadSignature, ErrInvalidPublicKey, ed25519.PublicKeySize)
		}
		if !ed25519.Verify(ed25519.PublicKey(pub.Key), message, sig) {
			return fmt.Errorf("%w: ed25519 verification failed", ErrBadSignature)
		}
		return nil
	case ES256, ES384:
		key, err := x509.ParsePKIXPublicKey(pub.Key)
		if err != nil {
			return fmt.Errorf("%w: %w: %v", ErrBadSignature, ErrInvalidPublicKey, err)
		}
		ek, ok := key.(*ecdsa.PublicKey)
		if !ok || ek.Curve != curveFor(pub.Alg) {
			return fmt.Errorf("%w: %w: not an %s key", ErrBadSignature, ErrInvalidPublicKey, pub.Alg)
		}
		if !ecdsa.VerifyASN1(ek, ecdsaDigest(pub.Alg, message), sig) {
			return fmt.Errorf("%w: %s verification failed", ErrBadSignature, pub.Alg)
		}
		return nil
	case RS256:
		key, err := x509.ParsePKIXPublicKey(pub.Key)
		if err != nil {
			return fmt.Errorf("%w: %w: %v", ErrBadSignature, ErrInvalidPublicKey, err)
		}
		rk, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %w: not an rsa key", ErrBadSignature, ErrInvalidPublicKey)
		}
		digest := sha256.Sum256(message)
		if err := rsa.VerifyPKCS1v15(rk, crypto.SHA256, digest[:], sig); err != nil {
			return fmt.Errorf("%w: rs256: %v", ErrBadSignature, err)
		}
		return nil
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub.Key); err != nil {
			return fmt.Errorf("%w: %w: %v", ErrBadSignature, ErrInvalidPublicKey, err)
		}
		if len(sig) != mode3.SignatureSize {
			return fmt.Errorf("%w: dilithium3 signature must be %d bytes", ErrBadSignature, mode3.SignatureSize)
		}
		if !mode3.Verify(&pk, prehash(message), sig) {
			return fmt.Errorf("%w: dilithium3 verification failed", ErrBadSignature)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedAlg, pub.Alg)
}

// Generate creates a fresh key pair for alg. A nil rand uses crypto/rand.
func Generate(alg Algorithm, random io.Reader) (Signer, error) {
	if random == nil {
		random = rand.Reader
	}
	switch alg {
	case Ed25519:
		_, priv, err := ed25519.GenerateKey(random)
		if err != nil {
			return nil, err
		}
		return NewEd25519Signer(priv)
	case ES256, ES384:
		priv, err := ecdsa.GenerateKey(curveFor(alg), random)
		if err != nil {
			return nil, err
		}
		return NewECDSASigner(priv)
	case RS256:
		priv, err := rsa.GenerateKey(random, 2048)
		if err != nil {
			return nil, err
		}
		return NewRSASigner(priv)
	case Dilithium3:
		_, sk, err := mode3.GenerateKey(random)
		if err != nil {
			return nil, err
		}
		return NewDilithium3Signer(sk)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
}

func curveFor(alg Algorithm) elliptic.Curve {
	if alg == ES384 {
		return elliptic.P384()
	}
	return elliptic.P256()
}

func ecdsaDigest(alg Algorithm, message []byte) []byte {
	if alg == ES384 {
		s := sha512.Sum384(message)
		return s[:]
	}
	s := sha256.Sum256(message)
	return s[:]
}

func prehash(message []byte) []byte {
	s := sha3.Sum256(message)
	return s[:]
}
