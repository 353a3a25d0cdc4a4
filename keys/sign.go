package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// NewEd25519Signer wraps an Ed25519 private key.
func NewEd25519Signer(priv ed25519.PrivateKey) (Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key must be %d bytes", ErrMissingPrivateKey, ed25519.PrivateKeySize)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519Signer{priv: priv, pub: PublicKey{Alg: Ed25519, Key: append([]byte(nil), pub...)}}, nil
}

// Ed25519FromSeed derives the signer for a 32-byte seed.
func Ed25519FromSeed(seed []byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed))
}

func (s *ed25519Signer) Public() PublicKey { return s.pub }

func (s *ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

type ecdsaSigner struct {
	priv *ecdsa.PrivateKey
	alg  Algorithm
	pub  PublicKey
}

// NewECDSASigner wraps a P-256 (es256) or P-384 (es384) key.
func NewECDSASigner(priv *ecdsa.PrivateKey) (Signer, error) {
	if priv == nil {
		return nil, ErrMissingPrivateKey
	}
	var alg Algorithm
	switch priv.Curve.Params().Name {
	case "P-256":
		alg = ES256
	case "P-384":
		alg = ES384
	default:
		return nil, fmt.Errorf("%w: ecdsa curve %s", ErrUnsupportedAlg, priv.Curve.Params().Name)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &ecdsaSigner{priv: priv, alg: alg, pub: PublicKey{Alg: alg, Key: der}}, nil
}

func (s *ecdsaSigner) Public() PublicKey { return s.pub }

func (s *ecdsaSigner) Sign(message []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, s.priv, ecdsaDigest(s.alg, message))
}

type rsaSigner struct {
	priv *rsa.PrivateKey
	pub  PublicKey
}

// NewRSASigner wraps an RSA key for rs256 signatures.
func NewRSASigner(priv *rsa.PrivateKey) (Signer, error) {
	if priv == nil {
		return nil, ErrMissingPrivateKey
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &rsaSigner{priv: priv, pub: PublicKey{Alg: RS256, Key: der}}, nil
}

func (s *rsaSigner) Public() PublicKey { return s.pub }

func (s *rsaSigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(nil, s.priv, crypto.SHA256, digest[:])
}

type dilithium3Signer struct {
	priv *mode3.PrivateKey
	pub  PublicKey
}

// NewDilithium3Signer wraps a Dilithium3 private key.
func NewDilithium3Signer(priv *mode3.PrivateKey) (Signer, error) {
	if priv == nil {
		return nil, ErrMissingPrivateKey
	}
	pk, ok := priv.Public().(*mode3.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: dilithium3 public key", ErrInvalidPublicKey)
	}
	packed, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &dilithium3Signer{priv: priv, pub: PublicKey{Alg: Dilithium3, Key: packed}}, nil
}

func (s *dilithium3Signer) Public() PublicKey { return s.pub }

func (s *dilithium3Signer) Sign(message []byte) ([]byte, error) {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.priv, prehash(message), sig)
	return sig, nil
}
