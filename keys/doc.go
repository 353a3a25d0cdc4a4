// Package keys provides the signing keys that strands declare and tixels are
// signed with.
//
// A strand carries a PublicKey: an algorithm name plus the encoded public
// key. Every block on the chain is signed by the matching Signer, and
// Verify checks a signature against a PublicKey without any other state.
//
// Supported algorithms:
//   - ed25519
//   - es256, es384 (ECDSA over P-256 / P-384, ASN.1 signatures)
//   - rs256 (RSA PKCS #1 v1.5 with SHA-256)
//   - dilithium3 (post-quantum, over a SHA3-256 prehash)
//
// The filesystem KeyStore is a local convenience for the command line tool and
// only manages Ed25519 seeds.
package keys
