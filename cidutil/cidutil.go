// Package cidutil computes and formats the content identifiers used for
// strands and tixels.
//
// Every block is identified by a CIDv1 with the dag-cbor multicodec and a
// multihash over the block's canonical CBOR bytes. The hash function is chosen
// per block and recorded both in the block header and in the CID prefix.
package cidutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	_ "github.com/multiformats/go-multihash/register/blake3"
	_ "github.com/multiformats/go-multihash/register/sha3"
)

// Codec is the multicodec of every twine block.
const Codec = cid.DagCBOR

// DefaultHash is the hash function used for new strands when none is given.
const DefaultHash = multihash.SHA3_512

var (
	ErrUnsupportedHash = errors.New("cidutil: unsupported hash algorithm")
	ErrInvalidCID      = errors.New("cidutil: invalid cid")
)

var hashNames = map[uint64]string{
	multihash.SHA2_256: "sha2-256",
	multihash.SHA2_512: "sha2-512",
	multihash.SHA3_256: "sha3-256",
	multihash.SHA3_512: "sha3-512",
	multihash.BLAKE3:   "blake3",
}

// Supported reports whether code names a hash function blocks may use.
func Supported(code uint64) bool {
	_, ok := hashNames[code]
	return ok
}

// HashName returns the multihash table name for a supported code.
func HashName(code uint64) string {
	if n, ok := hashNames[code]; ok {
		return n
	}
	return fmt.Sprintf("0x%x", code)
}

// ParseHash maps a hash name ("sha3-512", "sha2-256", ...) to its multihash code.
func ParseHash(name string) (uint64, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for code, n := range hashNames {
		if n == name {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedHash, name)
}

// Sum returns the dag-cbor CIDv1 of data hashed with code.
func Sum(code uint64, data []byte) (cid.Cid, error) {
	if !Supported(code) {
		return cid.Undef, fmt.Errorf("%w: %s", ErrUnsupportedHash, HashName(code))
	}
	mh, err := multihash.Sum(data, code, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(Codec, mh), nil
}

// HashCode returns the multihash code recorded in id.
func HashCode(id cid.Cid) (uint64, error) {
	if !id.Defined() {
		return 0, ErrInvalidCID
	}
	code := id.Prefix().MhType
	if !Supported(code) {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedHash, HashName(code))
	}
	return code, nil
}

// Format renders id in its canonical string form: base58-btc for version 1.
// Version 0 identifiers have no multibase prefix and keep their native form.
func Format(id cid.Cid) string {
	if !id.Defined() {
		return ""
	}
	if id.Version() == 0 {
		return id.String()
	}
	s, err := id.StringOfBase(multibase.Base58BTC)
	if err != nil {
		return id.String()
	}
	return s
}

// Parse decodes a CID string in any multibase.
func Parse(s string) (cid.Cid, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cid.Undef, ErrInvalidCID
	}
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return id, nil
}

// Less orders CIDs by their binary form.
func Less(a, b cid.Cid) bool {
	return a.KeyString() < b.KeyString()
}
