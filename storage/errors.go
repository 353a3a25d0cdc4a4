package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/twine"
)

// IsNotFound reports a missing strand, tixel or index.
func IsNotFound(err error) bool { return twine.IsNotFound(err) }

// StrandNotFound is the error backends return for an unknown strand.
func StrandNotFound(strand cid.Cid) error {
	return twine.NewError(twine.KindNotFound, "strand %s not found", cidutil.Format(strand))
}

// TixelNotFound is the error backends return for an unknown tixel.
func TixelNotFound(strand, tixel cid.Cid) error {
	return twine.NewError(twine.KindNotFound, "tixel %s not found on strand %s", cidutil.Format(tixel), cidutil.Format(strand))
}

// IndexNotFound is the error backends return for an unknown index.
func IndexNotFound(strand cid.Cid, index uint64) error {
	return twine.NewError(twine.KindNotFound, "index %d not found on strand %s", index, cidutil.Format(strand))
}

// LatestNotFound is returned for a strand without tixels.
func LatestNotFound(strand cid.Cid) error {
	return twine.NewError(twine.KindNotFound, "strand %s has no tixels", cidutil.Format(strand))
}

// Malformed wraps a failure to decode data read from a backend.
func Malformed(what string, err error) error {
	return twine.WrapError(twine.KindMalformed, fmt.Sprintf("%s: stored data is malformed", what), err)
}

// ConnectionFailure wraps a transient backend error.
func ConnectionFailure(what string, err error) error {
	return twine.WrapError(twine.KindConnectionFailure, what, err)
}
