package storage

import (
	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/twine"
)

// Decode parses a block a backend read back under key id. Bytes that do
// not decode are Malformed; bytes that address to another CID are a
// CidMismatch.
func Decode(id cid.Cid, data []byte) (twine.Twine, error) {
	tw, err := twine.DecodeTwine(data)
	if err != nil {
		return nil, Malformed(cidutil.Format(id), err)
	}
	if !tw.CID().Equals(id) {
		return nil, twine.MismatchError(id, tw.CID())
	}
	return tw, nil
}

// DecodeStrand is Decode for a key known to hold a strand.
func DecodeStrand(id cid.Cid, data []byte) (*twine.Strand, error) {
	tw, err := Decode(id, data)
	if err != nil {
		return nil, err
	}
	s, err := twine.AsStrand(tw)
	if err != nil {
		return nil, Malformed(cidutil.Format(id), err)
	}
	return s, nil
}

// DecodeTixel is Decode for a key known to hold a tixel.
func DecodeTixel(id cid.Cid, data []byte) (*twine.Tixel, error) {
	tw, err := Decode(id, data)
	if err != nil {
		return nil, err
	}
	t, err := twine.AsTixel(tw)
	if err != nil {
		return nil, Malformed(cidutil.Format(id), err)
	}
	return t, nil
}
