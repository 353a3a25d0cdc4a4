package twine

import (
	"bytes"
	"encoding/json"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/codec"
)

// Twine is either a *Strand or a *Tixel.
type Twine interface {
	CID() cid.Cid
	StrandCID() cid.Cid
	Bytes() []byte
	HashCode() uint64
	Spec() string
	Signature() []byte
	SigningBytes() ([]byte, error)

	isTwine()
	canonical() ([]byte, error)
}

var (
	_ Twine = (*Strand)(nil)
	_ Twine = (*Tixel)(nil)
)

// IsNil reports whether tw is nil or wraps a nil block pointer.
func IsNil(tw Twine) bool {
	switch v := tw.(type) {
	case nil:
		return true
	case *Strand:
		return v == nil
	case *Tixel:
		return v == nil
	}
	return false
}

// IsStrand reports whether tw is a strand.
func IsStrand(tw Twine) bool {
	_, ok := tw.(*Strand)
	return ok
}

// AsStrand returns tw as a strand, or an InvalidTwineFormat error.
func AsStrand(tw Twine) (*Strand, error) {
	if s, ok := tw.(*Strand); ok && s != nil {
		return s, nil
	}
	return nil, NewError(KindInvalidTwineFormat, "expected a strand")
}

// AsTixel returns tw as a tixel, or an InvalidTwineFormat error.
func AsTixel(tw Twine) (*Tixel, error) {
	if t, ok := tw.(*Tixel); ok && t != nil {
		return t, nil
	}
	return nil, NewError(KindInvalidTwineFormat, "expected a tixel")
}

type sniff struct {
	Content map[string]codec.RawMessage `json:"c"`
}

// DecodeTwine decodes either block type, telling them apart by their
// content fields.
func DecodeTwine(data []byte) (Twine, error) {
	isStrand, err := sniffCBOR(data)
	if err != nil {
		return nil, err
	}
	if isStrand {
		return DecodeStrand(data)
	}
	return DecodeTixel(data)
}

func sniffCBOR(data []byte) (bool, error) {
	var s sniff
	if err := codec.Unmarshal(data, &s); err != nil {
		return false, WrapError(KindParse, "decode twine", err)
	}
	return classify(s.Content)
}

func classify[T any](content map[string]T) (bool, error) {
	if _, ok := content["k"]; ok {
		return true, nil
	}
	if _, ok := content["i"]; ok {
		return false, nil
	}
	return false, NewError(KindParse, "decode twine: neither a strand nor a tixel")
}

// FromBlock decodes data stored under a declared CID. The declared CID is
// kept as is; CheckCID detects a mismatch.
func FromBlock(id cid.Cid, data []byte) (Twine, error) {
	if !id.Defined() {
		return nil, NewError(KindParse, "block without cid")
	}
	isStrand, err := sniffCBOR(data)
	if err != nil {
		return nil, err
	}
	if isStrand {
		s, err := decodeStrand(data)
		if err != nil {
			return nil, err
		}
		s.cid = id
		return s, nil
	}
	t, err := decodeTixel(data)
	if err != nil {
		return nil, err
	}
	t.cid = id
	return t, nil
}

// StrandFromBlock is FromBlock restricted to strands.
func StrandFromBlock(id cid.Cid, data []byte) (*Strand, error) {
	tw, err := FromBlock(id, data)
	if err != nil {
		return nil, err
	}
	s, ok := tw.(*Strand)
	if !ok {
		return nil, NewError(KindParse, "block %s is not a strand", cidutil.Format(id))
	}
	return s, nil
}

// TixelFromBlock is FromBlock restricted to tixels.
func TixelFromBlock(id cid.Cid, data []byte) (*Tixel, error) {
	tw, err := FromBlock(id, data)
	if err != nil {
		return nil, err
	}
	t, ok := tw.(*Tixel)
	if !ok {
		return nil, NewError(KindParse, "block %s is not a tixel", cidutil.Format(id))
	}
	return t, nil
}

// RecomputeCID re-encodes tw canonically and hashes it with the hash code
// the block declares.
func RecomputeCID(tw Twine) (cid.Cid, error) {
	b, err := tw.canonical()
	if err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.Sum(tw.HashCode(), b)
	if err != nil {
		return cid.Undef, hashError(err)
	}
	return id, nil
}

// CheckCID compares the recomputed CID of tw with its declared CID.
func CheckCID(tw Twine) error {
	actual, err := RecomputeCID(tw)
	if err != nil {
		return err
	}
	if !actual.Equals(tw.CID()) {
		return MismatchError(tw.CID(), actual)
	}
	return nil
}

// MarshalTaggedJSON renders tw as {"cid": ..., "data": ...}.
func MarshalTaggedJSON(tw Twine) ([]byte, error) {
	var data []byte
	var err error
	switch t := tw.(type) {
	case *Strand:
		data, err = json.Marshal(t.block)
	case *Tixel:
		data, err = json.Marshal(t.block)
	default:
		return nil, NewError(KindInvalidTwineFormat, "unknown twine %T", tw)
	}
	if err != nil {
		return nil, WrapError(KindParse, "encode json", err)
	}
	return json.Marshal(codec.Tagged{CID: tw.CID(), Data: data})
}

// ParseTaggedJSON reads the {"cid": ..., "data": ...} form. The data is
// re-encoded to canonical CBOR and must reproduce the declared CID.
func ParseTaggedJSON(data []byte) (Twine, error) {
	var tagged codec.Tagged
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, WrapError(KindParse, "decode tagged json", err)
	}
	return fromTagged(tagged)
}

func fromTagged(tagged codec.Tagged) (Twine, error) {
	var s struct {
		Content map[string]json.RawMessage `json:"c"`
	}
	if err := json.Unmarshal(tagged.Data, &s); err != nil {
		return nil, WrapError(KindParse, "decode tagged json", err)
	}
	isStrand, err := classify(s.Content)
	if err != nil {
		return nil, err
	}
	var tw Twine
	if isStrand {
		var block strandBlock
		if err := strictJSON(tagged.Data, &block); err != nil {
			return nil, err
		}
		st, err := sealStrand(block)
		if err != nil {
			return nil, err
		}
		tw = st
	} else {
		var block tixelBlock
		if err := strictJSON(tagged.Data, &block); err != nil {
			return nil, err
		}
		tx, err := sealTixel(block)
		if err != nil {
			return nil, err
		}
		tw = tx
	}
	if !tw.CID().Equals(tagged.CID) {
		return nil, MismatchError(tagged.CID, tw.CID())
	}
	return tw, nil
}

func strictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return WrapError(KindParse, "decode tagged json", err)
	}
	return nil
}

// MarshalTaggedJSONArray renders a JSON array of tagged twines.
func MarshalTaggedJSONArray(tws []Twine) ([]byte, error) {
	out := make([]json.RawMessage, 0, len(tws))
	for _, tw := range tws {
		b, err := MarshalTaggedJSON(tw)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

// ParseTaggedJSONArray reads a JSON array of tagged twines.
func ParseTaggedJSONArray(data []byte) ([]Twine, error) {
	var items []codec.Tagged
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, WrapError(KindParse, "decode tagged json array", err)
	}
	out := make([]Twine, 0, len(items))
	for _, item := range items {
		tw, err := fromTagged(item)
		if err != nil {
			return nil, err
		}
		out = append(out, tw)
	}
	return out, nil
}
