package twine

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/codec"
	"xdao.co/twine/keys"
	"xdao.co/twine/value"
)

// Stitch is a mixin: a reference to a tixel on another chain.
type Stitch struct {
	Strand cid.Cid
	Tixel  cid.Cid
}

type stitchWire struct {
	Strand codec.Link `json:"s"`
	Tixel  codec.Link `json:"t"`
}

type tixelContent struct {
	Strand  codec.Link   `json:"s"`
	Index   uint64       `json:"i"`
	Source  string       `json:"src,omitempty"`
	Links   []codec.Link `json:"b,omitempty"`
	Mixins  []stitchWire `json:"x,omitempty"`
	Drop    uint64       `json:"d,omitempty"`
	Payload value.Value  `json:"p"`
	Hash    uint64       `json:"h"`
	Spec    string       `json:"v"`
}

type tixelBlock struct {
	Content   tixelContent `json:"c"`
	Signature codec.Bytes  `json:"s"`
}

// TixelFields are the inputs of NewTixel. Links are the back-link CIDs in
// skip-list order; Mixins may be given in any order.
type TixelFields struct {
	Strand  cid.Cid
	Index   uint64
	Source  string
	Links   []cid.Cid
	Mixins  []Stitch
	Drop    uint64
	Payload value.Value
	Hash    uint64
	Spec    string // empty means DefaultSpec
}

// Tixel is one entry of a chain.
type Tixel struct {
	cid   cid.Cid
	raw   []byte
	block tixelBlock
}

// NewTixel validates fields, signs the content and addresses the result.
// A mixin on the tixel's own chain, an undefined mixin CID or two mixins on
// the same foreign chain are InvalidTwineFormat.
func NewTixel(fields TixelFields, signer keys.Signer) (*Tixel, error) {
	if !fields.Strand.Defined() {
		return nil, NewError(KindInvalidTwineFormat, "tixel without strand")
	}
	if !cidutil.Supported(fields.Hash) {
		return nil, NewError(KindUnsupportedHashAlgorithm, "hash %s", cidutil.HashName(fields.Hash))
	}
	spec := fields.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := ParseSpecification(spec); err != nil {
		return nil, err
	}
	mixins, err := SortMixins(fields.Strand, fields.Mixins)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, NewError(KindBadSignature, "no signer")
	}
	content := tixelContent{
		Strand:  codec.NewLink(fields.Strand),
		Index:   fields.Index,
		Source:  fields.Source,
		Drop:    fields.Drop,
		Payload: fields.Payload,
		Hash:    fields.Hash,
		Spec:    spec,
	}
	for _, l := range fields.Links {
		if !l.Defined() {
			return nil, NewError(KindInvalidTwineFormat, "undefined back link")
		}
		content.Links = append(content.Links, codec.NewLink(l))
	}
	for _, m := range mixins {
		content.Mixins = append(content.Mixins, stitchWire{Strand: codec.NewLink(m.Strand), Tixel: codec.NewLink(m.Tixel)})
	}
	msg, err := codec.Marshal(content)
	if err != nil {
		return nil, WrapError(KindParse, "encode tixel content", err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return nil, WrapError(KindBadSignature, "sign tixel", err)
	}
	return sealTixel(tixelBlock{Content: content, Signature: sig})
}

// SortMixins checks mixins against the owning strand and returns them
// ordered by strand CID.
func SortMixins(strand cid.Cid, mixins []Stitch) ([]Stitch, error) {
	out := append([]Stitch(nil), mixins...)
	for _, m := range out {
		if !m.Strand.Defined() || !m.Tixel.Defined() {
			return nil, NewError(KindInvalidTwineFormat, "mixin with undefined cid")
		}
		if m.Strand.Equals(strand) {
			return nil, NewError(KindInvalidTwineFormat, "mixin %s references the tixel's own strand", cidutil.Format(m.Tixel))
		}
	}
	sort.Slice(out, func(i, j int) bool { return cidutil.Less(out[i].Strand, out[j].Strand) })
	for i := 1; i < len(out); i++ {
		if out[i].Strand.Equals(out[i-1].Strand) {
			return nil, NewError(KindInvalidTwineFormat, "two mixins on strand %s", cidutil.Format(out[i].Strand))
		}
	}
	return out, nil
}

func sealTixel(block tixelBlock) (*Tixel, error) {
	raw, err := codec.Marshal(block)
	if err != nil {
		return nil, WrapError(KindParse, "encode tixel", err)
	}
	id, err := cidutil.Sum(block.Content.Hash, raw)
	if err != nil {
		return nil, hashError(err)
	}
	return &Tixel{cid: id, raw: raw, block: block}, nil
}

// DecodeTixel decodes a tixel block and computes its CID from data.
func DecodeTixel(data []byte) (*Tixel, error) {
	t, err := decodeTixel(data)
	if err != nil {
		return nil, err
	}
	id, err := cidutil.Sum(t.block.Content.Hash, data)
	if err != nil {
		return nil, hashError(err)
	}
	t.cid = id
	return t, nil
}

func decodeTixel(data []byte) (*Tixel, error) {
	var block tixelBlock
	if err := codec.Unmarshal(data, &block); err != nil {
		return nil, WrapError(KindParse, "decode tixel", err)
	}
	if !block.Content.Strand.Defined() {
		return nil, NewError(KindParse, "decode tixel: missing strand")
	}
	return &Tixel{raw: append([]byte(nil), data...), block: block}, nil
}

func (t *Tixel) isTwine() {}

// CID is the declared content identifier.
func (t *Tixel) CID() cid.Cid { return t.cid }

// StrandCID is the CID of the owning strand.
func (t *Tixel) StrandCID() cid.Cid { return t.block.Content.Strand.Cid }

// Bytes returns a copy of the encoded block.
func (t *Tixel) Bytes() []byte { return append([]byte(nil), t.raw...) }

func (t *Tixel) HashCode() uint64     { return t.block.Content.Hash }
func (t *Tixel) Spec() string         { return t.block.Content.Spec }
func (t *Tixel) Index() uint64        { return t.block.Content.Index }
func (t *Tixel) Source() string       { return t.block.Content.Source }
func (t *Tixel) Payload() value.Value { return t.block.Content.Payload }

// Drop is the index at which the mixin set last stopped being a superset of
// its predecessor's.
func (t *Tixel) Drop() uint64 { return t.block.Content.Drop }

// Links returns the back-link CIDs in skip-list order.
func (t *Tixel) Links() []cid.Cid {
	out := make([]cid.Cid, len(t.block.Content.Links))
	for i, l := range t.block.Content.Links {
		out[i] = l.Cid
	}
	return out
}

// Previous is the CID of index-1, if the tixel has any back links.
func (t *Tixel) Previous() (cid.Cid, bool) {
	if len(t.block.Content.Links) == 0 {
		return cid.Undef, false
	}
	return t.block.Content.Links[0].Cid, true
}

// Mixins returns the cross-chain stitches ordered by strand CID.
func (t *Tixel) Mixins() []Stitch {
	out := make([]Stitch, len(t.block.Content.Mixins))
	for i, m := range t.block.Content.Mixins {
		out[i] = Stitch{Strand: m.Strand.Cid, Tixel: m.Tixel.Cid}
	}
	return out
}

// Signature returns a copy of the signature bytes.
func (t *Tixel) Signature() []byte { return append([]byte(nil), t.block.Signature...) }

// SigningBytes is the canonical encoding of the content.
func (t *Tixel) SigningBytes() ([]byte, error) {
	b, err := codec.Marshal(t.block.Content)
	if err != nil {
		return nil, WrapError(KindParse, "encode tixel content", err)
	}
	return b, nil
}

func (t *Tixel) canonical() ([]byte, error) {
	b, err := codec.Marshal(t.block)
	if err != nil {
		return nil, WrapError(KindParse, "encode tixel", err)
	}
	return b, nil
}

// Stitch returns the reference another chain uses to mix this tixel in.
func (t *Tixel) Stitch() Stitch { return Stitch{Strand: t.StrandCID(), Tixel: t.cid} }

func (t *Tixel) String() string {
	return "tixel " + cidutil.Format(t.StrandCID()) + ":" + strconv.FormatUint(t.Index(), 10)
}

// SameBytes reports whether two twines carry identical encodings.
func SameBytes(a, b Twine) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}
