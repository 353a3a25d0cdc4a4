package twine

import (
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/codec"
	"xdao.co/twine/keys"
	"xdao.co/twine/value"
)

// DefaultRadix is the skip-list radix of strands built without one.
const DefaultRadix = 32

type strandContent struct {
	Key     keys.PublicKey `json:"k"`
	Radix   uint8          `json:"r"`
	Details value.Value    `json:"d"`
	Meta    value.Value    `json:"m"`
	Genesis string         `json:"g"`
	Expiry  string         `json:"e,omitempty"`
	Hash    uint64         `json:"h"`
	Spec    string         `json:"v"`
}

type strandBlock struct {
	Content   strandContent `json:"c"`
	Signature codec.Bytes   `json:"s"`
}

// StrandFields are the inputs of NewStrand.
type StrandFields struct {
	Key     keys.PublicKey
	Radix   uint8
	Details value.Value
	Meta    value.Value
	Genesis time.Time
	Expiry  time.Time // zero means no expiry
	Hash    uint64
	Spec    string // empty means DefaultSpec
}

// Strand is the genesis record of a chain.
type Strand struct {
	cid   cid.Cid
	raw   []byte
	block strandBlock
}

// NewStrand validates fields, signs the content with signer and addresses
// the result. The signer's public key must equal fields.Key.
func NewStrand(fields StrandFields, signer keys.Signer) (*Strand, error) {
	if fields.Radix == 1 {
		return nil, NewError(KindInvalidTwineFormat, "radix must not be 1")
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
	if signer == nil {
		return nil, NewError(KindBadSignature, "no signer")
	}
	if !signer.Public().Equal(fields.Key) {
		return nil, NewError(KindBadSignature, "signer key does not match the declared strand key")
	}
	content := strandContent{
		Key:     keys.PublicKey{Alg: fields.Key.Alg, Key: append(codec.Bytes(nil), fields.Key.Key...)},
		Radix:   fields.Radix,
		Details: fields.Details,
		Meta:    fields.Meta,
		Genesis: formatTime(fields.Genesis),
		Hash:    fields.Hash,
		Spec:    spec,
	}
	if !fields.Expiry.IsZero() {
		content.Expiry = formatTime(fields.Expiry)
	}
	msg, err := codec.Marshal(content)
	if err != nil {
		return nil, WrapError(KindParse, "encode strand content", err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return nil, WrapError(KindBadSignature, "sign strand", err)
	}
	return sealStrand(strandBlock{Content: content, Signature: sig})
}

func sealStrand(block strandBlock) (*Strand, error) {
	raw, err := codec.Marshal(block)
	if err != nil {
		return nil, WrapError(KindParse, "encode strand", err)
	}
	id, err := cidutil.Sum(block.Content.Hash, raw)
	if err != nil {
		return nil, hashError(err)
	}
	return &Strand{cid: id, raw: raw, block: block}, nil
}

// DecodeStrand decodes a strand block and computes its CID from data.
func DecodeStrand(data []byte) (*Strand, error) {
	s, err := decodeStrand(data)
	if err != nil {
		return nil, err
	}
	id, err := cidutil.Sum(s.block.Content.Hash, data)
	if err != nil {
		return nil, hashError(err)
	}
	s.cid = id
	return s, nil
}

func decodeStrand(data []byte) (*Strand, error) {
	var block strandBlock
	if err := codec.Unmarshal(data, &block); err != nil {
		return nil, WrapError(KindParse, "decode strand", err)
	}
	if block.Content.Key.Alg == "" {
		return nil, NewError(KindParse, "decode strand: missing key")
	}
	return &Strand{raw: append([]byte(nil), data...), block: block}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Strand) isTwine() {}

// CID is the declared content identifier.
func (s *Strand) CID() cid.Cid { return s.cid }

// StrandCID is the strand's own CID.
func (s *Strand) StrandCID() cid.Cid { return s.cid }

// Bytes returns a copy of the encoded block.
func (s *Strand) Bytes() []byte { return append([]byte(nil), s.raw...) }

func (s *Strand) HashCode() uint64 { return s.block.Content.Hash }
func (s *Strand) Spec() string     { return s.block.Content.Spec }
func (s *Strand) Radix() uint8     { return s.block.Content.Radix }

// Key is the public key every block on the chain is signed with.
func (s *Strand) Key() keys.PublicKey {
	k := s.block.Content.Key
	return keys.PublicKey{Alg: k.Alg, Key: append(codec.Bytes(nil), k.Key...)}
}

func (s *Strand) Details() value.Value { return s.block.Content.Details }
func (s *Strand) Meta() value.Value    { return s.block.Content.Meta }

// Genesis is the creation time, or the zero time if it does not parse.
func (s *Strand) Genesis() time.Time { return parseTime(s.block.Content.Genesis) }

// Expiry returns the declared expiry, if any.
func (s *Strand) Expiry() (time.Time, bool) {
	if s.block.Content.Expiry == "" {
		return time.Time{}, false
	}
	return parseTime(s.block.Content.Expiry), true
}

// Signature returns a copy of the signature bytes.
func (s *Strand) Signature() []byte { return append([]byte(nil), s.block.Signature...) }

// SigningBytes is the canonical encoding of the content, the message the
// signature covers.
func (s *Strand) SigningBytes() ([]byte, error) {
	b, err := codec.Marshal(s.block.Content)
	if err != nil {
		return nil, WrapError(KindParse, "encode strand content", err)
	}
	return b, nil
}

func (s *Strand) canonical() ([]byte, error) {
	b, err := codec.Marshal(s.block)
	if err != nil {
		return nil, WrapError(KindParse, "encode strand", err)
	}
	return b, nil
}

func (s *Strand) String() string { return "strand " + cidutil.Format(s.cid) }
