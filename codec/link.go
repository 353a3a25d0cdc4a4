package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
)

var cborNull = []byte{0xf6}

// ErrMalformedLink is returned when a tag-42 item or a {"/": ...} object
// does not carry a valid CID.
var ErrMalformedLink = errors.New("codec: malformed link")

// Link is a CID that encodes as a CBOR tag-42 link and as a JSON {"/": cid}
// object. The undefined CID encodes as null in both forms.
type Link struct {
	cid.Cid
}

// NewLink wraps c.
func NewLink(c cid.Cid) Link { return Link{Cid: c} }

func (l Link) MarshalCBOR() ([]byte, error) {
	if !l.Cid.Defined() {
		return cborNull, nil
	}
	content := append([]byte{0x00}, l.Cid.Bytes()...)
	return encMode.Marshal(cbor.Tag{Number: LinkTag, Content: content})
}

func (l *Link) UnmarshalCBOR(data []byte) error {
	if bytes.Equal(data, cborNull) {
		l.Cid = cid.Undef
		return nil
	}
	var raw cbor.RawTag
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	if raw.Number != LinkTag {
		return fmt.Errorf("%w: tag %d", ErrMalformedLink, raw.Number)
	}
	var b []byte
	if err := decMode.Unmarshal(raw.Content, &b); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	c, err := LinkFromTagContent(b)
	if err != nil {
		return err
	}
	l.Cid = c
	return nil
}

// LinkFromTagContent parses the byte-string content of a tag-42 item.
func LinkFromTagContent(b []byte) (cid.Cid, error) {
	if len(b) < 2 || b[0] != 0x00 {
		return cid.Undef, fmt.Errorf("%w: missing multibase identity prefix", ErrMalformedLink)
	}
	c, err := cid.Cast(b[1:])
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	return c, nil
}

func (l Link) MarshalJSON() ([]byte, error) {
	if !l.Cid.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]string{"/": cidutil.Format(l.Cid)})
}

func (l *Link) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		l.Cid = cid.Undef
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	c, ok, err := ParseJSONLink(m)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: expected {\"/\": cid}", ErrMalformedLink)
	}
	l.Cid = c
	return nil
}

// ParseJSONLink recognises the {"/": "<cid>"} form. ok is false when m has
// some other shape.
func ParseJSONLink(m map[string]any) (c cid.Cid, ok bool, err error) {
	if len(m) != 1 {
		return cid.Undef, false, nil
	}
	s, isString := m["/"].(string)
	if !isString {
		return cid.Undef, false, nil
	}
	c, err = cidutil.Parse(s)
	if err != nil {
		return cid.Undef, true, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	return c, true, nil
}

// Bytes is a byte string that encodes as {"/": {"bytes": "<base64>"}} in JSON.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(BytesJSON(b))
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out, ok, err := ParseJSONBytes(m)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(`codec: expected {"/": {"bytes": ...}}`)
	}
	*b = out
	return nil
}

// BytesJSON returns the JSON object form of b.
func BytesJSON(b []byte) map[string]any {
	return map[string]any{"/": map[string]any{"bytes": base64.RawStdEncoding.EncodeToString(b)}}
}

// ParseJSONBytes recognises the {"/": {"bytes": "<base64>"}} form. Padded and
// unpadded standard base64 are both accepted.
func ParseJSONBytes(m map[string]any) (b []byte, ok bool, err error) {
	if len(m) != 1 {
		return nil, false, nil
	}
	inner, isMap := m["/"].(map[string]any)
	if !isMap || len(inner) != 1 {
		return nil, false, nil
	}
	s, isString := inner["bytes"].(string)
	if !isString {
		return nil, false, nil
	}
	if b, err = base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, true, nil
	}
	b, err = base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, true, fmt.Errorf("codec: bad base64 bytes: %w", err)
	}
	return b, true, nil
}
