package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/twine/cidutil"
)

type sampleBlock struct {
	Name  string `json:"n"`
	Count int    `json:"c"`
	Prev  Link   `json:"p"`
	Blob  Bytes  `json:"b"`
}

func mustCID(t *testing.T, s string) cid.Cid {
	t.Helper()
	c, err := cidutil.Sum(multihash.SHA2_256, []byte(s))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	return c
}

func TestMarshalDeterministic(t *testing.T) {
	a := map[string]any{"zeta": 1, "alpha": "x", "mid": []any{1, 2}}
	first, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(a)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("non-deterministic encoding on iteration %d", i)
		}
	}
}

func TestLinkCBORRoundTrip(t *testing.T) {
	in := sampleBlock{Name: "a", Count: 3, Prev: NewLink(mustCID(t, "prev")), Blob: Bytes{1, 2, 3}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diag, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !bytes.Contains([]byte(diag), []byte("42(h'00")) {
		t.Fatalf("link not encoded as tag 42: %s", diag)
	}
	var out sampleBlock
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Prev.Equals(in.Prev.Cid) || out.Name != in.Name || out.Count != in.Count || !bytes.Equal(out.Blob, in.Blob) {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
	again, err := Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Fatalf("re-encoding changed bytes")
	}
}

func TestUndefinedLinkIsNull(t *testing.T) {
	data, err := Marshal(Link{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(data, cborNull) {
		t.Fatalf("got %x want f6", data)
	}
	var l Link
	if err := Unmarshal(data, &l); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if l.Defined() {
		t.Fatalf("expected undefined link")
	}
}

func TestLinkRejectsWrongTag(t *testing.T) {
	data, err := Marshal(Tag{Number: 43, Content: []byte{0, 1, 2}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var l Link
	if err := Unmarshal(data, &l); !errors.Is(err, ErrMalformedLink) {
		t.Fatalf("got %v want ErrMalformedLink", err)
	}
}

func TestJSONForms(t *testing.T) {
	c := mustCID(t, "json")
	in := sampleBlock{Name: "j", Prev: NewLink(c), Blob: Bytes("hi")}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	link, ok, err := ParseJSONLink(generic["p"].(map[string]any))
	if err != nil || !ok || !link.Equals(c) {
		t.Fatalf("ParseJSONLink: %v %v %v", link, ok, err)
	}
	blob, ok, err := ParseJSONBytes(generic["b"].(map[string]any))
	if err != nil || !ok || string(blob) != "hi" {
		t.Fatalf("ParseJSONBytes: %q %v %v", blob, ok, err)
	}
	var out sampleBlock
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("json.Unmarshal typed: %v", err)
	}
	if !out.Prev.Equals(c) || string(out.Blob) != "hi" {
		t.Fatalf("typed JSON round trip mismatch: %+v", out)
	}
}

func TestTaggedJSON(t *testing.T) {
	c := mustCID(t, "tagged")
	in := Tagged{CID: c, Data: json.RawMessage(`{"a":1}`)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Tagged
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.CID.Equals(c) || string(out.Data) != `{"a":1}` {
		t.Fatalf("mismatch: %s %s", out.CID, out.Data)
	}
	for _, bad := range []string{`{"cid":"nope","data":{}}`, `{"cid":"` + cidutil.Format(c) + `"}`, `{"cid":"x","data":{},"extra":1}`} {
		if err := json.Unmarshal([]byte(bad), &out); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}
