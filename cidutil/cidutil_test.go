package cidutil

import (
	"errors"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func TestSumDeterministic(t *testing.T) {
	data := []byte("hello, twine")
	for code := range hashNames {
		a, err := Sum(code, data)
		if err != nil {
			t.Fatalf("Sum(%s): %v", HashName(code), err)
		}
		b, err := Sum(code, data)
		if err != nil {
			t.Fatalf("Sum(%s) again: %v", HashName(code), err)
		}
		if !a.Equals(b) {
			t.Fatalf("Sum(%s) not deterministic: %s vs %s", HashName(code), a, b)
		}
		if a.Prefix().Codec != Codec {
			t.Fatalf("unexpected codec 0x%x", a.Prefix().Codec)
		}
		got, err := HashCode(a)
		if err != nil {
			t.Fatalf("HashCode: %v", err)
		}
		if got != code {
			t.Fatalf("HashCode: got %s want %s", HashName(got), HashName(code))
		}
	}
}

func TestSumUnsupported(t *testing.T) {
	_, err := Sum(multihash.MD5, []byte("x"))
	if !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("got %v want ErrUnsupportedHash", err)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	id, err := Sum(multihash.SHA3_512, []byte("round trip"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	s := Format(id)
	if !strings.HasPrefix(s, "z") {
		t.Fatalf("expected base58btc multibase prefix, got %q", s)
	}
	back, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !back.Equals(id) {
		t.Fatalf("round trip mismatch: %s vs %s", back, id)
	}
	// base32 input is accepted too.
	back, err = Parse(id.String())
	if err != nil {
		t.Fatalf("Parse base32: %v", err)
	}
	if !back.Equals(id) {
		t.Fatalf("base32 round trip mismatch")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "   ", "not-a-cid", "zzzz"} {
		if _, err := Parse(s); !errors.Is(err, ErrInvalidCID) {
			t.Fatalf("Parse(%q): got %v want ErrInvalidCID", s, err)
		}
	}
	if _, err := HashCode(cid.Undef); !errors.Is(err, ErrInvalidCID) {
		t.Fatalf("HashCode(Undef): got %v", err)
	}
}

func TestParseHash(t *testing.T) {
	code, err := ParseHash(" SHA3-512 ")
	if err != nil || code != multihash.SHA3_512 {
		t.Fatalf("ParseHash: got %x, %v", code, err)
	}
	if _, err := ParseHash("md5"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("ParseHash(md5): got %v", err)
	}
}
