package boltstore

import (
	"bytes"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		tag  byte
	}{
		{"compressible", bytes.Repeat([]byte("twine "), 200), tagZstd},
		{"tiny", []byte{1, 2, 3}, tagRaw},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			packed := pack(tc.data)
			if packed[0] != tc.tag {
				t.Fatalf("tag = %d, want %d", packed[0], tc.tag)
			}
			got, err := unpack(packed)
			if err != nil {
				t.Fatalf("unpack failed: %v", err)
			}
			if !bytes.Equal(got, tc.data) {
				t.Fatalf("round trip changed the data")
			}
		})
	}
	if _, err := unpack([]byte{9, 1}); err == nil {
		t.Fatalf("unknown tag accepted")
	}
	if _, err := unpack(nil); err == nil {
		t.Fatalf("empty value accepted")
	}
}
