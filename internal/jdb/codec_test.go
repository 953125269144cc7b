package jdb

import (
	"bytes"
	"testing"
)

func TestApplyCodecSkipsBelowMinSize(t *testing.T) {
	data := []byte("tiny")
	flag, payload, uncompLen, err := ApplyCodec(LZ4Codec{}, 1024, 0, data)
	if err != nil {
		t.Fatalf("ApplyCodec failed: %v", err)
	}
	if flag&FlagProbed != 0 {
		t.Error("expected PROBED not set below MinCompressSize")
	}
	if !bytes.Equal(payload, data) {
		t.Errorf("expected payload unchanged, got %q", payload)
	}
	if uncompLen != uint32(len(data)) {
		t.Errorf("uncompressedLen = %d, want %d", uncompLen, len(data))
	}
}

func TestApplyCodecLZ4RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("compressible-compressible-compressible-"), 64)
	codec := LZ4Codec{}

	flag, payload, uncompLen, err := ApplyCodec(codec, 64, 0, data)
	if err != nil {
		t.Fatalf("ApplyCodec failed: %v", err)
	}
	if flag&FlagProbed == 0 {
		t.Error("expected PROBED to be set once the input clears MinCompressSize")
	}

	var out []byte
	if flag&FlagCompressedLZ4 != 0 {
		out, err = codec.Decompress(nil, payload, int(uncompLen))
		if err != nil {
			t.Fatalf("Decompress failed: %v", err)
		}
	} else {
		out = payload
	}
	if !bytes.Equal(out, data) {
		t.Error("round-tripped data does not match original")
	}
}

func TestApplyCodecNoopNeverCompresses(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 4096)
	flag, payload, _, err := ApplyCodec(NoopCodec{}, 0, 0, data)
	if err != nil {
		t.Fatalf("ApplyCodec failed: %v", err)
	}
	if flag&FlagProbed != 0 {
		t.Error("NoopCodec must never set PROBED")
	}
	if !bytes.Equal(payload, data) {
		t.Error("NoopCodec must never alter the payload")
	}
}
