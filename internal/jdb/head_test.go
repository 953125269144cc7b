package jdb

import (
	"testing"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

func TestEncodeDecodeHeadRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		head  Head
		key   []byte
		value []byte
	}{
		{
			name:  "inline value",
			head:  Head{Flag: FlagInline, KeyLen: 3, DataLen: 5, UncompressedLen: 5, Inline: [32]byte{'h', 'e', 'l', 'l', 'o'}},
			key:   []byte("abc"),
			value: nil,
		},
		{
			name:  "infile value",
			head:  Head{Flag: FlagInfile, KeyLen: 3, DataLen: 9, UncompressedLen: 9},
			key:   []byte("key"),
			value: []byte("some data"),
		},
		{
			name:  "file placement",
			head:  Head{Flag: FlagFile, KeyLen: 4, DataLen: 0, UncompressedLen: 4096, ExternalID: 42},
			key:   []byte("file"),
			value: nil,
		},
		{
			name:  "tombstone",
			head:  Head{Flag: FlagInline | FlagTombstone, KeyLen: 3},
			key:   []byte("del"),
			value: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := EncodeHead(tt.head, tt.key, tt.value)
			if err != nil {
				t.Fatalf("EncodeHead failed: %v", err)
			}

			decoded, err := DecodeHead(buf[:])
			if err != nil {
				t.Fatalf("DecodeHead failed: %v", err)
			}
			if decoded.Flag != tt.head.Flag {
				t.Errorf("flag mismatch: got %v, want %v", decoded.Flag, tt.head.Flag)
			}
			if decoded.KeyLen != tt.head.KeyLen {
				t.Errorf("key_len mismatch: got %d, want %d", decoded.KeyLen, tt.head.KeyLen)
			}

			if err := decoded.VerifyCRC(buf[:crcCoveredPrefixLen], tt.key, tt.value); err != nil {
				t.Errorf("VerifyCRC failed on matching trailer: %v", err)
			}
		})
	}
}

func TestVerifyCRCRejectsTamperedTrailer(t *testing.T) {
	head := Head{Flag: FlagInfile, KeyLen: 3, DataLen: 5, UncompressedLen: 5}
	key := []byte("abc")
	value := []byte("hello")

	buf, err := EncodeHead(head, key, value)
	if err != nil {
		t.Fatalf("EncodeHead failed: %v", err)
	}
	decoded, err := DecodeHead(buf[:])
	if err != nil {
		t.Fatalf("DecodeHead failed: %v", err)
	}

	tamperedValue := []byte("HELLO")
	if err := decoded.VerifyCRC(buf[:crcCoveredPrefixLen], key, tamperedValue); err == nil {
		t.Error("expected CRC mismatch for tampered trailer, got nil")
	} else if !jdberr.Is(err, jdberr.Corrupt) {
		t.Errorf("expected Corrupt error code, got %v", err)
	}
}

func TestDecodeHeadRejectsBadMagic(t *testing.T) {
	head := Head{Flag: FlagInline, KeyLen: 0}
	buf, err := EncodeHead(head, nil, nil)
	if err != nil {
		t.Fatalf("EncodeHead failed: %v", err)
	}
	buf[offMagic] = 0x00

	if _, err := DecodeHead(buf[:]); err == nil {
		t.Error("expected error for bad magic, got nil")
	} else if !jdberr.Is(err, jdberr.Corrupt) {
		t.Errorf("expected Corrupt error code, got %v", err)
	}
}

func TestValidatePlacementRejectsMultipleFlags(t *testing.T) {
	head := Head{Flag: FlagInline | FlagFile, KeyLen: 1}
	if _, err := EncodeHead(head, []byte("a"), nil); err == nil {
		t.Error("expected validation error for INLINE|FILE, got nil")
	}
}

func TestValidatePlacementRejectsOversizedInline(t *testing.T) {
	head := Head{Flag: FlagInline, KeyLen: 1, DataLen: InlineSlotSize + 1, UncompressedLen: InlineSlotSize + 1}
	if _, err := EncodeHead(head, []byte("a"), nil); err == nil {
		t.Error("expected validation error for oversized INLINE data_len, got nil")
	}
}

func TestTrailerLen(t *testing.T) {
	tests := []struct {
		name     string
		head     Head
		expected int64
	}{
		{"inline", Head{Flag: FlagInline, KeyLen: 5, DataLen: 3}, 5},
		{"infile", Head{Flag: FlagInfile, KeyLen: 5, DataLen: 9}, 14},
		{"file", Head{Flag: FlagFile, KeyLen: 5, DataLen: 0}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.head.TrailerLen(); got != tt.expected {
				t.Errorf("TrailerLen() = %d, want %d", got, tt.expected)
			}
		})
	}
}
