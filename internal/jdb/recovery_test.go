package jdb

import (
	"os"
	"testing"
)

func TestRecoverReplaysValidRecordsAndStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	ckp, after, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("OpenCheckpointLog failed: %v", err)
	}
	w, err := NewWALSegmentWriter(dir, cfg, ckp, nil, after.WalID, int64(after.Offset))
	if err != nil {
		t.Fatalf("NewWALSegmentWriter failed: %v", err)
	}

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, k := range keys {
		value := []byte("value-for-" + string(k))
		head := Head{Flag: FlagInfile, KeyLen: uint16(len(k)), DataLen: uint32(len(value)), UncompressedLen: uint32(len(value))}
		encoded, err := EncodeHead(head, k, value)
		if err != nil {
			t.Fatalf("EncodeHead failed: %v", err)
		}
		trailer := append(append([]byte(nil), k...), value...)
		if _, err := w.Append(encoded, trailer); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	validOffset := w.CurrentOffset()
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ckp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash mid-write: append a partial, garbage Head past the
	// last valid record.
	path := segmentPath(dir, after.WalID)
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to reopen segment for corruption: %v", err)
	}
	if _, err := f.WriteAt([]byte{magicByte, 0xFF, 0xFF, 0xFF}, validOffset); err != nil {
		t.Fatalf("failed to write torn tail: %v", err)
	}
	f.Close()

	ckp2, after2, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("reopen OpenCheckpointLog failed: %v", err)
	}
	defer ckp2.Close()

	var replayed [][]byte
	result, err := Recover(dir, cfg, after2, ckp2, func(rec ScanRecord) error {
		replayed = append(replayed, rec.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	if len(replayed) != len(keys) {
		t.Fatalf("expected %d replayed records, got %d", len(keys), len(replayed))
	}
	for i, k := range keys {
		if string(replayed[i]) != string(k) {
			t.Errorf("replayed[%d] = %q, want %q", i, replayed[i], k)
		}
	}
	if result.Offset != validOffset {
		t.Errorf("resume offset = %d, want %d", result.Offset, validOffset)
	}

	size, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if size.Size() != validOffset {
		t.Errorf("expected segment truncated to %d bytes, got %d", validOffset, size.Size())
	}
}
