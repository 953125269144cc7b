package jdb

import (
	"testing"
)

func newTestWriter(t *testing.T, dir string, cfg Config) (*WALSegmentWriter, *CheckpointLog, *HandleCache) {
	t.Helper()
	ckp, after, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("OpenCheckpointLog failed: %v", err)
	}
	cache, err := NewHandleCache(dir, cfg.HandleCacheSize)
	if err != nil {
		t.Fatalf("NewHandleCache failed: %v", err)
	}
	w, err := NewWALSegmentWriter(dir, cfg, ckp, cache, after.WalID, int64(after.Offset))
	if err != nil {
		t.Fatalf("NewWALSegmentWriter failed: %v", err)
	}
	return w, ckp, cache
}

func TestWriterAppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	w, ckp, cache := newTestWriter(t, dir, cfg)
	defer ckp.Close()
	defer cache.Close()
	defer w.Close()

	key := []byte("k")
	value := []byte("value-bytes")
	head := Head{Flag: FlagInfile, KeyLen: uint16(len(key)), DataLen: uint32(len(value)), UncompressedLen: uint32(len(value))}

	encoded, err := EncodeHead(head, key, value)
	if err != nil {
		t.Fatalf("EncodeHead failed: %v", err)
	}
	trailer := append(append([]byte(nil), key...), value...)

	pos, err := w.Append(encoded, trailer)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	f, err := cache.Get(pos.WalID)
	if err != nil {
		t.Fatalf("cache.Get failed: %v", err)
	}
	gotHead, gotKey, gotValue, err := ReadHeadAndTrailer(f, int64(pos.Offset))
	if err != nil {
		t.Fatalf("ReadHeadAndTrailer failed: %v", err)
	}
	if string(gotKey) != string(key) {
		t.Errorf("key = %q, want %q", gotKey, key)
	}
	if string(gotValue) != string(value) {
		t.Errorf("value = %q, want %q", gotValue, value)
	}
	if gotHead.DataLen != head.DataLen {
		t.Errorf("data_len = %d, want %d", gotHead.DataLen, head.DataLen)
	}
}

func TestWriterRotatesAtSegmentBoundary(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.SegmentMaxBytes = 256
	w, ckp, cache := newTestWriter(t, dir, cfg)
	defer ckp.Close()
	defer cache.Close()
	defer w.Close()

	startWalID := w.CurrentWalID()
	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		value := []byte("01234567890123456789")
		head := Head{Flag: FlagInfile, KeyLen: 1, DataLen: uint32(len(value)), UncompressedLen: uint32(len(value))}
		encoded, err := EncodeHead(head, key, value)
		if err != nil {
			t.Fatalf("EncodeHead failed: %v", err)
		}
		trailer := append(append([]byte(nil), key...), value...)
		if _, err := w.Append(encoded, trailer); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	if w.CurrentWalID() == startWalID {
		t.Error("expected at least one rotation after exceeding SegmentMaxBytes repeatedly")
	}
}
