package jdb

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointSaveAndReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig().normalize()

	ckp, after, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("OpenCheckpointLog failed: %v", err)
	}
	if after.WalID != 1 || after.Offset != 0 {
		t.Fatalf("expected a fresh directory to fold to wal_id=1 offset=0, got %+v", after)
	}

	if err := ckp.Rotate(2); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if err := ckp.Save(2, 128); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := ckp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ckp2, after2, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("reopen OpenCheckpointLog failed: %v", err)
	}
	defer ckp2.Close()

	if after2.WalID != 2 || after2.Offset != 128 {
		t.Errorf("after reopen: got %+v, want wal_id=2 offset=128", after2)
	}
	if len(after2.PendingRotations) != 0 {
		t.Errorf("expected no pending rotations once SAVE covers wal_id 2, got %v", after2.PendingRotations)
	}
}

func TestCheckpointPendingRotationSurvivesWithoutSave(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig().normalize()

	ckp, _, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("OpenCheckpointLog failed: %v", err)
	}
	if err := ckp.Save(1, 50); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := ckp.Rotate(2); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if err := ckp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, after, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if after.WalID != 1 || after.Offset != 50 {
		t.Errorf("got %+v, want wal_id=1 offset=50", after)
	}
	if len(after.PendingRotations) != 1 || after.PendingRotations[0] != 2 {
		t.Errorf("expected pending rotation [2], got %v", after.PendingRotations)
	}
}

func TestCheckpointTruncatedTailToleratedOnReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig().normalize()

	ckp, _, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("OpenCheckpointLog failed: %v", err)
	}
	if err := ckp.Save(1, 10); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := ckp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a torn tail: append a few garbage bytes directly.
	path := filepath.Join(dir, "ckp.log")
	appendGarbage(t, path, []byte{ckpMagic, ckpKindSave, 0x01})

	_, after, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		t.Fatalf("reopen with torn tail should not fail: %v", err)
	}
	if after.WalID != 1 || after.Offset != 10 {
		t.Errorf("expected last valid SAVE to survive a torn tail, got %+v", after)
	}
}

func appendGarbage(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("failed to open %s for garbage append: %v", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		t.Fatalf("failed to append garbage: %v", err)
	}
}
