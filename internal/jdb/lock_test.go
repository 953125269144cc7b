package jdb

import (
	"testing"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

func TestAcquireDirLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("first AcquireDirLock failed: %v", err)
	}
	defer first.Release()

	if _, err := AcquireDirLock(dir); err == nil {
		t.Error("expected second AcquireDirLock to fail while the first is held")
	} else if !jdberr.Is(err, jdberr.Locked) {
		t.Errorf("expected Locked error code, got %v", err)
	}
}

func TestAcquireDirLockReacquirableAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("AcquireDirLock failed: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	second, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("expected AcquireDirLock to succeed after release, got: %v", err)
	}
	defer second.Release()
}

func TestDirLockAndGCLockAreIndependent(t *testing.T) {
	dir := t.TempDir()

	dirLock, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("AcquireDirLock failed: %v", err)
	}
	defer dirLock.Release()

	gcLock, err := AcquireGCLock(dir)
	if err != nil {
		t.Fatalf("expected AcquireGCLock to succeed while the directory lock is held, got: %v", err)
	}
	defer gcLock.Release()
}
