package jdb

import "testing"

func TestExternalStoreWriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewExternalStore(dir, 0)
	if err != nil {
		t.Fatalf("NewExternalStore failed: %v", err)
	}

	id := store.AllocateID()
	data := []byte("a reasonably sized external blob")

	if err := store.Write(id, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !store.Exists(id) {
		t.Error("Exists() = false after Write")
	}

	got, err := store.Read(id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Read() = %q, want %q", got, data)
	}

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Exists(id) {
		t.Error("Exists() = true after Delete")
	}
}

func TestExternalStoreReadMissingIsMissingError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewExternalStore(dir, 0)
	if err != nil {
		t.Fatalf("NewExternalStore failed: %v", err)
	}
	if _, err := store.Read(999); err == nil {
		t.Error("expected error reading nonexistent id, got nil")
	}
}

func TestExternalStoreAllocateIDMonotonic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewExternalStore(dir, 10)
	if err != nil {
		t.Fatalf("NewExternalStore failed: %v", err)
	}
	a := store.AllocateID()
	b := store.AllocateID()
	if !(b > a && a > 10) {
		t.Errorf("expected strictly increasing ids above seed, got a=%d b=%d", a, b)
	}
}

func TestExternalStoreSweepOrphans(t *testing.T) {
	dir := t.TempDir()
	store, err := NewExternalStore(dir, 0)
	if err != nil {
		t.Fatalf("NewExternalStore failed: %v", err)
	}

	live := store.AllocateID()
	orphan := store.AllocateID()
	if err := store.Write(live, []byte("keep")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write(orphan, []byte("drop")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := store.SweepOrphans(map[uint64]bool{live: true}); err != nil {
		t.Fatalf("SweepOrphans failed: %v", err)
	}

	if !store.Exists(live) {
		t.Error("SweepOrphans removed a live id")
	}
	if store.Exists(orphan) {
		t.Error("SweepOrphans left an orphaned id behind")
	}
}
