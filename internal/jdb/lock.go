package jdb

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

// FileLock is a single process-exclusive advisory lock backed by flock(2),
// used both for the per-directory writer lock and the GC's separate lock
// file (spec §4.9's "distinct from the directory lock" requirement).
type FileLock struct {
	f    *os.File
	path string
}

// acquireLock opens (creating if needed) path and takes an exclusive flock.
// When blocking is false, contention returns jdberr.Locked immediately
// rather than waiting.
func acquireLock(path string, blocking bool) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, jdberr.Wrap("lock.open", err).WithPath(path)
	}

	how := unix.LOCK_EX
	if !blocking {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, jdberr.New(jdberr.Locked, "lock.acquire").WithPath(path)
		}
		return nil, jdberr.Wrap("lock.acquire", err).WithPath(path)
	}
	return &FileLock{f: f, path: path}, nil
}

// AcquireDirLock takes the single-writer-per-directory lock described in
// spec §4.1. Only one open() per data directory may hold this at a time;
// a second attempt fails fast with jdberr.Locked.
func AcquireDirLock(dataDir string) (*FileLock, error) {
	return acquireLock(filepath.Join(dataDir, "LOCK"), false)
}

// AcquireGCLock takes the GC's own non-blocking lock file, kept separate
// from the directory lock so a foreground writer and a background GC cycle
// can run concurrently within the same process while still excluding a
// second concurrent GC cycle (spec §4.9).
func AcquireGCLock(dataDir string) (*FileLock, error) {
	return acquireLock(filepath.Join(dataDir, "gc.lock"), false)
}

// Release drops the lock and closes the underlying file.
func (l *FileLock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return jdberr.Wrap("lock.release", err).WithPath(l.path)
	}
	return l.f.Close()
}
