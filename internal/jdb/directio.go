package jdb

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

// DirectFile wraps an os.File with the alignment and durability semantics
// spec §4.2 requires: page-aligned offsets and lengths on the ReadAt/WriteAt
// path, O_DSYNC in WAL mode so a write_at call only returns once the data is
// durable, preallocate without zero-fill, and a directory-fsync helper for
// after create/rename.
//
// This implementation targets Linux (golang.org/x/sys/unix for Fallocate
// and O_DSYNC) but deliberately does not open with O_DIRECT: the kernel's
// O_DIRECT requires every request to go through the alignment contract
// ReadAt/WriteAt enforce, and several of the filesystems this engine runs
// on in practice (overlayfs, tmpfs) reject it outright. Durability instead
// comes from O_DSYNC plus explicit Sync calls, and alignment is enforced in
// software by ReadAt/WriteAt regardless of whether the kernel would also
// enforce it — the spec's "aligned pread/pwrite" contract (§2, §4.2) holds
// either way. The spec's macOS/Windows variants are noted in spec.md §4.2
// as alternate platform bindings to the same contract and are not
// implemented here.
type DirectFile struct {
	f    *os.File
	path string
}

// OpenDirectFile opens path with the given flags. When walMode is true, the
// file is opened with O_DSYNC so every write_at is synchronously durable
// before it returns.
func OpenDirectFile(path string, flags int, perm os.FileMode, walMode bool) (*DirectFile, error) {
	sysFlags := flags
	if walMode {
		sysFlags |= unix.O_DSYNC
	}
	fd, err := unix.Open(path, sysFlags, uint32(perm))
	if err != nil {
		return nil, jdberr.Wrap("directio.open", err).WithPath(path)
	}
	f := os.NewFile(uintptr(fd), path)
	return &DirectFile{f: f, path: path}, nil
}

func isAligned(offset int64, length int) bool {
	return offset%PageSize == 0 && length%PageSize == 0
}

// ReadAt performs an aligned pread into buf's full aligned window, starting
// at offset. Offset and the buffer length must both be page-aligned, and a
// short read is reported as an error rather than a partial success.
func (d *DirectFile) ReadAt(buf *Buffer, offset int64) (int, error) {
	if !isAligned(offset, buf.Cap()) {
		return 0, jdberr.New(jdberr.Alignment, "directio.read_at").WithPath(d.path)
	}
	n, err := d.f.ReadAt(buf.Full(), offset)
	if err != nil {
		return n, jdberr.Wrap("directio.read_at", err).WithPath(d.path)
	}
	if n != buf.Cap() {
		return n, jdberr.New(jdberr.Io, "directio.read_at").WithPath(d.path).WithDetail("short read")
	}
	buf.length = n
	return n, nil
}

// WriteAt performs an aligned pwrite of buf's initialized bytes, starting at
// offset. Offset and length must both be page-aligned; a short write is an
// error.
func (d *DirectFile) WriteAt(buf *Buffer, offset int64) (int, error) {
	data := buf.Bytes()
	if !isAligned(offset, len(data)) {
		return 0, jdberr.New(jdberr.Alignment, "directio.write_at").WithPath(d.path)
	}
	n, err := d.f.WriteAt(data, offset)
	if err != nil {
		return n, jdberr.Wrap("directio.write_at", err).WithPath(d.path)
	}
	if n != len(data) {
		return n, jdberr.New(jdberr.Io, "directio.write_at").WithPath(d.path).WithDetail("short write")
	}
	return n, nil
}

// ReadAtRaw performs a pread of exactly len(buf) bytes at offset without the
// page-alignment requirement, used for Head/payload reads whose lengths are
// not page multiples.
func (d *DirectFile) ReadAtRaw(buf []byte, offset int64) (int, error) {
	n, err := d.f.ReadAt(buf, offset)
	if err != nil {
		return n, jdberr.Wrap("directio.read_at_raw", err).WithPath(d.path)
	}
	if n != len(buf) {
		return n, jdberr.New(jdberr.Io, "directio.read_at_raw").WithPath(d.path).WithDetail("short read")
	}
	return n, nil
}

// WriteAtRaw performs a durable pwrite without the page-alignment
// requirement: used by the WAL segment writer, whose records are not
// page-sized, relying on the file's O_DSYNC mode (set at open time via
// walMode) for durability instead of Direct-I/O alignment.
func (d *DirectFile) WriteAtRaw(data []byte, offset int64) (int, error) {
	n, err := d.f.WriteAt(data, offset)
	if err != nil {
		return n, jdberr.Wrap("directio.write_at_raw", err).WithPath(d.path)
	}
	if n != len(data) {
		return n, jdberr.New(jdberr.Io, "directio.write_at_raw").WithPath(d.path).WithDetail("short write")
	}
	return n, nil
}

// Sync durably flushes the file's contents and metadata.
func (d *DirectFile) Sync() error {
	if err := d.f.Sync(); err != nil {
		return jdberr.Wrap("directio.sync", err).WithPath(d.path)
	}
	return nil
}

// Preallocate extends the file to length bytes without zero-filling on
// filesystems that support fallocate.
func (d *DirectFile) Preallocate(length int64) error {
	if err := unix.Fallocate(int(d.f.Fd()), 0, 0, length); err != nil {
		return jdberr.Wrap("directio.preallocate", err).WithPath(d.path)
	}
	return nil
}

// PreallocateFallback grows the file to length bytes on filesystems where
// Fallocate is unavailable, by durably writing a single zeroed page at the
// last page boundary below length through the aligned Direct-I/O path —
// the same sparse-extend effect Preallocate gets from fallocate, without
// depending on it.
func (d *DirectFile) PreallocateFallback(length int64) error {
	if length < PageSize {
		return nil
	}
	lastPage := (length - 1) &^ (PageSize - 1)
	buf := ZeroPage()
	if buf == nil {
		return jdberr.New(jdberr.Io, "directio.preallocate_fallback").WithPath(d.path).WithDetail("zero page allocation failed")
	}
	if err := buf.Extend(make([]byte, buf.Cap())); err != nil {
		return jdberr.Wrap("directio.preallocate_fallback", err).WithPath(d.path)
	}
	if _, err := d.WriteAt(buf, lastPage); err != nil {
		return err
	}
	return nil
}

// Truncate sets the file's length, used to discard a torn tail on recovery.
func (d *DirectFile) Truncate(size int64) error {
	if err := d.f.Truncate(size); err != nil {
		return jdberr.Wrap("directio.truncate", err).WithPath(d.path)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (d *DirectFile) Close() error {
	if err := d.f.Close(); err != nil {
		return jdberr.Wrap("directio.close", err).WithPath(d.path)
	}
	return nil
}

// Size returns the file's current length.
func (d *DirectFile) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, jdberr.Wrap("directio.size", err).WithPath(d.path)
	}
	return fi.Size(), nil
}

// File exposes the underlying *os.File for callers (such as the segment
// reader) that need ordinary, non-Direct-I/O access to the same descriptor.
func (d *DirectFile) File() *os.File { return d.f }

// SyncDir fsyncs a directory so that file creations/renames within it are
// durable, per spec §4.2's recovery requirement.
func SyncDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return jdberr.Wrap("directio.sync_dir", err).WithPath(dir)
	}
	f, err := os.Open(abs)
	if err != nil {
		return jdberr.Wrap("directio.sync_dir", err).WithPath(dir)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return jdberr.Wrap("directio.sync_dir", err).WithPath(dir)
	}
	return nil
}
