package jdb

import (
	"unsafe"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

// PageSize is the alignment granularity assumed for Direct-I/O buffers.
const PageSize = 4096

// Buffer is a page-aligned, owned byte buffer suitable for Direct-I/O. A
// Buffer is moved into an I/O call for the duration of that call and handed
// back on completion; there is exactly one owner at a time.
type Buffer struct {
	raw    []byte // the backing allocation, oversized to allow alignment
	data   []byte // the page-aligned window into raw, len == capacity
	length int    // bytes written so far via Extend
	shared bool   // true for sub-buffers sliced out of a parent arena
}

// AllocateBuffer returns a zero-length buffer whose backing storage is
// rounded up to a whole number of pages and aligned to a page boundary.
// The only failure mode is allocation failure (OOM), reported rather than
// panicked, per spec §4.1.
func AllocateBuffer(capacity int) (*Buffer, error) {
	if capacity < 0 {
		return nil, jdberr.New(jdberr.InvalidArgument, "buffer.allocate").WithDetail("negative capacity")
	}
	rounded := roundUpPage(capacity)
	raw := make([]byte, rounded+PageSize-1)
	if raw == nil {
		return nil, jdberr.New(jdberr.Io, "buffer.allocate").WithDetail("allocation failed")
	}
	aligned := alignSlice(raw, PageSize)
	return &Buffer{raw: raw, data: aligned[:rounded]}, nil
}

// ZeroPage returns a single zeroed page-sized buffer.
func ZeroPage() *Buffer {
	b, _ := AllocateBuffer(PageSize)
	return b
}

func roundUpPage(n int) int {
	if n <= 0 {
		return PageSize
	}
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// alignSlice returns the sub-slice of raw starting at the first
// align-byte-aligned address, assuming raw has at least align-1 spare
// bytes at the tail to absorb the shift.
func alignSlice(raw []byte, align int) []byte {
	if len(raw) == 0 {
		return raw
	}
	addr := uintptr(unsafe.Pointer(&raw[0]))
	misalignment := int(addr % uintptr(align))
	if misalignment == 0 {
		return raw
	}
	offset := align - misalignment
	return raw[offset:]
}

// Cap returns the buffer's page-aligned capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of initialized (written) bytes.
func (b *Buffer) Len() int { return b.length }

// Bytes returns the initialized prefix of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Full returns the entire page-aligned window, including uninitialized tail
// bytes — the form Direct-I/O writes expect.
func (b *Buffer) Full() []byte { return b.data }

// Reset zeroes the initialized-length cursor without reallocating.
func (b *Buffer) Reset() { b.length = 0 }

// Extend appends bytes at the initialized-length cursor, bounds-checked
// against the buffer's capacity.
func (b *Buffer) Extend(p []byte) error {
	if b.length+len(p) > len(b.data) {
		return jdberr.New(jdberr.InvalidArgument, "buffer.extend").WithDetail("capacity exceeded")
	}
	copy(b.data[b.length:], p)
	b.length += len(p)
	return nil
}

// SliceInto splits the buffer's aligned window into disjoint sub-buffers of
// chunkSize bytes each (the final chunk may be shorter). Sub-buffers borrow
// storage from the parent arena and do not own it; the arena must outlive
// every sub-buffer returned here.
func (b *Buffer) SliceInto(chunkSize int) ([]*Buffer, error) {
	if chunkSize <= 0 {
		return nil, jdberr.New(jdberr.InvalidArgument, "buffer.slice_into").WithDetail("chunk size must be positive")
	}
	var out []*Buffer
	for start := 0; start < len(b.data); start += chunkSize {
		end := start + chunkSize
		if end > len(b.data) {
			end = len(b.data)
		}
		out = append(out, &Buffer{data: b.data[start:end], length: 0, shared: true})
	}
	return out, nil
}
