package jdb

import (
	"io"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

// readAlignedHead is the random-read metadata path spec §2 describes as an
// "aligned pread(offset, HEAD_SIZE)": it rounds offset down to the
// containing page boundary, pulls a whole number of pages through the
// Aligned Buffer Pool via DirectFile.ReadAt, and slices HeadSize bytes back
// out of it. Near the tail of a segment that has not been preallocated to a
// full page (a freshly-truncated recovery cutoff, for instance) the aligned
// read can come up short; ReadAt reports that as an error rather than a
// partial success, so this falls back to the unaligned ReadAtRaw path
// rather than failing a read that would otherwise succeed.
func readAlignedHead(f *DirectFile, offset int64) ([HeadSize]byte, error) {
	var out [HeadSize]byte
	pageStart := offset &^ (PageSize - 1)
	inner := int(offset - pageStart)

	buf, err := AllocateBuffer(inner + HeadSize)
	if err != nil {
		return out, err
	}
	if _, err := f.ReadAt(buf, pageStart); err != nil {
		if _, err := f.ReadAtRaw(out[:], offset); err != nil {
			return out, err
		}
		return out, nil
	}
	copy(out[:], buf.Full()[inner:inner+HeadSize])
	return out, nil
}

// ReadHeadAndTrailer reads one full record (Head, key, and — for INFILE —
// value) starting at offset in f. It validates the Head's structure and
// its CRC against the trailer actually read.
func ReadHeadAndTrailer(f *DirectFile, offset int64) (Head, []byte, []byte, error) {
	headBuf, err := readAlignedHead(f, offset)
	if err != nil {
		return Head{}, nil, nil, err
	}
	h, err := DecodeHead(headBuf[:])
	if err != nil {
		return Head{}, nil, nil, err
	}

	key := make([]byte, h.KeyLen)
	if h.KeyLen > 0 {
		if _, err := f.ReadAtRaw(key, offset+HeadSize); err != nil {
			return Head{}, nil, nil, err
		}
	}

	var value []byte
	if h.IsInfile() {
		value = make([]byte, h.DataLen)
		if h.DataLen > 0 {
			if _, err := f.ReadAtRaw(value, offset+HeadSize+int64(h.KeyLen)); err != nil {
				return Head{}, nil, nil, err
			}
		}
	}

	if err := h.VerifyCRC(headBuf[:crcCoveredPrefixLen], key, value); err != nil {
		return Head{}, nil, nil, err
	}
	return h, key, value, nil
}

// ScanRecord is one record yielded by ForwardScan.
type ScanRecord struct {
	Pos   Pos
	Head  Head
	Key   []byte
	Value []byte // only populated for INFILE records; FILE/INLINE leave it nil here
}

// ForwardScan walks a segment file from startOffset, calling visit for each
// valid record. It stops — without error — at the first structurally
// invalid or CRC-failing Head (a torn tail, per spec §4.3/§4.8) or at EOF,
// and returns the offset of the first byte not consumed (where the writer
// should resume appending).
func ForwardScan(f *DirectFile, walID uint64, startOffset int64, visit func(ScanRecord) error) (int64, error) {
	offset := startOffset
	size, err := f.Size()
	if err != nil {
		return offset, err
	}

	for offset+HeadSize <= size {
		h, key, value, err := ReadHeadAndTrailer(f, offset)
		if err != nil {
			if jdberr.Is(err, jdberr.Corrupt) {
				break
			}
			if jdberr.Is(err, jdberr.Io) {
				// A short read this close to EOF is the Direct-I/O
				// equivalent of a torn tail.
				break
			}
			return offset, err
		}

		recordLen := int64(HeadSize) + h.TrailerLen()
		rec := ScanRecord{
			Pos:   Pos{WalID: walID, Offset: uint64(offset), TotalLen: uint32(recordLen)},
			Head:  h,
			Key:   key,
			Value: value,
		}
		if err := visit(rec); err != nil {
			if err == errBatchFull {
				// The batch-full record was already fully processed by
				// visit (rewritten or counted dead); resume scanning
				// after it, not on it, so the next Step call doesn't
				// revisit a record it already handled.
				return offset + recordLen, err
			}
			return offset, err
		}
		offset += recordLen
	}
	return offset, nil
}

var _ = io.EOF // referenced for documentation parity with stdlib scan idioms
