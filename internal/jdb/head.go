package jdb

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

// HeadSize is the fixed on-disk size of a Head, in bytes.
const HeadSize = 64

// InlineSlotSize is the width of the inline value region inside a Head.
const InlineSlotSize = 32

const (
	magicByte     byte = 0x4A // 'J'
	magicTailByte byte = 0x44 // 'D'
)

// Byte offsets within the 64-byte Head, per the on-disk layout.
const (
	offMagic            = 0
	offFlag             = 1
	offKeyLen           = 3
	offDataLen          = 5
	offUncompressedLen  = 9
	offExternalID       = 13
	offInline           = 21
	offReservedPad      = offInline + InlineSlotSize // 53
	reservedPadLen      = 6
	offCRC32            = offReservedPad + reservedPadLen // 59
	offMagicTail        = 63
	crcCoveredPrefixLen = offCRC32 // bytes [0:59) feed the CRC, plus the key and any INFILE payload
)

// Flags is the Head's bitset of placement and state flags.
type Flags uint16

const (
	FlagInline         Flags = 1 << 0
	FlagInfile         Flags = 1 << 1
	FlagFile           Flags = 1 << 2
	FlagCompressedLZ4  Flags = 1 << 3
	FlagCompressedZstd Flags = 1 << 4
	FlagTombstone      Flags = 1 << 5
	FlagProbed         Flags = 1 << 6
	FlagGCRewritten    Flags = 1 << 7

	knownFlagMask = FlagInline | FlagInfile | FlagFile | FlagCompressedLZ4 |
		FlagCompressedZstd | FlagTombstone | FlagProbed | FlagGCRewritten
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Head is the 64-byte fixed metadata block that prefixes every record.
type Head struct {
	Flag             Flags
	KeyLen           uint16
	DataLen          uint32
	UncompressedLen  uint32
	ExternalID       uint64
	Inline           [InlineSlotSize]byte
	CRC32            uint32
}

// validatePlacement checks the placement invariants from spec §3 before
// encoding or after decoding.
func (h Head) validatePlacement() error {
	var placements int
	for _, f := range []Flags{FlagInline, FlagInfile, FlagFile} {
		if h.Flag.has(f) {
			placements++
		}
	}
	if placements != 1 {
		return jdberr.New(jdberr.Corrupt, "head.validate").WithDetail("exactly one of INLINE|INFILE|FILE must be set")
	}
	if h.Flag&^knownFlagMask != 0 {
		return jdberr.New(jdberr.Corrupt, "head.validate").WithDetail("unknown flag bit set")
	}
	if h.Flag.has(FlagInline) {
		if h.DataLen > InlineSlotSize {
			return jdberr.New(jdberr.Corrupt, "head.validate").WithDetail("INLINE data_len exceeds inline slot")
		}
		if h.UncompressedLen != h.DataLen {
			return jdberr.New(jdberr.Corrupt, "head.validate").WithDetail("INLINE uncompressed_len must equal data_len")
		}
	}
	if h.Flag.has(FlagFile) && h.DataLen != 0 {
		return jdberr.New(jdberr.Corrupt, "head.validate").WithDetail("FILE data_len must be zero in the WAL")
	}
	if h.Flag.has(FlagCompressedLZ4) && h.Flag.has(FlagCompressedZstd) {
		return jdberr.New(jdberr.Corrupt, "head.validate").WithDetail("COMPRESSED_LZ4 and COMPRESSED_ZSTD are mutually exclusive")
	}
	if h.Flag.has(FlagTombstone) {
		if h.DataLen != 0 || !h.Flag.has(FlagInline) {
			return jdberr.New(jdberr.Corrupt, "head.validate").WithDetail("TOMBSTONE must be INLINE with data_len 0")
		}
	}
	return nil
}

// IsInline, IsInfile, IsFile report the record's value placement.
func (h Head) IsInline() bool    { return h.Flag.has(FlagInline) }
func (h Head) IsInfile() bool    { return h.Flag.has(FlagInfile) }
func (h Head) IsFile() bool      { return h.Flag.has(FlagFile) }
func (h Head) IsTombstone() bool { return h.Flag.has(FlagTombstone) }
func (h Head) IsCompressed() bool {
	return h.Flag.has(FlagCompressedLZ4) || h.Flag.has(FlagCompressedZstd)
}

// trailerBytes is the key bytes, and for INFILE records the value bytes
// immediately following them, that trail every Head on disk. The key is
// part of every record regardless of placement — without it recovery could
// not rebuild the caller's key→Pos memtable purely from the WAL, which the
// glossary requires it to serve as ("the recovery source of truth"). This
// generalizes spec §4.3's literal "Head bytes + INFILE payload" CRC
// coverage to "Head bytes + key bytes + INFILE payload bytes"; see
// DESIGN.md for the recorded rationale.
func trailerCRC(headPrefix []byte, key []byte, infileValue []byte) uint32 {
	crc := crc32.ChecksumIEEE(headPrefix)
	if len(key) > 0 {
		crc = crc32.Update(crc, crc32.IEEETable, key)
	}
	if len(infileValue) > 0 {
		crc = crc32.Update(crc, crc32.IEEETable, infileValue)
	}
	return crc
}

// EncodeHead serializes h into a fresh 64-byte buffer. key must have length
// h.KeyLen; infileValue is the value bytes when h is INFILE (nil
// otherwise). Neither is copied into the returned buffer — the caller
// appends key (and, for INFILE, the value) immediately after the Head.
func EncodeHead(h Head, key []byte, infileValue []byte) ([HeadSize]byte, error) {
	var buf [HeadSize]byte
	if err := h.validatePlacement(); err != nil {
		return buf, err
	}
	if int(h.KeyLen) != len(key) {
		return buf, jdberr.New(jdberr.InvalidArgument, "head.encode").WithDetail("key_len does not match key")
	}

	buf[offMagic] = magicByte
	binary.LittleEndian.PutUint16(buf[offFlag:], uint16(h.Flag))
	binary.LittleEndian.PutUint16(buf[offKeyLen:], h.KeyLen)
	binary.LittleEndian.PutUint32(buf[offDataLen:], h.DataLen)
	binary.LittleEndian.PutUint32(buf[offUncompressedLen:], h.UncompressedLen)
	binary.LittleEndian.PutUint64(buf[offExternalID:], h.ExternalID)
	copy(buf[offInline:offInline+InlineSlotSize], h.Inline[:])
	// buf[offReservedPad:offCRC32] stays zero.
	buf[offMagicTail] = magicTailByte

	var value []byte
	if h.IsInfile() {
		value = infileValue
	}
	crc := trailerCRC(buf[:crcCoveredPrefixLen], key, value)
	binary.LittleEndian.PutUint32(buf[offCRC32:], crc)

	return buf, nil
}

// DecodeHead parses a 64-byte Head. It validates magic, magic_tail, the
// placement invariants, and known-flag bits, but does NOT verify the CRC —
// that requires the trailing key (and, for INFILE, value) bytes, which the
// caller reads separately and passes to VerifyCRC. On any rejection here,
// the scan calling this must be treated as having hit a torn write (spec
// §4.3).
func DecodeHead(buf []byte) (Head, error) {
	var h Head
	if len(buf) < HeadSize {
		return h, jdberr.New(jdberr.Corrupt, "head.decode").WithDetail("short read")
	}
	if buf[offMagic] != magicByte {
		return h, jdberr.New(jdberr.Corrupt, "head.decode").WithDetail("bad magic")
	}
	if buf[offMagicTail] != magicTailByte {
		return h, jdberr.New(jdberr.Corrupt, "head.decode").WithDetail("bad magic_tail")
	}

	h.Flag = Flags(binary.LittleEndian.Uint16(buf[offFlag:]))
	h.KeyLen = binary.LittleEndian.Uint16(buf[offKeyLen:])
	h.DataLen = binary.LittleEndian.Uint32(buf[offDataLen:])
	h.UncompressedLen = binary.LittleEndian.Uint32(buf[offUncompressedLen:])
	h.ExternalID = binary.LittleEndian.Uint64(buf[offExternalID:])
	copy(h.Inline[:], buf[offInline:offInline+InlineSlotSize])
	h.CRC32 = binary.LittleEndian.Uint32(buf[offCRC32:])

	if err := h.validatePlacement(); err != nil {
		return h, err
	}
	return h, nil
}

// VerifyCRC recomputes the trailer CRC from a header prefix (the first
// crcCoveredPrefixLen bytes of an encoded Head), the trailing key bytes,
// and — for INFILE records — the value bytes, and compares it against
// h.CRC32.
func (h Head) VerifyCRC(headPrefix []byte, key []byte, infileValue []byte) error {
	if trailerCRC(headPrefix, key, infileValue) != h.CRC32 {
		return jdberr.New(jdberr.Corrupt, "head.verify_crc").WithDetail("crc mismatch")
	}
	return nil
}

// TrailerLen returns how many bytes follow the Head on disk: the key, plus
// the value when the record is INFILE.
func (h Head) TrailerLen() int64 {
	n := int64(h.KeyLen)
	if h.IsInfile() {
		n += int64(h.DataLen)
	}
	return n
}
