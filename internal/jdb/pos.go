package jdb

import "fmt"

// Pos is the logical location of a record inside the WAL universe: the
// segment it lives in, the byte offset within that segment, and the total
// number of bytes the reader must acquire from the segment (Head, key bytes,
// and any INFILE payload). It uniquely names a record.
type Pos struct {
	WalID    uint64
	Offset   uint64
	TotalLen uint32
}

func (p Pos) String() string {
	return fmt.Sprintf("Pos{wal_id=%d, offset=%d, total_len=%d}", p.WalID, p.Offset, p.TotalLen)
}

// Less orders positions the way the writer's monotonic position does:
// strictly by wal_id, then by offset within a segment.
func (p Pos) Less(other Pos) bool {
	if p.WalID != other.WalID {
		return p.WalID < other.WalID
	}
	return p.Offset < other.Offset
}

// IsZero reports whether p is the zero value, used as a sentinel for "no
// position yet" in callers that haven't written anything.
func (p Pos) IsZero() bool {
	return p.WalID == 0 && p.Offset == 0 && p.TotalLen == 0
}
