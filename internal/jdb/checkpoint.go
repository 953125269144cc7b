package jdb

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
	"github.com/dsjohal14/jdb/internal/libs/obs"
)

const (
	ckpMagic      byte = 0x43 // 'C'
	ckpKindSave   byte = 0x01
	ckpKindRotate byte = 0x02

	ckpSaveSize   = 22
	ckpRotateSize = 14
)

// After is the folded result of parsing the checkpoint log: the last known
// durable write position, plus any segments that rotated in after it.
type After struct {
	WalID            uint64
	Offset           uint64
	PendingRotations []uint64
}

// CheckpointLog is the append-only, self-compacting `ckp.log` side journal
// described in spec §4.7/§6.3.
type CheckpointLog struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	log   zerolog.Logger
	cfg   Config
	count int

	lastSave    After
	liveRotate  []uint64 // pending rotations currently implied live, ordered & deduped
}

// OpenCheckpointLog parses any existing ckp.log (tolerating a torn tail),
// returns the resulting After record, and leaves the log open for append.
func OpenCheckpointLog(dataDir string, cfg Config) (*CheckpointLog, After, error) {
	path := filepath.Join(dataDir, "ckp.log")
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, After{}, jdberr.Wrap("checkpoint.open", err).WithPath(path)
	}

	after, count := parseCheckpointLog(raw)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, After{}, jdberr.Wrap("checkpoint.open", err).WithPath(path)
	}

	c := &CheckpointLog{
		path:       path,
		f:          f,
		log:        obs.Logger("checkpoint"),
		cfg:        cfg,
		count:      count,
		lastSave:   after,
		liveRotate: append([]uint64(nil), after.PendingRotations...),
	}
	return c, after, nil
}

// parseCheckpointLog scans entries from the start, verifying CRCs, and
// stops at the first failure (torn tail). It returns the folded After
// record and the number of whole, valid entries consumed.
//
// A directory that has never been opened before (no ckp.log, or one with no
// valid SAVE entry yet) folds to wal_id 1, not 0: segments are 1-indexed on
// disk (spec §6.1's layout starts at `...0001.wal`), so there is no segment
// 0 for a fresh store's writer to seed itself from.
func parseCheckpointLog(raw []byte) (After, int) {
	var after After
	var rotations []uint64
	sawSave := false
	pos := 0
	count := 0

	finish := func() (After, int) {
		if !sawSave {
			after.WalID = 1
		}
		return fold(after, rotations), count
	}

	for pos < len(raw) {
		if pos+2 > len(raw) {
			break
		}
		if raw[pos] != ckpMagic {
			break
		}
		kind := raw[pos+1]
		switch kind {
		case ckpKindSave:
			if pos+ckpSaveSize > len(raw) {
				return finish()
			}
			entry := raw[pos : pos+ckpSaveSize]
			crc := binary.LittleEndian.Uint32(entry[18:22])
			if crc32.ChecksumIEEE(entry[:18]) != crc {
				return finish()
			}
			after.WalID = binary.LittleEndian.Uint64(entry[2:10])
			after.Offset = binary.LittleEndian.Uint64(entry[10:18])
			sawSave = true
			pos += ckpSaveSize
		case ckpKindRotate:
			if pos+ckpRotateSize > len(raw) {
				return finish()
			}
			entry := raw[pos : pos+ckpRotateSize]
			crc := binary.LittleEndian.Uint32(entry[10:14])
			if crc32.ChecksumIEEE(entry[:10]) != crc {
				return finish()
			}
			rotations = append(rotations, binary.LittleEndian.Uint64(entry[2:10]))
			pos += ckpRotateSize
		default:
			return finish()
		}
		count++
	}
	return finish()
}

// fold applies "currently live" semantics: the most recent SAVE, plus any
// ROTATE(wal_id) whose wal_id is strictly greater, deduplicated and ordered.
func fold(after After, rotations []uint64) After {
	seen := map[uint64]bool{}
	var live []uint64
	for _, r := range rotations {
		if r > after.WalID && !seen[r] {
			seen[r] = true
			live = append(live, r)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	after.PendingRotations = live
	return after
}

// Save durably appends a SAVE(wal_id, offset) entry, debounced/coalesced on
// the caller side per spec §4.7 (one call per sync cycle is expected).
func (c *CheckpointLog) Save(walID, offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf [ckpSaveSize]byte
	buf[0] = ckpMagic
	buf[1] = ckpKindSave
	binary.LittleEndian.PutUint64(buf[2:10], walID)
	binary.LittleEndian.PutUint64(buf[10:18], offset)
	crc := crc32.ChecksumIEEE(buf[:18])
	binary.LittleEndian.PutUint32(buf[18:22], crc)

	if err := c.appendLocked(buf[:]); err != nil {
		return err
	}
	c.lastSave = After{WalID: walID, Offset: offset}
	c.pruneLiveRotateLocked()
	return c.maybeCompactLocked()
}

// Rotate durably appends a ROTATE(wal_id) entry, marking that segment
// wal_id has come into existence.
func (c *CheckpointLog) Rotate(walID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf [ckpRotateSize]byte
	buf[0] = ckpMagic
	buf[1] = ckpKindRotate
	binary.LittleEndian.PutUint64(buf[2:10], walID)
	crc := crc32.ChecksumIEEE(buf[:10])
	binary.LittleEndian.PutUint32(buf[10:14], crc)

	if err := c.appendLocked(buf[:]); err != nil {
		return err
	}
	if walID > c.lastSave.WalID {
		c.liveRotate = append(c.liveRotate, walID)
	}
	return c.maybeCompactLocked()
}

func (c *CheckpointLog) pruneLiveRotateLocked() {
	var kept []uint64
	for _, r := range c.liveRotate {
		if r > c.lastSave.WalID {
			kept = append(kept, r)
		}
	}
	c.liveRotate = kept
}

func (c *CheckpointLog) appendLocked(entry []byte) error {
	if _, err := c.f.Write(entry); err != nil {
		return jdberr.Wrap("checkpoint.append", err).WithPath(c.path)
	}
	if err := c.f.Sync(); err != nil {
		return jdberr.Wrap("checkpoint.append", err).WithPath(c.path)
	}
	c.count++
	return nil
}

// WalIDOffset returns the last-saved position.
func (c *CheckpointLog) WalIDOffset() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSave.WalID, c.lastSave.Offset
}

// maybeCompactLocked rewrites the log to only its currently-live entries
// once the entry count crosses CheckpointCompactThreshold. Callers must
// hold c.mu.
func (c *CheckpointLog) maybeCompactLocked() error {
	if c.count < c.cfg.CheckpointCompactThreshold {
		return nil
	}
	return c.compactLocked()
}

func (c *CheckpointLog) compactLocked() error {
	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return jdberr.Wrap("checkpoint.compact", err).WithPath(tmp)
	}

	var save [ckpSaveSize]byte
	save[0] = ckpMagic
	save[1] = ckpKindSave
	binary.LittleEndian.PutUint64(save[2:10], c.lastSave.WalID)
	binary.LittleEndian.PutUint64(save[10:18], c.lastSave.Offset)
	binary.LittleEndian.PutUint32(save[18:22], crc32.ChecksumIEEE(save[:18]))
	if _, err := f.Write(save[:]); err != nil {
		f.Close()
		return jdberr.Wrap("checkpoint.compact", err).WithPath(tmp)
	}

	newCount := 1
	for _, walID := range c.liveRotate {
		var rot [ckpRotateSize]byte
		rot[0] = ckpMagic
		rot[1] = ckpKindRotate
		binary.LittleEndian.PutUint64(rot[2:10], walID)
		binary.LittleEndian.PutUint32(rot[10:14], crc32.ChecksumIEEE(rot[:10]))
		if _, err := f.Write(rot[:]); err != nil {
			f.Close()
			return jdberr.Wrap("checkpoint.compact", err).WithPath(tmp)
		}
		newCount++
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return jdberr.Wrap("checkpoint.compact", err).WithPath(tmp)
	}
	if err := f.Close(); err != nil {
		return jdberr.Wrap("checkpoint.compact", err).WithPath(tmp)
	}
	if err := c.f.Close(); err != nil {
		return jdberr.Wrap("checkpoint.compact", err).WithPath(c.path)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return jdberr.Wrap("checkpoint.compact", err).WithPath(c.path)
	}
	if err := SyncDir(filepath.Dir(c.path)); err != nil {
		return err
	}

	newF, err := os.OpenFile(c.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return jdberr.Wrap("checkpoint.compact", err).WithPath(c.path)
	}
	c.f = newF
	c.count = newCount
	c.log.Info().Int("entries", newCount).Msg("checkpoint log compacted")
	return nil
}

// Close flushes and closes the checkpoint log file.
func (c *CheckpointLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.f.Sync(); err != nil {
		return jdberr.Wrap("checkpoint.close", err).WithPath(c.path)
	}
	return c.f.Close()
}
