package jdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
	"github.com/dsjohal14/jdb/internal/libs/obs"
)

// segBuffer is one of the writer's two double-buffer slots: an
// in-memory accumulation of not-yet-durable record bytes, plus the segment
// offset its first byte belongs at. A swap hands the accumulated bytes to
// the background write and leaves the slot empty, so appends into a reused
// slot never touch bytes still being written; inFlight records whether the
// last handed-off write has landed and is not consulted before reuse.
type segBuffer struct {
	mu         sync.Mutex
	data       []byte
	baseOffset int64
	inFlight   bool
}

// WALSegmentWriter appends Heads (and INFILE payloads) into the current
// segment, double-buffered per spec §4.4: the active buffer absorbs
// appends while the other, if full, drains to disk in the background.
type WALSegmentWriter struct {
	mu  sync.Mutex // guards everything below except buffer internals
	dir string
	cfg Config
	log zerolog.Logger

	ckp   *CheckpointLog
	cache *HandleCache

	walID           uint64
	segFile         *DirectFile
	segBytesWritten int64

	bufs       [2]*segBuffer
	active     int
	flushWG    sync.WaitGroup
	flushErrMu sync.Mutex
	flushErr   error
}

// bufferCapacity bounds how much an individual double-buffer slot
// accumulates before a swap-and-flush is forced on the next append.
const bufferCapacity = 256 * 1024

func walDir(dataDir string) string { return filepath.Join(dataDir, "wal") }

func segmentPath(dataDir string, walID uint64) string {
	return filepath.Join(walDir(dataDir), fmt.Sprintf("%016x.wal", walID))
}

// NewWALSegmentWriter creates (or continues appending to) the segment named
// walID at byte offset startOffset, as determined by the recovery driver.
func NewWALSegmentWriter(dir string, cfg Config, ckp *CheckpointLog, cache *HandleCache, walID uint64, startOffset int64) (*WALSegmentWriter, error) {
	if err := os.MkdirAll(walDir(dir), 0755); err != nil {
		return nil, jdberr.Wrap("writer.open", err).WithPath(dir)
	}
	path := segmentPath(dir, walID)
	f, err := OpenDirectFile(path, os.O_RDWR|os.O_CREATE, 0644, true)
	if err != nil {
		return nil, err
	}
	if size, _ := f.Size(); size < cfg.SegmentMaxBytes {
		if err := f.Preallocate(cfg.SegmentMaxBytes); err != nil {
			// Preallocation is best-effort: not every filesystem supports
			// fallocate. Fall back to an aligned zero-page write at the
			// segment's last page boundary to force the same sparse growth.
			obs.Logger("wal-writer").Debug().Err(err).Str("path", path).Msg("preallocate skipped, trying fallback")
			if ferr := f.PreallocateFallback(cfg.SegmentMaxBytes); ferr != nil {
				obs.Logger("wal-writer").Debug().Err(ferr).Str("path", path).Msg("preallocate fallback failed")
			}
		}
	}

	w := &WALSegmentWriter{
		dir:             dir,
		cfg:             cfg,
		log:             obs.Logger("wal-writer"),
		ckp:             ckp,
		cache:           cache,
		walID:           walID,
		segFile:         f,
		segBytesWritten: startOffset,
	}
	w.bufs[0] = &segBuffer{baseOffset: startOffset}
	w.bufs[1] = &segBuffer{}
	return w, nil
}

// CurrentWalID and CurrentOffset expose the writer's monotonic position.
func (w *WALSegmentWriter) CurrentWalID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.walID
}

func (w *WALSegmentWriter) CurrentOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segBytesWritten
}

// Append appends an encoded Head (plus its INFILE payload, if any) to the
// active segment, rotating first if the append would cross the segment
// size threshold. trailer is the key bytes (and, for INFILE records, the
// value bytes) that follow the Head on disk — see head.go's trailerCRC
// doc comment for why the key is always written. It returns the Pos naming
// the new record.
func (w *WALSegmentWriter) Append(head [HeadSize]byte, trailer []byte) (Pos, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	recordLen := int64(HeadSize + len(trailer))
	if w.segBytesWritten+recordLen >= w.cfg.SegmentMaxBytes {
		if err := w.rotateLocked(); err != nil {
			return Pos{}, err
		}
	}

	offset := w.segBytesWritten
	buf := w.bufs[w.active]
	buf.mu.Lock()
	buf.data = append(buf.data, head[:]...)
	buf.data = append(buf.data, trailer...)
	full := len(buf.data) >= bufferCapacity
	buf.mu.Unlock()

	w.segBytesWritten += recordLen
	pos := Pos{WalID: w.walID, Offset: uint64(offset), TotalLen: uint32(recordLen)}

	if full {
		w.swapAndFlushLocked()
	}
	return pos, nil
}

// swapAndFlushLocked atomically swaps the active buffer for the idle one
// and spawns a background write of the now-full buffer. Callers must hold
// w.mu.
func (w *WALSegmentWriter) swapAndFlushLocked() {
	full := w.bufs[w.active]
	full.mu.Lock()
	if len(full.data) == 0 {
		full.mu.Unlock()
		return
	}
	full.inFlight = true
	data := full.data
	base := full.baseOffset
	full.data = nil
	full.mu.Unlock()

	other := w.bufs[1-w.active]
	other.mu.Lock()
	other.baseOffset = w.segBytesWritten
	other.mu.Unlock()
	w.active = 1 - w.active

	segFile := w.segFile
	w.flushWG.Add(1)
	go func() {
		defer w.flushWG.Done()
		if _, err := segFile.WriteAtRaw(data, base); err != nil {
			w.recordFlushErr(err)
			return
		}
		full.mu.Lock()
		full.inFlight = false
		full.mu.Unlock()
	}()
}

func (w *WALSegmentWriter) recordFlushErr(err error) {
	w.flushErrMu.Lock()
	defer w.flushErrMu.Unlock()
	if w.flushErr == nil {
		w.flushErr = err
	}
}

// Sync drains both buffers to disk, waits for both to land, fsyncs the
// segment file, and returns only once every prior append is durable.
func (w *WALSegmentWriter) Sync() error {
	w.mu.Lock()
	w.swapAndFlushLocked() // drain whatever is left in the active buffer
	segFile := w.segFile
	w.mu.Unlock()

	w.flushWG.Wait()

	w.flushErrMu.Lock()
	err := w.flushErr
	w.flushErrMu.Unlock()
	if err != nil {
		return err
	}

	if segFile != nil {
		if err := segFile.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// rotateLocked performs the five-step rotation sequence from spec §4.4.
// Callers must hold w.mu.
func (w *WALSegmentWriter) rotateLocked() error {
	// (1) drain and durable-flush the current segment.
	w.mu.Unlock()
	err := w.Sync()
	w.mu.Lock()
	if err != nil {
		return err
	}

	// (2) close the write path; a read-only handle remains reachable via
	// the handle cache on demand.
	oldWalID := w.walID
	if w.segFile != nil {
		if err := w.segFile.Close(); err != nil {
			return err
		}
		w.segFile = nil
	}
	if w.cache != nil {
		w.cache.Evict(oldWalID)
	}

	newWalID := oldWalID + 1

	// (3) emit a ROTATE checkpoint entry for the new segment id.
	if err := w.ckp.Rotate(newWalID); err != nil {
		return err
	}

	// (4) create the new segment file with preallocation.
	path := segmentPath(w.dir, newWalID)
	f, err := OpenDirectFile(path, os.O_RDWR|os.O_CREATE, 0644, true)
	if err != nil {
		return err
	}
	if err := f.Preallocate(w.cfg.SegmentMaxBytes); err != nil {
		w.log.Debug().Err(err).Str("path", path).Msg("preallocate skipped, trying fallback")
		if ferr := f.PreallocateFallback(w.cfg.SegmentMaxBytes); ferr != nil {
			w.log.Debug().Err(ferr).Str("path", path).Msg("preallocate fallback failed")
		}
	}

	// (5) fsync the data directory so the new file entry is persisted.
	if err := SyncDir(walDir(w.dir)); err != nil {
		return err
	}

	w.walID = newWalID
	w.segFile = f
	w.segBytesWritten = 0
	w.bufs[0] = &segBuffer{}
	w.bufs[1] = &segBuffer{}
	w.active = 0

	w.log.Info().Uint64("old_wal_id", oldWalID).Uint64("new_wal_id", newWalID).Msg("segment rotated")
	return nil
}

// Close syncs and releases the current segment file.
func (w *WALSegmentWriter) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.segFile != nil {
		err := w.segFile.Close()
		w.segFile = nil
		return err
	}
	return nil
}
