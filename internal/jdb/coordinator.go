package jdb

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/jdb/internal/catalog"
	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
	"github.com/dsjohal14/jdb/internal/libs/obs"
)

// Coordinator is the single entry point into one open data directory: the
// public open/put/put_tombstone/read_head/read_value/sync/gc_step/close
// surface from spec §5, wiring together the WAL writer, the handle cache,
// the external-file store, the checkpoint log, recovery, and GC.
type Coordinator struct {
	dir string
	cfg Config
	log zerolog.Logger

	dirLock *FileLock
	ckp     *CheckpointLog
	writer  *WALSegmentWriter
	cache   *HandleCache
	ext     *ExternalStore
	gc      *Collector

	lz4Codec  Codec
	zstdCodec Codec

	catalogMirror *catalog.Mirror

	mu    sync.RWMutex
	index map[string]Pos
}

// Stats is the introspection snapshot exposed by the Supplemented Features
// section: enough to answer "how big is this store and how far has it
// gotten" without walking the whole WAL.
type Stats struct {
	WalID       uint64
	Offset      int64
	LiveKeys    int
	ExternalIDs uint64
}

// Open acquires the directory lock, replays the WAL to rebuild the key
// index, sweeps orphaned external-file blobs, and leaves the store ready
// to accept puts and reads (spec §4.8's recovery driver run at startup,
// plus the orphan sweep from SPEC_FULL.md's Supplemented Features).
func Open(dir string, cfg Config) (*Coordinator, error) {
	cfg = cfg.normalize()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, jdberr.Wrap("coordinator.open", err).WithPath(dir)
	}

	dirLock, err := AcquireDirLock(dir)
	if err != nil {
		return nil, err
	}

	ckp, after, err := OpenCheckpointLog(dir, cfg)
	if err != nil {
		dirLock.Release()
		return nil, err
	}

	cache, err := NewHandleCache(dir, cfg.HandleCacheSize)
	if err != nil {
		ckp.Close()
		dirLock.Release()
		return nil, err
	}

	c := &Coordinator{
		dir:   dir,
		cfg:   cfg,
		log:   obs.Logger("coordinator"),
		ckp:   ckp,
		cache: cache,
		index: map[string]Pos{},
	}
	c.dirLock = dirLock

	var maxExternalID uint64
	liveExternalIDs := map[uint64]bool{}

	result, err := Recover(dir, cfg, after, ckp, func(rec ScanRecord) error {
		if rec.Head.ExternalID > maxExternalID {
			maxExternalID = rec.Head.ExternalID
		}
		k := string(rec.Key)
		if rec.Head.IsTombstone() {
			delete(c.index, k)
			return nil
		}
		c.index[k] = rec.Pos
		if rec.Head.IsFile() {
			liveExternalIDs[rec.Head.ExternalID] = true
		}
		return nil
	})
	if err != nil {
		cache.Close()
		ckp.Close()
		dirLock.Release()
		return nil, err
	}

	ext, err := NewExternalStore(dir, maxExternalID)
	if err != nil {
		cache.Close()
		ckp.Close()
		dirLock.Release()
		return nil, err
	}
	c.ext = ext
	if err := ext.SweepOrphans(liveExternalIDs); err != nil {
		c.log.Warn().Err(err).Msg("orphan sweep failed, continuing")
	}

	writer, err := NewWALSegmentWriter(dir, cfg, ckp, cache, result.WalID, result.Offset)
	if err != nil {
		cache.Close()
		ckp.Close()
		dirLock.Release()
		return nil, err
	}
	c.writer = writer

	// Both decoders are always built, regardless of which codec is active
	// for new writes: a record compressed under a codec that is no longer
	// cfg.CompressionCodec (because the config changed across an open, or
	// because GC is about to recompress it under the new one) must still be
	// decodable.
	c.lz4Codec = LZ4Codec{}
	zc, err := NewZstdCodec()
	if err != nil {
		writer.Close()
		cache.Close()
		ckp.Close()
		dirLock.Release()
		return nil, err
	}
	c.zstdCodec = zc

	c.gc = NewCollector(dir, cfg, cache, 64, c.lz4Codec, c.zstdCodec, c.activeCodec(), cfg.MinCompressBytes)

	if cfg.CatalogDSN != "" {
		mirror, err := catalog.Open(context.Background(), cfg.CatalogDSN, dir)
		if err != nil {
			c.log.Warn().Err(err).Msg("catalog mirror unavailable, continuing without it")
		} else {
			c.catalogMirror = mirror
		}
	}

	c.log.Info().Str("dir", dir).Uint64("wal_id", result.WalID).Int64("offset", result.Offset).
		Int("keys", len(c.index)).Msg("store opened")
	return c, nil
}

func (c *Coordinator) activeCodec() Codec {
	switch c.cfg.CompressionCodec {
	case CodecLZ4:
		return c.lz4Codec
	case CodecZstd:
		return c.zstdCodec
	default:
		return NoopCodec{}
	}
}

// Put writes key/value, choosing INLINE, INFILE, or FILE placement by
// value size against Config.InlineMaxBytes/ExternalMinBytes (spec §3),
// running the compression codec hook for INFILE/FILE candidates, and
// updates the in-memory key index before returning the record's Pos.
func (c *Coordinator) Put(key, value []byte) (Pos, error) {
	if len(key) > 0xFFFF {
		return Pos{}, jdberr.New(jdberr.InvalidArgument, "coordinator.put").WithDetail("key exceeds 65535 bytes")
	}

	var head Head
	head.KeyLen = uint16(len(key))
	var trailerValue []byte

	switch {
	case len(value) <= c.cfg.InlineMaxBytes:
		head.Flag = FlagInline
		head.DataLen = uint32(len(value))
		head.UncompressedLen = head.DataLen
		copy(head.Inline[:], value)

	case int64(len(value)) >= c.cfg.ExternalMinBytes:
		flagOut, payload, uncompLen, err := ApplyCodec(c.activeCodec(), c.cfg.MinCompressBytes, 0, value)
		if err != nil {
			return Pos{}, err
		}
		id := c.ext.AllocateID()
		if err := c.ext.Write(id, payload); err != nil {
			return Pos{}, err
		}
		head.Flag = FlagFile | flagOut
		head.ExternalID = id
		head.DataLen = 0
		head.UncompressedLen = uncompLen

	default:
		flagOut, payload, uncompLen, err := ApplyCodec(c.activeCodec(), c.cfg.MinCompressBytes, 0, value)
		if err != nil {
			return Pos{}, err
		}
		head.Flag = FlagInfile | flagOut
		head.DataLen = uint32(len(payload))
		head.UncompressedLen = uncompLen
		trailerValue = payload
	}

	return c.appendRecord(key, head, trailerValue)
}

// PutTombstone writes a deletion marker for key: an INLINE, zero-length
// record carrying FlagTombstone, and removes key from the in-memory index
// so subsequent reads see it as absent.
func (c *Coordinator) PutTombstone(key []byte) (Pos, error) {
	head := Head{Flag: FlagInline | FlagTombstone, KeyLen: uint16(len(key))}
	pos, err := c.appendRecord(key, head, nil)
	if err != nil {
		return Pos{}, err
	}
	c.mu.Lock()
	delete(c.index, string(key))
	c.mu.Unlock()
	return pos, nil
}

func (c *Coordinator) appendRecord(key []byte, head Head, infileValue []byte) (Pos, error) {
	encoded, err := EncodeHead(head, key, infileValue)
	if err != nil {
		return Pos{}, err
	}
	trailer := make([]byte, 0, len(key)+len(infileValue))
	trailer = append(trailer, key...)
	trailer = append(trailer, infileValue...)

	pos, err := c.writer.Append(encoded, trailer)
	if err != nil {
		return Pos{}, err
	}

	if !head.IsTombstone() {
		c.mu.Lock()
		c.index[string(key)] = pos
		c.mu.Unlock()
	}
	return pos, nil
}

// ReadHead returns the Head and key bytes stored at pos, without resolving
// FILE/INFILE payload bytes (the random-read metadata path, spec §4.5).
func (c *Coordinator) ReadHead(pos Pos) (Head, []byte, error) {
	f, err := c.segmentFor(pos.WalID)
	if err != nil {
		return Head{}, nil, err
	}
	h, key, _, err := ReadHeadAndTrailer(f, int64(pos.Offset))
	return h, key, err
}

// ReadValue looks key up in the in-memory index and returns its current
// value, resolving INLINE/INFILE/FILE placement and reversing the
// compression codec as needed.
func (c *Coordinator) ReadValue(key []byte) ([]byte, error) {
	c.mu.RLock()
	pos, ok := c.index[string(key)]
	c.mu.RUnlock()
	if !ok {
		return nil, jdberr.New(jdberr.Missing, "coordinator.read_value").WithDetail("key not found")
	}

	f, err := c.segmentFor(pos.WalID)
	if err != nil {
		return nil, err
	}
	h, _, infileValue, err := ReadHeadAndTrailer(f, int64(pos.Offset))
	if err != nil {
		return nil, err
	}

	switch {
	case h.IsInline():
		return append([]byte(nil), h.Inline[:h.DataLen]...), nil
	case h.IsInfile():
		return DecodeCodec(c.lz4Codec, c.zstdCodec, h.Flag, infileValue, int(h.UncompressedLen))
	case h.IsFile():
		raw, err := c.ext.Read(h.ExternalID)
		if err != nil {
			return nil, err
		}
		return DecodeCodec(c.lz4Codec, c.zstdCodec, h.Flag, raw, int(h.UncompressedLen))
	default:
		return nil, jdberr.New(jdberr.Corrupt, "coordinator.read_value").WithDetail("no placement flag")
	}
}

// segmentFor returns a read handle for walID, syncing the writer first when
// walID is the segment currently being appended to, since the writer's
// double buffer may hold not-yet-flushed bytes the handle cache cannot see.
func (c *Coordinator) segmentFor(walID uint64) (*DirectFile, error) {
	if walID == c.writer.CurrentWalID() {
		if err := c.writer.Sync(); err != nil {
			return nil, err
		}
	}
	return c.cache.Get(walID)
}

// Sync durably flushes the active segment and records a fresh checkpoint.
func (c *Coordinator) Sync() error {
	if err := c.writer.Sync(); err != nil {
		return err
	}
	walID, offset := c.writer.CurrentWalID(), uint64(c.writer.CurrentOffset())
	if err := c.ckp.Save(walID, offset); err != nil {
		return err
	}
	if c.catalogMirror != nil {
		c.catalogMirror.RecordSave(walID, offset)
	}
	return nil
}

// GCStep runs one garbage-collection step over the oldest retired segment
// (any segment strictly older than the one currently being appended to),
// under the GC's own lock file so a writer can keep accepting puts while it
// runs. It returns a zero StepResult with no error when there is nothing
// eligible to collect.
func (c *Coordinator) GCStep() (StepResult, error) {
	gcLock, err := AcquireGCLock(c.dir)
	if err != nil {
		return StepResult{}, err
	}
	defer gcLock.Release()

	current := c.writer.CurrentWalID()
	candidate, ok := c.oldestRetiredSegment(current)
	if !ok {
		return StepResult{}, nil
	}

	isLive := func(key []byte, pos Pos) bool {
		c.mu.RLock()
		cur, ok := c.index[string(key)]
		c.mu.RUnlock()
		return ok && cur == pos
	}
	rewrite := func(key []byte, head Head, value []byte) (Pos, error) {
		if head.IsFile() {
			// External blob content is untouched by GC; only the WAL
			// record naming it is rewritten forward.
			return c.appendRecord(key, head, nil)
		}
		return c.appendRecord(key, head, value)
	}
	deleteExternal := func(id uint64) error { return c.ext.Delete(id) }

	result, err := c.gc.Step(candidate, isLive, rewrite, deleteExternal)
	if err != nil {
		return result, err
	}
	if !result.Done {
		// Paused at a batch boundary: the segment still has live records
		// left to rewrite, so it is not safe to retire yet. The caller
		// calls GCStep again to resume from where this step left off.
		return result, nil
	}

	if err := c.ckp.Rotate(candidate); err != nil {
		// The segment is fully rewritten already; failing to record its
		// retirement just means a future GC cycle will find it empty and
		// finalize it again.
		return result, err
	}
	if c.catalogMirror != nil {
		c.catalogMirror.RecordRotate(candidate)
	}
	if err := c.gc.Finalize(candidate); err != nil {
		return result, err
	}
	return result, nil
}

// oldestRetiredSegment scans wal/ for the lowest-numbered segment strictly
// below current that GC has not already deleted.
func (c *Coordinator) oldestRetiredSegment(current uint64) (uint64, bool) {
	entries, err := os.ReadDir(walDir(c.dir))
	if err != nil {
		return 0, false
	}
	var best uint64
	found := false
	for _, e := range entries {
		id, ok := walIDFromName(e.Name())
		if !ok || id >= current {
			continue
		}
		if c.gc.StateOf(id) == SegmentDeleted {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}

func walIDFromName(name string) (uint64, bool) {
	if filepath.Ext(name) != ".wal" {
		return 0, false
	}
	base := name[:len(name)-len(".wal")]
	if len(base) != 16 {
		return 0, false
	}
	var id uint64
	for _, ch := range base {
		var d uint64
		switch {
		case ch >= '0' && ch <= '9':
			d = uint64(ch - '0')
		case ch >= 'a' && ch <= 'f':
			d = uint64(ch-'a') + 10
		default:
			return 0, false
		}
		id = id<<4 | d
	}
	return id, true
}

// Stats reports a point-in-time introspection snapshot.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	keys := len(c.index)
	c.mu.RUnlock()
	return Stats{
		WalID:       c.writer.CurrentWalID(),
		Offset:      c.writer.CurrentOffset(),
		LiveKeys:    keys,
		ExternalIDs: c.ext.nextID,
	}
}

// Close syncs and releases every resource the Coordinator holds, including
// the directory lock.
func (c *Coordinator) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(c.writer.Close())
	record(c.ckp.Close())
	c.cache.Close()
	if zc, ok := c.zstdCodec.(*ZstdCodec); ok {
		zc.Close()
	}
	if c.catalogMirror != nil {
		c.catalogMirror.Close()
	}
	record(c.dirLock.Release())
	return firstErr
}
