package jdb

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
	"github.com/dsjohal14/jdb/internal/libs/accel"
	"github.com/dsjohal14/jdb/internal/libs/jobs"
	"github.com/dsjohal14/jdb/internal/libs/obs"
)

// SegmentState names where a segment sits in the GC state machine from
// spec §4.9: idle segments are untouched, claimed ones are reserved for the
// current gc_step, scanning/rewriting track progress through that step, and
// finished/deleted are terminal.
type SegmentState int

const (
	SegmentIdle SegmentState = iota
	SegmentClaimed
	SegmentScanning
	SegmentRewriting
	SegmentFinished
	SegmentDeleted
)

// LivenessFunc reports whether pos is still the key's current, live
// position — the caller's memtable is the only source of truth for this,
// so GC never guesses.
type LivenessFunc func(key []byte, pos Pos) bool

// RewriteFunc re-appends a still-live record through the ordinary put path
// and returns the Pos it lands at, so the caller can update its memtable to
// point at the new location.
type RewriteFunc func(key []byte, head Head, value []byte) (Pos, error)

// DeleteExternalFunc removes an external blob once GC confirms nothing
// references it anymore.
type DeleteExternalFunc func(externalID uint64) error

// StepResult summarizes one gc_step call over a single segment. Done is
// false when the call paused at a batch boundary partway through the
// segment — the caller must invoke Step again with the same walID to
// continue; it is true once the whole segment has been scanned.
type StepResult struct {
	WalID        uint64
	State        SegmentState
	Scanned      int
	Rewritten    int
	Dead         int
	SegmentBytes int64
	Done         bool
}

// Collector runs GC cycles over retired segments (spec §4.9). It never
// touches the segment the writer is currently appending to; the caller is
// responsible for only ever offering already-rotated-away segments.
type Collector struct {
	dataDir string
	cfg     Config
	cache   *HandleCache
	batch   *accel.Batch
	queue   *jobs.Queue
	log     zerolog.Logger

	lz4Codec         Codec
	zstdCodec        Codec
	codec            Codec // the codec newly-rewritten records are recompressed under
	minCompressBytes int

	mu      sync.Mutex
	states  map[uint64]SegmentState
	resume  map[uint64]int64 // next scan offset for a segment paused mid-batch
	lastJob map[uint64]*jobs.Job
}

// errBatchFull is the sentinel ForwardScan's visit callback returns once a
// Step call has rewritten a full batch of live records; Step treats it as a
// normal pause, not a failure.
var errBatchFull = jdberr.New(jdberr.InvalidArgument, "gc.batch_full").WithDetail("batch boundary reached")

// NewCollector builds a Collector. rewriteBatchSize bounds how many live
// records are re-appended before a gc_step call yields back to the caller,
// using the same batching helper the rest of the codebase uses for chunked
// background work: Step resumes a paused segment from where the previous
// call left off instead of rescanning it. lz4Codec/zstdCodec decode any
// record regardless of which codec produced it; codec (and
// minCompressBytes) is the one currently configured for new writes, applied
// to every live INFILE value as it is rewritten forward, per spec
// §4.9/§4.10.
func NewCollector(dataDir string, cfg Config, cache *HandleCache, rewriteBatchSize int, lz4Codec, zstdCodec, codec Codec, minCompressBytes int) *Collector {
	return &Collector{
		dataDir:          dataDir,
		cfg:              cfg,
		cache:            cache,
		batch:            accel.NewBatch(rewriteBatchSize),
		queue:            jobs.NewQueue(),
		log:              obs.Logger("gc"),
		lz4Codec:         lz4Codec,
		zstdCodec:        zstdCodec,
		codec:            codec,
		minCompressBytes: minCompressBytes,
		states:           map[uint64]SegmentState{},
		resume:           map[uint64]int64{},
		lastJob:          map[uint64]*jobs.Job{},
	}
}

// StateOf reports a segment's last-known GC state (SegmentIdle if never
// seen).
func (c *Collector) StateOf(walID uint64) SegmentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[walID]; ok {
		return s
	}
	return SegmentIdle
}

func (c *Collector) setState(walID uint64, s SegmentState) {
	c.mu.Lock()
	c.states[walID] = s
	c.mu.Unlock()
}

// Step runs one gc_step over segment walID: it scans every record from
// wherever a previous, batch-bounded call left off, asks isLive whether each
// key's current Pos still points here, re-appends the still-live ones via
// rewrite, and deletes any FILE externals the dead records referenced. It
// does not remove the segment file itself; once Step reports Done, the
// caller retires it with Finalize. A single call rewrites at most c.batch.Size() live records before
// pausing: StepResult.Done reports whether the segment was fully drained, or
// whether the caller must call Step(walID, ...) again to continue from the
// paused offset. The GC lock (spec §4.9) must already be held by the
// caller; Step does not acquire it itself, so a single cycle can run several
// steps under one lock hold.
func (c *Collector) Step(walID uint64, isLive LivenessFunc, rewrite RewriteFunc, deleteExternal DeleteExternalFunc) (StepResult, error) {
	job := c.queue.Enqueue(segmentPath(c.dataDir, walID))
	c.setJob(walID, job)
	c.setState(walID, SegmentClaimed)

	path := segmentPath(c.dataDir, walID)
	f, err := OpenDirectFile(path, os.O_RDWR, 0644, false)
	if err != nil {
		c.setState(walID, SegmentIdle)
		return StepResult{}, err
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		c.setState(walID, SegmentIdle)
		return StepResult{}, err
	}

	startOffset := c.resumeOffset(walID)
	c.setState(walID, SegmentScanning)
	job.Status = "scanning"

	result := StepResult{WalID: walID, SegmentBytes: size}
	rewritten := 0
	cutoff, err := ForwardScan(f, walID, startOffset, func(rec ScanRecord) error {
		result.Scanned++
		if rec.Head.IsTombstone() {
			result.Dead++
			return nil
		}
		if !isLive(rec.Key, rec.Pos) {
			result.Dead++
			if rec.Head.IsFile() && deleteExternal != nil {
				if err := deleteExternal(rec.Head.ExternalID); err != nil {
					return err
				}
			}
			return nil
		}

		newHead, value, err := c.recompressForRewrite(f, rec)
		if err != nil {
			return err
		}
		c.setState(walID, SegmentRewriting)
		job.Status = "rewriting"
		newHead.Flag |= FlagGCRewritten
		if _, err := rewrite(rec.Key, newHead, value); err != nil {
			return err
		}
		result.Rewritten++
		rewritten++

		if rewritten >= c.batch.Size() {
			return errBatchFull
		}
		return nil
	})
	if err != nil && err != errBatchFull {
		c.setState(walID, SegmentIdle)
		job.Status = "failed"
		return result, err
	}

	if err == errBatchFull {
		c.setResumeOffset(walID, cutoff)
		c.setState(walID, SegmentScanning)
		job.Status = "paused"
		c.log.Info().Uint64("wal_id", walID).Int("scanned", result.Scanned).
			Int("rewritten", result.Rewritten).Int("dead", result.Dead).
			Str("status", job.Status).Msg("gc step paused at batch boundary")
		return result, nil
	}

	c.clearResumeOffset(walID)
	result.State = SegmentFinished
	result.Done = true
	c.setState(walID, SegmentFinished)
	job.Status = "finished"
	c.log.Info().Uint64("wal_id", walID).Int("scanned", result.Scanned).
		Int("rewritten", result.Rewritten).Int("dead", result.Dead).
		Str("status", job.Status).Msg("gc step complete")
	return result, nil
}

// resumeOffset/setResumeOffset/clearResumeOffset track where a
// batch-paused segment's scan left off, so the next Step call over the same
// walID continues instead of re-scanning records it already rewrote.
func (c *Collector) resumeOffset(walID uint64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resume[walID]
}

func (c *Collector) setResumeOffset(walID uint64, offset int64) {
	c.mu.Lock()
	c.resume[walID] = offset
	c.mu.Unlock()
}

func (c *Collector) clearResumeOffset(walID uint64) {
	c.mu.Lock()
	delete(c.resume, walID)
	c.mu.Unlock()
}

func (c *Collector) setJob(walID uint64, job *jobs.Job) {
	c.mu.Lock()
	c.lastJob[walID] = job
	c.mu.Unlock()
}

// JobStatus reports the most recent background-job status recorded for
// walID ("", false if Step has never run against it).
func (c *Collector) JobStatus(walID uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.lastJob[walID]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// recompressForRewrite resolves the payload bytes a live record carries and,
// for INFILE placement, decodes it under whichever codec originally wrote it
// and re-applies the Collector's currently configured codec — so a record
// written under one compression setting and later GC'd under another ends
// up recompressed, per spec §4.9/§4.10. FILE placement's external blob is
// left untouched: recompressing it would mean allocating a new external_id
// and deferring deletion of the old one until the rewritten WAL record is
// itself durable, which is out of scope for a single rewrite callback; only
// the WAL record naming it is rewritten forward. INLINE values are never
// compressed (they are far below MinCompressSize) and pass through as-is.
func (c *Collector) recompressForRewrite(f *DirectFile, rec ScanRecord) (Head, []byte, error) {
	newHead := rec.Head
	switch {
	case rec.Head.IsInline():
		return newHead, append([]byte(nil), rec.Head.Inline[:rec.Head.DataLen]...), nil

	case rec.Head.IsInfile():
		raw, err := DecodeCodec(c.lz4Codec, c.zstdCodec, rec.Head.Flag, rec.Value, int(rec.Head.UncompressedLen))
		if err != nil {
			return Head{}, nil, err
		}
		newHead.Flag &^= FlagCompressedLZ4 | FlagCompressedZstd | FlagProbed
		flagOut, payload, uncompLen, err := ApplyCodec(c.codec, c.minCompressBytes, newHead.Flag, raw)
		if err != nil {
			return Head{}, nil, err
		}
		newHead.Flag = flagOut
		newHead.DataLen = uint32(len(payload))
		newHead.UncompressedLen = uncompLen
		return newHead, payload, nil

	case rec.Head.IsFile():
		return newHead, nil, nil

	default:
		return Head{}, nil, jdberr.New(jdberr.Corrupt, "gc.recompress_for_rewrite").WithDetail("no placement flag set")
	}
}

// Finalize evicts a fully-drained segment from the handle cache and
// schedules its file for deletion. It writes nothing to the checkpoint log;
// the caller records the segment's retirement there before calling this.
func (c *Collector) Finalize(walID uint64) error {
	if c.cache != nil {
		c.cache.Remove(walID)
	}
	c.setState(walID, SegmentDeleted)
	return nil
}
