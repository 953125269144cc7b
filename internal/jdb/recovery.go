package jdb

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
	"github.com/dsjohal14/jdb/internal/libs/obs"
)

// RecoverResult is where the recovery driver leaves the writer once replay
// finishes: the segment and byte offset at which new appends should resume.
type RecoverResult struct {
	WalID  uint64
	Offset int64
}

// Recover implements the driver from spec §4.8. Given the After record
// folded out of ckp.log, it replays every record from the last saved
// position through any segments that rotated in since, calling visit for
// each one it can decode and verify. Within each segment the scan stops —
// without error — at the first record that fails to decode or verify (a
// torn tail, or the zeroed preallocated space past the last record), and
// the segment is truncated there whenever bytes remain past that point;
// the last segment's cutoff is where the writer resumes. It finishes by emitting
// a fresh SAVE entry at the resulting position.
func Recover(dataDir string, cfg Config, after After, ckp *CheckpointLog, visit func(ScanRecord) error) (RecoverResult, error) {
	log := obs.Logger("recovery")

	segments := append([]uint64{after.WalID}, after.PendingRotations...)
	startOffsets := make([]int64, len(segments))
	startOffsets[0] = int64(after.Offset)
	// every pending-rotation segment starts life at offset 0.

	var result RecoverResult
	for i, walID := range segments {
		path := segmentPath(dataDir, walID)
		f, err := OpenDirectFile(path, os.O_RDWR, 0644, false)
		if err != nil {
			if jdberr.Is(err, jdberr.Missing) {
				// A ROTATE entry was appended but the process crashed before
				// the new segment file itself was fsynced into the
				// directory: nothing was ever written there.
				log.Warn().Uint64("wal_id", walID).Msg("pending rotation segment missing, treating as empty")
				result = RecoverResult{WalID: walID, Offset: 0}
				continue
			}
			return RecoverResult{}, err
		}

		cutoff, err := ForwardScan(f, walID, startOffsets[i], visit)
		if err != nil {
			f.Close()
			return RecoverResult{}, err
		}

		size, err := f.Size()
		if err != nil {
			f.Close()
			return RecoverResult{}, err
		}
		if cutoff < size {
			log.Warn().Uint64("wal_id", walID).Int64("cutoff", cutoff).Int64("size", size).
				Msg("truncating torn tail found during recovery")
			if err := f.Truncate(cutoff); err != nil {
				f.Close()
				return RecoverResult{}, err
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return RecoverResult{}, err
			}
		}
		if err := f.Close(); err != nil {
			return RecoverResult{}, err
		}

		result = RecoverResult{WalID: walID, Offset: cutoff}
	}

	if err := ckp.Save(result.WalID, uint64(result.Offset)); err != nil {
		return RecoverResult{}, err
	}
	logRecoverySummary(log, after, result)
	return result, nil
}

func logRecoverySummary(log zerolog.Logger, after After, result RecoverResult) {
	log.Info().
		Uint64("from_wal_id", after.WalID).
		Uint64("from_offset", after.Offset).
		Int("pending_rotations", len(after.PendingRotations)).
		Uint64("resume_wal_id", result.WalID).
		Int64("resume_offset", result.Offset).
		Msg("recovery complete")
}
