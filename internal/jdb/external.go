package jdb

import (
	"encoding/base32"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
	"github.com/dsjohal14/jdb/internal/libs/obs"
)

// ExternalStore persists and retrieves byte blobs referenced from a Head's
// external_id field, for values over ExternalMinBytes (spec §4.6). Each
// blob lives in its own file under a sharded 2-level directory derived
// deterministically from the id.
type ExternalStore struct {
	dir    string
	nextID uint64
}

var base32Enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewExternalStore opens the external-file store rooted at <dataDir>/ext.
// seedID should be the highest external_id already observed during
// recovery, so freshly allocated ids never collide with existing blobs.
func NewExternalStore(dataDir string, seedID uint64) (*ExternalStore, error) {
	dir := filepath.Join(dataDir, "ext")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, jdberr.Wrap("external.open", err).WithPath(dir)
	}
	return &ExternalStore{dir: dir, nextID: seedID}, nil
}

// pathFor computes the id's 2-level sharded path: ext/<aa>/<bb>/<base32-id>.
func (s *ExternalStore) pathFor(id uint64) string {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)
	name := base32Enc.EncodeToString(idBytes[:])
	shard1 := name[0:2]
	shard2 := name[2:4]
	return filepath.Join(s.dir, shard1, shard2, name)
}

// AllocateID hands out a fresh, process-unique external id.
func (s *ExternalStore) AllocateID() uint64 {
	return atomic.AddUint64(&s.nextID, 1)
}

// Write durably persists data under id, following the spec §4.6 ordering
// invariant: write to a temp path, fsync the file, atomically rename it
// into place, then fsync the directory. The Head referencing this id must
// only be appended to the WAL after Write returns.
func (s *ExternalStore) Write(id uint64, data []byte) error {
	path := s.pathFor(id)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return jdberr.Wrap("external.write", err).WithPath(dir)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return jdberr.Wrap("external.write", err).WithPath(tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return jdberr.Wrap("external.write", err).WithPath(tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return jdberr.Wrap("external.write", err).WithPath(tmp)
	}
	if err := f.Close(); err != nil {
		return jdberr.Wrap("external.write", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return jdberr.Wrap("external.write", err).WithPath(path)
	}
	if err := SyncDir(dir); err != nil {
		return err
	}
	return nil
}

// Read retrieves the blob stored under id in full.
func (s *ExternalStore) Read(id uint64) ([]byte, error) {
	path := s.pathFor(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jdberr.New(jdberr.Missing, "external.read").WithPath(path)
		}
		return nil, jdberr.Wrap("external.read", err).WithPath(path)
	}
	return data, nil
}

// Delete removes the blob for id, used by GC once the referencing Head is
// dead. A missing file is not an error (idempotent delete).
func (s *ExternalStore) Delete(id uint64) error {
	path := s.pathFor(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return jdberr.Wrap("external.delete", err).WithPath(path)
	}
	return nil
}

// Exists reports whether a blob for id is present. Recovery does not call
// it: a replayed FILE record whose blob is missing is still indexed, and
// reading its value returns a Missing error.
func (s *ExternalStore) Exists(id uint64) bool {
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

// SweepOrphans removes any ext/ blob whose id is not in liveIDs, used once
// at startup after recovery (see SPEC_FULL.md "Supplemented Features").
func (s *ExternalStore) SweepOrphans(liveIDs map[uint64]bool) error {
	log := obs.Logger("external-store")
	return filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			os.Remove(path)
			return nil
		}
		id, ok := idFromPath(filepath.Base(path))
		if !ok {
			return nil
		}
		if !liveIDs[id] {
			if rmErr := os.Remove(path); rmErr == nil {
				log.Info().Uint64("external_id", id).Msg("removed orphan external blob")
			}
		}
		return nil
	})
}

func idFromPath(name string) (uint64, bool) {
	raw, err := base32Enc.DecodeString(name)
	if err != nil || len(raw) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}
