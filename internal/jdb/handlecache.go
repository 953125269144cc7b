package jdb

import (
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dsjohal14/jdb/internal/libs/obs"
)

// HandleCache is a bounded LRU of open segment file handles for the
// random-read path (spec §4.5). On miss it opens the file; on eviction it
// closes the handle; on remove it also schedules the underlying file for
// deletion. Concurrent misses on the same wal_id collapse into a single
// open via singleflight, so every waiter shares the result.
type HandleCache struct {
	dir     string
	lru     *lru.Cache[uint64, *DirectFile]
	opening singleflight.Group
	log     zerolog.Logger

	mu      sync.Mutex
	removed map[uint64]bool // wal_ids whose files have been scheduled for deletion
}

// NewHandleCache builds a handle cache bounded at size entries (clamped to
// the documented minimum of 16 by Config.normalize before this is called).
func NewHandleCache(dir string, size int) (*HandleCache, error) {
	if size < 16 {
		size = 16
	}
	c := &HandleCache{dir: dir, log: obs.Logger("handle-cache"), removed: map[uint64]bool{}}
	evictFn := func(walID uint64, f *DirectFile) {
		f.Close()
	}
	l, err := lru.NewWithEvict[uint64, *DirectFile](size, evictFn)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get resolves wal_id to an open read handle, opening (and caching) it on
// first use. Concurrent misses for the same wal_id share a single open.
func (c *HandleCache) Get(walID uint64) (*DirectFile, error) {
	if f, ok := c.lru.Get(walID); ok {
		return f, nil
	}

	v, err, _ := c.opening.Do(keyFor(walID), func() (any, error) {
		if f, ok := c.lru.Get(walID); ok {
			return f, nil
		}
		path := segmentPath(c.dir, walID)
		f, err := OpenDirectFile(path, os.O_RDONLY, 0644, false)
		if err != nil {
			return nil, err
		}
		c.lru.Add(walID, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DirectFile), nil
}

func keyFor(walID uint64) string {
	return itoa64(walID)
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Evict removes the handle for wal_id without removing the underlying file
// (used on segment rotation, where a read-only handle should remain
// reachable on the next lookup rather than staying pinned as the writer's
// handle).
func (c *HandleCache) Evict(walID uint64) {
	c.lru.Remove(walID)
}

// Remove evicts the handle and schedules the underlying segment file for
// deletion in the background, without blocking the caller (used by GC once
// a segment is fully drained).
func (c *HandleCache) Remove(walID uint64) {
	c.mu.Lock()
	c.removed[walID] = true
	c.mu.Unlock()

	c.lru.Remove(walID)
	path := segmentPath(c.dir, walID)
	go func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", path).Msg("failed to remove drained segment")
		}
	}()
}

// Close evicts and closes every cached handle.
func (c *HandleCache) Close() {
	c.lru.Purge()
}
