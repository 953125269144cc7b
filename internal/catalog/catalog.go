// Package catalog mirrors checkpoint SAVE/ROTATE events into Postgres for
// operator visibility. It is never consulted by recovery — ckp.log on disk
// remains the sole source of truth — so every method here is best-effort:
// a catalog write failure is logged and swallowed, never surfaced to the
// caller's put/sync path.
package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dsjohal14/jdb/internal/libs/obs"
)

const schema = `
CREATE TABLE IF NOT EXISTS jdb_segments (
	dir        TEXT NOT NULL,
	wal_id     BIGINT NOT NULL,
	offset_hi  BIGINT NOT NULL,
	event      TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (dir, wal_id, event, observed_at)
);
`

// Mirror is an optional, non-authoritative view of a Coordinator's
// checkpoint events, built for dashboards/ops tooling rather than recovery.
type Mirror struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
	dir  string
}

// Open connects to dsn and ensures the mirror table exists. A connection
// failure here should not prevent the Coordinator itself from opening —
// callers are expected to log and proceed without a Mirror rather than
// fail store startup.
func Open(ctx context.Context, dsn string, dir string) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Mirror{pool: pool, log: obs.Logger("catalog"), dir: dir}, nil
}

// RecordSave mirrors a durable SAVE(wal_id, offset) checkpoint entry.
func (m *Mirror) RecordSave(walID, offset uint64) {
	m.record("save", walID, offset)
}

// RecordRotate mirrors a ROTATE(wal_id) checkpoint entry.
func (m *Mirror) RecordRotate(walID uint64) {
	m.record("rotate", walID, 0)
}

func (m *Mirror) record(event string, walID, offset uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.pool.Exec(ctx,
		`INSERT INTO jdb_segments (dir, wal_id, offset_hi, event) VALUES ($1, $2, $3, $4)`,
		m.dir, int64(walID), int64(offset), event)
	if err != nil {
		m.log.Warn().Err(err).Str("event", event).Uint64("wal_id", walID).Msg("catalog mirror write failed")
	}
}

// Close releases the connection pool.
func (m *Mirror) Close() {
	m.pool.Close()
}
