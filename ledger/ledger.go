// Package ledger is the durable, authoritative record of pyramid
// freshness: one version counter per chunk, one for the overview, and
// the overview staleness flag.
//
// Every bump is a single SQLite transaction, so the pairing the
// consistency protocol depends on — "chunk version incremented" and
// "overview marked stale" — is atomic even across a process crash.
// Increments are row-level SQL upserts, never read-whole-state /
// write-whole-state, so concurrent bumps on different chunks cannot
// lose each other's updates.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tesserae/mosaic/grid"
	"github.com/tesserae/mosaic/internal/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunk_versions (
	chunk_key TEXT PRIMARY KEY,
	version   INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS overview_state (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	stale   INTEGER NOT NULL
);

INSERT OR IGNORE INTO overview_state (id, version, stale) VALUES (1, 0, 1);
`

// Ledger tracks chunk and overview versions in a SQLite database.
// Safe for concurrent use.
type Ledger struct {
	pool *sqlitepool.Pool
}

// Open creates or opens the ledger database at path. The overview
// starts at version 0 and stale (nothing rendered yet).
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		Schema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// Close closes the underlying pool.
func (l *Ledger) Close() error {
	return l.pool.Close()
}

// BumpChunk increments the version of the given chunk and marks the
// overview stale, atomically, returning the new chunk version. A chunk
// never bumped before moves from 0 to 1.
func (l *Ledger) BumpChunk(ctx context.Context, key grid.ChunkKey) (version int64, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: bump chunk %s: %w", key, err)
	}
	defer l.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("ledger: bump chunk %s: begin: %w", key, err)
	}
	defer endTx(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO chunk_versions (chunk_key, version) VALUES (?, 1)
		 ON CONFLICT (chunk_key) DO UPDATE SET version = version + 1
		 RETURNING version`,
		&sqlitex.ExecOptions{
			Args: []any{key.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("ledger: bump chunk %s: %w", key, err)
	}

	err = sqlitex.Execute(conn,
		`UPDATE overview_state SET stale = 1 WHERE id = 1`, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: bump chunk %s: mark stale: %w", key, err)
	}

	return version, nil
}

// BumpOverview increments the overview version and clears the stale
// flag, atomically, returning the new version. Call only after a
// completed overview render.
func (l *Ledger) BumpOverview(ctx context.Context) (version int64, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: bump overview: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE overview_state SET version = version + 1, stale = 0
		 WHERE id = 1 RETURNING version`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("ledger: bump overview: %w", err)
	}
	return version, nil
}

// ChunkVersion returns the current version of a chunk; 0 if the chunk
// has never been bumped.
func (l *Ledger) ChunkVersion(ctx context.Context, key grid.ChunkKey) (int64, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: chunk version %s: %w", key, err)
	}
	defer l.pool.Put(conn)

	var version int64
	err = sqlitex.Execute(conn,
		`SELECT version FROM chunk_versions WHERE chunk_key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("ledger: chunk version %s: %w", key, err)
	}
	return version, nil
}

// ChunkVersions returns all chunk versions ever bumped, keyed by
// chunk. Chunks never bumped are absent (implicitly version 0).
func (l *Ledger) ChunkVersions(ctx context.Context) (map[grid.ChunkKey]int64, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: chunk versions: %w", err)
	}
	defer l.pool.Put(conn)

	versions := make(map[grid.ChunkKey]int64)
	err = sqlitex.Execute(conn,
		`SELECT chunk_key, version FROM chunk_versions`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				key, err := grid.ParseChunkKey(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				versions[key] = stmt.ColumnInt64(1)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("ledger: chunk versions: %w", err)
	}
	return versions, nil
}

// OverviewVersion returns the current overview version; 0 before the
// first completed render.
func (l *Ledger) OverviewVersion(ctx context.Context) (int64, error) {
	version, _, err := l.overviewState(ctx)
	return version, err
}

// OverviewStale reports whether the overview must be re-rendered
// before serving. True initially and after any chunk bump.
func (l *Ledger) OverviewStale(ctx context.Context) (bool, error) {
	_, stale, err := l.overviewState(ctx)
	return stale, err
}

func (l *Ledger) overviewState(ctx context.Context) (version int64, stale bool, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("ledger: overview state: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`SELECT version, stale FROM overview_state WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = stmt.ColumnInt64(0)
				stale = stmt.ColumnInt64(1) != 0
				return nil
			},
		})
	if err != nil {
		return 0, false, fmt.Errorf("ledger: overview state: %w", err)
	}
	return version, stale, nil
}
