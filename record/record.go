// Package record holds the authoritative metadata for each cell: its
// existence and edit version. The pyramid consults this record but
// never derives pyramid state from it.
//
// Store is the interface the coordinator depends on, so a deployment
// can point it at an external relational database. SQLiteStore is the
// bundled implementation, good for single-node deployments and tests.
package record

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tesserae/mosaic/grid"
	"github.com/tesserae/mosaic/internal/sqlitepool"
)

// CellMeta is the authoritative metadata of one edited cell.
type CellMeta struct {
	X, Y      int
	Version   int64
	UpdatedAt time.Time
}

// Store is the authoritative per-cell record consulted and updated on
// every write and delete.
type Store interface {
	// Upsert records an edit of cell (x, y): inserts it at version 1
	// or increments its version, updating the timestamp either way.
	Upsert(ctx context.Context, x, y int) (CellMeta, error)

	// Get returns the metadata of cell (x, y); ok is false when the
	// cell has never been written (or was deleted).
	Get(ctx context.Context, x, y int) (meta CellMeta, ok bool, err error)

	// Delete removes cell (x, y)'s record. Returns false when the
	// cell was already absent.
	Delete(ctx context.Context, x, y int) (bool, error)

	// Count returns the number of edited cells.
	Count(ctx context.Context) (int64, error)

	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS cells (
	cell_key   TEXT PRIMARY KEY,
	chunk_key  TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS cells_by_chunk ON cells (chunk_key);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	pool *sqlitepool.Pool
	g    grid.Grid
	now  func() time.Time
}

// Open creates or opens the cell record database at path.
func Open(path string, g grid.Grid, logger *slog.Logger) (*SQLiteStore, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		Schema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return &SQLiteStore{pool: pool, g: g, now: time.Now}, nil
}

// Close closes the underlying pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, x, y int) (CellMeta, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return CellMeta{}, fmt.Errorf("record: upsert (%d, %d): %w", x, y, err)
	}
	defer s.pool.Put(conn)

	meta := CellMeta{X: x, Y: y}
	now := s.now().UTC()

	err = sqlitex.Execute(conn,
		`INSERT INTO cells (cell_key, chunk_key, version, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT (cell_key) DO UPDATE SET
			version = version + 1,
			updated_at = excluded.updated_at
		 RETURNING version, updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{grid.CellKey(x, y), s.g.ChunkKeyOf(x, y).String(), now.UnixMilli()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				meta.Version = stmt.ColumnInt64(0)
				meta.UpdatedAt = time.UnixMilli(stmt.ColumnInt64(1)).UTC()
				return nil
			},
		})
	if err != nil {
		return CellMeta{}, fmt.Errorf("record: upsert (%d, %d): %w", x, y, err)
	}
	return meta, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, x, y int) (CellMeta, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return CellMeta{}, false, fmt.Errorf("record: get (%d, %d): %w", x, y, err)
	}
	defer s.pool.Put(conn)

	meta := CellMeta{X: x, Y: y}
	found := false
	err = sqlitex.Execute(conn,
		`SELECT version, updated_at FROM cells WHERE cell_key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{grid.CellKey(x, y)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				meta.Version = stmt.ColumnInt64(0)
				meta.UpdatedAt = time.UnixMilli(stmt.ColumnInt64(1)).UTC()
				return nil
			},
		})
	if err != nil {
		return CellMeta{}, false, fmt.Errorf("record: get (%d, %d): %w", x, y, err)
	}
	return meta, found, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, x, y int) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("record: delete (%d, %d): %w", x, y, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM cells WHERE cell_key = ?`,
		&sqlitex.ExecOptions{Args: []any{grid.CellKey(x, y)}})
	if err != nil {
		return false, fmt.Errorf("record: delete (%d, %d): %w", x, y, err)
	}
	return conn.Changes() > 0, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("record: count: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM cells`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("record: count: %w", err)
	}
	return count, nil
}
