package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tesserae/mosaic/grid"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestInitialState(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	v, err := l.ChunkVersion(ctx, grid.ChunkKey{CX: 5, CY: 3})
	if err != nil || v != 0 {
		t.Errorf("ChunkVersion of fresh chunk = (%d, %v), want 0", v, err)
	}

	v, err = l.OverviewVersion(ctx)
	if err != nil || v != 0 {
		t.Errorf("OverviewVersion = (%d, %v), want 0", v, err)
	}

	stale, err := l.OverviewStale(ctx)
	if err != nil || !stale {
		t.Errorf("OverviewStale = (%v, %v), want true initially", stale, err)
	}
}

func TestBumpChunkMonotonic(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	key := grid.ChunkKey{CX: 1, CY: 2}

	for want := int64(1); want <= 5; want++ {
		got, err := l.BumpChunk(ctx, key)
		if err != nil {
			t.Fatalf("BumpChunk: %v", err)
		}
		if got != want {
			t.Errorf("bump %d returned version %d", want, got)
		}
	}

	v, err := l.ChunkVersion(ctx, key)
	if err != nil || v != 5 {
		t.Errorf("ChunkVersion = (%d, %v), want 5", v, err)
	}

	// Other chunks are untouched.
	v, _ = l.ChunkVersion(ctx, grid.ChunkKey{CX: 0, CY: 0})
	if v != 0 {
		t.Errorf("unrelated chunk version = %d, want 0", v)
	}
}

func TestStalenessPropagation(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	// Render clears staleness.
	if _, err := l.BumpOverview(ctx); err != nil {
		t.Fatalf("BumpOverview: %v", err)
	}
	if stale, _ := l.OverviewStale(ctx); stale {
		t.Error("overview stale after render")
	}

	// Any chunk bump marks it stale again.
	if _, err := l.BumpChunk(ctx, grid.ChunkKey{CX: 0, CY: 0}); err != nil {
		t.Fatalf("BumpChunk: %v", err)
	}
	if stale, _ := l.OverviewStale(ctx); !stale {
		t.Error("overview not stale after chunk bump")
	}

	// Re-render: version increments again, stale clears.
	v, err := l.BumpOverview(ctx)
	if err != nil || v != 2 {
		t.Errorf("BumpOverview = (%d, %v), want 2", v, err)
	}
	if stale, _ := l.OverviewStale(ctx); stale {
		t.Error("overview stale after second render")
	}
}

// TestDurability reopens the database and verifies all counters and
// the stale flag survive.
func TestDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := grid.ChunkKey{CX: 7, CY: 7}
	if _, err := l.BumpChunk(ctx, key); err != nil {
		t.Fatalf("BumpChunk: %v", err)
	}
	if _, err := l.BumpChunk(ctx, key); err != nil {
		t.Fatalf("BumpChunk: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	if v, _ := l.ChunkVersion(ctx, key); v != 2 {
		t.Errorf("chunk version after reopen = %d, want 2", v)
	}
	if stale, _ := l.OverviewStale(ctx); !stale {
		t.Error("stale flag lost across reopen")
	}
}

// TestConcurrentBumps runs parallel bumps against many chunks and
// verifies no increment is lost and the shared stale flag ends up set.
func TestConcurrentBumps(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	const chunks = 8
	const bumpsPerChunk = 20

	var wg sync.WaitGroup
	errs := make(chan error, chunks*bumpsPerChunk)
	for c := 0; c < chunks; c++ {
		key := grid.ChunkKey{CX: c, CY: 0}
		for i := 0; i < bumpsPerChunk; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.BumpChunk(ctx, key); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("BumpChunk: %v", err)
	}

	for c := 0; c < chunks; c++ {
		v, err := l.ChunkVersion(ctx, grid.ChunkKey{CX: c, CY: 0})
		if err != nil {
			t.Fatalf("ChunkVersion: %v", err)
		}
		if v != bumpsPerChunk {
			t.Errorf("chunk %d version = %d, want %d (lost updates)", c, v, bumpsPerChunk)
		}
	}

	if stale, _ := l.OverviewStale(ctx); !stale {
		t.Error("stale flag lost under concurrency")
	}
}

func TestChunkVersions(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	keys := []grid.ChunkKey{{CX: 0, CY: 0}, {CX: 5, CY: 3}}
	for _, k := range keys {
		if _, err := l.BumpChunk(ctx, k); err != nil {
			t.Fatalf("BumpChunk: %v", err)
		}
	}
	if _, err := l.BumpChunk(ctx, keys[1]); err != nil {
		t.Fatalf("BumpChunk: %v", err)
	}

	all, err := l.ChunkVersions(ctx)
	if err != nil {
		t.Fatalf("ChunkVersions: %v", err)
	}
	if len(all) != 2 || all[keys[0]] != 1 || all[keys[1]] != 2 {
		t.Errorf("ChunkVersions = %v", all)
	}
}
