package mosaic

import (
	"log/slog"
	"time"

	"github.com/tesserae/mosaic/grid"
	"github.com/tesserae/mosaic/record"
)

// Default refresh pool parameters.
const (
	// DefaultRefreshWorkers is the number of background refresh
	// workers. Refreshes for distinct chunks run in parallel;
	// same-chunk refreshes serialize inside the pyramid cache anyway.
	DefaultRefreshWorkers = 4

	// DefaultRefreshQueue is the refresh queue depth. When the queue
	// is full, WriteCell blocks briefly rather than dropping a refresh.
	DefaultRefreshQueue = 256

	// DefaultRefreshTimeout bounds one background refresh so a stuck
	// composite cannot hold a chunk lock forever.
	DefaultRefreshTimeout = 30 * time.Second
)

// UpdateHook receives every committed cell mutation so the transport
// layer can fan it out to subscribers of the cell's chunk. data is the
// cell image as written, or nil when the cell was deleted. Called
// synchronously on the write path after the mutation is durable; keep
// it fast and never block on slow subscribers here.
type UpdateHook func(x, y int, data []byte)

// Option configures a Service during creation.
//
// Example:
//
//	svc, err := mosaic.New(dataDir,
//	    mosaic.WithGrid(g),
//	    mosaic.WithUpdateHook(hub.Publish),
//	)
type Option func(*serviceOptions)

type serviceOptions struct {
	grid           grid.Grid
	records        record.Store
	hook           UpdateHook
	logger         *slog.Logger
	refreshWorkers int
	refreshQueue   int
	refreshTimeout time.Duration
}

func defaultOptions() serviceOptions {
	return serviceOptions{
		grid:           grid.Default(),
		logger:         Logger(),
		refreshWorkers: DefaultRefreshWorkers,
		refreshQueue:   DefaultRefreshQueue,
		refreshTimeout: DefaultRefreshTimeout,
	}
}

// WithGrid sets the canvas geometry. Defaults to grid.Default()
// (1000x1000 cells, 100-cell chunks).
func WithGrid(g grid.Grid) Option {
	return func(o *serviceOptions) { o.grid = g }
}

// WithRecords injects the authoritative cell record store, replacing
// the bundled SQLite implementation. Use this to point the service at
// an external relational database. The Service takes ownership and
// closes it on Close.
func WithRecords(r record.Store) Option {
	return func(o *serviceOptions) { o.records = r }
}

// WithUpdateHook registers the post-write notification hook.
func WithUpdateHook(h UpdateHook) Option {
	return func(o *serviceOptions) { o.hook = h }
}

// WithLogger sets the service logger, overriding the package default.
func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRefreshWorkers sets the background refresh concurrency.
func WithRefreshWorkers(n int) Option {
	return func(o *serviceOptions) {
		if n > 0 {
			o.refreshWorkers = n
		}
	}
}

// WithRefreshTimeout bounds each background refresh task.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}
