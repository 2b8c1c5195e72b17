package mosaic

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// refreshTask is one unit of background pyramid maintenance: patch the
// chunk raster for a mutated cell, then warm the overview.
type refreshTask struct {
	key string // chunk key, for logging
	run func(ctx context.Context) error
}

// refreshPool executes refresh tasks on a fixed set of workers. Tasks
// are queued on a bounded channel; submit blocks while the queue is
// full and returns false once the pool is closed, so a task is either
// executed or visibly refused, never silently lost.
//
// Every task's outcome is observed here: failures are logged with the
// chunk key. The per-task timeout keeps a stuck composite from pinning
// a chunk lock indefinitely.
type refreshPool struct {
	queue   chan refreshTask
	timeout time.Duration
	logger  *slog.Logger

	// mu guards running and the send on queue, so close cannot race a
	// concurrent submit into a closed channel.
	mu      sync.RWMutex
	running bool

	wg sync.WaitGroup
}

// newRefreshPool starts workers immediately.
func newRefreshPool(workers, queueSize int, timeout time.Duration, logger *slog.Logger) *refreshPool {
	p := &refreshPool{
		queue:   make(chan refreshTask, queueSize),
		timeout: timeout,
		logger:  logger,
		running: true,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *refreshPool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.execute(task)
	}
}

func (p *refreshPool) execute(task refreshTask) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	if err := task.run(ctx); err != nil {
		p.logger.Warn("background refresh failed",
			"chunk", task.key,
			"elapsed", time.Since(start),
			"error", err,
		)
		return
	}
	p.logger.Debug("background refresh completed",
		"chunk", task.key,
		"elapsed", time.Since(start),
	)
}

// submit queues a task, blocking while the queue is full. Returns
// false if the pool has been closed; the caller logs the refusal.
func (p *refreshPool) submit(task refreshTask) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return false
	}
	// Workers keep draining, so this send always makes progress.
	p.queue <- task
	return true
}

// close stops intake and waits until every queued task has run.
// Safe to call multiple times.
func (p *refreshPool) close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
