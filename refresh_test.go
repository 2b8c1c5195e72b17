package mosaic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshPoolExecutes(t *testing.T) {
	p := newRefreshPool(2, 8, time.Second, Logger())
	defer p.close()

	done := make(chan struct{})
	ok := p.submit(refreshTask{key: "0:0", run: func(ctx context.Context) error {
		close(done)
		return nil
	}})
	if !ok {
		t.Fatal("submit refused on running pool")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never executed")
	}
}

func TestRefreshPoolCloseDrains(t *testing.T) {
	p := newRefreshPool(1, 64, time.Second, Logger())

	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		if !p.submit(refreshTask{key: "0:0", run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}}) {
			t.Fatal("submit refused while running")
		}
	}
	p.close()

	if got := ran.Load(); got != 50 {
		t.Fatalf("close drained %d of 50 tasks", got)
	}
}

func TestRefreshPoolSubmitAfterClose(t *testing.T) {
	p := newRefreshPool(1, 1, time.Second, Logger())
	p.close()
	p.close() // idempotent

	if p.submit(refreshTask{key: "0:0", run: func(ctx context.Context) error { return nil }}) {
		t.Fatal("submit accepted after close")
	}
}

func TestRefreshPoolTaskTimeout(t *testing.T) {
	p := newRefreshPool(1, 1, 10*time.Millisecond, Logger())

	errs := make(chan error, 1)
	p.submit(refreshTask{key: "0:0", run: func(ctx context.Context) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}})
	p.close()

	select {
	case err := <-errs:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("task context ended with %v, want deadline exceeded", err)
		}
	default:
		t.Fatal("task context never expired")
	}
}

func TestRefreshPoolFailureDoesNotStopWorkers(t *testing.T) {
	p := newRefreshPool(1, 8, time.Second, Logger())

	p.submit(refreshTask{key: "0:0", run: func(ctx context.Context) error {
		return errors.New("boom")
	}})
	done := make(chan struct{})
	p.submit(refreshTask{key: "0:1", run: func(ctx context.Context) error {
		close(done)
		return nil
	}})
	p.close()

	select {
	case <-done:
	default:
		t.Fatal("worker stopped after a failed task")
	}
}
