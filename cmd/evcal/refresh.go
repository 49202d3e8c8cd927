package main

import (
	"context"
	"sync"

	appLog "evcal/internal/log"
)

// refresher runs feed imports. Overlapping runs are skipped, and Wait
// blocks until every run started through it has returned.
type refresher struct {
	ctx   context.Context
	mu    sync.Mutex
	wg    sync.WaitGroup
	run   func(ctx context.Context) error
	after func(ctx context.Context)
}

func newRefresher(ctx context.Context, run func(context.Context) error, after func(context.Context)) *refresher {
	return &refresher{ctx: ctx, run: run, after: after}
}

// Job is the cron entry point. It runs synchronously.
func (r *refresher) Job() {
	r.wg.Add(1)
	defer r.wg.Done()

	if !r.mu.TryLock() {
		appLog.Warn("import still running, skipping")
		return
	}
	defer r.mu.Unlock()

	if err := r.run(r.ctx); err != nil {
		appLog.Error("import finished with errors", err)
	}
	if r.after != nil {
		r.after(r.ctx)
	}
}

// Start runs Job in the background.
func (r *refresher) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Job()
	}()
}

// Wait blocks until all runs have returned.
func (r *refresher) Wait() {
	r.wg.Wait()
}
