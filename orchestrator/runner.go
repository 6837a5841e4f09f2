package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"videoTriage/storage"
)

// Runner re-invokes the orchestrator for every active request on a fixed
// interval. Waiting on a slow external job costs nothing between ticks:
// each pass is a set of non-blocking polls, not a held worker.
type Runner struct {
	Orch     *Orchestrator
	Store    storage.Store
	Interval time.Duration
}

// Run loops until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick advances every active request once.
func (r *Runner) Tick(ctx context.Context) {
	ids, err := r.Store.ListActive(ctx)
	if err != nil {
		slog.Error("listing active requests failed", "error", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := r.Orch.Advance(ctx, id); err != nil {
			slog.Error("advance failed", "request_id", id, "error", err)
		}
	}
}
