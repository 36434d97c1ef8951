package memory

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired entries are swept.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically drops expired entries from a store.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. A non-positive interval falls back to the
// default.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   slog.With("component", "memory_sweeper"),
	}
}

// Start launches the background sweep loop. It returns immediately.
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.run(ctx)
	w.logger.Info("Memory sweeper started", "interval", w.interval)
}

// Stop cancels the loop and waits for it to exit.
func (w *Sweeper) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.logger.Info("Memory sweeper stopped")
}

func (w *Sweeper) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Sweeper) sweep() {
	start := time.Now()
	removed := w.store.SweepExpired()
	if removed > 0 {
		w.logger.Info("Swept expired memory entries",
			"removed", removed, "duration", time.Since(start))
	}
}
