// Package dispatch provides a minimal tick-driven loop that periodically
// advances a shared window.Tick and calls Process for every known
// (metric, window) pair. It is NOT the leader-election / sharding system
// described as "out of scope" by the design: there is no coordination
// across processes here, just a single-process ticker suitable for a
// standalone deployment or for tests.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kloudmate/windowcore/internal/errs"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// Target pairs a metric with the processor responsible for one window of
// its roll-up chain. Process wraps the processor's own Process method,
// discarding the Completion value the dispatch loop has no use for.
// MarkProcessed, if set, is called with every tick after Process returns,
// win or lose, so the processor's bucket caches can run affinity eviction
// even when a tick's Process call itself fails.
type Target struct {
	Metric        metric.Metric
	Window        window.Duration
	Process       func(ctx context.Context, m metric.Metric, executionTimestamp window.Timestamp) error
	MarkProcessed func(tick window.Tick)
}

// Dispatcher ticks on an interval, derives the current window.Tick, and
// invokes every registered Target's Process function with the tick's
// wall-clock-safety-adjusted timestamp.
type Dispatcher struct {
	logger       *zap.Logger
	interval     time.Duration
	safetyMillis int64
	targets      []Target

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher constructs a Dispatcher. Targets may be added with
// Register before Start.
func NewDispatcher(interval time.Duration, safetyMillis int64, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:       logger,
		interval:     interval,
		safetyMillis: safetyMillis,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Register adds a (metric, window) target to the dispatch loop. Distinct
// targets run concurrently within a single tick; a single target is never
// invoked twice concurrently.
func (d *Dispatcher) Register(t Target) {
	d.targets = append(d.targets, t)
}

// Start runs the dispatch loop until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	defer close(d.doneCh)

	for {
		select {
		case now := <-ticker.C:
			d.tick(ctx, window.Timestamp(now.UnixMilli()))
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, wallClock window.Timestamp) {
	tick := window.NewTick(wallClock, d.safetyMillis)
	executionTimestamp := tick.BucketNumber.StartTimestamp()

	// tick returns only once every target has finished, so the next tick
	// never starts a target whose previous call is still running.
	var wg sync.WaitGroup
	for _, t := range d.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			if err := t.Process(ctx, t.Metric, executionTimestamp); err != nil {
				d.logger.Error("process failed, will retry next tick",
					zap.String("metric", t.Metric.Name), zap.String("window", t.Window.Name),
					zap.Bool("transient", errs.IsTransient(err)), zap.Error(err))
			}
			if t.MarkProcessed != nil {
				t.MarkProcessed(tick)
			}
		}(t)
	}
	wg.Wait()
}

// Stop ends the dispatch loop and waits for the targets of a tick already in
// progress to finish. Process failures are logged and retried on the
// following tick.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}
