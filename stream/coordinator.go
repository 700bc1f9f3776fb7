// Package stream orchestrates trace runs: open, decode (or replay from
// cache), publish, persist, and report progress, under a small state
// machine with cooperative cancellation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saumyakr1232/can-msg-visualizer/cache"
	"github.com/saumyakr1232/can-msg-visualizer/dict"
	"github.com/saumyakr1232/can-msg-visualizer/dispatch"
	"github.com/saumyakr1232/can-msg-visualizer/log"
	"github.com/saumyakr1232/can-msg-visualizer/metrics"
	"github.com/saumyakr1232/can-msg-visualizer/store"
	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// ErrNoActiveRun is returned by Cancel when nothing is running.
var ErrNoActiveRun = errors.New("no active run")

// RunConfig configures a single run.
type RunConfig struct {
	// TracePath is the trace file to process.
	TracePath string
	// Dict is the signal dictionary.
	Dict *dict.Dictionary
	// Cache is the sample cache. Nil disables lookup and write.
	Cache *cache.Store
	// Dispatcher receives decoded batches. Nil disables publishing.
	Dispatcher *dispatch.Dispatcher
	// Store accumulates samples in memory. Nil disables accumulation.
	Store *store.Store
	// Collector records run metrics. Nil-safe.
	Collector *metrics.Collector
	// Logger for run events. Nil means a stderr logger carrying the
	// run id.
	Logger *log.Logger
	// BatchSize is samples per published batch.
	BatchSize int
	// ReorderWindow is the source out-of-order lookahead, in frames.
	ReorderWindow int
	// ProgressInterval is the progress notification cadence.
	ProgressInterval time.Duration
	// OnProgress receives periodic and terminal progress snapshots.
	// Called from the run goroutine; must not block.
	OnProgress func(types.Progress)

	// progressSink feeds Coordinator.Progress. Installed by Start.
	progressSink func(types.Progress)
}

func (cfg *RunConfig) normalize() {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 75 * time.Millisecond
	}
}

// Coordinator runs at most one trace run at a time.
//
// State machine: Idle -> Running -> {Completed, Failed, Cancelled},
// with Cancelling as a transitional state between Running and
// Cancelled. A terminal state permits a new Start; starting while a run
// is active cancels it and awaits its terminal state first.
type Coordinator struct {
	mu        sync.Mutex
	state     types.RunState
	runID     string
	cancelRun context.CancelFunc
	cancelled bool
	done      chan struct{}
	latest    types.Progress
	final     types.Progress
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{state: types.RunIdle}
}

// State returns the current run state.
func (c *Coordinator) State() types.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RunID returns the id of the current or most recent run.
func (c *Coordinator) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Start launches a run and returns its id without blocking on the run
// itself. If a run is already in flight it is cancelled and Start waits
// for its terminal state before beginning the new run. The run ends in
// exactly one terminal state, reported through cfg.OnProgress and Wait.
func (c *Coordinator) Start(ctx context.Context, cfg RunConfig) (string, error) {
	if cfg.TracePath == "" {
		return "", errors.New("trace path required")
	}
	if cfg.Dict == nil {
		return "", errors.New("dictionary required")
	}
	cfg.normalize()

	c.mu.Lock()
	for c.state == types.RunRunning || c.state == types.RunCancelling {
		if c.state == types.RunRunning {
			c.state = types.RunCancelling
			c.cancelled = true
			c.cancelRun()
		}
		done := c.done
		c.mu.Unlock()
		<-done
		c.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	runID := uuid.NewString()
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger(runID, cfg.TracePath)
	}
	cfg.Collector.SetRunID(runID)
	cfg.progressSink = c.storeProgress
	c.state = types.RunRunning
	c.latest = types.Progress{State: types.RunRunning}
	c.runID = runID
	c.cancelRun = cancel
	c.cancelled = false
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer cancel()
		p := newPipeline(runID, &cfg)
		final := p.run(runCtx, c.cancelWasRequested)
		c.finish(final)
		if cfg.OnProgress != nil {
			cfg.OnProgress(final)
		}
		close(done)
	}()

	return runID, nil
}

// Cancel requests cooperative cancellation of the active run. Returns
// ErrNoActiveRun if nothing is running. The run transitions to
// Cancelling immediately and to Cancelled once the pipeline observes
// the request and discards staged cache state.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != types.RunRunning {
		return ErrNoActiveRun
	}
	c.state = types.RunCancelling
	c.cancelled = true
	c.cancelRun()
	return nil
}

func (c *Coordinator) cancelWasRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Coordinator) storeProgress(p types.Progress) {
	c.mu.Lock()
	c.latest = p
	c.mu.Unlock()
}

func (c *Coordinator) finish(final types.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = final.State
	c.latest = final
	c.final = final
}

// Progress returns the most recent progress snapshot of the current or
// most recent run, updated at the run's progress cadence. Returns a
// zero Progress if no run was ever started.
func (c *Coordinator) Progress() types.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Wait blocks until the current run reaches a terminal state and
// returns its final progress. Returns immediately if no run was ever
// started.
func (c *Coordinator) Wait() types.Progress {
	c.mu.Lock()
	done := c.done
	final := c.final
	c.mu.Unlock()

	if done == nil {
		return final
	}
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final
}

// Describe returns a one-line summary of a terminal progress, for CLI
// output and logs.
func Describe(p types.Progress) string {
	switch p.State {
	case types.RunCompleted:
		src := "decoded"
		if p.FromCache {
			src = "replayed from cache"
		}
		return fmt.Sprintf("%s: %d frames, %d samples in %s",
			src, p.FramesProcessed, p.SamplesDecoded, p.Elapsed.Round(time.Millisecond))
	case types.RunCancelled:
		return fmt.Sprintf("cancelled after %d frames", p.FramesProcessed)
	case types.RunFailed:
		return fmt.Sprintf("failed: %v", p.Err)
	default:
		return string(p.State)
	}
}
