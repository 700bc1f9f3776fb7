package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/saumyakr1232/can-msg-visualizer/cache"
	"github.com/saumyakr1232/can-msg-visualizer/decode"
	"github.com/saumyakr1232/can-msg-visualizer/metrics"
	"github.com/saumyakr1232/can-msg-visualizer/source"
	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// errCancelled aborts the replay callback when cancellation is
// observed mid-replay. Never escapes the pipeline.
var errCancelled = errors.New("run cancelled")

// pipeline executes one run end-to-end.
//
// Execution flow:
//  1. Fingerprint the (trace, dictionary) pair
//  2. On cache hit, replay the committed entry
//  3. Otherwise (or on replay failure) decode live, staging a new
//     cache entry alongside delivery
//  4. Commit the entry only on clean completion
type pipeline struct {
	runID string
	cfg   *RunConfig

	startTime    time.Time
	lastProgress time.Time

	frames    int64
	samples   int64
	failures  int64
	fromCache bool
}

func newPipeline(runID string, cfg *RunConfig) *pipeline {
	return &pipeline{runID: runID, cfg: cfg}
}

// run executes the pipeline and returns the terminal progress.
// cancelRequested reports whether the coordinator has received a
// cancel; it is polled between frames and between replayed batches.
func (p *pipeline) run(ctx context.Context, cancelRequested func() bool) types.Progress {
	p.startTime = time.Now()
	p.lastProgress = p.startTime
	logger := p.cfg.Logger
	collector := p.cfg.Collector

	logger.Info("starting run", map[string]any{
		"trace":    p.cfg.TracePath,
		"messages": p.cfg.Dict.MessageCount(),
	})

	var fp types.Fingerprint
	cacheable := p.cfg.Cache != nil
	if cacheable {
		var err error
		fp, err = types.FingerprintFile(p.cfg.TracePath, p.cfg.Dict.Checksum())
		if err != nil {
			return p.terminal(types.RunFailed, err, collector)
		}

		hit, err := p.cfg.Cache.Lookup(fp)
		if err != nil {
			logger.Warn("cache lookup failed", map[string]any{"error": err.Error()})
			hit = false
		}
		if hit {
			collector.IncCacheHit()
			final, ok := p.replay(ctx, fp, cancelRequested)
			if ok {
				return final
			}
			// Fall through to a live decode. Consumers may have seen a
			// partial replay; the accumulated store is reset so series
			// are not double-counted.
			collector.IncCacheReadFallback()
			p.resetAfterFailedReplay()
		} else {
			collector.IncCacheMiss()
		}
	}

	return p.live(ctx, fp, cacheable, cancelRequested)
}

// replay streams a committed cache entry to consumers. The second
// return is false when the entry could not be read and the caller
// should fall back to a live decode; cancellation and delivery
// failures are terminal and return true.
func (p *pipeline) replay(ctx context.Context, fp types.Fingerprint, cancelRequested func() bool) (types.Progress, bool) {
	logger := p.cfg.Logger
	collector := p.cfg.Collector
	p.fromCache = true

	logger.Info("replaying cached samples", map[string]any{"key": fp.Key()})

	var deliverErr error
	err := p.cfg.Cache.Replay(fp, func(batch []types.DecodedSample) error {
		if cancelRequested() {
			return errCancelled
		}
		if err := p.deliver(ctx, batch); err != nil {
			deliverErr = err
			return err
		}
		p.samples += int64(len(batch))
		collector.AddSamplesDecoded(int64(len(batch)))
		p.maybeProgress()
		return nil
	})

	switch {
	case err == nil:
		return p.terminal(types.RunCompleted, nil, collector), true
	case errors.Is(err, errCancelled):
		return p.terminal(types.RunCancelled, nil, collector), true
	case deliverErr != nil:
		// A cancel can surface as a context error from delivery.
		if cancelRequested() {
			return p.terminal(types.RunCancelled, nil, collector), true
		}
		return p.terminal(types.RunFailed, deliverErr, collector), true
	default:
		logger.Warn("cache replay failed, falling back to live decode", map[string]any{
			"key":   fp.Key(),
			"error": err.Error(),
		})
		return types.Progress{}, false
	}
}

// resetAfterFailedReplay clears state accumulated by a partial replay
// before the live decode starts over.
func (p *pipeline) resetAfterFailedReplay() {
	p.fromCache = false
	p.samples = 0
	if p.cfg.Store != nil {
		p.cfg.Store.Clear()
	}
}

// live decodes the trace from disk, staging a cache entry when
// cacheable. The staged entry is committed only on clean completion;
// cancellation and failure discard it.
func (p *pipeline) live(ctx context.Context, fp types.Fingerprint, cacheable bool, cancelRequested func() bool) types.Progress {
	logger := p.cfg.Logger
	collector := p.cfg.Collector

	src, err := source.Open(p.cfg.TracePath, source.Options{ReorderWindow: p.cfg.ReorderWindow})
	if err != nil {
		logger.Error("cannot open trace", map[string]any{"error": err.Error()})
		return p.terminal(types.RunFailed, err, collector)
	}
	defer src.Close()

	var handle *cache.WriteHandle
	if cacheable {
		handle, err = p.cfg.Cache.BeginWrite(fp)
		if err != nil {
			// Caching is an optimization; the run proceeds without it.
			logger.Warn("cannot stage cache entry", map[string]any{"error": err.Error()})
			handle = nil
		}
	}
	abort := func() {
		if handle != nil {
			if err := handle.Abort(); err != nil {
				logger.Warn("cache abort failed", map[string]any{"error": err.Error()})
			}
			handle = nil
		}
	}

	decoder := decode.NewDecoder(p.cfg.Dict)
	batch := make([]types.DecodedSample, 0, p.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if handle != nil {
			if err := handle.Append(batch); err != nil {
				// A failed append poisons the staged entry, not the run.
				logger.Warn("cache append failed, continuing uncached", map[string]any{"error": err.Error()})
				abort()
			} else {
				collector.IncBatchAppended()
			}
		}
		if err := p.deliver(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		if cancelRequested() {
			abort()
			return p.terminal(types.RunCancelled, nil, collector)
		}
		if err := ctx.Err(); err != nil {
			abort()
			return p.terminal(types.RunFailed, err, collector)
		}

		frame, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Error("trace read failed", map[string]any{"error": err.Error()})
			abort()
			return p.terminal(types.RunFailed, err, collector)
		}

		p.frames++
		collector.AddFramesRead(1)
		// Progress is about frames read, so report before the dictionary
		// pre-check: a trace dominated by unknown ids still ticks.
		p.maybeProgress()

		if _, known := p.cfg.Dict.Lookup(frame.ID); !known {
			collector.IncUnknownFrame()
			continue
		}

		samples, sigErrs := decoder.Decode(frame)
		for _, sigErr := range sigErrs {
			logger.Debug("signal decode failed", map[string]any{
				"message": sigErr.MessageName,
				"signal":  sigErr.SignalName,
				"error":   sigErr.Err.Error(),
			})
		}
		p.failures += int64(len(sigErrs))
		collector.AddDecodeFailures(int64(len(sigErrs)))

		p.samples += int64(len(samples))
		collector.AddSamplesDecoded(int64(len(samples)))

		batch = append(batch, samples...)
		if len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				abort()
				if cancelRequested() {
					return p.terminal(types.RunCancelled, nil, collector)
				}
				return p.terminal(types.RunFailed, err, collector)
			}
		}
	}

	if err := flush(); err != nil {
		abort()
		if cancelRequested() {
			return p.terminal(types.RunCancelled, nil, collector)
		}
		return p.terminal(types.RunFailed, err, collector)
	}

	stats := src.Stats()
	collector.AbsorbSourceStats(stats.MalformedRecords, stats.OutOfOrderDropped, stats.TruncatedTail)

	// A cancel that lands after the last frame still wins: no entry is
	// committed for a cancelled run.
	if cancelRequested() {
		abort()
		return p.terminal(types.RunCancelled, nil, collector)
	}

	if handle != nil {
		if err := handle.Commit(); err != nil {
			logger.Warn("cache commit failed", map[string]any{"error": err.Error()})
		} else {
			logger.Info("cache entry committed", map[string]any{"key": handle.Key()})
		}
	}

	return p.terminal(types.RunCompleted, nil, collector)
}

// deliver publishes a batch to the dispatcher and the accumulated
// store.
func (p *pipeline) deliver(ctx context.Context, batch []types.DecodedSample) error {
	if p.cfg.Dispatcher != nil {
		if err := p.cfg.Dispatcher.Publish(ctx, batch); err != nil {
			return err
		}
	}
	if p.cfg.Store != nil {
		p.cfg.Store.Add(batch)
	}
	return nil
}

func (p *pipeline) snapshot(state types.RunState, err error) types.Progress {
	prog := types.Progress{
		State:           state,
		FramesProcessed: p.frames,
		SamplesDecoded:  p.samples,
		DecodeFailures:  p.failures,
		FromCache:       p.fromCache,
		Elapsed:         time.Since(p.startTime),
		Err:             err,
	}
	if p.cfg.Collector != nil {
		snap := p.cfg.Collector.Snapshot()
		prog.MalformedRecords = snap.MalformedRecords
		prog.OutOfOrderDropped = snap.OutOfOrderDropped
	}
	return prog
}

// maybeProgress emits a progress snapshot when the cadence interval
// has elapsed since the previous one.
func (p *pipeline) maybeProgress() {
	if p.cfg.OnProgress == nil && p.cfg.progressSink == nil {
		return
	}
	now := time.Now()
	if now.Sub(p.lastProgress) < p.cfg.ProgressInterval {
		return
	}
	p.lastProgress = now
	snap := p.snapshot(types.RunRunning, nil)
	if p.cfg.progressSink != nil {
		p.cfg.progressSink(snap)
	}
	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(snap)
	}
}

// terminal absorbs final dispatch stats, logs the outcome, and builds
// the terminal progress.
func (p *pipeline) terminal(state types.RunState, err error, collector *metrics.Collector) types.Progress {
	if p.cfg.Dispatcher != nil {
		st := p.cfg.Dispatcher.Snapshot()
		collector.AbsorbDispatchStats(st.Published, st.Dropped, st.DroppedByConsumer)
	}

	prog := p.snapshot(state, err)
	fields := map[string]any{
		"state":   string(state),
		"frames":  prog.FramesProcessed,
		"samples": prog.SamplesDecoded,
		"elapsed": prog.Elapsed.String(),
	}
	switch state {
	case types.RunFailed:
		fields["error"] = err.Error()
		p.cfg.Logger.Error("run failed", fields)
	case types.RunCancelled:
		p.cfg.Logger.Info("run cancelled", fields)
	default:
		fields["from_cache"] = prog.FromCache
		p.cfg.Logger.Info("run completed", fields)
	}
	return prog
}
