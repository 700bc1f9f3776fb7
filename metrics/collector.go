// Package metrics provides per-run metrics collection for the
// ingestion pipeline.
//
// The Collector accumulates counters during a single run. It is a leaf
// package with no internal dependencies. Dispatch drop counts are
// absorbed from the dispatcher at run completion rather than recorded
// live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of run counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Source
	FramesRead        int64
	MalformedRecords  int64
	OutOfOrderDropped int64
	TruncatedTail     int64

	// Decode
	SamplesDecoded int64
	DecodeFailures int64
	UnknownFrames  int64

	// Cache
	CacheHits          int64
	CacheMisses        int64
	CacheReadFallbacks int64
	BatchesAppended    int64

	// Dispatch (absorbed at run completion)
	SamplesPublished  int64
	SamplesDropped    int64
	DroppedByConsumer map[string]int64

	// Dimensions (informational, set at construction)
	RunID     string
	TracePath string
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver
// safe so callers never need to guard against an absent collector.
type Collector struct {
	mu sync.Mutex

	framesRead        int64
	malformedRecords  int64
	outOfOrderDropped int64
	truncatedTail     int64

	samplesDecoded int64
	decodeFailures int64
	unknownFrames  int64

	cacheHits          int64
	cacheMisses        int64
	cacheReadFallbacks int64
	batchesAppended    int64

	samplesPublished  int64
	samplesDropped    int64
	droppedByConsumer map[string]int64

	runID     string
	tracePath string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(runID, tracePath string) *Collector {
	return &Collector{
		droppedByConsumer: make(map[string]int64),
		runID:             runID,
		tracePath:         tracePath,
	}
}

// SetRunID stamps the run id dimension once the run is assigned one.
func (c *Collector) SetRunID(runID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runID = runID
	c.mu.Unlock()
}

// --- Source ---

// AddFramesRead records frames read from the source.
func (c *Collector) AddFramesRead(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesRead += n
	c.mu.Unlock()
}

// --- Decode ---

// AddSamplesDecoded records decoded samples produced.
func (c *Collector) AddSamplesDecoded(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.samplesDecoded += n
	c.mu.Unlock()
}

// AddDecodeFailures records per-signal decode failures.
func (c *Collector) AddDecodeFailures(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeFailures += n
	c.mu.Unlock()
}

// IncUnknownFrame records a frame whose id has no dictionary layout.
func (c *Collector) IncUnknownFrame() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unknownFrames++
	c.mu.Unlock()
}

// --- Cache ---

// IncCacheHit records a fingerprint lookup that found a committed entry.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// IncCacheMiss records a fingerprint lookup miss.
func (c *Collector) IncCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// IncCacheReadFallback records a replay failure that fell back to a
// live re-decode.
func (c *Collector) IncCacheReadFallback() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheReadFallbacks++
	c.mu.Unlock()
}

// IncBatchAppended records a batch appended to an open write session.
func (c *Collector) IncBatchAppended() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesAppended++
	c.mu.Unlock()
}

// AbsorbSourceStats folds the source's recoverable-fault tallies into
// the collector. Called once when the source is exhausted.
func (c *Collector) AbsorbSourceStats(malformed, outOfOrder, truncated int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.malformedRecords += malformed
	c.outOfOrderDropped += outOfOrder
	c.truncatedTail += truncated
	c.mu.Unlock()
}

// --- Dispatch (absorbed) ---

// AbsorbDispatchStats copies delivery counters from the dispatcher into
// the collector. Called once after run completion with the final
// dispatch snapshot.
func (c *Collector) AbsorbDispatchStats(published, dropped int64, droppedByConsumer map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.samplesPublished = published
	c.samplesDropped = dropped
	c.droppedByConsumer = make(map[string]int64, len(droppedByConsumer))
	for k, v := range droppedByConsumer {
		c.droppedByConsumer[k] = v
	}
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]int64, len(c.droppedByConsumer))
	for k, v := range c.droppedByConsumer {
		dropped[k] = v
	}

	return Snapshot{
		FramesRead:        c.framesRead,
		MalformedRecords:  c.malformedRecords,
		OutOfOrderDropped: c.outOfOrderDropped,
		TruncatedTail:     c.truncatedTail,

		SamplesDecoded: c.samplesDecoded,
		DecodeFailures: c.decodeFailures,
		UnknownFrames:  c.unknownFrames,

		CacheHits:          c.cacheHits,
		CacheMisses:        c.cacheMisses,
		CacheReadFallbacks: c.cacheReadFallbacks,
		BatchesAppended:    c.batchesAppended,

		SamplesPublished:  c.samplesPublished,
		SamplesDropped:    c.samplesDropped,
		DroppedByConsumer: dropped,

		RunID:     c.runID,
		TracePath: c.tracePath,
	}
}
