package types

import "time"

// Progress is a point-in-time view of a stream run, reported at a
// fixed cadence while the run is active and once more at termination.
// Safe to read after creation; the coordinator never mutates a
// published snapshot.
type Progress struct {
	// State is the run state at snapshot time.
	State RunState
	// FramesProcessed is the number of raw frames read so far.
	FramesProcessed int64
	// SamplesDecoded is the number of decoded samples produced so far.
	SamplesDecoded int64
	// DecodeFailures is the per-signal decode failure tally.
	DecodeFailures int64
	// MalformedRecords is the malformed record/line tally from the source.
	MalformedRecords int64
	// OutOfOrderDropped is the tally of records outside the reorder window.
	OutOfOrderDropped int64
	// FromCache reports whether the run is replaying a cached entry.
	FromCache bool
	// Elapsed is wall-clock time since the run started.
	Elapsed time.Duration
	// Err is the terminal error for a Failed run, nil otherwise.
	Err error
}

// DecodeRate returns decoded samples per second, zero before any time
// has elapsed.
func (p Progress) DecodeRate() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.SamplesDecoded) / p.Elapsed.Seconds()
}
