package types

// RunState is the lifecycle state of a stream run.
type RunState string

const (
	// RunIdle means no run has started.
	RunIdle RunState = "idle"
	// RunRunning means a run is actively reading, decoding, or replaying.
	RunRunning RunState = "running"
	// RunCancelling means cancellation was requested and the worker has
	// not yet reached a safe checkpoint.
	RunCancelling RunState = "cancelling"
	// RunCompleted means the run finished, possibly with nonzero fault
	// tallies.
	RunCompleted RunState = "completed"
	// RunCancelled means the run stopped at a cancellation checkpoint.
	// Never reported as Completed; no cache entry is committed.
	RunCancelled RunState = "cancelled"
	// RunFailed means an unrecoverable error aborted the run.
	RunFailed RunState = "failed"
)

// Terminal reports whether the state is a terminal state.
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunCancelled, RunFailed:
		return true
	}
	return false
}
