package source

import (
	"container/heap"
	"io"

	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// frameHeap is a min-heap ordered by frame timestamp.
type frameHeap []types.RawFrame

func (h frameHeap) Len() int            { return len(h) }
func (h frameHeap) Less(i, j int) bool  { return h[i].Timestamp < h[j].Timestamp }
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)         { *h = append(*h, x.(types.RawFrame)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	frame := old[n-1]
	*h = old[:n-1]
	return frame
}

// reorderingSource normalizes mildly out-of-order records into a
// non-decreasing timestamp stream using a bounded lookahead window.
// This is not a full-file sort: a record older than everything already
// emitted once the window has moved past it is dropped and counted.
type reorderingSource struct {
	inner   FrameSource
	window  int
	buf     frameHeap
	last    float64
	emitted bool
	innerDone bool
	dropped int64
}

func newReorderingSource(inner FrameSource, window int) FrameSource {
	if window <= 0 {
		// Zero window still enforces ordering: regressing records are
		// dropped rather than re-buffered.
		window = 1
	}
	return &reorderingSource{
		inner:  inner,
		window: window,
		buf:    make(frameHeap, 0, window),
	}
}

// Next returns the next frame in non-decreasing timestamp order.
func (s *reorderingSource) Next() (types.RawFrame, error) {
	for {
		// Fill the lookahead window.
		for !s.innerDone && len(s.buf) < s.window {
			frame, err := s.inner.Next()
			if err != nil {
				if err == io.EOF {
					s.innerDone = true
					break
				}
				return types.RawFrame{}, err
			}
			heap.Push(&s.buf, frame)
		}

		if len(s.buf) == 0 {
			return types.RawFrame{}, io.EOF
		}

		frame := heap.Pop(&s.buf).(types.RawFrame)
		if s.emitted && frame.Timestamp < s.last {
			// Out of order beyond the window's reach.
			s.dropped++
			continue
		}
		s.last = frame.Timestamp
		s.emitted = true
		return frame, nil
	}
}

func (s *reorderingSource) Stats() Stats {
	stats := s.inner.Stats()
	stats.OutOfOrderDropped += s.dropped
	return stats
}

func (s *reorderingSource) Close() error { return s.inner.Close() }
