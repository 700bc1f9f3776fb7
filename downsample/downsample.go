// Package downsample reduces signal series to a bounded point count
// for rendering, preserving visual extremes.
package downsample

import "github.com/saumyakr1232/can-msg-visualizer/store"

// Reduce returns at most k points of the input series. Series already
// within budget are returned unchanged. Larger series are split into
// even buckets, and each bucket contributes its minimum and maximum
// value in time order, so spikes survive reduction.
//
// Reduce never mutates its input. k below 2 is coerced to 2.
func Reduce(points []store.Point, k int) []store.Point {
	if k < 2 {
		k = 2
	}
	n := len(points)
	if n <= k {
		return points
	}

	buckets := k / 2
	out := make([]store.Point, 0, 2*buckets)
	for b := 0; b < buckets; b++ {
		start := b * n / buckets
		end := (b + 1) * n / buckets

		minIdx, maxIdx := start, start
		for i := start + 1; i < end; i++ {
			if points[i].Value < points[minIdx].Value {
				minIdx = i
			}
			if points[i].Value > points[maxIdx].Value {
				maxIdx = i
			}
		}

		switch {
		case minIdx == maxIdx:
			out = append(out, points[minIdx])
		case minIdx < maxIdx:
			out = append(out, points[minIdx], points[maxIdx])
		default:
			out = append(out, points[maxIdx], points[minIdx])
		}
	}
	return out
}
