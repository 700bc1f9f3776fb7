package downsample_test

import (
	"math"
	"testing"

	"github.com/saumyakr1232/can-msg-visualizer/downsample"
	"github.com/saumyakr1232/can-msg-visualizer/store"
)

func sine(n int) []store.Point {
	points := make([]store.Point, n)
	for i := range points {
		points[i] = store.Point{
			Timestamp: float64(i) * 0.01,
			Value:     math.Sin(float64(i) / 7),
		}
	}
	return points
}

func TestReduce_IdentityWithinBudget(t *testing.T) {
	points := sine(100)
	out := downsample.Reduce(points, 100)
	if len(out) != 100 {
		t.Fatalf("expected identity, got %d points", len(out))
	}
	for i := range out {
		if out[i] != points[i] {
			t.Fatalf("point %d changed: %v != %v", i, out[i], points[i])
		}
	}
}

func TestReduce_BoundedByK(t *testing.T) {
	points := sine(10000)
	for _, k := range []int{2, 3, 10, 100, 999} {
		out := downsample.Reduce(points, k)
		if len(out) > k {
			t.Errorf("k=%d: got %d points", k, len(out))
		}
		if len(out) == 0 {
			t.Errorf("k=%d: got empty output", k)
		}
	}
}

func TestReduce_PreservesExtremes(t *testing.T) {
	points := sine(5000)
	// Plant a spike in the middle.
	points[2500].Value = 100

	out := downsample.Reduce(points, 50)
	found := false
	for _, p := range out {
		if p.Value == 100 {
			found = true
			break
		}
	}
	if !found {
		t.Error("spike lost in reduction")
	}
}

func TestReduce_TimestampsNonDecreasing(t *testing.T) {
	out := downsample.Reduce(sine(5000), 60)
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp < out[i-1].Timestamp {
			t.Fatalf("timestamps regress at %d: %v < %v", i, out[i].Timestamp, out[i-1].Timestamp)
		}
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	points := sine(1000)
	before := make([]store.Point, len(points))
	copy(before, points)

	downsample.Reduce(points, 10)

	for i := range points {
		if points[i] != before[i] {
			t.Fatalf("input mutated at %d", i)
		}
	}
}

func TestReduce_SmallK(t *testing.T) {
	out := downsample.Reduce(sine(100), 0)
	if len(out) > 2 {
		t.Errorf("k<2 should coerce to 2, got %d points", len(out))
	}
}

func TestReduce_ConstantSeries(t *testing.T) {
	points := make([]store.Point, 1000)
	for i := range points {
		points[i] = store.Point{Timestamp: float64(i), Value: 5}
	}
	out := downsample.Reduce(points, 10)
	if len(out) == 0 || len(out) > 10 {
		t.Fatalf("got %d points", len(out))
	}
	for _, p := range out {
		if p.Value != 5 {
			t.Fatalf("constant series produced %v", p.Value)
		}
	}
}
