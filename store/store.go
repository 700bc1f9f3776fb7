// Package store accumulates decoded samples in memory, grouped into
// per-signal time series for downstream rendering and export.
package store

import (
	"sort"
	"sync"

	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// Point is one (timestamp, physical value) pair of a signal series.
type Point struct {
	Timestamp float64
	Value     float64
}

// series holds one signal's accumulated points plus its static
// attributes, captured from the first sample seen.
type series struct {
	points []Point
	unit   string
	msgID  uint32
}

// SeriesInfo summarizes one accumulated signal series.
type SeriesInfo struct {
	Name      string
	MessageID uint32
	Unit      string
	Points    int
}

// Store is an append-only in-memory sample accumulator. Samples arrive
// in non-decreasing timestamp order per run, so each series stays
// time-sorted without re-sorting. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	bySig map[string]*series
	total int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{bySig: make(map[string]*series)}
}

// Add appends a batch of samples to their signal series.
func (s *Store) Add(batch []types.DecodedSample) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range batch {
		sample := &batch[i]
		name := sample.FullName()
		ser, ok := s.bySig[name]
		if !ok {
			ser = &series{unit: sample.Unit, msgID: sample.MessageID}
			s.bySig[name] = ser
		}
		ser.points = append(ser.points, Point{
			Timestamp: sample.Timestamp,
			Value:     sample.Physical,
		})
	}
	s.total += int64(len(batch))
}

// Count returns the total number of accumulated samples.
func (s *Store) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// SignalNames returns the qualified names of all accumulated series,
// sorted.
func (s *Store) SignalNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.bySig))
	for name := range s.bySig {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Series returns a copy of the named signal's points, or nil if the
// signal has no samples.
func (s *Store) Series(name string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.bySig[name]
	if !ok {
		return nil
	}
	out := make([]Point, len(ser.points))
	copy(out, ser.points)
	return out
}

// Page returns up to limit points of the named series starting at
// offset. Out-of-range pages return nil.
func (s *Store) Page(name string, offset, limit int) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.bySig[name]
	if !ok || offset < 0 || offset >= len(ser.points) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(ser.points) {
		end = len(ser.points)
	}
	out := make([]Point, end-offset)
	copy(out, ser.points[offset:end])
	return out
}

// Describe returns a summary of every accumulated series, sorted by
// name.
func (s *Store) Describe() []SeriesInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SeriesInfo, 0, len(s.bySig))
	for name, ser := range s.bySig {
		infos = append(infos, SeriesInfo{
			Name:      name,
			MessageID: ser.msgID,
			Unit:      ser.unit,
			Points:    len(ser.points),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Clear discards all accumulated samples.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySig = make(map[string]*series)
	s.total = 0
}
