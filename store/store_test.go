package store_test

import (
	"testing"

	"github.com/saumyakr1232/can-msg-visualizer/store"
	"github.com/saumyakr1232/can-msg-visualizer/types"
)

func sampleBatch() []types.DecodedSample {
	return []types.DecodedSample{
		{Timestamp: 0.1, MessageName: "Engine", MessageID: 0x100, SignalName: "Rpm", Physical: 800, Unit: "rpm"},
		{Timestamp: 0.1, MessageName: "Engine", MessageID: 0x100, SignalName: "Temp", Physical: 70},
		{Timestamp: 0.2, MessageName: "Engine", MessageID: 0x100, SignalName: "Rpm", Physical: 820, Unit: "rpm"},
	}
}

func TestAddAndSeries(t *testing.T) {
	s := store.NewStore()
	s.Add(sampleBatch())

	if s.Count() != 3 {
		t.Errorf("Count = %d, want 3", s.Count())
	}

	rpm := s.Series("Engine.Rpm")
	if len(rpm) != 2 {
		t.Fatalf("Rpm series has %d points, want 2", len(rpm))
	}
	if rpm[0].Value != 800 || rpm[1].Value != 820 {
		t.Errorf("Rpm points = %+v", rpm)
	}

	if s.Series("Engine.Missing") != nil {
		t.Error("missing series should be nil")
	}
}

func TestSignalNamesSorted(t *testing.T) {
	s := store.NewStore()
	s.Add(sampleBatch())

	names := s.SignalNames()
	want := []string{"Engine.Rpm", "Engine.Temp"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestSeriesIsACopy(t *testing.T) {
	s := store.NewStore()
	s.Add(sampleBatch())

	got := s.Series("Engine.Rpm")
	got[0].Value = -1

	again := s.Series("Engine.Rpm")
	if again[0].Value != 800 {
		t.Error("Series returned aliased storage")
	}
}

func TestPage(t *testing.T) {
	s := store.NewStore()
	for i := 0; i < 10; i++ {
		s.Add([]types.DecodedSample{{
			Timestamp:   float64(i),
			MessageName: "M",
			SignalName:  "S",
			Physical:    float64(i),
		}})
	}

	page := s.Page("M.S", 4, 3)
	if len(page) != 3 || page[0].Value != 4 || page[2].Value != 6 {
		t.Errorf("page = %+v", page)
	}

	// Clamped at the end.
	tail := s.Page("M.S", 8, 5)
	if len(tail) != 2 {
		t.Errorf("tail page has %d points, want 2", len(tail))
	}

	if s.Page("M.S", 100, 5) != nil {
		t.Error("out-of-range offset should be nil")
	}
	if s.Page("M.S", 0, 0) != nil {
		t.Error("non-positive limit should be nil")
	}
}

func TestDescribe(t *testing.T) {
	s := store.NewStore()
	s.Add(sampleBatch())

	infos := s.Describe()
	if len(infos) != 2 {
		t.Fatalf("got %d infos", len(infos))
	}
	if infos[0].Name != "Engine.Rpm" || infos[0].Points != 2 || infos[0].Unit != "rpm" {
		t.Errorf("infos[0] = %+v", infos[0])
	}
	if infos[0].MessageID != 0x100 {
		t.Errorf("MessageID = %#x", infos[0].MessageID)
	}
}

func TestClear(t *testing.T) {
	s := store.NewStore()
	s.Add(sampleBatch())
	s.Clear()

	if s.Count() != 0 {
		t.Errorf("Count after Clear = %d", s.Count())
	}
	if len(s.SignalNames()) != 0 {
		t.Error("names should be empty after Clear")
	}
}
