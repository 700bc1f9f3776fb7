package cache_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/saumyakr1232/can-msg-visualizer/cache"
	"github.com/saumyakr1232/can-msg-visualizer/types"
)

func mustStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func testFingerprint(name string) types.Fingerprint {
	return types.Fingerprint{
		Path:         "/traces/" + name,
		SizeBytes:    1024,
		ModTimeNanos: 1724932800000000000,
		DictChecksum: "abc123",
	}
}

func testBatch(base float64, n int) []types.DecodedSample {
	batch := make([]types.DecodedSample, n)
	for i := range batch {
		batch[i] = types.DecodedSample{
			Timestamp:   base + float64(i)*0.01,
			MessageName: "Engine",
			MessageID:   0x100,
			SignalName:  "Rpm",
			Raw:         int64(800 + i),
			Physical:    float64(800+i) * 0.25,
			Unit:        "rpm",
		}
	}
	return batch
}

func commitEntry(t *testing.T, s *cache.Store, fp types.Fingerprint, batches ...[]types.DecodedSample) {
	t.Helper()
	h, err := s.BeginWrite(fp)
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	for _, b := range batches {
		if err := h.Append(b); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestLookup_MissOnEmptyStore(t *testing.T) {
	s := mustStore(t)
	hit, err := s.Lookup(testFingerprint("a.log"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if hit {
		t.Error("empty store should miss")
	}
}

func TestCommitThenLookupAndReplay(t *testing.T) {
	s := mustStore(t)
	fp := testFingerprint("a.log")
	first := testBatch(0, 500)
	second := testBatch(5, 250)
	commitEntry(t, s, fp, first, second)

	hit, err := s.Lookup(fp)
	if err != nil || !hit {
		t.Fatalf("Lookup = %t, %v; want hit", hit, err)
	}

	var replayed []types.DecodedSample
	var batchSizes []int
	err = s.Replay(fp, func(batch []types.DecodedSample) error {
		replayed = append(replayed, batch...)
		batchSizes = append(batchSizes, len(batch))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(replayed) != 750 {
		t.Fatalf("replayed %d samples, want 750", len(replayed))
	}
	if len(batchSizes) != 2 || batchSizes[0] != 500 || batchSizes[1] != 250 {
		t.Errorf("batch sizes = %v, want [500 250]", batchSizes)
	}
	// Replay preserves sample content exactly.
	if replayed[0] != first[0] || replayed[499] != first[499] || replayed[500] != second[0] {
		t.Error("replayed samples differ from written samples")
	}
}

func TestUncommittedEntryInvisible(t *testing.T) {
	s := mustStore(t)
	fp := testFingerprint("a.log")

	h, err := s.BeginWrite(fp)
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if err := h.Append(testBatch(0, 10)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if hit, _ := s.Lookup(fp); hit {
		t.Error("staged entry must be invisible before Commit")
	}
	if err := s.Replay(fp, func([]types.DecodedSample) error { return nil }); !errors.Is(err, cache.ErrNoEntry) {
		t.Errorf("Replay = %v, want ErrNoEntry", err)
	}

	if err := h.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
}

func TestAbortDiscardsStagedState(t *testing.T) {
	s := mustStore(t)
	fp := testFingerprint("a.log")

	h, err := s.BeginWrite(fp)
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if err := h.Append(testBatch(0, 10)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := h.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if hit, _ := s.Lookup(fp); hit {
		t.Error("aborted entry must not be visible")
	}

	// No stray temp files left behind.
	dirents, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, de := range dirents {
		if strings.HasSuffix(de.Name(), ".tmp") {
			t.Errorf("orphaned temp file %s", de.Name())
		}
	}
}

func TestLookup_FingerprintMismatchIsMiss(t *testing.T) {
	s := mustStore(t)
	fp := testFingerprint("a.log")
	commitEntry(t, s, fp, testBatch(0, 10))

	// Same path, different mtime: same key base differs in hash, so a
	// changed file simply misses.
	changed := fp
	changed.ModTimeNanos++
	if hit, _ := s.Lookup(changed); hit {
		t.Error("changed fingerprint should miss")
	}
}

func TestReplay_CorruptDataFile(t *testing.T) {
	s := mustStore(t)
	fp := testFingerprint("a.log")
	commitEntry(t, s, fp, testBatch(0, 100))

	// Stomp the data file, keeping the sidecar.
	dataPath := filepath.Join(s.Dir(), fp.Key()+".samples.zst")
	if err := os.WriteFile(dataPath, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := s.Replay(fp, func([]types.DecodedSample) error { return nil })
	if !errors.Is(err, cache.ErrCorruptEntry) {
		t.Errorf("Replay = %v, want ErrCorruptEntry", err)
	}
}

func TestReplay_EmitErrorAborts(t *testing.T) {
	s := mustStore(t)
	fp := testFingerprint("a.log")
	commitEntry(t, s, fp, testBatch(0, 10), testBatch(1, 10))

	sentinel := errors.New("consumer gave up")
	calls := 0
	err := s.Replay(fp, func([]types.DecodedSample) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("Replay = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("emit called %d times, want 1", calls)
	}
}

func TestCommitReplacesExistingEntry(t *testing.T) {
	s := mustStore(t)
	fp := testFingerprint("a.log")
	commitEntry(t, s, fp, testBatch(0, 10))
	commitEntry(t, s, fp, testBatch(0, 20))

	total := 0
	if err := s.Replay(fp, func(batch []types.DecodedSample) error {
		total += len(batch)
		return nil
	}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if total != 20 {
		t.Errorf("replayed %d samples, want 20 from the replacing entry", total)
	}
}

func TestListEntriesAndStats(t *testing.T) {
	s := mustStore(t)
	commitEntry(t, s, testFingerprint("a.log"), testBatch(0, 100))
	commitEntry(t, s, testFingerprint("b.log"), testBatch(0, 50))

	entries, err := s.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.SizeBytes <= 0 {
			t.Errorf("entry %s has size %d", e.Key, e.SizeBytes)
		}
	}

	stats, err := s.ComputeStats()
	if err != nil {
		t.Fatalf("ComputeStats failed: %v", err)
	}
	if stats.Entries != 2 || stats.Samples != 150 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClearAndClearAll(t *testing.T) {
	s := mustStore(t)
	fpA := testFingerprint("a.log")
	fpB := testFingerprint("b.log")
	commitEntry(t, s, fpA, testBatch(0, 10))
	commitEntry(t, s, fpB, testBatch(0, 10))

	if err := s.Clear(fpA.Key()); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if hit, _ := s.Lookup(fpA); hit {
		t.Error("cleared entry still visible")
	}
	if hit, _ := s.Lookup(fpB); !hit {
		t.Error("unrelated entry was removed")
	}
	if err := s.Clear(fpA.Key()); !errors.Is(err, cache.ErrNoEntry) {
		t.Errorf("second Clear = %v, want ErrNoEntry", err)
	}

	removed, err := s.ClearAll()
	if err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d entries, want 1", removed)
	}
	entries, _ := s.ListEntries()
	if len(entries) != 0 {
		t.Errorf("%d entries remain after ClearAll", len(entries))
	}
}

func TestWriteHandle_DoubleFinish(t *testing.T) {
	s := mustStore(t)
	h, err := s.BeginWrite(testFingerprint("a.log"))
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := h.Commit(); err == nil {
		t.Error("second Commit should fail")
	}
	if err := h.Abort(); err != nil {
		t.Errorf("Abort after Commit should be a no-op, got %v", err)
	}
}
