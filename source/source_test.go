package source_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/saumyakr1232/can-msg-visualizer/source"
	"github.com/saumyakr1232/can-msg-visualizer/types"
)

func writeBinaryTrace(t *testing.T, frames []types.RawFrame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.cnb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create trace: %v", err)
	}
	w := source.NewWriter(f)
	for _, frame := range frames {
		if err := w.WriteFrame(frame); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close trace: %v", err)
	}
	return path
}

func writeTextTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	return path
}

func drain(t *testing.T, src source.FrameSource) []types.RawFrame {
	t.Helper()
	var frames []types.RawFrame
	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		frames = append(frames, frame)
	}
}

func TestOpen_BinaryRoundTrip(t *testing.T) {
	want := []types.RawFrame{
		{Timestamp: 0.1, ID: 0x100, Payload: []byte{1, 2, 3}, Channel: 0},
		{Timestamp: 0.2, ID: 0x1FFFFFFF, Payload: []byte{4}, Channel: 1, Extended: true},
	}
	path := writeBinaryTrace(t, want)

	src, err := source.Open(path, source.Options{ReorderWindow: 4})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	got := drain(t, src)
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Timestamp != want[i].Timestamp ||
			got[i].Extended != want[i].Extended || got[i].Channel != want[i].Channel {
			t.Errorf("frame %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOpen_TextTrace(t *testing.T) {
	path := writeTextTrace(t, ""+
		"// exported log\n"+
		"date Tue Aug 25 2026\n"+
		"0.100 1 100 Rx d 2 0A 0B\n"+
		"0.200 1 1FFFFFFFx Rx d 1 FF\n")

	src, err := source.Open(path, source.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := drain(t, src)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].ID != 0x100 || frames[0].Payload[0] != 0x0A {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if !frames[1].Extended || frames[1].ID != 0x1FFFFFFF {
		t.Errorf("frame 1 = %+v", frames[1])
	}
	if stats := src.Stats(); stats.MalformedRecords != 0 {
		t.Errorf("header lines must not count as malformed, got %d", stats.MalformedRecords)
	}
}

func TestOpen_UnsupportedFormat(t *testing.T) {
	// Text-like but no line parses as a frame.
	path := writeTextTrace(t, "hello world\nthis is not a trace\n")
	if _, err := source.Open(path, source.Options{}); !errors.Is(err, source.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := source.Open(filepath.Join(t.TempDir(), "absent"), source.Options{})
	if !errors.Is(err, source.ErrFileUnreadable) {
		t.Errorf("expected ErrFileUnreadable, got %v", err)
	}
}

func TestText_MalformedLinesCountedAndSkipped(t *testing.T) {
	path := writeTextTrace(t, ""+
		"0.100 1 100 Rx d 1 0A\n"+
		"0.150 1 XYZ Rx d 1 0A\n"+ // bad id
		"0.200 1 100 Rx d 9 0A\n"+ // dlc exceeds octets
		"0.300 1 100 Rx d 1 0B\n")

	src, err := source.Open(path, source.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := drain(t, src)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if stats := src.Stats(); stats.MalformedRecords != 2 {
		t.Errorf("MalformedRecords = %d, want 2", stats.MalformedRecords)
	}
}

func TestBinary_TruncatedTailTolerated(t *testing.T) {
	path := writeBinaryTrace(t, []types.RawFrame{
		{Timestamp: 0.1, ID: 1, Payload: []byte{1}},
		{Timestamp: 0.2, ID: 2, Payload: []byte{2}},
	})

	// Chop the last few bytes to simulate an interrupted capture.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := source.Open(path, source.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := drain(t, src)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if stats := src.Stats(); stats.TruncatedTail != 1 {
		t.Errorf("TruncatedTail = %d, want 1", stats.TruncatedTail)
	}
}

func TestReorder_NormalizesWithinWindow(t *testing.T) {
	path := writeBinaryTrace(t, []types.RawFrame{
		{Timestamp: 0.1, ID: 1, Payload: []byte{1}},
		{Timestamp: 0.3, ID: 3, Payload: []byte{3}},
		{Timestamp: 0.2, ID: 2, Payload: []byte{2}},
		{Timestamp: 0.4, ID: 4, Payload: []byte{4}},
	})

	src, err := source.Open(path, source.Options{ReorderWindow: 4})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := drain(t, src)
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Timestamp < frames[i-1].Timestamp {
			t.Fatalf("timestamps regress at %d", i)
		}
	}
	if stats := src.Stats(); stats.OutOfOrderDropped != 0 {
		t.Errorf("OutOfOrderDropped = %d, want 0", stats.OutOfOrderDropped)
	}
}

func TestReorder_DropsBeyondWindow(t *testing.T) {
	frames := make([]types.RawFrame, 0, 12)
	for i := 0; i < 10; i++ {
		frames = append(frames, types.RawFrame{Timestamp: float64(i + 10), ID: uint32(i), Payload: []byte{1}})
	}
	// Far older than anything a 2-frame window can still hold back.
	frames = append(frames, types.RawFrame{Timestamp: 1, ID: 99, Payload: []byte{1}})
	path := writeBinaryTrace(t, frames)

	src, err := source.Open(path, source.Options{ReorderWindow: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	got := drain(t, src)
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("timestamps regress at %d", i)
		}
	}
	if stats := src.Stats(); stats.OutOfOrderDropped != 1 {
		t.Errorf("OutOfOrderDropped = %d, want 1", stats.OutOfOrderDropped)
	}
	if len(got) != 10 {
		t.Errorf("got %d frames, want 10", len(got))
	}
}

func TestBinary_OversizedPayloadCountedMalformed(t *testing.T) {
	path := writeBinaryTrace(t, []types.RawFrame{
		{Timestamp: 0.1, ID: 1, Payload: make([]byte, types.MaxPayloadLen+1)},
		{Timestamp: 0.2, ID: 2, Payload: []byte{2}},
	})

	src, err := source.Open(path, source.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := drain(t, src)
	if len(frames) != 1 || frames[0].ID != 2 {
		t.Fatalf("frames = %+v", frames)
	}
	if stats := src.Stats(); stats.MalformedRecords != 1 {
		t.Errorf("MalformedRecords = %d, want 1", stats.MalformedRecords)
	}
}
