// Package cache persists decoded sample streams keyed by trace
// fingerprint, so re-opening an unchanged (trace, dictionary) pair
// replays samples from disk instead of re-decoding.
//
// An entry is two files under the cache directory:
//
//	<key>.samples.zst  zstd stream of length-prefixed msgpack batches
//	<key>.entry.yaml   metadata sidecar, written last
//
// Writers stage both files under temporary names and rename them into
// place at commit, data first, metadata last. Lookup only consults the
// metadata file, so a partially written or aborted entry is never
// visible and a crash mid-write leaves at worst an orphaned temp file.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// ErrNoEntry is returned when no committed entry exists for a
// fingerprint or key.
var ErrNoEntry = errors.New("no cache entry")

// ErrCorruptEntry is returned by Replay when a committed entry cannot
// be read back. Callers are expected to fall back to live decode.
var ErrCorruptEntry = errors.New("corrupt cache entry")

const (
	dataSuffix = ".samples.zst"
	metaSuffix = ".entry.yaml"
	tmpSuffix  = ".tmp"

	batchPrefixSize = 4
	maxBatchSize    = 16 << 20
)

// entryMeta is the yaml sidecar describing one committed entry.
type entryMeta struct {
	Fingerprint types.Fingerprint `yaml:"fingerprint"`
	CreatedAt   time.Time         `yaml:"created_at"`
	SampleCount int64             `yaml:"sample_count"`
	BatchCount  int64             `yaml:"batch_count"`
}

// EntryInfo describes one committed entry, for listing and stats.
type EntryInfo struct {
	Key         string
	Fingerprint types.Fingerprint
	CreatedAt   time.Time
	SampleCount int64
	SizeBytes   int64
}

// Stats aggregates the committed entries of a store.
type Stats struct {
	Entries    int
	Samples    int64
	TotalBytes int64
}

// Store is a fingerprint-addressed cache rooted at one directory.
// Methods are safe for concurrent use across distinct keys; the
// pipeline guarantees a single writer per key.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) a cache directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) dataPath(key string) string { return filepath.Join(s.dir, key+dataSuffix) }
func (s *Store) metaPath(key string) string { return filepath.Join(s.dir, key+metaSuffix) }

// Lookup reports whether a committed entry exists for the fingerprint.
// A metadata sidecar whose recorded fingerprint does not match is a
// miss, not an error.
func (s *Store) Lookup(fp types.Fingerprint) (bool, error) {
	meta, err := s.readMeta(fp.Key())
	if err != nil {
		if errors.Is(err, ErrNoEntry) {
			return false, nil
		}
		return false, err
	}
	return meta.Fingerprint == fp, nil
}

func (s *Store) readMeta(key string) (entryMeta, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return entryMeta{}, ErrNoEntry
		}
		return entryMeta{}, fmt.Errorf("read cache metadata: %w", err)
	}
	var meta entryMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("%w: bad metadata: %v", ErrCorruptEntry, err)
	}
	return meta, nil
}

// BeginWrite starts a new entry for the fingerprint. The entry is
// invisible to Lookup and Replay until Commit returns; Abort discards
// all staged state. An existing committed entry for the same key is
// replaced atomically at commit.
func (s *Store) BeginWrite(fp types.Fingerprint) (*WriteHandle, error) {
	key := fp.Key()
	tmpPath := s.dataPath(key) + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("stage cache entry: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("stage cache entry: %w", err)
	}

	return &WriteHandle{
		store:   s,
		fp:      fp,
		key:     key,
		tmpPath: tmpPath,
		f:       f,
		enc:     enc,
	}, nil
}

// WriteHandle stages one cache entry. Not safe for concurrent use.
// Exactly one of Commit or Abort must be called.
type WriteHandle struct {
	store   *Store
	fp      types.Fingerprint
	key     string
	tmpPath string
	f       *os.File
	enc     *zstd.Encoder
	samples int64
	batches int64
	done    bool
}

// Key returns the entry key being staged.
func (h *WriteHandle) Key() string { return h.key }

// Append stages one batch of samples. Empty batches are ignored.
func (h *WriteHandle) Append(batch []types.DecodedSample) error {
	if h.done {
		return errors.New("cache write handle already finished")
	}
	if len(batch) == 0 {
		return nil
	}

	payload, err := msgpack.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode sample batch: %w", err)
	}

	var prefix [batchPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := h.enc.Write(prefix[:]); err != nil {
		return fmt.Errorf("write sample batch: %w", err)
	}
	if _, err := h.enc.Write(payload); err != nil {
		return fmt.Errorf("write sample batch: %w", err)
	}

	h.samples += int64(len(batch))
	h.batches++
	return nil
}

// Commit finalizes the entry: flushes and renames the data file into
// place, then writes the metadata sidecar. Only after Commit returns
// does Lookup see the entry.
func (h *WriteHandle) Commit() error {
	if h.done {
		return errors.New("cache write handle already finished")
	}
	h.done = true

	if err := h.enc.Close(); err != nil {
		h.f.Close()
		os.Remove(h.tmpPath)
		return fmt.Errorf("finish sample stream: %w", err)
	}
	if err := h.f.Sync(); err != nil {
		h.f.Close()
		os.Remove(h.tmpPath)
		return fmt.Errorf("sync cache entry: %w", err)
	}
	if err := h.f.Close(); err != nil {
		os.Remove(h.tmpPath)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(h.tmpPath, h.store.dataPath(h.key)); err != nil {
		os.Remove(h.tmpPath)
		return fmt.Errorf("commit cache data: %w", err)
	}

	meta := entryMeta{
		Fingerprint: h.fp,
		CreatedAt:   time.Now().UTC(),
		SampleCount: h.samples,
		BatchCount:  h.batches,
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	metaTmp := h.store.metaPath(h.key) + tmpSuffix
	if err := os.WriteFile(metaTmp, data, 0o644); err != nil {
		return fmt.Errorf("stage cache metadata: %w", err)
	}
	if err := os.Rename(metaTmp, h.store.metaPath(h.key)); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("commit cache metadata: %w", err)
	}
	return nil
}

// Abort discards the staged entry. Safe to call after a failed Commit.
func (h *WriteHandle) Abort() error {
	if h.done {
		return nil
	}
	h.done = true
	h.enc.Close()
	h.f.Close()
	if err := os.Remove(h.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard staged cache entry: %w", err)
	}
	return nil
}

// Replay streams the committed entry for the fingerprint through emit,
// one staged batch at a time. Replay never loads the whole entry into
// memory. An emit error aborts the replay and is returned verbatim.
func (s *Store) Replay(fp types.Fingerprint, emit func(batch []types.DecodedSample) error) error {
	key := fp.Key()
	meta, err := s.readMeta(key)
	if err != nil {
		return err
	}
	if meta.Fingerprint != fp {
		return ErrNoEntry
	}

	f, err := os.Open(s.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			// Sidecar without data: a damaged entry, not a miss.
			return fmt.Errorf("%w: data file missing", ErrCorruptEntry)
		}
		return fmt.Errorf("open cache data: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	defer dec.Close()

	for {
		var prefix [batchPrefixSize]byte
		if _, err := io.ReadFull(dec, prefix[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: truncated batch prefix", ErrCorruptEntry)
		}
		size := binary.BigEndian.Uint32(prefix[:])
		if size == 0 || size > maxBatchSize {
			return fmt.Errorf("%w: batch size %d", ErrCorruptEntry, size)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(dec, payload); err != nil {
			return fmt.Errorf("%w: truncated batch", ErrCorruptEntry)
		}
		var batch []types.DecodedSample
		if err := msgpack.Unmarshal(payload, &batch); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		if err := emit(batch); err != nil {
			return err
		}
	}
}

// ListEntries returns all committed entries, newest first. Entries
// whose sidecar cannot be parsed are skipped.
func (s *Store) ListEntries() ([]EntryInfo, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var entries []EntryInfo
	for _, de := range dirents {
		name := de.Name()
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		key := strings.TrimSuffix(name, metaSuffix)
		meta, err := s.readMeta(key)
		if err != nil {
			continue
		}
		info := EntryInfo{
			Key:         key,
			Fingerprint: meta.Fingerprint,
			CreatedAt:   meta.CreatedAt,
			SampleCount: meta.SampleCount,
		}
		if st, err := os.Stat(s.dataPath(key)); err == nil {
			info.SizeBytes = st.Size()
		}
		entries = append(entries, info)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// ComputeStats aggregates the committed entries.
func (s *Store) ComputeStats() (Stats, error) {
	entries, err := s.ListEntries()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Entries: len(entries)}
	for _, e := range entries {
		stats.Samples += e.SampleCount
		stats.TotalBytes += e.SizeBytes
	}
	return stats, nil
}

// Clear removes the committed entry with the given key. Metadata is
// removed first so a crash mid-clear cannot leave a visible entry with
// missing data.
func (s *Store) Clear(key string) error {
	metaErr := os.Remove(s.metaPath(key))
	if os.IsNotExist(metaErr) {
		return ErrNoEntry
	}
	if metaErr != nil {
		return fmt.Errorf("remove cache metadata: %w", metaErr)
	}
	if err := os.Remove(s.dataPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache data: %w", err)
	}
	return nil
}

// ClearAll removes every committed entry and any orphaned temp files.
// Returns the number of entries removed.
func (s *Store) ClearAll() (int, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	for _, de := range dirents {
		name := de.Name()
		switch {
		case strings.HasSuffix(name, metaSuffix):
			removed++
			fallthrough
		case strings.HasSuffix(name, dataSuffix), strings.HasSuffix(name, tmpSuffix):
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("remove cache file: %w", err)
			}
		}
	}
	return removed, nil
}
