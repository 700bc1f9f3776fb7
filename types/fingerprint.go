package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Fingerprint identifies a (trace file, dictionary) pair for cache
// addressing. Two opens with equal fingerprints are decode-equivalent.
//
// Equality is a documented trust boundary, not a cryptographic
// guarantee: cached output for a matching fingerprint is treated as
// authoritative without re-reading the file byte-for-byte.
type Fingerprint struct {
	// Path is the trace file path as supplied by the caller.
	Path string `yaml:"path"`
	// SizeBytes is the trace file size at open time.
	SizeBytes int64 `yaml:"size_bytes"`
	// ModTimeNanos is the trace file modification time in Unix nanos.
	ModTimeNanos int64 `yaml:"mod_time_nanos"`
	// DictChecksum is the content checksum of the signal dictionary.
	DictChecksum string `yaml:"dict_checksum"`
}

// FingerprintFile stats path and combines it with the dictionary
// checksum into a Fingerprint.
func FingerprintFile(path, dictChecksum string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint stat failed: %w", err)
	}
	return Fingerprint{
		Path:         path,
		SizeBytes:    info.Size(),
		ModTimeNanos: info.ModTime().UnixNano(),
		DictChecksum: dictChecksum,
	}, nil
}

// Key returns a deterministic, filesystem-safe identity string.
// Derived from the base name plus a hash of all identity fields; the
// hash is truncated to 32 hex characters, matching the cache's
// addressing granularity.
func (fp Fingerprint) Key() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s", fp.Path, fp.SizeBytes, fp.ModTimeNanos, fp.DictChecksum)
	sum := hex.EncodeToString(h.Sum(nil))[:32]
	base := filepath.Base(fp.Path)
	if len(base) > 40 {
		base = base[:40]
	}
	return sanitize(base) + "-" + sum
}

// sanitize replaces path-hostile runes so Key is usable as a filename.
func sanitize(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
