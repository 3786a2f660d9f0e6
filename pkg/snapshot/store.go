package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ArtifactExt is the extension of snapshot artifact files.
const ArtifactExt = ".dpdb"

// LockFileName is the advisory writer-guard sentinel co-located with a
// snapshot destination directory.
const LockFileName = "dpdb.lock"

var (
	// ErrPersistence wraps any save/load failure: unwritable destination,
	// missing, truncated, or structurally invalid artifact.
	ErrPersistence = errors.New("snapshot persistence failure")

	// ErrWriterConflict means the writer guard is already held. The caller
	// should skip the capture, not retry.
	ErrWriterConflict = errors.New("snapshot writer guard already held")
)

// encoder and decoder for zstd are reusable and thread-safe
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Save serializes the Snapshot as zstd-compressed JSON and writes it to
// path in a single pass.
func Save(s *Snapshot, path string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrPersistence, path, err)
	}
	compressed := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrPersistence, path, err)
	}
	return nil
}

// Load reads an artifact written by Save. A missing, truncated, or
// structurally invalid file, or one with an unsupported format version,
// yields ErrPersistence.
func Load(path string) (*Snapshot, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrPersistence, path, err)
	}
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing %s: %v", ErrPersistence, path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrPersistence, path, err)
	}
	if s.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: %s has format version %d, want %d",
			ErrPersistence, path, s.FormatVersion, FormatVersion)
	}
	if len(s.Frames) > 0 && (s.FocusFrame < 0 || s.FocusFrame >= len(s.Frames)) {
		return nil, fmt.Errorf("%w: %s focus frame %d out of range for %d frames",
			ErrPersistence, path, s.FocusFrame, len(s.Frames))
	}
	return &s, nil
}

// AcquireWriterGuard takes the advisory single-writer guard for dir by
// creating the sentinel file. ErrWriterConflict means another writer holds
// it. The guard is not crash-safe: if the owner dies before release the
// sentinel leaks and must be cleared manually.
func AcquireWriterGuard(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrWriterConflict
		}
		return fmt.Errorf("%w: acquiring guard in %s: %v", ErrPersistence, dir, err)
	}
	return f.Close()
}

// ReleaseWriterGuard removes the sentinel unconditionally, so a failed save
// cannot permanently block future captures from a live process.
func ReleaseWriterGuard(dir string) {
	_ = os.Remove(filepath.Join(dir, LockFileName))
}

// CrashArtifactName is the default artifact name for an intercepted crash.
func CrashArtifactName(label string) string {
	return label + "_crash" + ArtifactExt
}

// ManualArtifactName is the default artifact name for a manual checkpoint.
func ManualArtifactName(t time.Time) string {
	return "core_dump_" + t.Format("20060102_150405") + ArtifactExt
}
