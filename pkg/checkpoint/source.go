package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoCheckpoint is returned when no snapshot exists yet. This is the normal
// state before a task starts and is not a failure.
var ErrNoCheckpoint = errors.New("no checkpoint")

// DefaultPattern matches executor snapshot files.
const DefaultPattern = "*.json"

// Ref points at a persisted snapshot.
type Ref string

// TaskID returns the task identifier encoded in the snapshot filename stem.
func (r Ref) TaskID() string {
	base := filepath.Base(string(r))

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return string(r)
}

// Snapshot is the newest persisted checkpoint as observed by a reader.
type Snapshot struct {
	Ref        Ref
	ModTime    time.Time
	Checkpoint *TaskCheckpoint
	// Partial is set when only the progress fields of Checkpoint could be read.
	Partial bool
}

// Source abstracts where executor checkpoints are read from.
type Source interface {
	// Latest returns the most recent snapshot. It returns ErrNoCheckpoint when
	// none exists. When the newest snapshot does not parse, the error wraps
	// ErrMalformedSnapshot and the returned Snapshot still carries Ref and ModTime.
	Latest(ctx context.Context) (Snapshot, error)

	// Exists reports whether at least one snapshot is present.
	Exists(ctx context.Context) bool
}

// DefaultDir returns the executor's checkpoint directory (~/.selfware/checkpoints).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".selfware", "checkpoints")
}

// DirSource reads snapshots from a directory owned by the executor. It never
// writes into that directory.
type DirSource struct {
	Dir     string
	Pattern string
}

// NewDirSource creates a DirSource. An empty dir selects DefaultDir.
func NewDirSource(dir string) *DirSource {
	if dir == "" {
		dir = DefaultDir()
	}

	return &DirSource{Dir: dir, Pattern: DefaultPattern}
}

// LatestRef returns the most recently modified snapshot file and its mtime.
func (s *DirSource) LatestRef() (Ref, time.Time, error) {
	pattern := s.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}

	matches, err := filepath.Glob(filepath.Join(s.Dir, pattern))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("glob checkpoints: %w", err)
	}

	var (
		newest    string
		newestMod time.Time
	)

	for _, path := range matches {
		info, statErr := os.Stat(path)
		if statErr != nil || info.IsDir() {
			// Files may vanish between glob and stat while the executor rotates them.
			continue
		}

		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
	}

	if newest == "" {
		return "", time.Time{}, ErrNoCheckpoint
	}

	return Ref(newest), newestMod, nil
}

// Latest implements Source.
func (s *DirSource) Latest(_ context.Context) (Snapshot, error) {
	ref, modTime, err := s.LatestRef()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Ref: ref, ModTime: modTime}

	data, err := os.ReadFile(string(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrNoCheckpoint
		}

		return snap, fmt.Errorf("read checkpoint %s: %w", ref, err)
	}

	cp, partial, err := ParseProgress(data)
	if err != nil {
		return snap, fmt.Errorf("parse %s: %w", ref, err)
	}

	snap.Checkpoint = cp
	snap.Partial = partial

	return snap, nil
}

// Exists implements Source.
func (s *DirSource) Exists(_ context.Context) bool {
	_, _, err := s.LatestRef()

	return err == nil
}

// LatestSnapshot returns the newest checkpoint in dir, possibly partial, or nil when no
// snapshot exists yet.
func LatestSnapshot(dir string) (*TaskCheckpoint, error) {
	snap, err := NewDirSource(dir).Latest(context.Background())
	if errors.Is(err, ErrNoCheckpoint) {
		return nil, nil //nolint:nilnil // absence is the expected pre-start state.
	}

	if err != nil {
		return nil, err
	}

	return snap.Checkpoint, nil
}
