package metrics

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/marathon/pkg/persist"
)

// ErrPersistence is returned when a snapshot could not be written to disk.
// The snapshot is still part of the in-memory history.
var ErrPersistence = errors.New("persist metrics snapshot")

// DirName is the metrics directory inside a session directory.
const DirName = "metrics"

const (
	snapshotPrefix = "metrics_"
	snapshotSuffix = ".json"
	snapshotFormat = snapshotPrefix + "%06d" + snapshotSuffix
	snapshotGlob   = snapshotPrefix + "*" + snapshotSuffix
)

// Collector keeps the ordered snapshot history of one session and mirrors
// every snapshot to a numbered JSON file.
type Collector struct {
	dir   string
	codec persist.Codec

	mu      sync.Mutex
	history []Snapshot
	seq     int
}

// NewCollector creates a Collector writing under dir. Numbering continues
// after any snapshot files already present.
func NewCollector(dir string) *Collector {
	c := &Collector{dir: dir, codec: persist.NewJSONCodec()}

	existing, err := filepath.Glob(filepath.Join(dir, snapshotGlob))
	if err == nil {
		for _, path := range existing {
			if seq, ok := parseSeq(path); ok && seq > c.seq {
				c.seq = seq
			}
		}
	}

	return c
}

// Dir returns the snapshot directory.
func (c *Collector) Dir() string {
	return c.dir
}

// RecordSnapshot appends a copy of m to the history and persists it.
func (c *Collector) RecordSnapshot(ts time.Time, m SessionMetrics) error {
	snap := Snapshot{Timestamp: ts, Metrics: m}

	c.mu.Lock()
	c.history = append(c.history, snap)
	c.seq++
	path := filepath.Join(c.dir, fmt.Sprintf(snapshotFormat, c.seq))
	c.mu.Unlock()

	err := persist.WriteFileAtomic(path, func(w io.Writer) error {
		return c.codec.Encode(w, snap)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return nil
}

// History returns a copy of the recorded snapshots in order.
func (c *Collector) History() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.history)
}

// Latest returns the newest snapshot, if any.
func (c *Collector) Latest() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		return Snapshot{}, false
	}

	return c.history[len(c.history)-1], true
}

// Report generates the report over the current history.
func (c *Collector) Report() Report {
	return GenerateReport(c.History())
}

func parseSeq(path string) (int, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return 0, false
	}

	seq, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix))
	if err != nil || seq < 0 {
		return 0, false
	}

	return seq, true
}
