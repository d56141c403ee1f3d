package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/persist"
)

// ErrSessionNotFound is returned when no session directory matches.
var ErrSessionNotFound = errors.New("session not found")

// File names inside a session directory.
const (
	infoBasename   = "session"
	reportBasename = "final_report"
)

// Info describes a session as written to session.json when it starts.
type Info struct {
	ID                 string        `json:"id"`
	Project            Project       `json:"project"`
	Agents             int           `json:"agents"`
	Duration           time.Duration `json:"duration"`
	CheckpointInterval time.Duration `json:"checkpoint_interval"`
	PollInterval       time.Duration `json:"poll_interval"`
	Plan               Plan          `json:"plan"`
	StartedAt          time.Time     `json:"started_at"`
}

var (
	infoPersister   = persist.NewPersister[Info](infoBasename, persist.NewJSONCodec())
	reportPersister = persist.NewPersister[metrics.Report](reportBasename, persist.NewJSONCodec())
)

// LoadInfo reads session.json from a session directory.
func LoadInfo(dir string) (*Info, error) {
	info, err := infoPersister.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load session info: %w", err)
	}

	return info, nil
}

// LoadReport reads final_report.json from a session directory.
func LoadReport(dir string) (*metrics.Report, error) {
	report, err := reportPersister.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load final report: %w", err)
	}

	return report, nil
}

// ReportPath returns where the final report of a session is written.
func ReportPath(dir string) string {
	return filepath.Join(dir, reportPersister.Filename())
}

// MetricsDir returns the metrics WAL directory of a session.
func MetricsDir(dir string) string {
	return filepath.Join(dir, metrics.DirName)
}

// Listing is one entry of ListSessions.
type Listing struct {
	Dir    string
	Info   Info
	Report *metrics.Report
}

// ListSessions returns every session under runsDir that has a session.json,
// most recently started first.
func ListSessions(runsDir string) ([]Listing, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list sessions: %w", err)
	}

	listings := make([]Listing, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(runsDir, entry.Name())

		info, infoErr := LoadInfo(dir)
		if infoErr != nil {
			continue
		}

		listing := Listing{Dir: dir, Info: *info}

		report, reportErr := LoadReport(dir)
		if reportErr == nil {
			listing.Report = report
		}

		listings = append(listings, listing)
	}

	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].Info.StartedAt.After(listings[j].Info.StartedAt)
	})

	return listings, nil
}

// ResolveDir returns the directory of session id under runsDir. An empty id
// selects the most recently started session.
func ResolveDir(runsDir, id string) (string, error) {
	if id != "" {
		dir := filepath.Join(runsDir, id)

		_, err := os.Stat(filepath.Join(dir, infoPersister.Filename()))
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}

		return dir, nil
	}

	listings, err := ListSessions(runsDir)
	if err != nil {
		return "", err
	}

	if len(listings) == 0 {
		return "", fmt.Errorf("%w: no sessions in %s", ErrSessionNotFound, runsDir)
	}

	return listings[0].Dir, nil
}

// ReplayHistory reads the metrics write-ahead log of a session.
func ReplayHistory(dir string) ([]metrics.Snapshot, error) {
	history, err := metrics.Replay(MetricsDir(dir))
	if err != nil {
		return nil, fmt.Errorf("replay metrics: %w", err)
	}

	return history, nil
}

// CurrentReport returns the final report of a finished session, or one derived
// from the metrics log of a session still running. final reports which.
func CurrentReport(dir string) (report metrics.Report, final bool, err error) {
	saved, loadErr := LoadReport(dir)
	if loadErr == nil {
		return *saved, true, nil
	}

	if !errors.Is(loadErr, os.ErrNotExist) {
		return metrics.Report{}, false, loadErr
	}

	history, err := ReplayHistory(dir)
	if err != nil {
		return metrics.Report{}, false, err
	}

	return metrics.GenerateReport(history), false, nil
}
