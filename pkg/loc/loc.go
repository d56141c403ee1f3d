// Package loc measures the size of a workspace in lines of source code,
// classifying files with enry the way linguist does.
package loc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/src-d/enry/v2"
)

// ErrNotDirectory is returned when the workspace path is not a directory.
var ErrNotDirectory = errors.New("workspace is not a directory")

// DefaultMaxFileSize skips files larger than this.
const DefaultMaxFileSize = 1 << 20

// gitDir is never scanned.
const gitDir = ".git"

// Language is the line count of one language.
type Language struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
	Lines int    `json:"lines"`
}

// Counter walks a directory and counts lines of recognized source files.
// Vendored, documentation, configuration, dot and binary files are skipped.
type Counter struct {
	MaxFileSize int64
}

// NewCounter creates a Counter with DefaultMaxFileSize.
func NewCounter() *Counter {
	return &Counter{MaxFileSize: DefaultMaxFileSize}
}

// Count returns the total line count under dir.
func (c *Counter) Count(ctx context.Context, dir string) (int, error) {
	languages, err := c.Breakdown(ctx, dir)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, lang := range languages {
		total += lang.Lines
	}

	return total, nil
}

// Breakdown returns per-language counts, largest first.
func (c *Counter) Breakdown(ctx context.Context, dir string) ([]Language, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat workspace: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	byName := make(map[string]*Language)

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}

		if entry.IsDir() {
			if rel != "." && (entry.Name() == gitDir || enry.IsVendor(rel+"/") || enry.IsDotFile(rel)) {
				return filepath.SkipDir
			}

			return nil
		}

		if !entry.Type().IsRegular() || skipPath(rel) {
			return nil
		}

		return c.countFile(path, rel, entry, byName)
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan workspace: %w", walkErr)
	}

	languages := make([]Language, 0, len(byName))
	for _, lang := range byName {
		languages = append(languages, *lang)
	}

	sort.Slice(languages, func(i, j int) bool {
		if languages[i].Lines != languages[j].Lines {
			return languages[i].Lines > languages[j].Lines
		}

		return languages[i].Name < languages[j].Name
	})

	return languages, nil
}

func (c *Counter) countFile(path, rel string, entry fs.DirEntry, byName map[string]*Language) error {
	info, err := entry.Info()
	if err != nil {
		return nil //nolint:nilerr // files removed mid-scan are skipped.
	}

	if c.MaxFileSize > 0 && info.Size() > c.MaxFileSize {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil //nolint:nilerr // unreadable files are skipped.
	}

	if enry.IsBinary(data) {
		return nil
	}

	name := enry.GetLanguage(filepath.Base(rel), data)
	if name == "" {
		return nil
	}

	lang, ok := byName[name]
	if !ok {
		lang = &Language{Name: name}
		byName[name] = lang
	}

	lang.Files++
	lang.Lines += CountLines(data)

	return nil
}

func skipPath(rel string) bool {
	return enry.IsVendor(rel) || enry.IsDotFile(rel) || enry.IsDocumentation(rel) || enry.IsConfiguration(rel)
}

// CountLines returns the number of lines in data, counting a final line
// without a trailing newline.
func CountLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	lines := bytes.Count(data, []byte{'\n'})

	if data[len(data)-1] != '\n' {
		lines++
	}

	return lines
}
