package loc_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/marathon/pkg/loc"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCountLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, loc.CountLines(nil))
	assert.Equal(t, 1, loc.CountLines([]byte("x")))
	assert.Equal(t, 1, loc.CountLines([]byte("x\n")))
	assert.Equal(t, 3, loc.CountLines([]byte("a\nb\nc")))
}

func TestCounter_Breakdown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, dir, "queue/queue.go", "package queue\n\ntype Queue struct{}\n\nfunc New() *Queue { return nil }\n")
	writeFile(t, dir, "worker.py", "print('hi')\nprint('bye')\n")
	writeFile(t, dir, "vendor/lib/lib.go", "package lib\n")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, dir, "blob.bin", "\x00\x01\x02")

	languages, err := loc.NewCounter().Breakdown(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, languages, 2)

	assert.Equal(t, loc.Language{Name: "Go", Files: 2, Lines: 8}, languages[0])
	assert.Equal(t, loc.Language{Name: "Python", Files: 1, Lines: 2}, languages[1])

	total, err := loc.NewCounter().Count(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestCounter_MaxFileSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "big.go", "package big\n// padding padding padding\n")

	counter := &loc.Counter{MaxFileSize: 8}

	total, err := counter.Count(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCounter_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "file.go", "package x\n")

	_, err := loc.NewCounter().Count(context.Background(), filepath.Join(dir, "file.go"))
	require.ErrorIs(t, err, loc.ErrNotDirectory)

	_, err = loc.NewCounter().Count(context.Background(), filepath.Join(dir, "missing"))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = loc.NewCounter().Count(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}
