package persist

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testState is a struct for round-trip codec testing.
type testState struct {
	Name   string         `json:"name"`
	Count  int            `json:"count"`
	Values map[string]int `json:"values"`
}

var errBoom = errors.New("boom")

func TestJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	original := testState{
		Name:   "test",
		Count:  42,
		Values: map[string]int{"a": 1, "b": 2},
	}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, original))

	var decoded testState

	require.NoError(t, codec.Decode(&buf, &decoded))

	assert.Equal(t, original, decoded)
}

func TestJSONCodec_CompactNoIndent(t *testing.T) {
	t.Parallel()

	codec := &JSONCodec{Indent: ""}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, testState{Name: "compact", Count: 1}))

	// Compact JSON has at most one trailing newline (from json.Encoder).
	assert.LessOrEqual(t, strings.Count(buf.String(), "\n"), 1)
}

func TestYAMLCodec_UsesJSONTagNames(t *testing.T) {
	t.Parallel()

	codec := NewYAMLCodec()

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, testState{Name: "tags", Count: 3}))

	out := buf.String()
	assert.Contains(t, out, "name: tags")
	assert.Contains(t, out, "count: 3")

	var decoded testState

	require.NoError(t, codec.Decode(strings.NewReader(out), &decoded))
	assert.Equal(t, "tags", decoded.Name)
	assert.Equal(t, 3, decoded.Count)
}

func TestCodecFor(t *testing.T) {
	t.Parallel()

	jsonCodec, ok := CodecFor("json")
	require.True(t, ok)
	assert.Equal(t, ".json", jsonCodec.Extension())

	yamlCodec, ok := CodecFor("yml")
	require.True(t, ok)
	assert.Equal(t, ".yaml", yamlCodec.Extension())

	_, ok = CodecFor("toml")
	assert.False(t, ok)
}

func TestWriteFileAtomic_FailureLeavesNoFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, writeErr := w.Write([]byte("partial"))
		require.NoError(t, writeErr)

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestWriteFileAtomic_ReplacesExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.txt")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, writeErr := io.WriteString(w, "new")

		return writeErr
	})
	require.NoError(t, err)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "new", string(data))
}
