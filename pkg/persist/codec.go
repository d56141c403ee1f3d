// Package persist provides codec-based, crash-safe file persistence for the
// files marathon owns: metrics snapshots, checkpoint events and reports.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	yamlExtension = ".yaml"
)

// Default indentation for pretty-printed output.
const (
	defaultIndent     = "  "
	defaultYAMLIndent = 2
)

// File and directory permissions for owned files.
const (
	filePerm = 0o600
	dirPerm  = 0o750
)

// Codec defines how state is serialized and deserialized.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Extension returns the file extension for this codec (e.g., ".json", ".yaml").
	Extension() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	err := json.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// YAMLCodec implements Codec using YAML encoding.
//
// Values are routed through JSON first so that the `json` struct tags used
// across marathon also name the YAML keys.
type YAMLCodec struct{}

// NewYAMLCodec creates a YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Encode implements Codec.Encode using YAML encoding.
func (c *YAMLCodec) Encode(w io.Writer, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	var generic any

	err = json.Unmarshal(raw, &generic)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(defaultYAMLIndent)

	err = encoder.Encode(generic)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf("yaml encode: %w", closeErr)
	}

	return nil
}

// Decode implements Codec.Decode using YAML decoding.
func (c *YAMLCodec) Decode(r io.Reader, state any) error {
	var generic any

	err := yaml.NewDecoder(r).Decode(&generic)
	if err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}

	raw, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}

	err = json.Unmarshal(raw, state)
	if err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for YAML files.
func (c *YAMLCodec) Extension() string {
	return yamlExtension
}

// CodecFor returns the codec for a format name ("json" or "yaml").
func CodecFor(format string) (Codec, bool) {
	switch format {
	case "json":
		return NewJSONCodec(), true
	case "yaml", "yml":
		return NewYAMLCodec(), true
	default:
		return nil, false
	}
}

// SaveState saves the given state to a file in the specified directory.
// The filename is constructed from the basename and the codec's extension.
// It returns the written path.
func SaveState(dir, basename string, codec Codec, state any) (string, error) {
	path := filepath.Join(dir, basename+codec.Extension())

	err := WriteFileAtomic(path, func(w io.Writer) error {
		return codec.Encode(w, state)
	})
	if err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}

	return path, nil
}

// LoadState loads state from a file in the specified directory.
// The state parameter must be a pointer to the target struct.
func LoadState(dir, basename string, codec Codec, state any) error {
	return LoadFile(filepath.Join(dir, basename+codec.Extension()), codec, state)
}

// LoadFile decodes the file at path into state.
func LoadFile(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}

// WriteFileAtomic writes through a temporary file in the same directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	writeErr := write(tmp)
	if writeErr == nil {
		writeErr = tmp.Chmod(filePerm)
	}

	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		removeErr := os.Remove(tmpPath)
		if os.IsNotExist(removeErr) {
			removeErr = nil
		}

		return fmt.Errorf("write temp file: %w", errors.Join(writeErr, closeErr, removeErr))
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		return fmt.Errorf("rename temp file: %w", renameErr)
	}

	return nil
}
