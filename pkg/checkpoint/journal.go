package checkpoint

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// ErrCorruptJournal is returned when a journal record cannot be decoded.
var ErrCorruptJournal = errors.New("corrupt checkpoint journal")

// journalExtension is the file extension for delta journals.
const journalExtension = ".journal"

// Record header layout: flag byte, raw length, stored length.
const (
	recordHeaderSize = 1 + 4 + 4
	flagRaw          = byte(0)
	flagLZ4          = byte(1)
	journalFilePerm  = 0o600
)

// maxRecordSize bounds a single decoded delta.
const maxRecordSize = 64 << 20

// Journal is an append-only log of deltas for one task. Each record is the
// JSON delta, LZ4 block-compressed when that makes it smaller.
type Journal struct {
	path string
}

// OpenJournal returns the journal for taskID under dir. Nothing is created
// until the first Append.
func OpenJournal(dir, taskID string) (*Journal, error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}

	return &Journal{path: filepath.Join(dir, taskID+journalExtension)}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one delta and syncs it to disk.
func (j *Journal) Append(delta *Delta) error {
	raw, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}

	record := encodeRecord(raw)

	err = os.MkdirAll(filepath.Dir(j.path), dirPerm)
	if err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, journalFilePerm)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	_, writeErr := file.Write(record)
	if writeErr == nil {
		writeErr = file.Sync()
	}

	closeErr := file.Close()

	err = errors.Join(writeErr, closeErr)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}

	return nil
}

// Deltas reads every record in order.
func (j *Journal) Deltas() ([]*Delta, error) {
	file, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	var deltas []*Delta

	for {
		raw, readErr := readRecord(reader)
		if errors.Is(readErr, io.EOF) {
			return deltas, nil
		}

		if readErr != nil {
			return deltas, fmt.Errorf("%w: record %d: %w", ErrCorruptJournal, len(deltas), readErr)
		}

		var delta Delta

		unmarshalErr := json.Unmarshal(raw, &delta)
		if unmarshalErr != nil {
			return deltas, fmt.Errorf("%w: record %d: %w", ErrCorruptJournal, len(deltas), unmarshalErr)
		}

		deltas = append(deltas, &delta)
	}
}

// Replay rebuilds the full checkpoint from base plus every journaled delta.
// Deltas already contained in base (target version not above base.Version)
// are skipped, so base may be any full snapshot written after compaction.
func (j *Journal) Replay(base *TaskCheckpoint) (*TaskCheckpoint, error) {
	deltas, err := j.Deltas()
	if err != nil {
		return nil, err
	}

	replayer := NewReplayer(base)

	for _, delta := range deltas {
		if delta.TargetVersion <= replayer.Version() {
			continue
		}

		applyErr := replayer.Apply(delta)
		if applyErr != nil {
			return nil, fmt.Errorf("replay journal: %w", applyErr)
		}
	}

	return replayer.Checkpoint(), nil
}

// Reset truncates the journal, typically after a full snapshot was saved.
func (j *Journal) Reset() error {
	err := os.Remove(j.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reset journal: %w", err)
	}

	return nil
}

func encodeRecord(raw []byte) []byte {
	flag := flagRaw
	stored := raw

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, err := lz4.CompressBlock(raw, compressed, nil)
	if err == nil && written > 0 && written < len(raw) {
		flag = flagLZ4
		stored = compressed[:written]
	}

	record := make([]byte, recordHeaderSize+len(stored))
	record[0] = flag
	binary.LittleEndian.PutUint32(record[1:5], uint32(len(raw)))
	binary.LittleEndian.PutUint32(record[5:9], uint32(len(stored)))
	copy(record[recordHeaderSize:], stored)

	return record
}

func readRecord(r io.Reader) ([]byte, error) {
	header := make([]byte, recordHeaderSize)

	_, err := io.ReadFull(r, header)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("read header: %w", err)
	}

	rawLen := binary.LittleEndian.Uint32(header[1:5])
	storedLen := binary.LittleEndian.Uint32(header[5:9])

	if rawLen > maxRecordSize || storedLen > maxRecordSize {
		return nil, fmt.Errorf("record too large: %d bytes", rawLen)
	}

	stored := make([]byte, storedLen)

	_, err = io.ReadFull(r, stored)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch header[0] {
	case flagRaw:
		return stored, nil
	case flagLZ4:
		raw := make([]byte, rawLen)

		n, decErr := lz4.UncompressBlock(stored, raw)
		if decErr != nil {
			return nil, fmt.Errorf("decompress: %w", decErr)
		}

		return raw[:n], nil
	default:
		return nil, fmt.Errorf("unknown record flag %d", header[0])
	}
}
