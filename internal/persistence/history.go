// Package persistence provides the append-only JSONL history files that
// walk-forward and cost-validation runs write and read back on the next
// invocation to compute trends.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// History is an append-only JSON-lines file. Records are never rewritten;
// each Append adds exactly one line.
type History struct {
	path string
}

// NewHistory creates a history store backed by the given file path. The
// file is created lazily on first Append.
func NewHistory(path string) *History {
	return &History{path: path}
}

// Path returns the backing file path.
func (h *History) Path() string {
	return h.path
}

// Append marshals the record and appends it as one JSON line.
func (h *History) Append(record interface{}) error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	file, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}
	return nil
}

// ReadAll invokes decode once per non-empty line, oldest first. A missing
// file is not an error: decode is simply never called.
func (h *History) ReadAll(decode func(line []byte) error) error {
	file, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := decode(line); err != nil {
			return fmt.Errorf("failed to decode history line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}
	return nil
}

// ReadInto is a typed convenience over ReadAll for the common case of a
// homogeneous history file.
func ReadInto[T any](h *History) ([]T, error) {
	var records []T
	err := h.ReadAll(func(line []byte) error {
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
