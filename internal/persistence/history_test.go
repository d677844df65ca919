package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Run   int     `json:"run"`
	Score float64 `json:"score"`
}

func TestHistory_AppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	history := NewHistory(filepath.Join(dir, "sub", "history.jsonl"))

	require.NoError(t, history.Append(testRecord{Run: 1, Score: 0.5}))
	require.NoError(t, history.Append(testRecord{Run: 2, Score: 0.7}))
	require.NoError(t, history.Append(testRecord{Run: 3, Score: 0.9}))

	records, err := ReadInto[testRecord](history)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].Run, "records must come back oldest first")
	assert.Equal(t, 0.9, records[2].Score)
}

func TestHistory_AppendOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")
	history := NewHistory(path)

	require.NoError(t, history.Append(testRecord{Run: 1}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, history.Append(testRecord{Run: 2}))
	after, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(before), string(after[:len(before)]), "existing lines must never be rewritten")
}

func TestHistory_MissingFileIsEmpty(t *testing.T) {
	history := NewHistory(filepath.Join(t.TempDir(), "nope.jsonl"))

	records, err := ReadInto[testRecord](history)
	require.NoError(t, err)
	assert.Empty(t, records)
}
