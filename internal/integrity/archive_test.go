package integrity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveWriteProducesVerdictRecord(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, 10)

	runtime := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	path, err := a.Write(Result{
		Runtime:         runtime,
		ManifestVersion: "3.5",
		SchemaHash:      "abc123",
		Verdict:         "integrity verified: hashes match and CAP record is valid",
		Status:          StatusPass,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "integrity_20260829_103000.log"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]string
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "3.5", record["manifest_version"])
	assert.Equal(t, "abc123", record["schema_hash"])
	assert.Equal(t, "PASS", record["status"])
	assert.Contains(t, record["runtime"], "2026-08-29T10:30:00")
}

func TestArchivePruneKeepsMostRecent(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, 3)

	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := range 6 {
		name := filepath.Join(dir, "integrity_2026082"+string(rune('0'+i))+"_100000.log")
		require.NoError(t, os.WriteFile(name, []byte("{}"), 0o644))
		mtime := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(name, mtime, mtime))
	}

	require.NoError(t, a.Prune())

	remaining, err := a.List()
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	// The three newest mtimes survive.
	for _, p := range remaining {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, !info.ModTime().Before(base.Add(3*time.Hour)),
			"old log %s should have been pruned", p)
	}
}

func TestArchiveWritePrunesAutomatically(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, 2)

	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := range 4 {
		_, err := a.Write(Result{
			Runtime: base.Add(time.Duration(i) * time.Minute),
			Status:  StatusPass,
		})
		require.NoError(t, err)
	}

	remaining, err := a.List()
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestArchiveListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, 10)

	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		_, err := a.Write(Result{Runtime: base.Add(time.Duration(i) * time.Minute), Status: StatusFail})
		require.NoError(t, err)
	}

	paths, err := a.List()
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Contains(t, paths[0], "integrity_20260829_100200.log")
	assert.Contains(t, paths[2], "integrity_20260829_100000.log")
}
