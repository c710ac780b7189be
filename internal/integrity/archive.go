package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio/v2"
)

// Archive persists verdict records under the CAP_LOGS directory and enforces
// the retention limit.
type Archive struct {
	dir    string
	retain int
}

// NewArchive builds an archive rooted at dir keeping the retain most recent
// verdict logs.
func NewArchive(dir string, retain int) *Archive {
	if retain <= 0 {
		retain = 10
	}
	return &Archive{dir: dir, retain: retain}
}

// verdictRecord is the on-disk layout of an archived verdict. Field names are
// wire format shared with downstream audit tooling.
type verdictRecord struct {
	Runtime         string `json:"runtime"`
	ManifestVersion string `json:"manifest_version"`
	SchemaHash      string `json:"schema_hash"`
	Verdict         string `json:"verdict"`
	Status          string `json:"status"`
}

// Write archives a result, creating the directory if needed, and prunes old
// logs. Returns the path of the written log.
func (a *Archive) Write(res Result) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	record := verdictRecord{
		Runtime:         res.Runtime.UTC().Format(time.RFC3339Nano),
		ManifestVersion: res.ManifestVersion,
		SchemaHash:      res.SchemaHash,
		Verdict:         res.Verdict,
		Status:          string(res.Status),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal verdict record: %w", err)
	}

	name := fmt.Sprintf("integrity_%s.log", res.Runtime.UTC().Format("20060102_150405"))
	path := filepath.Join(a.dir, name)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending verdict log: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	if _, err := pending.Write(data); err != nil {
		return "", fmt.Errorf("write verdict log: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace verdict log: %w", err)
	}

	if err := a.Prune(); err != nil {
		return path, err
	}
	return path, nil
}

// Prune removes verdict logs beyond the retention limit, oldest first.
func (a *Archive) Prune() error {
	paths, err := filepath.Glob(filepath.Join(a.dir, "integrity_*.log"))
	if err != nil {
		return fmt.Errorf("list verdict logs: %w", err)
	}
	if len(paths) <= a.retain {
		return nil
	}

	type logFile struct {
		path  string
		mtime time.Time
	}
	var logs []logFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		logs = append(logs, logFile{path: p, mtime: info.ModTime()})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].mtime.After(logs[j].mtime) })

	for _, old := range logs[min(a.retain, len(logs)):] {
		if err := os.Remove(old.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune verdict log %s: %w", old.path, err)
		}
	}
	return nil
}

// List returns the archived verdict logs, newest first by file name.
func (a *Archive) List() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(a.dir, "integrity_*.log"))
	if err != nil {
		return nil, fmt.Errorf("list verdict logs: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}
