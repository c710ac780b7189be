package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capbridge/internal/audit"
	"capbridge/internal/manifest"
	"capbridge/internal/platform/config"
)

const testSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["cap_id", "timestamp", "domain", "context_mode", "advisor_of_record", "outputs", "cap_extensions", "integrity"],
	"properties": {
		"cap_id": {"type": "string", "minLength": 1}
	}
}`

const testCAPJSON = `{
	"cap_id": "cap-1",
	"timestamp": "2026-08-29T10:00:00Z",
	"domain": "housing",
	"context_mode": "advisory",
	"advisor_of_record": "advisor-7",
	"outputs": {},
	"cap_extensions": {},
	"integrity": {}
}`

// fakeRestorer simulates the canonical source by writing fixed content.
type fakeRestorer struct {
	content []byte
	err     error
	calls   int
}

func (f *fakeRestorer) RestoreSchema(_ context.Context, destPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destPath, f.content, 0o644)
}

type fixture struct {
	baseDir  string
	cfg      config.Integrity
	restorer *fakeRestorer
	store    *audit.InMemoryStore
	svc      *Service
}

func pin(content []byte) string {
	sum := sha256.Sum256(content)
	return manifest.HashPrefix + hex.EncodeToString(sum[:])
}

func newFixture(t *testing.T, schemaContent, capContent []byte, pinnedContent []byte) *fixture {
	t.Helper()
	baseDir := t.TempDir()

	cfg := config.Integrity{
		SchemaDir:    "schemas",
		ArchiveDir:   "archive/CAP_LOGS",
		CAPFile:      "cap_record.json",
		ManifestName: "manifest.json",
		SchemaName:   "cap_schema.json",
		LogRetain:    10,
	}

	schemaDir := filepath.Join(baseDir, cfg.SchemaDir)
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))

	m := manifest.Manifest{
		Version: "3.5",
		Modules: []manifest.Module{{Name: cfg.SchemaName, SHA256: pin(pinnedContent)}},
	}
	manifestData, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, cfg.ManifestName), manifestData, 0o644))

	if schemaContent != nil {
		require.NoError(t, os.WriteFile(filepath.Join(schemaDir, cfg.SchemaName), schemaContent, 0o644))
	}
	if capContent != nil {
		require.NoError(t, os.WriteFile(filepath.Join(baseDir, cfg.CAPFile), capContent, 0o644))
	}

	restorer := &fakeRestorer{content: pinnedContent}
	store := audit.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	t.Cleanup(pub.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(cfg, restorer, logger, baseDir,
		WithAuditor(pub),
		WithClock(func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }),
	)

	return &fixture{baseDir: baseDir, cfg: cfg, restorer: restorer, store: store, svc: svc}
}

func actions(store *audit.InMemoryStore) []string {
	var out []string
	for _, e := range store.All() {
		out = append(out, e.Action)
	}
	return out
}

func TestRunPass(t *testing.T) {
	f := newFixture(t, []byte(testSchemaJSON), []byte(testCAPJSON), []byte(testSchemaJSON))

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusPass, res.Status)
	assert.Equal(t, "3.5", res.ManifestVersion)
	assert.Equal(t, manifest.Digest(pin([]byte(testSchemaJSON))), res.SchemaHash)
	assert.False(t, res.Restored)
	assert.Zero(t, f.restorer.calls)
	assert.Contains(t, actions(f.store), string(audit.EventIntegrityRun))

	logs, err := f.svc.Archive().List()
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRunRestoresDriftedSchema(t *testing.T) {
	f := newFixture(t, []byte("tampered schema"), []byte(testCAPJSON), []byte(testSchemaJSON))

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusPass, res.Status)
	assert.True(t, res.Restored)
	assert.Equal(t, 1, f.restorer.calls)

	got := actions(f.store)
	assert.Contains(t, got, string(audit.EventHashMismatch))
	assert.Contains(t, got, string(audit.EventSchemaRestored))
}

func TestRunFailsWhenRestoreStillMismatched(t *testing.T) {
	f := newFixture(t, []byte("tampered schema"), []byte(testCAPJSON), []byte(testSchemaJSON))
	f.restorer.content = []byte("wrong canonical content")

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, "post-fetch hash still mismatched", res.Verdict)
}

func TestRunFailsOnMissingManifest(t *testing.T) {
	f := newFixture(t, []byte(testSchemaJSON), []byte(testCAPJSON), []byte(testSchemaJSON))
	require.NoError(t, os.Remove(filepath.Join(f.baseDir, f.cfg.SchemaDir, f.cfg.ManifestName)))

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Verdict, "missing required file or manifest key")
	assert.Equal(t, "unknown", res.ManifestVersion)
	assert.Equal(t, "N/A", res.SchemaHash)
}

func TestRunFailsOnMissingModulePin(t *testing.T) {
	f := newFixture(t, []byte(testSchemaJSON), []byte(testCAPJSON), []byte(testSchemaJSON))
	m := manifest.Manifest{Version: "3.5", Modules: []manifest.Module{{Name: "other.json", SHA256: pin([]byte("x"))}}}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.baseDir, f.cfg.SchemaDir, f.cfg.ManifestName), data, 0o644))

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Verdict, "missing required file or manifest key")
	assert.Equal(t, "3.5", res.ManifestVersion)
}

func TestRunFailsOnInvalidCAPRecord(t *testing.T) {
	f := newFixture(t, []byte(testSchemaJSON), []byte(`{"cap_id": "cap-1"}`), []byte(testSchemaJSON))

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Verdict, "CAP validation error")
}

func TestRunFailsOnMissingCAPRecord(t *testing.T) {
	f := newFixture(t, []byte(testSchemaJSON), nil, []byte(testSchemaJSON))

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Verdict, "missing required file or manifest key")
}

func TestRunRedactsWorkspacePaths(t *testing.T) {
	f := newFixture(t, []byte(testSchemaJSON), []byte(testCAPJSON), []byte(testSchemaJSON))
	require.NoError(t, os.Remove(filepath.Join(f.baseDir, f.cfg.CAPFile)))

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, res.Status)
	assert.NotContains(t, res.Verdict, f.baseDir)
	assert.Contains(t, res.Verdict, "<workspace>")
}

func TestRunFailsWhenCanonicalFetchFails(t *testing.T) {
	f := newFixture(t, []byte("tampered schema"), []byte(testCAPJSON), []byte(testSchemaJSON))
	f.restorer.err = context.DeadlineExceeded

	res, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Verdict, "unhandled error")
}
