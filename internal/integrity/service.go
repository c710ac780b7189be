// Package integrity implements the Athena V3 integrity validator: it checks
// the local CAP schema against the manifest's canonical pin, restores drifted
// schemas from the canonical source, validates the local CAP record, and
// archives a verdict for every run.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"capbridge/internal/audit"
	"capbridge/internal/manifest"
	"capbridge/internal/platform/config"
	"capbridge/internal/platform/metrics"
	"capbridge/internal/schema"
	dErrors "capbridge/pkg/domain-errors"
	"capbridge/pkg/platform/sentinel"
)

// Status is the final outcome of an integrity run.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Result captures everything a run learned. It is archived verbatim.
type Result struct {
	Runtime         time.Time
	ManifestVersion string
	SchemaHash      string
	Verdict         string
	Status          Status
	Restored        bool
}

// Restorer fetches the canonical schema and replaces the local copy.
// *schema.Canonical satisfies it; tests substitute fakes.
type Restorer interface {
	RestoreSchema(ctx context.Context, destPath string) error
}

// Service runs integrity checks.
type Service struct {
	cfg      config.Integrity
	restorer Restorer
	archive  *Archive
	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  *audit.Publisher
	baseDir  string
	now      func() time.Time
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithMetrics attaches run metrics.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithAuditor attaches an audit publisher for hash-drift and run events.
func WithAuditor(a *audit.Publisher) ServiceOption {
	return func(s *Service) { s.auditor = a }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService builds a validator service. baseDir is the workspace root used
// for both relative paths and redaction of error messages.
func NewService(cfg config.Integrity, restorer Restorer, logger *slog.Logger, baseDir string, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:      cfg,
		restorer: restorer,
		archive:  NewArchive(resolve(baseDir, cfg.ArchiveDir), cfg.LogRetain),
		logger:   logger,
		baseDir:  baseDir,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Archive exposes the verdict archive for operator tooling.
func (s *Service) Archive() *Archive {
	return s.archive
}

// Run executes one integrity check. Validation failures are not errors: they
// come back inside the Result. The returned error covers only archival
// failure, which means the verdict could not be recorded.
func (s *Service) Run(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("capbridge/integrity").Start(ctx, "integrity.Run")
	defer span.End()

	res := s.check(ctx)

	logPath, archiveErr := s.archive.Write(res)
	if archiveErr != nil {
		return res, fmt.Errorf("archive verdict: %w", archiveErr)
	}
	s.logger.InfoContext(ctx, "verdict archived", "path", logPath, "status", string(res.Status))

	s.metrics.IncrementIntegrityRun(strings.ToLower(string(res.Status)))
	s.emit(ctx, audit.Event{
		Action:     string(audit.EventIntegrityRun),
		Decision:   string(res.Status),
		Reason:     res.Verdict,
		SchemaHash: res.SchemaHash,
	})
	return res, nil
}

// check performs the verification flow and always produces a terminal Result.
func (s *Service) check(ctx context.Context) Result {
	res := Result{
		Runtime:         s.now().UTC(),
		ManifestVersion: "unknown",
		SchemaHash:      "N/A",
		Status:          StatusFail,
	}

	manifestPath := resolve(s.baseDir, filepath.Join(s.cfg.SchemaDir, s.cfg.ManifestName))
	schemaPath := resolve(s.baseDir, filepath.Join(s.cfg.SchemaDir, s.cfg.SchemaName))
	capPath := resolve(s.baseDir, s.cfg.CAPFile)

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return s.fail(res, err)
	}
	res.ManifestVersion = m.Version

	mod, err := m.Module(s.cfg.SchemaName)
	if err != nil {
		return s.fail(res, err)
	}
	pin, err := mod.Pin()
	if err != nil {
		return s.fail(res, err)
	}

	local, ok, err := manifest.VerifyFile(schemaPath, mod)
	if err != nil {
		return s.fail(res, err)
	}
	res.SchemaHash = local

	if !ok {
		s.logger.WarnContext(ctx, "schema hash mismatch",
			"expected", pin,
			"found", local,
		)
		s.emit(ctx, audit.Event{
			Action:     string(audit.EventHashMismatch),
			Reason:     fmt.Sprintf("expected %s, found %s", pin, local),
			SchemaHash: local,
		})

		if err := s.restorer.RestoreSchema(ctx, schemaPath); err != nil {
			return s.fail(res, err)
		}
		s.metrics.IncrementSchemaRestore()
		s.emit(ctx, audit.Event{
			Action:     string(audit.EventSchemaRestored),
			SchemaHash: pin,
		})
		s.logger.InfoContext(ctx, "canonical schema restored")

		local, ok, err = manifest.VerifyFile(schemaPath, mod)
		if err != nil {
			return s.fail(res, err)
		}
		res.SchemaHash = local
		res.Restored = true
		if !ok {
			res.Verdict = "post-fetch hash still mismatched"
			return res
		}
	}

	validator, err := schema.Compile(schemaPath)
	if err != nil {
		return s.fail(res, err)
	}

	capRaw, err := os.ReadFile(capPath)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("cap record %s: %w", capPath, sentinel.ErrNotFound)
		}
		return s.fail(res, err)
	}

	if err := validator.Validate(capRaw); err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) {
			res.Verdict = singleLine(dErrors.MessageOf(err))
			return res
		}
		return s.fail(res, err)
	}

	res.Status = StatusPass
	res.Verdict = "integrity verified: hashes match and CAP record is valid"
	return res
}

// fail classifies an error into the verdict taxonomy and redacts workspace
// paths so archived verdicts never leak local directory layout.
func (s *Service) fail(res Result, err error) Result {
	msg := s.redact(err.Error())
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		res.Verdict = "missing required file or manifest key: " + msg
	default:
		res.Verdict = "unhandled error: " + msg
	}
	return res
}

func (s *Service) redact(msg string) string {
	if s.baseDir == "" {
		return msg
	}
	return strings.ReplaceAll(msg, s.baseDir, "<workspace>")
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}

func singleLine(msg string) string {
	return strings.Join(strings.Fields(msg), " ")
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
