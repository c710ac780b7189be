// Package bridge implements the CAP Bridge ingest pipeline: structural
// verification, schema validation, duplicate suppression, persistence, and
// audit emission for every received CAP record.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"capbridge/internal/audit"
	"capbridge/internal/cap"
	"capbridge/internal/capstore"
	"capbridge/internal/platform/metrics"
	"capbridge/internal/platform/middleware"
	"capbridge/internal/schema"
	dErrors "capbridge/pkg/domain-errors"
	"capbridge/pkg/platform/sentinel"
)

// Service runs the ingest pipeline.
type Service struct {
	validator *schema.Validator
	store     capstore.Store
	deduper   Deduper
	auditor   *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(
	validator *schema.Validator,
	store capstore.Store,
	deduper Deduper,
	auditor *audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		validator: validator,
		store:     store,
		deduper:   deduper,
		auditor:   auditor,
		metrics:   m,
		logger:    logger,
	}
}

// Ingest verifies, validates, and persists one raw CAP document.
// Rejections surface as coded domain errors; every outcome leaves an audit
// event behind.
func (s *Service) Ingest(ctx context.Context, raw []byte) (cap.Record, error) {
	ctx, span := otel.Tracer("capbridge/bridge").Start(ctx, "bridge.Ingest")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.ObserveIngestLatency(time.Since(start)) }()

	record, raw, err := cap.Decode(bytes.NewReader(raw))
	if err != nil {
		s.reject(ctx, record, "structure", err)
		return cap.Record{}, err
	}
	if err := record.Verify(); err != nil {
		s.reject(ctx, record, "structure", err)
		return cap.Record{}, err
	}

	validateStart := time.Now()
	err = s.validator.Validate(raw)
	s.metrics.ObserveValidateLatency(time.Since(validateStart))
	if err != nil {
		s.reject(ctx, record, "schema", err)
		return cap.Record{}, err
	}

	seen, err := s.deduper.Seen(ctx, record.CAPID)
	if err != nil {
		// Dedupe is advisory; a degraded cache must not block ingestion.
		s.logger.WarnContext(ctx, "dedupe lookup failed, relying on store constraint",
			"cap_id", record.CAPID,
			"error", err,
		)
	}
	if seen {
		return cap.Record{}, s.duplicate(ctx, record)
	}

	if err := s.store.Save(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return cap.Record{}, s.duplicate(ctx, record)
		}
		s.logger.ErrorContext(ctx, "failed to persist cap record",
			"cap_id", record.CAPID,
			"error", err,
		)
		return cap.Record{}, dErrors.New(dErrors.CodeInternal, "failed to persist CAP record")
	}

	if err := s.deduper.Mark(ctx, record.CAPID); err != nil {
		s.logger.WarnContext(ctx, "dedupe mark failed",
			"cap_id", record.CAPID,
			"error", err,
		)
	}

	s.metrics.IncrementReceived(record.Domain)
	s.emit(ctx, audit.Event{
		Action:    string(audit.EventCAPReceived),
		CAPID:     record.CAPID,
		Domain:    record.Domain,
		AdvisorID: record.AdvisorOfRecord,
		Decision:  "accepted",
	})
	s.logger.InfoContext(ctx, "received CAP record",
		"cap_id", record.CAPID,
		"domain", record.Domain,
		"advisor", record.AdvisorOfRecord,
	)
	return record, nil
}

// Get returns a stored CAP record.
func (s *Service) Get(ctx context.Context, capID string) (cap.Record, error) {
	record, err := s.store.FindByID(ctx, capID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return cap.Record{}, dErrors.Newf(dErrors.CodeNotFound, "CAP record %q not found", capID)
		}
		return cap.Record{}, dErrors.New(dErrors.CodeInternal, "failed to load CAP record")
	}
	return record, nil
}

func (s *Service) duplicate(ctx context.Context, record cap.Record) error {
	s.metrics.IncrementRejected("duplicate")
	s.emit(ctx, audit.Event{
		Action:    string(audit.EventCAPDuplicate),
		CAPID:     record.CAPID,
		Domain:    record.Domain,
		AdvisorID: record.AdvisorOfRecord,
		Decision:  "rejected",
		Reason:    "duplicate cap_id",
	})
	return dErrors.Newf(dErrors.CodeConflict, "CAP record %q already received", record.CAPID)
}

func (s *Service) reject(ctx context.Context, record cap.Record, reason string, cause error) {
	s.metrics.IncrementRejected(reason)
	s.emit(ctx, audit.Event{
		Action:    string(audit.EventCAPRejected),
		CAPID:     record.CAPID,
		Domain:    record.Domain,
		AdvisorID: record.AdvisorOfRecord,
		Decision:  "rejected",
		Reason:    cause.Error(),
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	event.RequestID = middleware.GetRequestID(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
