package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"capbridge/internal/audit"
	"capbridge/internal/capstore"
	"capbridge/internal/schema"
	dErrors "capbridge/pkg/domain-errors"
	"capbridge/pkg/testutil"
)

const testSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["cap_id", "timestamp", "domain", "context_mode", "advisor_of_record"],
  "properties": {
    "cap_id": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "domain": {"type": "string"},
    "context_mode": {"type": "string", "enum": ["regulated", "advisory"]},
    "advisor_of_record": {"type": "string"}
  }
}`

type fakeDeduper struct {
	seen    map[string]bool
	seenErr error
	marked  []string
}

func (d *fakeDeduper) Seen(_ context.Context, capID string) (bool, error) {
	if d.seenErr != nil {
		return false, d.seenErr
	}
	return d.seen[capID], nil
}

func (d *fakeDeduper) Mark(_ context.Context, capID string) error {
	d.marked = append(d.marked, capID)
	return nil
}

type BridgeServiceSuite struct {
	suite.Suite
	ctx context.Context

	service    *Service
	store      *capstore.InMemoryStore
	deduper    *fakeDeduper
	auditStore *audit.InMemoryStore
}

func TestBridgeServiceSuite(t *testing.T) {
	suite.Run(t, new(BridgeServiceSuite))
}

func (s *BridgeServiceSuite) SetupTest() {
	s.ctx = context.Background()

	validator, err := schema.CompileBytes("cap_schema.json", []byte(testSchema))
	require.NoError(s.T(), err)

	s.store = capstore.NewInMemoryStore()
	s.deduper = &fakeDeduper{seen: map[string]bool{}}
	s.auditStore = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.service = NewService(validator, s.store, s.deduper, audit.NewPublisher(s.auditStore), nil, logger)
}

func validCAP() []byte {
	raw, _ := json.Marshal(map[string]any{
		"cap_id":            "CAP-2026-0042",
		"timestamp":         "2026-03-05T11:59:58Z",
		"domain":            "Corporate_Law",
		"context_mode":      "regulated",
		"advisor_of_record": "advisor-77",
	})
	return raw
}

func (s *BridgeServiceSuite) auditActions() []string {
	var actions []string
	for _, e := range s.auditStore.All() {
		actions = append(actions, e.Action)
	}
	return actions
}

func (s *BridgeServiceSuite) TestIngestPersistsAndAudits() {
	record, err := s.service.Ingest(s.ctx, validCAP())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "CAP-2026-0042", record.CAPID)

	stored, err := s.store.FindByID(s.ctx, "CAP-2026-0042")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "advisor-77", stored.AdvisorOfRecord)
}

func (s *BridgeServiceSuite) TestIngestMarksDeduperAndEmitsReceived() {
	_, err := s.service.Ingest(s.ctx, validCAP())
	require.NoError(s.T(), err)

	assert.Equal(s.T(), []string{"CAP-2026-0042"}, s.deduper.marked)
	assert.Contains(s.T(), s.auditActions(), string(audit.EventCAPReceived))
}

func (s *BridgeServiceSuite) TestIngestStampsRequestIDOnAuditTrail() {
	ctx := testutil.WithRequestID(s.ctx, "req-42")

	_, err := s.service.Ingest(ctx, validCAP())
	require.NoError(s.T(), err)

	events := s.auditStore.All()
	require.NotEmpty(s.T(), events)
	assert.Equal(s.T(), "req-42", events[len(events)-1].RequestID)
}

func (s *BridgeServiceSuite) TestIngestRejectsMalformedJSON() {
	_, err := s.service.Ingest(s.ctx, []byte(`{"cap_id": `))
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeBadRequest))
	assert.Contains(s.T(), s.auditActions(), string(audit.EventCAPRejected))
}

func (s *BridgeServiceSuite) TestIngestRejectsMissingField() {
	raw, _ := json.Marshal(map[string]any{
		"cap_id":    "CAP-2026-0042",
		"timestamp": "2026-03-05T11:59:58Z",
	})

	_, err := s.service.Ingest(s.ctx, raw)
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *BridgeServiceSuite) TestIngestRejectsBadTimestamp() {
	raw, _ := json.Marshal(map[string]any{
		"cap_id":            "CAP-2026-0042",
		"timestamp":         "yesterday",
		"domain":            "Corporate_Law",
		"context_mode":      "regulated",
		"advisor_of_record": "advisor-77",
	})

	_, err := s.service.Ingest(s.ctx, raw)
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *BridgeServiceSuite) TestIngestRejectsSchemaViolation() {
	raw, _ := json.Marshal(map[string]any{
		"cap_id":            "CAP-2026-0042",
		"timestamp":         "2026-03-05T11:59:58Z",
		"domain":            "Corporate_Law",
		"context_mode":      "freeform",
		"advisor_of_record": "advisor-77",
	})

	_, err := s.service.Ingest(s.ctx, raw)
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeBadRequest))
	assert.Contains(s.T(), dErrors.MessageOf(err), "CAP validation error")
}

func (s *BridgeServiceSuite) TestIngestDuplicateFromDeduper() {
	s.deduper.seen["CAP-2026-0042"] = true

	_, err := s.service.Ingest(s.ctx, validCAP())
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeConflict))
	assert.Contains(s.T(), s.auditActions(), string(audit.EventCAPDuplicate))
}

func (s *BridgeServiceSuite) TestIngestDuplicateFromStore() {
	_, err := s.service.Ingest(s.ctx, validCAP())
	require.NoError(s.T(), err)

	// Deduper misses; the store's conflict detection is the backstop.
	_, err = s.service.Ingest(s.ctx, validCAP())
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeConflict))
}

func (s *BridgeServiceSuite) TestIngestDeduperFailureIsAdvisory() {
	s.deduper.seenErr = errors.New("redis: connection refused")

	record, err := s.service.Ingest(s.ctx, validCAP())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "CAP-2026-0042", record.CAPID)
}

func (s *BridgeServiceSuite) TestGet() {
	_, err := s.service.Ingest(s.ctx, validCAP())
	require.NoError(s.T(), err)

	record, err := s.service.Get(s.ctx, "CAP-2026-0042")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Corporate_Law", record.Domain)
}

func (s *BridgeServiceSuite) TestGetNotFound() {
	_, err := s.service.Get(s.ctx, "CAP-missing")
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeNotFound))
}
