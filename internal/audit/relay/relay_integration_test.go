//go:build integration

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"capbridge/internal/audit"
	auditpg "capbridge/internal/audit/store/postgres"
	"capbridge/pkg/testutil/containers"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		if p.err != nil {
			results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
			continue
		}
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r})
	}
	return results
}

func TestRelayOnce(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	defer pg.Terminate(ctx)

	store := auditpg.New(pg.DB)
	require.NoError(t, store.EnsureSchema(ctx))

	for _, capID := range []string{"CAP-a", "CAP-b"} {
		require.NoError(t, store.Append(ctx, audit.Event{
			Category:  audit.CategoryCompliance,
			Timestamp: time.Now().UTC(),
			CAPID:     capID,
			Action:    string(audit.EventCAPReceived),
		}))
	}

	producer := &recordingProducer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(pg.DB, producer, "capbridge.audit", time.Second, logger)

	n, err := r.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, producer.records, 2)
	assert.Equal(t, "capbridge.audit", producer.records[0].Topic)
	assert.Equal(t, "CAP-a", string(producer.records[0].Key))

	// Relayed rows stay relayed.
	n, err = r.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayOnceLeavesRowsOnBrokerFailure(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	defer pg.Terminate(ctx)

	store := auditpg.New(pg.DB)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Append(ctx, audit.Event{
		Category:  audit.CategoryCompliance,
		Timestamp: time.Now().UTC(),
		CAPID:     "CAP-a",
		Action:    string(audit.EventCAPReceived),
	}))

	producer := &recordingProducer{err: errors.New("broker unavailable")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(pg.DB, producer, "capbridge.audit", time.Second, logger)

	_, err := r.RelayOnce(ctx)
	require.Error(t, err)

	var pending int
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox WHERE relayed_at IS NULL").Scan(&pending))
	assert.Equal(t, 1, pending)
}
