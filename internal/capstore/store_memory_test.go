package capstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capbridge/internal/cap"
	"capbridge/pkg/platform/sentinel"
)

func testRecord(capID string) cap.Record {
	return cap.Record{
		CAPID:           capID,
		Timestamp:       "2026-08-29T10:00:00Z",
		Domain:          "housing",
		ContextMode:     "advisory",
		AdvisorOfRecord: "advisor-7",
	}
}

func TestInMemoryStoreSaveAndFind(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("cap-1")))

	found, err := store.FindByID(ctx, "cap-1")
	require.NoError(t, err)
	assert.Equal(t, "housing", found.Domain)
}

func TestInMemoryStoreDuplicate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("cap-1")))
	err := store.Save(ctx, testRecord("cap-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrConflict))
}

func TestInMemoryStoreNotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.FindByID(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestInMemoryStoreExists(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "cap-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Save(ctx, testRecord("cap-1")))

	exists, err = store.Exists(ctx, "cap-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
