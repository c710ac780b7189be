// Package capstore persists received CAP records.
package capstore

import (
	"context"

	"capbridge/internal/cap"
)

// Stores are interface-driven to keep the domain logic testable and to allow
// swapping in-memory or external persistence without rewiring business code.
type Store interface {
	// Save persists a record. Duplicate cap_ids return sentinel.ErrConflict.
	Save(ctx context.Context, record cap.Record) error

	// FindByID returns a stored record or sentinel.ErrNotFound.
	FindByID(ctx context.Context, capID string) (cap.Record, error)

	// Exists reports whether a cap_id has been seen before.
	Exists(ctx context.Context, capID string) (bool, error)
}
