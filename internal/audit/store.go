package audit

import "context"

// Store is the persistence port for audit events. Implementations are
// append-only; events are never updated or deleted by the bridge.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCAP(ctx context.Context, capID string) ([]Event, error)
}
