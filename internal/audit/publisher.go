package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily. With an
// async buffer configured, Emit never blocks on the store; Close drains
// whatever is still queued.
type Publisher struct {
	store Store
	log   *slog.Logger

	inbox  chan Event
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer makes Emit enqueue into a buffered channel consumed by a
// background goroutine instead of writing through synchronously.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

// WithLogger sets the logger used to report events the background drainer
// could not persist.
func WithLogger(log *slog.Logger) Option {
	return func(p *Publisher) {
		p.log = log
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. In sync mode the store error propagates; in async
// mode a full buffer falls back to a synchronous write so compliance events
// are never silently dropped.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.inbox <- event:
		return nil
	default:
		return p.store.Append(ctx, event)
	}
}

// List returns the audit trail for a CAP record.
func (p *Publisher) List(ctx context.Context, capID string) ([]Event, error) {
	return p.store.ListByCAP(ctx, capID)
}

// Close stops the background drainer after flushing queued events.
func (p *Publisher) Close() {
	p.closed.Do(func() {
		close(p.done)
		if p.inbox != nil {
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.inbox:
			p.append(event)
		case <-p.done:
			// Flush remaining events before exiting.
			for {
				select {
				case event := <-p.inbox:
					p.append(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) append(event Event) {
	if err := p.store.Append(context.Background(), event); err != nil {
		p.log.Error("audit event dropped", "action", event.Action, "cap_id", event.CAPID, "error", err)
	}
}
