package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"visit-intake-service/internal/models"
)

// EventSink receives transition and audit events.
type EventSink interface {
	PublishTransition(ctx context.Context, event models.TransitionEvent) error
	PublishAudit(ctx context.Context, event models.AuditEvent) error
}

// SessionStore keeps the latest snapshot of each encounter for a limited time.
type SessionStore interface {
	Set(ctx context.Context, sessionID string, data any) error
	Delete(ctx context.Context, sessionID string) error
}

const (
	outboxSize       = 256
	publishTimeout   = 10 * time.Second
	outboxDrainLimit = 5 * time.Second
)

// outbox runs event publishing and snapshot writes on one goroutine, in the
// order they were posted, off the caller's path. When full it drops and logs.
type outbox struct {
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan func(context.Context) error
	done   chan struct{}
}

func newOutbox(logger zerolog.Logger) *outbox {
	o := &outbox{
		logger: logger,
		ch:     make(chan func(context.Context) error, outboxSize),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) run() {
	defer close(o.done)
	for fn := range o.ch {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := fn(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("Outbox delivery failed")
		}
		cancel()
	}
}

func (o *outbox) post(fn func(context.Context) error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- fn:
	default:
		o.logger.Warn().Msg("Outbox full, dropping delivery")
	}
}

// close stops accepting events and waits a bounded time for the rest to go out.
func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.ch)
	o.mu.Unlock()

	select {
	case <-o.done:
	case <-time.After(outboxDrainLimit):
		o.logger.Warn().Msg("Outbox did not drain before close")
	}
}
