package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/observability/metrics"
)

var (
	ErrEncounterExists   = errors.New("encounter already open for session")
	ErrEncounterNotFound = errors.New("encounter not found")
	ErrInvalidSessionID  = errors.New("session id is required")
)

// Factory builds the coordinator for a newly opened encounter.
type Factory func(sess models.Session) (*Coordinator, error)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryMetrics sets the metrics sink.
func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

type entry struct {
	coordinator *Coordinator
	lastSeen    time.Time
}

// Registry maps session IDs to coordinators: one encounter per session.
// Encounters idle longer than the TTL are torn down by Sweep.
type Registry struct {
	factory Factory
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry. A zero ttl disables sweeping.
func NewRegistry(factory Factory, ttl time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory: factory,
		ttl:     ttl,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("registry"),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open creates the encounter for sess. A session can only be open once.
func (r *Registry) Open(sess models.Session) (*Coordinator, error) {
	if strings.TrimSpace(sess.ID) == "" {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sess.ID]; ok {
		return nil, ErrEncounterExists
	}
	c, err := r.factory(sess)
	if err != nil {
		return nil, err
	}
	r.entries[sess.ID] = &entry{coordinator: c, lastSeen: r.now()}
	r.metrics.RecordEncounterOpened()
	r.logger.Info().Str("sessionId", sess.ID).Msg("Encounter opened")
	return c, nil
}

// Get returns the encounter for id and marks it as recently used.
func (r *Registry) Get(id string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEncounterNotFound
	}
	e.lastSeen = r.now()
	return e.coordinator, nil
}

// Remove tears the encounter down and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrEncounterNotFound
	}

	r.metrics.RecordEncounterClosed()
	r.logger.Info().Str("sessionId", id).Msg("Encounter closed")
	return e.coordinator.Close()
}

// Len returns the number of open encounters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep tears down encounters idle for longer than the TTL. Encounters with
// capture or a request in progress are kept. Returns the number removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []string
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) && !e.coordinator.Busy() {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	removed := 0
	for _, id := range expired {
		if err := r.Remove(id); err == nil {
			removed++
			r.logger.Info().Str("sessionId", id).Dur("ttl", r.ttl).Msg("Idle encounter expired")
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// CloseAll tears down every encounter.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.Remove(id)
	}
}
