// Package store keeps short-lived encounter data in Redis. Every key carries
// a TTL; nothing written here is meant to outlive the visit.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/observability/metrics"
)

const (
	DefaultKeyPrefix = "intake:session"
	DefaultTTL       = 5 * time.Minute
)

// Config holds session store configuration.
type Config struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
}

// SessionStore saves JSON documents per session ID with a fixed TTL. A nil
// *SessionStore is a valid disabled store: writes succeed and reads miss.
type SessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SessionStore) { s.metrics = m }
}

// New connects to the Redis instance at cfg.URL (redis://host:port/db).
func New(cfg Config, opts ...Option) (*SessionStore, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(redisOpts), cfg, opts...), nil
}

// NewWithClient wraps an existing client. The store owns it from then on.
func NewWithClient(client redis.UniversalClient, cfg Config, opts ...Option) *SessionStore {
	s := &SessionStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		logger:    logging.WithComponent("session-store"),
		metrics:   metrics.DefaultMetrics,
	}
	if s.keyPrefix == "" {
		s.keyPrefix = DefaultKeyPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SessionStore) key(sessionID string) string {
	return s.keyPrefix + ":" + sessionID
}

// Ping checks the connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Set stores data as JSON under sessionID, replacing any previous value and
// restarting the TTL.
func (s *SessionStore) Set(ctx context.Context, sessionID string, data any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sessionID, err)
	}

	start := time.Now()
	err = s.client.Set(ctx, s.key(sessionID), raw, s.ttl).Err()
	s.metrics.RecordStoreOperation("save", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}

	s.logger.Debug().Str("sessionId", sessionID).Int("bytes", len(raw)).Dur("ttl", s.ttl).Msg("Session data saved")
	return nil
}

// Get decodes the data stored under sessionID into out. It reports false
// when nothing is stored (never written, deleted or expired).
func (s *SessionStore) Get(ctx context.Context, sessionID string, out any) (bool, error) {
	if s == nil {
		return false, nil
	}

	start := time.Now()
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.metrics.RecordStoreOperation("load", nil, time.Since(start).Seconds())
		return false, nil
	}
	s.metrics.RecordStoreOperation("load", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return true, nil
}

// Delete removes the data for sessionID. Deleting a missing key is not an error.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if s == nil {
		return nil
	}

	start := time.Now()
	err := s.client.Del(ctx, s.key(sessionID)).Err()
	s.metrics.RecordStoreOperation("delete", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}

	s.logger.Debug().Str("sessionId", sessionID).Msg("Session data deleted")
	return nil
}

// Close releases the connection pool.
func (s *SessionStore) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
