package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/metrics"
	"visit-intake-service/internal/service/capture/push"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, ttl time.Duration, clock *fakeClock) (*Registry, map[string]*push.Device) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	devices := make(map[string]*push.Device)
	var mu sync.Mutex
	factory := func(sess models.Session) (*Coordinator, error) {
		dev := push.NewDevice()
		mu.Lock()
		devices[sess.ID] = dev
		mu.Unlock()
		return NewCoordinator(sess, Deps{
			Device:   dev,
			Uploader: &fakeUploader{},
			Billing:  &fakeBilling{},
			Metrics:  m,
		}), nil
	}
	r := NewRegistry(factory, ttl, WithRegistryMetrics(m), WithClock(clock.Now))
	t.Cleanup(r.CloseAll)
	return r, devices
}

func TestRegistry_OpenGetRemove(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute, &fakeClock{now: time.Unix(0, 0)})

	c, err := r.Open(models.Session{ID: "s1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Open(models.Session{ID: "s1"}); !errors.Is(err, ErrEncounterExists) {
		t.Errorf("expected ErrEncounterExists, got %v", err)
	}
	if _, err := r.Open(models.Session{ID: "  "}); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("expected ErrInvalidSessionID, got %v", err)
	}

	got, err := r.Get("s1")
	if err != nil || got != c {
		t.Fatalf("expected the opened coordinator, got %v, %v", got, err)
	}

	if err := r.Remove("s1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.State() != StateCancelled {
		t.Errorf("expected removed encounter to be closed, got %s", c.State())
	}
	if _, err := r.Get("s1"); !errors.Is(err, ErrEncounterNotFound) {
		t.Errorf("expected ErrEncounterNotFound, got %v", err)
	}
	if err := r.Remove("s1"); !errors.Is(err, ErrEncounterNotFound) {
		t.Errorf("expected ErrEncounterNotFound, got %v", err)
	}
}

func TestRegistry_SweepExpiresIdleEncounters(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r, _ := newTestRegistry(t, time.Minute, clock)

	r.Open(models.Session{ID: "idle"})
	r.Open(models.Session{ID: "recent"})

	clock.Advance(45 * time.Second)
	r.Get("recent")
	clock.Advance(30 * time.Second)

	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected one encounter swept, got %d", n)
	}
	if _, err := r.Get("idle"); !errors.Is(err, ErrEncounterNotFound) {
		t.Errorf("expected idle encounter to be gone, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("expected one encounter left, got %d", r.Len())
	}
}

func TestRegistry_SweepKeepsBusyEncounters(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r, devices := newTestRegistry(t, time.Minute, clock)

	c, _ := r.Open(models.Session{ID: "s1"})
	c.RecordConsent(false)
	if err := c.StartCapture(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(time.Hour)
	if n := r.Sweep(); n != 0 {
		t.Fatalf("expected capturing encounter to be kept, got %d removed", n)
	}

	c.Cancel()
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected the idle encounter to be swept, got %d", n)
	}
	if devices["s1"].Acquired() {
		t.Error("expected device to be released")
	}
}

func TestRegistry_ZeroTTLDisablesSweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r, _ := newTestRegistry(t, 0, clock)
	r.Open(models.Session{ID: "s1"})
	clock.Advance(24 * time.Hour)

	if n := r.Sweep(); n != 0 {
		t.Errorf("expected no sweep, got %d", n)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry(func(models.Session) (*Coordinator, error) {
		return nil, errors.New("boom")
	}, time.Minute, WithRegistryMetrics(metrics.NewMetrics(prometheus.NewRegistry())))

	if _, err := r.Open(models.Session{ID: "s1"}); err == nil {
		t.Fatal("expected factory error")
	}
	if r.Len() != 0 {
		t.Errorf("expected nothing registered, got %d", r.Len())
	}
}

func TestNewSuggestionSource(t *testing.T) {
	if s, err := NewSuggestionSource("", nil); err != nil || s.Name() != SourceTranscript {
		t.Errorf("expected transcript default, got %v, %v", s, err)
	}
	if _, err := NewSuggestionSource(SourcePropose, nil); err == nil {
		t.Error("expected propose without proposer to fail")
	}
	if _, err := NewSuggestionSource("llm", nil); err == nil {
		t.Error("expected unknown source to fail")
	}
}

func TestState_String(t *testing.T) {
	if StateReviewingBilling.String() != "REVIEWING_BILLING" {
		t.Errorf("unexpected name %s", StateReviewingBilling)
	}
	if State(42).String() != "UNKNOWN(42)" {
		t.Errorf("unexpected name %s", State(42))
	}
	if !StateSubmitted.IsTerminal() || StateFailed.IsTerminal() {
		t.Error("only SUBMITTED is terminal")
	}
	b, _ := StateFailed.MarshalText()
	if string(b) != "FAILED" {
		t.Errorf("unexpected text %s", b)
	}

	var st State
	if err := st.UnmarshalText([]byte("AWAITING_TRANSCRIPTION")); err != nil || st != StateAwaitingTranscription {
		t.Errorf("expected AWAITING_TRANSCRIPTION, got %s (%v)", st, err)
	}
	if err := st.UnmarshalText([]byte("UNKNOWN(42)")); err == nil {
		t.Error("expected an unknown name to be rejected")
	}
}
