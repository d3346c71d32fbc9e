// Package consent tracks whether an encounter holds affirmative, revocable
// consent to record.
package consent

import (
	"fmt"
	"sync"
)

// Status is the consent decision.
type Status int

const (
	// StatusNotGiven - No decision recorded yet.
	StatusNotGiven Status = iota
	// StatusGiven - Recording consented to.
	StatusGiven
	// StatusDeclined - Recording explicitly refused.
	StatusDeclined
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNotGiven:
		return "NOT_GIVEN"
	case StatusGiven:
		return "GIVEN"
	case StatusDeclined:
		return "DECLINED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// State is a value snapshot of the gate.
// Anonymous is only meaningful when Status is StatusGiven.
type State struct {
	Status    Status `json:"-"`
	Anonymous bool   `json:"anonymous"`
}

// Gate holds the consent state for one encounter. Thread-safe.
type Gate struct {
	mu    sync.RWMutex
	state State
}

// NewGate creates a gate with no consent recorded.
func NewGate() *Gate {
	return &Gate{}
}

// RecordConsent transitions to Given(anonymous).
func (g *Gate) RecordConsent(anonymous bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{Status: StatusGiven, Anonymous: anonymous}
}

// Decline transitions to Declined.
func (g *Gate) Decline() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{Status: StatusDeclined}
}

// Reset returns to NotGiven for a fresh encounter.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{}
}

// CanCapture returns true iff consent is Given.
func (g *Gate) CanCapture() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Status == StatusGiven
}

// State returns the current consent state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}
