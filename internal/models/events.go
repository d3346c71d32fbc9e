package models

// TransitionEvent is published for every workflow state change.
type TransitionEvent struct {
	EventType   string `json:"eventType"`
	SessionID   string `json:"sessionId"`
	From        string `json:"from"`
	To          string `json:"to"`
	FailureKind string `json:"failureKind,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// AuditEvent records a clinically relevant action for the audit trail.
type AuditEvent struct {
	EventID   string         `json:"eventId"`
	EventType string         `json:"eventType"`
	Actor     string         `json:"actor"`
	SessionID string         `json:"sessionId"`
	Outcome   string         `json:"outcome"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"`
}
