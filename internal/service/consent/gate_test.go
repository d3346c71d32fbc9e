package consent

import "testing"

func TestGate_InitialState(t *testing.T) {
	g := NewGate()

	if g.State().Status != StatusNotGiven {
		t.Errorf("expected StatusNotGiven, got %v", g.State().Status)
	}
	if g.CanCapture() {
		t.Error("expected CanCapture to be false before consent")
	}
}

func TestGate_Transitions(t *testing.T) {
	tests := []struct {
		name          string
		apply         func(g *Gate)
		wantStatus    Status
		wantAnonymous bool
		wantCapture   bool
	}{
		{"consent", func(g *Gate) { g.RecordConsent(false) }, StatusGiven, false, true},
		{"anonymous consent", func(g *Gate) { g.RecordConsent(true) }, StatusGiven, true, true},
		{"decline", func(g *Gate) { g.Decline() }, StatusDeclined, false, false},
		{"consent then decline", func(g *Gate) { g.RecordConsent(true); g.Decline() }, StatusDeclined, false, false},
		{"decline then consent", func(g *Gate) { g.Decline(); g.RecordConsent(false) }, StatusGiven, false, true},
		{"consent then reset", func(g *Gate) { g.RecordConsent(true); g.Reset() }, StatusNotGiven, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate()
			tt.apply(g)

			st := g.State()
			if st.Status != tt.wantStatus {
				t.Errorf("status = %v, want %v", st.Status, tt.wantStatus)
			}
			if st.Anonymous != tt.wantAnonymous {
				t.Errorf("anonymous = %v, want %v", st.Anonymous, tt.wantAnonymous)
			}
			if g.CanCapture() != tt.wantCapture {
				t.Errorf("CanCapture = %v, want %v", g.CanCapture(), tt.wantCapture)
			}
		})
	}
}

func TestStatus_String(t *testing.T) {
	if StatusGiven.String() != "GIVEN" {
		t.Errorf("expected GIVEN, got %s", StatusGiven.String())
	}
	if Status(99).String() != "UNKNOWN(99)" {
		t.Errorf("expected UNKNOWN(99), got %s", Status(99).String())
	}
}
