package workflow

import (
	"context"
	"fmt"

	"visit-intake-service/internal/models"
)

// Suggestion source names, as used in configuration.
const (
	SourceTranscript = "transcript"
	SourcePropose    = "propose"
	SourceStatic     = "static"
)

// SuggestionSource resolves the codes that seed the billing review once a
// transcript is available.
type SuggestionSource interface {
	Name() string
	Suggest(ctx context.Context, sess models.Session, res *models.TranscriptionResult) ([]models.BillingCode, error)
}

// TranscriptSuggestions reads billing_suggestions from the transcription response.
type TranscriptSuggestions struct{}

func (TranscriptSuggestions) Name() string { return SourceTranscript }

func (TranscriptSuggestions) Suggest(_ context.Context, _ models.Session, res *models.TranscriptionResult) ([]models.BillingCode, error) {
	if res == nil || !res.HasSuggestions {
		return nil, nil
	}
	return models.CloneCodes(res.BillingSuggestions), nil
}

// Proposer asks a backend for codes given a clinical note.
type Proposer interface {
	Propose(ctx context.Context, sess models.Session, clinicalNote string) ([]models.BillingCode, error)
}

// ProposedSuggestions asks the billing backend, passing the transcript's clinical note.
type ProposedSuggestions struct {
	Proposer Proposer
}

func (ProposedSuggestions) Name() string { return SourcePropose }

func (p ProposedSuggestions) Suggest(ctx context.Context, sess models.Session, res *models.TranscriptionResult) ([]models.BillingCode, error) {
	var note string
	if res != nil {
		note = res.ClinicalNote
	}
	return p.Proposer.Propose(ctx, sess, note)
}

// StaticSuggestions seeds every review with the same caller-supplied codes.
type StaticSuggestions []models.BillingCode

func (StaticSuggestions) Name() string { return SourceStatic }

func (s StaticSuggestions) Suggest(context.Context, models.Session, *models.TranscriptionResult) ([]models.BillingCode, error) {
	return models.CloneCodes(s), nil
}

// NewSuggestionSource builds a configured source. proposer is only used for
// the propose source.
func NewSuggestionSource(name string, proposer Proposer) (SuggestionSource, error) {
	switch name {
	case "", SourceTranscript:
		return TranscriptSuggestions{}, nil
	case SourcePropose:
		if proposer == nil {
			return nil, fmt.Errorf("suggestion source %q needs a proposer", name)
		}
		return ProposedSuggestions{Proposer: proposer}, nil
	default:
		return nil, fmt.Errorf("unknown suggestion source %q", name)
	}
}
