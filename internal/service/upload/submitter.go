// Package upload sends a finalized capture payload to the transcription service.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/observability/metrics"
	"visit-intake-service/internal/service/capture"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Multipart field names expected by the transcription endpoint.
const (
	FieldAudio     = "audio"
	FieldSession   = "session"
	FieldLanguage  = "language"
	FieldAnonymous = "anonymous"
)

// Config holds transcription endpoint settings.
type Config struct {
	BaseURL string
	Path    string
	Timeout time.Duration
}

// DefaultConfig returns the default endpoint settings.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Path:    "/transcribe",
		Timeout: 120 * time.Second,
	}
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Submitter) { s.client = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// Submitter performs exactly one upload per Submit call. It never retries on
// its own; a retry is a new Submit with the same payload.
type Submitter struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(cfg Config, opts ...Option) *Submitter {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	s := &Submitter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("upload"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit posts the payload and session metadata as multipart/form-data.
//
// A non-2xx response yields UploadRejected carrying the status and the body
// text verbatim. A transport failure yields UploadRejected with status 0.
func (s *Submitter) Submit(ctx context.Context, payload *capture.Payload, sess models.Session) (*models.TranscriptionResult, error) {
	if payload == nil {
		return nil, failure.New(failure.KindInvalidState, "no finalized payload to upload")
	}

	start := time.Now()
	res, err := s.submit(ctx, payload, sess)
	s.metrics.RecordUpload(err, time.Since(start).Seconds())

	logger := s.logger.With().Str("sessionId", sess.ID).Int("bytes", payload.Len()).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("Transcription upload failed")
		return nil, err
	}
	logger.Info().
		Bool("hasSuggestions", res.HasSuggestions).
		Dur("latency", time.Since(start).Round(time.Millisecond)).
		Msg("Transcription upload accepted")
	return res, nil
}

func (s *Submitter) submit(ctx context.Context, payload *capture.Payload, sess models.Session) (*models.TranscriptionResult, error) {
	body, contentType, err := encode(payload, sess)
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload: %w", ctx.Err())
		}
		return nil, failure.UploadRejected(0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, failure.UploadRejected(resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure.UploadRejected(resp.StatusCode, string(raw), nil)
	}

	res, err := models.ParseTranscriptionResult(raw)
	if err != nil {
		return nil, failure.UploadRejected(resp.StatusCode, string(raw), err)
	}
	return res, nil
}

// encode writes the audio part first, then the session fields.
func encode(payload *capture.Payload, sess models.Session) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		`form-data; name="`+escapeQuotes(FieldAudio)+`"; filename="`+escapeQuotes(payload.FileName())+`"`)
	header.Set("Content-Type", payload.ContentType())
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, payload.Reader()); err != nil {
		return nil, "", err
	}

	lang := sess.Language
	if lang == "" {
		lang = models.DefaultLanguage
	}
	fields := [][2]string{
		{FieldSession, sess.ID},
		{FieldLanguage, string(lang)},
		{FieldAnonymous, sess.AnonymousFlag()},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
