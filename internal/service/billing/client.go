package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/observability/metrics"
)

const maxResponseBytes = 1 << 20

// Backend outcome values reported in the submission response body.
const (
	OutcomeSent         = "sent"
	OutcomeManualReview = "manual_review"
	OutcomeForbidden    = "forbidden"
	OutcomeFailed       = "failed"
	OutcomeError        = "error"
)

// rejectedOutcomes are answered with 200 by the backend but mean the codes
// were not accepted.
var rejectedOutcomes = map[string]bool{
	OutcomeForbidden: true,
	OutcomeFailed:    true,
	OutcomeError:     true,
}

// Config holds billing endpoint settings.
type Config struct {
	BaseURL     string
	SubmitPath  string
	ProposePath string
	Timeout     time.Duration
}

// DefaultConfig returns the default endpoint settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:8000",
		SubmitPath:  "/billing/submit",
		ProposePath: "/billing/propose",
		Timeout:     30 * time.Second,
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithClientMetrics sets the metrics sink.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// Client talks to the billing endpoints. Each call is one request; nothing
// is retried.
type Client struct {
	cfg     Config
	http    *http.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewClient creates a billing client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	def := DefaultConfig()
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = def.SubmitPath
	}
	if cfg.ProposePath == "" {
		cfg.ProposePath = def.ProposePath
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("billing"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type submitRequest struct {
	SessionID     string               `json:"session_id"`
	SelectedCodes []models.BillingCode `json:"selected_codes"`
	Confirm       bool                 `json:"confirm"`
	Language      models.Language      `json:"language"`
}

// Submit sends the confirmed code set. A non-2xx status, an unparsable body,
// or a rejected outcome in the body yields SubmissionFailed.
func (c *Client) Submit(ctx context.Context, sess models.Session, codes []models.BillingCode) (*models.SubmissionResult, error) {
	start := time.Now()
	res, err := c.submit(ctx, sess, codes)
	c.metrics.RecordBillingCall("submit", err, time.Since(start).Seconds())

	logger := c.logger.With().Str("sessionId", sess.ID).Int("codes", len(codes)).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("Billing submission failed")
		return nil, err
	}
	logger.Info().Str("status", res.Status).Msg("Billing submission accepted")
	return res, nil
}

func (c *Client) submit(ctx context.Context, sess models.Session, codes []models.BillingCode) (*models.SubmissionResult, error) {
	body, err := json.Marshal(submitRequest{
		SessionID:     sess.ID,
		SelectedCodes: models.CloneCodes(codes),
		Confirm:       true,
		Language:      languageOf(sess),
	})
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	status, raw, err := c.post(ctx, c.cfg.SubmitPath, sess.Token, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("billing submit: %w", ctx.Err())
		}
		return nil, failure.SubmissionFailed(status, string(raw), err)
	}
	if status < 200 || status > 299 {
		return nil, failure.SubmissionFailed(status, string(raw), nil)
	}

	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, failure.SubmissionFailed(status, string(raw), fmt.Errorf("decode response: %w", err))
	}
	if rejectedOutcomes[decoded.Status] {
		return nil, failure.SubmissionFailed(status, string(raw), fmt.Errorf("backend reported status %q", decoded.Status))
	}

	return &models.SubmissionResult{
		Raw:    append(json.RawMessage(nil), raw...),
		Status: decoded.Status,
	}, nil
}

type proposeRequest struct {
	SessionID    string          `json:"session_id"`
	ClinicalNote string          `json:"clinical_note,omitempty"`
	Language     models.Language `json:"language"`
}

type proposeResponse struct {
	Suggestions []models.BillingCode `json:"suggestions"`
	Message     string               `json:"message"`
}

// Propose asks the billing backend for code suggestions.
func (c *Client) Propose(ctx context.Context, sess models.Session, clinicalNote string) ([]models.BillingCode, error) {
	start := time.Now()
	codes, err := c.propose(ctx, sess, clinicalNote)
	c.metrics.RecordBillingCall("propose", err, time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn().Err(err).Str("sessionId", sess.ID).Msg("Billing proposal failed")
	}
	return codes, err
}

func (c *Client) propose(ctx context.Context, sess models.Session, clinicalNote string) ([]models.BillingCode, error) {
	body, err := json.Marshal(proposeRequest{
		SessionID:    sess.ID,
		ClinicalNote: clinicalNote,
		Language:     languageOf(sess),
	})
	if err != nil {
		return nil, fmt.Errorf("encode proposal: %w", err)
	}

	status, raw, err := c.post(ctx, c.cfg.ProposePath, sess.Token, body)
	if err != nil {
		return nil, fmt.Errorf("billing propose: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("billing propose: HTTP %d: %s", status, strings.TrimSpace(string(raw)))
	}

	var resp proposeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return models.CloneCodes(resp.Suggestions), nil
}

func (c *Client) post(ctx context.Context, path, token string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func languageOf(sess models.Session) models.Language {
	if sess.Language == "" {
		return models.DefaultLanguage
	}
	return sess.Language
}
