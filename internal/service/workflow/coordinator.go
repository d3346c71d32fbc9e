package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"visit-intake-service/internal/auth"
	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/observability/metrics"
	"visit-intake-service/internal/schema"
	"visit-intake-service/internal/service/billing"
	"visit-intake-service/internal/service/capture"
	"visit-intake-service/internal/service/consent"
)

// ErrAbandoned is returned by an operation whose result arrived after the
// encounter was cancelled. The result is discarded.
var ErrAbandoned = errors.New("operation abandoned by cancellation")

// Uploader sends a finalized payload for transcription.
type Uploader interface {
	Submit(ctx context.Context, payload *capture.Payload, sess models.Session) (*models.TranscriptionResult, error)
}

// Deps are the collaborators of a Coordinator. Device, Uploader and Billing
// are required.
type Deps struct {
	Device      capture.Device
	Uploader    Uploader
	Billing     billing.Submitter
	Suggestions SuggestionSource
	Events      EventSink
	Sessions    SessionStore
	Validator   *schema.Validator
	Metrics     *metrics.Metrics
}

// Audit event outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeBlocked   = "blocked"
	OutcomeCancelled = "cancelled"
)

const eventTypeTransition = "workflow.transition"

// notice is a transition or an audit record waiting to be delivered.
type notice struct {
	transition *Transition
	audit      *models.AuditEvent
}

// Coordinator owns one encounter: its consent gate, its capture attempt, its
// billing review and the workflow state. All mutation goes through its methods.
//
// Rules:
//   - At most one remote or device operation is outstanding at a time
//   - Every operation checks the state first; out-of-order calls fail with InvalidState
//   - Cancel never waits on an outstanding operation; a late result is dropped
//     by comparing the generation it started under
type Coordinator struct {
	deps    Deps
	gate    *consent.Gate
	logger  zerolog.Logger
	metrics *metrics.Metrics
	outbox  *outbox

	// emitMu keeps notice delivery in the order the notices were queued.
	emitMu sync.Mutex

	mu           sync.Mutex
	session      models.Session
	actor        string
	state        State
	failure      *failure.Error
	capture      *capture.Session
	payload      *capture.Payload
	transcript   *models.TranscriptionResult
	suggestErr   string
	review       *billing.Review
	submission   *models.SubmissionResult
	generation   uint64
	inFlight     bool
	opCancel     context.CancelFunc
	closed       bool
	updatedAt    time.Time
	pending      []notice
	onTransition TransitionCallback
}

// NewCoordinator creates a coordinator in AWAITING_CONSENT.
func NewCoordinator(sess models.Session, deps Deps) *Coordinator {
	if sess.Language == "" {
		sess.Language = models.DefaultLanguage
	}
	if deps.Suggestions == nil {
		deps.Suggestions = TranscriptSuggestions{}
	}
	if deps.Validator == nil {
		deps.Validator = schema.New()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	c := &Coordinator{
		deps:      deps,
		gate:      consent.NewGate(),
		logger:    logging.WithEncounter("workflow", sess.ID),
		metrics:   m,
		session:   sess,
		actor:     auth.Inspect(sess.Token).Actor(),
		state:     StateAwaitingConsent,
		updatedAt: time.Now(),
	}
	if deps.Events != nil || deps.Sessions != nil {
		c.outbox = newOutbox(c.logger)
	}
	return c
}

// SetTransitionCallback sets a callback invoked after every state change.
func (c *Coordinator) SetTransitionCallback(cb TransitionCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = cb
}

// SessionID returns the encounter's session identifier.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

// Device returns the capture device used by this encounter.
func (c *Coordinator) Device() capture.Device {
	return c.deps.Device
}

// State returns the current workflow state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failure returns the failure behind StateFailed, or nil.
func (c *Coordinator) Failure() *failure.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Busy reports whether capture or a remote call is in progress.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight || c.state == StateCapturing
}

// UpdatedAt returns the time of the last state change.
func (c *Coordinator) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// UpdateCredential replaces the bearer token used for subsequent requests.
// An outstanding request keeps the token it was sent with.
func (c *Coordinator) UpdateCredential(token string) error {
	if token == "" {
		return auth.ErrMissingBearer
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Token = token
	c.actor = auth.Inspect(token).Actor()
	return nil
}

// RecordConsent grants consent for capture.
func (c *Coordinator) RecordConsent(anonymous bool) error {
	c.mu.Lock()
	if err := c.check("record consent", StateAwaitingConsent); err != nil {
		c.mu.Unlock()
		return err
	}
	c.gate.RecordConsent(anonymous)
	c.session.Anonymous = anonymous
	c.recordAudit("consent.recorded", OutcomeSuccess, map[string]any{"anonymous": anonymous})
	c.mu.Unlock()
	c.flush()

	c.logger.Info().Bool("anonymous", anonymous).Msg("Consent recorded")
	return nil
}

// Decline records a refusal. Declining after capture has begun withdraws
// consent: the encounter is cancelled first.
func (c *Coordinator) Decline() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return failure.InvalidState("decline consent", "CLOSED")
	}
	needsCancel := c.state != StateAwaitingConsent
	c.mu.Unlock()

	if needsCancel {
		if err := c.cancel("consent_withdrawn", false); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.gate.Decline()
	c.recordAudit("consent.declined", OutcomeSuccess, nil)
	c.mu.Unlock()
	c.flush()

	c.logger.Info().Msg("Consent declined")
	return nil
}

// StartCapture acquires the device and begins capture. It is legal from
// AWAITING_CONSENT, or from FAILED after a device failure. Without consent it
// fails with ConsentRequired and nothing is acquired.
func (c *Coordinator) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkClosed("start capture"); err != nil {
		c.mu.Unlock()
		return err
	}
	retrying := c.state == StateFailed && c.failure != nil && c.failure.Kind == failure.KindDeviceUnavailable
	if c.state != StateAwaitingConsent && !retrying || c.inFlight {
		st := c.state
		c.mu.Unlock()
		return failure.InvalidState("start capture", st.String())
	}
	if !c.gate.CanCapture() {
		c.recordAudit("capture.blocked", OutcomeBlocked, map[string]any{"reason": string(failure.KindConsentRequired)})
		c.mu.Unlock()
		c.flush()
		c.metrics.RecordFailure(string(failure.KindConsentRequired))
		return failure.New(failure.KindConsentRequired, "consent required before capture")
	}

	cs := capture.NewSession(c.gate, c.deps.Device,
		capture.WithLogger(logging.WithEncounter("capture", c.session.ID)),
		capture.WithMetrics(c.metrics),
	)
	c.capture = cs
	c.failure = nil
	c.setState(StateCapturing, "")
	opCtx, gen := c.beginOp(ctx)
	c.mu.Unlock()
	c.flush()

	err := cs.Start(opCtx)

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		cs.Abort("abandoned")
		return ErrAbandoned
	}
	c.endOp(gen)
	if err != nil {
		fe, ok := failure.As(err)
		if !ok || fe.Kind != failure.KindDeviceUnavailable {
			fe = failure.DeviceUnavailable(err)
		}
		c.fail(fe, "capture.failed", map[string]any{"attemptId": cs.ID()})
		c.mu.Unlock()
		c.flush()
		return fe
	}
	c.recordAudit("capture.started", OutcomeSuccess, map[string]any{"attemptId": cs.ID()})
	c.mu.Unlock()
	c.flush()
	return nil
}

// StopCapture finalizes the capture, uploads the payload and resolves the
// code suggestions. It returns once the encounter reaches REVIEWING_BILLING or
// a failure.
func (c *Coordinator) StopCapture(ctx context.Context) error {
	c.mu.Lock()
	if err := c.check("stop capture", StateCapturing); err != nil {
		c.mu.Unlock()
		return err
	}
	cs := c.capture
	if cs == nil || cs.State() != capture.StateActive {
		c.mu.Unlock()
		return failure.InvalidState("stop capture", "capture not active")
	}
	opCtx, gen := c.beginOp(ctx)
	c.mu.Unlock()

	payload, err := cs.Stop(opCtx)

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return ErrAbandoned
	}
	if err != nil {
		c.endOp(gen)
		fe := failure.DeviceUnavailable(err)
		c.fail(fe, "capture.failed", map[string]any{"attemptId": cs.ID()})
		c.mu.Unlock()
		c.flush()
		return fe
	}
	c.payload = payload
	c.recordAudit("capture.finalized", OutcomeSuccess, map[string]any{
		"attemptId": cs.ID(),
		"bytes":     payload.Len(),
		"fragments": payload.Fragments(),
	})
	c.setState(StateUploading, "")
	c.mu.Unlock()
	c.flush()

	return c.runUpload(opCtx, gen)
}

// RetryUpload re-submits the same payload after an upload rejection.
func (c *Coordinator) RetryUpload(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkFailed("retry upload", failure.KindUploadRejected); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.payload == nil {
		c.mu.Unlock()
		return failure.InvalidState("retry upload", "no payload")
	}
	c.failure = nil
	c.setState(StateUploading, "")
	opCtx, gen := c.beginOp(ctx)
	c.mu.Unlock()
	c.flush()

	return c.runUpload(opCtx, gen)
}

// runUpload runs with the operation already begun and the state at UPLOADING.
func (c *Coordinator) runUpload(opCtx context.Context, gen uint64) error {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return ErrAbandoned
	}
	sess, payload, src := c.session, c.payload, c.deps.Suggestions
	c.mu.Unlock()

	res, err := c.deps.Uploader.Submit(opCtx, payload, sess)

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return ErrAbandoned
	}
	if err != nil {
		c.endOp(gen)
		fe, ok := failure.As(err)
		if !ok || fe.Kind != failure.KindUploadRejected {
			fe = failure.UploadRejected(0, "", err)
		}
		c.fail(fe, "upload.rejected", map[string]any{"status": fe.Status, "bytes": payload.Len()})
		c.mu.Unlock()
		c.flush()
		return fe
	}
	c.transcript = res
	c.recordAudit("upload.accepted", OutcomeSuccess, map[string]any{"bytes": payload.Len()})
	c.setState(StateAwaitingTranscription, "")
	c.mu.Unlock()
	c.flush()

	codes, serr := src.Suggest(opCtx, sess, res)

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return ErrAbandoned
	}
	c.endOp(gen)
	outcome := "seeded"
	switch {
	case serr != nil:
		c.suggestErr = serr.Error()
		codes = nil
		outcome = "error"
		c.logger.Warn().Err(serr).Str("source", src.Name()).Msg("Code suggestions unavailable, review starts empty")
	case len(codes) == 0:
		outcome = "empty"
	}
	c.metrics.RecordSuggestions(src.Name(), outcome)
	c.review = billing.NewReview(codes, c.deps.Billing,
		billing.WithValidator(c.deps.Validator),
		billing.WithReviewLogger(c.logger),
	)
	c.setState(StateReviewingBilling, "")
	c.mu.Unlock()
	c.flush()
	return nil
}

// EditCode replaces one field of a working-set entry.
func (c *Coordinator) EditCode(index int, field billing.Field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("edit billing code", StateReviewingBilling); err != nil {
		return err
	}
	return c.review.EditField(index, field, value)
}

// RemoveCode deletes a working-set entry.
func (c *Coordinator) RemoveCode(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("remove billing code", StateReviewingBilling); err != nil {
		return err
	}
	return c.review.Remove(index)
}

// SubmitBilling sends the working set. Validation failures leave the
// encounter in REVIEWING_BILLING; a remote rejection moves it to FAILED.
func (c *Coordinator) SubmitBilling(ctx context.Context) (*models.SubmissionResult, error) {
	c.mu.Lock()
	if err := c.check("submit billing", StateReviewingBilling); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	review, sess := c.review, c.session
	opCtx, gen := c.beginOp(ctx)
	c.mu.Unlock()

	return c.runSubmit(opCtx, gen, review, sess)
}

// RetrySubmit re-sends the unchanged working set after a submission failure.
func (c *Coordinator) RetrySubmit(ctx context.Context) (*models.SubmissionResult, error) {
	c.mu.Lock()
	if err := c.checkFailed("retry submit", failure.KindSubmissionFailed); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.failure = nil
	c.setState(StateReviewingBilling, "")
	review, sess := c.review, c.session
	opCtx, gen := c.beginOp(ctx)
	c.mu.Unlock()
	c.flush()

	return c.runSubmit(opCtx, gen, review, sess)
}

func (c *Coordinator) runSubmit(opCtx context.Context, gen uint64, review *billing.Review, sess models.Session) (*models.SubmissionResult, error) {
	res, err := review.Submit(opCtx, sess)

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return nil, ErrAbandoned
	}
	c.endOp(gen)
	if err != nil {
		switch failure.KindOf(err) {
		case failure.KindValidationFailed:
			c.recordAudit("billing.invalid", OutcomeBlocked, map[string]any{"error": err.Error()})
			c.mu.Unlock()
			c.flush()
			return nil, err
		case failure.KindInvalidState:
			c.mu.Unlock()
			return nil, err
		}
		fe, ok := failure.As(err)
		if !ok || fe.Kind != failure.KindSubmissionFailed {
			fe = failure.SubmissionFailed(0, "", err)
		}
		c.fail(fe, "billing.rejected", map[string]any{"status": fe.Status, "codes": review.Len()})
		c.mu.Unlock()
		c.flush()
		return nil, fe
	}
	c.submission = res
	c.recordAudit("billing.submitted", OutcomeSuccess, map[string]any{"codes": review.Len(), "status": res.Status})
	c.setState(StateSubmitted, "")
	c.mu.Unlock()
	c.flush()
	return res, nil
}

// Retry re-runs the operation that failed, as named by the failure's retry
// affordance.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkClosed("retry"); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != StateFailed || c.failure == nil {
		st := c.state
		c.mu.Unlock()
		return failure.InvalidState("retry", st.String())
	}
	action := RetryFor(c.failure.Kind)
	c.mu.Unlock()

	switch action {
	case RetryCapture:
		return c.StartCapture(ctx)
	case RetryUpload:
		return c.RetryUpload(ctx)
	case RetrySubmit:
		_, err := c.RetrySubmit(ctx)
		return err
	default:
		return failure.InvalidState("retry", StateFailed.String())
	}
}

// CancelReview discards the working set and cancels the encounter.
func (c *Coordinator) CancelReview() error {
	c.mu.Lock()
	if err := c.checkClosed("cancel review"); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != StateReviewingBilling || c.review == nil {
		st := c.state
		c.mu.Unlock()
		return failure.InvalidState("cancel review", st.String())
	}
	c.mu.Unlock()
	return c.cancel("review_cancelled", false)
}

// Cancel abandons the encounter: the device is released, fragments and any
// outstanding request are discarded, consent is reset and the encounter
// returns to AWAITING_CONSENT. It never waits on an outstanding request.
func (c *Coordinator) Cancel() error {
	return c.cancel("cancel", false)
}

// Close tears the encounter down for good. It releases everything Cancel does
// and leaves the coordinator CANCELLED. Closing twice is a no-op.
func (c *Coordinator) Close() error {
	return c.cancel("teardown", true)
}

func (c *Coordinator) cancel(reason string, teardown bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if teardown {
			return nil
		}
		return failure.InvalidState("cancel", "CLOSED")
	}
	if !teardown && c.state.IsTerminal() {
		st := c.state
		c.mu.Unlock()
		return failure.InvalidState("cancel", st.String())
	}

	c.generation++
	if c.opCancel != nil {
		c.opCancel()
		c.opCancel = nil
	}
	c.inFlight = false

	cs, review := c.capture, c.review
	from := c.state
	c.clearLocked()
	c.gate.Reset()

	c.setState(StateCancelled, "")
	c.recordAudit("encounter.cancelled", OutcomeCancelled, map[string]any{"reason": reason, "from": from.String()})
	if teardown {
		c.closed = true
	} else {
		c.setState(StateAwaitingConsent, "")
	}
	c.mu.Unlock()

	if cs != nil {
		cs.Abort(reason)
	}
	if review != nil {
		_ = review.Cancel()
	}
	c.flush()

	c.logger.Info().Str("reason", reason).Str("from", from.String()).Msg("Encounter cancelled")
	if teardown && c.outbox != nil {
		c.outbox.close()
	}
	return nil
}

// Restart begins a fresh encounter for the same session after submission.
func (c *Coordinator) Restart() error {
	c.mu.Lock()
	if err := c.check("restart", StateSubmitted); err != nil {
		c.mu.Unlock()
		return err
	}
	c.clearLocked()
	c.gate.Reset()
	c.setState(StateAwaitingConsent, "")
	c.recordAudit("encounter.restarted", OutcomeSuccess, nil)
	c.mu.Unlock()
	c.flush()
	return nil
}

// clearLocked drops every per-attempt artifact. Caller holds c.mu.
func (c *Coordinator) clearLocked() {
	c.capture = nil
	c.payload = nil
	c.transcript = nil
	c.suggestErr = ""
	c.review = nil
	c.submission = nil
	c.failure = nil
}

// check verifies the coordinator is open, idle, and in the wanted state.
// Caller holds c.mu.
func (c *Coordinator) check(op string, want State) error {
	if err := c.checkClosed(op); err != nil {
		return err
	}
	if c.state != want || c.inFlight {
		return failure.InvalidState(op, c.state.String())
	}
	return nil
}

func (c *Coordinator) checkClosed(op string) error {
	if c.closed {
		return failure.InvalidState(op, "CLOSED")
	}
	return nil
}

func (c *Coordinator) checkFailed(op string, kind failure.Kind) error {
	if err := c.check(op, StateFailed); err != nil {
		return err
	}
	if c.failure == nil || c.failure.Kind != kind {
		return failure.InvalidState(op, c.state.String())
	}
	return nil
}

// beginOp marks an operation outstanding. Caller holds c.mu.
func (c *Coordinator) beginOp(ctx context.Context) (context.Context, uint64) {
	if c.opCancel != nil {
		c.opCancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.generation++
	c.inFlight = true
	c.opCancel = cancel
	return opCtx, c.generation
}

// current reports whether gen is still the live operation. Caller holds c.mu.
func (c *Coordinator) current(gen uint64) bool {
	return c.generation == gen && !c.closed
}

// endOp clears the outstanding operation and releases its context. Caller
// holds c.mu.
func (c *Coordinator) endOp(gen uint64) {
	if c.generation != gen {
		return
	}
	c.inFlight = false
	if c.opCancel != nil {
		c.opCancel()
		c.opCancel = nil
	}
}

// fail records a failure and moves to FAILED. Caller holds c.mu.
func (c *Coordinator) fail(fe *failure.Error, auditType string, meta map[string]any) {
	c.failure = fe
	if meta == nil {
		meta = map[string]any{}
	}
	meta["kind"] = string(fe.Kind)
	c.recordAudit(auditType, OutcomeFailure, meta)
	c.metrics.RecordFailure(string(fe.Kind))
	c.logger.Warn().Err(fe).Str("retry", string(RetryFor(fe.Kind))).Msg("Encounter failed")
	c.setState(StateFailed, fe.Kind)
}

// setState applies a legal transition and queues its notice. Caller holds c.mu.
func (c *Coordinator) setState(to State, kind failure.Kind) {
	from := c.state
	if !CanTransition(from, to) {
		c.logger.Error().Str("from", from.String()).Str("to", to.String()).Msg("Illegal workflow transition")
	}
	c.state = to
	c.updatedAt = time.Now()
	c.metrics.RecordTransition(from.String(), to.String())
	c.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("Workflow transition")

	tr := Transition{
		SessionID:   c.session.ID,
		From:        from,
		To:          to,
		FailureKind: kind,
		At:          c.updatedAt,
	}
	c.pending = append(c.pending, notice{transition: &tr})
}

// recordAudit queues an audit record. Caller holds c.mu.
func (c *Coordinator) recordAudit(eventType, outcome string, meta map[string]any) {
	ev := models.AuditEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Actor:     c.actor,
		SessionID: c.session.ID,
		Outcome:   outcome,
		Metadata:  meta,
		Timestamp: time.Now().UnixMilli(),
	}
	c.pending = append(c.pending, notice{audit: &ev})
}

// flush delivers queued notices in order. It must be called without c.mu held.
func (c *Coordinator) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for {
		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		cb := c.onTransition
		c.mu.Unlock()
		if len(pending) == 0 {
			return
		}

		for _, n := range pending {
			switch {
			case n.transition != nil:
				if cb != nil {
					cb(*n.transition)
				}
				c.deliverTransition(*n.transition)
			case n.audit != nil:
				if events := c.deps.Events; events != nil {
					ev := *n.audit
					c.outbox.post(func(ctx context.Context) error { return events.PublishAudit(ctx, ev) })
				}
			}
		}
	}
}

// deliverTransition publishes the transition and saves the snapshot it led to.
func (c *Coordinator) deliverTransition(t Transition) {
	if events := c.deps.Events; events != nil {
		ev := models.TransitionEvent{
			EventType:   eventTypeTransition,
			SessionID:   t.SessionID,
			From:        t.From.String(),
			To:          t.To.String(),
			FailureKind: string(t.FailureKind),
			Timestamp:   t.At.UnixMilli(),
		}
		c.outbox.post(func(ctx context.Context) error { return events.PublishTransition(ctx, ev) })
	}
	if sessions := c.deps.Sessions; sessions != nil {
		snap := c.Snapshot()
		c.outbox.post(func(ctx context.Context) error { return sessions.Set(ctx, snap.SessionID, snap) })
	}
}
