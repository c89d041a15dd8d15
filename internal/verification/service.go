// Package verification orchestrates one guest's verification journey: the
// session registry, step navigation, channel dispatch, score recomputation,
// and snapshot persistence.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"guestgate/internal/channels"
	"guestgate/internal/channels/background"
	"guestgate/internal/channels/document"
	channelmetrics "guestgate/internal/channels/metrics"
	"guestgate/internal/channels/phone"
	"guestgate/internal/form"
	"guestgate/internal/providers"
	"guestgate/internal/session/models"
	"guestgate/internal/session/store/snapshot"
	"guestgate/internal/state"
	"guestgate/internal/trust"
	trustmetrics "guestgate/internal/trust/metrics"
	enginemetrics "guestgate/internal/verification/metrics"
	"guestgate/pkg/clock"
	id "guestgate/pkg/domain"
	dErrors "guestgate/pkg/domain-errors"
	"guestgate/pkg/email"
	"guestgate/pkg/platform/audit"
	"guestgate/pkg/platform/sentinel"
	"guestgate/pkg/requestcontext"
)

// Config holds the engine tunables. Zero durations fall back to the
// defaults below; channel call timeouts default inside the managers.
type Config struct {
	OTPTTL           time.Duration
	SnapshotTTL      time.Duration
	SnapshotDebounce time.Duration

	DocumentCallTimeout    time.Duration
	PhoneCallTimeout       time.Duration
	BackgroundCallTimeout  time.Duration
	BackgroundPollInterval time.Duration
	BackgroundPollBudget   int

	OfferPolicy background.OfferPolicy
	Trust       trust.Config
}

const (
	defaultSnapshotTTL      = 24 * time.Hour
	defaultSnapshotDebounce = 500 * time.Millisecond
)

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotTTL:      defaultSnapshotTTL,
		SnapshotDebounce: defaultSnapshotDebounce,
		OfferPolicy:      background.DefaultOfferPolicy(),
		Trust:            trust.DefaultConfig(),
	}
}

func (c Config) normalized() Config {
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = defaultSnapshotTTL
	}
	if c.SnapshotDebounce <= 0 {
		c.SnapshotDebounce = defaultSnapshotDebounce
	}
	if c.OfferPolicy == (background.OfferPolicy{}) {
		c.OfferPolicy = background.DefaultOfferPolicy()
	}
	if c.Trust.Levels == nil {
		c.Trust = trust.DefaultConfig()
	}
	return c
}

// Service is the verification engine: one instance serves every live
// session, each held as an isolated runtime in the registry.
type Service struct {
	cfg Config

	snapshots snapshot.Store
	identity  providers.IdentityVerifier
	phones    providers.PhoneVerifier
	checker   providers.BackgroundChecker

	clk            clock.Clock
	logger         *slog.Logger
	metrics        *enginemetrics.Metrics
	channelMetrics *channelmetrics.Metrics
	trustMetrics   *trustmetrics.Metrics
	audit          *auditEmitter

	mu       sync.RWMutex
	sessions map[id.SessionID]*runtime
}

type serviceConfig struct {
	logger         *slog.Logger
	clk            clock.Clock
	metrics        *enginemetrics.Metrics
	channelMetrics *channelmetrics.Metrics
	trustMetrics   *trustmetrics.Metrics
	compliance     CompliancePublisher
	security       SecurityAuditor
	ops            OpsTracker
}

// Option customizes the Service.
type Option func(*serviceConfig)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = logger }
}

// WithClock injects the time source; tests pass a manual clock.
func WithClock(clk clock.Clock) Option {
	return func(c *serviceConfig) { c.clk = clk }
}

// WithMetrics attaches the engine metrics.
func WithMetrics(m *enginemetrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

// WithChannelMetrics attaches the channel metrics.
func WithChannelMetrics(m *channelmetrics.Metrics) Option {
	return func(c *serviceConfig) { c.channelMetrics = m }
}

// WithTrustMetrics attaches the trust metrics.
func WithTrustMetrics(m *trustmetrics.Metrics) Option {
	return func(c *serviceConfig) { c.trustMetrics = m }
}

// WithAuditPublishers attaches the per-category audit publishers. Any of
// them may be nil; that category is then dropped.
func WithAuditPublishers(compliance CompliancePublisher, security SecurityAuditor, ops OpsTracker) Option {
	return func(c *serviceConfig) {
		c.compliance = compliance
		c.security = security
		c.ops = ops
	}
}

// New constructs the engine. snapshots may be nil; sessions then run
// memory-only and resume never finds anything.
func New(snapshots snapshot.Store, identity providers.IdentityVerifier, phones providers.PhoneVerifier, checker providers.BackgroundChecker, cfg Config, opts ...Option) *Service {
	sc := &serviceConfig{}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.logger == nil {
		sc.logger = slog.Default()
	}
	if sc.clk == nil {
		sc.clk = clock.System()
	}
	return &Service{
		cfg:            cfg.normalized(),
		snapshots:      snapshots,
		identity:       identity,
		phones:         phones,
		checker:        checker,
		clk:            sc.clk,
		logger:         sc.logger,
		metrics:        sc.metrics,
		channelMetrics: sc.channelMetrics,
		trustMetrics:   sc.trustMetrics,
		audit:          newAuditEmitter(sc.logger, sc.compliance, sc.security, sc.ops),
		sessions:       make(map[id.SessionID]*runtime),
	}
}

// StartOptions carries session establishment context from the transport.
type StartOptions struct {
	// ResumeSessionID asks for a resume; zero always starts fresh. A live
	// runtime wins over a snapshot, a snapshot over a fresh start.
	ResumeSessionID id.SessionID
	// Email and DisplayName come from the upstream identity; email prefills
	// the form.
	Email       string
	DisplayName string
}

// Started reports where the guest landed.
type Started struct {
	SessionID id.SessionID `json:"session_id"`
	Step      form.Step    `json:"step"`
	Resumed   bool         `json:"resumed"`
}

// StartSession establishes a session for the guest: reconnects to a live
// runtime, resumes from a snapshot within its ttl, or starts fresh.
//
// Errors:
//   - CodeInvalidInput: zero guest id
//   - CodeForbidden: the live session belongs to a different guest
func (s *Service) StartSession(ctx context.Context, guestID id.GuestID, opts StartOptions) (Started, error) {
	if guestID.IsZero() {
		return Started{}, dErrors.New(dErrors.CodeInvalidInput, "guest id is required")
	}
	now := s.now(ctx)

	if !opts.ResumeSessionID.IsZero() {
		if rt := s.lookup(opts.ResumeSessionID); rt != nil {
			if rt.session.GuestID != guestID {
				return Started{}, dErrors.New(dErrors.CodeForbidden, "session belongs to a different guest")
			}
			rt.mu.Lock()
			step := rt.session.Step
			rt.mu.Unlock()
			s.audit.sessionResumed(ctx, rt.session.ID, step.String())
			s.metrics.IncSessionResumed()
			return Started{SessionID: rt.session.ID, Step: step, Resumed: true}, nil
		}
	}

	var snap *models.Snapshot
	if !opts.ResumeSessionID.IsZero() && s.snapshots != nil {
		snap = s.loadSnapshot(ctx, opts.ResumeSessionID, guestID)
	}

	sessionID := id.NewSessionID()
	resumed := snap != nil
	if resumed {
		sessionID = snap.SessionID
	}

	rt, err := s.newRuntime(sessionID, guestID, opts, snap, now)
	if err != nil {
		return Started{}, err
	}

	s.mu.Lock()
	if existing, ok := s.sessions[sessionID]; ok {
		// Two tabs resumed the same snapshot concurrently; the first runtime
		// in wins and the loser is discarded before anyone saw it.
		s.mu.Unlock()
		rt.teardown()
		if existing.session.GuestID != guestID {
			return Started{}, dErrors.New(dErrors.CodeForbidden, "session belongs to a different guest")
		}
		existing.mu.Lock()
		step := existing.session.Step
		existing.mu.Unlock()
		s.audit.sessionResumed(ctx, sessionID, step.String())
		s.metrics.IncSessionResumed()
		return Started{SessionID: sessionID, Step: step, Resumed: true}, nil
	}
	s.sessions[sessionID] = rt
	size := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(size)

	if resumed {
		s.audit.sessionResumed(ctx, sessionID, rt.session.Step.String())
		s.metrics.IncSessionResumed()
	} else {
		s.audit.sessionStarted(ctx, sessionID, rt.session.Step.String())
		s.metrics.IncSessionStarted()
	}
	s.logger.InfoContext(ctx, "session established",
		"session_id", sessionID.String(), "step", rt.session.Step.String(), "resumed", resumed)
	return Started{SessionID: sessionID, Step: rt.session.Step, Resumed: resumed}, nil
}

// loadSnapshot resolves a resume request against storage. Every failure mode
// degrades to a fresh start; persistence problems never block a guest.
func (s *Service) loadSnapshot(ctx context.Context, sessionID id.SessionID, guestID id.GuestID) *models.Snapshot {
	snap, err := s.snapshots.Load(ctx, sessionID, s.cfg.SnapshotTTL, s.now(ctx))
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.RecordSnapshotLoad("miss")
		return nil
	case errors.Is(err, sentinel.ErrExpired):
		s.metrics.RecordSnapshotLoad("expired")
		auditErr := s.audit.snapshotPurged(ctx, guestID, sessionID, "ttl_expired")
		s.audit.logCompliance(ctx, audit.EventSnapshotPurged, auditErr)
		return nil
	default:
		s.metrics.RecordSnapshotLoad("error")
		s.logger.WarnContext(ctx, "snapshot load failed; starting fresh",
			"session_id", sessionID.String(), "error", err)
		return nil
	}
	if snap.GuestID != guestID {
		s.logger.WarnContext(ctx, "snapshot guest mismatch; starting fresh",
			"session_id", sessionID.String())
		return nil
	}
	s.metrics.RecordSnapshotLoad("hit")
	return snap
}

// newRuntime assembles the store, managers, and watchers for one session.
func (s *Service) newRuntime(sessionID id.SessionID, guestID id.GuestID, opts StartOptions, snap *models.Snapshot, now time.Time) (*runtime, error) {
	session := models.NewSession(sessionID, guestID, now)
	formData := form.Data{}
	if opts.Email != "" {
		formData[form.FieldEmail] = opts.Email
	}
	resumed := false
	if snap != nil {
		resumed = true
		formData = snap.Form.Clone()
		if opts.Email != "" && formData[form.FieldEmail] == "" {
			formData[form.FieldEmail] = opts.Email
		}
		if snap.Step.Index() >= 0 {
			session.ApplyAdvance(snap.Step, now)
		}
	}

	displayName := opts.DisplayName
	if displayName == "" && opts.Email != "" {
		displayName = email.DisplayName(opts.Email)
	}

	seed := state.DefaultSections()
	seed[state.SectionAuth] = state.AuthState{
		GuestID:       guestID,
		Email:         opts.Email,
		DisplayName:   displayName,
		Authenticated: true,
	}
	seed[state.SectionSession] = state.SessionState{
		ID:           session.ID,
		GuestID:      session.GuestID,
		Step:         session.Step,
		Status:       session.Status,
		Resumed:      resumed,
		CreatedAt:    session.CreatedAt,
		LastActiveAt: session.LastActiveAt,
	}
	seed[state.SectionForm] = state.FormState{Data: formData, Errors: form.Errors{}}

	store, err := state.New(s.logger, seed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seed session state")
	}

	rt := &runtime{
		svc:         s,
		session:     session,
		store:       store,
		hub:         NewHub(s.logger),
		lastResults: make(map[channels.Channel]channels.Result),
	}
	rt.document = document.New(store, s.identity, s.clk, s.logger,
		document.Config{CallTimeout: s.cfg.DocumentCallTimeout})
	rt.phone = phone.New(store, s.phones, s.clk, s.logger,
		phone.Config{DefaultTTL: s.cfg.OTPTTL, CallTimeout: s.cfg.PhoneCallTimeout},
		func(reference string) { s.onChallengeExpired(rt, reference) })
	rt.background = background.New(store, s.checker, s.clk, s.logger,
		background.Config{
			PollInterval: s.cfg.BackgroundPollInterval,
			MaxPolls:     s.cfg.BackgroundPollBudget,
			CallTimeout:  s.cfg.BackgroundCallTimeout,
		})
	rt.saver = newSnapshotSaver(s.clk, s.cfg.SnapshotDebounce,
		func(ctx context.Context) { s.saveSnapshot(ctx, rt) })
	rt.watchChannels()

	// A restored profile link re-verifies the synchronous channel, which
	// also lands the first score recompute through the watcher.
	if resumed {
		s.syncProfileChannel(rt, formData)
	}
	return rt, nil
}

// AdvanceOutcome reports how an advance attempt landed. Validation failures
// are data, not errors: Advanced false with the field messages.
type AdvanceOutcome struct {
	Advanced  bool        `json:"advanced"`
	Step      form.Step   `json:"step"`
	Completed bool        `json:"completed"`
	Errors    form.Errors `json:"errors,omitempty"`
}

// AdvanceStep validates the current step and moves forward; from the last
// step it submits the journey. The snapshot is flushed on every move.
//
// Errors:
//   - CodeNotFound: unknown session
//   - CodeConflict: the session is completed and must be reset first
func (s *Service) AdvanceStep(ctx context.Context, sessionID id.SessionID) (AdvanceOutcome, error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return AdvanceOutcome{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	formState, err := state.Get[state.FormState](rt.store, state.SectionForm)
	if err != nil {
		return AdvanceOutcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read form state")
	}
	current := rt.session.Step
	errs := form.Validate(current, formState.Data)
	if !errs.Valid() {
		s.metrics.IncValidationBlock(current.String())
		if _, writeErr := state.Update(rt.store, state.SectionForm, func(cur state.FormState) state.FormState {
			return state.FormState{Data: cur.Data, Errors: errs.Clone()}
		}); writeErr != nil {
			s.logger.ErrorContext(ctx, "form errors write failed", "error", writeErr)
		}
		return AdvanceOutcome{Advanced: false, Step: current, Errors: errs}, nil
	}

	now := s.now(ctx)
	if current.IsLast() {
		return s.completeLocked(ctx, rt, now)
	}

	next, _ := current.Next()
	if err := rt.session.CanAdvanceTo(next); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return AdvanceOutcome{}, dErrors.New(dErrors.CodeConflict, err.Error())
		}
		return AdvanceOutcome{}, err
	}
	rt.session.ApplyAdvance(next, now)
	s.writeSessionSection(rt)
	rt.saver.Flush(ctx)

	s.metrics.IncStepAdvance(next.String())
	s.audit.stepAdvanced(ctx, sessionID, next.String())
	rt.hub.Publish(Event{Kind: EventStepChanged, SessionID: sessionID, At: now, Step: next})
	s.logger.InfoContext(ctx, "step advanced",
		"session_id", sessionID.String(), "step", next.String())
	return AdvanceOutcome{Advanced: true, Step: next}, nil
}

// completeLocked submits the journey from the review step. The completion
// record is written before the state flips so a recorded completion is never
// lost to a crash in between.
func (s *Service) completeLocked(ctx context.Context, rt *runtime, now time.Time) (AdvanceOutcome, error) {
	if err := rt.session.CanComplete(); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return AdvanceOutcome{}, dErrors.New(dErrors.CodeConflict, err.Error())
		}
		return AdvanceOutcome{}, err
	}

	score := s.currentScore(ctx, rt)
	if err := s.audit.sessionCompleted(ctx, rt.session.GuestID, rt.session.ID, score.Value); err != nil {
		return AdvanceOutcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record completion")
	}

	rt.session.ApplyComplete(now)
	s.writeSessionSection(rt)
	rt.saver.Flush(ctx)

	s.metrics.IncSessionCompleted()
	rt.hub.Publish(Event{
		Kind:      EventStepChanged,
		SessionID: rt.session.ID,
		At:        now,
		Step:      rt.session.Step,
		Completed: true,
	})
	s.logger.InfoContext(ctx, "session completed",
		"session_id", rt.session.ID.String(), "score", score.Value)
	return AdvanceOutcome{Advanced: true, Step: rt.session.Step, Completed: true}, nil
}

// UpdateFormData merges a patch into the form, revalidates the current step,
// and schedules a debounced snapshot save. The returned errors are the
// current step's validation state, not a failure.
//
// Errors:
//   - CodeNotFound: unknown session
//   - CodeInvalidInput: unknown form field in the patch
//   - CodeConflict: the session is completed
func (s *Service) UpdateFormData(ctx context.Context, sessionID id.SessionID, patch map[form.Field]string) (form.Errors, error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.session.IsActive() {
		return nil, dErrors.New(dErrors.CodeConflict, "session is completed; reset it to edit")
	}

	formState, err := state.Get[state.FormState](rt.store, state.SectionForm)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read form state")
	}
	merged, err := formState.Data.Merge(patch)
	if err != nil {
		return nil, err
	}
	errs := form.Validate(rt.session.Step, merged)

	if _, err := state.Update(rt.store, state.SectionForm, func(state.FormState) state.FormState {
		return state.FormState{Data: merged, Errors: errs}
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to write form state")
	}

	s.syncProfileChannel(rt, merged)
	rt.recomputeScore(ctx)
	rt.session.Touch(s.now(ctx))
	rt.saver.Schedule()
	return errs, nil
}

// StartInput carries the per-channel payload for StartChannel. Only the
// document channel reads it.
type StartInput struct {
	Document providers.Image
	Selfie   providers.Image
}

// StartChannel dispatches one verification attempt. Document and background
// settle asynchronously; phone opens a challenge; the profile channel
// verifies synchronously from the form link.
//
// Errors:
//   - CodeNotFound: unknown session
//   - CodeConflict: the session is completed, or the channel refuses a
//     concurrent attempt
//   - CodeInvalidInput / CodeValidation: missing payload or form inputs
//   - CodeMissingConsent: background check without recorded consent
func (s *Service) StartChannel(ctx context.Context, sessionID id.SessionID, ch channels.Channel, input StartInput) error {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	active := rt.session.IsActive()
	rt.mu.Unlock()
	if !active {
		return dErrors.New(dErrors.CodeConflict, "session is completed; reset it to verify")
	}

	formState, err := state.Get[state.FormState](rt.store, state.SectionForm)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read form state")
	}
	data := formState.Data

	switch ch {
	case channels.ChannelDocumentSelfie:
		if len(input.Document.Content) == 0 || len(input.Selfie.Content) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "document and selfie images are required")
		}
		if err := rt.document.Start(ctx, s.subjectFrom(rt, data), input.Document, input.Selfie); err != nil {
			return err
		}

	case channels.ChannelPhoneOTP:
		phoneNumber := data.Phone()
		if phoneNumber == "" {
			return dErrors.New(dErrors.CodeValidation, "a phone number must be on the form before phone verification")
		}
		if err := rt.phone.Start(ctx, phoneNumber); err != nil {
			return err
		}
		// A provider failure surfaces as a failed result, not an error; only
		// an open challenge means a code actually went out.
		if s.challengeOpen(rt) {
			s.audit.codeSent(ctx, sessionID, false)
		}

	case channels.ChannelBackgroundCheck:
		if !data.BackgroundConsent() {
			return dErrors.New(dErrors.CodeMissingConsent, "background check requires consent")
		}
		subject := s.subjectFrom(rt, data)
		subject.ConsentAt = s.now(ctx)
		if err := s.audit.consentRecorded(ctx, rt.session.GuestID, sessionID, data.Email()); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record consent")
		}
		if err := rt.background.Start(ctx, subject); err != nil {
			return err
		}

	case channels.ChannelPlatformProfile:
		if !data.HasProfileLink() {
			return dErrors.New(dErrors.CodeValidation, "a well-formed profile link is required")
		}
		s.syncProfileChannel(rt, data)

	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown channel %q", ch)
	}

	s.channelMetrics.RecordStart(ch.String())
	s.audit.channelStarted(ctx, sessionID, ch.String())
	return nil
}

// SubmitChannelCode checks an OTP code against the live challenge.
//
// Errors:
//   - CodeNotFound: unknown session
//   - CodeInvalidInput: empty code, or no active challenge
//   - CodeChallengeExpired: the countdown ran out
//   - CodeConflict: a check is in flight or the challenge was replaced
func (s *Service) SubmitChannelCode(ctx context.Context, sessionID id.SessionID, code string) (phone.SubmitOutcome, error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return "", err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "code is required")
	}
	outcome, err := rt.phone.Submit(ctx, code)
	if err != nil {
		return "", err
	}
	if outcome == phone.SubmitCodeMismatch {
		s.audit.codeMismatch(ctx, sessionID)
	}
	return outcome, nil
}

// ResendChannel issues a fresh OTP challenge once the previous countdown hit
// zero.
//
// Errors: as phone.Manager.Resend, plus CodeNotFound / CodeValidation.
func (s *Service) ResendChannel(ctx context.Context, sessionID id.SessionID) error {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return err
	}
	formState, err := state.Get[state.FormState](rt.store, state.SectionForm)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read form state")
	}
	phoneNumber := formState.Data.Phone()
	if phoneNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "a phone number must be on the form before phone verification")
	}
	if err := rt.phone.Resend(ctx, phoneNumber); err != nil {
		return err
	}
	if s.challengeOpen(rt) {
		s.audit.codeSent(ctx, sessionID, true)
	}
	return nil
}

// challengeOpen reports whether a live OTP challenge is in the store.
func (s *Service) challengeOpen(rt *runtime) bool {
	channelsState, err := state.Get[state.ChannelsState](rt.store, state.SectionChannels)
	return err == nil && channelsState.Challenge != nil
}

// ResetSession wipes the journey back to the first step: the persisted
// snapshot is purged, channel attempts are invalidated, and every section
// returns to its initial value. The session stays registered.
//
// Errors:
//   - CodeNotFound: unknown session
//   - CodeInternal: the reset could not be recorded in the audit trail
func (s *Service) ResetSession(ctx context.Context, sessionID id.SessionID) error {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	// Record the erasure first: the reset must not happen unaudited.
	if err := s.audit.sessionReset(ctx, rt.session.GuestID, sessionID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record session reset")
	}

	rt.saver.Stop()
	if s.snapshots != nil {
		if err := s.snapshots.Purge(ctx, sessionID); err != nil {
			s.metrics.RecordSnapshotPurge("error")
			s.logger.WarnContext(ctx, "snapshot purge failed",
				"session_id", sessionID.String(), "error", err)
		} else {
			s.metrics.RecordSnapshotPurge("ok")
			auditErr := s.audit.snapshotPurged(ctx, rt.session.GuestID, sessionID, "session_reset")
			s.audit.logCompliance(ctx, audit.EventSnapshotPurged, auditErr)
		}
	}

	channelsState, err := state.Get[state.ChannelsState](rt.store, state.SectionChannels)
	if err == nil {
		for _, ch := range channels.All {
			if channelsState.Result(ch).Status == channels.StatusPending {
				s.audit.channelAborted(ctx, sessionID, ch.String())
			}
		}
	}

	// Quiesce the watcher while sections are rewritten so teardown writes
	// produce no events, audit entries, or recomputes.
	rt.resetting.Store(true)
	rt.abortChannels()
	now := s.now(ctx)
	rt.session.ApplyReset(now)

	resetErr := errors.Join(
		applyDefault(rt.store, state.SectionForm, state.FormState{Data: form.Data{}, Errors: form.Errors{}}),
		applyDefault(rt.store, state.SectionChannels, state.ChannelsState{}),
		applyDefault(rt.store, state.SectionResults, state.ResultsState{}),
		applyDefault(rt.store, state.SectionNotifications, state.NotificationsState{}),
	)
	rt.resetBaseline()
	rt.resetting.Store(false)
	if resetErr != nil {
		return dErrors.Wrap(resetErr, dErrors.CodeInternal, "failed to reset session state")
	}
	s.writeSessionSection(rt)

	s.metrics.IncSessionReset()
	rt.hub.Publish(Event{Kind: EventStepChanged, SessionID: sessionID, At: now, Step: rt.session.Step})
	s.logger.InfoContext(ctx, "session reset", "session_id", sessionID.String())
	return nil
}

// State returns a copy of one section of the session's state.
func (s *Service) State(sessionID id.SessionID, section state.Section) (state.Value, error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.store.Get(section)
}

// Subscribe attaches a callback to one section (or state.SectionAll). The
// callback fires immediately with the current value, then synchronously on
// the writer's goroutine for every change. Callbacks must not call
// session-mutating operations; hand off to another goroutine instead.
func (s *Service) Subscribe(sessionID id.SessionID, section state.Section, fn state.Callback) (func(), error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.store.Subscribe(section, fn)
}

// SubscribeEvents attaches a callback to the session's engine events.
// Delivery is synchronous; the same reentrancy rule as Subscribe applies.
func (s *Service) SubscribeEvents(sessionID id.SessionID, fn func(Event)) (func(), error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.hub.Subscribe(fn), nil
}

// Score returns the current trust score, computing it on demand when no
// recompute has run yet.
func (s *Service) Score(ctx context.Context, sessionID id.SessionID) (trust.Score, error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return trust.Score{}, err
	}
	return s.currentScore(ctx, rt), nil
}

func (s *Service) currentScore(ctx context.Context, rt *runtime) trust.Score {
	results, err := state.Get[state.ResultsState](rt.store, state.SectionResults)
	if err == nil && results.Score != nil {
		return *results.Score
	}
	rt.recomputeScore(ctx)
	results, err = state.Get[state.ResultsState](rt.store, state.SectionResults)
	if err == nil && results.Score != nil {
		return *results.Score
	}
	// Unreachable unless the store is corrupted; compute without writing.
	formState, _ := state.Get[state.FormState](rt.store, state.SectionForm)
	channelsState, _ := state.Get[state.ChannelsState](rt.store, state.SectionChannels)
	return trust.Compute(formState.Data, channelsState.Results, s.cfg.Trust, s.clk.Now())
}

// OfferBackgroundCheck evaluates the offer policy against the live session.
func (s *Service) OfferBackgroundCheck(ctx context.Context, sessionID id.SessionID) (bool, error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return false, err
	}
	formState, err := state.Get[state.FormState](rt.store, state.SectionForm)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read form state")
	}
	data := formState.Data
	count, ok := data.GuestCount()
	if !ok {
		count = 0
	}
	score := s.currentScore(ctx, rt)
	return background.ShouldOffer(score.Value, data.HasProfileLink(), count, data.NearHome(), s.cfg.OfferPolicy), nil
}

// DismissNotification removes one pending UI notification. Unknown IDs are a
// no-op.
func (s *Service) DismissNotification(_ context.Context, sessionID id.SessionID, notificationID id.NotificationID) error {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return err
	}
	_, err = state.Update(rt.store, state.SectionNotifications, func(cur state.NotificationsState) state.NotificationsState {
		return cur.Dismiss(notificationID)
	})
	return err
}

// Close flushes every live session's snapshot in parallel and tears the
// registry down. Actions after Close see unknown sessions.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	runtimes := make([]*runtime, 0, len(s.sessions))
	for _, rt := range s.sessions {
		runtimes = append(runtimes, rt)
	}
	s.sessions = make(map[id.SessionID]*runtime)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(0)

	g, ctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		g.Go(func() error {
			if s.snapshots != nil {
				rt.saver.Flush(ctx)
			}
			rt.teardown()
			return nil
		})
	}
	return g.Wait()
}

// saveSnapshot persists the resume state. All reads go through the state
// store so the saver needs no runtime lock; failures degrade to memory-only.
func (s *Service) saveSnapshot(ctx context.Context, rt *runtime) {
	if s.snapshots == nil {
		return
	}
	sessionState, err := state.Get[state.SessionState](rt.store, state.SectionSession)
	if err != nil {
		s.logger.ErrorContext(ctx, "snapshot read failed", "error", err)
		return
	}
	formState, err := state.Get[state.FormState](rt.store, state.SectionForm)
	if err != nil {
		s.logger.ErrorContext(ctx, "snapshot read failed", "error", err)
		return
	}
	snap := models.Snapshot{
		SessionID: sessionState.ID,
		GuestID:   sessionState.GuestID,
		Step:      sessionState.Step,
		Form:      formState.Data,
		SavedAt:   s.clk.Now(),
	}
	if err := s.snapshots.Save(ctx, snap, s.cfg.SnapshotTTL); err != nil {
		s.metrics.RecordSnapshotSave("error")
		s.logger.WarnContext(ctx, "snapshot save failed; continuing memory-only",
			"session_id", snap.SessionID.String(), "error", err)
		return
	}
	s.metrics.RecordSnapshotSave("ok")
	s.audit.snapshotSaved(ctx, snap.SessionID, snap.Step.String())
	s.savePreview(ctx, rt, snap.SessionID)
}

// savePreview caches the current score for host-facing reads. Advisory only:
// failures are logged and nothing degrades.
func (s *Service) savePreview(ctx context.Context, rt *runtime, sessionID id.SessionID) {
	results, err := state.Get[state.ResultsState](rt.store, state.SectionResults)
	if err != nil || results.Score == nil {
		return
	}
	preview := models.Preview{
		SessionID: sessionID,
		Score:     *results.Score,
		SavedAt:   s.clk.Now(),
	}
	if err := s.snapshots.SavePreview(ctx, preview, s.cfg.SnapshotTTL); err != nil {
		s.logger.WarnContext(ctx, "score preview save failed",
			"session_id", sessionID.String(), "error", err)
	}
}

// onChallengeExpired is the phone manager's exactly-once expiry hook: the
// engine event, the audit entry, the metric, and a guest-facing notice.
func (s *Service) onChallengeExpired(rt *runtime, reference string) {
	ctx := context.Background()
	now := s.clk.Now()
	rt.hub.Publish(Event{
		Kind:      EventChallengeExpired,
		SessionID: rt.session.ID,
		At:        now,
		Reference: reference,
	})
	s.audit.challengeExpired(ctx, rt.session.ID)
	s.channelMetrics.RecordOTPExpiry()

	if _, err := state.Update(rt.store, state.SectionNotifications, func(cur state.NotificationsState) state.NotificationsState {
		return cur.Append(state.Notification{
			ID:        id.NewNotificationID(),
			Kind:      state.NoticeWarning,
			Message:   "Your verification code expired. Request a new one.",
			CreatedAt: now,
		})
	}); err != nil {
		s.logger.Error("expiry notification write failed", "error", err)
	}
}

// syncProfileChannel mirrors the form's profile link into the synchronous
// platform profile channel: a well-formed link upserts verified, a removed
// or broken one returns the channel to not started. No attempt lifecycle:
// the result is replaced wholesale.
func (s *Service) syncProfileChannel(rt *runtime, data form.Data) {
	now := s.clk.Now()
	_, err := state.Update(rt.store, state.SectionChannels, func(cur state.ChannelsState) state.ChannelsState {
		current := cur.Result(channels.ChannelPlatformProfile)
		if data.HasProfileLink() {
			if current.Status == channels.StatusVerified {
				return cur
			}
			return cur.WithResult(channels.Result{
				Channel:   channels.ChannelPlatformProfile,
				Status:    channels.StatusVerified,
				Reference: profileHost(data.ProfileURL()),
				UpdatedAt: now,
			})
		}
		if current.Status == channels.StatusNotStarted {
			return cur
		}
		return cur.WithResult(channels.NewResult(channels.ChannelPlatformProfile))
	})
	if err != nil {
		s.logger.Error("profile channel sync failed", "error", err)
	}
}

// profileHost normalizes a profile URL to its lowercase host; that is all
// the channel result retains.
func profileHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// subjectFrom assembles the provider-facing subject from the form. Raw
// answers travel to the provider for the call and are never kept beyond it.
func (s *Service) subjectFrom(rt *runtime, data form.Data) providers.Subject {
	first := strings.TrimSpace(data[form.FieldFirstName])
	last := strings.TrimSpace(data[form.FieldLastName])
	return providers.Subject{
		GuestID:  rt.session.GuestID,
		FullName: strings.TrimSpace(first + " " + last),
		Email:    data.Email(),
		HomeZIP:  data[form.FieldHomeZIP],
	}
}

// writeSessionSection mirrors the aggregate into the session section.
// Callers hold rt.mu.
func (s *Service) writeSessionSection(rt *runtime) {
	session := *rt.session
	if _, err := state.Update(rt.store, state.SectionSession, func(cur state.SessionState) state.SessionState {
		return state.SessionState{
			ID:           session.ID,
			GuestID:      session.GuestID,
			Step:         session.Step,
			Status:       session.Status,
			Resumed:      cur.Resumed,
			CreatedAt:    session.CreatedAt,
			LastActiveAt: session.LastActiveAt,
		}
	}); err != nil {
		s.logger.Error("session section write failed", "error", err)
	}
}

// applyDefault rewrites one section to a fixed value.
func applyDefault(store *state.Store, section state.Section, value state.Value) error {
	_, err := store.Apply(section, func(state.Value) (state.Value, error) {
		return value, nil
	})
	return err
}

// runtime resolves a live session.
func (s *Service) runtime(sessionID id.SessionID) (*runtime, error) {
	if sessionID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	rt := s.lookup(sessionID)
	if rt == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return rt, nil
}

func (s *Service) lookup(sessionID id.SessionID) *runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// now prefers the request-scoped time and falls back to the injected clock.
func (s *Service) now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestcontext.ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return s.clk.Now()
}
