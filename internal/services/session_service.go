package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/sortimate/api/internal/domain"
)

var (
	// ErrSessionInvalidInput indicates the caller supplied invalid session parameters.
	ErrSessionInvalidInput = errors.New("session: invalid input")
	// ErrNoActiveSession indicates the user has no session in flight.
	ErrNoActiveSession = errors.New("session: no active session")
	// ErrSessionActive indicates the user already has a session in flight.
	ErrSessionActive = errors.New("session: already active")
	// ErrInvalidTransition indicates the requested operation is not legal from
	// the session's current state.
	ErrInvalidTransition = errors.New("session: invalid transition")
	// ErrSessionBusy indicates another transition for the same session is
	// still committing. The caller retries or waits; nothing was applied twice.
	ErrSessionBusy = errors.New("session: transition in progress")
)

const (
	defaultSessionTTL      = 10 * time.Minute
	defaultJanitorInterval = time.Minute
	teardownTimeout        = 5 * time.Second
)

// SessionServiceDeps bundles collaborators required to construct a session service.
type SessionServiceDeps struct {
	Bins        BinService
	Points      PointsService
	Corrections CorrectionService
	Feed        IdentificationFeed
	Logger      *zap.Logger
	Clock       func() time.Time
	// SessionTTL bounds how long an idle session may hold a bin before the
	// janitor reclaims it.
	SessionTTL      time.Duration
	JanitorInterval time.Duration
}

// session is the in-memory state of one user interaction. All fields after mu
// are guarded by it. Nothing here survives a restart: a crash mid-session
// leaves the bin claimed until the janitor of a new process or an admin reset
// reclaims it.
type session struct {
	userID string
	binID  string

	mu             sync.Mutex
	state          domain.SessionState
	pending        *domain.IdentificationEvent
	processing     bool
	startedAt      time.Time
	lastTransition time.Time

	sub FeedSubscription
}

type sessionService struct {
	bins        BinService
	points      PointsService
	corrections CorrectionService
	feed        IdentificationFeed
	logger      *zap.Logger
	clock       func() time.Time
	ttl         time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	stop     chan struct{}
	stopOnce sync.Once
}

var _ SessionService = (*sessionService)(nil)

// NewSessionService constructs the session controller and starts its janitor.
// Call Close to stop the janitor and tear down in-flight sessions.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Bins == nil {
		return nil, errors.New("session service: bin service is required")
	}
	if deps.Points == nil {
		return nil, errors.New("session service: points service is required")
	}
	if deps.Corrections == nil {
		return nil, errors.New("session service: correction service is required")
	}
	if deps.Feed == nil {
		return nil, errors.New("session service: identification feed is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	interval := deps.JanitorInterval
	if interval <= 0 {
		interval = defaultJanitorInterval
	}

	s := &sessionService{
		bins:        deps.Bins,
		points:      deps.Points,
		corrections: deps.Corrections,
		feed:        deps.Feed,
		logger:      logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		ttl:      ttl,
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
	}

	go s.janitor(interval)
	return s, nil
}

// Start claims the scanned bin for the user and opens the identification
// feed. On a lost claim race the user sees the conflict and stays idle.
func (s *sessionService) Start(ctx context.Context, cmd StartSessionCommand) (SessionSnapshot, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return SessionSnapshot{}, fmt.Errorf("%w: user id is required", ErrSessionInvalidInput)
	}
	binID, err := ParseBinID(cmd.ScanPayload)
	if err != nil {
		return SessionSnapshot{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SessionSnapshot{}, errors.New("session service: closed")
	}
	if _, exists := s.sessions[userID]; exists {
		s.mu.Unlock()
		return SessionSnapshot{}, fmt.Errorf("%w: user %s", ErrSessionActive, userID)
	}
	s.mu.Unlock()

	if _, err := s.bins.ClaimBin(ctx, binID, userID); err != nil {
		return SessionSnapshot{}, err
	}

	sub, err := s.feed.Subscribe(binID, userID)
	if err != nil {
		s.releaseBin(ctx, binID)
		return SessionSnapshot{}, err
	}

	now := s.clock()
	sess := &session{
		userID:         userID,
		binID:          binID,
		state:          domain.SessionAwaitingIdentification,
		startedAt:      now,
		lastTransition: now,
		sub:            sub,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		s.releaseBin(ctx, binID)
		return SessionSnapshot{}, errors.New("session service: closed")
	}
	if _, exists := s.sessions[userID]; exists {
		s.mu.Unlock()
		sub.Unsubscribe()
		s.releaseBin(ctx, binID)
		return SessionSnapshot{}, fmt.Errorf("%w: user %s", ErrSessionActive, userID)
	}
	s.sessions[userID] = sess
	s.mu.Unlock()

	go s.pump(sess)

	s.logger.Info("session started",
		zap.String("user_id", userID),
		zap.String("bin_id", binID))
	return sess.snapshot(), nil
}

func (s *sessionService) Current(_ context.Context, userID string) (SessionSnapshot, error) {
	sess, err := s.lookup(userID)
	if err != nil {
		return SessionSnapshot{}, err
	}
	return sess.snapshot(), nil
}

// Confirm consumes the pending event and awards points exactly once. The
// processing flag holds off a second confirm racing the first; after success
// the session is gone, so a late retry sees ErrNoActiveSession.
func (s *sessionService) Confirm(ctx context.Context, userID string) (ConfirmResult, error) {
	sess, err := s.lookup(userID)
	if err != nil {
		return ConfirmResult{}, err
	}

	sess.mu.Lock()
	if sess.processing {
		sess.mu.Unlock()
		return ConfirmResult{}, ErrSessionBusy
	}
	if sess.state != domain.SessionConfirming || sess.pending == nil {
		state := sess.state
		sess.mu.Unlock()
		return ConfirmResult{}, fmt.Errorf("%w: cannot confirm from %s", ErrInvalidTransition, state)
	}
	event := *sess.pending
	sess.processing = true
	sess.state = domain.SessionAwarding
	sess.lastTransition = s.clock()
	sess.mu.Unlock()

	award, err := s.points.AwardItem(ctx, userID, string(event.WasteType))
	if err != nil {
		// Nothing was credited; put the session back so the user can retry.
		sess.mu.Lock()
		sess.processing = false
		sess.state = domain.SessionConfirming
		sess.lastTransition = s.clock()
		sess.mu.Unlock()
		return ConfirmResult{}, err
	}

	s.teardown(ctx, sess)
	s.logger.Info("session confirmed",
		zap.String("user_id", userID),
		zap.String("bin_id", sess.binID),
		zap.String("category", string(award.Category)),
		zap.Int("points", award.Points))

	return ConfirmResult{
		Session: SessionSnapshot{
			UserID:         userID,
			BinID:          sess.binID,
			State:          domain.SessionIdle,
			StartedAt:      sess.startedAt,
			LastTransition: s.clock(),
		},
		Award: award,
	}, nil
}

func (s *sessionService) Reject(_ context.Context, userID string) (SessionSnapshot, error) {
	sess, err := s.lookup(userID)
	if err != nil {
		return SessionSnapshot{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.processing {
		return SessionSnapshot{}, ErrSessionBusy
	}
	if sess.state != domain.SessionConfirming || sess.pending == nil {
		return SessionSnapshot{}, fmt.Errorf("%w: cannot reject from %s", ErrInvalidTransition, sess.state)
	}
	sess.state = domain.SessionCorrecting
	sess.lastTransition = s.clock()
	return sess.snapshotLocked(), nil
}

// SubmitCorrection files the dispute and ends the session without an award.
func (s *sessionService) SubmitCorrection(ctx context.Context, userID, correctedType string) (SessionSnapshot, error) {
	sess, err := s.lookup(userID)
	if err != nil {
		return SessionSnapshot{}, err
	}

	sess.mu.Lock()
	if sess.processing {
		sess.mu.Unlock()
		return SessionSnapshot{}, ErrSessionBusy
	}
	if sess.state != domain.SessionCorrecting || sess.pending == nil {
		state := sess.state
		sess.mu.Unlock()
		return SessionSnapshot{}, fmt.Errorf("%w: cannot submit correction from %s", ErrInvalidTransition, state)
	}
	event := *sess.pending
	sess.processing = true
	sess.state = domain.SessionDisputing
	sess.lastTransition = s.clock()
	sess.mu.Unlock()

	_, err = s.corrections.Report(ctx, CorrectionCommand{
		BinID:     sess.binID,
		UserID:    userID,
		Original:  string(event.WasteType),
		Corrected: correctedType,
	})
	if err != nil {
		sess.mu.Lock()
		sess.processing = false
		sess.state = domain.SessionCorrecting
		sess.lastTransition = s.clock()
		sess.mu.Unlock()
		return SessionSnapshot{}, err
	}

	s.teardown(ctx, sess)
	s.logger.Info("session disputed",
		zap.String("user_id", userID),
		zap.String("bin_id", sess.binID),
		zap.String("original", string(event.WasteType)),
		zap.String("corrected", correctedType))

	return SessionSnapshot{
		UserID:         userID,
		BinID:          sess.binID,
		State:          domain.SessionIdle,
		StartedAt:      sess.startedAt,
		LastTransition: s.clock(),
	}, nil
}

func (s *sessionService) CancelCorrection(_ context.Context, userID string) (SessionSnapshot, error) {
	sess, err := s.lookup(userID)
	if err != nil {
		return SessionSnapshot{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.processing {
		return SessionSnapshot{}, ErrSessionBusy
	}
	if sess.state != domain.SessionCorrecting {
		return SessionSnapshot{}, fmt.Errorf("%w: cannot cancel correction from %s", ErrInvalidTransition, sess.state)
	}
	sess.state = domain.SessionConfirming
	sess.lastTransition = s.clock()
	return sess.snapshotLocked(), nil
}

// Abandon tears the session down from any state. Absent sessions are a no-op
// so navigation-away handlers can fire unconditionally.
func (s *sessionService) Abandon(ctx context.Context, userID string) error {
	sess, err := s.lookup(userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil
		}
		return err
	}

	s.teardown(ctx, sess)
	s.logger.Info("session abandoned",
		zap.String("user_id", userID),
		zap.String("bin_id", sess.binID))
	return nil
}

// SimulateIdentification injects a synthetic event into the feed. Admin-only;
// the router enforces the role.
func (s *sessionService) SimulateIdentification(_ context.Context, cmd SimulateIdentificationCommand) (IdentificationEvent, error) {
	binID := strings.TrimSpace(cmd.BinID)
	userID := strings.TrimSpace(cmd.UserID)
	if binID == "" || userID == "" {
		return IdentificationEvent{}, fmt.Errorf("%w: bin id and user id are required", ErrSessionInvalidInput)
	}
	category, err := NormalizeCategory(cmd.WasteType)
	if err != nil {
		return IdentificationEvent{}, err
	}
	confidence := cmd.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1
	}

	event := domain.IdentificationEvent{
		EventID:    "sim_" + ulid.Make().String(),
		BinID:      binID,
		UserID:     userID,
		WasteType:  category,
		Confidence: confidence,
		Timestamp:  s.clock(),
	}
	s.feed.Publish(event)
	return event, nil
}

// Close stops the janitor and abandons every in-flight session.
func (s *sessionService) Close() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	s.closed = true
	active := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		active = append(active, sess)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	for _, sess := range active {
		s.teardown(ctx, sess)
	}
}

// pump applies feed events to the session. A later event before confirmation
// supersedes the pending one: sensors resubmit, and the newest classification
// is the one the user is asked about.
func (s *sessionService) pump(sess *session) {
	for event := range sess.sub.Events() {
		if event.IsError {
			// Sensor fault, not a classification: there is nothing to
			// confirm or dispute, so the session keeps waiting.
			s.logger.Warn("sensor error event on session feed",
				zap.String("user_id", sess.userID),
				zap.String("bin_id", sess.binID),
				zap.String("event", event.EventID),
				zap.String("error", event.ErrorMessage))
			continue
		}
		sess.mu.Lock()
		switch {
		case sess.processing:
			// An award or dispute is committing; the event is moot.
		case sess.state == domain.SessionAwaitingIdentification, sess.state == domain.SessionConfirming:
			if sess.pending != nil {
				s.logger.Debug("superseding pending identification",
					zap.String("user_id", sess.userID),
					zap.String("bin_id", sess.binID),
					zap.String("previous_event", sess.pending.EventID),
					zap.String("event", event.EventID))
			}
			copied := event
			sess.pending = &copied
			sess.state = domain.SessionConfirming
			sess.lastTransition = s.clock()
		}
		sess.mu.Unlock()
	}
}

func (s *sessionService) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reapExpired(s.clock())
		}
	}
}

// reapExpired abandons sessions whose last transition is older than the TTL,
// freeing bins left claimed by users who walked away.
func (s *sessionService) reapExpired(now time.Time) {
	s.mu.Lock()
	var expired []*session
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if !sess.processing && now.Sub(sess.lastTransition) > s.ttl {
			expired = append(expired, sess)
		}
		sess.mu.Unlock()
	}
	s.mu.Unlock()

	for _, sess := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		s.teardown(ctx, sess)
		cancel()
		s.logger.Info("session expired",
			zap.String("user_id", sess.userID),
			zap.String("bin_id", sess.binID))
	}
}

func (s *sessionService) lookup(userID string) (*session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrSessionInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNoActiveSession, userID)
	}
	return sess, nil
}

// teardown removes the session, stops its feed, and releases the bin. Release
// is idempotent, so racing the janitor against a user-driven teardown is safe.
func (s *sessionService) teardown(ctx context.Context, sess *session) {
	s.mu.Lock()
	if current, ok := s.sessions[sess.userID]; !ok || current != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.userID)
	s.mu.Unlock()

	sess.sub.Unsubscribe()
	s.releaseBin(ctx, sess.binID)
}

func (s *sessionService) releaseBin(ctx context.Context, binID string) {
	if err := s.bins.ReleaseBin(ctx, binID); err != nil && !errors.Is(err, ErrBinNotFound) {
		s.logger.Warn("bin release failed",
			zap.String("bin_id", binID),
			zap.Error(err))
	}
}

func (sess *session) snapshot() SessionSnapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked()
}

func (sess *session) snapshotLocked() SessionSnapshot {
	snapshot := SessionSnapshot{
		UserID:         sess.userID,
		BinID:          sess.binID,
		State:          sess.state,
		StartedAt:      sess.startedAt,
		LastTransition: sess.lastTransition,
	}
	if sess.pending != nil {
		copied := *sess.pending
		snapshot.PendingEvent = &copied
	}
	return snapshot
}
