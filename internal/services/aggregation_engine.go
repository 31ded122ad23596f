package services

import (
	"context"
	"errors"
	"time"

	"peerprep/proctoring/internal/lifecycle"
	"peerprep/proctoring/internal/models"
	"peerprep/proctoring/internal/repositories"
	"peerprep/proctoring/internal/scoring"

	"go.uber.org/zap"
)

const defaultStoreTimeout = 5 * time.Second

// SessionObserver is told about every committed mutation. Observers run on
// the caller's goroutine after the store write and must not block.
type SessionObserver interface {
	EventAppended(session models.Session, event models.Event, liveScore int)
	SessionFinalized(session models.Session)
}

type EngineConfig struct {
	// StoreTimeout bounds every store call; zero means five seconds.
	StoreTimeout time.Duration
}

// Ack confirms a durable append.
type Ack struct {
	SessionID  string
	EventCount int
	ReceivedAt time.Time
}

// FinalizeResult is the authoritative outcome of closing a session.
type FinalizeResult struct {
	SessionID      string
	Status         models.SessionStatus
	IntegrityScore int
	DurationMs     int64
	PolicyVersion  string
}

// LiveScore is an on-demand recomputation; only terminal scores are durable.
type LiveScore struct {
	SessionID      string
	Status         models.SessionStatus
	IntegrityScore int
	EventCount     int
	Final          bool
	PolicyVersion  string
}

// AggregationEngine owns session state transitions. Mutations of one session
// are serialized through a per-session lock; different sessions never wait on
// each other.
type AggregationEngine struct {
	store        repositories.SessionStore
	policy       *scoring.Policy
	logger       *zap.Logger
	locks        *sessionLocks
	observers    []SessionObserver
	storeTimeout time.Duration
	now          func() time.Time
}

func NewAggregationEngine(store repositories.SessionStore, policy *scoring.Policy, logger *zap.Logger, cfg EngineConfig) *AggregationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &AggregationEngine{
		store:        store,
		policy:       policy,
		logger:       logger,
		locks:        newSessionLocks(),
		storeTimeout: timeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AddObserver registers o for future mutations. Call before serving traffic.
func (e *AggregationEngine) AddObserver(o SessionObserver) {
	e.observers = append(e.observers, o)
}

func (e *AggregationEngine) Policy() *scoring.Policy { return e.policy }

func (e *AggregationEngine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.storeTimeout)
}

func (e *AggregationEngine) CreateSession(ctx context.Context, subjectLabel string, startedAt time.Time) (string, error) {
	session, err := lifecycle.New(subjectLabel, startedAt)
	if err != nil {
		return "", err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.Create(sctx, &session); err != nil {
		return "", storeError(err)
	}

	e.logger.Info("session created",
		zap.String("sessionId", session.ID),
		zap.Time("startedAt", session.StartedAt))
	return session.ID, nil
}

func (e *AggregationEngine) AppendEvent(ctx context.Context, sessionID string, event models.Event) (Ack, error) {
	if !event.Kind.Valid() {
		return Ack{}, models.InvalidArgument("unknown event kind %q", event.Kind)
	}
	severity, ok := models.ParseSeverity(string(event.Severity))
	if !ok {
		return Ack{}, models.InvalidArgument("unknown severity %q", event.Severity)
	}
	event.Severity = severity

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	session, err := e.store.Get(sctx, sessionID)
	if err != nil {
		return Ack{}, storeError(err)
	}
	if !lifecycle.CanAppendEvent(session) {
		return Ack{}, models.InvalidState("session %s is %s", sessionID, session.Status)
	}

	event.ReceivedAt = e.now()
	count, err := e.store.AppendEvent(sctx, sessionID, event)
	if err != nil {
		return Ack{}, storeError(err)
	}

	session.Events = append(session.Events, event)
	session.EventCount = count
	session.LastEventAt = &event.ReceivedAt
	live := e.policy.Score(session.Events)
	for _, o := range e.observers {
		o.EventAppended(*session, event, live)
	}

	e.logger.Debug("event appended",
		zap.String("sessionId", sessionID),
		zap.String("kind", string(event.Kind)),
		zap.Int("eventCount", count))
	return Ack{SessionID: sessionID, EventCount: count, ReceivedAt: event.ReceivedAt}, nil
}

// FinalizeSession closes an active session as completed.
func (e *AggregationEngine) FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time) (FinalizeResult, error) {
	return e.finalize(ctx, sessionID, endedAt, models.StatusCompleted, "")
}

// TerminateSession closes an active session abnormally, e.g. after the
// candidate disconnected or went idle.
func (e *AggregationEngine) TerminateSession(ctx context.Context, sessionID string, endedAt time.Time, reason string) (FinalizeResult, error) {
	return e.finalize(ctx, sessionID, endedAt, models.StatusTerminated, reason)
}

// finalize recomputes aggregates and score from the stored history only; any
// summaries a client sent alongside the request are never consulted.
func (e *AggregationEngine) finalize(ctx context.Context, sessionID string, endedAt time.Time, outcome models.SessionStatus, reason string) (FinalizeResult, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	session, err := e.store.Get(sctx, sessionID)
	if err != nil {
		return FinalizeResult{}, storeError(err)
	}

	closed, err := lifecycle.Finalize(*session, endedAt, outcome, reason)
	if err != nil {
		return FinalizeResult{}, err
	}

	summary := scoring.Summarize(e.policy, closed.Events)
	score := summary.IntegrityScore
	closed.FocusAggregate = &summary.Focus
	closed.ObjectAggregate = &summary.Objects
	closed.IntegrityScore = &score
	closed.PolicyVersion = summary.PolicyVersion

	if err := e.store.Finalize(sctx, &closed); err != nil {
		return FinalizeResult{}, storeError(err)
	}

	for _, o := range e.observers {
		o.SessionFinalized(closed)
	}

	e.logger.Info("session finalized",
		zap.String("sessionId", sessionID),
		zap.String("status", string(closed.Status)),
		zap.Int("integrityScore", score),
		zap.Int64("durationMs", *closed.DurationMs),
		zap.Int("eventCount", len(closed.Events)))

	return FinalizeResult{
		SessionID:      sessionID,
		Status:         closed.Status,
		IntegrityScore: score,
		DurationMs:     *closed.DurationMs,
		PolicyVersion:  closed.PolicyVersion,
	}, nil
}

// GetSession returns a read-only snapshot.
func (e *AggregationEngine) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	session, err := e.store.Get(sctx, sessionID)
	if err != nil {
		return models.Session{}, storeError(err)
	}
	return session.Clone(), nil
}

func (e *AggregationEngine) LiveScore(ctx context.Context, sessionID string) (LiveScore, error) {
	session, err := e.GetSession(ctx, sessionID)
	if err != nil {
		return LiveScore{}, err
	}

	out := LiveScore{
		SessionID:  session.ID,
		Status:     session.Status,
		EventCount: len(session.Events),
	}
	if session.Status.IsTerminal() && session.IntegrityScore != nil {
		out.IntegrityScore = *session.IntegrityScore
		out.PolicyVersion = session.PolicyVersion
		out.Final = true
		return out, nil
	}
	out.IntegrityScore = e.policy.Score(session.Events)
	out.PolicyVersion = e.policy.Version
	return out, nil
}

// ListStale returns active sessions with no traffic for at least idleFor.
func (e *AggregationEngine) ListStale(ctx context.Context, idleFor time.Duration) ([]models.Session, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	active, err := e.store.ListActive(sctx)
	if err != nil {
		return nil, storeError(err)
	}

	cutoff := e.now().Add(-idleFor)
	stale := []models.Session{}
	for i := range active {
		if active[i].LastActivity().Before(cutoff) {
			stale = append(stale, active[i])
		}
	}
	return stale, nil
}

// Ping reports whether the store is reachable.
func (e *AggregationEngine) Ping(ctx context.Context) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return storeError(e.store.Ping(sctx))
}

// storeError makes sure whatever a store returns carries a kind; bare
// deadline errors surface as unavailable rather than internal.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var typed *models.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.Unavailable(err, "session store unavailable")
	}
	return models.Internal(err, "session store failure")
}
