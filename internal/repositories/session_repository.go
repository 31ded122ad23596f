package repositories

import (
	"context"
	"sync"
	"time"

	"peerprep/proctoring/internal/models"
)

// SessionStore is key-addressed persistence for session aggregates.
//
// Implementations must make AppendEvent and Finalize atomic and conditional
// on the stored status being active: a failed call leaves no trace. They
// return models.ErrNotFound for unknown ids, models.ErrInvalidState when the
// stored session is terminal, and a models.KindUnavailable error when the
// backing store cannot be reached in time.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// AppendEvent returns the event count after the append.
	AppendEvent(ctx context.Context, id string, event models.Event) (int, error)
	// Finalize persists end time, status, aggregates and score of a session
	// that was active when the write took place. Stored events are untouched.
	Finalize(ctx context.Context, session *models.Session) error
	// ListActive returns active sessions without their event history.
	ListActive(ctx context.Context) ([]models.Session, error)
	Ping(ctx context.Context) error
}

// MemoryStore keeps sessions in process memory. It backs local development
// and tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryRecord
	now      func() time.Time
}

type memoryRecord struct {
	mu      sync.Mutex
	session models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return models.Unavailable(err, "session store unavailable")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return models.Internal(nil, "session %s already exists", session.ID)
	}

	now := s.now()
	session.CreatedAt, session.UpdatedAt = now, now
	session.EventCount = len(session.Events)
	s.sessions[session.ID] = &memoryRecord{session: session.Clone()}
	return nil
}

func (s *MemoryStore) lookup(id string) (*memoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.Unavailable(err, "session store unavailable")
	}
	rec, ok := s.lookup(id)
	if !ok {
		return nil, models.NotFound("session %s not found", id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := rec.session.Clone()
	return &out, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, id string, event models.Event) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, models.Unavailable(err, "session store unavailable")
	}
	rec, ok := s.lookup(id)
	if !ok {
		return 0, models.NotFound("session %s not found", id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.session.Status != models.StatusActive {
		return 0, models.InvalidState("session %s is %s", id, rec.session.Status)
	}

	received := event.ReceivedAt
	rec.session.Events = append(rec.session.Events, event.Clone())
	rec.session.EventCount = len(rec.session.Events)
	rec.session.LastEventAt = &received
	rec.session.UpdatedAt = s.now()
	return rec.session.EventCount, nil
}

func (s *MemoryStore) Finalize(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return models.Unavailable(err, "session store unavailable")
	}
	rec, ok := s.lookup(session.ID)
	if !ok {
		return models.NotFound("session %s not found", session.ID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.session.Status != models.StatusActive {
		return models.InvalidState("session %s is %s", session.ID, rec.session.Status)
	}

	finalized := session.Clone()
	stored := &rec.session
	stored.Status = finalized.Status
	stored.EndedAt = finalized.EndedAt
	stored.DurationMs = finalized.DurationMs
	stored.TerminationReason = finalized.TerminationReason
	stored.FocusAggregate = finalized.FocusAggregate
	stored.ObjectAggregate = finalized.ObjectAggregate
	stored.IntegrityScore = finalized.IntegrityScore
	stored.PolicyVersion = finalized.PolicyVersion
	stored.UpdatedAt = s.now()
	session.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.Unavailable(err, "session store unavailable")
	}

	s.mu.RLock()
	records := make([]*memoryRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	out := []models.Session{}
	for _, rec := range records {
		rec.mu.Lock()
		if rec.session.Status == models.StatusActive {
			snapshot := rec.session.Clone()
			snapshot.Events = nil
			out = append(out, snapshot)
		}
		rec.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
