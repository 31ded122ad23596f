package gormstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"peerprep/proctoring/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sessionRecord is one row per session; the event history and aggregates are
// JSON columns so the whole aggregate is read and written by primary key.
type sessionRecord struct {
	ID                string                 `gorm:"primaryKey;size:36"`
	SubjectLabel      string                 `gorm:"not null"`
	StartedAt         time.Time              `gorm:"not null"`
	EndedAt           *time.Time
	DurationMs        *int64
	Status            string                 `gorm:"size:16;not null;index"`
	TerminationReason string
	Events            []models.Event         `gorm:"type:text;serializer:json"`
	EventCount        int                    `gorm:"not null;default:0"`
	LastEventAt       *time.Time
	FocusAggregate    models.FocusAggregate  `gorm:"type:text;serializer:json"`
	ObjectAggregate   models.ObjectAggregate `gorm:"type:text;serializer:json"`
	IntegrityScore    *int
	PolicyVersion     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (sessionRecord) TableName() string { return "proctoring_sessions" }

// Open connects with the named dialect ("postgres" or "sqlite") and migrates
// the sessions table.
func Open(dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	rec := toRecord(s)
	if err := r.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return classify(err, "failed to create session %s", s.ID)
	}
	s.CreatedAt, s.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	s.EventCount = rec.EventCount
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	var rec sessionRecord
	if err := r.DB.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NotFound("session %s not found", id)
		}
		return nil, classify(err, "failed to load session %s", id)
	}
	return fromRecord(&rec), nil
}

// AppendEvent rewrites the events column inside a transaction. The update is
// conditional on the row still being active, so a concurrent finalize from
// another instance wins cleanly.
func (r *SessionRepository) AppendEvent(ctx context.Context, id string, event models.Event) (int, error) {
	var count int
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec sessionRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NotFound("session %s not found", id)
			}
			return classify(err, "failed to load session %s", id)
		}
		if rec.Status != string(models.StatusActive) {
			return models.InvalidState("session %s is %s", id, rec.Status)
		}

		received := event.ReceivedAt
		rec.Events = append(rec.Events, event)
		rec.EventCount = len(rec.Events)
		rec.LastEventAt = &received

		res := tx.Model(&rec).
			Where("status = ?", string(models.StatusActive)).
			Select("events", "event_count", "last_event_at", "updated_at").
			Updates(&rec)
		if res.Error != nil {
			return classify(res.Error, "failed to append event to session %s", id)
		}
		if res.RowsAffected == 0 {
			return models.InvalidState("session %s is no longer active", id)
		}
		count = rec.EventCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SessionRepository) Finalize(ctx context.Context, s *models.Session) error {
	rec := toRecord(s)
	res := r.DB.WithContext(ctx).Model(rec).
		Where("status = ?", string(models.StatusActive)).
		Select("status", "ended_at", "duration_ms", "termination_reason",
			"focus_aggregate", "object_aggregate", "integrity_score", "policy_version", "updated_at").
		Updates(rec)
	if res.Error != nil {
		return classify(res.Error, "failed to finalize session %s", s.ID)
	}
	if res.RowsAffected == 0 {
		return r.missOrTerminal(ctx, s.ID)
	}
	s.UpdatedAt = rec.UpdatedAt
	return nil
}

func (r *SessionRepository) ListActive(ctx context.Context) ([]models.Session, error) {
	var recs []sessionRecord
	err := r.DB.WithContext(ctx).
		Omit("events").
		Where("status = ?", string(models.StatusActive)).
		Find(&recs).Error
	if err != nil {
		return nil, classify(err, "failed to list active sessions")
	}

	out := make([]models.Session, 0, len(recs))
	for i := range recs {
		s := fromRecord(&recs[i])
		s.Events = nil
		out = append(out, *s)
	}
	return out, nil
}

func (r *SessionRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return classify(err, "database handle unavailable")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return classify(err, "database ping failed")
	}
	return nil
}

func (r *SessionRepository) missOrTerminal(ctx context.Context, id string) error {
	var rec sessionRecord
	err := r.DB.WithContext(ctx).Select("id", "status").First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NotFound("session %s not found", id)
	}
	if err != nil {
		return classify(err, "failed to load session %s", id)
	}
	return models.InvalidState("session %s is %s", id, rec.Status)
}

func toRecord(s *models.Session) *sessionRecord {
	rec := &sessionRecord{
		ID:                s.ID,
		SubjectLabel:      s.SubjectLabel,
		StartedAt:         s.StartedAt,
		EndedAt:           s.EndedAt,
		DurationMs:        s.DurationMs,
		Status:            string(s.Status),
		TerminationReason: s.TerminationReason,
		Events:            s.Events,
		EventCount:        len(s.Events),
		LastEventAt:       s.LastEventAt,
		IntegrityScore:    s.IntegrityScore,
		PolicyVersion:     s.PolicyVersion,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if rec.Events == nil {
		rec.Events = []models.Event{}
	}
	if s.FocusAggregate != nil {
		rec.FocusAggregate = *s.FocusAggregate
	}
	if s.ObjectAggregate != nil {
		rec.ObjectAggregate = *s.ObjectAggregate
	}
	return rec
}

func fromRecord(rec *sessionRecord) *models.Session {
	s := &models.Session{
		ID:                rec.ID,
		SubjectLabel:      rec.SubjectLabel,
		StartedAt:         rec.StartedAt.UTC(),
		EndedAt:           utcPtr(rec.EndedAt),
		DurationMs:        rec.DurationMs,
		Status:            models.SessionStatus(rec.Status),
		TerminationReason: rec.TerminationReason,
		Events:            rec.Events,
		EventCount:        rec.EventCount,
		LastEventAt:       utcPtr(rec.LastEventAt),
		IntegrityScore:    rec.IntegrityScore,
		PolicyVersion:     rec.PolicyVersion,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
	if s.Events == nil {
		s.Events = []models.Event{}
	}
	if s.Status.IsTerminal() {
		focus := rec.FocusAggregate
		objects := rec.ObjectAggregate
		if objects.SuspiciousObjectsDetected == nil {
			objects.SuspiciousObjectsDetected = []string{}
		}
		s.FocusAggregate = &focus
		s.ObjectAggregate = &objects
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func classify(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) {
		return models.Unavailable(err, "session store unavailable")
	}
	return models.Internal(err, format, args...)
}
