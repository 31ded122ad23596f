package mongo

import (
	"context"
	"errors"
	"time"

	"peerprep/proctoring/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repo stores one document per session, keyed by session id, holding the
// full event history and the last computed aggregates.
type Repo struct {
	col    *mongo.Collection
	pinger interface{ Ping(context.Context) error }
	now    func() time.Time
}

// NewSessionRepo opens the sessions collection and ensures an index on status
// for the stale-session sweep.
func NewSessionRepo(ctx context.Context, c *Client, collection string) (*Repo, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	if collection == "" {
		collection = "sessions"
	}

	r := newRepo(db.Collection(collection))
	r.pinger = c

	_, _ = r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	})
	return r, nil
}

func newRepo(col *mongo.Collection) *Repo {
	return &Repo{col: col, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repo) Create(ctx context.Context, s *models.Session) error {
	now := r.now()
	s.CreatedAt, s.UpdatedAt = now, now
	s.EventCount = len(s.Events)
	if s.Events == nil {
		s.Events = []models.Event{}
	}
	if _, err := r.col.InsertOne(ctx, s); err != nil {
		return classify(err, "failed to create session %s", s.ID)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFound("session %s not found", id)
		}
		return nil, classify(err, "failed to load session %s", id)
	}
	if s.Events == nil {
		s.Events = []models.Event{}
	}
	return &s, nil
}

// AppendEvent pushes onto the events array in a single conditional update so
// a write either lands completely or not at all.
func (r *Repo) AppendEvent(ctx context.Context, id string, event models.Event) (int, error) {
	filter := bson.M{"_id": id, "status": models.StatusActive}
	update := bson.M{
		"$push": bson.M{"events": event},
		"$inc":  bson.M{"eventCount": 1},
		"$set":  bson.M{"lastEventAt": event.ReceivedAt, "updatedAt": r.now()},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"eventCount": 1})

	var updated struct {
		EventCount int `bson:"eventCount"`
	}
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return updated.EventCount, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, r.missOrTerminal(ctx, id)
	}
	return 0, classify(err, "failed to append event to session %s", id)
}

func (r *Repo) Finalize(ctx context.Context, s *models.Session) error {
	now := r.now()
	set := bson.M{
		"status":          s.Status,
		"endedAt":         s.EndedAt,
		"durationMs":      s.DurationMs,
		"focusAggregate":  s.FocusAggregate,
		"objectAggregate": s.ObjectAggregate,
		"integrityScore":  s.IntegrityScore,
		"policyVersion":   s.PolicyVersion,
		"updatedAt":       now,
	}
	if s.TerminationReason != "" {
		set["terminationReason"] = s.TerminationReason
	}

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": s.ID, "status": models.StatusActive}, bson.M{"$set": set})
	if err != nil {
		return classify(err, "failed to finalize session %s", s.ID)
	}
	if res.MatchedCount == 0 {
		return r.missOrTerminal(ctx, s.ID)
	}
	s.UpdatedAt = now
	return nil
}

func (r *Repo) ListActive(ctx context.Context) ([]models.Session, error) {
	opts := options.Find().SetProjection(bson.M{"events": 0})
	cur, err := r.col.Find(ctx, bson.M{"status": models.StatusActive}, opts)
	if err != nil {
		return nil, classify(err, "failed to list active sessions")
	}
	defer cur.Close(ctx)

	out := []models.Session{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(err, "failed to decode active sessions")
	}
	return out, nil
}

func (r *Repo) Ping(ctx context.Context) error {
	if r.pinger == nil {
		return nil
	}
	if err := r.pinger.Ping(ctx); err != nil {
		return classify(err, "mongo ping failed")
	}
	return nil
}

// missOrTerminal explains why a conditional write matched nothing.
func (r *Repo) missOrTerminal(ctx context.Context, id string) error {
	var probe struct {
		Status models.SessionStatus `bson:"status"`
	}
	err := r.col.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"status": 1})).Decode(&probe)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.NotFound("session %s not found", id)
	}
	if err != nil {
		return classify(err, "failed to load session %s", id)
	}
	return models.InvalidState("session %s is %s", id, probe.Status)
}

// classify maps driver failures onto the error taxonomy. Timeouts and network
// failures are retryable; anything else is internal.
func classify(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return models.Unavailable(err, "session store unavailable")
	}
	if mongo.IsDuplicateKeyError(err) {
		return models.Internal(err, "duplicate session id")
	}
	return models.Internal(err, format, args...)
}
