package services

import (
	"context"
	"encoding/json"
	"time"

	"peerprep/proctoring/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultFinalizedChannel = "session_finalized"
	publishTimeout          = 3 * time.Second
)

// SessionFinalizedEvent is broadcast once per session when it reaches a
// terminal status, for downstream consumers such as report archivers.
type SessionFinalizedEvent struct {
	SessionID      string               `json:"sessionId"`
	SubjectLabel   string               `json:"subjectLabel"`
	Status         models.SessionStatus `json:"status"`
	IntegrityScore int                  `json:"integrityScore"`
	DurationMs     int64                `json:"durationMs"`
	EventCount     int                  `json:"eventCount"`
	PolicyVersion  string               `json:"policyVersion"`
	StartedAt      string               `json:"startedAt"`
	EndedAt        string               `json:"endedAt"`
}

// RedisReportPublisher publishes finalized sessions on a Redis channel. The
// finalize has already been committed when it runs, so failures are logged
// and dropped.
type RedisReportPublisher struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
	async   bool
}

func NewRedisReportPublisher(rdb *redis.Client, channel string, logger *zap.Logger) *RedisReportPublisher {
	if channel == "" {
		channel = DefaultFinalizedChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisReportPublisher{rdb: rdb, channel: channel, logger: logger, async: true}
}

func (p *RedisReportPublisher) EventAppended(models.Session, models.Event, int) {}

func (p *RedisReportPublisher) SessionFinalized(session models.Session) {
	event := newSessionFinalizedEvent(session)
	if p.async {
		go p.publish(event)
		return
	}
	p.publish(event)
}

func (p *RedisReportPublisher) publish(event SessionFinalizedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode session_finalized event", zap.String("sessionId", event.SessionID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish session_finalized event",
			zap.String("sessionId", event.SessionID),
			zap.String("channel", p.channel),
			zap.Error(err))
		return
	}
	p.logger.Info("published session_finalized event",
		zap.String("sessionId", event.SessionID),
		zap.String("channel", p.channel))
}

func newSessionFinalizedEvent(s models.Session) SessionFinalizedEvent {
	event := SessionFinalizedEvent{
		SessionID:     s.ID,
		SubjectLabel:  s.SubjectLabel,
		Status:        s.Status,
		EventCount:    len(s.Events),
		PolicyVersion: s.PolicyVersion,
		StartedAt:     s.StartedAt.UTC().Format(time.RFC3339),
	}
	if s.IntegrityScore != nil {
		event.IntegrityScore = *s.IntegrityScore
	}
	if s.DurationMs != nil {
		event.DurationMs = *s.DurationMs
	}
	if s.EndedAt != nil {
		event.EndedAt = s.EndedAt.UTC().Format(time.RFC3339)
	}
	return event
}
