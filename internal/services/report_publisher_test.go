package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"peerprep/proctoring/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestRedis creates a miniredis instance and a redis client for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisReportPublisherPublishesFinalizedSession(t *testing.T) {
	_, rdb := setupTestRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, DefaultFinalizedChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewRedisReportPublisher(rdb, "", zap.NewNop())
	publisher.async = false

	end := start.Add(time.Minute)
	duration := int64(60000)
	score := 70
	publisher.SessionFinalized(models.Session{
		ID:             "s1",
		SubjectLabel:   "Ada",
		StartedAt:      start,
		EndedAt:        &end,
		DurationMs:     &duration,
		Status:         models.StatusCompleted,
		Events:         []models.Event{{Kind: models.KindNoFace}, {Kind: models.KindSuspiciousObject}},
		IntegrityScore: &score,
		PolicyVersion:  "v1",
	})

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	require.NoError(t, err)
	assert.Equal(t, DefaultFinalizedChannel, msg.Channel)

	var event SessionFinalizedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "s1", event.SessionID)
	assert.Equal(t, models.StatusCompleted, event.Status)
	assert.Equal(t, 70, event.IntegrityScore)
	assert.Equal(t, int64(60000), event.DurationMs)
	assert.Equal(t, 2, event.EventCount)
	assert.Equal(t, "v1", event.PolicyVersion)
	assert.Equal(t, "2024-03-01T10:01:00Z", event.EndedAt)
}

func TestRedisReportPublisherFromEngine(t *testing.T) {
	_, rdb := setupTestRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "reports")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	e, _ := newEngine(t, nil)
	publisher := NewRedisReportPublisher(rdb, "reports", zap.NewNop())
	e.AddObserver(publisher)

	id := mustCreate(t, e)
	mustAppend(t, e, id, models.KindFocusLost, nil)
	_, err = e.TerminateSession(ctx, id, start.Add(time.Minute), "idle timeout")
	require.NoError(t, err)

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	require.NoError(t, err)

	var event SessionFinalizedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, id, event.SessionID)
	assert.Equal(t, models.StatusTerminated, event.Status)
	assert.Equal(t, 95, event.IntegrityScore)
}

func TestRedisReportPublisherSurvivesOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer rdb.Close()

	publisher := NewRedisReportPublisher(rdb, "", zap.NewNop())
	publisher.async = false

	score := 100
	assert.NotPanics(t, func() {
		publisher.SessionFinalized(models.Session{ID: "s1", Status: models.StatusCompleted, IntegrityScore: &score})
	})
}
