package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"peerprep/proctoring/internal/live"
	"peerprep/proctoring/internal/metrics"
	"peerprep/proctoring/internal/models"
	"peerprep/proctoring/internal/services"
	"peerprep/proctoring/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type SessionEngine interface {
	CreateSession(ctx context.Context, subjectLabel string, startedAt time.Time) (string, error)
	AppendEvent(ctx context.Context, sessionID string, event models.Event) (services.Ack, error)
	FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time) (services.FinalizeResult, error)
	TerminateSession(ctx context.Context, sessionID string, endedAt time.Time, reason string) (services.FinalizeResult, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	LiveScore(ctx context.Context, sessionID string) (services.LiveScore, error)
}

// LiveFeed streams a session's frames over a websocket.
type LiveFeed interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial live.Frame) error
}

type SessionHandler struct {
	engine SessionEngine
	feed   LiveFeed
	logger *zap.Logger
	now    func() time.Time
}

func NewSessionHandler(engine SessionEngine, feed LiveFeed, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		engine: engine,
		feed:   feed,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (handler *SessionHandler) CreateSessionHandler(writer http.ResponseWriter, request *http.Request) {
	var body models.CreateSessionRequest
	if !handler.decode(writer, request, &body) {
		return
	}

	id, err := handler.engine.CreateSession(request.Context(), body.Label(), body.Start())
	if err != nil {
		handler.writeError(writer, request, "create", err)
		return
	}

	writer.Header().Set("Location", "/sessions/"+id)
	utils.JSON(writer, http.StatusCreated, models.CreateSessionResponse{
		ID:      id,
		Message: "Session created",
	})
}

func (handler *SessionHandler) AppendEventHandler(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")

	var body models.AppendEventRequest
	if !handler.decode(writer, request, &body) {
		return
	}
	event, err := body.ToEvent()
	if err != nil {
		handler.writeError(writer, request, "append", err)
		return
	}

	ack, err := handler.engine.AppendEvent(request.Context(), id, event)
	if err != nil {
		handler.writeError(writer, request, "append", err)
		return
	}

	utils.JSON(writer, http.StatusOK, models.AppendEventResponse{
		Ack:        true,
		SessionID:  ack.SessionID,
		EventCount: ack.EventCount,
		ReceivedAt: ack.ReceivedAt,
		Message:    "Event recorded",
	})
}

func (handler *SessionHandler) EndSessionHandler(writer http.ResponseWriter, request *http.Request) {
	handler.closeSession(writer, request, false)
}

func (handler *SessionHandler) TerminateSessionHandler(writer http.ResponseWriter, request *http.Request) {
	handler.closeSession(writer, request, true)
}

// closeSession serves both end and terminate. A body without an end time
// closes the session at the server's clock.
func (handler *SessionHandler) closeSession(writer http.ResponseWriter, request *http.Request, terminate bool) {
	id := chi.URLParam(request, "id")

	var body models.EndSessionRequest
	if !handler.decodeOptional(writer, request, &body) {
		return
	}
	endedAt := body.End()
	if endedAt.IsZero() {
		endedAt = handler.now()
	}

	var (
		result services.FinalizeResult
		err    error
	)
	if terminate {
		reason := strings.TrimSpace(body.Reason)
		if reason == "" {
			reason = "terminated by client"
		}
		result, err = handler.engine.TerminateSession(request.Context(), id, endedAt, reason)
	} else {
		result, err = handler.engine.FinalizeSession(request.Context(), id, endedAt)
	}
	if err != nil {
		op := "finalize"
		if terminate {
			op = "terminate"
		}
		handler.writeError(writer, request, op, err)
		return
	}

	message := "Session ended"
	if terminate {
		message = "Session terminated"
	}
	utils.JSON(writer, http.StatusOK, models.EndSessionResponse{
		Message:        message,
		Status:         result.Status,
		IntegrityScore: result.IntegrityScore,
		DurationMs:     result.DurationMs,
		PolicyVersion:  result.PolicyVersion,
	})
}

func (handler *SessionHandler) GetSessionHandler(writer http.ResponseWriter, request *http.Request) {
	session, err := handler.engine.GetSession(request.Context(), chi.URLParam(request, "id"))
	if err != nil {
		handler.writeError(writer, request, "get", err)
		return
	}
	utils.JSON(writer, http.StatusOK, session)
}

func (handler *SessionHandler) GetLiveScoreHandler(writer http.ResponseWriter, request *http.Request) {
	score, err := handler.engine.LiveScore(request.Context(), chi.URLParam(request, "id"))
	if err != nil {
		handler.writeError(writer, request, "score", err)
		return
	}
	utils.JSON(writer, http.StatusOK, toLiveScoreResponse(score))
}

// LiveFeedHandler upgrades to a websocket after checking the session exists.
// The first frame carries the current score.
func (handler *SessionHandler) LiveFeedHandler(writer http.ResponseWriter, request *http.Request) {
	if handler.feed == nil {
		utils.JSONError(writer, http.StatusNotImplemented, "live_feed_disabled", "Live feed is not enabled")
		return
	}
	id := chi.URLParam(request, "id")

	score, err := handler.engine.LiveScore(request.Context(), id)
	if err != nil {
		handler.writeError(writer, request, "live", err)
		return
	}

	frameType := live.FrameEventAppended
	if score.Final {
		frameType = live.FrameSessionFinalized
	}
	initial := live.Frame{
		Type:           frameType,
		SessionID:      score.SessionID,
		Status:         score.Status,
		IntegrityScore: score.IntegrityScore,
		EventCount:     score.EventCount,
		Final:          score.Final,
	}
	if err := handler.feed.Serve(writer, request, id, initial); err != nil {
		// the upgrader has already replied
		handler.logger.Warn("live feed upgrade failed", zap.String("sessionId", id), zap.Error(err))
	}
}

func toLiveScoreResponse(s services.LiveScore) models.LiveScoreResponse {
	return models.LiveScoreResponse{
		SessionID:      s.SessionID,
		Status:         s.Status,
		IntegrityScore: s.IntegrityScore,
		EventCount:     s.EventCount,
		Final:          s.Final,
		PolicyVersion:  s.PolicyVersion,
	}
}

func (handler *SessionHandler) decode(writer http.ResponseWriter, request *http.Request, dst any) bool {
	return handler.decodeBody(writer, request, dst, false)
}

// decodeOptional accepts an empty body and leaves dst untouched.
func (handler *SessionHandler) decodeOptional(writer http.ResponseWriter, request *http.Request, dst any) bool {
	return handler.decodeBody(writer, request, dst, true)
}

func (handler *SessionHandler) decodeBody(writer http.ResponseWriter, request *http.Request, dst any, allowEmpty bool) bool {
	request.Body = http.MaxBytesReader(writer, request.Body, maxBodyBytes)
	err := json.NewDecoder(request.Body).Decode(dst)
	if allowEmpty && errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		utils.JSONError(writer, http.StatusBadRequest, "invalid_request", "Invalid request payload")
		return false
	}
	return true
}

// writeError maps an engine error kind onto a status code. Causes are logged,
// never returned to the client.
func (handler *SessionHandler) writeError(writer http.ResponseWriter, request *http.Request, op string, err error) {
	metrics.ObserveError(op, err)

	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, models.ErrInvalidState):
		status, code = http.StatusConflict, "session_not_active"
	case errors.Is(err, models.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("sessionId", chi.URLParam(request, "id")),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		handler.logger.Error("session request failed", fields...)
	} else {
		handler.logger.Info("session request rejected", fields...)
	}

	message := models.PublicMessage(err)
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	utils.JSONError(writer, status, code, message)
}
