package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
	ws "github.com/stemsi/exstem-integrity/internal/websocket"
)

// wsIdleTimeout closes connections that stop sending heartbeats.
const wsIdleTimeout = 2 * time.Minute

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams violations, heartbeats and submission over one socket.
type WSHandler struct {
	attempts   *service.AttemptService
	violations *service.ViolationService
	heartbeat  *service.HeartbeatService
	limiter    *middleware.RateLimiter
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter may be nil.
func NewWSHandler(
	attempts *service.AttemptService,
	violations *service.ViolationService,
	heartbeat *service.HeartbeatService,
	limiter *middleware.RateLimiter,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		attempts:   attempts,
		violations: violations,
		heartbeat:  heartbeat,
		limiter:    limiter,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream?token=
// The session token comes from the X-Session-Token header or from each frame.
// Same service calls and error codes as the HTTP endpoints.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership is checked before the upgrade so that failure stays plain HTTP.
	attempt, err := h.attempts.GetOwned(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sessionToken := c.GetHeader(SessionTokenHeader)

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		data, err := ws.ReadMessage(conn, wsIdleTimeout)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			ws.WriteError(conn, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload), nil)
			continue
		}

		// Each frame gets its own deadline; a slow store must not wedge the socket.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keepOpen := true

		switch env.Action {
		case ws.ActionViolation:
			keepOpen = h.handleViolation(ctx, conn, wsLog, attempt, data)
		case ws.ActionHeartbeat:
			h.handleHeartbeat(ctx, conn, attempt, claims.UserID, sessionToken, data)
		case ws.ActionSubmit:
			keepOpen = h.handleSubmit(ctx, conn, wsLog, attemptID, claims.UserID, sessionToken, data)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action), nil)
		}
		cancel()

		if !keepOpen {
			return
		}
	}
}

func (h *WSHandler) handleViolation(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, attempt *model.ExamAttempt, data []byte) bool {
	var msg ws.ViolationRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload), nil)
		return true
	}

	if h.limiter != nil && !h.limiter.Allow(ctx, attempt.ID.String()) {
		ws.WriteError(conn, string(response.ErrRateLimitExceeded), response.GetMessage(response.ErrRateLimitExceeded), nil)
		return true
	}

	result, err := h.violations.Ingest(ctx, attempt.ID, model.ReportViolationRequest{
		Type:         msg.Type,
		Severity:     msg.Severity,
		Message:      msg.Message,
		Detail:       msg.Detail,
		AutoDetected: msg.AutoDetected,
	})
	if err != nil {
		writeServiceError(conn, log, err)
		return !isTerminalError(err)
	}

	ws.WriteTyped(conn, ws.ViolationResponse{Event: ws.EventViolation, IngestResult: *result})

	if result.ShouldTerminate {
		log.Warn().Int("violation_count", result.ViolationCount).Msg("Attempt terminated, closing stream")
		ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventTerminated, Status: model.AttemptStatusAutoSubmitted})
		return false
	}
	return true
}

func (h *WSHandler) handleHeartbeat(ctx context.Context, conn *websocket.Conn, attempt *model.ExamAttempt, studentID int, sessionToken string, data []byte) {
	var msg ws.HeartbeatRequest
	_ = json.Unmarshal(data, &msg)
	if msg.SessionToken != "" {
		sessionToken = msg.SessionToken
	}

	result, err := h.heartbeat.Check(ctx, attempt.ExamID, studentID, sessionToken)
	if err != nil {
		writeServiceError(conn, h.log, err)
		return
	}
	ws.WriteTyped(conn, ws.HeartbeatResponse{Event: ws.EventHeartbeat, HeartbeatResult: *result})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, attemptID uuid.UUID, studentID int, sessionToken string, data []byte) bool {
	var msg ws.SubmitRequest
	_ = json.Unmarshal(data, &msg)
	if msg.SessionToken != "" {
		sessionToken = msg.SessionToken
	}

	attempt, err := h.attempts.Submit(ctx, attemptID, studentID, sessionToken)
	if err != nil {
		writeServiceError(conn, log, err)
		return !isTerminalError(err)
	}

	resp := ws.SubmittedResponse{Event: ws.EventSubmitted, Status: attempt.Status}
	if attempt.SubmittedAt != nil {
		resp.SubmittedAt = attempt.SubmittedAt.UTC().Format(time.RFC3339)
	}
	ws.WriteTyped(conn, resp)
	log.Info().Msg("Attempt submitted over WebSocket")
	return false
}

func writeServiceError(conn *websocket.Conn, log zerolog.Logger, err error) {
	status, code, fields := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("WebSocket action failed")
	}
	ws.WriteError(conn, string(code), response.GetMessage(code), fields)
}

func isTerminalError(err error) bool {
	_, code, _ := classify(err)
	return code == response.ErrAlreadySubmitted
}
