package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/validator"
)

// AttemptHandler handles student-facing attempt endpoints.
type AttemptHandler struct {
	attempts   *service.AttemptService
	violations *service.ViolationService
	heartbeat  *service.HeartbeatService
	log        zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	attempts *service.AttemptService,
	violations *service.ViolationService,
	heartbeat *service.HeartbeatService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		attempts:   attempts,
		violations: violations,
		heartbeat:  heartbeat,
		log:        log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Creates the attempt or resumes the in-progress one (idempotent).
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attempts.Start(c.Request.Context(), examID, claims.UserID, req.SessionToken)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	response.Success(c, status, result)
}

// Heartbeat godoc
// GET /api/v1/student/exams/:exam_id/heartbeat (X-Session-Token header)
// Reports whether the attempt should continue, by the server clock.
func (h *AttemptHandler) Heartbeat(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.heartbeat.Check(c.Request.Context(), examID, claims.UserID, c.GetHeader(SessionTokenHeader))
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/submit
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	attempt, err := h.attempts.Submit(c.Request.Context(), attemptID, claims.UserID, req.SessionToken)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

// SaveAnswers godoc
// PUT /api/v1/student/attempts/:attempt_id/answers
func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.SaveAnswers(c.Request.Context(), attemptID, claims.UserID, req.Answers); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// ReportViolation godoc
// POST /api/v1/student/attempts/:attempt_id/violations
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if _, err := h.attempts.GetOwned(c.Request.Context(), attemptID, claims.UserID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	result, err := h.violations.Ingest(c.Request.Context(), attemptID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// SystemCheck godoc
// POST /api/v1/student/attempts/:attempt_id/system-check
// Converts positive VM / multi-monitor checks into violations.
func (h *AttemptHandler) SystemCheck(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SystemCheckRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if _, err := h.attempts.GetOwned(c.Request.Context(), attemptID, claims.UserID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	result, err := h.violations.ReportSystemCheck(c.Request.Context(), attemptID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if result == nil {
		response.Success(c, http.StatusOK, gin.H{"clean": true})
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// FlagAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/flags
// Client-side detectors escalate directly, bypassing the violation log.
func (h *AttemptHandler) FlagAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.EscalateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.GetOwned(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	result, err := h.violations.Flag(c.Request.Context(), attempt, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	response.Success(c, status, result)
}

func (h *AttemptHandler) attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, attemptID, true
}
