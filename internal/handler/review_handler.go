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

// ReviewHandler serves the teacher review API.
type ReviewHandler struct {
	review *service.ReviewService
	log    zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(review *service.ReviewService, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		review: review,
		log:    log.With().Str("component", "review_handler").Logger(),
	}
}

// ListExamFlags godoc
// GET /api/v1/teacher/exams/:id/flags?status=
func (h *ReviewHandler) ListExamFlags(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var status *model.FlagStatus
	if raw := c.Query("status"); raw != "" {
		s := model.FlagStatus(raw)
		switch s {
		case model.FlagStatusPending, model.FlagStatusUnderReview, model.FlagStatusDismissed, model.FlagStatusResolved:
			status = &s
		default:
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"status": "status must be one of [pending under_review dismissed resolved]"})
			return
		}
	}

	flags, err := h.review.ListFlags(c.Request.Context(), examID, claims.UserID, status)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"flags": flags})
}

// ListAttemptViolations godoc
// GET /api/v1/teacher/attempts/:attempt_id/violations
func (h *ReviewHandler) ListAttemptViolations(c *gin.Context) {
	claims, attemptID, ok := teacherAttemptParams(c)
	if !ok {
		return
	}

	violations, err := h.review.ListViolations(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"violations": violations})
}

// GetAttemptMetrics godoc
// GET /api/v1/teacher/attempts/:attempt_id/metrics
func (h *ReviewHandler) GetAttemptMetrics(c *gin.Context) {
	claims, attemptID, ok := teacherAttemptParams(c)
	if !ok {
		return
	}

	metrics, err := h.review.GetMetrics(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, metrics)
}

// ReviewFlag godoc
// PATCH /api/v1/teacher/flags/:id
func (h *ReviewHandler) ReviewFlag(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	flagID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReviewFlagRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	flag, err := h.review.ReviewFlag(c.Request.Context(), flagID, claims.UserID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, flag)
}

func teacherAttemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
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
