package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
)

// SessionTokenHeader carries the device session token on requests without a
// body. It is kept out of the URL so access logs never record it.
const SessionTokenHeader = "X-Session-Token"

// classify maps a service error to its HTTP status, API code and field details.
func classify(err error) (int, response.ErrCode, map[string]string) {
	var submitted *service.AlreadySubmittedError
	if errors.As(err, &submitted) {
		fields := map[string]string{"status": string(submitted.Status)}
		if !submitted.SubmittedAt.IsZero() {
			fields["submitted_at"] = submitted.SubmittedAt.UTC().Format(time.RFC3339)
		}
		return http.StatusConflict, response.ErrAlreadySubmitted, fields
	}

	var invalid *service.ValidationError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, response.ErrValidation, map[string]string{invalid.Field: invalid.Reason}
	}

	switch {
	case errors.Is(err, service.ErrConcurrentSession):
		return http.StatusConflict, response.ErrConcurrentSession, nil
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound, nil
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound, nil
	case errors.Is(err, service.ErrExamNotActive):
		return http.StatusForbidden, response.ErrExamNotActive, nil
	case errors.Is(err, service.ErrExamEnded):
		return http.StatusForbidden, response.ErrExamEnded, nil
	case errors.Is(err, service.ErrNotAttemptOwner):
		return http.StatusForbidden, response.ErrNotAttemptOwner, nil
	case errors.Is(err, service.ErrNotExamAuthor):
		return http.StatusForbidden, response.ErrNotExamAuthor, nil
	case errors.Is(err, service.ErrFlagNotFound):
		return http.StatusNotFound, response.ErrFlagNotFound, nil
	case errors.Is(err, service.ErrInvalidFlagTransition):
		return http.StatusConflict, response.ErrInvalidFlagTransition, nil
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, response.ErrValidation, nil
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, response.ErrStoreUnavailable, nil
	default:
		return http.StatusInternalServerError, response.ErrInternal, nil
	}
}

// failFromError writes the envelope for err. Server-side faults are logged.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code, fields := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	if fields != nil {
		response.FailWithFields(c, status, code, fields)
		return
	}
	response.Fail(c, status, code)
}
