package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/repository/memory"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/validator"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	exam   model.ExamConfig
	auth   *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zerolog.Nop()
	store := memory.New()

	start, end := time.Now().Add(-time.Hour), time.Now().Add(2*time.Hour)
	exam := model.ExamConfig{
		ExamID:                    uuid.New(),
		Title:                     "Ujian Tengah Semester Fisika",
		Status:                    model.ExamStatusPublished,
		DurationMinutes:           90,
		StartTime:                 &start,
		EndTime:                   &end,
		AutoTerminateOnViolations: true,
		MaxViolations:             2,
		AuthorID:                  7,
		TeacherEmail:              "ratna@example.com",
	}
	store.PutExam(exam)
	store.PutStudent(model.Student{ID: 101, Name: "Budi Santoso"})

	auth := service.NewAuthService("handler-secret", time.Hour)
	leases := service.NewSessionLeaseManager(store, time.Minute, true, log)
	attempts := service.NewAttemptService(store, store, leases, store, log)
	scorer := service.NewRiskScorer(store, store, config.DefaultRiskConfig(), log)
	flags := service.NewFlagService(store, store, store, store, store, store, log)
	policy := service.NewTerminationPolicy(store)
	violations := service.NewViolationService(store, store, attempts, scorer, flags, policy, store, log)
	heartbeat := service.NewHeartbeatService(store, store, leases, true, log)
	review := service.NewReviewService(store, store, store, flags, violations)

	ah := NewAttemptHandler(attempts, violations, heartbeat, log)
	rh := NewReviewHandler(review, log)

	r := gin.New()
	student := r.Group("/student", middleware.RequireStudentJWT(auth))
	student.POST("/exams/:exam_id/attempts", ah.StartAttempt)
	student.GET("/exams/:exam_id/heartbeat", ah.Heartbeat)
	student.POST("/attempts/:attempt_id/submit", ah.SubmitAttempt)
	student.PUT("/attempts/:attempt_id/answers", ah.SaveAnswers)
	student.POST("/attempts/:attempt_id/violations", ah.ReportViolation)
	student.POST("/attempts/:attempt_id/system-check", ah.SystemCheck)
	student.POST("/attempts/:attempt_id/flags", ah.FlagAttempt)

	teacher := r.Group("/teacher", middleware.RequireTeacherJWT(auth))
	teacher.GET("/exams/:id/flags", rh.ListExamFlags)
	teacher.GET("/attempts/:attempt_id/violations", rh.ListAttemptViolations)
	teacher.GET("/attempts/:attempt_id/metrics", rh.GetAttemptMetrics)
	teacher.PATCH("/flags/:id", rh.ReviewFlag)
	teacher.GET("/exams/:id/monitor", NewMonitorHandler(store, review, service.NewMonitorService(store), log).MonitorExamSSE)

	r.GET("/ws/attempts/:attempt_id/stream", middleware.RequireStudentWSAuth(auth),
		NewWSHandler(attempts, violations, heartbeat, nil, log, nil).AttemptStream)

	return &testServer{router: r, store: store, exam: exam, auth: auth}
}

func (s *testServer) token(t *testing.T, typ service.TokenType, id int) string {
	t.Helper()
	tok, err := s.auth.IssueToken(typ, id)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	return s.doWithHeader(t, method, path, token, nil, body)
}

func (s *testServer) doWithHeader(t *testing.T, method, path, token string, header http.Header, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) startAttempt(t *testing.T, token, session string) model.StartAttemptResult {
	t.Helper()
	code, env := s.do(t, http.MethodPost, fmt.Sprintf("/student/exams/%s/attempts", s.exam.ExamID), token,
		gin.H{"session_token": session})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, code)
	var res model.StartAttemptResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func TestStartAttempt(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	path := fmt.Sprintf("/student/exams/%s/attempts", s.exam.ExamID)

	code, env := s.do(t, http.MethodPost, path, budi, gin.H{"session_token": "device-aaaa"})
	assert.Equal(t, http.StatusCreated, code)
	var first model.StartAttemptResult
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.True(t, first.IsNew)
	assert.Positive(t, first.TimeRemainingSeconds)

	code, env = s.do(t, http.MethodPost, path, budi, gin.H{"session_token": "device-aaaa"})
	assert.Equal(t, http.StatusOK, code)
	var again model.StartAttemptResult
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, first.AttemptID, again.AttemptID)
	assert.False(t, again.IsNew)

	code, env = s.do(t, http.MethodPost, path, budi, gin.H{"session_token": "device-bbbb"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrConcurrentSession, env.Error.Code)

	code, env = s.do(t, http.MethodPost, path, budi, gin.H{"session_token": "short"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "session_token")

	code, env = s.do(t, http.MethodPost, "/student/exams/not-a-uuid/attempts", budi, gin.H{"session_token": "device-aaaa"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrInvalidID, env.Error.Code)

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/student/exams/%s/attempts", uuid.New()), budi, gin.H{"session_token": "device-aaaa"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrExamNotFound, env.Error.Code)
}

func TestReportViolation_TerminatesThenRejectsSubmit(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	attempt := s.startAttempt(t, budi, "device-aaaa")
	path := fmt.Sprintf("/student/attempts/%s/violations", attempt.AttemptID)

	code, env := s.do(t, http.MethodPost, path, budi, gin.H{"type": "Tab Switch", "severity": "low"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Fields, "type")

	code, env = s.do(t, http.MethodPost, path, budi, gin.H{"type": "tab_switch", "severity": "medium"})
	assert.Equal(t, http.StatusCreated, code)
	var res model.IngestResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.ViolationCount)
	assert.False(t, res.ShouldTerminate)

	code, env = s.do(t, http.MethodPost, path, budi, gin.H{"type": "fullscreen_exit", "severity": "medium"})
	assert.Equal(t, http.StatusCreated, code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.ShouldTerminate)

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/student/attempts/%s/submit", attempt.AttemptID), budi, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrAlreadySubmitted, env.Error.Code)
	assert.Equal(t, string(model.AttemptStatusAutoSubmitted), env.Error.Fields["status"])
	assert.NotEmpty(t, env.Error.Fields["submitted_at"])

	code, _ = s.do(t, http.MethodPost, path, budi, gin.H{"type": "tab_switch", "severity": "low"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestAttemptOwnership(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	siti := s.token(t, service.TokenTypeStudent, 102)
	attempt := s.startAttempt(t, budi, "device-aaaa")

	code, env := s.do(t, http.MethodPost, fmt.Sprintf("/student/attempts/%s/violations", attempt.AttemptID), siti,
		gin.H{"type": "tab_switch", "severity": "low"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrNotAttemptOwner, env.Error.Code)

	code, env = s.do(t, http.MethodPut, fmt.Sprintf("/student/attempts/%s/answers", uuid.New()), budi,
		gin.H{"answers": gin.H{"q1": "b"}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrAttemptNotFound, env.Error.Code)
}

func TestSaveAnswersAndSubmit(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	attempt := s.startAttempt(t, budi, "device-aaaa")

	code, _ := s.do(t, http.MethodPut, fmt.Sprintf("/student/attempts/%s/answers", attempt.AttemptID), budi,
		gin.H{"answers": gin.H{"q1": "b", "q2": []string{"a", "c"}}})
	assert.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodPost, fmt.Sprintf("/student/attempts/%s/submit", attempt.AttemptID), budi,
		gin.H{"session_token": "device-aaaa"})
	assert.Equal(t, http.StatusOK, code)
	var submitted model.ExamAttempt
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, model.AttemptStatusSubmitted, submitted.Status)
	assert.JSONEq(t, `{"q1":"b","q2":["a","c"]}`, string(submitted.Answers))

	code, env = s.doWithHeader(t, http.MethodGet, fmt.Sprintf("/student/exams/%s/heartbeat", s.exam.ExamID), budi,
		http.Header{SessionTokenHeader: {"device-aaaa"}}, nil)
	assert.Equal(t, http.StatusOK, code)
	var hb model.HeartbeatResult
	require.NoError(t, json.Unmarshal(env.Data, &hb))
	assert.False(t, hb.ShouldContinue)
	assert.True(t, hb.ExamActive)
}

func TestHeartbeat_SessionTokenFromHeader(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	s.startAttempt(t, budi, "device-aaaa")
	path := fmt.Sprintf("/student/exams/%s/heartbeat", s.exam.ExamID)

	heartbeat := func(path string, header http.Header) model.HeartbeatResult {
		t.Helper()
		code, env := s.doWithHeader(t, http.MethodGet, path, budi, header, nil)
		require.Equal(t, http.StatusOK, code)
		var hb model.HeartbeatResult
		require.NoError(t, json.Unmarshal(env.Data, &hb))
		return hb
	}

	hb := heartbeat(path, http.Header{SessionTokenHeader: {"device-aaaa"}})
	assert.True(t, hb.ShouldContinue)
	assert.False(t, hb.SessionConflict)

	hb = heartbeat(path, http.Header{SessionTokenHeader: {"device-bbbb"}})
	assert.True(t, hb.SessionConflict)
	assert.False(t, hb.ShouldContinue)

	hb = heartbeat(path+"?session_token=device-bbbb", nil)
	assert.False(t, hb.SessionConflict, "the query string is not a token source")
	assert.True(t, hb.ShouldContinue)
}

func TestSystemCheck(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	attempt := s.startAttempt(t, budi, "device-aaaa")
	path := fmt.Sprintf("/student/attempts/%s/system-check", attempt.AttemptID)

	code, env := s.do(t, http.MethodPost, path, budi, gin.H{})
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"clean":true}`, string(env.Data))

	code, _ = s.do(t, http.MethodPost, path, budi, gin.H{"vm_detected": true})
	assert.Equal(t, http.StatusCreated, code)
}

func TestTeacherReview(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	author := s.token(t, service.TokenTypeTeacher, 7)
	stranger := s.token(t, service.TokenTypeTeacher, 8)
	attempt := s.startAttempt(t, budi, "device-aaaa")

	code, _ := s.do(t, http.MethodPost, fmt.Sprintf("/student/attempts/%s/flags", attempt.AttemptID), budi,
		gin.H{"severity": "high", "reason": "second face in camera", "evidence": gin.H{"frame": 12}})
	assert.Equal(t, http.StatusCreated, code)

	code, env := s.do(t, http.MethodGet, fmt.Sprintf("/teacher/exams/%s/flags", s.exam.ExamID), stranger, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrNotExamAuthor, env.Error.Code)

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/teacher/exams/%s/flags?status=open", s.exam.ExamID), author, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/teacher/exams/%s/flags?status=pending", s.exam.ExamID), author, nil)
	require.Equal(t, http.StatusOK, code)
	var listed struct {
		Flags []model.CheatingFlag `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed.Flags, 1)
	assert.JSONEq(t, `[{"frame":12}]`, string(listed.Flags[0].Evidence))

	flagPath := fmt.Sprintf("/teacher/flags/%s", listed.Flags[0].ID)
	code, env = s.do(t, http.MethodPatch, flagPath, author, gin.H{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	code, _ = s.do(t, http.MethodPatch, flagPath, author, gin.H{"status": "dismissed", "notes": "reflection in window"})
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPatch, flagPath, author, gin.H{"status": "resolved"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrInvalidFlagTransition, env.Error.Code)

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/teacher/attempts/%s/metrics", attempt.AttemptID), author, nil)
	assert.Equal(t, http.StatusOK, code)
	var metrics model.SecurityMetrics
	require.NoError(t, json.Unmarshal(env.Data, &metrics))
	assert.True(t, metrics.IsFlaggedForReview)

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/teacher/attempts/%s/violations", attempt.AttemptID), author, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"violations":[]}`, string(env.Data))
}

func TestClassify(t *testing.T) {
	submittedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"already submitted", &service.AlreadySubmittedError{Status: model.AttemptStatusSubmitted, SubmittedAt: submittedAt}, http.StatusConflict, response.ErrAlreadySubmitted},
		{"validation field", &service.ValidationError{Field: "type", Reason: "bad"}, http.StatusBadRequest, response.ErrValidation},
		{"concurrent session", service.ErrConcurrentSession, http.StatusConflict, response.ErrConcurrentSession},
		{"exam ended", service.ErrExamEnded, http.StatusForbidden, response.ErrExamEnded},
		{"wrapped unavailable", fmt.Errorf("get attempt: %w", service.ErrStoreUnavailable), http.StatusServiceUnavailable, response.ErrStoreUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}

	_, _, fields := classify(&service.AlreadySubmittedError{Status: model.AttemptStatusAutoSubmitted, SubmittedAt: submittedAt})
	assert.Equal(t, map[string]string{"status": "auto_submitted", "submitted_at": "2026-03-02T09:00:00Z"}, fields)
}
