package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/service"
)

type sseFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var f sseFrame
			require.NoError(t, json.Unmarshal([]byte(payload), &f))
			return f
		}
	}
}

func TestMonitorExamSSE(t *testing.T) {
	s := newTestServer(t)
	budi := s.token(t, service.TokenTypeStudent, 101)
	author := s.token(t, service.TokenTypeTeacher, 7)
	attempt := s.startAttempt(t, budi, "device-aaaa")

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/teacher/exams/%s/monitor", srv.URL, s.exam.ExamID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+author)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	first := readFrame(t, body)
	require.Equal(t, "snapshot", first.Type)
	var snap model.MonitorSnapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, 1, snap.TotalJoined)
	require.Len(t, snap.Students, 1)
	assert.Equal(t, "Budi Santoso", snap.Students[0].Name)

	code, _ := s.do(t, http.MethodPost, fmt.Sprintf("/student/attempts/%s/violations", attempt.AttemptID), budi,
		gin.H{"type": "tab_switch", "severity": "low"})
	require.Equal(t, http.StatusCreated, code)

	live := readFrame(t, body)
	assert.Equal(t, model.MonitorEventViolation, live.Type)

	cancel()
	assert.Eventually(t, func() bool { return s.store.Subscribers(s.exam.ExamID) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestMonitorExamSSE_RequiresAuthor(t *testing.T) {
	s := newTestServer(t)
	stranger := s.token(t, service.TokenTypeTeacher, 8)

	code, env := s.do(t, http.MethodGet, fmt.Sprintf("/teacher/exams/%s/monitor", s.exam.ExamID), stranger, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_EXAM_AUTHOR", string(env.Error.Code))
	assert.Zero(t, s.store.Subscribers(s.exam.ExamID))
}
