package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// ExamEventSource yields the JSON monitor events published for an exam.
type ExamEventSource interface {
	SubscribeExamEvents(ctx context.Context, examID uuid.UUID) (<-chan string, func())
}

type monitorFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type refreshData struct {
	TotalViolations int64            `json:"total_violations"`
	Counts          []studentCounter `json:"students"`
}

type studentCounter struct {
	StudentID      int   `json:"student_id"`
	ViolationCount int64 `json:"violation_count"`
}

// MonitorHandler streams the live integrity roster of an exam to its author.
type MonitorHandler struct {
	events  ExamEventSource
	review  *service.ReviewService
	monitor *service.MonitorService
	log     zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	events ExamEventSource,
	review *service.ReviewService,
	monitor *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		events:  events,
		review:  review,
		monitor: monitor,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/teacher/exams/:id/monitor
// Sends a roster snapshot, then forwards live violation/flag/submission events.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
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

	ctx := c.Request.Context()
	cfg, err := h.review.AuthorizeExam(ctx, examID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	// Subscribe before the snapshot so no event falls between the two.
	events, stop := h.events.SubscribeExamEvents(ctx, examID)
	defer stop()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	snapshot := h.snapshot(ctx, cfg)
	if snapshot != nil {
		h.writeFrame(c, monitorFrame{Type: "snapshot", Data: snapshot})
	}
	idle := snapshot == nil || snapshot.TotalJoined == 0

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	log := h.log.With().Str("exam_id", examID.String()).Int("teacher_id", claims.UserID).Logger()
	log.Info().Msg("Teacher attached to live monitor")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Teacher detached from live monitor")
			return

		case payload, ok := <-events:
			if !ok {
				return
			}
			// Published payloads are already encoded monitor events.
			h.writeRaw(c, payload)
			idle = false

		case <-refresh.C:
			if idle {
				continue
			}
			if data := h.refresh(ctx, examID); data != nil {
				h.writeFrame(c, monitorFrame{Type: "refresh", Data: data})
			}

		case <-keepAlive.C:
			h.writeFrame(c, monitorFrame{Type: "ping"})
		}
	}
}

func (h *MonitorHandler) snapshot(parent context.Context, cfg *model.ExamConfig) *model.MonitorSnapshot {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.Snapshot(ctx, cfg)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", cfg.ExamID.String()).Msg("Monitor snapshot failed")
		return nil
	}
	return snap
}

// refresh returns compact per-student violation counts, or nil when the query fails.
func (h *MonitorHandler) refresh(parent context.Context, examID uuid.UUID) *refreshData {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	counts, err := h.monitor.ViolationCounts(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Monitor refresh failed")
		return nil
	}

	data := &refreshData{Counts: make([]studentCounter, 0, len(counts))}
	for sid, n := range counts {
		data.Counts = append(data.Counts, studentCounter{StudentID: sid, ViolationCount: n})
		data.TotalViolations += n
	}
	return data
}

func (h *MonitorHandler) writeFrame(c *gin.Context, frame monitorFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Error().Err(err).Str("type", frame.Type).Msg("Failed to encode monitor frame")
		return
	}
	h.writeRaw(c, string(payload))
}

func (h *MonitorHandler) writeRaw(c *gin.Context, payload string) {
	_, _ = c.Writer.WriteString("data: " + payload + "\n\n")
	c.Writer.Flush()
}
