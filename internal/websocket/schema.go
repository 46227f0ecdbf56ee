package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-integrity/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionViolation Action = "violation"
	ActionHeartbeat Action = "heartbeat"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ViolationRequest reports one proctoring anomaly.
type ViolationRequest struct {
	Action       Action          `json:"action"`
	Type         string          `json:"type"`
	Severity     model.Severity  `json:"severity"`
	Message      string          `json:"message"`
	Detail       json.RawMessage `json:"detail"`
	AutoDetected bool            `json:"auto_detected"`
}

// HeartbeatRequest polls liveness and renews the session lease.
type HeartbeatRequest struct {
	Action       Action `json:"action"`
	SessionToken string `json:"session_token"`
}

// SubmitRequest is sent by the client to finish the attempt.
type SubmitRequest struct {
	Action       Action `json:"action"`
	SessionToken string `json:"session_token"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventViolation  Event = "violation_recorded"
	EventHeartbeat  Event = "heartbeat"
	EventSubmitted  Event = "submitted"
	EventTerminated Event = "terminated"
	EventPong       Event = "pong"
)

type ViolationResponse struct {
	Event Event `json:"event"`
	model.IngestResult
}

type HeartbeatResponse struct {
	Event Event `json:"event"`
	model.HeartbeatResult
}

type SubmittedResponse struct {
	Event       Event               `json:"event"`
	Status      model.AttemptStatus `json:"status"`
	SubmittedAt string              `json:"submitted_at,omitempty"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
