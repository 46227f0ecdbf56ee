package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// Sender delivers one notification. Implementations make a single attempt.
type Sender interface {
	Send(ctx context.Context, n model.FlagNotification) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a new LogSender.
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "log_sender").Logger()}
}

// Send logs n.
func (s *LogSender) Send(_ context.Context, n model.FlagNotification) error {
	s.log.Info().
		Str("flag_id", n.FlagID.String()).
		Str("to", n.TeacherContact).
		Str("exam", n.ExamTitle).
		Str("student", n.StudentDisplayName).
		Str("severity", string(n.Severity)).
		Msg(n.Reason)
	return nil
}

func subject(n model.FlagNotification) string {
	return fmt.Sprintf("[%s] %s flagged for review", n.Severity, n.StudentDisplayName)
}

func textBody(n model.FlagNotification) string {
	return fmt.Sprintf(
		"Hello %s,\n\nAn attempt in \"%s\" by %s was flagged for review.\n\nSeverity: %s\nReason: %s\nFlag: %s\n",
		n.TeacherName, n.ExamTitle, n.StudentDisplayName, n.Severity, n.Reason, n.FlagID,
	)
}
