package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stemsi/exstem-integrity/internal/model"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// ErrNoRecipient is returned when the exam author has no email on file.
var ErrNoRecipient = errors.New("notification has no recipient")

// SendgridSender emails the exam author through the SendGrid v3 API.
type SendgridSender struct {
	key  string
	from *sgmail.Email
	host string
	api  func(rest.Request) (*rest.Response, error)
}

// NewSendgridSender creates a new SendgridSender.
func NewSendgridSender(key, fromName, fromAddress string) *SendgridSender {
	return &SendgridSender{
		key:  key,
		from: sgmail.NewEmail(fromName, fromAddress),
		host: sendgridHost,
		api:  sendgrid.API,
	}
}

func (s *SendgridSender) prepare(n model.FlagNotification) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = subject(n)
	p.AddTos(sgmail.NewEmail(n.TeacherName, n.TeacherContact))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)

	text := textBody(n)
	m.AddContent(
		sgmail.NewContent("text/plain", text),
		sgmail.NewContent("text/html", "<pre>"+html.EscapeString(text)+"</pre>"),
	)
	return m
}

// Send makes one delivery attempt. There are no retries.
func (s *SendgridSender) Send(ctx context.Context, n model.FlagNotification) error {
	if n.TeacherContact == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(n))

	res, err := s.api(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
