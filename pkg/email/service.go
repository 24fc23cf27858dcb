package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/jordanlanch/leadguard/pkg/events"
	"github.com/jordanlanch/leadguard/pkg/logger"
)

// Message is a rendered notification email.
type Message struct {
	Subject   string
	HTMLBody  string
	PlainText string
}

// Service emails the sales desk about lead warnings and expiries.
// If sendGridAPIKey is provided, emails are sent via SendGrid.
// Otherwise, emails are logged (development mode).
type Service struct {
	fromEmail   string
	fromName    string
	baseURL     string
	recipients  []string
	sendGridKey string
	useSendGrid bool
	log         logger.Logger

	// send delivers one message to one recipient.
	send func(ctx context.Context, toEmail string, msg Message) error
}

// NewService creates a new email service
func NewService(fromEmail, fromName, baseURL, sendGridAPIKey string, recipients []string, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		fromEmail:   fromEmail,
		fromName:    fromName,
		baseURL:     strings.TrimRight(baseURL, "/"),
		recipients:  recipients,
		sendGridKey: sendGridAPIKey,
		useSendGrid: sendGridAPIKey != "",
		log:         log,
	}
	if s.useSendGrid {
		s.send = s.sendViaSendGrid
		log.Info("email service initialized with SendGrid")
	} else {
		s.send = s.logEmail
		log.Warn("email service in console-only mode (set SENDGRID_API_KEY for production)")
	}
	return s
}

// Publish emails every recipient about per-lead events. Batch summaries
// are not mailed.
func (s *Service) Publish(ctx context.Context, e events.Event) error {
	msg, ok := s.render(e)
	if !ok {
		return nil
	}
	for _, to := range s.recipients {
		if err := s.send(ctx, to, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) render(e events.Event) (Message, bool) {
	switch ev := e.(type) {
	case events.ProgressWarningIssued:
		leadURL := s.leadURL(ev.LeadID)
		deadline := ev.ProgressDeadline.UTC().Format("2006-01-02")
		return Message{
			Subject: fmt.Sprintf("Lead #%d: progress deadline on %s", ev.LeadID, deadline),
			HTMLBody: fmt.Sprintf(`
		<html>
		<body>
			<h2>Progress Warning</h2>
			<p>Lead <strong>#%d</strong> has had no recorded progress. Protection will lapse unless activity is logged before <strong>%s</strong>.</p>
			<p><a href="%s">Open lead</a></p>
		</body>
		</html>
	`, ev.LeadID, deadline, leadURL),
			PlainText: fmt.Sprintf(`
Lead #%d has had no recorded progress.
Protection will lapse unless activity is logged before %s.

%s
	`, ev.LeadID, deadline, leadURL),
		}, true
	case events.LeadProtectionExpired:
		leadURL := s.leadURL(ev.LeadID)
		return Message{
			Subject: fmt.Sprintf("Lead #%d: protection expired", ev.LeadID),
			HTMLBody: fmt.Sprintf(`
		<html>
		<body>
			<h2>Lead Protection Expired</h2>
			<p>Lead <strong>#%d</strong> is no longer protected and has been released.</p>
			<p><a href="%s">Open lead</a></p>
		</body>
		</html>
	`, ev.LeadID, leadURL),
			PlainText: fmt.Sprintf(`
Lead #%d is no longer protected and has been released.

%s
	`, ev.LeadID, leadURL),
		}, true
	default:
		return Message{}, false
	}
}

func (s *Service) leadURL(id int) string {
	return fmt.Sprintf("%s/leads/%d", s.baseURL, id)
}

// sendViaSendGrid sends email using SendGrid API
func (s *Service) sendViaSendGrid(ctx context.Context, toEmail string, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", toEmail)

	message := mail.NewSingleEmail(from, msg.Subject, to, msg.PlainText, msg.HTMLBody)

	client := sendgrid.NewSendClient(s.sendGridKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		s.log.Error("sendgrid error", "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		s.log.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)
	}

	s.log.Info("email sent", "email", toEmail, "status", response.StatusCode)
	return nil
}

// logEmail logs email details (development mode)
func (s *Service) logEmail(_ context.Context, toEmail string, msg Message) error {
	s.log.Info("email not sent (development mode)",
		"subject", msg.Subject,
		"email", toEmail,
		"from", s.fromEmail,
	)
	return nil
}
