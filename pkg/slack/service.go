package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jordanlanch/leadguard/pkg/events"
)

// ErrSlackSendFailed wraps every delivery failure.
var ErrSlackSendFailed = errors.New("failed to send Slack notification")

// Message is an incoming-webhook payload.
type Message struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// SlackClient sends messages to a Slack channel.
type SlackClient interface {
	SendMessage(ctx context.Context, msg Message) error
}

// WebhookClient posts to a Slack incoming webhook.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a new Slack webhook client
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendMessage posts msg to the webhook.
func (c *WebhookClient) SendMessage(ctx context.Context, msg Message) error {
	if c.webhookURL == "" {
		return fmt.Errorf("%w: webhook URL not configured", ErrSlackSendFailed)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSlackSendFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrSlackSendFailed, resp.StatusCode)
	}
	return nil
}

// Service turns lifecycle events into Slack notifications for the sales
// channel. It implements events.Sink.
type Service struct {
	client SlackClient
}

// NewService creates a new Slack service
func NewService(client SlackClient) *Service {
	return &Service{
		client: client,
	}
}

// IsEnabled returns true if Slack notifications are enabled
func (s *Service) IsEnabled() bool {
	return s.client != nil
}

// Publish sends a notification describing e.
func (s *Service) Publish(ctx context.Context, e events.Event) error {
	if !s.IsEnabled() {
		return nil
	}
	return s.client.SendMessage(ctx, Message{
		Text:      FormatEvent(e),
		Username:  "LeadGuard",
		IconEmoji: ":shield:",
	})
}

// FormatEvent renders e as Slack mrkdwn.
func FormatEvent(e events.Event) string {
	switch ev := e.(type) {
	case events.ProgressWarningIssued:
		return fmt.Sprintf("⏰ *Progress Warning*\n"+
			"• Lead: #%d\n"+
			"• Owner: %s\n"+
			"• Deadline: %s",
			ev.LeadID, owner(ev.AssignedTo), ev.ProgressDeadline.UTC().Format("2006-01-02"))
	case events.LeadProtectionExpired:
		return fmt.Sprintf("⚠️ *Lead Protection Expired*\n"+
			"• Lead: #%d\n"+
			"• Previous owner: %s",
			ev.LeadID, owner(ev.PreviouslyAssignedTo))
	case events.LeadsPseudonymized:
		return fmt.Sprintf("🔒 *Leads Pseudonymized*\n• Count: %d", ev.Count)
	case events.ImportJobsArchived:
		return fmt.Sprintf("🗄️ *Import Jobs Archived*\n• Count: %d", ev.Count)
	default:
		return fmt.Sprintf("ℹ️ *%s*", e.EventName())
	}
}

func owner(id *int) string {
	if id == nil {
		return "unassigned"
	}
	return fmt.Sprintf("user %d", *id)
}
