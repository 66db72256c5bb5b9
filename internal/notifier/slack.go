package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// SlackConfig holds defaults for the Slack adapter. The webhook URL
// itself comes from each responder's chat address, so a preference can
// point at a personal DM webhook or a team channel.
type SlackConfig struct {
	Timeout time.Duration `yaml:"timeout"` // per-request timeout (default 30s)
}

// SlackNotifier pages responders through Slack incoming webhooks.
type SlackNotifier struct {
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SlackNotifier{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Kind returns the chat channel kind.
func (s *SlackNotifier) Kind() models.ChannelKind {
	return models.ChannelChat
}

// Send posts an incident notification to the responder's webhook URL.
func (s *SlackNotifier) Send(ctx context.Context, address string, msg *Message) error {
	if !strings.HasPrefix(address, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}

	payload := buildSlackPayload(msg)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for the Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildSlackPayload builds the Block Kit message for an incident page.
func buildSlackPayload(msg *Message) slackMessage {
	emoji := severityEmoji(msg.Severity)
	timestamp := msg.TriggeredAt.Format("2006-01-02 15:04:05 MST")

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Incident #%d: %s", emoji, msg.Number, truncate(msg.Title, 120)),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, strings.ToUpper(string(msg.Severity))),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Service:*\n%s", msg.ServiceID),
				},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Escalation level:*\n%d", msg.Level),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Triggered:*\n%s", timestamp),
				},
			},
		},
		{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Acknowledge to stop escalation. Incident ID: `%s`", msg.IncidentID),
				},
			},
		},
	}

	return slackMessage{Blocks: blocks}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
