package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// PushConfig holds mobile push gateway configuration.
type PushConfig struct {
	GatewayURL string        `yaml:"gateway_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"` // per-request timeout (default 15s)
}

// Validate validates the push configuration.
func (c *PushConfig) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway URL is required")
	}
	return nil
}

// PushNotifier pages responders through a mobile push gateway. The
// address is the responder's device token.
type PushNotifier struct {
	config     PushConfig
	httpClient *http.Client
}

// NewPushNotifier creates a new push notifier.
func NewPushNotifier(config PushConfig) (*PushNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid push config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &PushNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name returns "push".
func (p *PushNotifier) Name() string {
	return "push"
}

// Kind returns the push channel kind.
func (p *PushNotifier) Kind() models.ChannelKind {
	return models.ChannelPush
}

// pushRequest is the gateway request body.
type pushRequest struct {
	DeviceToken string            `json:"device_token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Priority    string            `json:"priority"`
	Data        map[string]string `json:"data,omitempty"`
}

// Send pushes an incident page to one device.
func (p *PushNotifier) Send(ctx context.Context, address string, msg *Message) error {
	priority := "normal"
	if msg.Severity == models.SeverityCritical || msg.Severity == models.SeverityHigh {
		priority = "high"
	}

	jsonData, err := json.Marshal(pushRequest{
		DeviceToken: address,
		Title:       msg.Subject(),
		Body:        fmt.Sprintf("Service %s, escalation level %d. Acknowledge to stop escalation.", msg.ServiceID, msg.Level),
		Priority:    priority,
		Data: map[string]string{
			"incident_id": msg.IncidentID,
			"severity":    string(msg.Severity),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.GatewayURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push gateway error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close is a no-op for the push notifier.
func (p *PushNotifier) Close() error {
	return nil
}
