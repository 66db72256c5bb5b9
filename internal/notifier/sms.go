package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// SMSConfig holds SMS gateway configuration.
type SMSConfig struct {
	GatewayURL string        `yaml:"gateway_url"` // HTTP endpoint of the SMS provider
	APIKey     string        `yaml:"api_key"`
	From       string        `yaml:"from"`       // sender ID or number
	PerSecond  float64       `yaml:"per_second"` // provider throughput cap (default 1/s)
	Burst      int           `yaml:"burst"`      // (default 5)
	Timeout    time.Duration `yaml:"timeout"`    // per-request timeout (default 15s)
}

// Validate validates the SMS configuration.
func (c *SMSConfig) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway URL is required")
	}
	if c.From == "" {
		return fmt.Errorf("from sender is required")
	}
	return nil
}

// SMSNotifier pages responders through an HTTP SMS gateway. Providers
// enforce a messages-per-second cap, so sends queue behind a token
// bucket sized to the provider contract.
type SMSNotifier struct {
	config     SMSConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSMSNotifier creates a new SMS notifier.
func NewSMSNotifier(config SMSConfig) (*SMSNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sms config: %w", err)
	}
	if config.PerSecond <= 0 {
		config.PerSecond = 1
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &SMSNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.PerSecond), config.Burst),
	}, nil
}

// Name returns "sms".
func (s *SMSNotifier) Name() string {
	return "sms"
}

// Kind returns the SMS channel kind.
func (s *SMSNotifier) Kind() models.ChannelKind {
	return models.ChannelSMS
}

// smsRequest is the gateway request body.
type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// Send texts an incident page to one phone number.
func (s *SMSNotifier) Send(ctx context.Context, address string, msg *Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms throughput wait: %w", err)
	}

	body := fmt.Sprintf("%s (service %s, level %d). Acknowledge to stop escalation.",
		msg.Subject(), msg.ServiceID, msg.Level)

	jsonData, err := json.Marshal(smsRequest{
		To:   address,
		From: s.config.From,
		Body: truncate(body, 320),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms gateway error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close is a no-op for the SMS notifier.
func (s *SMSNotifier) Close() error {
	return nil
}
