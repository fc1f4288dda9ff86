package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SMSConfig configures the HTTP SMS gateway
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Sender     string
	Timeout    time.Duration
}

// SMSSender posts alert text to an HTTP SMS gateway
type SMSSender struct {
	cfg    SMSConfig
	client *http.Client
	logger *slog.Logger
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// maxSMSLength is the longest text sent as a single gateway request
const maxSMSLength = 480

// NewSMSSender creates a new SMS gateway sender
func NewSMSSender(cfg SMSConfig, logger *slog.Logger) *SMSSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMSSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "notify.sms"),
	}
}

// Send implements Dispatcher
func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	text := msg.Body
	if r := []rune(text); len(r) > maxSMSLength {
		text = string(r[:maxSMSLength])
	}

	body, err := json.Marshal(smsRequest{
		To:   msg.Destination,
		From: s.cfg.Sender,
		Text: text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	s.logger.Debug("alert sms sent", "to", msg.Destination)
	return nil
}
