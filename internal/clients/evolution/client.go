// Package evolution sends WhatsApp messages through an Evolution API instance.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

const (
	MaxMessageLength    = 1000
	DefaultPartInterval = 1500 * time.Millisecond

	requestTimeout = 30 * time.Second
	healthTimeout  = 10 * time.Second
)

var ErrNotConfigured = errors.New("evolution: base URL, API key and instance are required")

type Config struct {
	BaseURL  string
	APIKey   string
	Instance string

	// PartInterval paces the parts of a split message.
	PartInterval time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendResult reports how many parts of a message were delivered.
type SendResult struct {
	Parts int             `json:"parts"`
	Sent  int             `json:"sent"`
	Last  json.RawMessage `json:"last,omitempty"`
}

func NewClient(cfg Config) *Client {
	if cfg.PartInterval <= 0 {
		cfg.PartInterval = DefaultPartInterval
	}
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Instance == "" {
		utils.Zlog.Warn("Evolution API configuration incomplete",
			zap.Bool("has_base_url", cfg.BaseURL != ""),
			zap.Bool("has_api_key", cfg.APIKey != ""),
			zap.Bool("has_instance", cfg.Instance != ""))
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (c *Client) configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != "" && c.cfg.Instance != ""
}

// SendText delivers text to phone, split into parts of at most
// MaxMessageLength runes. It stops at the first part that fails.
func (c *Client) SendText(ctx context.Context, phone, text string) (SendResult, error) {
	if !c.configured() {
		return SendResult{}, ErrNotConfigured
	}

	number := utils.CleanPhone(phone)
	parts := utils.SplitMessage(text, MaxMessageLength)
	res := SendResult{Parts: len(parts)}

	if len(parts) > 1 {
		utils.Zlog.Info("Splitting long message",
			zap.Int("original_length", len(text)),
			zap.Int("parts", len(parts)),
			zap.String("number", number))
	}

	limiter := rate.NewLimiter(rate.Every(c.cfg.PartInterval), 1)
	for i, part := range parts {
		if err := limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("waiting to send part %d/%d: %w", i+1, len(parts), err)
		}
		body, err := c.sendSingle(ctx, number, part)
		if err != nil {
			utils.Zlog.Error("Failed to send message part",
				zap.Int("part", i+1),
				zap.Int("total", len(parts)),
				zap.String("number", number),
				zap.Error(err))
			return res, err
		}
		res.Sent++
		res.Last = body
	}

	utils.Zlog.Info("WhatsApp message sent",
		zap.String("number", number),
		zap.Int("parts", res.Parts),
		zap.Int("text_length", len(text)))
	return res, nil
}

func (c *Client) sendSingle(ctx context.Context, number, text string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/message/sendText/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Instance))

	jsonBody, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("evolution API error (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if !json.Valid(body) {
		return nil, nil
	}
	return json.RawMessage(body), nil
}

// TypingDelay is how long a human would plausibly take to type text.
func TypingDelay(text string) time.Duration {
	ms := 1000 + 30*len([]rune(text))
	if ms > 10000 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

// HealthCheck asks the instance for its connection state.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.configured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/instance/connect/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Instance))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("evolution health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("evolution health check: status %d", resp.StatusCode)
	}
	return nil
}
