// Package aiagent talks to the conversational AI backend.
package aiagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

const (
	chatTimeout   = 30 * time.Second
	healthTimeout = 5 * time.Second

	FallbackAgent    = "fallback"
	FallbackResponse = "Olá! Sou a Aleen IA. No momento estou com dificuldades técnicas, mas em breve poderei te ajudar melhor. Como posso te ajudar hoje?"
)

// DefaultAgents is returned when the backend cannot list its agents.
var DefaultAgents = []string{"onboarding", "sales", "support"}

type ChatRequest struct {
	UserID              string   `json:"user_id"`
	UserName            string   `json:"user_name"`
	Message             string   `json:"message"`
	ConversationHistory []string `json:"conversation_history"`
	RecommendedAgent    string   `json:"recommended_agent,omitempty"`
}

type ChatResponse struct {
	Response      string `json:"response"`
	AgentUsed     string `json:"agent_used"`
	ShouldHandoff bool   `json:"should_handoff"`
	NextAgent     string `json:"next_agent,omitempty"`
}

// Fallback is the canned reply used when the backend is unavailable.
func Fallback() ChatResponse {
	return ChatResponse{Response: FallbackResponse, AgentUsed: FallbackAgent}
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: chatTimeout,
		},
	}
}

// ProcessMessage sends one aggregated message to the backend. On any failure
// it returns the fallback reply together with the error, so callers can
// answer the user and still log what went wrong.
func (c *Client) ProcessMessage(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []string{}
	}

	var out ChatResponse
	if err := c.doJSON(ctx, "chat", http.MethodPost, "/chat", req, &out, chatTimeout); err != nil {
		utils.Zlog.Error("AI backend request failed, using fallback response",
			zap.String("user_id", req.UserID),
			zap.String("recommended_agent", req.RecommendedAgent),
			zap.Error(err))
		return Fallback(), err
	}
	if out.Response == "" {
		err := &Error{Op: "chat", Status: http.StatusOK, Err: errors.New("empty response")}
		return Fallback(), err
	}

	utils.Zlog.Info("AI backend replied",
		zap.String("user_id", req.UserID),
		zap.String("agent_used", out.AgentUsed),
		zap.Bool("should_handoff", out.ShouldHandoff),
		zap.Int("response_length", len(out.Response)))
	return out, nil
}

// CheckHealth reports whether GET /health answers 200.
func (c *Client) CheckHealth(ctx context.Context) error {
	return c.doJSON(ctx, "health", http.MethodGet, "/health", nil, nil, healthTimeout)
}

// AvailableAgents lists the backend's agents, falling back to DefaultAgents.
func (c *Client) AvailableAgents(ctx context.Context) []string {
	var out struct {
		Agents []string `json:"agents"`
	}
	if err := c.doJSON(ctx, "agents", http.MethodGet, "/agents", nil, &out, healthTimeout); err != nil {
		utils.Zlog.Warn("Failed to list AI agents, using defaults", zap.Error(err))
		return append([]string(nil), DefaultAgents...)
	}
	if out.Agents == nil {
		return []string{}
	}
	return out.Agents
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", bytes.TrimSpace(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
