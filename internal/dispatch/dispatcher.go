// Package dispatch hands aggregated messages to the AI backend and routes
// the reply back to the user.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/clients/aiagent"
	"github.com/Conversly/whatsapp-gateway/internal/clients/evolution"
	"github.com/Conversly/whatsapp-gateway/internal/core"
	"github.com/Conversly/whatsapp-gateway/internal/directory"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

type UserDirectory interface {
	CheckUserStatus(ctx context.Context, phone, pushName string) directory.UserStatus
}

type AIAgent interface {
	ProcessMessage(ctx context.Context, req aiagent.ChatRequest) (aiagent.ChatResponse, error)
}

type Sender interface {
	SendText(ctx context.Context, phone, text string) (evolution.SendResult, error)
}

// Inbound is one aggregated message released by the debounce coordinator.
type Inbound struct {
	Number     string
	Name       string
	BufferKey  string
	Aggregated string
	MessageID  string
}

// Outcome summarises a dispatch for logging and tests.
type Outcome struct {
	Status    directory.UserStatus
	Reply     aiagent.ChatResponse
	Fallback  bool
	Delivered bool
}

type Options struct {
	SendReplies bool
	// Messages is where user and assistant turns are persisted; nil disables it.
	Messages core.MessageWriter
}

type Dispatcher struct {
	users  UserDirectory
	ai     AIAgent
	sender Sender
	opts   Options
}

func New(users UserDirectory, ai AIAgent, sender Sender, opts Options) *Dispatcher {
	return &Dispatcher{users: users, ai: ai, sender: sender, opts: opts}
}

// Dispatch runs the downstream pipeline for one aggregated message.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) Outcome {
	start := time.Now()

	status := d.users.CheckUserStatus(ctx, in.Number, in.Name)
	name := status.DisplayName(in.Name)

	reply, err := d.ai.ProcessMessage(ctx, aiagent.ChatRequest{
		UserID:           in.Number,
		UserName:         name,
		Message:          in.Aggregated,
		RecommendedAgent: status.RecommendedAgent,
	})
	out := Outcome{Status: status, Reply: reply, Fallback: err != nil}
	if err != nil {
		utils.Zlog.Warn("AI backend unavailable, replying with fallback",
			zap.String("buffer_key", in.BufferKey),
			zap.Error(err))
	}

	if d.opts.Messages != nil {
		meta := map[string]interface{}{"recommended_agent": status.RecommendedAgent}
		if in.MessageID != "" {
			meta["wa_message_id"] = in.MessageID
		}
		core.SaveConversationMessagesBackground(d.opts.Messages,
			core.MessageRecord{
				BufferKey:       in.BufferKey,
				Phone:           in.Number,
				Message:         in.Aggregated,
				Role:            core.RoleUser,
				Channel:         core.ChannelWhatsApp,
				ChannelMetadata: meta,
			},
			core.MessageRecord{
				BufferKey: in.BufferKey,
				Phone:     in.Number,
				Message:   reply.Response,
				Role:      core.RoleAssistant,
				Agent:     reply.AgentUsed,
				Channel:   core.ChannelWhatsApp,
				ChannelMetadata: map[string]interface{}{
					"should_handoff": reply.ShouldHandoff,
					"next_agent":     reply.NextAgent,
				},
			},
		)
	}

	if d.opts.SendReplies && d.sender != nil {
		if _, err := d.sender.SendText(ctx, in.Number, reply.Response); err != nil {
			utils.Zlog.Error("Failed to deliver reply",
				zap.String("buffer_key", in.BufferKey),
				zap.Error(err))
		} else {
			out.Delivered = true
		}
	}

	utils.Zlog.Info("Aggregated message dispatched",
		zap.String("buffer_key", in.BufferKey),
		zap.String("recommended_agent", status.RecommendedAgent),
		zap.String("agent_used", reply.AgentUsed),
		zap.Bool("fallback", out.Fallback),
		zap.Bool("delivered", out.Delivered),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()))
	return out
}
