package evolution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/debounce"
	"github.com/Conversly/whatsapp-gateway/internal/dispatch"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// Submitter buffers a message and waits for its aggregation cycle.
type Submitter interface {
	Submit(ctx context.Context, key, message string) (debounce.Result, error)
	QuietPeriod() time.Duration
}

type Dispatcher interface {
	Dispatch(ctx context.Context, in dispatch.Inbound) dispatch.Outcome
}

// Service turns webhook payloads into buffered messages and hands the
// aggregated result downstream.
type Service struct {
	coord      Submitter
	dispatcher Dispatcher
	keySuffix  string
}

func NewService(coord Submitter, dispatcher Dispatcher, keySuffix string) *Service {
	return &Service{coord: coord, dispatcher: dispatcher, keySuffix: keySuffix}
}

// Classify normalises payload and picks its route. Messages sent by the bot
// itself are routed to RouteIgnored and carry no processed message.
func (s *Service) Classify(payload *WebhookPayload) (Route, *ProcessedMessage) {
	data := payload.Data
	if data.Key.FromMe {
		return RouteIgnored, nil
	}

	msgType := DetermineMessageType(data.MessageType)
	route := msgType.Route()

	pm := &ProcessedMessage{
		ID:          uuid.NewString(),
		WAMessageID: data.Key.ID,
		UserNumber:  UserNumber(data.Key.RemoteJid),
		UserName:    data.PushName,
		MessageType: msgType,
		Content:     ExtractContent(data.Message, msgType),
		Timestamp:   data.MessageTimestamp,
		InstanceID:  data.InstanceID,
		Source:      data.Source,
		BufferKey:   BufferKey(data.Key.RemoteJid, data.PushName, s.keySuffix),
	}

	utils.Zlog.Info("Message type determined",
		zap.String("original_type", data.MessageType),
		zap.String("processed_type", string(msgType)),
		zap.String("route", string(route)),
		zap.String("wa_message_id", data.Key.ID),
		zap.String("user_number", pm.UserNumber))
	return route, pm
}

// Handle runs the route's processing. For text it blocks until the
// aggregation cycle the message joined resolves.
func (s *Service) Handle(ctx context.Context, route Route, pm *ProcessedMessage) {
	switch route {
	case RouteText:
		s.handleText(ctx, pm)
	case RouteAudio:
		utils.Zlog.Info("Audio message detected, transcription not available",
			zap.String("message_id", pm.ID),
			zap.String("audio_url", pm.Content))
	case RouteImage, RouteVideo:
		utils.Zlog.Info("Media message detected, analysis not available",
			zap.String("message_id", pm.ID),
			zap.String("route", string(route)),
			zap.String("media", pm.Content))
	case RouteFile:
		utils.Zlog.Info("Document message detected, download not available",
			zap.String("message_id", pm.ID),
			zap.String("document", pm.Content))
	case RouteExtra:
		utils.Zlog.Warn("Unsupported message type",
			zap.String("message_id", pm.ID),
			zap.String("user_number", pm.UserNumber))
	}
}

func (s *Service) handleText(ctx context.Context, pm *ProcessedMessage) {
	res, err := s.coord.Submit(ctx, pm.BufferKey, pm.Content)
	if err != nil {
		if errors.Is(err, debounce.ErrClosed) {
			utils.Zlog.Warn("Coordinator shut down, message dropped", zap.String("buffer_key", pm.BufferKey))
			return
		}
		utils.Zlog.Error("Failed to submit message for aggregation",
			zap.String("buffer_key", pm.BufferKey),
			zap.Error(err))
		return
	}
	if !res.ShouldProceed {
		utils.Zlog.Debug("Aggregation cycle produced nothing to dispatch",
			zap.String("buffer_key", pm.BufferKey))
		return
	}

	if !res.Leader {
		utils.Zlog.Debug("Message aggregated into a cycle dispatched by a later message",
			zap.String("buffer_key", pm.BufferKey),
			zap.String("message_id", pm.ID))
		return
	}

	s.dispatcher.Dispatch(ctx, dispatch.Inbound{
		Number:     pm.UserNumber,
		Name:       pm.UserName,
		BufferKey:  pm.BufferKey,
		Aggregated: res.AggregatedMessage,
		MessageID:  pm.WAMessageID,
	})
}
