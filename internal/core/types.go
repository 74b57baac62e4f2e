package core

import (
	"context"

	"github.com/Conversly/whatsapp-gateway/internal/loaders"
)

// Channel represents the message channel type
type Channel string

const (
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Role of a persisted message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageWriter is the persistence the saver flushes into.
// *loaders.PostgresClient satisfies it.
type MessageWriter interface {
	BatchInsertMessages(ctx context.Context, rows []loaders.MessageRow) error
}

// MessageRecord represents a message to be saved
type MessageRecord struct {
	BufferKey       string
	Phone           string
	Message         string
	Role            string // user | assistant
	Agent           string
	MessageUID      string
	Channel         Channel
	ChannelMetadata map[string]interface{} // Optional channel-specific metadata
}
