package evolution

// WebhookPayload is the body Evolution API posts for a messages.upsert event.
type WebhookPayload struct {
	Event       string      `json:"event" binding:"required"`
	Instance    string      `json:"instance" binding:"required"`
	Data        MessageData `json:"data" binding:"required"`
	Destination string      `json:"destination,omitempty"`
	DateTime    string      `json:"date_time,omitempty"`
	Sender      string      `json:"sender,omitempty"`
	ServerURL   string      `json:"server_url,omitempty"`
	APIKey      string      `json:"apikey,omitempty"`
}

type MessageData struct {
	Key              MessageKey     `json:"key" binding:"required"`
	PushName         string         `json:"pushName"`
	Message          MessageContent `json:"message"`
	MessageType      string         `json:"messageType" binding:"required"`
	MessageTimestamp int64          `json:"messageTimestamp" binding:"required"`
	InstanceID       string         `json:"instanceId"`
	Source           string         `json:"source" binding:"omitempty,oneof=ios android web"`
}

type MessageKey struct {
	RemoteJid string `json:"remoteJid" binding:"required"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id" binding:"required"`
}

type MessageContent struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	AudioMessage        *MediaMessage        `json:"audioMessage,omitempty"`
	ImageMessage        *MediaMessage        `json:"imageMessage,omitempty"`
	VideoMessage        *MediaMessage        `json:"videoMessage,omitempty"`
	DocumentMessage     *MediaMessage        `json:"documentMessage,omitempty"`
}

type ExtendedTextMessage struct {
	Text string `json:"text"`
}

type MediaMessage struct {
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Title    string `json:"title,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// ProcessedMessage is the normalised view of one inbound message.
type ProcessedMessage struct {
	ID          string      `json:"id"`
	WAMessageID string      `json:"waMessageId"`
	UserNumber  string      `json:"userNumber"`
	UserName    string      `json:"userName"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content"`
	Timestamp   int64       `json:"timestamp"`
	InstanceID  string      `json:"instanceId"`
	Source      string      `json:"source"`
	BufferKey   string      `json:"bufferKey"`
}

// WebhookResult is the data block of a successful webhook response.
type WebhookResult struct {
	Route             Route       `json:"route"`
	MessageID         string      `json:"messageId,omitempty"`
	MessageType       MessageType `json:"messageType,omitempty"`
	UserNumber        string      `json:"userNumber,omitempty"`
	NextAction        string      `json:"nextAction"`
	ActionDescription string      `json:"actionDescription"`
}
