package evolution

type MessageType string

const (
	TypeText        MessageType = "text"
	TypeAudio       MessageType = "audio"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeDocument    MessageType = "document"
	TypeUnsupported MessageType = "unsupported"
)

// Route names the processing branch a message takes.
type Route string

const (
	RouteText    Route = "texto"
	RouteAudio   Route = "audio"
	RouteImage   Route = "image"
	RouteVideo   Route = "video"
	RouteFile    Route = "file"
	RouteExtra   Route = "extra"
	RouteIgnored Route = "ignored"
)

type NextAction struct {
	Action      string `json:"action"`
	Description string `json:"description"`
}

// DetermineMessageType maps Evolution's messageType onto the types handled here.
func DetermineMessageType(messageType string) MessageType {
	switch messageType {
	case "conversation", "extendedTextMessage":
		return TypeText
	case "audioMessage":
		return TypeAudio
	case "imageMessage":
		return TypeImage
	case "videoMessage":
		return TypeVideo
	case "documentMessage", "file":
		return TypeDocument
	default:
		return TypeUnsupported
	}
}

func (t MessageType) Supported() bool {
	return t != TypeUnsupported
}

func (t MessageType) Route() Route {
	switch t {
	case TypeText:
		return RouteText
	case TypeAudio:
		return RouteAudio
	case TypeImage:
		return RouteImage
	case TypeVideo:
		return RouteVideo
	case TypeDocument:
		return RouteFile
	default:
		return RouteExtra
	}
}

func (r Route) NextAction() NextAction {
	switch r {
	case RouteAudio:
		return NextAction{"download_and_transcribe", "Download audio file and transcribe it"}
	case RouteText:
		return NextAction{"process_text", "Process text message directly"}
	case RouteImage:
		return NextAction{"download_and_analyze", "Download image and analyze content"}
	case RouteVideo:
		return NextAction{"download_and_analyze", "Download video and analyze content"}
	case RouteFile:
		return NextAction{"download_document", "Download and process document"}
	case RouteExtra:
		return NextAction{"send_unsupported_message", "Send error message for unsupported type"}
	case RouteIgnored:
		return NextAction{"none", "Message sent by the bot itself"}
	default:
		return NextAction{"unknown", "Unknown action required"}
	}
}

// ExtractContent returns the text, caption, title or media URL for t.
func ExtractContent(m MessageContent, t MessageType) string {
	switch t {
	case TypeText:
		if m.Conversation != "" {
			return m.Conversation
		}
		if m.ExtendedTextMessage != nil {
			return m.ExtendedTextMessage.Text
		}
	case TypeAudio:
		if m.AudioMessage != nil {
			return m.AudioMessage.URL
		}
	case TypeImage:
		return captionOrURL(m.ImageMessage)
	case TypeVideo:
		return captionOrURL(m.VideoMessage)
	case TypeDocument:
		if m.DocumentMessage != nil {
			if m.DocumentMessage.Title != "" {
				return m.DocumentMessage.Title
			}
			return m.DocumentMessage.URL
		}
	}
	return ""
}

func captionOrURL(m *MediaMessage) string {
	if m == nil {
		return ""
	}
	if m.Caption != "" {
		return m.Caption
	}
	return m.URL
}
