package message

import "time"

// SenderType identifies who produced a message.
type SenderType string

const (
	SenderContact SenderType = "contact"
	SenderBot     SenderType = "bot"
	SenderAgent   SenderType = "agent"
)

// Attachment is durable media metadata stored alongside a message.
type Attachment struct {
	Type      string  `json:"type"`
	URL       string  `json:"url,omitempty"`
	Mime      string  `json:"mime,omitempty"`
	FileName  string  `json:"file_name,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Message is one persisted inbound or outbound message.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	Sender         SenderType
	ExternalID     string
	Attachment     *Attachment
	Metadata       map[string]any
	CreatedAt      time.Time
}

// PersistInput describes a message to record.
type PersistInput struct {
	ConversationID string
	Content        string
	Sender         SenderType
	ExternalID     string
	Attachment     *Attachment
	Metadata       map[string]any
}
