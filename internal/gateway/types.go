// Package gateway integrates with the messaging gateway: it decodes inbound
// webhook payloads into canonical events and sends outbound messages.
package gateway

import (
	"encoding/json"
	"time"
)

// Event names after normalization (lower-case, "_" folded to ".").
const (
	EventMessagesUpsert = "messages.upsert"
)

// AttachmentKind classifies inbound media.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentDocument AttachmentKind = "document"
	AttachmentLocation AttachmentKind = "location"
)

// MediaRef references gateway-hosted, time-limited media attached to a message.
// Envelope retains the raw message payload required by the media fetch call.
type MediaRef struct {
	Kind      AttachmentKind
	Mime      string
	FileName  string
	URL       string
	Latitude  float64
	Longitude float64
	Envelope  json.RawMessage
}

// MessageEvent is one canonical inbound message extracted from a webhook
// delivery.
type MessageEvent struct {
	Instance   string
	ExternalID string
	RemoteJID  string
	FromMe     bool
	PushName   string
	Text       string
	Media      *MediaRef
	Timestamp  time.Time
}

// MediaBlob is the decoded result of a gateway media fetch.
type MediaBlob struct {
	Data []byte
	Mime string
}
