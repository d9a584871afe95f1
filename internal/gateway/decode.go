package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload marks webhook bodies that cannot be decoded at all.
var ErrMalformedPayload = errors.New("malformed webhook payload")

type webhookEnvelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type rawMessageData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	Message          json.RawMessage `json:"message"`
	MessageTimestamp int64           `json:"messageTimestamp"`
}

type rawMessageContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *rawMediaContent `json:"imageMessage"`
	VideoMessage    *rawMediaContent `json:"videoMessage"`
	AudioMessage    *rawMediaContent `json:"audioMessage"`
	DocumentMessage *rawMediaContent `json:"documentMessage"`
	LocationMessage *struct {
		Latitude  float64 `json:"degreesLatitude"`
		Longitude float64 `json:"degreesLongitude"`
		Name      string  `json:"name"`
	} `json:"locationMessage"`
}

type rawMediaContent struct {
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// NormalizeEventName folds provider event-name variants into one canonical
// form: lower-case with underscores replaced by dots, so MESSAGES_UPSERT,
// messages_upsert and messages.upsert all dispatch identically.
func NormalizeEventName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", ".")
}

// DecodeWebhook decodes a raw webhook body into zero or more canonical
// message events. Bodies missing event or instance are rejected with
// ErrMalformedPayload; recognized envelopes carrying unknown event types
// yield an empty slice.
func DecodeWebhook(body []byte) ([]MessageEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(envelope.Event) == "" || strings.TrimSpace(envelope.Instance) == "" {
		return nil, fmt.Errorf("%w: event and instance are required", ErrMalformedPayload)
	}

	if NormalizeEventName(envelope.Event) != EventMessagesUpsert {
		return nil, nil
	}

	items, err := splitDataItems(envelope.Data)
	if err != nil {
		return nil, err
	}

	events := make([]MessageEvent, 0, len(items))
	for _, item := range items {
		event, ok := decodeMessageItem(envelope.Instance, item)
		if !ok {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// splitDataItems accepts data as a single object or an array of objects.
func splitDataItems(data json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: data array: %v", ErrMalformedPayload, err)
		}
		return items, nil
	}
	return []json.RawMessage{data}, nil
}

func decodeMessageItem(instance string, item json.RawMessage) (MessageEvent, bool) {
	var raw rawMessageData
	if err := json.Unmarshal(item, &raw); err != nil {
		return MessageEvent{}, false
	}
	if strings.TrimSpace(raw.Key.ID) == "" || strings.TrimSpace(raw.Key.RemoteJID) == "" {
		return MessageEvent{}, false
	}

	event := MessageEvent{
		Instance:   instance,
		ExternalID: raw.Key.ID,
		RemoteJID:  raw.Key.RemoteJID,
		FromMe:     raw.Key.FromMe,
		PushName:   strings.TrimSpace(raw.PushName),
	}
	if raw.MessageTimestamp > 0 {
		event.Timestamp = time.Unix(raw.MessageTimestamp, 0).UTC()
	}

	var content rawMessageContent
	if len(raw.Message) > 0 {
		// Content decoding is best-effort: an unrecognized message shape
		// still produces an event with empty text.
		_ = json.Unmarshal(raw.Message, &content)
	}

	switch {
	case content.Conversation != "":
		event.Text = content.Conversation
	case content.ExtendedTextMessage != nil:
		event.Text = content.ExtendedTextMessage.Text
	case content.ImageMessage != nil:
		event.Text = content.ImageMessage.Caption
		event.Media = mediaRef(AttachmentImage, content.ImageMessage, item)
	case content.VideoMessage != nil:
		event.Text = content.VideoMessage.Caption
		event.Media = mediaRef(AttachmentVideo, content.VideoMessage, item)
	case content.AudioMessage != nil:
		event.Media = mediaRef(AttachmentAudio, content.AudioMessage, item)
	case content.DocumentMessage != nil:
		event.Text = content.DocumentMessage.Caption
		event.Media = mediaRef(AttachmentDocument, content.DocumentMessage, item)
	case content.LocationMessage != nil:
		event.Media = &MediaRef{
			Kind:      AttachmentLocation,
			Latitude:  content.LocationMessage.Latitude,
			Longitude: content.LocationMessage.Longitude,
		}
		event.Text = content.LocationMessage.Name
	}
	return event, true
}

func mediaRef(kind AttachmentKind, raw *rawMediaContent, envelope json.RawMessage) *MediaRef {
	return &MediaRef{
		Kind:     kind,
		Mime:     strings.TrimSpace(raw.Mimetype),
		FileName: strings.TrimSpace(raw.FileName),
		URL:      strings.TrimSpace(raw.URL),
		Envelope: envelope,
	}
}
