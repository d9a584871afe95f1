// Package router orchestrates the inbound pipeline: webhook events in,
// contact and conversation resolution, flow stepping, bot replies out.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/contacts"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/conversation"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/flow"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/gateway"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/media"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/message"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/operators"
)

// A flow turn may chain external calls (fetch options, then create a ticket);
// the chain is bounded so a malformed graph cannot spin.
const maxExternalCalls = 3

// ContactResolver maps a raw sender address to a stable contact.
type ContactResolver interface {
	Resolve(ctx context.Context, in contacts.ResolveInput) (contacts.Contact, error)
	Find(ctx context.Context, in contacts.ResolveInput) (contacts.Contact, error)
}

// ConversationStore manages the active conversation and its metadata.
type ConversationStore interface {
	GetOrCreateActive(ctx context.Context, companyID, contactID, channel string) (conversation.Conversation, error)
	FindActive(ctx context.Context, contactID, channel string) (conversation.Conversation, error)
	UpdateMetadata(ctx context.Context, conversationID string, metadata map[string]any) error
	Handoff(ctx context.Context, conversationID, operatorID string) error
}

// MessageStore persists messages and answers dedup and anti-flood queries.
type MessageStore interface {
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	Persist(ctx context.Context, in message.PersistInput) (message.Message, error)
	HasRecentBotMessage(ctx context.Context, conversationID string, window time.Duration) (bool, error)
}

// MediaRelocator moves gateway-hosted media to durable storage, best-effort.
type MediaRelocator interface {
	Relocate(ctx context.Context, instance string, ref gateway.MediaRef) (media.Relocated, bool)
}

// FlowSource loads the active flow graph for a company and channel.
type FlowSource interface {
	Active(ctx context.Context, companyID, channel string) (*flow.Graph, error)
}

// ActionRunner executes the external calls flows suspend on.
type ActionRunner interface {
	Execute(ctx context.Context, conversationID string, req flow.CallRequest) flow.CallResult
}

// OperatorDirectory finds a human operator for handoff.
type OperatorDirectory interface {
	FirstAvailable(ctx context.Context, companyID string) (operators.Operator, error)
}

// Sender delivers outbound text through the gateway.
type Sender interface {
	SendText(ctx context.Context, instance, number, text string) error
}

// Processor runs the full inbound pipeline for one company and channel.
type Processor struct {
	companyID  string
	channel    string
	resetToken string
	antiFlood  time.Duration

	contacts      ContactResolver
	conversations ConversationStore
	messages      MessageStore
	media         MediaRelocator
	flows         FlowSource
	actions       ActionRunner
	operators     OperatorDirectory
	sender        Sender
	logger        *slog.Logger
}

// Config carries the per-deployment pipeline settings.
type Config struct {
	CompanyID  string
	Channel    string
	ResetToken string
	AntiFlood  time.Duration
}

// NewProcessor wires the pipeline.
func NewProcessor(
	log *slog.Logger,
	cfg Config,
	contactsSvc ContactResolver,
	conversations ConversationStore,
	messages MessageStore,
	mediaSvc MediaRelocator,
	flows FlowSource,
	actions ActionRunner,
	operatorsSvc OperatorDirectory,
	sender Sender,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		companyID:     cfg.CompanyID,
		channel:       cfg.Channel,
		resetToken:    cfg.ResetToken,
		antiFlood:     cfg.AntiFlood,
		contacts:      contactsSvc,
		conversations: conversations,
		messages:      messages,
		media:         mediaSvc,
		flows:         flows,
		actions:       actions,
		operators:     operatorsSvc,
		sender:        sender,
		logger:        log.With(slog.String("service", "router")),
	}
}

// ProcessBatch runs every event in a delivery. A failing event is logged and
// does not stop the rest of the batch; the joined error lets the caller signal
// the gateway to redeliver, which dedup then absorbs.
func (p *Processor) ProcessBatch(ctx context.Context, events []gateway.MessageEvent) error {
	var failures []error
	for _, event := range events {
		if err := p.ProcessEvent(ctx, event); err != nil {
			p.logger.Error("Event processing failed",
				slog.String("external_id", event.ExternalID),
				slog.String("remote_jid", event.RemoteJID),
				slog.String("error", err.Error()),
			)
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// ProcessEvent runs one inbound message through the pipeline.
func (p *Processor) ProcessEvent(ctx context.Context, event gateway.MessageEvent) error {
	// Echoes of our own outbound sends come back through the webhook too.
	if event.FromMe {
		return p.recordEcho(ctx, event)
	}

	exists, err := p.messages.ExistsByExternalID(ctx, event.ExternalID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		p.logger.Debug("Duplicate delivery skipped", slog.String("external_id", event.ExternalID))
		return nil
	}

	contact, err := p.contacts.Resolve(ctx, contacts.ResolveInput{
		CompanyID: p.companyID,
		Instance:  event.Instance,
		RemoteJID: event.RemoteJID,
		PushName:  event.PushName,
	})
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	conv, err := p.conversations.GetOrCreateActive(ctx, p.companyID, contact.ID, p.channel)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	inbound := message.PersistInput{
		ConversationID: conv.ID,
		Content:        event.Text,
		Sender:         message.SenderContact,
		ExternalID:     event.ExternalID,
		Attachment:     p.buildAttachment(ctx, event),
	}
	if _, err := p.messages.Persist(ctx, inbound); err != nil {
		if errors.Is(err, message.ErrDuplicate) {
			// A concurrent delivery won the insert race.
			return nil
		}
		return fmt.Errorf("persist inbound: %w", err)
	}

	// Pending conversations belong to a human; the bot stays silent.
	if conv.Status == conversation.StatusPending {
		return nil
	}

	if p.antiFlood > 0 {
		recent, err := p.messages.HasRecentBotMessage(ctx, conv.ID, p.antiFlood)
		if err != nil {
			return fmt.Errorf("anti-flood check: %w", err)
		}
		if recent {
			p.logger.Debug("Anti-flood window active", slog.String("conversation_id", conv.ID))
			return nil
		}
	}

	graph, err := p.flows.Active(ctx, p.companyID, p.channel)
	if errors.Is(err, flow.ErrNoFlow) {
		p.logger.Debug("No active flow", slog.String("channel", p.channel))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load flow: %w", err)
	}

	engine := flow.NewEngine(graph, p.resetToken)
	state := flow.StateFromMetadata(conv.Metadata)
	result := engine.Step(state, event.Text)

	var replies []string
	for calls := 0; result.ExternalCall != nil && calls < maxExternalCalls; calls++ {
		if result.Reply != "" {
			replies = append(replies, result.Reply)
		}
		callResult := p.actions.Execute(ctx, conv.ID, *result.ExternalCall)
		result = engine.Resume(result.State, callResult)
	}
	if result.Reply != "" {
		replies = append(replies, result.Reply)
	}

	if result.Handoff {
		p.handoff(ctx, conv.ID)
	}

	if err := p.conversations.UpdateMetadata(ctx, conv.ID, result.State.Embed(conv.Metadata)); err != nil {
		return fmt.Errorf("persist flow state: %w", err)
	}

	reply := strings.Join(replies, "\n\n")
	if reply == "" {
		return nil
	}
	if _, err := p.messages.Persist(ctx, message.PersistInput{
		ConversationID: conv.ID,
		Content:        reply,
		Sender:         message.SenderBot,
	}); err != nil {
		return fmt.Errorf("persist outbound: %w", err)
	}
	// Delivery is fire-and-forget relative to the webhook response: the turn
	// is already recorded and a 500 here would only replay the inbound.
	if err := p.sender.SendText(ctx, event.Instance, p.destination(contact, event), reply); err != nil {
		p.logger.Error("Reply delivery failed",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// recordEcho handles fromMe events. Bot replies are recorded at send time, so
// echoes matter only for conversations a human owns: an operator answering
// through the gateway directly still lands in the transcript.
func (p *Processor) recordEcho(ctx context.Context, event gateway.MessageEvent) error {
	if event.ExternalID == "" {
		return nil
	}
	exists, err := p.messages.ExistsByExternalID(ctx, event.ExternalID)
	if err != nil || exists {
		return err
	}

	contact, err := p.contacts.Find(ctx, contacts.ResolveInput{
		CompanyID: p.companyID,
		Instance:  event.Instance,
		RemoteJID: event.RemoteJID,
	})
	if errors.Is(err, contacts.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find echo contact: %w", err)
	}

	conv, err := p.conversations.FindActive(ctx, contact.ID, p.channel)
	if errors.Is(err, conversation.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find echo conversation: %w", err)
	}
	if conv.Status != conversation.StatusPending {
		return nil
	}

	if _, err := p.messages.Persist(ctx, message.PersistInput{
		ConversationID: conv.ID,
		Content:        event.Text,
		Sender:         message.SenderAgent,
		ExternalID:     event.ExternalID,
		Attachment:     p.buildAttachment(ctx, event),
	}); err != nil && !errors.Is(err, message.ErrDuplicate) {
		return fmt.Errorf("persist echo: %w", err)
	}
	return nil
}

// handoff assigns the first available operator; no operator available still
// parks the conversation unassigned in the pending queue.
func (p *Processor) handoff(ctx context.Context, conversationID string) {
	operatorID := ""
	operator, err := p.operators.FirstAvailable(ctx, p.companyID)
	switch {
	case err == nil:
		operatorID = operator.ID
	case errors.Is(err, operators.ErrNoneAvailable):
		p.logger.Warn("Handoff with no operator available", slog.String("conversation_id", conversationID))
	default:
		p.logger.Error("Operator lookup failed", slog.String("error", err.Error()))
	}
	if err := p.conversations.Handoff(ctx, conversationID, operatorID); err != nil {
		p.logger.Error("Handoff failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}
}

// buildAttachment converts inbound media into durable attachment metadata.
// Relocation failure keeps the original gateway URL, which may expire.
func (p *Processor) buildAttachment(ctx context.Context, event gateway.MessageEvent) *message.Attachment {
	if event.Media == nil {
		return nil
	}
	ref := *event.Media
	attachment := &message.Attachment{
		Type:      string(ref.Kind),
		URL:       ref.URL,
		Mime:      ref.Mime,
		FileName:  ref.FileName,
		Latitude:  ref.Latitude,
		Longitude: ref.Longitude,
	}
	if ref.Kind == gateway.AttachmentLocation {
		return attachment
	}
	if relocated, ok := p.media.Relocate(ctx, event.Instance, ref); ok {
		attachment.URL = relocated.URL
		attachment.Mime = relocated.Mime
	}
	return attachment
}

// destination prefers the canonical phone-derived address; opaque-only
// contacts fall back to the raw sender address.
func (p *Processor) destination(contact contacts.Contact, event gateway.MessageEvent) string {
	if contact.Phone != "" {
		return contacts.PhoneToAddress(contact.Phone)
	}
	return event.RemoteJID
}
