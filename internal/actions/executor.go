// Package actions executes the external calls flows suspend on.
package actions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/flow"
)

// OptionsFetcher retrieves a dynamic option list from an external endpoint.
type OptionsFetcher interface {
	FetchOptions(ctx context.Context, url string) ([]string, error)
}

// TicketCreator submits a ticket to the external system.
type TicketCreator interface {
	CreateTicket(ctx context.Context, url string, fields map[string]string) (string, error)
}

// TicketStore persists the local mirror of a created ticket.
type TicketStore interface {
	CreateMirror(ctx context.Context, conversationID, externalRef string, fields map[string]string) error
}

// Executor resolves flow call requests against the ticketing system.
type Executor struct {
	fetcher OptionsFetcher
	creator TicketCreator
	store   TicketStore
	logger  *slog.Logger
}

// NewExecutor creates an action executor.
func NewExecutor(log *slog.Logger, fetcher OptionsFetcher, creator TicketCreator, store TicketStore) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		fetcher: fetcher,
		creator: creator,
		store:   store,
		logger:  log.With(slog.String("service", "actions")),
	}
}

// Execute runs one external call on behalf of a suspended flow. Option
// fetches fail the call so the flow can apologize and reset. Ticket creation
// never fails the call: an unreachable or unparseable ticketing system
// degrades to a locally generated reference, and the local mirror row is
// written either way.
func (e *Executor) Execute(ctx context.Context, conversationID string, req flow.CallRequest) flow.CallResult {
	switch req.Mode {
	case flow.ModeFetchOptions:
		options, err := e.fetcher.FetchOptions(ctx, req.URL)
		if err != nil {
			e.logger.Warn("Option fetch failed",
				slog.String("node", req.NodeID),
				slog.String("error", err.Error()),
			)
			return flow.CallResult{Failed: true}
		}
		return flow.CallResult{Options: options}

	case flow.ModeCreateTicket:
		ref, err := e.creator.CreateTicket(ctx, req.URL, req.Fields)
		if err != nil || strings.TrimSpace(ref) == "" {
			if err != nil {
				e.logger.Warn("Ticket creation failed, using local reference",
					slog.String("node", req.NodeID),
					slog.String("error", err.Error()),
				)
			}
			ref = LocalReference()
		}
		if err := e.store.CreateMirror(ctx, conversationID, ref, req.Fields); err != nil {
			e.logger.Error("Ticket mirror write failed",
				slog.String("conversation_id", conversationID),
				slog.String("reference", ref),
				slog.String("error", err.Error()),
			)
		}
		return flow.CallResult{Reference: ref}

	default:
		e.logger.Error("Unknown call mode", slog.String("mode", string(req.Mode)))
		return flow.CallResult{Failed: true}
	}
}

// LocalReference generates a fallback ticket reference.
func LocalReference() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "VIA-00000000"
	}
	return fmt.Sprintf("VIA-%s", strings.ToUpper(hex.EncodeToString(buf[:])))
}
