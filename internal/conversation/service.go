// Package conversation tracks the one active conversation per contact and
// channel.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/Joaopedrozoe/viainfra-sub001/internal/db"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Querier is the subset of pgxpool.Pool the service issues queries through.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Service manages conversation lifecycle and embedded flow state.
type Service struct {
	pool   Querier
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, pool Querier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "conversation")),
	}
}

const selectConversation = `
	SELECT id, company_id, contact_id, channel, status, assigned_operator_id,
	       last_message_at, metadata, created_at, updated_at
	FROM conversations`

// GetOrCreateActive returns the open or pending conversation for the contact
// and channel, creating one when none exists. Concurrent creation races are
// resolved by the partial unique index: a unique violation on insert triggers
// a re-read that returns the row the competing call created.
func (s *Service) GetOrCreateActive(ctx context.Context, companyID, contactID, channel string) (Conversation, error) {
	if s.pool == nil {
		return Conversation{}, fmt.Errorf("conversation store not configured")
	}
	conv, err := s.getActive(ctx, contactID, channel)
	if err == nil {
		return s.touch(ctx, conv)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, err
	}

	conv, err = s.insert(ctx, companyID, contactID, channel)
	if err == nil {
		return conv, nil
	}
	if !dbpkg.IsUniqueViolation(err) {
		return Conversation{}, err
	}

	// Lost the creation race; the competing event's row is the conversation.
	conv, err = s.getActive(ctx, contactID, channel)
	if err != nil {
		return Conversation{}, fmt.Errorf("re-read after conflict: %w", err)
	}
	return s.touch(ctx, conv)
}

func (s *Service) getActive(ctx context.Context, contactID, channel string) (Conversation, error) {
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx, selectConversation+`
		WHERE contact_id = $1 AND channel = $2 AND status IN ('open', 'pending')`,
		pgContactID, channel,
	)
	return scanConversation(row)
}

func (s *Service) insert(ctx context.Context, companyID, contactID, channel string) (Conversation, error) {
	pgCompanyID, err := dbpkg.ParseUUID(companyID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid company id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}
	metadata, err := dbpkg.EncodeJSONMap(nil)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (company_id, contact_id, channel, status, metadata)
		VALUES ($1, $2, $3, 'open', $4)
		RETURNING id, company_id, contact_id, channel, status, assigned_operator_id,
		          last_message_at, metadata, created_at, updated_at`,
		pgCompanyID, pgContactID, channel, metadata,
	)
	return scanConversation(row)
}

func (s *Service) touch(ctx context.Context, conv Conversation) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(conv.ID)
	if err != nil {
		return Conversation{}, err
	}
	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = $2, updated_at = now() WHERE id = $1`,
		pgID, now,
	); err != nil {
		return Conversation{}, fmt.Errorf("touch conversation: %w", err)
	}
	conv.LastMessageAt = now
	return conv, nil
}

// FindActive returns the open or pending conversation for the contact and
// channel without creating one.
func (s *Service) FindActive(ctx context.Context, contactID, channel string) (Conversation, error) {
	conv, err := s.getActive(ctx, contactID, channel)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// Get returns a conversation by id.
func (s *Service) Get(ctx context.Context, conversationID string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, selectConversation+` WHERE id = $1`, pgID)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// UpdateMetadata replaces the conversation metadata map (which embeds the
// flow state) and bumps last_message_at.
func (s *Service) UpdateMetadata(ctx context.Context, conversationID string, metadata map[string]any) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return err
	}
	encoded, err := dbpkg.EncodeJSONMap(metadata)
	if err != nil {
		return fmt.Errorf("marshal conversation metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE conversations
		SET metadata = $2, last_message_at = now(), updated_at = now()
		WHERE id = $1`,
		pgID, encoded,
	)
	if err != nil {
		return fmt.Errorf("update conversation metadata: %w", err)
	}
	return nil
}

// Handoff flips a conversation to pending and assigns an operator. An empty
// operatorID leaves the conversation unassigned in the pending queue.
func (s *Service) Handoff(ctx context.Context, conversationID, operatorID string) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return err
	}
	pgOperatorID := pgtype.UUID{}
	if operatorID != "" {
		pgOperatorID, err = dbpkg.ParseUUID(operatorID)
		if err != nil {
			return fmt.Errorf("invalid operator id: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE conversations
		SET status = 'pending', assigned_operator_id = $2, updated_at = now()
		WHERE id = $1`,
		pgID, pgOperatorID,
	)
	if err != nil {
		return fmt.Errorf("handoff conversation: %w", err)
	}
	return nil
}

// ResolveStale closes open bot conversations with no traffic for longer than
// ttl, freeing the active-conversation slot. Pending (human) conversations
// are untouched.
func (s *Service) ResolveStale(ctx context.Context, companyID string, ttl time.Duration) (int64, error) {
	pgCompanyID, err := dbpkg.ParseUUID(companyID)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-ttl)
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET status = 'resolved', updated_at = now()
		WHERE company_id = $1 AND status = 'open' AND last_message_at < $2`,
		pgCompanyID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("resolve stale conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		id, companyID, contactID pgtype.UUID
		channel, status          string
		assignedOperatorID       pgtype.UUID
		lastMessageAt            pgtype.Timestamptz
		metadata                 []byte
		createdAt, updatedAt     pgtype.Timestamptz
	)
	if err := row.Scan(&id, &companyID, &contactID, &channel, &status, &assignedOperatorID,
		&lastMessageAt, &metadata, &createdAt, &updatedAt); err != nil {
		return Conversation{}, err
	}
	meta, err := dbpkg.DecodeJSONMap(metadata)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:                 dbpkg.UUIDToString(id),
		CompanyID:          dbpkg.UUIDToString(companyID),
		ContactID:          dbpkg.UUIDToString(contactID),
		Channel:            channel,
		Status:             Status(status),
		AssignedOperatorID: dbpkg.UUIDToString(assignedOperatorID),
		LastMessageAt:      dbpkg.TimeFromPg(lastMessageAt),
		Metadata:           meta,
		CreatedAt:          dbpkg.TimeFromPg(createdAt),
		UpdatedAt:          dbpkg.TimeFromPg(updatedAt),
	}, nil
}
