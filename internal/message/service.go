// Package message provides deduplicated, idempotent message persistence.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/Joaopedrozoe/viainfra-sub001/internal/db"
)

// ErrDuplicate marks a message whose external id was already recorded. The
// gateway delivers at-least-once, so callers absorb this silently.
var ErrDuplicate = errors.New("duplicate message")

// Service persists and reads conversation messages.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "message")),
	}
}

// ExistsByExternalID reports whether a message with the given idempotency key
// is already recorded.
func (s *Service) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	if strings.TrimSpace(externalID) == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE external_id = $1)`,
		externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check external id: %w", err)
	}
	return exists, nil
}

// Persist records a message. A unique violation on external_id surfaces as
// ErrDuplicate so redeliveries that race the exists-check stay idempotent.
func (s *Service) Persist(ctx context.Context, in PersistInput) (Message, error) {
	if s.pool == nil {
		return Message{}, fmt.Errorf("message store not configured")
	}
	pgConversationID, err := dbpkg.ParseUUID(in.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	metadata, err := dbpkg.EncodeJSONMap(in.Metadata)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message metadata: %w", err)
	}
	var attachment []byte
	if in.Attachment != nil {
		attachment, err = json.Marshal(in.Attachment)
		if err != nil {
			return Message{}, fmt.Errorf("marshal attachment: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, content, sender_type, external_id, attachment, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, conversation_id, content, sender_type, external_id, attachment, metadata, created_at`,
		pgConversationID, in.Content, string(in.Sender), dbpkg.ToPgText(in.ExternalID), attachment, metadata,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return Message{}, ErrDuplicate
		}
		return Message{}, fmt.Errorf("persist message: %w", err)
	}
	return msg, nil
}

// HasRecentBotMessage reports whether a bot message was recorded in the
// conversation within the trailing window. Used as the anti-flood guard.
func (s *Service) HasRecentBotMessage(ctx context.Context, conversationID string, window time.Duration) (bool, error) {
	pgConversationID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return false, err
	}
	cutoff := time.Now().UTC().Add(-window)
	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE conversation_id = $1 AND sender_type = 'bot' AND created_at > $2
		)`,
		pgConversationID, cutoff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent bot message: %w", err)
	}
	return exists, nil
}

// ListByConversation returns up to limit messages, oldest first.
func (s *Service) ListByConversation(ctx context.Context, conversationID string, limit int32) ([]Message, error) {
	pgConversationID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, content, sender_type, external_id, attachment, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at
		LIMIT $2`,
		pgConversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id, conversationID pgtype.UUID
		content, sender    string
		externalID         pgtype.Text
		attachment         []byte
		metadata           []byte
		createdAt          pgtype.Timestamptz
	)
	if err := row.Scan(&id, &conversationID, &content, &sender, &externalID, &attachment, &metadata, &createdAt); err != nil {
		return Message{}, err
	}
	meta, err := dbpkg.DecodeJSONMap(metadata)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:             dbpkg.UUIDToString(id),
		ConversationID: dbpkg.UUIDToString(conversationID),
		Content:        content,
		Sender:         SenderType(sender),
		ExternalID:     dbpkg.TextToString(externalID),
		Metadata:       meta,
		CreatedAt:      dbpkg.TimeFromPg(createdAt),
	}
	if len(attachment) > 0 {
		var att Attachment
		if err := json.Unmarshal(attachment, &att); err != nil {
			return Message{}, fmt.Errorf("decode attachment: %w", err)
		}
		msg.Attachment = &att
	}
	return msg, nil
}
