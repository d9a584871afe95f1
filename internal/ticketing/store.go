package ticketing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/Joaopedrozoe/viainfra-sub001/internal/db"
)

// Store persists local mirrors of externally created tickets, linked to the
// originating conversation.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a ticket mirror store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateMirror records the local mirror row for an external ticket.
func (s *Store) CreateMirror(ctx context.Context, conversationID, externalRef string, fields map[string]string) error {
	pgConversationID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		payload[k] = v
	}
	encoded, err := dbpkg.EncodeJSONMap(payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tickets (conversation_id, external_ref, fields)
		VALUES ($1, $2, $3)`,
		pgConversationID, externalRef, encoded,
	)
	if err != nil {
		return fmt.Errorf("create ticket mirror: %w", err)
	}
	return nil
}
