// Package operators looks up human operators for conversation handoff.
package operators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/Joaopedrozoe/viainfra-sub001/internal/db"
)

// ErrNoneAvailable is returned when no active operator exists.
var ErrNoneAvailable = errors.New("no operator available")

// Operator is a human agent who can take over a conversation.
type Operator struct {
	ID        string
	CompanyID string
	Name      string
	Email     string
	IsActive  bool
	CreatedAt time.Time
}

// Service reads operators.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates an operators service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "operators")),
	}
}

// FirstAvailable returns the first active operator for a company. Assignment
// is first-match; there is no load balancing.
func (s *Service) FirstAvailable(ctx context.Context, companyID string) (Operator, error) {
	pgCompanyID, err := dbpkg.ParseUUID(companyID)
	if err != nil {
		return Operator{}, err
	}
	var (
		id        pgtype.UUID
		company   pgtype.UUID
		name      string
		email     string
		isActive  bool
		createdAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, `
		SELECT id, company_id, name, email, is_active, created_at
		FROM operators
		WHERE company_id = $1 AND is_active
		ORDER BY created_at
		LIMIT 1`,
		pgCompanyID,
	).Scan(&id, &company, &name, &email, &isActive, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operator{}, ErrNoneAvailable
	}
	if err != nil {
		return Operator{}, fmt.Errorf("lookup operator: %w", err)
	}
	return Operator{
		ID:        dbpkg.UUIDToString(id),
		CompanyID: dbpkg.UUIDToString(company),
		Name:      name,
		Email:     email,
		IsActive:  isActive,
		CreatedAt: dbpkg.TimeFromPg(createdAt),
	}, nil
}
