// Package contacts resolves raw sender addresses to stable contact identities.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/Joaopedrozoe/viainfra-sub001/internal/db"
)

const avatarFetchTimeout = 15 * time.Second

// ErrNotFound is returned by lookup-only paths when no contact matches.
var ErrNotFound = errors.New("contact not found")

// AvatarFetcher looks up a contact avatar URL; used best-effort.
type AvatarFetcher interface {
	FetchProfilePicture(ctx context.Context, instance, number string) (string, error)
}

// Querier is the subset of pgxpool.Pool the service issues queries through.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Service resolves and persists contacts.
type Service struct {
	pool    Querier
	avatars AvatarFetcher
	logger  *slog.Logger
}

// NewService creates a contacts service. avatars may be nil.
func NewService(log *slog.Logger, pool Querier, avatars AvatarFetcher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:    pool,
		avatars: avatars,
		logger:  log.With(slog.String("service", "contacts")),
	}
}

// Resolve maps a raw sender address plus optional display name to a contact.
// Resolution order, first match wins: exact phone, exact remote identifier,
// name match pending a phone, create new. A trustworthy phone observed for a
// contact that had none is written back in place so opaque-address contacts
// never fork into duplicates.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (Contact, error) {
	if s.pool == nil {
		return Contact{}, fmt.Errorf("contacts store not configured")
	}
	addr := ParseAddress(in.RemoteJID)
	if addr.Raw == "" {
		return Contact{}, fmt.Errorf("sender address is required")
	}

	if addr.Phone != "" {
		contact, err := s.getByPhone(ctx, in.CompanyID, addr.Phone)
		if err == nil {
			return s.refresh(ctx, contact, addr, in)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, err
		}
	}

	contact, err := s.getByRemoteJID(ctx, in.CompanyID, addr.Raw)
	if err == nil {
		return s.refresh(ctx, contact, addr, in)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, err
	}

	// A contact first seen through an opaque address has no phone yet; when a
	// trustworthy phone arrives under the same display name, complete the
	// pair instead of creating a duplicate.
	if addr.Phone != "" && in.PushName != "" {
		contact, err := s.getByNameAwaitingPhone(ctx, in.CompanyID, in.PushName)
		if err == nil {
			return s.refresh(ctx, contact, addr, in)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, err
		}
	}

	return s.create(ctx, addr, in)
}

// Find looks up a contact by address without creating one. Used for echoes of
// our own outbound traffic, where the peer may be unknown.
func (s *Service) Find(ctx context.Context, in ResolveInput) (Contact, error) {
	addr := ParseAddress(in.RemoteJID)
	if addr.Raw == "" {
		return Contact{}, ErrNotFound
	}
	if addr.Phone != "" {
		contact, err := s.getByPhone(ctx, in.CompanyID, addr.Phone)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, err
		}
	}
	contact, err := s.getByRemoteJID(ctx, in.CompanyID, addr.Raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return contact, err
}

// refresh backfills phone, display name, and avatar on an existing contact.
func (s *Service) refresh(ctx context.Context, contact Contact, addr Address, in ResolveInput) (Contact, error) {
	changed := false
	if contact.Phone == "" && addr.Phone != "" {
		contact.Phone = addr.Phone
		changed = true
	}
	if contact.DisplayName == "" && in.PushName != "" {
		contact.DisplayName = in.PushName
		changed = true
	}
	if changed {
		if err := s.update(ctx, contact); err != nil {
			return Contact{}, err
		}
	}
	if contact.AvatarURL == "" {
		s.fetchAvatarAsync(contact.ID, in.Instance, contact.Phone)
	}
	return contact, nil
}

func (s *Service) create(ctx context.Context, addr Address, in ResolveInput) (Contact, error) {
	pgCompanyID, err := dbpkg.ParseUUID(in.CompanyID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid company id: %w", err)
	}
	metadata, err := dbpkg.EncodeJSONMap(nil)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (company_id, phone, display_name, remote_jid, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, company_id, phone, display_name, remote_jid, avatar_url, metadata, created_at, updated_at`,
		pgCompanyID, dbpkg.ToPgText(addr.Phone), strings.TrimSpace(in.PushName), addr.Raw, metadata,
	)
	contact, err := scanContact(row)
	if err != nil {
		return Contact{}, fmt.Errorf("create contact: %w", err)
	}
	s.fetchAvatarAsync(contact.ID, in.Instance, contact.Phone)
	return contact, nil
}

func (s *Service) update(ctx context.Context, contact Contact) error {
	pgID, err := dbpkg.ParseUUID(contact.ID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE contacts
		SET phone = $2, display_name = $3, updated_at = now()
		WHERE id = $1`,
		pgID, dbpkg.ToPgText(contact.Phone), contact.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

// GetByID returns a contact by id.
func (s *Service) GetByID(ctx context.Context, contactID string) (Contact, error) {
	pgID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx, selectContact+` WHERE id = $1`, pgID)
	return scanContact(row)
}

const selectContact = `
	SELECT id, company_id, phone, display_name, remote_jid, avatar_url, metadata, created_at, updated_at
	FROM contacts`

func (s *Service) getByPhone(ctx context.Context, companyID, phone string) (Contact, error) {
	pgCompanyID, err := dbpkg.ParseUUID(companyID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx, selectContact+` WHERE company_id = $1 AND phone = $2`, pgCompanyID, phone)
	return scanContact(row)
}

func (s *Service) getByRemoteJID(ctx context.Context, companyID, remoteJID string) (Contact, error) {
	pgCompanyID, err := dbpkg.ParseUUID(companyID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx, selectContact+` WHERE company_id = $1 AND remote_jid = $2`, pgCompanyID, remoteJID)
	return scanContact(row)
}

func (s *Service) getByNameAwaitingPhone(ctx context.Context, companyID, name string) (Contact, error) {
	pgCompanyID, err := dbpkg.ParseUUID(companyID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx, selectContact+`
		WHERE company_id = $1 AND display_name = $2 AND phone IS NULL
		ORDER BY created_at
		LIMIT 1`, pgCompanyID, strings.TrimSpace(name))
	return scanContact(row)
}

// fetchAvatarAsync looks up the avatar in the background and stores it.
// Failures are logged only; the pipeline never waits on this.
func (s *Service) fetchAvatarAsync(contactID, instance, phone string) {
	if s.avatars == nil || phone == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), avatarFetchTimeout)
		defer cancel()
		url, err := s.avatars.FetchProfilePicture(ctx, instance, phone)
		if err != nil || url == "" {
			if err != nil {
				s.logger.Warn("avatar fetch failed", slog.String("contact_id", contactID), slog.Any("error", err))
			}
			return
		}
		pgID, err := dbpkg.ParseUUID(contactID)
		if err != nil {
			return
		}
		if _, err := s.pool.Exec(ctx, `UPDATE contacts SET avatar_url = $2, updated_at = now() WHERE id = $1`, pgID, url); err != nil {
			s.logger.Warn("avatar store failed", slog.String("contact_id", contactID), slog.Any("error", err))
		}
	}()
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		id, companyID      pgtype.UUID
		phone              pgtype.Text
		displayName        string
		remoteJID          string
		avatarURL          string
		metadata           []byte
		createdAt, updated pgtype.Timestamptz
	)
	if err := row.Scan(&id, &companyID, &phone, &displayName, &remoteJID, &avatarURL, &metadata, &createdAt, &updated); err != nil {
		return Contact{}, err
	}
	meta, err := dbpkg.DecodeJSONMap(metadata)
	if err != nil {
		return Contact{}, err
	}
	return Contact{
		ID:          dbpkg.UUIDToString(id),
		CompanyID:   dbpkg.UUIDToString(companyID),
		Phone:       dbpkg.TextToString(phone),
		DisplayName: displayName,
		RemoteJID:   remoteJID,
		AvatarURL:   avatarURL,
		Metadata:    meta,
		CreatedAt:   dbpkg.TimeFromPg(createdAt),
		UpdatedAt:   dbpkg.TimeFromPg(updated),
	}, nil
}
