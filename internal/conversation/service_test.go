package conversation

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/Joaopedrozoe/viainfra-sub001/internal/db"
)

const (
	testCompanyID = "2b7e9a40-53a1-4fd2-9260-0cf4c4a6f201"
	testContactID = "2b7e9a40-53a1-4fd2-9260-0cf4c4a6f202"
	existingID    = "2b7e9a40-53a1-4fd2-9260-0cf4c4a6f203"
	competitorID  = "2b7e9a40-53a1-4fd2-9260-0cf4c4a6f204"
	createdID     = "2b7e9a40-53a1-4fd2-9260-0cf4c4a6f205"
)

// convRow replays a stored conversation through the scan used by the service.
type convRow struct {
	conv Conversation
	err  error
}

func (r convRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	pgID, err := dbpkg.ParseUUID(r.conv.ID)
	if err != nil {
		return err
	}
	pgCompanyID, err := dbpkg.ParseUUID(r.conv.CompanyID)
	if err != nil {
		return err
	}
	pgContactID, err := dbpkg.ParseUUID(r.conv.ContactID)
	if err != nil {
		return err
	}
	*dest[0].(*pgtype.UUID) = pgID
	*dest[1].(*pgtype.UUID) = pgCompanyID
	*dest[2].(*pgtype.UUID) = pgContactID
	*dest[3].(*string) = r.conv.Channel
	*dest[4].(*string) = string(r.conv.Status)
	*dest[5].(*pgtype.UUID) = pgtype.UUID{}
	*dest[6].(*pgtype.Timestamptz) = pgtype.Timestamptz{Valid: true}
	*dest[7].(*[]byte) = []byte(`{}`)
	*dest[8].(*pgtype.Timestamptz) = pgtype.Timestamptz{Valid: true}
	*dest[9].(*pgtype.Timestamptz) = pgtype.Timestamptz{Valid: true}
	return nil
}

// fakeConvDB serves the first active lookup from first and later lookups from
// after, so an insert conflict can expose the competitor's row.
type fakeConvDB struct {
	first     *Conversation
	after     *Conversation
	insertErr error

	selects int
	inserts int
	touches int
}

func (f *fakeConvDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "status IN ('open', 'pending')"):
		f.selects++
		conv := f.first
		if f.selects > 1 {
			conv = f.after
		}
		if conv == nil {
			return convRow{err: pgx.ErrNoRows}
		}
		return convRow{conv: *conv}
	case strings.Contains(sql, "INSERT INTO conversations"):
		f.inserts++
		if f.insertErr != nil {
			return convRow{err: f.insertErr}
		}
		return convRow{conv: Conversation{
			ID:        createdID,
			CompanyID: dbpkg.UUIDToString(args[0].(pgtype.UUID)),
			ContactID: dbpkg.UUIDToString(args[1].(pgtype.UUID)),
			Channel:   args[2].(string),
			Status:    StatusOpen,
		}}
	}
	return convRow{err: pgx.ErrNoRows}
}

func (f *fakeConvDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "SET last_message_at") {
		f.touches++
	}
	return pgconn.CommandTag{}, nil
}

func activeConv(id string) *Conversation {
	return &Conversation{
		ID:        id,
		CompanyID: testCompanyID,
		ContactID: testContactID,
		Channel:   "whatsapp",
		Status:    StatusOpen,
	}
}

func TestGetOrCreateActive_ReturnsExisting(t *testing.T) {
	db := &fakeConvDB{first: activeConv(existingID)}
	svc := NewService(slog.Default(), db)

	conv, err := svc.GetOrCreateActive(context.Background(), testCompanyID, testContactID, "whatsapp")
	if err != nil {
		t.Fatalf("GetOrCreateActive returned error: %v", err)
	}
	if conv.ID != existingID {
		t.Fatalf("expected the existing conversation, got %q", conv.ID)
	}
	if db.inserts != 0 {
		t.Fatalf("an active conversation must not trigger an insert")
	}
	if db.touches != 1 {
		t.Fatalf("existing conversation must be touched, got %d", db.touches)
	}
}

func TestGetOrCreateActive_CreatesWhenNone(t *testing.T) {
	db := &fakeConvDB{}
	svc := NewService(slog.Default(), db)

	conv, err := svc.GetOrCreateActive(context.Background(), testCompanyID, testContactID, "whatsapp")
	if err != nil {
		t.Fatalf("GetOrCreateActive returned error: %v", err)
	}
	if conv.ID != createdID || conv.Status != StatusOpen {
		t.Fatalf("expected a fresh open conversation, got %+v", conv)
	}
	if db.inserts != 1 {
		t.Fatalf("expected one insert, got %d", db.inserts)
	}
	if conv.ContactID != testContactID {
		t.Fatalf("insert must carry the contact, got %q", conv.ContactID)
	}
}

func TestGetOrCreateActive_LostInsertRaceRereads(t *testing.T) {
	db := &fakeConvDB{
		insertErr: &pgconn.PgError{Code: "23505"},
		after:     activeConv(competitorID),
	}
	svc := NewService(slog.Default(), db)

	conv, err := svc.GetOrCreateActive(context.Background(), testCompanyID, testContactID, "whatsapp")
	if err != nil {
		t.Fatalf("unique violation must resolve to the competitor's row, got: %v", err)
	}
	if conv.ID != competitorID {
		t.Fatalf("expected the competitor's conversation, got %q", conv.ID)
	}
	if db.selects != 2 {
		t.Fatalf("conflict must trigger a re-read, got %d selects", db.selects)
	}
	if db.touches != 1 {
		t.Fatalf("adopted row must be touched, got %d", db.touches)
	}
}

func TestGetOrCreateActive_OtherInsertErrorSurfaces(t *testing.T) {
	db := &fakeConvDB{insertErr: &pgconn.PgError{Code: "23503"}}
	svc := NewService(slog.Default(), db)

	if _, err := svc.GetOrCreateActive(context.Background(), testCompanyID, testContactID, "whatsapp"); err == nil {
		t.Fatalf("non-unique insert failures must surface")
	}
	if db.selects != 1 {
		t.Fatalf("only unique violations warrant a re-read, got %d selects", db.selects)
	}
}
