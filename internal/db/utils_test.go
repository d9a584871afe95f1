package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/config"
)

func TestDSN(t *testing.T) {
	got := DSN(config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "app",
		Password: "pw",
		Database: "messaging",
		SSLMode:  "disable",
	})
	want := "postgres://app:pw@localhost:5432/messaging?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	const id = "2b7e9a40-53a1-4fd2-9260-0cf4c4a6f001"
	pgID, err := ParseUUID(" " + id + " ")
	if err != nil {
		t.Fatalf("ParseUUID returned error: %v", err)
	}
	if !pgID.Valid {
		t.Fatalf("parsed UUID must be valid")
	}
	if got := UUIDToString(pgID); got != id {
		t.Fatalf("round trip = %q, want %q", got, id)
	}
}

func TestParseUUID_Invalid(t *testing.T) {
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Fatalf("invalid UUID must fail")
	}
}

func TestUUIDToString_Invalid(t *testing.T) {
	if got := UUIDToString(pgtype.UUID{}); got != "" {
		t.Fatalf("invalid UUID should stringify empty, got %q", got)
	}
}

func TestToPgText(t *testing.T) {
	if v := ToPgText("  "); v.Valid {
		t.Fatalf("blank input must become NULL")
	}
	v := ToPgText(" 5511999990000 ")
	if !v.Valid || v.String != "5511999990000" {
		t.Fatalf("unexpected text value: %+v", v)
	}
	if got := TextToString(v); got != "5511999990000" {
		t.Fatalf("TextToString = %q", got)
	}
	if got := TextToString(pgtype.Text{}); got != "" {
		t.Fatalf("NULL text should stringify empty, got %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(unique) {
		t.Fatalf("23505 must be detected")
	}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", unique)) {
		t.Fatalf("wrapped 23505 must be detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("other SQLSTATEs are not unique violations")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain errors are not unique violations")
	}
}

func TestJSONMapCodec(t *testing.T) {
	encoded, err := EncodeJSONMap(nil)
	if err != nil {
		t.Fatalf("EncodeJSONMap(nil) returned error: %v", err)
	}
	if string(encoded) != "{}" {
		t.Fatalf("nil map must encode as empty object, got %s", encoded)
	}

	decoded, err := DecodeJSONMap(nil)
	if err != nil {
		t.Fatalf("DecodeJSONMap(nil) returned error: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("empty input must decode to an empty map, got %v", decoded)
	}

	encoded, err = EncodeJSONMap(map[string]any{"flow_state": map[string]any{"version": float64(1)}})
	if err != nil {
		t.Fatalf("EncodeJSONMap returned error: %v", err)
	}
	decoded, err = DecodeJSONMap(encoded)
	if err != nil {
		t.Fatalf("DecodeJSONMap returned error: %v", err)
	}
	if _, ok := decoded["flow_state"].(map[string]any); !ok {
		t.Fatalf("nested object lost in round trip: %v", decoded)
	}

	if _, err := DecodeJSONMap([]byte(`[]`)); err == nil {
		t.Fatalf("non-object jsonb must fail to decode")
	}
}
