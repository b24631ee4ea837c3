package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "uq_messages_stage_entry"}
	if !isUniqueViolation(fmt.Errorf("insert: %w", dup)) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatal("plain errors are not unique violations")
	}
}

func TestNullableJSON(t *testing.T) {
	if nullableJSON(nil) != nil {
		t.Fatal("expected nil for empty document")
	}
	if nullableJSON([]byte("null")) != nil {
		t.Fatal("expected nil for JSON null")
	}
	if got, ok := nullableJSON([]byte(`{"a":1}`)).([]byte); !ok || string(got) != `{"a":1}` {
		t.Fatalf("expected document to pass through, got %v", got)
	}
}

func TestBatchDefaults(t *testing.T) {
	if batch(0) != defaultBatch || batch(-1) != defaultBatch {
		t.Fatal("expected default batch size for non-positive limits")
	}
	if batch(7) != 7 {
		t.Fatal("expected explicit limit to be kept")
	}
}
