package repos

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not found", gorm.ErrRecordNotFound, ErrNotFound},
		{"pg unique", &pgconn.PgError{Code: "23505"}, ErrConflict},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, ErrRetryable},
		{"sqlite unique", errors.New("UNIQUE constraint failed: reminder_instance.rule_id"), ErrConflict},
		{"wrapped pg", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), ErrConflict},
	}
	for _, tc := range cases {
		got := MapError("op", tc.err)
		if !errors.Is(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		if !errors.Is(got, tc.err) {
			t.Fatalf("%s: original error lost from chain", tc.name)
		}
	}

	if MapError("op", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	plain := errors.New("boom")
	if got := MapError("op", plain); got != plain {
		t.Fatalf("unmapped errors should pass through, got %v", got)
	}
}
