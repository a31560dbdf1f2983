package repos

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("conflict")
	ErrRetryable = errors.New("retryable")
)

// MapError maps driver failures onto the package sentinels, keeping the
// original error in the chain.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrRetryable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return wrap(op, ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return wrap(op, ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		return wrap(op, ErrRetryable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return wrap(op, ErrConflict, err) // unique_violation
		case "40001", "40P01", "55P03":
			return wrap(op, ErrRetryable, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"), strings.Contains(msg, "duplicate key"):
		return wrap(op, ErrConflict, err)
	case strings.Contains(msg, "database is locked"):
		return wrap(op, ErrRetryable, err)
	}
	return err
}

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

type opError struct {
	op       string
	sentinel error
	err      error
}

func (e *opError) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error { return []error{e.sentinel, e.err} }

func wrap(op string, sentinel, err error) error {
	return &opError{op: strings.TrimSpace(op), sentinel: sentinel, err: err}
}
