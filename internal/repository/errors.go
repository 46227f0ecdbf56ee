package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store-level outcomes the service layer branches on.
var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a unique-key collision on insert.
	ErrConflict = errors.New("record already exists")
	// ErrStateConflict reports a write rejected because the row left the required state.
	ErrStateConflict = errors.New("record is not in the required state")
)

const pgUniqueViolation = "23505"

// mapErr translates driver errors into repository sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}
