package database

import (
	"errors"

	"lti-booking/internal/domain/booking"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// MapError turns postgres constraint violations into domain errors and
// passes everything else through.
func MapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return booking.ErrDuplicate
		case foreignKeyViolation:
			return booking.ErrInvalidReference
		}
	}
	return err
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
