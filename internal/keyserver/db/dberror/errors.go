package dberror

import (
	"errors"
	"net/http"
	"strings"

	"github.com/exposurekeys/keyserver/internal/common/apperrors"
	"github.com/jackc/pgconn"
)

const (
	codeUniqueViolation = "23505"
	classConnection     = "08"
	classData           = "22"
)

var (
	ErrDatabase      apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound      apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrInvalidInput  apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
	ErrUnavailable   apperrors.Error = ErrDatabase.New("database unavailable").SetStatusCode(http.StatusServiceUnavailable)
)

// FromPg maps a driver error onto the sentinel tree. Unique violations become
// ErrAlreadyExists, connection failures ErrUnavailable, everything else ErrDatabase.
func FromPg(err error) apperrors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return ErrAlreadyExists.Err(err)
		case strings.HasPrefix(pgErr.Code, classConnection):
			return ErrUnavailable.Err(err)
		case strings.HasPrefix(pgErr.Code, classData):
			return ErrInvalidInput.Err(err)
		}
	}
	if pgconn.Timeout(err) {
		return ErrUnavailable.Err(err)
	}
	return ErrDatabase.Err(err)
}
