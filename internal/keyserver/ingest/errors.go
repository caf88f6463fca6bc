package ingest

import (
	"net/http"

	"github.com/exposurekeys/keyserver/internal/common/apperrors"
)

var (
	ErrIngest apperrors.Error = apperrors.New("ingest error").SetStatusCode(http.StatusInternalServerError)

	// ErrInvalidKeyFormat rejects a batch containing undecodable or wrongly sized key data.
	ErrInvalidKeyFormat apperrors.Error = ErrIngest.New("invalid key format").SetStatusCode(http.StatusBadRequest)
	// ErrFakeMismatch rejects a request whose token claims it is fake but carries real keys.
	ErrFakeMismatch   apperrors.Error = ErrIngest.New("fake claim does not match keys").SetStatusCode(http.StatusBadRequest)
	ErrInvalidRequest apperrors.Error = ErrIngest.New("invalid request").SetStatusCode(http.StatusBadRequest)
)
