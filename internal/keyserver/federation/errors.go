package federation

import (
	"net/http"

	"github.com/exposurekeys/keyserver/internal/common/apperrors"
)

var (
	ErrFederation apperrors.Error = apperrors.New("federation error").SetStatusCode(http.StatusInternalServerError)

	// ErrGateway wraps failed gateway requests.
	ErrGateway apperrors.Error = ErrFederation.New("gateway request failed").SetStatusCode(http.StatusBadGateway)
	// ErrPaginationLimit is recorded when a date has more pages than allowed per cycle.
	ErrPaginationLimit apperrors.Error = ErrFederation.New("pagination limit reached")
	ErrInvalidBatch    apperrors.Error = ErrFederation.New("invalid batch from gateway")
	ErrSigning         apperrors.Error = ErrFederation.New("unable to sign batch")
)
