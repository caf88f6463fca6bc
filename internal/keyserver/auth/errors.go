package auth

import (
	"net/http"

	"github.com/exposurekeys/keyserver/internal/common/apperrors"
)

var (
	ErrAuth apperrors.Error = apperrors.New("auth error").SetStatusCode(http.StatusInternalServerError)

	ErrInvalidToken       apperrors.Error = ErrAuth.New("invalid token").SetStatusCode(http.StatusUnauthorized)
	ErrUnableToParseToken apperrors.Error = ErrAuth.New("unable to parse token").SetStatusCode(http.StatusUnauthorized)
	ErrInvalidClaims      apperrors.Error = ErrAuth.New("invalid claims").SetStatusCode(http.StatusUnauthorized)
	ErrForbiddenScope     apperrors.Error = ErrAuth.New("token scope not allowed").SetStatusCode(http.StatusForbidden)
	ErrInvalidPublicKey   apperrors.Error = ErrAuth.New("invalid public key").SetStatusCode(http.StatusInternalServerError)
)
