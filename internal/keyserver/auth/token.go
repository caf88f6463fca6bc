package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
)

// Claims are the registered and private claims of an upload token.
type Claims struct {
	Subject string `mapstructure:"sub"`
	Scope   string `mapstructure:"scope"`
	Fake    bool   `mapstructure:"fake"`
	// Onset is a YYYY-MM-DD date.
	Onset string `mapstructure:"onset"`
	// DelayedKeyDate is a rolling start number.
	DelayedKeyDate *int64 `mapstructure:"delayedKeyDate"`
}

// Verifier checks EdDSA-signed tokens against a single public key.
type Verifier struct {
	publicKey ed25519.PublicKey
	leeway    time.Duration
}

func NewVerifier(publicKey ed25519.PublicKey, leeway time.Duration) *Verifier {
	return &Verifier{publicKey: publicKey, leeway: leeway}
}

// LoadPublicKey reads a PEM encoded PKIX ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidPublicKey.Err(err)
	}
	return ParsePublicKey(b)
}

// ParsePublicKey decodes a PEM encoded PKIX ed25519 public key.
func ParsePublicKey(pemBytes []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidPublicKey.Msg("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, ErrInvalidPublicKey.Err(err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidPublicKey.Msg("not an ed25519 key")
	}
	return key, nil
}

// Verify parses tokenString and returns the principal it describes.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("failed to parse token")
		return nil, ErrUnableToParseToken.Err(err)
	}
	if !token.Valid {
		return nil, ErrUnableToParseToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnableToParseToken
	}
	return PrincipalFromClaims(claims)
}

// PrincipalFromClaims decodes the private claims of a token.
func PrincipalFromClaims(claims map[string]any) (*Principal, error) {
	var c Claims
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &c,
	})
	if err != nil {
		return nil, ErrInvalidClaims.Err(err)
	}
	if err := dec.Decode(claims); err != nil {
		return nil, ErrInvalidClaims.Err(err)
	}

	p := &Principal{Subject: c.Subject, Scope: c.Scope, Fake: c.Fake}
	switch c.Scope {
	case ScopeExposed:
		if c.Onset != "" {
			onset, err := timebucket.ParseDate(c.Onset)
			if err != nil {
				return nil, ErrInvalidClaims.Msgf("invalid onset %q", c.Onset)
			}
			p.Onset = &onset
		}
	case ScopeCurrentDayExposed:
		if c.DelayedKeyDate == nil {
			return nil, ErrInvalidClaims.Msg("missing delayedKeyDate")
		}
		d := timebucket.FromRollingUnits(*c.DelayedKeyDate)
		p.DelayedKeyDate = &d
	default:
		return nil, ErrForbiddenScope.Msgf("unknown scope %q", c.Scope)
	}
	return p, nil
}
