package ingest

import (
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/auth"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
)

var dayMillis = timebucket.Day.Milliseconds()

func keep(keys []models.Key, pred func(models.Key) bool) []models.Key {
	out := keys[:0:0]
	for _, k := range keys {
		if pred(k) {
			out = append(out, k)
		}
	}
	return out
}

// AssertKeyFormat rejects the batch if any key does not hold exactly 16 bytes.
func AssertKeyFormat(_ timebucket.Instant, keys []models.Key, _ *InsertContext) ([]models.Key, error) {
	for i, k := range keys {
		if len(k.KeyData) != models.KeyDataLength {
			return nil, ErrInvalidKeyFormat.Msgf("key %d has %d bytes", i, len(k.KeyData))
		}
	}
	return keys, nil
}

// ValidRollingPeriod drops keys whose rolling period is outside 1..144.
func ValidRollingPeriod(_ timebucket.Instant, keys []models.Key, _ *InsertContext) ([]models.Key, error) {
	return keep(keys, func(k models.Key) bool {
		return k.RollingPeriod >= 1 && k.RollingPeriod <= models.MaxRollingPeriod
	}), nil
}

// EnforceRetention drops keys that started before the retention window.
func EnforceRetention(retention time.Duration) Filter {
	return func(now timebucket.Instant, keys []models.Key, _ *InsertContext) ([]models.Key, error) {
		oldest := now.AtStartOfDay().Minus(retention)
		return keep(keys, func(k models.Key) bool {
			return !k.Start().Before(oldest)
		}), nil
	}
}

// RemoveFutureKeys drops keys starting more than maxFuture after now.
func RemoveFutureKeys(maxFuture time.Duration) Filter {
	return func(now timebucket.Instant, keys []models.Key, _ *InsertContext) ([]models.Key, error) {
		latest := now.Plus(maxFuture)
		return keep(keys, func(k models.Key) bool {
			return !k.Start().After(latest)
		}), nil
	}
}

// EnforceMatchingClaims drops device keys outside the dates the token allows: keys
// before the onset date under the exposed scope, keys of any other date than the
// delayed key date under the current day scope.
func EnforceMatchingClaims(_ timebucket.Instant, keys []models.Key, ic *InsertContext) ([]models.Key, error) {
	p := ic.Principal
	if ic.Federation || p == nil {
		return keys, nil
	}
	switch p.Scope {
	case auth.ScopeCurrentDayExposed:
		if p.DelayedKeyDate == nil {
			return keys[:0], nil
		}
		return keep(keys, func(k models.Key) bool {
			return k.Start().SameDateAs(*p.DelayedKeyDate)
		}), nil
	default:
		if p.Onset == nil {
			return keys, nil
		}
		onset := p.Onset.AtStartOfDay()
		return keep(keys, func(k models.Key) bool {
			return !k.Start().AtStartOfDay().Before(onset)
		}), nil
	}
}

// RemoveFakeKeys strips padding keys. A request whose token is marked fake must carry
// only fake keys.
func RemoveFakeKeys(_ timebucket.Instant, keys []models.Key, ic *InsertContext) ([]models.Key, error) {
	if ic.Principal != nil && ic.Principal.Fake {
		for _, k := range keys {
			if !k.Fake {
				return nil, ErrFakeMismatch
			}
		}
		return keys[:0], nil
	}
	return keep(keys, func(k models.Key) bool { return !k.Fake }), nil
}

// DSOSAcceptance drops gateway keys rejected by policy.
func DSOSAcceptance(policy DSOSAcceptancePolicy) Filter {
	return func(_ timebucket.Instant, keys []models.Key, ic *InsertContext) ([]models.Key, error) {
		if !ic.Federation {
			return keys, nil
		}
		return keep(keys, policy.accepts), nil
	}
}

// DSOSRelevance drops gateway keys too long before their reference date.
func DSOSRelevance(policy DSOSRelevancePolicy) Filter {
	return func(_ timebucket.Instant, keys []models.Key, ic *InsertContext) ([]models.Key, error) {
		if !ic.Federation {
			return keys, nil
		}
		return keep(keys, policy.relevant), nil
	}
}
