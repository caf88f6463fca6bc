package models

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
)

/*
             Column             |           Type           | Nullable |  Default
--------------------------------+--------------------------+----------+-----------
 pk_key_id                      | bigint                   | not null | nextval()
 key_data                       | bytea                    | not null |
 rolling_start_number           | bigint                   | not null |
 rolling_period                 | integer                  | not null |
 transmission_risk_level        | integer                  | not null | 0
 received_at                    | timestamp with time zone | not null |
 origin                         | character varying(2)     | not null |
 share_with_gateway             | boolean                  | not null | false
 report_type                    | smallint                 | not null | 0
 days_since_onset               | integer                  |          |
 batch_tag                      | text                     |          |
Indexes:
    "diagnosis_keys_pkey" PRIMARY KEY, btree (pk_key_id)
    "diagnosis_keys_key_data_key" UNIQUE CONSTRAINT, btree (key_data)
    "idx_diagnosis_keys_received_at" btree (received_at)
    "idx_diagnosis_keys_rsn" btree (rolling_start_number)
    "idx_diagnosis_keys_unshared" btree (origin) WHERE batch_tag IS NULL AND share_with_gateway
*/

const (
	// KeyDataLength is the decoded size of a temporary exposure key.
	KeyDataLength = 16
	// MaxRollingPeriod is one day of rolling intervals.
	MaxRollingPeriod = 144
)

// ReportType classifies how a diagnosis was established. Values match the federation
// gateway enumeration.
type ReportType int32

const (
	ReportTypeUnknown           ReportType = 0
	ReportTypeConfirmedTest     ReportType = 1
	ReportTypeConfirmedClinical ReportType = 2
	ReportTypeSelfReport        ReportType = 3
	ReportTypeRecursive         ReportType = 4
	ReportTypeRevoked           ReportType = 5
)

var reportTypeNames = map[ReportType]string{
	ReportTypeUnknown:           "UNKNOWN",
	ReportTypeConfirmedTest:     "CONFIRMED_TEST",
	ReportTypeConfirmedClinical: "CONFIRMED_CLINICAL_DIAGNOSIS",
	ReportTypeSelfReport:        "SELF_REPORT",
	ReportTypeRecursive:         "RECURSIVE",
	ReportTypeRevoked:           "REVOKED",
}

func (r ReportType) String() string {
	if s, ok := reportTypeNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ReportType(%d)", int32(r))
}

// ParseReportType accepts the enumeration names used in configuration files.
func ParseReportType(s string) (ReportType, error) {
	for r, name := range reportTypeNames {
		if name == s {
			return r, nil
		}
	}
	return ReportTypeUnknown, fmt.Errorf("unknown report type %q", s)
}

// Key is a temporary exposure key as received from a device or a gateway.
type Key struct {
	KeyData               []byte
	RollingStartNumber    int64
	RollingPeriod         int32
	TransmissionRiskLevel int32
	Fake                  bool

	// Epidemiological metadata. Gateway keys always carry it; device keys get it
	// assigned by the ingest manager.
	ReportType     ReportType
	DaysSinceOnset *int32

	// Origin is the reporting country of a gateway key. The store records the origin
	// passed to Upsert, not this field.
	Origin string
}

// KeyDataBase64 returns the standard base64 encoding of the key data.
func (k Key) KeyDataBase64() string {
	return base64.StdEncoding.EncodeToString(k.KeyData)
}

// Start is the instant the key became valid.
func (k Key) Start() timebucket.Instant {
	return timebucket.FromRollingUnits(k.RollingStartNumber)
}

// Expiry is the instant after which the key may be released, skew included.
func (k Key) Expiry(timeSkew time.Duration) timebucket.Instant {
	return timebucket.FromRollingUnits(k.RollingStartNumber + int64(k.RollingPeriod)).Plus(timeSkew)
}

// StoredKey is a persisted key together with its server-side metadata.
type StoredKey struct {
	ID int64
	Key
	ReceivedAt                 timebucket.Instant
	ShareWithFederationGateway bool
	BatchTag                   *string
}

// KeyQuery selects keys for release to clients.
type KeyQuery struct {
	// KeyDate restricts results to keys whose rolling start lies on this UTC date.
	KeyDate *timebucket.Instant
	// PublishedAfter is the inclusive lower release bound; nil means the epoch.
	PublishedAfter *timebucket.Instant
	// PublishedUntil is the exclusive upper release bound, clamped to Now.
	PublishedUntil timebucket.Instant
	Now            timebucket.Instant
	// IncludeFederated adds keys whose origin differs from the store's own origin.
	IncludeFederated bool
}

// Window returns the effective [after, until) release window of the query.
func (q KeyQuery) Window() (after, until timebucket.Instant) {
	if q.PublishedAfter != nil {
		after = *q.PublishedAfter
	}
	until = q.PublishedUntil
	if q.Now.Before(until) {
		until = q.Now
	}
	return after, until
}

// KeyDateRange returns the rolling start number range [from, to) of the key date filter.
func (q KeyQuery) KeyDateRange() (from, to int64, ok bool) {
	if q.KeyDate == nil {
		return 0, 0, false
	}
	day := q.KeyDate.AtStartOfDay()
	return day.ToRollingUnits(), day.Plus(timebucket.Day).ToRollingUnits(), true
}

// Released reports whether a key stored at receivedAt is released in [after, until).
// A key already expired when received is released with its receipt; a key still live
// when received is held back until it expires.
func Released(expiry, receivedAt, after, until timebucket.Instant) bool {
	if !expiry.After(receivedAt) {
		return !receivedAt.Before(after) && receivedAt.Before(until)
	}
	return !expiry.Before(after) && expiry.Before(until)
}
