package models

import (
	"time"

	"github.com/jackc/pgtype"
)

/*
     Column      |           Type           | Nullable |  Default
-----------------+--------------------------+----------+-----------
 pk_sync_log_id  | bigint                   | not null | nextval()
 gateway         | text                     | not null |
 action          | text                     | not null |
 batch_tag       | text                     |          |
 target_date     | date                     |          |
 started_at      | timestamp with time zone | not null |
 ended_at        | timestamp with time zone | not null |
 state           | text                     | not null |
 details         | jsonb                    |          |
Indexes:
    "sync_log_pkey" PRIMARY KEY, btree (pk_sync_log_id)
    "idx_sync_log_lookup" btree (gateway, action, target_date, pk_sync_log_id DESC)
*/

type SyncAction string

const (
	SyncActionDownload SyncAction = "DOWNLOAD"
	SyncActionUpload   SyncAction = "UPLOAD"
)

type SyncState string

const (
	SyncStateDone  SyncState = "DONE"
	SyncStateError SyncState = "ERROR"
)

// SyncLogEntry records one federation page download or chunk upload.
type SyncLogEntry struct {
	ID         int64        `db:"pk_sync_log_id"`
	Gateway    string       `db:"gateway"`
	Action     SyncAction   `db:"action"`
	BatchTag   string       `db:"batch_tag"`
	TargetDate *time.Time   `db:"target_date"`
	StartedAt  time.Time    `db:"started_at"`
	EndedAt    time.Time    `db:"ended_at"`
	State      SyncState    `db:"state"`
	Details    pgtype.JSONB `db:"details"`
}

// SyncDetails is the JSON document stored with each entry.
type SyncDetails struct {
	Keys         int    `json:"keys"`
	Accepted     int    `json:"accepted,omitempty"`
	Failed       int    `json:"failed,omitempty"`
	NextBatchTag string `json:"nextBatchTag,omitempty"`
	Last         bool   `json:"last,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SetDetails encodes d into the JSONB column.
func (e *SyncLogEntry) SetDetails(d SyncDetails) error {
	return e.Details.Set(d)
}

// GetDetails decodes the JSONB column. A null column yields the zero value.
func (e *SyncLogEntry) GetDetails() (SyncDetails, error) {
	var d SyncDetails
	if e.Details.Status != pgtype.Present {
		return d, nil
	}
	err := e.Details.AssignTo(&d)
	return d, err
}
