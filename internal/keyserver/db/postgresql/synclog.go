package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/dberror"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
)

const syncLogColumns = `pk_sync_log_id, gateway, action, batch_tag, target_date, started_at, ended_at, state, details`

func (s *Store) Append(ctx context.Context, e *models.SyncLogEntry) error {
	if e == nil {
		return dberror.ErrInvalidInput.Msg("nil sync log entry")
	}
	var batchTag sql.NullString
	if e.BatchTag != "" {
		batchTag = sql.NullString{String: e.BatchTag, Valid: true}
	}
	var details any
	if e.Details.Status == pgtype.Present {
		details = string(e.Details.Bytes)
	}

	row := s.pool.DB().QueryRowContext(ctx, `
		INSERT INTO sync_log (gateway, action, batch_tag, target_date, started_at, ended_at, state, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING pk_sync_log_id`,
		e.Gateway, string(e.Action), batchTag, e.TargetDate, e.StartedAt, e.EndedAt, string(e.State), details)
	if err := row.Scan(&e.ID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("gateway", e.Gateway).Msg("failed to append sync log entry")
		return dberror.FromPg(err)
	}
	return nil
}

func (s *Store) LatestDownload(ctx context.Context, gateway string, date timebucket.Instant) (*models.SyncLogEntry, error) {
	row := s.pool.DB().QueryRowContext(ctx, `
		SELECT `+syncLogColumns+` FROM sync_log
		WHERE gateway = $1 AND action = $2 AND target_date = $3::date AND state = $4
		ORDER BY pk_sync_log_id DESC
		LIMIT 1`,
		gateway, string(models.SyncActionDownload), date.Date(), string(models.SyncStateDone))
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("no completed download")
		}
		log.Ctx(ctx).Error().Err(err).Str("gateway", gateway).Msg("failed to read sync log")
		return nil, dberror.FromPg(err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, gateway string, since timebucket.Instant, limit int) ([]*models.SyncLogEntry, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.DB().QueryContext(ctx, `
		SELECT `+syncLogColumns+` FROM sync_log
		WHERE ($1 = '' OR gateway = $1) AND started_at >= $2
		ORDER BY pk_sync_log_id DESC
		LIMIT $3`, gateway, since.Time(), limitArg)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list sync log")
		return nil, dberror.FromPg(err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.FromPg(err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.SyncLogEntry, error) {
	var (
		e        models.SyncLogEntry
		action   string
		state    string
		batchTag sql.NullString
		date     sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Gateway, &action, &batchTag, &date, &e.StartedAt, &e.EndedAt, &state, &e.Details); err != nil {
		return nil, err
	}
	e.Action = models.SyncAction(action)
	e.State = models.SyncState(state)
	e.BatchTag = batchTag.String
	if date.Valid {
		d := date.Time.UTC()
		e.TargetDate = &d
	}
	return &e, nil
}
