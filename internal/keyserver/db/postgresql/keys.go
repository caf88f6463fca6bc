package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/dberror"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const keyColumns = `pk_key_id, key_data, rolling_start_number, rolling_period, transmission_risk_level,
	received_at, origin, share_with_gateway, report_type, days_since_onset, batch_tag`

// expiryExpr computes the release instant of a key. $1 is always the skew in milliseconds.
const expiryExpr = `(to_timestamp((rolling_start_number + rolling_period) * 600) + ($1::bigint * interval '1 millisecond'))`

// Upsert inserts all keys in a single transaction. Existing key data is left untouched.
func (s *Store) Upsert(ctx context.Context, keys []models.Key, receivedAt timebucket.Instant, origin string, share bool) error {
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		if len(k.KeyData) == 0 {
			return dberror.ErrInvalidInput.Msg("empty key data")
		}
	}
	tx, errdb := s.pool.DB().BeginTx(ctx, &sql.TxOptions{})
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to start transaction")
		return dberror.FromPg(errdb)
	}

	var txErr error
	defer func() {
		if txErr != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	stmt, txErr := tx.PrepareContext(ctx, `
		INSERT INTO diagnosis_keys (key_data, rolling_start_number, rolling_period, transmission_risk_level,
			received_at, origin, share_with_gateway, report_type, days_since_onset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key_data) DO NOTHING`)
	if txErr != nil {
		log.Ctx(ctx).Error().Err(txErr).Msg("failed to prepare insert")
		return dberror.FromPg(txErr)
	}
	defer stmt.Close()

	recv := receivedAt.Time()
	for _, k := range keys {
		var dsos sql.NullInt32
		if k.DaysSinceOnset != nil {
			dsos = sql.NullInt32{Int32: *k.DaysSinceOnset, Valid: true}
		}
		_, txErr = stmt.ExecContext(ctx, k.KeyData, k.RollingStartNumber, k.RollingPeriod, k.TransmissionRiskLevel,
			recv, origin, share, int16(k.ReportType), dsos)
		if txErr != nil {
			log.Ctx(ctx).Error().Err(txErr).Msg("failed to insert key")
			return dberror.FromPg(txErr)
		}
	}

	if txErr = tx.Commit(); txErr != nil {
		log.Ctx(ctx).Error().Err(txErr).Msg("failed to commit transaction")
		return dberror.FromPg(txErr)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q models.KeyQuery) ([]models.StoredKey, error) {
	after, until := q.Window()
	if !after.Before(until) {
		return nil, nil
	}

	args := []any{s.skewMillis(), after.Time(), until.Time()}
	var where strings.Builder
	fmt.Fprintf(&where, `((received_at >= $2 AND received_at < $3 AND %[1]s <= received_at)
		OR (%[1]s >= $2 AND %[1]s < $3 AND %[1]s > received_at))`, expiryExpr)
	if from, to, ok := q.KeyDateRange(); ok {
		args = append(args, from, to)
		fmt.Fprintf(&where, " AND rolling_start_number >= $%d AND rolling_start_number < $%d", len(args)-1, len(args))
	}
	if !q.IncludeFederated {
		args = append(args, s.ownOrigin)
		fmt.Fprintf(&where, " AND origin = $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM diagnosis_keys WHERE %s ORDER BY pk_key_id DESC`, keyColumns, where.String())
	return s.selectKeys(ctx, query, args...)
}

func (s *Store) SelectUnshared(ctx context.Context, origin string) ([]models.StoredKey, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM diagnosis_keys
		WHERE origin = $2 AND share_with_gateway AND batch_tag IS NULL AND %s <= $3
		ORDER BY pk_key_id`, keyColumns, expiryExpr)
	return s.selectKeys(ctx, query, s.skewMillis(), origin, s.clock.Now().Time())
}

func (s *Store) MarkUploaded(ctx context.Context, keys []models.Key, batchTag string) error {
	if len(keys) == 0 {
		return nil
	}
	data := make(pq.ByteaArray, 0, len(keys))
	for _, k := range keys {
		data = append(data, k.KeyData)
	}

	tx, errdb := s.pool.DB().BeginTx(ctx, &sql.TxOptions{})
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to start transaction")
		return dberror.FromPg(errdb)
	}
	var txErr error
	defer func() {
		if txErr != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	_, txErr = tx.ExecContext(ctx, `
		UPDATE diagnosis_keys SET batch_tag = $1
		WHERE key_data = ANY($2) AND batch_tag IS NULL`, batchTag, data)
	if txErr != nil {
		log.Ctx(ctx).Error().Err(txErr).Str("batch_tag", batchTag).Msg("failed to mark keys uploaded")
		return dberror.FromPg(txErr)
	}
	if txErr = tx.Commit(); txErr != nil {
		log.Ctx(ctx).Error().Err(txErr).Msg("failed to commit transaction")
		return dberror.FromPg(txErr)
	}
	return nil
}

func (s *Store) CleanUp(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Minus(retention)
	res, err := s.pool.DB().ExecContext(ctx, `DELETE FROM diagnosis_keys WHERE received_at < $1`, cutoff.Time())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to clean up keys")
		return 0, dberror.FromPg(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dberror.ErrDatabase.Err(err)
	}
	return n, nil
}

func (s *Store) selectKeys(ctx context.Context, query string, args ...any) ([]models.StoredKey, error) {
	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to query keys")
		return nil, dberror.FromPg(err)
	}
	defer rows.Close()

	var keys []models.StoredKey
	for rows.Next() {
		var (
			k          models.StoredKey
			receivedAt time.Time
			reportType int16
			dsos       sql.NullInt32
			batchTag   sql.NullString
		)
		if err := rows.Scan(&k.ID, &k.KeyData, &k.RollingStartNumber, &k.RollingPeriod, &k.TransmissionRiskLevel,
			&receivedAt, &k.Origin, &k.ShareWithFederationGateway, &reportType, &dsos, &batchTag); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan key")
			return nil, dberror.ErrDatabase.Err(err)
		}
		k.ReceivedAt = timebucket.Of(receivedAt)
		k.ReportType = models.ReportType(reportType)
		if dsos.Valid {
			d := dsos.Int32
			k.DaysSinceOnset = &d
		}
		if batchTag.Valid {
			tag := batchTag.String
			k.BatchTag = &tag
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.FromPg(err)
	}
	return keys, nil
}
