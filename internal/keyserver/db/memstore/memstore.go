// Package memstore is an in-process implementation of the key store and sync log.
// It backs tests and single-node evaluation deployments.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/dberror"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
)

type Store struct {
	ownOrigin string
	timeSkew  time.Duration
	clock     timebucket.Clock

	mu        sync.RWMutex
	nextKeyID int64
	keys      []*models.StoredKey // ascending id
	byData    map[string]*models.StoredKey
	nextLogID int64
	entries   []*models.SyncLogEntry
}

func New(ownOrigin string, timeSkew time.Duration, clock timebucket.Clock) *Store {
	return &Store{
		ownOrigin: ownOrigin,
		timeSkew:  timeSkew,
		clock:     clock,
		byData:    make(map[string]*models.StoredKey),
	}
}

func (s *Store) Upsert(ctx context.Context, keys []models.Key, receivedAt timebucket.Instant, origin string, share bool) error {
	for _, k := range keys {
		if len(k.KeyData) == 0 {
			return dberror.ErrInvalidInput.Msg("empty key data")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.byData[string(k.KeyData)]; ok {
			continue
		}
		s.nextKeyID++
		rec := &models.StoredKey{
			ID:                         s.nextKeyID,
			Key:                        copyKey(k),
			ReceivedAt:                 receivedAt,
			ShareWithFederationGateway: share,
		}
		rec.Fake = false
		rec.Origin = origin
		s.keys = append(s.keys, rec)
		s.byData[string(k.KeyData)] = rec
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q models.KeyQuery) ([]models.StoredKey, error) {
	after, until := q.Window()
	from, to, byDate := q.KeyDateRange()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StoredKey
	for i := len(s.keys) - 1; i >= 0; i-- {
		rec := s.keys[i]
		if !q.IncludeFederated && rec.Origin != s.ownOrigin {
			continue
		}
		if byDate && (rec.RollingStartNumber < from || rec.RollingStartNumber >= to) {
			continue
		}
		if !models.Released(rec.Expiry(s.timeSkew), rec.ReceivedAt, after, until) {
			continue
		}
		out = append(out, copyStored(rec))
	}
	return out, nil
}

func (s *Store) SelectUnshared(ctx context.Context, origin string) ([]models.StoredKey, error) {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StoredKey
	for _, rec := range s.keys {
		if rec.Origin != origin || !rec.ShareWithFederationGateway || rec.BatchTag != nil {
			continue
		}
		if rec.Expiry(s.timeSkew).After(now) {
			continue
		}
		out = append(out, copyStored(rec))
	}
	return out, nil
}

func (s *Store) MarkUploaded(ctx context.Context, keys []models.Key, batchTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		rec, ok := s.byData[string(k.KeyData)]
		if !ok || rec.BatchTag != nil {
			continue
		}
		tag := batchTag
		rec.BatchTag = &tag
	}
	return nil
}

func (s *Store) CleanUp(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Minus(retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.keys[:0]
	var deleted int64
	for _, rec := range s.keys {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.byData, string(rec.KeyData))
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(s.keys); i++ {
		s.keys[i] = nil
	}
	s.keys = kept
	return deleted, nil
}

func (s *Store) Append(ctx context.Context, e *models.SyncLogEntry) error {
	if e == nil {
		return dberror.ErrInvalidInput.Msg("nil sync log entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	e.ID = s.nextLogID
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *Store) LatestDownload(ctx context.Context, gateway string, date timebucket.Instant) (*models.SyncLogEntry, error) {
	day := date.AtStartOfDay()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Gateway != gateway || e.Action != models.SyncActionDownload || e.State != models.SyncStateDone {
			continue
		}
		if e.TargetDate == nil || !timebucket.Of(*e.TargetDate).SameDateAs(day) {
			continue
		}
		cp := *e
		return &cp, nil
	}
	return nil, dberror.ErrNotFound.Msg("no completed download")
}

func (s *Store) List(ctx context.Context, gateway string, since timebucket.Instant, limit int) ([]*models.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if gateway != "" && e.Gateway != gateway {
			continue
		}
		if timebucket.Of(e.StartedAt).Before(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Keys returns every stored key ordered by key data.
func (s *Store) Keys() []models.StoredKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StoredKey, 0, len(s.keys))
	for _, rec := range s.keys {
		out = append(out, copyStored(rec))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].KeyData, out[j].KeyData) < 0 })
	return out
}

func copyKey(k models.Key) models.Key {
	k.KeyData = append([]byte(nil), k.KeyData...)
	if k.DaysSinceOnset != nil {
		d := *k.DaysSinceOnset
		k.DaysSinceOnset = &d
	}
	return k
}

func copyStored(rec *models.StoredKey) models.StoredKey {
	cp := *rec
	cp.Key = copyKey(rec.Key)
	if rec.BatchTag != nil {
		tag := *rec.BatchTag
		cp.BatchTag = &tag
	}
	return cp
}
