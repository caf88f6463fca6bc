package federation

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/uuid"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/dberror"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/ingest"
	"github.com/exposurekeys/keyserver/internal/keyserver/metrics"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the phase a gateway is in.
type State string

const (
	StateIdle        State = "IDLE"
	StateDownloading State = "DOWNLOADING"
	StateUploading   State = "UPLOADING"
)

// Store is what the syncer needs from persistence.
type Store interface {
	SelectUnshared(ctx context.Context, origin string) ([]models.StoredKey, error)
	MarkUploaded(ctx context.Context, keys []models.Key, batchTag string) error
	Append(ctx context.Context, e *models.SyncLogEntry) error
	LatestDownload(ctx context.Context, gateway string, date timebucket.Instant) (*models.SyncLogEntry, error)
}

// Inserter stores downloaded keys after the insertion pipeline.
type Inserter interface {
	Insert(ctx context.Context, keys []models.Key, ic *ingest.InsertContext) ([]models.Key, error)
}

// Gateway is one configured federation partner.
type Gateway struct {
	ID       string
	Client   Client
	Download bool
	Upload   bool
}

type Options struct {
	Origin    string
	Retention time.Duration
	// UploadChunk is the maximum number of keys per upload batch.
	UploadChunk int
	// MaxPagesPerDay caps the pages downloaded for one date in one cycle.
	MaxPagesPerDay int
	Clock          timebucket.Clock
}

// Syncer runs federation cycles. Gateways are processed one after the other, each
// downloading before uploading.
type Syncer struct {
	gateways []Gateway
	store    Store
	inserter Inserter
	opts     Options

	mu     sync.Mutex
	states map[string]State
}

func NewSyncer(gateways []Gateway, store Store, inserter Inserter, opts Options) *Syncer {
	if opts.Clock == nil {
		opts.Clock = timebucket.SystemClock{}
	}
	if opts.UploadChunk <= 0 {
		opts.UploadChunk = 5000
	}
	if opts.MaxPagesPerDay <= 0 {
		opts.MaxPagesPerDay = 100
	}
	s := &Syncer{
		gateways: gateways,
		store:    store,
		inserter: inserter,
		opts:     opts,
		states:   make(map[string]State, len(gateways)),
	}
	for _, g := range gateways {
		s.states[g.ID] = StateIdle
	}
	return s
}

// State returns the current phase of gateway.
func (s *Syncer) State(gateway string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[gateway]
}

func (s *Syncer) setState(gateway string, st State) {
	s.mu.Lock()
	s.states[gateway] = st
	s.mu.Unlock()
}

// RunCycle synchronizes every gateway once. Failures are recorded in the sync log and
// do not stop other gateways or the other direction; the returned error joins them.
func (s *Syncer) RunCycle(ctx context.Context) error {
	start := s.opts.Clock.Now()
	defer func() {
		metrics.SyncCycleDuration.Observe(s.opts.Clock.Now().Sub(start).Seconds())
	}()

	var errs []error
	for _, g := range s.gateways {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		logger := log.Ctx(ctx).With().Str("gateway", g.ID).Logger()
		gctx := logger.WithContext(ctx)
		if g.Download {
			if err := s.guard(gctx, g, StateDownloading, models.SyncActionDownload, s.download); err != nil {
				errs = append(errs, err)
			}
		}
		if g.Upload {
			if err := s.guard(gctx, g, StateUploading, models.SyncActionUpload, s.upload); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// guard runs one direction for a gateway, turning a panic into an error.
func (s *Syncer) guard(ctx context.Context, g Gateway, st State, action models.SyncAction,
	fn func(context.Context, Gateway) error) (err error) {
	s.setState(g.ID, st)
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().
				Str("action", string(action)).
				Str("stack", string(debug.Stack())).
				Msgf("panic during sync: %v", r)
			err = ErrFederation.Msgf("panic during %s: %v", action, r)
		}
		if err != nil {
			metrics.FederationErrors.WithLabelValues(g.ID, string(action)).Inc()
		}
		s.setState(g.ID, StateIdle)
	}()
	return fn(ctx, g)
}

func (s *Syncer) download(ctx context.Context, g Gateway) error {
	today := s.opts.Clock.Now().AtStartOfDay()
	first := today.Minus(s.opts.Retention)
	var errs []error
	for date := first; !date.After(today); date = date.Plus(timebucket.Day) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		// a failed date is retried next cycle and does not hold back later dates
		if err := s.downloadDate(ctx, g, date); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) downloadDate(ctx context.Context, g Gateway, date timebucket.Instant) error {
	logger := log.Ctx(ctx).With().Str("action", string(models.SyncActionDownload)).Str("date", date.Date()).Logger()
	ctx = logger.WithContext(ctx)

	cursor, err := s.resumeCursor(ctx, g.ID, date)
	if err != nil {
		return err
	}

	for page := 0; page < s.opts.MaxPagesPerDay; page++ {
		started := s.opts.Clock.Now().Time()
		res, err := g.Client.Download(ctx, date, cursor)
		if err != nil {
			s.appendEntry(ctx, g.ID, models.SyncActionDownload, cursor, &date, started, err, models.SyncDetails{})
			return err
		}

		details := models.SyncDetails{Keys: len(res.Keys), NextBatchTag: res.NextBatchTag, Last: res.Last}
		if len(res.Keys) > 0 {
			metrics.FederationKeysDownloaded.WithLabelValues(g.ID).Add(float64(len(res.Keys)))
			inserted, err := s.inserter.Insert(ctx, res.Keys, &ingest.InsertContext{Federation: true})
			switch {
			case errors.Is(err, ingest.ErrInvalidKeyFormat):
				// a malformed batch is skipped; the rest of the date is still fetched
				s.appendEntry(ctx, g.ID, models.SyncActionDownload, res.BatchTag, &date, started, err, details)
			case err != nil:
				s.appendEntry(ctx, g.ID, models.SyncActionDownload, res.BatchTag, &date, started, err, details)
				return err
			default:
				details.Accepted = len(inserted)
				s.appendEntry(ctx, g.ID, models.SyncActionDownload, res.BatchTag, &date, started, nil, details)
			}
		} else {
			s.appendEntry(ctx, g.ID, models.SyncActionDownload, res.BatchTag, &date, started, nil, details)
		}
		logger.Debug().
			Str("batch_tag", res.BatchTag).
			Int("keys", len(res.Keys)).
			Int("accepted", details.Accepted).
			Msg("downloaded batch")

		if res.Last {
			return nil
		}
		cursor = res.NextBatchTag
	}

	err = ErrPaginationLimit.Msgf("more than %d pages for %s", s.opts.MaxPagesPerDay, date.Date())
	s.appendEntry(ctx, g.ID, models.SyncActionDownload, cursor, &date, s.opts.Clock.Now().Time(), err, models.SyncDetails{NextBatchTag: cursor})
	logger.Warn().Err(err).Msg("stopped downloading date")
	return err
}

// resumeCursor returns the batch tag of the last successful download of date. The page
// is fetched again so that batches added after it are found through its next tag.
func (s *Syncer) resumeCursor(ctx context.Context, gateway string, date timebucket.Instant) (string, error) {
	e, err := s.store.LatestDownload(ctx, gateway, date)
	if errors.Is(err, dberror.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return e.BatchTag, nil
}

func (s *Syncer) upload(ctx context.Context, g Gateway) error {
	logger := log.Ctx(ctx).With().Str("action", string(models.SyncActionUpload)).Logger()
	ctx = logger.WithContext(ctx)

	stored, err := s.store.SelectUnshared(ctx, s.opts.Origin)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		logger.Debug().Msg("nothing to upload")
		return nil
	}
	keys := make([]models.Key, len(stored))
	for i := range stored {
		keys[i] = stored[i].Key
	}

	for start := 0; start < len(keys); start += s.opts.UploadChunk {
		end := min(start+s.opts.UploadChunk, len(keys))
		if err := s.uploadChunk(ctx, g, keys[start:end], &logger); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) uploadChunk(ctx context.Context, g Gateway, chunk []models.Key, logger *zerolog.Logger) error {
	started := s.opts.Clock.Now().Time()
	batch := &UploadBatch{BatchTag: uuid.NewBatchTag(s.opts.Clock.Now().Time()), Keys: chunk}
	details := models.SyncDetails{Keys: len(chunk)}

	accepted, err := g.Client.Upload(ctx, batch)
	if err == nil && len(accepted) > 0 {
		err = s.store.MarkUploaded(ctx, accepted, batch.BatchTag)
	}
	details.Accepted = len(accepted)
	details.Failed = len(chunk) - len(accepted)
	s.appendEntry(ctx, g.ID, models.SyncActionUpload, batch.BatchTag, nil, started, err, details)
	if err != nil {
		return err
	}
	metrics.FederationKeysUploaded.WithLabelValues(g.ID).Add(float64(len(accepted)))
	logger.Info().
		Str("batch_tag", batch.BatchTag).
		Int("keys", len(chunk)).
		Int("accepted", len(accepted)).
		Msg("uploaded batch")
	return nil
}

// appendEntry records a finished action. Failing to write the log is logged and
// otherwise ignored; the next cycle repeats the work.
func (s *Syncer) appendEntry(ctx context.Context, gateway string, action models.SyncAction, batchTag string,
	date *timebucket.Instant, started time.Time, actionErr error, details models.SyncDetails) {
	e := &models.SyncLogEntry{
		Gateway:   gateway,
		Action:    action,
		BatchTag:  batchTag,
		StartedAt: started.UTC(),
		EndedAt:   s.opts.Clock.Now().Time().UTC(),
		State:     models.SyncStateDone,
	}
	if date != nil {
		d := date.Time()
		e.TargetDate = &d
	}
	if actionErr != nil {
		e.State = models.SyncStateError
		details.Error = actionErr.Error()
		log.Ctx(ctx).Error().Err(actionErr).Str("batch_tag", batchTag).Msg("sync action failed")
	}
	if err := e.SetDetails(details); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to encode sync details")
	}
	if err := s.store.Append(ctx, e); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("batch_tag", batchTag).Msgf("unable to write %s log entry", action)
	}
}
