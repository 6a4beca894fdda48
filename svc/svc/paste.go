package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"pastebox/cfg"
	"pastebox/metrics"
	"pastebox/pkg/domain"
	"pastebox/svc/cache"
	"pastebox/svc/crypt"
	"pastebox/svc/db"
	"pastebox/svc/util"
)

// Paste is the lifecycle engine. It owns the create/read/preview/list/delete
// decisions; all durable state lives in the store. The engine itself is
// stateless apart from read-through caches, so any number of requests may
// run it concurrently.
type Paste struct {
	db     *db.SQLite
	lru    *cache.LRU
	rdb    *db.Redis
	cipher *crypt.Cipher
	cfg    *cfg.Cfg
	sf     singleflight.Group
}

func NewPaste(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, cipher *crypt.Cipher, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lru == nil || cipher == nil || c == nil {
		panic("paste service: nil dependency (sqlDB, lru, cipher, or cfg)")
	}
	return &Paste{
		db:     sqlDB,
		lru:    lru,
		rdb:    rdb,
		cipher: cipher,
		cfg:    c,
	}
}

// Create fixes every field of the new paste at birth except views and
// deleted. A supplied password switches the stored content to ciphertext;
// plaintext for an encrypted paste never reaches the store.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	id, err := util.GenID(func(id string) (bool, error) {
		return p.db.Exists(ctx, id)
	})
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}
	language := params.Language
	if language == "" {
		language = domain.DefaultLanguage
	}
	now := time.Now().UTC()
	paste := &domain.Paste{
		ID:            id,
		Content:       params.Content,
		Language:      language,
		CreatedAt:     now,
		BurnAfterRead: params.BurnAfterRead,
		IsPrivate:     params.IsPrivate,
		Views:         0,
	}
	if params.ExpiresIn != nil {
		paste.ExpiresAt = now.Add(*params.ExpiresIn)
	}
	if params.Password != "" {
		ciphertext, err := p.cipher.Encrypt(params.Content, params.Password)
		if err != nil {
			return nil, errors.Wrap(err, "encrypt content")
		}
		paste.IsEncrypted = true
		paste.Content = ciphertext
	}
	if err := p.db.Insert(ctx, paste); err != nil {
		return nil, errors.Wrap(err, "insert paste")
	}
	p.cacheStored(ctx, paste)
	paste.Content = params.Content
	metrics.PasteCreated.Inc()
	return paste, nil
}

// Get is the full read path. The order is fixed: fetch, password gate,
// decrypt, then the view/burn transition. No failure branch advances the
// counter or deletes anything.
func (p *Paste) Get(ctx context.Context, id, password string) (*domain.Paste, error) {
	stored, err := p.fetchStored(ctx, id)
	if err != nil {
		return nil, err
	}
	content := stored.Content
	if stored.IsEncrypted {
		if password == "" {
			return nil, domain.ErrPasswordRequired
		}
		plaintext, err := p.cipher.Decrypt(stored.Content, password)
		if err != nil {
			metrics.DecryptFailures.Inc()
			return nil, domain.ErrInvalidPassword
		}
		content = plaintext
	}
	// The transition is a single conditional update in the store, so of two
	// racing reads of a burn paste only one arrives here with a row.
	views, err := p.db.ConsumeView(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			p.invalidate(ctx, id)
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "consume view")
	}
	if stored.BurnAfterRead {
		p.invalidate(ctx, id)
		metrics.PasteBurned.Inc()
	} else {
		refreshed := *stored
		refreshed.Views = views
		p.cacheStored(ctx, &refreshed)
	}
	result := *stored
	result.Content = content
	result.Views = views
	result.Deleted = false
	metrics.PasteRetrieved.Inc()
	return &result, nil
}

// Preview never touches passphrases, counters or deletion: it serves the
// summary projection straight from the store. Concurrent previews of the
// same id collapse to one query.
func (p *Paste) Preview(ctx context.Context, id string) (*domain.Summary, error) {
	v, err, _ := p.sf.Do("summary:"+id, func() (any, error) {
		return p.db.GetSummary(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Summary), nil
}

// List returns up to the configured limit of live summaries, newest first.
func (p *Paste) List(ctx context.Context) ([]domain.Summary, error) {
	v, err, _ := p.sf.Do("list", func() (any, error) {
		return p.db.ListLive(ctx, p.cfg.ListLimit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Summary), nil
}

// Delete soft-deletes an undeleted paste, expired or not. A second delete
// of the same id reports not-found, never success.
func (p *Paste) Delete(ctx context.Context, id string) error {
	exists, err := p.db.ExistsUndeleted(ctx, id)
	if err != nil {
		return errors.Wrap(err, "exists check")
	}
	if !exists {
		return domain.ErrPasteNotFound
	}
	if err := p.db.SoftDelete(ctx, id); err != nil {
		return errors.Wrap(err, "soft delete")
	}
	p.invalidate(ctx, id)
	metrics.PasteDeleted.Inc()
	util.Info().Str("id", id).Msg("paste deleted")
	return nil
}

// fetchStored resolves the stored row through LRU, then Redis, then SQLite.
// Cached rows carry ciphertext for encrypted pastes and are re-checked for
// liveness here; the store remains the arbiter on the mutating read path.
func (p *Paste) fetchStored(ctx context.Context, id string) (*domain.Paste, error) {
	now := time.Now().UTC()
	if paste := p.lru.Get(ctx, id); paste != nil {
		if !paste.Live(now) {
			p.invalidate(ctx, id)
			return nil, domain.ErrPasteNotFound
		}
		metrics.CacheHits.Inc()
		return paste, nil
	}
	if p.rdb != nil {
		if paste, err := p.rdb.GetPaste(ctx, id); err == nil && paste != nil {
			if !paste.Live(now) {
				p.invalidate(ctx, id)
				return nil, domain.ErrPasteNotFound
			}
			metrics.CacheHits.Inc()
			p.lru.Set(ctx, paste, p.storedTTL(paste))
			return paste, nil
		}
	}
	metrics.CacheMisses.Inc()
	paste, err := p.db.GetLive(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	p.cacheStored(ctx, paste)
	return paste, nil
}

func (p *Paste) storedTTL(paste *domain.Paste) time.Duration {
	if paste.HasExpiry() {
		return time.Until(paste.ExpiresAt)
	}
	return p.cfg.CacheTTL
}

// cacheStored snapshots the row before caching; callers may go on to
// mutate their copy (Create restores plaintext for the response).
func (p *Paste) cacheStored(ctx context.Context, paste *domain.Paste) {
	ttl := p.storedTTL(paste)
	if ttl <= 0 {
		return
	}
	snapshot := *paste
	p.lru.Set(ctx, &snapshot, ttl)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, &snapshot, p.cfg.CacheTTL); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("failed to cache in Redis")
		}
	}
}

func (p *Paste) invalidate(ctx context.Context, id string) {
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete from redis")
		}
	}
}

var (
	janitorOnce    sync.Once
	janitorRunning atomic.Bool
)

// StartJanitor launches the purge worker: soft-deleted rows and rows past
// expiry beyond the retention window are physically removed on a timer.
func StartJanitor(ctx context.Context, sqlDB *db.SQLite, interval, retention time.Duration) error {
	if janitorRunning.Load() {
		return errors.New("janitor already running")
	}
	janitorOnce.Do(func() {
		janitorRunning.Store(true)
		go runJanitor(ctx, sqlDB, interval, retention)
	})
	return nil
}

func runJanitor(ctx context.Context, sqlDB *db.SQLite, interval, retention time.Duration) {
	defer janitorRunning.Store(false)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().Dur("interval", interval).Dur("retention", retention).Msg("purge worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().Msg("purge worker shutting down")
			return
		case <-ticker.C:
			deleted, err := sqlDB.PurgeExpired(ctx, retention)
			metrics.PruneCycles.Inc()
			if err != nil {
				util.Error().Err(err).Msg("purge failed")
			} else if deleted > 0 {
				util.Info().Int("purged", deleted).Msg("purge completed")
			}
		}
	}
}
