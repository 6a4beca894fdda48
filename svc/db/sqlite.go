package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"pastebox/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

// migrate applies the schema. The is_encrypted column arrived after the
// initial table, so it is added by a guarded ALTER; both steps are
// idempotent and order-independent.
func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'plain',
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		burn_after_read INTEGER NOT NULL DEFAULT 0,
		is_private INTEGER NOT NULL DEFAULT 0,
		views INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_created_at ON pastes(created_at);
	`
	if _, err = s.db.Exec(query); err != nil {
		return errors.Wrap(err, "create table")
	}
	hasCol, err := s.hasColumn("is_encrypted")
	if err != nil {
		return err
	}
	if !hasCol {
		if _, err := s.db.Exec(`ALTER TABLE pastes ADD COLUMN is_encrypted INTEGER NOT NULL DEFAULT 0`); err != nil {
			return errors.Wrap(err, "add is_encrypted column")
		}
	}
	return nil
}

func (s *SQLite) hasColumn(name string) (bool, error) {
	rows, err := s.db.Query(`PRAGMA table_info(pastes)`)
	if err != nil {
		return false, errors.Wrap(err, "table info")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return false, errors.Wrap(err, "scan table info")
		}
		if colName == name {
			return true, nil
		}
	}
	return false, errors.Wrap(rows.Err(), "table info rows")
}

// storageErr classifies driver failures so the boundary can report them as
// STORAGE_FAILURE while the full cause stays in the logs.
func storageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(domain.ErrStorageFailure, "%s: %v", msg, err)
}

// Insert writes a full new row. Duplicate ids surface as a storage failure;
// the generator's existence check makes them unexpected.
func (s *SQLite) Insert(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return storageErr(err, "db insert")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, content, language, created_at, expires_at, burn_after_read, is_private, is_encrypted, views, deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Content, p.Language, p.CreatedAt.UTC(), nullableTime(p.ExpiresAt),
		p.BurnAfterRead, p.IsPrivate, p.IsEncrypted,
	)
	s.recordError(err)
	return storageErr(err, "db insert")
}

const liveCond = `deleted = 0 AND (expires_at IS NULL OR expires_at > ?)`

// GetLive returns the row only if it is live. Encrypted content comes back
// as stored; the engine decides whether it may be decrypted.
func (s *SQLite) GetLive(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, storageErr(err, "db get")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, content, language, created_at, expires_at, burn_after_read, is_private, is_encrypted, views, deleted
	FROM pastes WHERE id = ? AND ` + liveCond
	p, err := scanPaste(s.db.QueryRowContext(queryCtx, q, id, time.Now().UTC()))
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, storageErr(err, "db get")
	}
	return p, nil
}

// GetSummary is the liveness-filtered preview fetch: same row, content
// already truncated or replaced by the placeholder.
func (s *SQLite) GetSummary(ctx context.Context, id string) (*domain.Summary, error) {
	p, err := s.GetLive(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := domain.Summarize(p)
	return &sum, nil
}

// ListLive returns up to limit live rows, newest first, as summaries.
// Private pastes are not excluded; is_private travels as a flag.
func (s *SQLite) ListLive(ctx context.Context, limit int) ([]domain.Summary, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, storageErr(err, "db list")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, content, language, created_at, expires_at, burn_after_read, is_private, is_encrypted, views, deleted
	FROM pastes WHERE ` + liveCond + `
	ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(queryCtx, q, time.Now().UTC(), limit)
	s.recordError(err)
	if err != nil {
		return nil, storageErr(err, "db list")
	}
	defer rows.Close()
	summaries := make([]domain.Summary, 0, limit)
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			s.recordError(err)
			return nil, storageErr(err, "db list scan")
		}
		summaries = append(summaries, domain.Summarize(p))
	}
	if err := rows.Err(); err != nil {
		s.recordError(err)
		return nil, storageErr(err, "db list rows")
	}
	return summaries, nil
}

// ConsumeView is the read-side state transition: one atomic statement that
// increments the counter, soft-deletes burn-after-read rows, and re-checks
// liveness. Of two concurrent reads of a burn paste, exactly one gets a row
// back; the other sees ErrPasteNotFound.
func (s *SQLite) ConsumeView(ctx context.Context, id string) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, storageErr(err, "db consume view")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	UPDATE pastes
	SET views = views + 1,
	    deleted = CASE WHEN burn_after_read = 1 THEN 1 ELSE deleted END
	WHERE id = ? AND ` + liveCond + `
	RETURNING views`
	var views int
	err := s.db.QueryRowContext(queryCtx, q, id, time.Now().UTC()).Scan(&views)
	if err == sql.ErrNoRows {
		return 0, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return 0, storageErr(err, "db consume view")
	}
	return views, nil
}

// SoftDelete flips the deleted flag. Idempotent; the row stays on disk
// until the purge janitor collects it.
func (s *SQLite) SoftDelete(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return storageErr(err, "db soft delete")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `UPDATE pastes SET deleted = 1 WHERE id = ?`, id)
	s.recordError(err)
	return storageErr(err, "db soft delete")
}

// ExistsUndeleted reports presence regardless of expiry but excluding rows
// already soft-deleted. The delete path uses it so a second delete of the
// same id reads as not-found.
func (s *SQLite) ExistsUndeleted(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, storageErr(err, "db exists")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? AND deleted = 0 LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, storageErr(err, "db exists")
	}
	return exists == 1, nil
}

// Exists checks the full id space, deleted rows included. Used by the id
// generator's collision retry.
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, storageErr(err, "db exists")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, storageErr(err, "db exists")
	}
	return exists == 1, nil
}

// PurgeExpired physically removes rows that are soft-deleted or whose expiry
// is older than the retention window, in bounded batches. Operational
// hygiene only; engine semantics never depend on it.
func (s *SQLite) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, storageErr(err, "db purge")
	}
	cutoff := time.Now().UTC().Add(-retention)
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE deleted = 1
				   OR (expires_at IS NOT NULL AND expires_at < ?)
				LIMIT 100
			)
		`, cutoff)
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, storageErr(err, "purge batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaste(row rowScanner) (*domain.Paste, error) {
	var (
		p         domain.Paste
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.Content, &p.Language, &p.CreatedAt, &expiresAt,
		&p.BurnAfterRead, &p.IsPrivate, &p.IsEncrypted, &p.Views, &p.Deleted,
	)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if expiresAt.Valid {
		p.ExpiresAt = expiresAt.Time.UTC()
	}
	return &p, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
