package syncer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BacklogOptions struct {
	// BaseDelay is the wait after the first failed retry. Doubles per attempt. Default: 1m.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Default: 24h.
	MaxDelay time.Duration
	// MaxAttempts drops a URL after this many failed retries. 0 means the default (10);
	// negative means unlimited.
	MaxAttempts int
	Logger      *slog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

func (o *BacklogOptions) defaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Minute
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 24 * time.Hour
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 10
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// DBBacklog is the page-fetch backlog stored in the runner's SQLite database.
// Writes are serialized so concurrent enqueues never hit SQLITE_BUSY.
type DBBacklog struct {
	db   *gorm.DB
	opts BacklogOptions
	mu   sync.Mutex
}

func NewDBBacklog(db *gorm.DB, opts BacklogOptions) *DBBacklog {
	opts.defaults()
	return &DBBacklog{db: db, opts: opts}
}

// EnqueueEntry records url for a later fetch. Enqueuing a URL that is already waiting is a no-op.
func (b *DBBacklog) EnqueueEntry(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("backlog: empty url")
	}
	now := b.opts.Now().UTC()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(&BacklogEntry{URL: url, EnqueuedAt: now, NextAttemptAt: now}).Error
}

// Due returns up to limit entries whose next attempt time has passed, oldest first.
func (b *DBBacklog) Due(ctx context.Context, limit int) ([]BacklogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []BacklogEntry
	err := b.db.WithContext(ctx).
		Where("next_attempt_at <= ?", b.opts.Now().UTC()).
		Order("next_attempt_at asc, id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Done removes url from the backlog.
func (b *DBBacklog) Done(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.WithContext(ctx).Where("url = ?", url).Delete(&BacklogEntry{}).Error
}

// Fail records a failed retry and pushes the next attempt back. Returns true when the
// entry was dropped because it ran out of attempts.
func (b *DBBacklog) Fail(ctx context.Context, url string, cause error) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var entry BacklogEntry
	err := b.db.WithContext(ctx).Where("url = ?", url).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	attempts := entry.Attempts + 1
	if b.opts.MaxAttempts > 0 && attempts >= b.opts.MaxAttempts {
		b.opts.Logger.Warn("backlog: giving up on page", "url", url, "attempts", attempts, "error", cause)
		return true, b.db.WithContext(ctx).Delete(&entry).Error
	}

	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	next := b.opts.Now().UTC().Add(b.backoff(attempts))
	return false, b.db.WithContext(ctx).Model(&entry).Updates(map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next,
		"last_error":      lastErr,
	}).Error
}

func (b *DBBacklog) Len(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.WithContext(ctx).Model(&BacklogEntry{}).Count(&n).Error
	return n, err
}

func (b *DBBacklog) backoff(attempts int) time.Duration {
	d := b.opts.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.opts.MaxDelay {
			return b.opts.MaxDelay
		}
	}
	return d
}
