// Package sqlite persists the crawl frontier in a local SQLite database
// through gorm. It is the default durable backend for single-machine crawls.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

const maxClaimAttempts = 3

// Config configures FrontierStore.
type Config struct {
	Path    string
	Options frontier.Options
	Clock   crawler.Clock
	Logger  *zap.Logger
}

// FrontierStore implements frontier.Store on SQLite. Write transactions take
// the database lock up front (_txlock=immediate) so claims from several
// processes sharing the file never interleave.
type FrontierStore struct {
	db     *gorm.DB
	opts   frontier.Options
	clock  crawler.Clock
	logger *zap.Logger
}

var _ frontier.Store = (*FrontierStore)(nil)

// NewFrontierStore opens (creating if needed) the database at cfg.Path.
func NewFrontierStore(cfg Config) (*FrontierStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&entryRow{}, &redirectRow{}, &linkRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &FrontierStore{db: db, opts: cfg.Options, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Enqueue implements frontier.Store.
func (s *FrontierStore) Enqueue(ctx context.Context, req frontier.EnqueueRequest) (frontier.EnqueueResult, error) {
	now := s.clock.Now()
	var res frontier.EnqueueResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entryRow
		err := tx.Where("url_key = ?", req.Key).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = toRow(frontier.NewEntry(req, s.opts, now))
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
			res = frontier.EnqueueResult{Entry: row.entry(), Created: true}
			return nil
		case err != nil:
			return fmt.Errorf("load entry: %w", err)
		}

		merged, changed := frontier.Merge(row.entry(), req, s.opts, now)
		if changed {
			updated := toRow(merged)
			if err := tx.Save(&updated).Error; err != nil {
				return fmt.Errorf("update entry: %w", err)
			}
		}
		res = frontier.EnqueueResult{Entry: merged}
		return nil
	})
	if err != nil {
		return frontier.EnqueueResult{}, fmt.Errorf("enqueue %s: %w", req.URL, err)
	}
	return res, nil
}

// ClaimBatch implements frontier.Store.
func (s *FrontierStore) ClaimBatch(ctx context.Context, n int, worker string) ([]frontier.Entry, error) {
	var claimed []frontier.Entry
	for attempt := 0; attempt < maxClaimAttempts && len(claimed) < n; attempt++ {
		batch, err := s.claimOnce(ctx, n-len(claimed), worker)
		claimed = append(claimed, batch...)
		if err == nil {
			break
		}
		if !errors.Is(err, frontier.ErrClaimConflict) {
			return claimed, err
		}
		s.logger.Debug("claim conflict, retrying", zap.String("worker_id", worker), zap.Int("attempt", attempt))
	}
	return claimed, nil
}

func (s *FrontierStore) claimOnce(ctx context.Context, n int, worker string) ([]frontier.Entry, error) {
	now := s.clock.Now()
	var claimed []frontier.Entry
	conflicts := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []entryRow
		err := tx.Where("state = ? AND next_eligible_at <= ?", string(frontier.StateQueued), micros(now)).
			Order("score DESC, depth ASC, id ASC").
			Limit(n).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("select claimable: %w", err)
		}
		for _, row := range rows {
			e := frontier.ClaimEntry(row.entry(), worker, now)
			result := tx.Model(&entryRow{}).
				Where("id = ? AND state = ?", row.ID, string(frontier.StateQueued)).
				Updates(map[string]any{
					"state":      string(e.State),
					"claimed_by": e.ClaimedBy,
					"claimed_at": micros(e.ClaimedAt),
					"updated_at": micros(e.UpdatedAt),
				})
			if result.Error != nil {
				return fmt.Errorf("claim entry %d: %w", row.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				conflicts++
				continue
			}
			claimed = append(claimed, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if conflicts > 0 {
		return claimed, frontier.ErrClaimConflict
	}
	return claimed, nil
}

// ClaimKey implements frontier.Store.
func (s *FrontierStore) ClaimKey(ctx context.Context, key, worker string) (frontier.Entry, bool, error) {
	now := s.clock.Now()
	var (
		claimed frontier.Entry
		ok      bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entryRow
		err := tx.Where("url_key = ?", key).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load entry: %w", err)
		}
		e := row.entry()
		if !frontier.Eligible(e, now) {
			claimed = e
			return nil
		}
		claimed = frontier.ClaimEntry(e, worker, now)
		updated := toRow(claimed)
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("claim entry %d: %w", row.ID, err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return frontier.Entry{}, false, fmt.Errorf("claim key: %w", err)
	}
	return claimed, ok, nil
}

// Complete implements frontier.Store.
func (s *FrontierStore) Complete(ctx context.Context, claim frontier.Claim, outcome frontier.Outcome) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entryRow
		err := tx.Where("id = ?", claim.EntryID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("complete entry %d: %w", claim.EntryID, frontier.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load entry %d: %w", claim.EntryID, err)
		}
		next, changed, err := frontier.ApplyOutcome(row.entry(), claim, outcome, now)
		if err != nil || !changed {
			return err
		}
		updated := toRow(next)
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("complete entry %d: %w", claim.EntryID, err)
		}
		return nil
	})
}

// Release implements frontier.Store.
func (s *FrontierStore) Release(ctx context.Context, claims []frontier.Claim, eligibleAt time.Time) error {
	if len(claims) == 0 {
		return nil
	}
	now := s.clock.Now()
	ids := make([]int64, len(claims))
	byID := make(map[int64]frontier.Claim, len(claims))
	for i, c := range claims {
		ids[i] = c.EntryID
		byID[c.EntryID] = c
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []entryRow
		if err := tx.Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return fmt.Errorf("load claimed entries: %w", err)
		}
		for _, row := range rows {
			next, changed := frontier.ReleaseEntry(row.entry(), byID[row.ID], eligibleAt, now)
			if !changed {
				continue
			}
			updated := toRow(next)
			if err := tx.Save(&updated).Error; err != nil {
				return fmt.Errorf("release entry %d: %w", row.ID, err)
			}
		}
		return nil
	})
}

// ReclaimStale implements frontier.Store.
func (s *FrontierStore) ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error) {
	now := s.clock.Now()
	result := s.db.WithContext(ctx).Model(&entryRow{}).
		Where("state = ? AND claimed_at <= ?", string(frontier.StateClaimed), micros(now.Add(-maxAge))).
		Updates(map[string]any{
			"state":            string(frontier.StateQueued),
			"claimed_by":       "",
			"next_eligible_at": micros(now),
			"updated_at":       micros(now),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reclaim stale: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// IsExhausted implements frontier.Store.
func (s *FrontierStore) IsExhausted(ctx context.Context) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&entryRow{}).
		Where("state IN ?", []string{string(frontier.StateQueued), string(frontier.StateClaimed)}).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count open entries: %w", err)
	}
	return count == 0, nil
}

// Lookup implements frontier.Store.
func (s *FrontierStore) Lookup(ctx context.Context, key string) (frontier.Entry, bool, error) {
	var row entryRow
	err := s.db.WithContext(ctx).Where("url_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return frontier.Entry{}, false, nil
	}
	if err != nil {
		return frontier.Entry{}, false, fmt.Errorf("lookup entry: %w", err)
	}
	return row.entry(), true, nil
}

// RecordRedirect implements frontier.Store.
func (s *FrontierStore) RecordRedirect(ctx context.Context, hop frontier.RedirectHop) error {
	row := redirectRow{
		SourceKey:     hop.SourceKey,
		Seq:           hop.Seq,
		FromURL:       hop.FromURL,
		ToURL:         hop.ToURL,
		ToKey:         hop.ToKey,
		Status:        hop.Status,
		ChainLength:   hop.ChainLength,
		Result:        hop.Result,
		CreatedMicros: micros(hop.CreatedAt),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_key"}, {Name: "seq"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("insert redirect: %w", err)
	}
	return nil
}

// Redirects implements frontier.Store.
func (s *FrontierStore) Redirects(ctx context.Context, sourceKey string) ([]frontier.RedirectHop, error) {
	var rows []redirectRow
	if err := s.db.WithContext(ctx).Where("source_key = ?", sourceKey).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list redirects: %w", err)
	}
	hops := make([]frontier.RedirectHop, len(rows))
	for i, r := range rows {
		hops[i] = frontier.RedirectHop{
			SourceKey:   r.SourceKey,
			Seq:         r.Seq,
			FromURL:     r.FromURL,
			ToURL:       r.ToURL,
			ToKey:       r.ToKey,
			Status:      r.Status,
			ChainLength: r.ChainLength,
			Result:      r.Result,
			CreatedAt:   fromMicros(r.CreatedMicros),
		}
	}
	return hops, nil
}

// RecordLinks implements frontier.Store.
func (s *FrontierStore) RecordLinks(ctx context.Context, fromKey string, toKeys []string) error {
	seen := make(map[string]struct{}, len(toKeys))
	rows := make([]linkRow, 0, len(toKeys))
	for _, k := range toKeys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, linkRow{FromKey: fromKey, ToKey: k})
	}
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 200).Error
	if err != nil {
		return fmt.Errorf("insert links: %w", err)
	}
	return nil
}

// OutLinks implements frontier.Store.
func (s *FrontierStore) OutLinks(ctx context.Context, fromKey string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&linkRow{}).
		Where("from_key = ?", fromKey).
		Order("to_key ASC").
		Pluck("to_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return keys, nil
}

// Stats implements frontier.Store.
func (s *FrontierStore) Stats(ctx context.Context) (frontier.Stats, error) {
	var rows []struct {
		State string
		N     int
	}
	err := s.db.WithContext(ctx).Model(&entryRow{}).
		Select("state, count(*) AS n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("frontier stats: %w", err)
	}
	stats := make(frontier.Stats, len(rows))
	for _, r := range rows {
		stats[frontier.State(r.State)] = r.N
	}
	return stats, nil
}

// Reset implements frontier.Store.
func (s *FrontierStore) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"frontier_entries", "frontier_redirects", "frontier_links"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// Close implements frontier.Store.
func (s *FrontierStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	return sqlDB.Close()
}
