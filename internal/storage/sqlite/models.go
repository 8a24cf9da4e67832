package sqlite

import (
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

// entryRow is the persisted form of frontier.Entry. Times are stored as Unix
// microseconds so range predicates compare integers.
type entryRow struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	URLKey          string  `gorm:"column:url_key;not null;uniqueIndex"`
	URL             string  `gorm:"not null"`
	Host            string  `gorm:"index"`
	Class           string  `gorm:"not null;default:''"`
	Source          string  `gorm:"not null"`
	Depth           int     `gorm:"not null;index:idx_frontier_claim,priority:4"`
	Score           float64 `gorm:"not null;index:idx_frontier_claim,priority:3,sort:desc"`
	SitemapPriority float64 `gorm:"not null;default:0"`
	Inlinks         int     `gorm:"not null;default:0"`
	State           string  `gorm:"not null;index:idx_frontier_claim,priority:1"`
	Attempts        int     `gorm:"not null;default:0"`
	ClaimedBy       string  `gorm:"not null;default:''"`
	ClaimedMicros   int64   `gorm:"column:claimed_at;not null;default:0"`
	EligibleMicros  int64   `gorm:"column:next_eligible_at;not null;index:idx_frontier_claim,priority:2"`
	LastOutcome     string  `gorm:"not null;default:''"`
	LastStatus      int     `gorm:"not null;default:0"`
	LastError       string  `gorm:"not null;default:''"`
	ContentHash     string  `gorm:"not null;default:''"`
	RedirectTarget  string  `gorm:"not null;default:''"`
	DiscoveredMicro int64   `gorm:"column:discovered_at;not null"`
	UpdatedMicros   int64   `gorm:"column:updated_at;not null"`
}

func (entryRow) TableName() string { return "frontier_entries" }

type redirectRow struct {
	SourceKey     string `gorm:"primaryKey"`
	Seq           int    `gorm:"primaryKey"`
	FromURL       string `gorm:"not null"`
	ToURL         string `gorm:"not null"`
	ToKey         string `gorm:"not null"`
	Status        int    `gorm:"not null"`
	ChainLength   int    `gorm:"not null"`
	Result        string `gorm:"not null"`
	CreatedMicros int64  `gorm:"column:created_at;not null"`
}

func (redirectRow) TableName() string { return "frontier_redirects" }

type linkRow struct {
	FromKey string `gorm:"primaryKey"`
	ToKey   string `gorm:"primaryKey"`
}

func (linkRow) TableName() string { return "frontier_links" }

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func toRow(e frontier.Entry) entryRow {
	return entryRow{
		ID:              e.ID,
		URLKey:          e.Key,
		URL:             e.URL,
		Host:            e.Host,
		Class:           e.Class,
		Source:          string(e.Source),
		Depth:           e.Depth,
		Score:           e.Score,
		SitemapPriority: e.SitemapPriority,
		Inlinks:         e.Inlinks,
		State:           string(e.State),
		Attempts:        e.Attempts,
		ClaimedBy:       e.ClaimedBy,
		ClaimedMicros:   micros(e.ClaimedAt),
		EligibleMicros:  micros(e.NextEligibleAt),
		LastOutcome:     e.LastOutcome,
		LastStatus:      e.LastStatus,
		LastError:       e.LastError,
		ContentHash:     e.ContentHash,
		RedirectTarget:  e.RedirectTarget,
		DiscoveredMicro: micros(e.DiscoveredAt),
		UpdatedMicros:   micros(e.UpdatedAt),
	}
}

func (r entryRow) entry() frontier.Entry {
	return frontier.Entry{
		ID:              r.ID,
		Key:             r.URLKey,
		URL:             r.URL,
		Host:            r.Host,
		Class:           r.Class,
		Source:          frontier.Source(r.Source),
		Depth:           r.Depth,
		Score:           r.Score,
		SitemapPriority: r.SitemapPriority,
		Inlinks:         r.Inlinks,
		State:           frontier.State(r.State),
		Attempts:        r.Attempts,
		ClaimedBy:       r.ClaimedBy,
		ClaimedAt:       fromMicros(r.ClaimedMicros),
		NextEligibleAt:  fromMicros(r.EligibleMicros),
		LastOutcome:     r.LastOutcome,
		LastStatus:      r.LastStatus,
		LastError:       r.LastError,
		ContentHash:     r.ContentHash,
		RedirectTarget:  r.RedirectTarget,
		DiscoveredAt:    fromMicros(r.DiscoveredMicro),
		UpdatedAt:       fromMicros(r.UpdatedMicros),
	}
}
