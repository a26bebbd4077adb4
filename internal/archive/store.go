package archive

import (
	"context"
	"time"

	"github.com/floratech/rose-counter/internal/tracking"
	"gorm.io/gorm"
)

// SessionRecord is one row per completed session. The persistent blob's
// history drives the counters; this table exists for durable reporting
// across store resets.
type SessionRecord struct {
	ID              uint   `gorm:"primaryKey"`
	SessionID       string `gorm:"uniqueIndex;size:64"`
	SessionNumber   int64
	UniqueRoses     int64
	DurationSeconds float64
	AverageFPS      float64
	TotalFrames     int64
	EndedAt         time.Time
	CreatedAt       time.Time
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&SessionRecord{})
}

func (s *Store) Record(ctx context.Context, entry tracking.HistoryEntry) error {
	record := SessionRecord{
		SessionID:       entry.SessionID,
		SessionNumber:   entry.SessionNumber,
		UniqueRoses:     entry.UniqueRoses,
		DurationSeconds: entry.DurationSeconds,
		AverageFPS:      entry.AverageFPS,
		TotalFrames:     entry.TotalFrames,
		EndedAt:         entry.EndedAt,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *Store) Recent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []SessionRecord
	err := s.db.WithContext(ctx).
		Order("ended_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
