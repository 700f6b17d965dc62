package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IPQuotaRecord is the durable row behind the Postgres store, one per
// distinct IP ever seen. UsedCount is monotonically non-decreasing within a
// window; the window rolls at UTC midnight.
type IPQuotaRecord struct {
	IP          string    `gorm:"primaryKey;size:45"`
	UsedCount   int       `gorm:"not null;default:0"`
	WindowStart time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

// TableName overrides the GORM table name.
func (IPQuotaRecord) TableName() string {
	return "ip_quotas"
}

// PostgresStore is a durable Store backed by Postgres, for deployments that
// need counters to survive restarts without running Redis.
type PostgresStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostgresStore creates a Postgres-backed quota store and migrates its
// table.
func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&IPQuotaRecord{}); err != nil {
		return nil, fmt.Errorf("migrate ip_quotas: %w", err)
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

// Acquire implements Store. The row is locked for the check-and-increment so
// concurrent acquires for one IP serialize on the database.
func (s *PostgresStore) Acquire(ctx context.Context, ip string, limit, cost int) (Usage, error) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var usage Usage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec IPQuotaRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("ip = ?", ip).
			First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = IPQuotaRecord{IP: ip, WindowStart: now}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if rec.WindowStart.Before(midnight) {
			rec.UsedCount = 0
			rec.WindowStart = now
		}

		if rec.UsedCount+cost > limit {
			usage = Usage{
				Used:      rec.UsedCount,
				Remaining: remaining(limit, rec.UsedCount),
				ResetAt:   nextMidnightUTC(now),
			}
			// Persist a possible window roll even on denial.
			return tx.Model(&IPQuotaRecord{}).Where("ip = ?", ip).
				Updates(map[string]any{
					"used_count":   rec.UsedCount,
					"window_start": rec.WindowStart,
				}).Error
		}

		rec.UsedCount += cost
		usage = Usage{
			Admitted:  true,
			Used:      rec.UsedCount,
			Remaining: remaining(limit, rec.UsedCount),
			ResetAt:   nextMidnightUTC(now),
		}
		return tx.Model(&IPQuotaRecord{}).Where("ip = ?", ip).
			Updates(map[string]any{
				"used_count":   rec.UsedCount,
				"window_start": rec.WindowStart,
			}).Error
	})
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return usage, nil
}

// Lookup implements Store.
func (s *PostgresStore) Lookup(ctx context.Context, ip string, limit int) (Usage, error) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var rec IPQuotaRecord
	err := s.db.WithContext(ctx).Where("ip = ?", ip).First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Usage{Remaining: limit, ResetAt: nextMidnightUTC(now)}, nil
	case err != nil:
		return Usage{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	used := rec.UsedCount
	if rec.WindowStart.Before(midnight) {
		used = 0
	}

	return Usage{
		Used:      used,
		Remaining: remaining(limit, used),
		ResetAt:   nextMidnightUTC(now),
	}, nil
}
