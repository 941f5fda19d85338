// Package migrations applies versioned schema and data changes and records
// each one in a ledger so it runs exactly once per database.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidRegistry = errors.New("invalid migration registry")

// Migration is one named step. Up runs inside its own transaction.
type Migration struct {
	ID          string
	Description string
	Up          func(tx *gorm.DB, log *zap.Logger) error
}

// Record is a ledger row.
type Record struct {
	ID          string    `gorm:"primaryKey"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

func (Record) TableName() string { return "public.schema_migrations" }

type Registry struct {
	migrations []Migration
}

// NewRegistry checks that ids are present, unique and strictly increasing.
func NewRegistry(ms ...Migration) (*Registry, error) {
	for i, m := range ms {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: migration #%d has no id", ErrInvalidRegistry, i)
		}
		if m.Up == nil {
			return nil, fmt.Errorf("%w: migration %s has no Up", ErrInvalidRegistry, m.ID)
		}
		if i > 0 && m.ID <= ms[i-1].ID {
			return nil, fmt.Errorf("%w: %s must sort after %s", ErrInvalidRegistry, m.ID, ms[i-1].ID)
		}
	}
	return &Registry{migrations: append([]Migration(nil), ms...)}, nil
}

func (r *Registry) Migrations() []Migration {
	return append([]Migration(nil), r.migrations...)
}

// Status is a migration and whether it has been applied.
type Status struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
}

func (s Status) Applied() bool { return s.AppliedAt != nil }

type Runner struct {
	DB       *gorm.DB
	Registry *Registry
	Log      *zap.Logger
}

func NewRunner(d *gorm.DB, reg *Registry, log *zap.Logger) *Runner {
	return &Runner{DB: d, Registry: reg, Log: log}
}

func (r *Runner) ensureLedger(ctx context.Context) error {
	if err := r.DB.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}
	return nil
}

func (r *Runner) applied(ctx context.Context) (map[string]Record, error) {
	var rows []Record
	if err := r.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	out := make(map[string]Record, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// Apply runs every pending migration in order and returns the ids it ran.
// It stops at the first failure; earlier migrations stay applied.
func (r *Runner) Apply(ctx context.Context) ([]string, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range r.Registry.migrations {
		if _, ok := done[m.ID]; ok {
			continue
		}
		start := time.Now()
		applied, err := r.applyOne(ctx, m)
		if err != nil {
			return ran, fmt.Errorf("migration %s: %w", m.ID, err)
		}
		if !applied {
			continue
		}
		r.Log.Info("migration applied", zap.String("id", m.ID), zap.Duration("took", time.Since(start)))
		ran = append(ran, m.ID)
	}
	return ran, nil
}

// applyOne runs m unless another process recorded it first. The advisory
// lock serialises concurrent runners on the same migration.
func (r *Runner) applyOne(ctx context.Context, m Migration) (bool, error) {
	applied := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", lockKey(m.ID)).Error; err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		var count int64
		if err := tx.Model(&Record{}).Where("id = ?", m.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := m.Up(tx, r.Log.With(zap.String("migration", m.ID))); err != nil {
			return err
		}
		applied = true
		return tx.Create(&Record{ID: m.ID, Description: m.Description, AppliedAt: time.Now().UTC()}).Error
	})
	return applied, err
}

// Status lists every registered migration with its ledger entry.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(r.Registry.migrations))
	for _, m := range r.Registry.migrations {
		s := Status{ID: m.ID, Description: m.Description}
		if rec, ok := done[m.ID]; ok {
			at := rec.AppliedAt
			s.AppliedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}

func lockKey(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("fidelis-migration:" + id))
	return int64(h.Sum64())
}
