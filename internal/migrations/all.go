package migrations

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fidelis-church/fidelis-backend/internal/auth"
	"github.com/fidelis-church/fidelis-backend/internal/events"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/observability"
	"github.com/fidelis-church/fidelis-backend/internal/visitors"
	"github.com/fidelis-church/fidelis-backend/internal/webhooks"
)

const batchSize = 200

// Default is the registry the API and the admin CLI apply.
func Default() *Registry {
	reg, err := NewRegistry(
		Migration{ID: "0001_auth_tables", Description: "users and sessions", Up: schemaOnly(auth.Migrate)},
		Migration{ID: "0002_visitor_tables", Description: "visitors with JSONB attendance", Up: schemaOnly(visitors.Migrate)},
		Migration{ID: "0003_event_tables", Description: "events and RSVPs", Up: schemaOnly(events.Migrate)},
		Migration{ID: "0004_inbox_tables", Description: "raw webhook submissions", Up: schemaOnly(webhooks.Migrate)},
		Migration{ID: "0005_visitor_city_keys", Description: "recompute normalised city keys", Up: recomputeCityKeys},
		Migration{ID: "0006_backfill_assigned_month", Description: "derive missing assigned months from visit dates", Up: backfillAssignedMonth},
		Migration{ID: "0007_reclassify_attendance", Description: "re-bucket attendance through the classifier", Up: reclassifyAttendance},
	)
	if err != nil {
		panic(err)
	}
	return reg
}

func schemaOnly(fn func(*gorm.DB) error) func(*gorm.DB, *zap.Logger) error {
	return func(tx *gorm.DB, _ *zap.Logger) error { return fn(tx) }
}

func recomputeCityKeys(tx *gorm.DB, log *zap.Logger) error {
	var batch []visitors.Visitor
	updated := 0
	res := tx.Select("id", "city", "city_key").FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		for _, v := range batch {
			key := fidelity.CityKey(v.City)
			if key == v.CityKey {
				continue
			}
			if err := tx.Model(&visitors.Visitor{}).Where("id = ?", v.ID).Update("city_key", key).Error; err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if res.Error != nil {
		return res.Error
	}
	log.Info("city keys recomputed", zap.Int("updated", updated))
	return nil
}

// backfillMonth sets the assigned month of a visitor that has none. The
// month is never changed once set.
func backfillMonth(v *visitors.Visitor) bool {
	if v.AssignedMonth != "" || v.VisitDate.IsZero() {
		return false
	}
	v.AssignedMonth = fidelity.MonthOf(v.VisitDate)
	return true
}

func backfillAssignedMonth(tx *gorm.DB, log *zap.Logger) error {
	var batch []visitors.Visitor
	updated, missing := 0, 0
	res := tx.Select("id", "visit_date", "assigned_month").
		Where("assigned_month IS NULL OR TRIM(assigned_month) = ''").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				v := &batch[i]
				if !backfillMonth(v) {
					missing++
					log.Warn("visitor has neither month nor visit date", zap.String("visitor_id", v.ID))
					continue
				}
				if err := tx.Model(&visitors.Visitor{}).Where("id = ?", v.ID).Update("assigned_month", v.AssignedMonth).Error; err != nil {
					return err
				}
				updated++
			}
			return nil
		})
	if res.Error != nil {
		return res.Error
	}
	log.Info("assigned months backfilled", zap.Int("updated", updated), zap.Int("unresolved", missing))
	return nil
}

// reclassifyAttendance moves every record to the bucket its date belongs
// to. Records with unparseable dates are left in place and logged for
// review.
func reclassifyAttendance(tx *gorm.DB, log *zap.Logger) error {
	var batch []visitors.Visitor
	moved, invalid := 0, 0
	res := tx.Select("id", "presences_jeudi", "presences_dimanche").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				v := &batch[i]
				changed, bad := visitors.Reclassify(v)
				for _, r := range bad {
					invalid++
					observability.RecordInvalidDate()
					log.Warn("attendance date unparseable, left in place",
						zap.String("visitor_id", r.VisitorID),
						zap.String("bucket", string(r.Bucket)),
						zap.String("date", r.Date))
				}
				if !changed {
					continue
				}
				err := tx.Model(&visitors.Visitor{}).Where("id = ?", v.ID).Updates(map[string]any{
					"presences_jeudi":    v.PresencesJeudi,
					"presences_dimanche": v.PresencesDimanche,
				}).Error
				if err != nil {
					return fmt.Errorf("save visitor %s: %w", v.ID, err)
				}
				moved++
			}
			return nil
		})
	if res.Error != nil {
		return res.Error
	}
	log.Info("attendance reclassified", zap.Int("visitors_changed", moved), zap.Int("invalid_records", invalid))
	return nil
}
