package visitors

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
)

var (
	ErrNotFound            = errors.New("visitor not found")
	ErrDuplicateSubmission = errors.New("submission already registered")
)

// Query selects visitors. Criteria must already be scope-resolved.
type Query struct {
	Criteria fidelity.Criteria
	Stopped  *bool
}

type Store interface {
	Create(ctx context.Context, v *Visitor) error
	Get(ctx context.Context, id string) (Visitor, error)
	GetBySubmission(ctx context.Context, submissionID string) (Visitor, error)
	List(ctx context.Context, q Query) ([]Visitor, error)
	// Update loads the visitor under a row lock, applies fn and saves the
	// result in the same transaction. City and assigned month are restored
	// after fn runs.
	Update(ctx context.Context, id string, fn func(*Visitor) error) (Visitor, error)
	Delete(ctx context.Context, id string) error
}

// GormStore keeps visitors in postgres.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(d *gorm.DB) *GormStore {
	return &GormStore{DB: d}
}

func (s *GormStore) Create(ctx context.Context, v *Visitor) error {
	err := s.DB.WithContext(ctx).Create(v).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateSubmission
	}
	return err
}

func (s *GormStore) Get(ctx context.Context, id string) (Visitor, error) {
	var v Visitor
	if err := s.DB.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return Visitor{}, notFound(err)
	}
	return v, nil
}

func (s *GormStore) GetBySubmission(ctx context.Context, submissionID string) (Visitor, error) {
	var v Visitor
	if err := s.DB.WithContext(ctx).First(&v, "submission_id = ?", submissionID).Error; err != nil {
		return Visitor{}, notFound(err)
	}
	return v, nil
}

func (s *GormStore) List(ctx context.Context, q Query) ([]Visitor, error) {
	tx := s.DB.WithContext(ctx).Model(&Visitor{})
	c := q.Criteria
	if c.City != "" {
		tx = tx.Where("city_key = ?", fidelity.CityKey(c.City))
	}
	if c.Month != "" {
		tx = tx.Where("assigned_month = ?", c.Month)
	}
	if c.Year != 0 {
		tx = tx.Where("assigned_month LIKE ?", strconv.Itoa(c.Year)+"-%")
	}
	if q.Stopped != nil {
		tx = tx.Where("tracking_stopped = ?", *q.Stopped)
	}

	out := []Visitor{}
	if err := tx.Order("assigned_month, last_name, first_name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	return out, nil
}

func (s *GormStore) Update(ctx context.Context, id string, fn func(*Visitor) error) (Visitor, error) {
	var v Visitor
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&v, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		city, key, month := v.City, v.CityKey, v.AssignedMonth
		if err := fn(&v); err != nil {
			return err
		}
		v.City, v.CityKey, v.AssignedMonth = city, key, month
		return tx.Save(&v).Error
	})
	if err != nil {
		return Visitor{}, err
	}
	return v, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Delete(&Visitor{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete visitor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
