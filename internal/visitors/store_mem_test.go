package visitors

import (
	"context"
	"sort"
	"sync"

	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu   sync.Mutex
	rows map[string]Visitor
}

func newMemStore(vs ...Visitor) *memStore {
	m := &memStore{rows: map[string]Visitor{}}
	for _, v := range vs {
		v.CityKey = fidelity.CityKey(v.City)
		m.rows[v.ID] = v
	}
	return m
}

func (m *memStore) Create(ctx context.Context, v *Visitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.SubmissionID != nil {
		for _, r := range m.rows {
			if r.SubmissionID != nil && *r.SubmissionID == *v.SubmissionID {
				return ErrDuplicateSubmission
			}
		}
	}
	m.rows[v.ID] = *v
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	if !ok {
		return Visitor{}, ErrNotFound
	}
	return v, nil
}

func (m *memStore) GetBySubmission(ctx context.Context, sid string) (Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.rows {
		if v.SubmissionID != nil && *v.SubmissionID == sid {
			return v, nil
		}
	}
	return Visitor{}, ErrNotFound
}

func (m *memStore) List(ctx context.Context, q Query) ([]Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Visitor{}
	for _, v := range m.rows {
		if !q.Criteria.Matches(v.ToFidelity()) {
			continue
		}
		if q.Stopped != nil && v.TrackingStopped != *q.Stopped {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Update(ctx context.Context, id string, fn func(*Visitor) error) (Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	if !ok {
		return Visitor{}, ErrNotFound
	}
	v.PresencesJeudi = append(AttendanceList{}, v.PresencesJeudi...)
	v.PresencesDimanche = append(AttendanceList{}, v.PresencesDimanche...)
	city, key, month := v.City, v.CityKey, v.AssignedMonth
	if err := fn(&v); err != nil {
		return Visitor{}, err
	}
	v.City, v.CityKey, v.AssignedMonth = city, key, month
	m.rows[id] = v
	return v, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}
