package seeds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/auth"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/visitors"
)

func TestLoadFixtures(t *testing.T) {
	f, err := Load()
	require.NoError(t, err)
	assert.Len(t, f.Staff, 5)
	assert.Len(t, f.Visitors, 4)

	for _, s := range f.Staff {
		_, err := auth.Assignment{Role: s.Role, City: s.City, AssignedMonth: s.AssignedMonth}.Check()
		assert.NoError(t, err, s.Username)
	}
}

// The promo month fixture is the reference cohort for the dashboard numbers.
func TestPromoMonthFidelity(t *testing.T) {
	f, err := Load()
	require.NoError(t, err)
	rows, err := f.Rows()
	require.NoError(t, err)

	cohort := make([]fidelity.Visitor, 0, len(rows))
	for _, v := range rows {
		assert.Equal(t, "2025-01", v.AssignedMonth)
		cohort = append(cohort, v.ToFidelity())
	}

	referent := access.Principal{Role: access.RoleReferent, City: "Lyon", Month: "2025-01"}
	scoped, err := fidelity.Filter(cohort, fidelity.Criteria{}, referent)
	require.NoError(t, err)

	s := fidelity.NewAggregator(fidelity.DefaultWeights).Aggregate(scoped)
	assert.Equal(t, 4, s.TotalVisitors)
	assert.Equal(t, 16, s.ExpectedJeudi)
	assert.Equal(t, 11, s.ActualJeudi)
	assert.Equal(t, 68.75, s.RateJeudi)
	assert.Equal(t, 68.75, s.RateDimanche)
	assert.Equal(t, 68.75, s.Fidelisation)
	assert.Zero(t, s.Skipped)
}

// Fixture dates are already filed in the right bucket.
func TestPromoMonthIsClassified(t *testing.T) {
	f, err := Load()
	require.NoError(t, err)
	rows, err := f.Rows()
	require.NoError(t, err)

	for i := range rows {
		changed, invalid := visitors.Reclassify(&rows[i])
		assert.False(t, changed, rows[i].ID)
		assert.Empty(t, invalid)
	}
}
