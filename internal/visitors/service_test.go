package visitors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
)

func TestRegisterIsIdempotentOnSubmission(t *testing.T) {
	svc := NewService(newMemStore(), fidelity.NewAggregator(fidelity.DefaultWeights), zap.NewNop())
	in := NewVisitor{FirstName: "Marie", City: "Lyon", VisitDate: "2025-02-02"}

	first, created, err := svc.Register(context.Background(), in, SourceWebhook, "sub-1")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.Register(context.Background(), in, SourceWebhook, "sub-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestFidelityLogsSkippedRecords(t *testing.T) {
	bad := visitor("x", "Lyon", "2025-01", 4, 4)
	bad.PresencesJeudi = append(bad.PresencesJeudi, fidelity.Record{Date: "2025-01-30"})

	core, logs := observer.New(zap.WarnLevel)
	svc := NewService(newMemStore(bad), fidelity.NewAggregator(fidelity.DefaultWeights), zap.New(core))

	sum, _, err := svc.Fidelity(context.Background(), pasteur, fidelity.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 100.0, sum.Fidelisation)

	entries := logs.FilterMessage("attendance record skipped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].ContextMap()["visitor_id"])
}

func TestRecordAttendanceLogsUnparseableDate(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := promoCohort()
	svc := NewService(store, fidelity.NewAggregator(fidelity.DefaultWeights), zap.New(core))

	out, err := svc.RecordAttendance(context.Background(), accueil, "d",
		AttendanceInput{Date: "hier", Present: yes(), Bucket: "dimanche"})
	require.NoError(t, err)
	assert.True(t, out.InvalidDate)
	assert.Equal(t, fidelity.BucketDimanche, out.Bucket)
	assert.Len(t, out.Visitor.PresencesDimanche, 5)

	entries := logs.FilterMessage("attendance stored with unparseable date").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "d", entries[0].ContextMap()["visitor_id"])
	assert.Equal(t, "hier", entries[0].ContextMap()["date"])

	_, err = svc.RecordAttendance(context.Background(), accueil, "d",
		AttendanceInput{Date: "2025-01-26", Present: yes()})
	require.NoError(t, err)
	assert.Len(t, logs.FilterMessage("attendance stored with unparseable date").All(), 1)
}

// Scope violations come back unchanged so the HTTP layer can map them.
func TestServiceForbiddenErrors(t *testing.T) {
	svc := NewService(promoCohort(), fidelity.NewAggregator(fidelity.DefaultWeights), zap.NewNop())

	_, _, err := svc.Fidelity(context.Background(), referentJan, fidelity.Criteria{Year: 2024})
	assert.ErrorIs(t, err, fidelity.ErrForbidden)

	_, err = svc.Overview(context.Background(), accueil, fidelity.Criteria{})
	assert.ErrorIs(t, err, fidelity.ErrForbidden)

	err = svc.Purge(context.Background(), superviseur, "a")
	assert.ErrorIs(t, err, fidelity.ErrForbidden)

	_, err = svc.Create(context.Background(), referentJan, NewVisitor{FirstName: "Z", VisitDate: "2025-03-02"})
	assert.ErrorIs(t, err, fidelity.ErrForbidden, "referent cannot create outside its month")
}
