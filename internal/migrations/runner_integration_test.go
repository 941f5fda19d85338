package migrations

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fidelis-church/fidelis-backend/internal/db"
)

func TestApplyIsIdempotent(t *testing.T) {
	_ = godotenv.Load("../../.env.local")
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}

	ctx := context.Background()
	gdb, err := db.Connect(ctx, dsn, db.Options{MaxOpenConns: 2}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close(gdb)

	runner := NewRunner(gdb, Default(), zap.NewNop())
	_, err = runner.Apply(ctx)
	require.NoError(t, err)

	ran, err := runner.Apply(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran, "second run has nothing left to apply")

	statuses, err := runner.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied(), s.ID)
	}
}
