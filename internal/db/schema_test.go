package db

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"
)

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}

	gdb, err := Connect(context.Background(), dsn, Options{MaxOpenConns: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(gdb)

	for i := 0; i < 2; i++ {
		if err := EnsureSchema(gdb, "fidelis_schema_test"); err != nil {
			t.Fatalf("EnsureSchema (pass %d): %v", i, err)
		}
	}
	gdb.Exec(`DROP SCHEMA IF EXISTS fidelis_schema_test`)
}

func TestConnectRejectsEmptyDSN(t *testing.T) {
	if _, err := Connect(context.Background(), "", Options{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
