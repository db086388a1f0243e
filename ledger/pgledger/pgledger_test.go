package pgledger

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/ledger/ledgertest"
)

// newTestStore gives each test its own schema so runs never share rows.
func newTestStore(t *testing.T) ledger.Ledger {
	t.Helper()
	dsn := os.Getenv("VERITASLOG_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VERITASLOG_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "vltest_" + uuid.NewString()[:8]

	admin, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := admin.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schema)); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA %q CASCADE`, schema))
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return s
}

func TestStore_Conformance(t *testing.T) {
	ledgertest.RunLedgerConformance(t, newTestStore)
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t).(*Store)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}
