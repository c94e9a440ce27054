package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := ConnectDSN(dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateIdempotent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, database); err != nil {
			t.Fatalf("Migrate pass %d: %v", i+1, err)
		}
	}

	var one int
	if err := database.QueryRowContext(ctx, `SELECT 1 FROM danmu_events LIMIT 1`).Scan(&one); err != nil && err != sql.ErrNoRows {
		t.Fatalf("danmu_events not queryable: %v", err)
	}
}

func TestMigrateInsertRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := database.ExecContext(ctx,
		`INSERT INTO danmu_events (room, user_id, user_name, content, event_ts, server_now_ts, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		"test-room", "42", "tester", "hello", now, now, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	t.Cleanup(func() {
		_, _ = database.ExecContext(ctx, `DELETE FROM danmu_events WHERE room = 'test-room'`)
	})

	var content string
	var eventTs time.Time
	err = database.QueryRowContext(ctx,
		`SELECT content, event_ts FROM danmu_events WHERE room = 'test-room' ORDER BY id DESC LIMIT 1`).
		Scan(&content, &eventTs)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if content != "hello" {
		t.Errorf("content = %q", content)
	}
	if !eventTs.Equal(now) {
		t.Errorf("event_ts = %v, want %v", eventTs, now)
	}
}

func TestRunMigrationsVersioned(t *testing.T) {
	database := openTestDB(t)
	if err := RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	// Second run must be a no-op.
	if err := RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations rerun: %v", err)
	}

	var version int
	if err := database.QueryRow(`SELECT version FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatalf("schema_migrations: %v", err)
	}
	if version < 1 {
		t.Errorf("version = %d, want >= 1", version)
	}
}
