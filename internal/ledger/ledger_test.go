package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestUpsertDeployment(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 8, 27, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO platform\.deployments`).
		WithArgs("demo", "https://github.com/acme/demo.git", "abc123", StatusBuilding).
		WillReturnRows(sqlmock.NewRows([]string{"app_name", "repo_url", "commit_sha", "status", "created_at", "updated_at"}).
			AddRow("demo", "https://github.com/acme/demo.git", "abc123", StatusBuilding, created, updated))

	rec, err := store.UpsertDeployment(context.Background(), "demo", "https://github.com/acme/demo.git", "abc123")
	if err != nil {
		t.Fatalf("UpsertDeployment error: %v", err)
	}
	if rec.Status != StatusBuilding || rec.CommitSHA != "abc123" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", rec.CreatedAt, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertDeployment_ReplayPreservesCreatedAt(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows := func(updated time.Time) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"app_name", "repo_url", "commit_sha", "status", "created_at", "updated_at"}).
			AddRow("demo", "r", "abc123", StatusBuilding, created, updated)
	}

	// The upsert is a single statement keyed on app_name: replaying the same
	// webhook hits the DO UPDATE branch and only updated_at moves.
	mock.ExpectQuery(`INSERT INTO platform\.deployments`).
		WithArgs("demo", "r", "abc123", StatusBuilding).
		WillReturnRows(rows(created))
	mock.ExpectQuery(`INSERT INTO platform\.deployments`).
		WithArgs("demo", "r", "abc123", StatusBuilding).
		WillReturnRows(rows(created.Add(time.Minute)))

	first, err := store.UpsertDeployment(context.Background(), "demo", "r", "abc123")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := store.UpsertDeployment(context.Background(), "demo", "r", "abc123")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("created_at changed on replay: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
	if first.Status != second.Status || first.CommitSHA != second.CommitSHA {
		t.Fatalf("replay not idempotent: %+v vs %+v", first, second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReadAppConfig_DefaultsWhenAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM platform\.app_configs`).
		WithArgs("demo").
		WillReturnRows(sqlmock.NewRows([]string{"env_vars", "scaling"}))

	cfg, err := store.ReadAppConfig(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ReadAppConfig error: %v", err)
	}
	if len(cfg.EnvVars) != 0 {
		t.Fatalf("expected empty env vars, got %v", cfg.EnvVars)
	}
	if cfg.Scaling.Replicas != DefaultReplicas {
		t.Fatalf("replicas = %d, want %d", cfg.Scaling.Replicas, DefaultReplicas)
	}
}

func TestReadAppConfig_StoredValues(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM platform\.app_configs`).
		WithArgs("demo").
		WillReturnRows(sqlmock.NewRows([]string{"env_vars", "scaling"}).
			AddRow([]byte(`{"LOG_LEVEL":"debug"}`), []byte(`{"replicas":5}`)))

	cfg, err := store.ReadAppConfig(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ReadAppConfig error: %v", err)
	}
	if cfg.EnvVars["LOG_LEVEL"] != "debug" {
		t.Fatalf("env vars = %v", cfg.EnvVars)
	}
	if cfg.Scaling.Replicas != 5 {
		t.Fatalf("replicas = %d, want 5", cfg.Scaling.Replicas)
	}
}

func TestGetDeployment_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM platform\.deployments`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"app_name", "repo_url", "commit_sha", "status", "created_at", "updated_at"}))

	_, err := store.GetDeployment(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRouteBinding_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM platform\.route_bindings`).
		WithArgs("demo").
		WillReturnRows(sqlmock.NewRows([]string{"app_name", "target_group_arn", "rule_arn", "priority", "host_pattern", "created_at"}))

	_, err := store.GetRouteBinding(context.Background(), "demo")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReservePriority(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO platform\.route_priorities`).
		WithArgs(int32(17), "demo").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.ReservePriority(context.Background(), 17, "demo")
	if err != nil {
		t.Fatalf("ReservePriority error: %v", err)
	}
	if !ok {
		t.Fatal("expected reservation to succeed")
	}
}

func TestReservePriority_Conflict(t *testing.T) {
	store, mock := newMockStore(t)

	// ON CONFLICT DO NOTHING: zero rows affected means the slot is taken.
	mock.ExpectExec(`INSERT INTO platform\.route_priorities`).
		WithArgs(int32(17), "other").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ReservePriority(context.Background(), 17, "other")
	if err != nil {
		t.Fatalf("ReservePriority error: %v", err)
	}
	if ok {
		t.Fatal("expected reservation to fail on conflict")
	}
}
