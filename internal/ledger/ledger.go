// Package ledger persists deployment state and tenant routing metadata in
// Postgres.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// Store is the metadata-store surface the orchestrator depends on.
type Store interface {
	UpsertDeployment(ctx context.Context, appName, repoURL, commitSHA string) (DeploymentRecord, error)
	ReadAppConfig(ctx context.Context, appName string) (AppConfig, error)
	GetDeployment(ctx context.Context, appName string) (DeploymentRecord, error)
	GetRouteBinding(ctx context.Context, appName string) (RouteBinding, error)
	SaveRouteBinding(ctx context.Context, b RouteBinding) (RouteBinding, error)
	ReservePriority(ctx context.Context, priority int32, appName string) (bool, error)
	ReleasePriority(ctx context.Context, priority int32) error
	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// UpsertDeployment inserts a new deployment row or updates the existing one
// for appName, setting status to building. The single-statement upsert is the
// atomicity boundary: concurrent webhooks for the same app serialize on the
// row, exactly one wins each field update, and created_at is preserved across
// re-deploys.
func (s *PGStore) UpsertDeployment(ctx context.Context, appName, repoURL, commitSHA string) (DeploymentRecord, error) {
	const query = `
		INSERT INTO platform.deployments (app_name, repo_url, commit_sha, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (app_name) DO UPDATE SET
			repo_url = EXCLUDED.repo_url,
			commit_sha = EXCLUDED.commit_sha,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING app_name, repo_url, commit_sha, status, created_at, updated_at
	`
	var rec DeploymentRecord
	err := s.db.QueryRowContext(ctx, query, appName, repoURL, commitSHA, StatusBuilding).Scan(
		&rec.AppName, &rec.RepoURL, &rec.CommitSHA, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return DeploymentRecord{}, fmt.Errorf("upsert deployment: %w", err)
	}
	return rec, nil
}

// ReadAppConfig returns the tenant configuration for appName. A missing row
// is not an error: defaults (no env vars, 2 replicas) apply.
func (s *PGStore) ReadAppConfig(ctx context.Context, appName string) (AppConfig, error) {
	const query = `
		SELECT COALESCE(env_vars, '{}'::jsonb), COALESCE(scaling, '{"replicas": 2}'::jsonb)
		FROM platform.app_configs
		WHERE app_name = $1
	`
	cfg := AppConfig{
		AppName: appName,
		EnvVars: map[string]string{},
		Scaling: Scaling{Replicas: DefaultReplicas},
	}

	var envBytes, scalingBytes []byte
	err := s.db.QueryRowContext(ctx, query, appName).Scan(&envBytes, &scalingBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return AppConfig{}, fmt.Errorf("read app config: %w", err)
	}
	if err := json.Unmarshal(envBytes, &cfg.EnvVars); err != nil {
		return AppConfig{}, fmt.Errorf("decode env_vars: %w", err)
	}
	if err := json.Unmarshal(scalingBytes, &cfg.Scaling); err != nil {
		return AppConfig{}, fmt.Errorf("decode scaling: %w", err)
	}
	if cfg.Scaling.Replicas <= 0 {
		cfg.Scaling.Replicas = DefaultReplicas
	}
	return cfg, nil
}

// GetDeployment fetches the deployment record for appName.
func (s *PGStore) GetDeployment(ctx context.Context, appName string) (DeploymentRecord, error) {
	const query = `
		SELECT app_name, repo_url, commit_sha, status, created_at, updated_at
		FROM platform.deployments
		WHERE app_name = $1
	`
	var rec DeploymentRecord
	err := s.db.QueryRowContext(ctx, query, appName).Scan(
		&rec.AppName, &rec.RepoURL, &rec.CommitSHA, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DeploymentRecord{}, ErrNotFound
	}
	if err != nil {
		return DeploymentRecord{}, fmt.Errorf("get deployment: %w", err)
	}
	return rec, nil
}

// GetRouteBinding fetches the provisioned routing resources for appName.
// ErrNotFound means the tenant has never been provisioned (first deploy).
func (s *PGStore) GetRouteBinding(ctx context.Context, appName string) (RouteBinding, error) {
	const query = `
		SELECT app_name, target_group_arn, rule_arn, priority, host_pattern, created_at
		FROM platform.route_bindings
		WHERE app_name = $1
	`
	var b RouteBinding
	err := s.db.QueryRowContext(ctx, query, appName).Scan(
		&b.AppName, &b.TargetGroupARN, &b.RuleARN, &b.Priority, &b.HostPattern, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RouteBinding{}, ErrNotFound
	}
	if err != nil {
		return RouteBinding{}, fmt.Errorf("get route binding: %w", err)
	}
	return b, nil
}

// SaveRouteBinding records the routing resources created for a tenant.
func (s *PGStore) SaveRouteBinding(ctx context.Context, b RouteBinding) (RouteBinding, error) {
	const query = `
		INSERT INTO platform.route_bindings (app_name, target_group_arn, rule_arn, priority, host_pattern, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING app_name, target_group_arn, rule_arn, priority, host_pattern, created_at
	`
	var out RouteBinding
	err := s.db.QueryRowContext(ctx, query, b.AppName, b.TargetGroupARN, b.RuleARN, b.Priority, b.HostPattern).Scan(
		&out.AppName, &out.TargetGroupARN, &out.RuleARN, &out.Priority, &out.HostPattern, &out.CreatedAt,
	)
	if err != nil {
		return RouteBinding{}, fmt.Errorf("save route binding: %w", err)
	}
	return out, nil
}

// ReservePriority claims a listener-rule priority in the shared namespace.
// The primary key on priority makes concurrent reservations race safely:
// exactly one caller gets true, the rest get false and must try another
// candidate.
func (s *PGStore) ReservePriority(ctx context.Context, priority int32, appName string) (bool, error) {
	const query = `
		INSERT INTO platform.route_priorities (priority, app_name, reserved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (priority) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, priority, appName)
	if err != nil {
		return false, fmt.Errorf("reserve priority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve priority result: %w", err)
	}
	return n == 1, nil
}

// ReleasePriority frees a reservation after rule creation failed on the
// provider side.
func (s *PGStore) ReleasePriority(ctx context.Context, priority int32) error {
	const query = `DELETE FROM platform.route_priorities WHERE priority = $1`
	if _, err := s.db.ExecContext(ctx, query, priority); err != nil {
		return fmt.Errorf("release priority: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
