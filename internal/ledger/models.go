package ledger

import "time"

// Deployment status values. A record is created as building and moved to
// succeeded/failed by the downstream build pipeline, not by this service.
const (
	StatusBuilding  = "building"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DeploymentRecord is the ledger row for an app. At most one live record
// exists per app_name; created_at is set once and survives re-deploys.
type DeploymentRecord struct {
	AppName   string    `json:"app_name"`
	RepoURL   string    `json:"repo_url"`
	CommitSHA string    `json:"commit_sha"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scaling is the structured scaling intent stored in app_configs.
type Scaling struct {
	Replicas int `json:"replicas"`
}

// AppConfig is per-tenant configuration owned by a separate configuration
// surface; this service only reads it.
type AppConfig struct {
	AppName string            `json:"app_name"`
	EnvVars map[string]string `json:"env_vars"`
	Scaling Scaling           `json:"scaling"`
}

// DefaultReplicas applies when no scaling config exists for an app.
const DefaultReplicas = 2

// RouteBinding records the routing resources provisioned for a tenant. The
// presence of a row is what makes re-deploys skip target-group and rule
// creation.
type RouteBinding struct {
	AppName        string    `json:"app_name"`
	TargetGroupARN string    `json:"target_group_arn"`
	RuleARN        string    `json:"rule_arn"`
	Priority       int32     `json:"priority"`
	HostPattern    string    `json:"host_pattern"`
	CreatedAt      time.Time `json:"created_at"`
}
