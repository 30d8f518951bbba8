// Package service orchestrates the deployment pipeline for accepted webhooks.
package service

import (
	"context"
	"log"

	"github.com/harborline/deployd/internal/events"
	"github.com/harborline/deployd/internal/ledger"
	"github.com/harborline/deployd/internal/webhook"
	"github.com/harborline/deployd/internal/workflow"
)

// Stager makes the commit artifact durably available and returns its key.
type Stager interface {
	Stage(ctx context.Context, appName, commitSHA, archiveURL string) (string, error)
}

// Provisioner ensures tenant routing and compute resources exist.
type Provisioner interface {
	EnsureTenantResources(ctx context.Context, appName string, cfg ledger.AppConfig) (ledger.RouteBinding, error)
}

// Dispatcher starts the asynchronous build/deploy workflow.
type Dispatcher interface {
	StartWorkflow(ctx context.Context, in workflow.Input) (string, error)
}

// Notifier publishes deployment notifications. Optional.
type Notifier interface {
	PublishAccepted(ctx context.Context, ev events.DeploymentAccepted) error
}

// Service runs the pipeline: stage artifact, record deployment intent, read
// tenant config, provision resources, dispatch the workflow. Stages run in
// that order and each failure aborts the request with a StageError; side
// effects already performed are retained (no rollback) and are self-healing
// on a retried webhook.
type Service struct {
	stager      Stager
	store       ledger.Store
	provisioner Provisioner
	dispatcher  Dispatcher
	notifier    Notifier
}

func New(stager Stager, store ledger.Store, provisioner Provisioner, dispatcher Dispatcher, notifier Notifier) *Service {
	return &Service{
		stager:      stager,
		store:       store,
		provisioner: provisioner,
		dispatcher:  dispatcher,
		notifier:    notifier,
	}
}

// Result is the outcome of a fully accepted deployment request.
type Result struct {
	Record       ledger.DeploymentRecord
	Binding      ledger.RouteBinding
	S3Key        string
	ExecutionARN string
}

// Deploy runs the full pipeline for a recognized push event.
func (s *Service) Deploy(ctx context.Context, ev webhook.PushEvent) (Result, error) {
	key, err := s.stager.Stage(ctx, ev.AppName, ev.CommitSHA, ev.ArchiveURL())
	if err != nil {
		return Result{}, stageErr(StageStaging, err)
	}

	rec, err := s.store.UpsertDeployment(ctx, ev.AppName, ev.RepoURL, ev.CommitSHA)
	if err != nil {
		return Result{}, stageErr(StageLedger, err)
	}

	cfg, err := s.store.ReadAppConfig(ctx, ev.AppName)
	if err != nil {
		return Result{}, stageErr(StageLedger, err)
	}

	binding, err := s.provisioner.EnsureTenantResources(ctx, ev.AppName, cfg)
	if err != nil {
		// The ledger already shows status=building at this point; that
		// inconsistency is surfaced to the caller and corrected by a retried
		// webhook.
		return Result{}, stageErr(StageProvisioning, err)
	}

	arn, err := s.dispatcher.StartWorkflow(ctx, workflow.Input{
		AppName:   ev.AppName,
		CommitSHA: ev.CommitSHA,
		RepoURL:   ev.RepoURL,
		S3Key:     key,
	})
	if err != nil {
		return Result{}, stageErr(StageDispatch, err)
	}

	if s.notifier != nil {
		if err := s.notifier.PublishAccepted(ctx, events.DeploymentAccepted{
			AppName:      ev.AppName,
			CommitSHA:    ev.CommitSHA,
			RepoURL:      ev.RepoURL,
			S3Key:        key,
			ExecutionARN: arn,
		}); err != nil {
			log.Printf("[service] publish deployment event for %s: %v", ev.AppName, err)
		}
	}

	return Result{
		Record:       rec,
		Binding:      binding,
		S3Key:        key,
		ExecutionARN: arn,
	}, nil
}
