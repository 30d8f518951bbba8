// Package workflow hands accepted deployments off to the external
// build/deploy state machine.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/google/uuid"
)

// SFNClient is the subset of the Step Functions API the dispatcher uses.
type SFNClient interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// Input is the execution context passed to the workflow engine. Field names
// are part of the wire contract with the state machine definition.
type Input struct {
	AppName   string `json:"app_name"`
	CommitSHA string `json:"commit_sha"`
	RepoURL   string `json:"repo_url"`
	S3Key     string `json:"s3_key"`
}

// Dispatcher starts one workflow execution per accepted webhook. It does not
// deduplicate: repeated deliveries of the same commit start separate
// executions, and callers needing exactly-once semantics must dedupe
// upstream.
type Dispatcher struct {
	client          SFNClient
	stateMachineARN string
}

func NewDispatcher(client SFNClient, stateMachineARN string) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("sfn client required")
	}
	if stateMachineARN == "" {
		return nil, fmt.Errorf("state machine arn required")
	}
	return &Dispatcher{client: client, stateMachineARN: stateMachineARN}, nil
}

// StartWorkflow begins an execution with the given input and returns the
// execution ARN. The execution name embeds a random suffix purely to satisfy
// the engine's name-uniqueness requirement.
func (d *Dispatcher) StartWorkflow(ctx context.Context, in Input) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal workflow input: %w", err)
	}

	out, err := d.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(d.stateMachineARN),
		Input:           aws.String(string(payload)),
		Name:            aws.String(executionName(in.AppName, in.CommitSHA)),
	})
	if err != nil {
		return "", fmt.Errorf("start execution: %w", err)
	}
	arn := aws.ToString(out.ExecutionArn)
	log.Printf("[workflow] started execution %s for %s@%s", arn, in.AppName, in.CommitSHA)
	return arn, nil
}

// executionName builds a name within the engine's 80-character limit.
func executionName(appName, commitSHA string) string {
	if len(appName) > 40 {
		appName = appName[:40]
	}
	sha := commitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("%s-%s-%s", appName, sha, uuid.NewString()[:8])
}

var _ SFNClient = (*sfn.Client)(nil)
