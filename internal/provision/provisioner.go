// Package provision ensures per-tenant routing and compute resources exist
// and are sized correctly.
package provision

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/harborline/deployd/internal/ledger"
)

// ELBClient is the subset of the elasticloadbalancingv2 API the provisioner
// uses.
type ELBClient interface {
	CreateTargetGroup(ctx context.Context, params *elbv2.CreateTargetGroupInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateTargetGroupOutput, error)
	CreateRule(ctx context.Context, params *elbv2.CreateRuleInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateRuleOutput, error)
}

// ECSClient is the subset of the ecs API the provisioner uses.
type ECSClient interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

// ServiceState is the explicit tri-state of a compute-service lookup. Only a
// definitive MISSING answer is treated as not-found; transport errors
// propagate instead of being masked.
type ServiceState int

const (
	ServiceActive ServiceState = iota
	ServiceMissing
)

// Priority allocation bounds. Listener rule priorities live in a shared
// namespace per listener; candidates are drawn below the provider maximum.
const (
	maxPriority       = 50000
	maxAllocAttempts  = 10
	healthCheckPath   = "/health"
	targetGroupPort   = 80
	healthIntervalSec = 30
	healthTimeoutSec  = 5
	healthyThreshold  = 2
)

// Provisioner drives the two-branch tenant state machine: create routing
// resources on first deploy, resize compute on subsequent deploys.
type Provisioner struct {
	elb   ELBClient
	ecs   ECSClient
	store ledger.Store

	clusterName string
	listenerARN string
	vpcID       string
	domain      string
}

type Params struct {
	ELB         ELBClient
	ECS         ECSClient
	Store       ledger.Store
	ClusterName string
	ListenerARN string
	VpcID       string
	Domain      string
}

func New(p Params) (*Provisioner, error) {
	if p.ELB == nil || p.ECS == nil || p.Store == nil {
		return nil, fmt.Errorf("elb, ecs, and store clients required")
	}
	if p.ClusterName == "" || p.ListenerARN == "" || p.VpcID == "" {
		return nil, fmt.Errorf("cluster name, listener arn, and vpc id required")
	}
	if p.Domain == "" {
		p.Domain = "example.com"
	}
	return &Provisioner{
		elb:         p.ELB,
		ecs:         p.ECS,
		store:       p.Store,
		clusterName: p.ClusterName,
		listenerARN: p.ListenerARN,
		vpcID:       p.VpcID,
		domain:      p.Domain,
	}, nil
}

// TargetGroupName derives a deterministic, collision-resistant target group
// name for an app. The short hash keeps the generated name within the
// provider's 32-character limit for long app names.
func TargetGroupName(appName string) string {
	sum := sha256.Sum256([]byte(appName))
	short := hex.EncodeToString(sum[:4])
	base := appName
	if len(base) > 20 {
		base = base[:20]
	}
	return fmt.Sprintf("%s-tg-%s", base, short)
}

// ServiceName returns the compute-service name for an app.
func ServiceName(appName string) string {
	return appName + "-service"
}

// EnsureTenantResources makes the tenant's routing and compute resources
// match the desired state. On first deploy (no route binding recorded) it
// creates a target group and a host-based listener rule and records the
// binding; on subsequent deploys it skips creation entirely. In both cases
// the compute service, if it already exists, is resized to the configured
// replica count; a service that does not exist yet is expected to be created
// by the downstream build step and is not an error.
func (p *Provisioner) EnsureTenantResources(ctx context.Context, appName string, cfg ledger.AppConfig) (ledger.RouteBinding, error) {
	binding, err := p.store.GetRouteBinding(ctx, appName)
	switch {
	case err == nil:
		// Subsequent deploy: routing already in place.
	case errors.Is(err, ledger.ErrNotFound):
		binding, err = p.createRouting(ctx, appName)
		if err != nil {
			return ledger.RouteBinding{}, err
		}
	default:
		return ledger.RouteBinding{}, fmt.Errorf("lookup route binding: %w", err)
	}

	if err := p.ensureServiceScaled(ctx, appName, cfg.Scaling.Replicas); err != nil {
		return ledger.RouteBinding{}, err
	}
	return binding, nil
}

// createRouting builds the first-deploy routing resources: a target group, a
// reserved listener-rule priority, and a host-header forward rule.
func (p *Provisioner) createRouting(ctx context.Context, appName string) (ledger.RouteBinding, error) {
	tgOut, err := p.elb.CreateTargetGroup(ctx, &elbv2.CreateTargetGroupInput{
		Name:                       aws.String(TargetGroupName(appName)),
		Protocol:                   elbv2types.ProtocolEnumHttp,
		Port:                       aws.Int32(targetGroupPort),
		VpcId:                      aws.String(p.vpcID),
		TargetType:                 elbv2types.TargetTypeEnumIp,
		HealthCheckPath:            aws.String(healthCheckPath),
		HealthCheckProtocol:        elbv2types.ProtocolEnumHttp,
		HealthCheckIntervalSeconds: aws.Int32(healthIntervalSec),
		HealthCheckTimeoutSeconds:  aws.Int32(healthTimeoutSec),
		HealthyThresholdCount:      aws.Int32(healthyThreshold),
		UnhealthyThresholdCount:    aws.Int32(healthyThreshold),
	})
	if err != nil {
		return ledger.RouteBinding{}, fmt.Errorf("create target group: %w", err)
	}
	if len(tgOut.TargetGroups) == 0 {
		return ledger.RouteBinding{}, fmt.Errorf("create target group: empty response")
	}
	tgARN := aws.ToString(tgOut.TargetGroups[0].TargetGroupArn)
	hostPattern := appName + "." + p.domain

	ruleARN, priority, err := p.createRuleWithPriority(ctx, appName, tgARN, hostPattern)
	if err != nil {
		return ledger.RouteBinding{}, err
	}

	binding, err := p.store.SaveRouteBinding(ctx, ledger.RouteBinding{
		AppName:        appName,
		TargetGroupARN: tgARN,
		RuleARN:        ruleARN,
		Priority:       priority,
		HostPattern:    hostPattern,
	})
	if err != nil {
		return ledger.RouteBinding{}, fmt.Errorf("record route binding: %w", err)
	}
	log.Printf("[provision] created routing for %s (tg=%s priority=%d host=%s)", appName, tgARN, priority, hostPattern)
	return binding, nil
}

// createRuleWithPriority allocates a rule priority and creates the forward
// rule. Priorities come from a shared per-listener namespace, so each
// candidate is reserved in the ledger before use; a provider-side conflict
// (state drift outside the ledger) releases the reservation and moves to the
// next candidate.
func (p *Provisioner) createRuleWithPriority(ctx context.Context, appName, tgARN, hostPattern string) (string, int32, error) {
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		candidate := priorityCandidate(appName, attempt)

		reserved, err := p.store.ReservePriority(ctx, candidate, appName)
		if err != nil {
			return "", 0, fmt.Errorf("reserve rule priority: %w", err)
		}
		if !reserved {
			continue
		}

		ruleOut, err := p.elb.CreateRule(ctx, &elbv2.CreateRuleInput{
			ListenerArn: aws.String(p.listenerARN),
			Priority:    aws.Int32(candidate),
			Conditions: []elbv2types.RuleCondition{{
				Field: aws.String("host-header"),
				HostHeaderConfig: &elbv2types.HostHeaderConditionConfig{
					Values: []string{hostPattern},
				},
			}},
			Actions: []elbv2types.Action{{
				Type:           elbv2types.ActionTypeEnumForward,
				TargetGroupArn: aws.String(tgARN),
			}},
		})
		if err != nil {
			var inUse *elbv2types.PriorityInUseException
			if errors.As(err, &inUse) {
				// Someone created a rule with this priority outside the
				// ledger. Free the reservation and try the next candidate.
				if relErr := p.store.ReleasePriority(ctx, candidate); relErr != nil {
					log.Printf("[provision] release priority %d: %v", candidate, relErr)
				}
				continue
			}
			if relErr := p.store.ReleasePriority(ctx, candidate); relErr != nil {
				log.Printf("[provision] release priority %d: %v", candidate, relErr)
			}
			return "", 0, fmt.Errorf("create listener rule: %w", err)
		}
		if len(ruleOut.Rules) == 0 {
			return "", 0, fmt.Errorf("create listener rule: empty response")
		}
		return aws.ToString(ruleOut.Rules[0].RuleArn), candidate, nil
	}
	return "", 0, fmt.Errorf("allocate rule priority: no free slot after %d attempts", maxAllocAttempts)
}

// priorityCandidate maps (app, attempt) into [1, maxPriority). Deterministic
// per app so retried first deploys probe the same sequence, but never treated
// as collision-free: the reservation decides.
func priorityCandidate(appName string, attempt int) int32 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", appName, attempt)))
	n := binary.BigEndian.Uint32(sum[:4])
	return int32(n%(maxPriority-1)) + 1
}

// ensureServiceScaled resizes the compute service to replicas if it exists.
// A missing service is expected on first deploy (the build pipeline creates
// it) and is non-fatal; any other lookup or update failure is.
func (p *Provisioner) ensureServiceScaled(ctx context.Context, appName string, replicas int) error {
	state, err := p.lookupService(ctx, appName)
	if err != nil {
		return fmt.Errorf("describe service %s: %w", ServiceName(appName), err)
	}
	if state == ServiceMissing {
		log.Printf("[provision] service %s not found; deferring to build pipeline", ServiceName(appName))
		return nil
	}

	if replicas <= 0 {
		replicas = ledger.DefaultReplicas
	}
	_, err = p.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(p.clusterName),
		Service:      aws.String(ServiceName(appName)),
		DesiredCount: aws.Int32(int32(replicas)),
	})
	if err != nil {
		return fmt.Errorf("update service %s: %w", ServiceName(appName), err)
	}
	log.Printf("[provision] service %s scaled to %d replicas", ServiceName(appName), replicas)
	return nil
}

// lookupService resolves the tri-state existence of the app's compute
// service. DescribeServices reports unknown services as failures with reason
// MISSING rather than an error, and deleted services linger as INACTIVE; both
// count as missing here.
func (p *Provisioner) lookupService(ctx context.Context, appName string) (ServiceState, error) {
	out, err := p.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(p.clusterName),
		Services: []string{ServiceName(appName)},
	})
	if err != nil {
		return ServiceMissing, err
	}
	for _, svc := range out.Services {
		if aws.ToString(svc.Status) != "INACTIVE" {
			return ServiceActive, nil
		}
	}
	for _, f := range out.Failures {
		if aws.ToString(f.Reason) == "MISSING" {
			return ServiceMissing, nil
		}
	}
	if len(out.Services) == 0 && len(out.Failures) == 0 {
		return ServiceMissing, nil
	}
	// Services present but all INACTIVE.
	return ServiceMissing, nil
}

var (
	_ ECSClient = (*ecs.Client)(nil)
	_ ELBClient = (*elbv2.Client)(nil)
)
