package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the runtime configuration for deployd, loaded from environment
// variables by Load. Required values are validated up front so the process
// fails fast at startup instead of on the first webhook.
type Config struct {
	Addr        string // DEPLOYD_ADDR (default :8070)
	DatabaseURL string // DATABASE_URL

	CodeBucket      string // CODE_BUCKET
	StateMachineARN string // STATE_MACHINE_ARN
	ClusterName     string // ECS_CLUSTER_NAME
	LoadBalancerARN string // ALB_ARN
	ListenerARN     string // LISTENER_ARN
	VpcID           string // VPC_ID
	DomainName      string // DOMAIN_NAME (default example.com)

	// WebhookSecret enables HMAC verification of inbound webhooks. When empty,
	// verification is skipped entirely — an operational escape hatch for dev
	// environments, not a recommended production setting.
	WebhookSecret string // WEBHOOK_SECRET

	// APITokenSecret guards the read API with HS256 bearer tokens. When empty,
	// the read API is open.
	APITokenSecret string // API_TOKEN_SECRET

	// Kafka notifications are optional; both must be set to enable.
	KafkaBrokers []string // KAFKA_BROKERS (comma separated)
	KafkaTopic   string   // KAFKA_TOPIC

	ExternalCallTimeout time.Duration // EXTERNAL_CALL_TIMEOUT (default 30s)
}

const (
	defaultAddr    = ":8070"
	defaultDomain  = "example.com"
	defaultTimeout = 30 * time.Second
)

// Load reads configuration from the environment and validates required values.
func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("DEPLOYD_ADDR", defaultAddr),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CodeBucket:      os.Getenv("CODE_BUCKET"),
		StateMachineARN: os.Getenv("STATE_MACHINE_ARN"),
		ClusterName:     os.Getenv("ECS_CLUSTER_NAME"),
		LoadBalancerARN: os.Getenv("ALB_ARN"),
		ListenerARN:     os.Getenv("LISTENER_ARN"),
		VpcID:           os.Getenv("VPC_ID"),
		DomainName:      getEnv("DOMAIN_NAME", defaultDomain),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		APITokenSecret:  os.Getenv("API_TOKEN_SECRET"),
		KafkaTopic:      os.Getenv("KAFKA_TOPIC"),

		ExternalCallTimeout: getDuration("EXTERNAL_CALL_TIMEOUT", defaultTimeout),
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	for _, req := range []struct {
		key, val string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"CODE_BUCKET", cfg.CodeBucket},
		{"STATE_MACHINE_ARN", cfg.StateMachineARN},
		{"ECS_CLUSTER_NAME", cfg.ClusterName},
		{"LISTENER_ARN", cfg.ListenerARN},
		{"VPC_ID", cfg.VpcID},
	} {
		if req.val == "" {
			return Config{}, fmt.Errorf("%s required", req.key)
		}
	}

	return cfg, nil
}

// KafkaEnabled reports whether deployment notifications should be produced.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
