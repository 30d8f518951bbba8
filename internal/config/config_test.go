package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/platform")
	t.Setenv("CODE_BUCKET", "code-bucket")
	t.Setenv("STATE_MACHINE_ARN", "arn:aws:states:sm")
	t.Setenv("ECS_CLUSTER_NAME", "apps")
	t.Setenv("LISTENER_ARN", "arn:listener")
	t.Setenv("VPC_ID", "vpc-1")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Addr != defaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, defaultAddr)
	}
	if cfg.DomainName != defaultDomain {
		t.Errorf("DomainName = %q, want %q", cfg.DomainName, defaultDomain)
	}
	if cfg.ExternalCallTimeout != defaultTimeout {
		t.Errorf("ExternalCallTimeout = %v, want %v", cfg.ExternalCallTimeout, defaultTimeout)
	}
	if cfg.KafkaEnabled() {
		t.Error("kafka should be disabled without brokers and topic")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("CODE_BUCKET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when CODE_BUCKET missing")
	}
}

func TestLoad_KafkaBrokersParsed(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("KAFKA_TOPIC", "deployments")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("brokers = %v, want 2 entries", cfg.KafkaBrokers)
	}
	if !cfg.KafkaEnabled() {
		t.Error("kafka should be enabled")
	}
}

func TestLoad_TimeoutOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ExternalCallTimeout != 45*time.Second {
		t.Errorf("ExternalCallTimeout = %v, want 45s", cfg.ExternalCallTimeout)
	}
}
