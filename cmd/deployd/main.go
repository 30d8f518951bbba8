package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	_ "github.com/lib/pq"

	"github.com/harborline/deployd/internal/artifact"
	"github.com/harborline/deployd/internal/config"
	"github.com/harborline/deployd/internal/events"
	"github.com/harborline/deployd/internal/httpserver"
	"github.com/harborline/deployd/internal/ledger"
	"github.com/harborline/deployd/internal/provision"
	"github.com/harborline/deployd/internal/service"
	"github.com/harborline/deployd/internal/workflow"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("ping postgres: %v", err)
		}
	}
	log.Println("connected to postgres")

	awsCfg, err := awsConfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	store := ledger.NewPGStore(db)

	stager := artifact.NewStagerWithUploader(
		cfg.CodeBucket,
		&http.Client{Timeout: cfg.ExternalCallTimeout},
		manager.NewUploader(s3.NewFromConfig(awsCfg)),
	)

	provisioner, err := provision.New(provision.Params{
		ELB:         elbv2.NewFromConfig(awsCfg),
		ECS:         ecs.NewFromConfig(awsCfg),
		Store:       store,
		ClusterName: cfg.ClusterName,
		ListenerARN: cfg.ListenerARN,
		VpcID:       cfg.VpcID,
		Domain:      cfg.DomainName,
	})
	if err != nil {
		log.Fatalf("init provisioner: %v", err)
	}

	dispatcher, err := workflow.NewDispatcher(sfn.NewFromConfig(awsCfg), cfg.StateMachineARN)
	if err != nil {
		log.Fatalf("init workflow dispatcher: %v", err)
	}

	var notifier service.Notifier
	var producer *events.Producer
	if cfg.KafkaEnabled() {
		producer, err = events.NewProducer(events.ProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("init kafka producer: %v", err)
		}
		notifier = producer
		log.Printf("kafka notifications enabled (brokers=%v topic=%s)", cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		log.Println("kafka notifications disabled: KAFKA_BROKERS and KAFKA_TOPIC must both be set to enable")
	}

	svc := service.New(stager, store, provisioner, dispatcher, notifier)
	server := httpserver.New(cfg, svc, store)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting deployd on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
	if producer != nil {
		_ = producer.Close()
	}
	log.Println("server stopped")
}
