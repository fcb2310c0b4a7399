// cmd/docflow-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	"rental-docflow/internal/audit"
	"rental-docflow/internal/common/auth"
	awsc "rental-docflow/internal/common/aws"
	"rental-docflow/internal/common/camunda"
	"rental-docflow/internal/common/config"
	"rental-docflow/internal/common/database"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/observability"
	"rental-docflow/internal/compliance"
	"rental-docflow/internal/events"
	"rental-docflow/internal/expiration"
	"rental-docflow/internal/notify"
	"rental-docflow/internal/permission"
	"rental-docflow/internal/signature"
	"rental-docflow/internal/store"
	"rental-docflow/internal/store/memory"
	"rental-docflow/internal/store/postgres"
	httptransport "rental-docflow/internal/transport/http"
	"rental-docflow/internal/verification"
	"rental-docflow/internal/workflow"
	"rental-docflow/pkg/registry"

	ce "rental-docflow/internal/workers/document/check-expiration"
	rs "rental-docflow/internal/workers/document/request-signatures"
	sn "rental-docflow/internal/workers/document/send-notification"
	vc "rental-docflow/internal/workers/document/validate-compliance"
	vt "rental-docflow/internal/workers/document/verify-tenant"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting docflow manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("storage", cfg.Storage.Driver),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("metrics exporter unavailable, continuing without metrics", zap.Error(err))
		obs = observability.NewNoop()
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			MessageTTL:             config.GetDuration(cfg.Camunda.MessageTTL),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Redis ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Elasticsearch ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Storage ---
	var st store.Store
	switch cfg.Storage.Driver {
	case "memory":
		zapLog.Warn("using in-memory storage, state is lost on restart")
		st = memory.New()
	default:
		pgStore := postgres.New(pg)
		if cfg.Database.Postgres.MigrateOnStart {
			if err := pgStore.Migrate(ctx); err != nil {
				zapLog.Fatal("schema migration failed", zap.Error(err))
			}
		}
		st = pgStore
	}

	// --- AWS ---
	awsCfg, err := awsc.LoadConfig(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.Endpoint)
	if err != nil {
		zapLog.Fatal("aws config failed", zap.Error(err))
	}
	s3Client := awsc.NewS3Client(awsCfg, cfg.Integrations.AWS.S3.Bucket,
		cfg.Integrations.AWS.S3.ForcePathStyle, cfg.Integrations.AWS.S3.MaxObjectBytes)

	var email notify.EmailSender
	if cfg.Integrations.AWS.SES.Enabled {
		email = awsc.NewSESClient(awsCfg, cfg.Integrations.AWS.SES.FromEmail)
	}
	var sms notify.SMSSender
	if cfg.Integrations.AWS.SNS.Enabled {
		sms = awsc.NewSNSClient(awsCfg, cfg.Integrations.AWS.SNS.DefaultSMSSenderID)
	}
	zapLog.Info("AWS clients initialized",
		zap.Bool("ses", email != nil),
		zap.Bool("sns", sms != nil),
		zap.String("bucket", s3Client.Bucket()),
	)

	// --- Events ---
	publisher := events.NewFanout(log).Add("zeebe", events.NewZeebePublisher(zeebe))
	if cfg.Integrations.Kafka.Enabled {
		kafka, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Integrations.Kafka.Brokers,
			Topic:    cfg.Integrations.Kafka.Topic,
			ClientID: cfg.Integrations.Kafka.ClientID,
		}, log)
		if err != nil {
			zapLog.Fatal("kafka publisher failed", zap.Error(err))
		}
		defer kafka.Close()
		publisher.Add("kafka", kafka)
	}

	// --- Components ---
	sink := notify.NewSink(pg.DB, email, sms, notify.Config{
		EmailEnabled: email != nil,
		SMSEnabled:   sms != nil,
	}, log)

	indexer := audit.NewESIndexer(esClient, cfg.Database.Elasticsearch.AuditIndex)
	if err := indexer.EnsureIndex(ctx); err != nil {
		zapLog.Warn("audit index unavailable, search falls back to the database", zap.Error(err))
	}
	recorder := audit.NewRecorder(st, indexer, log)

	keycloak := auth.NewKeycloakClient(
		cfg.Auth.Keycloak.URL,
		cfg.Auth.Keycloak.Realm,
		cfg.Auth.Keycloak.ClientID,
		cfg.Auth.Keycloak.ClientSecret,
		config.GetDuration(cfg.Auth.Keycloak.Timeout),
	)
	directory := permission.NewKeycloakDirectory(keycloak, redis, config.GetDuration(cfg.Auth.ActorCacheTTL), log)
	gate := permission.NewGate(directory, nil, log)

	classifier := compliance.NewOpenAIClassifier(
		cfg.APIs.Classifier.APIKey,
		cfg.APIs.Classifier.BaseURL,
		cfg.APIs.Classifier.Model,
		cfg.APIs.Classifier.Temperature,
	)
	validator := compliance.NewValidator(st, compliance.NewS3TextSource(s3Client, 0), classifier,
		config.GetDuration(cfg.APIs.Classifier.Timeout), log)

	verifications := verification.NewService(st,
		verification.NewHTTPVerifier(
			cfg.APIs.Verifier.BaseURL,
			cfg.APIs.Verifier.APIKey,
			config.GetDuration(cfg.APIs.Verifier.Timeout),
			cfg.APIs.Verifier.MaxRetries,
		),
		redis,
		verification.Config{
			SubmitTimeout: config.GetDuration(cfg.APIs.Verifier.Timeout),
			ClaimTTL:      config.GetDuration(cfg.Workflow.CallbackClaimTTL),
			DedupeTTL:     config.GetDuration(cfg.Workflow.CallbackDedupeTTL),
		},
		log,
	)

	signatures := signature.NewCoordinator(st, recorder, sink, publisher, log)

	deps := workflow.Dependencies{
		Repo:          st,
		Audit:         recorder,
		Validator:     validator,
		Verifier:      verifications,
		Signatures:    signatures,
		Publisher:     publisher,
		Observability: obs,
	}
	if cfg.Workflow.NotifyOnTransition {
		deps.Notifier = sink
	}
	orchestrator := workflow.NewOrchestrator(deps, log)
	verifications.SetListener(orchestrator)
	signatures.SetListener(orchestrator)

	tracker := expiration.NewTracker(st, recorder, sink, publisher, expiration.Config{
		ExpiringSoonDays:  cfg.Workflow.ExpiringSoonDays,
		RenewalPeriodDays: cfg.Workflow.RenewalPeriodDays,
	}, log)

	// --- Workers ---
	activities, err := registry.Default()
	if err != nil {
		zapLog.Fatal("activity registry invalid", zap.Error(err))
	}

	var workers []worker.JobWorker
	start := func(taskType string, handler camunda.JobHandlerFunc) {
		w, ok := startWorker(zeebe.GetClient(), activities, cfg, taskType, handler, log)
		if ok {
			workers = append(workers, w)
		}
	}

	start(vt.TaskType, vt.NewHandler(&vt.Config{
		Timeout: config.GetDuration(config.GetWorkerConfig(cfg, vt.TaskType).Timeout),
	}, orchestrator, log).Handle)

	vcCfg := vc.LoadConfig()
	vcCfg.Timeout = config.GetDuration(config.GetWorkerConfig(cfg, vc.TaskType).Timeout)
	start(vc.TaskType, vc.NewHandler(vcCfg, orchestrator, st, log).Handle)

	rsCfg := rs.LoadConfig()
	rsCfg.Timeout = config.GetDuration(config.GetWorkerConfig(cfg, rs.TaskType).Timeout)
	start(rs.TaskType, rs.NewHandler(rsCfg, signatures, log).Handle)

	start(ce.TaskType, ce.NewHandler(&ce.Config{
		Timeout: config.GetDuration(config.GetWorkerConfig(cfg, ce.TaskType).Timeout),
	}, tracker, signatures, log).Handle)

	start(sn.TaskType, sn.NewHandler(&sn.Config{
		Timeout: config.GetDuration(config.GetWorkerConfig(cfg, sn.TaskType).Timeout),
	}, sink, log).Handle)

	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- HTTP ---
	handler := httptransport.NewHandler(httptransport.Dependencies{
		Lookup:        st,
		Gate:          gate,
		Workflow:      orchestrator,
		Signatures:    signatures,
		Verifications: verifications,
		Expirations:   tracker,
		Audit:         recorder,
		WebhookSecret: cfg.APIs.Verifier.WebhookSecret,
		Readiness: map[string]httptransport.ReadinessCheck{
			"postgres":      pg.Ping,
			"redis":         redis.Ping,
			"elasticsearch": esClient.Ping,
			"zeebe":         zeebe.HealthCheck,
		},
	}, log)

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      httptransport.NewRouter(handler, config.GetDuration(cfg.HTTP.WriteTimeout)),
		ReadTimeout:  config.GetDuration(cfg.HTTP.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.HTTP.WriteTimeout) + time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}
	for _, w := range workers {
		w.Close()
		w.AwaitClose()
	}
	zapLog.Info("Docflow manager stopped")
}

// startWorker opens taskType when enabled. The input schema and fallback
// timeout come from the activity registry; the config file wins on timeout.
func startWorker(client zbc.Client, activities *registry.ActivityRegistry, cfg *config.Config, taskType string, handler camunda.JobHandlerFunc, log logger.Logger) (worker.JobWorker, bool) {
	wcfg := config.GetWorkerConfig(cfg, taskType)
	if !wcfg.Enabled {
		log.Info("Worker disabled", map[string]interface{}{"taskType": taskType})
		return nil, false
	}

	opts := camunda.WorkerOptions{
		TaskType:      taskType,
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       config.GetDuration(wcfg.Timeout),
	}
	if activity, ok := activities.Find(taskType); ok {
		schema, err := activity.InputSchemaJSON()
		if err != nil {
			log.Error("Activity input schema unusable, starting without validation", map[string]interface{}{
				"taskType": taskType,
				"error":    err,
			})
		}
		opts.InputSchema = schema
		if wcfg.Timeout <= 0 {
			opts.Timeout = activity.TimeoutDuration(30 * time.Second)
		}
	}
	if opts.MaxJobsActive <= 0 {
		opts.MaxJobsActive = cfg.Camunda.MaxJobsActive
	}
	return camunda.StartWorker(client, opts, handler, log), true
}
