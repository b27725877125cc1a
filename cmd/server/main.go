// Command server runs the vida-gateway: a PHI-aware gatekeeper that fronts
// clinical resources with admission control, credential verification,
// minimum-necessary access evaluation, field-level protection and a
// tamper-evident audit trail.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"vida-gateway/internal/access"
	"vida-gateway/internal/admission"
	counterstore "vida-gateway/internal/admission/store/counter"
	signalstore "vida-gateway/internal/admission/store/signal"
	"vida-gateway/internal/audit"
	"vida-gateway/internal/fieldguard"
	httpapi "vida-gateway/internal/http"
	"vida-gateway/internal/identity"
	"vida-gateway/internal/pipeline"
	"vida-gateway/internal/platform/config"
	"vida-gateway/internal/platform/httpserver"
	"vida-gateway/internal/platform/logger"
	"vida-gateway/internal/platform/metrics"
	platformredis "vida-gateway/internal/platform/redis"
	"vida-gateway/internal/records"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if !cfg.IsProduction() {
		log.Warn("running with development keys", "environment", cfg.Environment)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	ready := make(map[string]httpapi.ReadinessCheck)

	// Shared stores: Redis when configured, in-memory for single-instance dev.
	var counters counterstore.Store = counterstore.NewInMemoryStore()
	var signals signalstore.Store = signalstore.NewInMemoryStore()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		counters = counterstore.NewRedisStore(redisClient.Client)
		signals = signalstore.NewRedisStore(redisClient.Client)
		ready["redis"] = redisClient.Health
		log.Info("using redis-backed admission stores")
	} else {
		log.Warn("no redis configured, admission state is per-instance")
	}

	// Audit store: Postgres when configured, in-memory otherwise.
	var auditStore audit.Store = audit.NewInMemoryStore()
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Error("database open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := audit.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("audit schema migration failed", "error", err)
			os.Exit(1)
		}
		auditStore = pg
		ready["database"] = db.PingContext
		log.Info("using postgres-backed audit store")
	} else {
		log.Warn("no database configured, audit trail is per-instance")
	}

	group, ctx := errgroup.WithContext(ctx)

	recorderOpts := []audit.Option{
		audit.WithLogger(log),
		audit.WithAppendObserver(func(d time.Duration) { m.AuditAppendSeconds.Observe(d.Seconds()) }),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		exporter, err := audit.NewKafkaExporter(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("kafka exporter init failed", "error", err)
			os.Exit(1)
		}
		recorderOpts = append(recorderOpts, audit.WithExporter(exporter))
		group.Go(func() error { return exporter.Run(ctx) })
		log.Info("audit export enabled", "topic", cfg.Kafka.Topic)
	}

	retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
	recorder, err := audit.NewRecorder(auditStore, cfg.Audit.IntegrityKey, retention, recorderOpts...)
	if err != nil {
		log.Error("audit recorder init failed", "error", err)
		os.Exit(1)
	}

	keyring, err := fieldguard.NewKeyring([]byte(cfg.FieldMasterKey))
	if err != nil {
		log.Error("field keyring init failed", "error", err)
		os.Exit(1)
	}
	guard, err := fieldguard.NewGuard(keyring, recorder,
		fieldguard.WithMetrics(m), fieldguard.WithLogger(log))
	if err != nil {
		log.Error("field guard init failed", "error", err)
		os.Exit(1)
	}

	verifier, err := identity.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience, recorder, log)
	if err != nil {
		log.Error("verifier init failed", "error", err)
		os.Exit(1)
	}
	evaluator, err := access.NewEvaluator(access.DefaultPolicy(), recorder, log)
	if err != nil {
		log.Error("access evaluator init failed", "error", err)
		os.Exit(1)
	}
	admitter, err := admission.New(counters, signals, recorder, cfg.Admission,
		admission.WithMetrics(m), admission.WithLogger(log))
	if err != nil {
		log.Error("admission controller init failed", "error", err)
		os.Exit(1)
	}
	gateway, err := pipeline.New(admitter, verifier, evaluator, guard, recorder,
		pipeline.WithMetrics(m), pipeline.WithLogger(log))
	if err != nil {
		log.Error("pipeline init failed", "error", err)
		os.Exit(1)
	}

	recordStore := records.NewStore()
	if !cfg.IsProduction() {
		if err := records.SeedDemo(ctx, recordStore, guard); err != nil {
			log.Error("demo seed failed", "error", err)
			os.Exit(1)
		}
	}

	handler, err := httpapi.NewHandler(gateway, recordStore, recorder, ready, log)
	if err != nil {
		log.Error("http handler init failed", "error", err)
		os.Exit(1)
	}
	srv := httpserver.New(cfg.Addr, httpapi.NewRouter(handler))

	group.Go(func() error {
		log.Info("gateway listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("gateway terminated", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}
