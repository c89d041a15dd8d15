// Package main wires the guestgate server: configuration, the verification
// engine with its providers, the audit pipeline, and the HTTP surface.
// Business logic lives in the internal packages; this file only composes
// them and owns the process lifecycle.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"guestgate/internal/channels/background"
	channelmetrics "guestgate/internal/channels/metrics"
	jwttoken "guestgate/internal/jwt_token"
	"guestgate/internal/platform/config"
	"guestgate/internal/platform/httpserver"
	"guestgate/internal/platform/kafka"
	kafkaconsumer "guestgate/internal/platform/kafka/consumer"
	"guestgate/internal/platform/logger"
	"guestgate/internal/platform/metrics"
	"guestgate/internal/platform/redis"
	"guestgate/internal/providers"
	"guestgate/internal/session/store/snapshot"
	httptransport "guestgate/internal/transport/http"
	trustmetrics "guestgate/internal/trust/metrics"
	"guestgate/internal/verification"
	verificationhandler "guestgate/internal/verification/handler"
	enginemetrics "guestgate/internal/verification/metrics"
	id "guestgate/pkg/domain"
	"guestgate/pkg/platform/audit"
	auditconsumer "guestgate/pkg/platform/audit/consumer"
	"guestgate/pkg/platform/audit/publishers/compliance"
	"guestgate/pkg/platform/audit/publishers/ops"
	"guestgate/pkg/platform/audit/publishers/security"
	auditmemory "guestgate/pkg/platform/audit/store/memory"
	auditpostgres "guestgate/pkg/platform/audit/store/postgres"
	auditworker "guestgate/pkg/platform/audit/worker"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("guestgate exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session snapshots: Redis when configured, otherwise resumable only
	// while this process lives.
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var snapshots snapshot.Store
	if redisClient != nil {
		defer redisClient.Close()
		snapshots = snapshot.NewRedis(redisClient.Client)
	} else {
		snapshots = snapshot.New()
		log.Warn("redis not configured, session snapshots are memory-only")
	}

	// Audit trail: Postgres outbox when configured, in-memory otherwise.
	var db *sql.DB
	if cfg.Postgres.AuditDatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.Postgres.AuditDatabaseURL)
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping audit database: %w", err)
		}
	}
	var auditStore audit.Store
	var pgStore *auditpostgres.Store
	if db != nil {
		pgStore = auditpostgres.New(db)
		auditStore = pgStore
	} else {
		auditStore = auditmemory.NewInMemoryStore()
		log.Warn("audit database not configured, audit events are held in memory")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Kafka leg: the relay drains the outbox into per-category topics and
	// the group consumer materializes them back into query tables. Rows
	// not yet relayed at shutdown survive in the outbox for the next boot.
	var producer *kafka.Producer
	var consumer *kafkaconsumer.Consumer
	if db != nil {
		producer, err = kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()

		relay := auditworker.NewRelay(db, producer, cfg.Kafka.AuditTopicFor, log,
			auditworker.WithInterval(cfg.Postgres.OutboxPollInterval),
			auditworker.WithBatchSize(cfg.Postgres.OutboxBatchSize),
			auditworker.WithMetrics(auditworker.NewMetrics()),
		)
		g.Go(func() error { return relay.Run(gctx) })

		router := auditconsumer.NewRouter(log, nil)
		router.Register(cfg.Kafka.AuditTopicFor("compliance"), auditconsumer.NewComplianceHandler(pgStore, log))
		router.Register(cfg.Kafka.AuditTopicFor("security"), auditconsumer.NewSecurityHandler(pgStore, log))
		router.Register(cfg.Kafka.AuditTopicFor("operations"), auditconsumer.NewOpsHandler(pgStore, log))
		consumer, err = kafkaconsumer.New(cfg.Kafka, cfg.Kafka.AuditTopics(), router, log)
		if err != nil {
			return fmt.Errorf("connect kafka consumer: %w", err)
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	compliancePub := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	securityAud := security.NewAuditor(auditStore, security.WithLogger(log))
	opsTracker := ops.NewTracker(auditStore,
		ops.WithLogger(log),
		ops.WithMetrics(ops.NewMetrics()),
	)

	identity, phones, checker := buildProviders(cfg.Providers, log)

	engineCfg := verification.DefaultConfig()
	engineCfg.OTPTTL = cfg.Verification.OTPTTL
	engineCfg.SnapshotTTL = cfg.Verification.SnapshotTTL
	engineCfg.SnapshotDebounce = cfg.Verification.SnapshotDebounce
	engineCfg.BackgroundPollInterval = cfg.Verification.BackgroundPollInterval
	engineCfg.BackgroundPollBudget = cfg.Verification.BackgroundPollBudget
	engineCfg.OfferPolicy = background.OfferPolicy{
		ScoreBelow:  cfg.Verification.ScoreThreshold,
		GuestsAbove: cfg.Verification.GuestCountThreshold,
	}

	engine := verification.New(snapshots, identity, phones, checker, engineCfg,
		verification.WithLogger(log),
		verification.WithMetrics(enginemetrics.New()),
		verification.WithChannelMetrics(channelmetrics.New()),
		verification.WithTrustMetrics(trustmetrics.New()),
		verification.WithAuditPublishers(compliancePub, securityAud, opsTracker),
	)

	tokens, err := tokenService(cfg, log)
	if err != nil {
		return err
	}

	handler := verificationhandler.New(engine, log, jwttoken.NewVerifierAdapter(tokens))
	router := httptransport.New(httptransport.Deps{
		Logger:       log,
		Verification: handler,
		Metrics:      metrics.New(),
		Redis:        redisClient,
		DB:           db,
	})

	srv := httpserver.New(cfg.Addr, router)
	g.Go(func() error {
		log.Info("guestgate listening",
			"addr", cfg.Addr, "env", cfg.Env, "providers", cfg.Providers.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case <-gctx.Done():
	}

	if err := httpserver.Shutdown(srv, shutdownGrace); err != nil {
		log.Error("http shutdown", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := engine.Close(closeCtx); err != nil {
		log.Error("engine close", "error", err)
	}
	// Flush buffered audit events before the relay stops; whatever reaches
	// the outbox after this still goes out on the next boot.
	if err := securityAud.Close(); err != nil {
		log.Error("security auditor close", "error", err)
	}
	if err := opsTracker.Close(); err != nil {
		log.Error("ops tracker close", "error", err)
	}
	if producer != nil {
		if err := producer.Flush(closeCtx); err != nil {
			log.Error("kafka flush", "error", err)
		}
	}
	stop()
	if consumer != nil {
		consumer.Close()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("guestgate stopped")
	return nil
}

func buildProviders(cfg config.ProvidersConfig, log *slog.Logger) (providers.IdentityVerifier, providers.PhoneVerifier, providers.BackgroundChecker) {
	if cfg.Mode == "http" {
		return providers.NewHTTPIdentityVerifier(httpProviderConfig(cfg.Identity()), log),
			providers.NewHTTPPhoneVerifier(httpProviderConfig(cfg.Phone()), log),
			providers.NewHTTPBackgroundChecker(httpProviderConfig(cfg.Background()), log)
	}
	log.Info("verification providers running in mock mode")
	return &providers.MockIdentityVerifier{}, &providers.MockPhoneVerifier{}, &providers.MockBackgroundChecker{}
}

func httpProviderConfig(pc config.ProviderConfig) providers.HTTPConfig {
	return providers.HTTPConfig{BaseURL: pc.BaseURL, APIKey: pc.APIKey, Timeout: pc.Timeout}
}

// tokenService builds the bearer token verifier. Without a configured key
// (development only; Validate rejects that in production) it signs with a
// boot-scoped random key and logs a ready token so the API stays reachable.
func tokenService(cfg *config.Config, log *slog.Logger) (*jwttoken.Service, error) {
	signingKey := cfg.JWTSigningKey
	ephemeral := signingKey == ""
	if ephemeral {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate development signing key: %w", err)
		}
		signingKey = hex.EncodeToString(buf)
	}

	tokens := jwttoken.NewService(signingKey, "booking-platform", "guestgate")
	if ephemeral {
		devToken, err := tokens.Mint(id.NewGuestID(), "guest@example.test", "Dev Guest", 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("mint development token: %w", err)
		}
		log.Warn("no signing key configured, minted a development bearer token", "bearer", devToken)
	}
	return tokens, nil
}
