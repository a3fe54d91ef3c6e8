package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/forgeci/forge/internal/accounts"
	"github.com/forgeci/forge/internal/agent"
	"github.com/forgeci/forge/internal/api"
	"github.com/forgeci/forge/internal/bootstrap"
	"github.com/forgeci/forge/internal/config"
	"github.com/forgeci/forge/internal/events"
	"github.com/forgeci/forge/internal/metrics"
	"github.com/forgeci/forge/internal/plugins"
	"github.com/forgeci/forge/internal/policy"
	"github.com/forgeci/forge/internal/rate"
	"github.com/forgeci/forge/internal/store"
	"github.com/forgeci/forge/pkg/eventbus"
	"github.com/forgeci/forge/pkg/logger"
	"github.com/forgeci/forge/pkg/secrets"
	"github.com/forgeci/forge/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [forge-server]...")

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	// --- Store (Redis + optional Postgres) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Domain services ---
	acctSvc := accounts.NewService(logg.Desugar(), st).WithVerifyCache(cfg.CacheTTL)
	acctSvc.StartCacheCleaner(ctx, cfg.CleanupFreq)
	polSvc := policy.NewService(logg.Desugar(), st)
	bus := eventbus.New()

	// --- Administrator credential source ---
	var source secrets.CredentialSource
	switch cfg.SecretsProvider {
	case "aws":
		provider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		source = secrets.NewAWSSource(provider, cfg.AdminSecretName)
		logg.Infow("admin credentials from AWS Secrets Manager", "secret", cfg.AdminSecretName)
	default:
		source = secrets.NewFileSource(cfg.AdminUserFile, cfg.AdminPasswordFile)
		logg.Infow("admin credentials from mounted secret files",
			"user_file", cfg.AdminUserFile,
			"password_file", cfg.AdminPasswordFile)
	}

	// --- Lifecycle event broker ---
	var pub events.Publisher = events.NoopPublisher{}
	switch cfg.EventsBroker {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = events.NewNATS(logg.Desugar(), nc, cfg.EventSubject, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init NATS publisher", "error", err)
		}
	case "amqp":
		pub, err = events.NewAMQP(logg.Desugar(), cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init AMQP publisher", "error", err)
		}
	}
	events.NewBridge(logg.Desugar(), bus, pub, cfg.EventSubject, cfg.ServiceName)

	// --- Metrics ---
	metrics.StartServer(cfg.MetricsAddr)

	// --- Bootstrap provisioner ---
	// Runs to completion before either listener starts: the server is
	// never reachable in the UNINITIALIZED state.
	syncer := plugins.NewSyncer(logg.Desugar(), st, cfg.PluginManifestPath)
	prov := bootstrap.New(logg.Desugar(), &bootstrap.Context{
		Accounts: acctSvc,
		Policy:   polSvc,
		Store:    st,
		Source:   source,
		Bus:      bus,
	})
	prov.Register(bootstrap.DefaultHooks(syncer)...)

	if err := prov.Run(ctx); err != nil {
		logg.Fatalw("bootstrap failed; server will not start", "error", err)
	}

	// --- Agent gateway ---
	gw := agent.NewGateway(logg.Desugar(), acctSvc, polSvc, bus, prov)
	go func() {
		if err := gw.Start(fmt.Sprintf(":%d", cfg.AgentPort)); err != nil {
			logg.Fatalw("agent.gateway_failed", "error", err)
		}
	}()

	// --- Fiber HTTP server (web UI port) ---
	sessions := api.NewSessionManager(st, cfg.SessionTTL)
	loginLimits := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.LoginRatePerSec,
		Burst:             cfg.LoginRateBurst,
	})
	handler := api.NewHandler(logg.Desugar(), acctSvc, sessions, st, prov, gw, loginLimits)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	api.RegisterRoutes(app, handler, sessions)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[forge-server] running",
		"state", string(prov.State()),
		"env", cfg.Env,
		"web_port", cfg.Port,
		"agent_port", cfg.AgentPort,
		"broker", cfg.EventsBroker)

	// --- Main process stays alive until interrupted ---
	<-ctx.Done()
	logg.Info("shutting down [forge-server]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("agent.gateway_shutdown_failed", "error", err)
	}
	pub.Close()
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
