package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/bus"
	"github.com/shannonlabs/shannon/internal/commands"
	"github.com/shannonlabs/shannon/internal/config"
	"github.com/shannonlabs/shannon/internal/contextstore"
	"github.com/shannonlabs/shannon/internal/executor"
	"github.com/shannonlabs/shannon/internal/memory"
	"github.com/shannonlabs/shannon/internal/pause"
	"github.com/shannonlabs/shannon/internal/pipeline"
	"github.com/shannonlabs/shannon/internal/planner"
	"github.com/shannonlabs/shannon/internal/providers"
	"github.com/shannonlabs/shannon/internal/scheduler"
	"github.com/shannonlabs/shannon/internal/tools"
	"github.com/shannonlabs/shannon/internal/tracing"
	"github.com/shannonlabs/shannon/internal/transports"
	"github.com/shannonlabs/shannon/internal/webhooks"
)

// shutdownGrace bounds how long Stop calls may take on the way down.
const shutdownGrace = 10 * time.Second

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Observability.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}

	llm, err := providers.New(cfg.LLM)
	if err != nil {
		slog.Error("provider setup failed", "error", err)
		os.Exit(1)
	}

	dataDir := cfg.ResolvedDataDir()
	ctxStore, err := contextstore.Open(filepath.Join(dataDir, "context.db"), cfg.Context.MaxMessages)
	if err != nil {
		slog.Error("context store failed", "error", err)
		os.Exit(1)
	}
	memStore, err := memory.Open(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		slog.Error("memory store failed", "error", err)
		os.Exit(1)
	}

	authMgr := auth.NewManager(authConfig(cfg))
	pauser := pause.NewManager()
	msgBus := bus.New()

	sched, err := scheduler.Open(dataDir, cfg.ResolvedHeartbeatFile(),
		cfg.Scheduler.HeartbeatInterval(), msgBus, pauser)
	if err != nil {
		slog.Error("scheduler failed", "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool())
	registry.Register(tools.NewBrowserTool())
	registry.Register(tools.NewMemorySetTool(memStore))
	registry.Register(tools.NewMemoryGetTool(memStore))
	registry.Register(tools.NewMemoryDeleteTool(memStore))
	registry.Register(tools.NewScheduleTool(sched))

	exec := executor.New(llm, registry)

	pipe := pipeline.New(pipeline.Options{
		Auth:               authMgr,
		Store:              ctxStore,
		Memory:             memStore,
		Registry:           registry,
		Executor:           exec,
		Pauser:             pauser,
		Bus:                msgBus,
		LLM:                llm,
		SummarizeThreshold: cfg.Context.SummarizeThreshold,
		RequestTimeout:     cfg.LLM.RequestTimeout(),
		DryRun:             dryRun,
	})

	plans, err := planner.Open(filepath.Join(dataDir, "plans.db"), llm, registry, pipe.SendFunc())
	if err != nil {
		slog.Error("planner failed", "error", err)
		os.Exit(1)
	}
	registry.Register(tools.NewPlanTool(plans))

	cmdHandler := commands.NewHandler(authMgr, ctxStore, memStore, pauser, sched, llm,
		pipe.SendFunc())
	pipe.SetCommands(cmdHandler)
	pipe.Attach()
	pauser.OnAutoResume(pipe.ReportMissed)

	transportMgr := transports.NewManager(msgBus)
	if cfg.Discord.Token != "" {
		discord, err := transports.NewDiscord(cfg.Discord.Token, msgBus)
		if err != nil {
			slog.Error("discord setup failed", "error", err)
			os.Exit(1)
		}
		transportMgr.Register(discord)
	}

	var webhookSrv *webhooks.Server
	if cfg.Webhooks.Enabled {
		webhookSrv = webhooks.NewServer(cfg.Webhooks, msgBus)
	}

	// Config reloads pick up new auth lists without a restart.
	go func() {
		err := config.Watch(ctx, cfgPath, func(updated *config.Config) {
			authMgr.Reload(authConfig(updated))
		})
		if err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
	}()

	msgBus.Start()
	if cfg.Scheduler.Enabled {
		sched.Start()
	}
	if webhookSrv != nil {
		if err := webhookSrv.Start(); err != nil {
			slog.Error("webhook server failed", "error", err)
			os.Exit(1)
		}
	}
	if err := transportMgr.StartAll(ctx); err != nil {
		slog.Error("transport start failed", "error", err)
		os.Exit(1)
	}

	slog.Info("shannon gateway running",
		"provider", llm.Name(), "data_dir", dataDir, "dry_run", dryRun)
	<-ctx.Done()
	slog.Info("shutting down")

	// Shutdown order: stop ingress first, drain the bus, then close
	// stores and the provider.
	grace, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	transportMgr.StopAll(grace)
	if webhookSrv != nil {
		if err := webhookSrv.Stop(grace); err != nil {
			slog.Error("webhook stop failed", "error", err)
		}
	}
	if err := sched.Stop(); err != nil {
		slog.Error("scheduler stop failed", "error", err)
	}
	if err := msgBus.Stop(grace); err != nil {
		slog.Error("bus drain failed", "error", err)
	}
	registry.Cleanup()
	if err := plans.Close(); err != nil {
		slog.Error("planner close failed", "error", err)
	}
	if err := ctxStore.Close(); err != nil {
		slog.Error("context store close failed", "error", err)
	}
	if err := memStore.Close(); err != nil {
		slog.Error("memory store close failed", "error", err)
	}
	if err := llm.Close(); err != nil {
		slog.Error("provider close failed", "error", err)
	}
	if err := shutdownTracing(grace); err != nil {
		slog.Error("tracing shutdown failed", "error", err)
	}
}

func authConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		AdminUsers:         cfg.Auth.AdminUsers,
		OperatorUsers:      cfg.Auth.OperatorUsers,
		TrustedUsers:       cfg.Auth.TrustedUsers,
		RateLimitPerMinute: cfg.Auth.RateLimitPerMinute,
		SudoTimeout:        cfg.Auth.SudoTimeout(),
	}
}
