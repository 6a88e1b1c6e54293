package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/vektorhq/taskd/internal/config"
	"github.com/vektorhq/taskd/internal/dispatcher"
	"github.com/vektorhq/taskd/internal/reconciler"
	"github.com/vektorhq/taskd/internal/scheduler"
	"github.com/vektorhq/taskd/internal/server"
	"github.com/vektorhq/taskd/internal/store"
	"github.com/vektorhq/taskd/internal/workflow"

	_ "github.com/vektorhq/taskd/internal/registry/tasks"
)

var (
	name    = "taskd"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.Scheduler.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create scheduler work_dir: %w", err)
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer st.Close()

	engine := scheduler.New(st, slog.Default())
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start scheduling engine: %w", err)
	}
	defer engine.Stop()

	runner := workflow.New(st, cfg.Scheduler.WorkDir, cfg.Scheduler.WorkerBinaryPath, slog.Default())

	emailCfg := dispatcher.EmailConfig{
		SenderAccount: cfg.Email.SenderAccount,
		SMTPHost:      cfg.Email.SMTPHost,
		SMTPPort:      cfg.Email.SMTPPort,
		PasswordEnv:   cfg.Email.PasswordEnvVar,
		InsecureTLS:   cfg.Email.InsecureTLS,
		TemplateDir:   cfg.Email.TemplateDir,
	}

	rec := reconciler.New(st, engine, runner, emailCfg, cfg.Scheduler.WorkerBinaryPath,
		cfg.Scheduler.WorkDir, cfg.Scheduler.DeleteOrphanedOnSync, slog.Default())

	if err := rec.Seed(ctx, cfg.Scheduler.DeclarativeFile); err != nil {
		slog.Error("seed declarative file", "error", err)
	}

	if err := rec.Sync(ctx); err != nil {
		slog.Error("initial sync", "error", err)
	}

	if err := rec.Watch(ctx, cfg.Scheduler.DeclarativeFile); err != nil {
		slog.Error("watch declarative file", "error", err)
	}

	go rec.RunPeriodicSync(ctx, cfg.Scheduler.PeriodicSyncInterval)

	srv := server.New(cfg.Server, config.Service, st, engine, runner, rec, cfg.Scheduler.WorkDir)

	slog.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)

	return srv.Start(ctx)
}
