// Package config loads process configuration the way the source
// platform's config.go does: chu.Load layered YAML file + "TASKD_"
// prefixed environment overrides, with logi wiring the configured log
// level into the global slog handler immediately after load.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Server    Server      `cfg:"server"`
	Store     Store       `cfg:"store"`
	Scheduler Scheduler   `cfg:"scheduler"`
	Email     Email       `cfg:"email"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Server struct {
	BasePath string `cfg:"base_path"`
	Port     string `cfg:"port" default:"8080"`
	Host     string `cfg:"host"`

	// AdminToken protects the mutating control-plane endpoints (job/workflow
	// CRUD, pause/resume/run-now, bulk operations) with bearer token auth.
	// If empty, those endpoints are disabled (403 Forbidden).
	AdminToken string `cfg:"admin_token" log:"-"`
}

type Store struct {
	SQLite *StoreSQLite `cfg:"sqlite"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource" default:"taskd.db"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// Scheduler configures the scheduling engine and configuration reconciler.
type Scheduler struct {
	// WorkDir is the sandbox root every shell task and workflow cwd is
	// confined to.
	WorkDir string `cfg:"work_dir" default:"/var/lib/taskd/work"`

	// WorkerBinaryPath is the path to the taskworker executable spawned
	// for python job_type dispatches. Defaults to "taskworker" alongside
	// the main binary on $PATH.
	WorkerBinaryPath string `cfg:"worker_binary_path" default:"taskworker"`

	// DeclarativeFile is the YAML file the reconciler seeds from at
	// startup and re-syncs (DB -> engine only) on modification.
	DeclarativeFile string `cfg:"declarative_file"`

	// DeleteOrphanedOnSync removes engine entries whose id is absent from
	// the store during a DB->engine sync.
	DeleteOrphanedOnSync bool `cfg:"delete_orphaned_on_sync" default:"true"`

	// PeriodicSyncInterval, if > 0, reconciles DB -> engine on a fixed
	// cadence in addition to the filesystem watch.
	PeriodicSyncInterval time.Duration `cfg:"periodic_sync_interval" default:"60s"`
}

// Email configures the SMTP sender used by email job_type tasks. The
// password is never stored here — it is read from the environment named by
// PasswordEnvVar at dispatch time.
type Email struct {
	SenderAccount  string `cfg:"sender_account"`
	SMTPHost       string `cfg:"smtp_host"`
	SMTPPort       int    `cfg:"smtp_port" default:"587"`
	PasswordEnvVar string `cfg:"password_env_var" default:"TASKD_EMAIL_PASSWORD"`
	TemplateDir    string `cfg:"template_dir"`
	InsecureTLS    bool   `cfg:"insecure_tls"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("TASKD_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
