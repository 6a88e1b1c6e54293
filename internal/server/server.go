// Package server is the thin HTTP control plane (design-level contract per
// the core spec; handlers here are a reasonable concrete implementation
// over it, not the hard engineering surface). Wiring follows the same ada
// middleware stack and route-group layout the source platform's gateway
// server uses.
package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/vektorhq/taskd/internal/config"
	"github.com/vektorhq/taskd/internal/reconciler"
	"github.com/vektorhq/taskd/internal/scheduler"
	"github.com/vektorhq/taskd/internal/store"
	"github.com/vektorhq/taskd/internal/workflow"
)

type Server struct {
	config config.Server
	server *ada.Server

	store      store.Store
	engine     *scheduler.Engine
	runner     *workflow.Runner
	reconciler *reconciler.Reconciler
	workDir    string
}

func New(cfg config.Server, serviceName string, st store.Store, engine *scheduler.Engine, runner *workflow.Runner, rec *reconciler.Reconciler, workDir string) *Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(serviceName),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config:     cfg,
		server:     mux,
		store:      st,
		engine:     engine,
		runner:     runner,
		reconciler: rec,
		workDir:    workDir,
	}

	baseGroup := mux.Group(cfg.BasePath)
	apiGroup := baseGroup.Group("/api")

	apiGroup.GET("/v1/dashboard/summary", s.DashboardSummaryAPI)
	apiGroup.GET("/v1/dashboard/timeline", s.TimelineAPI)

	apiGroup.GET("/v1/logs", s.ListLogsAPI)
	apiGroup.GET("/v1/logs/job/*", s.ListLogsByJobAPI)

	apiGroup.GET("/v1/jobs", s.ListJobsAPI)
	apiGroup.GET("/v1/jobs/*", s.GetJobAPI)

	apiGroup.GET("/v1/workflows", s.ListWorkflowsAPI)
	apiGroup.GET("/v1/workflows/*", s.GetWorkflowAPI)
	apiGroup.GET("/v1/workflow-runs", s.ListWorkflowRunsAPI)

	apiGroup.GET("/v1/sandbox/ls", s.SandboxListAPI)

	adminGroup := apiGroup.Group("/v1")
	adminGroup.Use(s.adminAuthMiddleware())

	adminGroup.POST("/jobs", s.UpsertJobAPI)
	adminGroup.PUT("/jobs/*", s.UpsertJobAPI)
	adminGroup.DELETE("/jobs/*", s.DeleteJobAPI)
	adminGroup.POST("/jobs/pause", s.PauseJobAPI)
	adminGroup.POST("/jobs/resume", s.ResumeJobAPI)
	adminGroup.POST("/jobs/run-now", s.RunNowJobAPI)
	adminGroup.POST("/jobs/bulk/pause", s.BulkPauseJobsAPI)
	adminGroup.POST("/jobs/bulk/resume", s.BulkResumeJobsAPI)

	adminGroup.POST("/workflows", s.UpsertWorkflowAPI)
	adminGroup.PUT("/workflows/*", s.UpsertWorkflowAPI)
	adminGroup.DELETE("/workflows/*", s.DeleteWorkflowAPI)
	adminGroup.POST("/workflows/run-now", s.RunWorkflowNowAPI)

	return s
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}

// adminAuthMiddleware protects mutating control-plane endpoints. If no
// admin token is configured, those endpoints are disabled outright.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.config.AdminToken == "" {
				httpResponse(w, "admin token not configured", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == "" || token == auth || token != s.config.AdminToken {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
