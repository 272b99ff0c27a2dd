// Package server exposes the turn engine and its collaborators over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/KafClaw/fabrix/internal/admin"
	"github.com/KafClaw/fabrix/internal/assets"
	"github.com/KafClaw/fabrix/internal/orchestrator"
	"github.com/KafClaw/fabrix/internal/policy"
	"github.com/KafClaw/fabrix/internal/retrieval"
	"github.com/KafClaw/fabrix/internal/toolbus"
	"github.com/KafClaw/fabrix/internal/tools"
	"github.com/KafClaw/fabrix/internal/uistate"
)

// TurnRunner runs one chat turn.
type TurnRunner interface {
	Run(ctx context.Context, rc *orchestrator.RunContext) (*orchestrator.Response, error)
}

// Deps are the collaborators the handlers call. Publisher and Gatherer
// may be nil.
type Deps struct {
	Engine     TurnRunner
	Dispatcher *tools.Dispatcher
	Retrieval  *retrieval.Service
	UIState    *uistate.Manager
	Admin      *admin.Service
	Assets     *assets.Service
	PolicyLog  policy.EventLog
	Publisher  toolbus.Publisher
	Gatherer   prometheus.Gatherer
}

// Options tune the HTTP surface.
type Options struct {
	Addr        string
	AuthToken   string
	ServiceName string
	TurnTimeout time.Duration
}

// Server is the gin HTTP API.
type Server struct {
	deps   Deps
	opts   Options
	router *gin.Engine
}

// New builds the router and registers every route.
func New(deps Deps, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "fabrix"
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))

	s := &Server{deps: deps, opts: opts, router: router}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/v1")
	v1.Use(bearerAuth(s.opts.AuthToken))
	{
		v1.POST("/chat/message", s.handleChatMessage)
		v1.POST("/ui/state", s.handlePatchUIState)
		v1.GET("/ui/state/:sessionId", s.handleGetUIState)
		v1.GET("/ui/state/:sessionId/events", s.handleUIStateEvents)

		v1.GET("/tools", s.handleListTools)
		v1.POST("/tools/action-result", s.handleActionResult)
		v1.GET("/tools/runs/:actionId", s.handleGetToolRun)

		v1.GET("/kb", s.handleListKBs)
		v1.POST("/kb", s.handleCreateKB)
		v1.POST("/kb/:kbId/documents", s.handleAddDocument)
		v1.POST("/rag/query", s.handleRAGQuery)

		v1.POST("/assets", s.handleCreateAsset)
		v1.GET("/assets", s.handleListAssets)

		adminGroup := v1.Group("/admin")
		{
			adminGroup.POST("/roles", s.handleCreateRole)
			adminGroup.POST("/users", s.handleCreateUser)
			adminGroup.GET("/usage", s.handleUsage)
		}

		v1.GET("/policy/events", s.handlePolicyEvents)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
