// Package app wires configuration, storage and collaborators into a
// running fabrix instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/fabrix/internal/admin"
	"github.com/KafClaw/fabrix/internal/assets"
	"github.com/KafClaw/fabrix/internal/config"
	"github.com/KafClaw/fabrix/internal/observability"
	"github.com/KafClaw/fabrix/internal/orchestrator"
	"github.com/KafClaw/fabrix/internal/policy"
	"github.com/KafClaw/fabrix/internal/retrieval"
	"github.com/KafClaw/fabrix/internal/server"
	"github.com/KafClaw/fabrix/internal/timeline"
	"github.com/KafClaw/fabrix/internal/toolbus"
	"github.com/KafClaw/fabrix/internal/tools"
	"github.com/KafClaw/fabrix/internal/uistate"
)

// Version is stamped at build time.
var Version = "dev"

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	Config     *config.Config
	Timeline   *timeline.TimelineService // nil with the memory store
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Policy     *policy.Evaluator
	Dispatcher *tools.Dispatcher
	Retrieval  *retrieval.Service
	UIState    *uistate.Manager
	Admin      *admin.Service
	Assets     *assets.Service
	Engine     *orchestrator.Engine
	Publisher  toolbus.Publisher // nil unless the tool bus is enabled
	Router     *toolbus.Router   // nil unless the tool bus is enabled

	shutdownTracing func(context.Context) error
}

// New builds the application from cfg.
func New(cfg *config.Config) (*App, error) {
	a := &App{
		Config:    cfg,
		Registry:  prometheus.NewRegistry(),
		Retrieval: retrieval.NewService(),
		Admin:     admin.NewService(),
		Assets:    assets.NewService(),
	}
	a.Metrics = observability.NewMetrics(a.Registry)

	if cfg.Telemetry.TraceStdout {
		shutdown, err := observability.SetupTracing(observability.TracingOptions{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     Version,
			Stdout:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		a.shutdownTracing = shutdown
	}

	var (
		eventLog  policy.EventLog
		toolStore tools.Store
		journal   uistate.Journal
	)
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		if err := config.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
			a.Close()
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		tl, err := timeline.NewTimelineService(cfg.Store.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Timeline = tl
		eventLog = policy.NewTimelineLog(tl)
		toolStore = tools.NewTimelineStore(tl)
		journal = uistate.NewTimelineJournal(tl)
		slog.Info("Using sqlite store", "path", cfg.Store.Path)
	default:
		eventLog = policy.NewMemoryLog()
		toolStore = tools.NewMemoryStore()
	}
	a.UIState = uistate.NewManager(journal)

	policyOpts := []policy.Option{policy.WithOnEvent(a.onPolicyEvent)}
	if cfg.Policy.RulesFile != "" {
		data, err := os.ReadFile(cfg.Policy.RulesFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("read policy rules: %w", err)
		}
		rs, err := policy.LoadRules(data)
		if err != nil {
			a.Close()
			return nil, err
		}
		policyOpts = append(policyOpts, policy.WithRules(rs))
	}
	evaluator, err := policy.NewEvaluator(eventLog, policyOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Policy = evaluator

	reg, err := tools.NewRegistry(tools.DefaultManifests()...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Dispatcher = tools.NewDispatcher(reg, toolStore)
	a.Dispatcher.SetEventHook(a.Metrics.RecordToolEvent)

	a.Engine = orchestrator.NewWithStages(orchestrator.DefaultStages(a.Policy, a.Dispatcher, a.Retrieval, cfg.Tools.DefaultGridID)...)
	a.Engine.SetObserver(a.Metrics)
	slog.Debug("Turn pipeline ready", "stages", a.Engine.Stages())

	if cfg.ToolBus.Enabled {
		a.Publisher = toolbus.NewKafkaPublisher(cfg.ToolBus.Brokers, cfg.ToolBus.RequestsTopic, cfg.ToolBus.SenderID)
		consumer := toolbus.NewKafkaConsumer(cfg.ToolBus.Brokers, cfg.ToolBus.ConsumerGroup, []string{cfg.ToolBus.ResultsTopic})
		a.Router = toolbus.NewRouter(consumer, a.Dispatcher, a.Admin)
		a.Router.SetSenderID(cfg.ToolBus.SenderID)
		slog.Info("Tool bus enabled", "brokers", cfg.ToolBus.Brokers,
			"requests", cfg.ToolBus.RequestsTopic, "results", cfg.ToolBus.ResultsTopic)
	}
	return a, nil
}

func (a *App) onPolicyEvent(ev policy.Event) {
	a.Metrics.RecordPolicyEvent(ev.Policy, string(ev.Action))
	if ev.Action == policy.ActionBlock {
		a.Admin.IncrementUsage(admin.UsagePolicyViolations)
	}
}

// Server builds the HTTP server over the app's components.
func (a *App) Server() *server.Server {
	deps := server.Deps{
		Engine:     a.Engine,
		Dispatcher: a.Dispatcher,
		Retrieval:  a.Retrieval,
		UIState:    a.UIState,
		Admin:      a.Admin,
		Assets:     a.Assets,
		PolicyLog:  a.Policy.Log(),
		Publisher:  a.Publisher,
	}
	if a.Config.Telemetry.Metrics {
		deps.Gatherer = a.Registry
	}
	return server.New(deps, server.Options{
		Addr:        a.Config.Gateway.Addr(),
		AuthToken:   a.Config.Gateway.AuthToken,
		ServiceName: a.Config.Telemetry.ServiceName,
		TurnTimeout: a.Config.Gateway.TurnTimeout,
	})
}

// Run serves HTTP and, when enabled, routes tool results from the bus until
// ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	srv := a.Server()
	g.Go(func() error { return srv.Run(ctx) })
	if a.Router != nil {
		g.Go(func() error { return a.Router.Run(ctx) })
	}
	return g.Wait()
}

// Close releases the publisher, the tracer provider and the store.
func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if a.Timeline != nil {
		if err := a.Timeline.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close timeline: %w", err))
		}
	}
	return errors.Join(errs...)
}
