// Package app assembles the runtime from a workspace: database, config,
// logger, metrics, engine and the agent loop.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"procureiq/internal/agent"
	"procureiq/internal/config"
	"procureiq/internal/db"
	"procureiq/internal/domain"
	"procureiq/internal/engine"
	"procureiq/internal/logging"
	"procureiq/internal/matching"
	"procureiq/internal/metrics"
	"procureiq/internal/migrate"
	"procureiq/internal/mode"
	"procureiq/internal/notify"
	"procureiq/internal/queue"
)

type Options struct {
	Workspace     string
	LogLevel      string
	LogFormat     string
	BusyTimeoutMS int
}

type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Engine    engine.Engine
}

// Open opens and migrates the workspace database and loads procureiq.yml,
// falling back to defaults when the file is absent.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger, err := logging.New(opts.LogLevel, opts.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, BusyTimeoutMS: opts.BusyTimeoutMS})
	if err != nil {
		return nil, err
	}
	mig, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if mig.Applied > 0 {
		logger.Info("migrations_applied",
			zap.Int("count", mig.Applied),
			zap.Int("from_version", mig.From),
			zap.Int("to_version", mig.To),
			zap.String("db", db.Path(opts.Workspace)))
	}
	return &App{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.New(),
		Engine:    engine.New(conn, cfg),
	}, nil
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.DB.Close()
}

// Providers builds the scoring chain from config: primary, fallback, fuzzy.
// Providers without an endpoint are skipped.
func (a *App) Providers(client *http.Client) []matching.Provider {
	if client == nil {
		client = &http.Client{}
	}
	var out []matching.Provider
	pc := a.Config.Providers
	if strings.TrimSpace(pc.Primary.Endpoint) != "" {
		out = append(out, matching.NewHTTPScorer(domain.MethodPrimaryAI, pc.Primary, client))
	}
	if strings.TrimSpace(pc.Fallback.Endpoint) != "" {
		out = append(out, matching.NewHTTPScorer(domain.MethodFallbackAI, pc.Fallback, client))
	}
	if pc.Fuzzy.Enabled {
		out = append(out, matching.FuzzyMatcher{})
	}
	return out
}

func (a *App) Pipeline(client *http.Client) matching.Pipeline {
	return matching.Pipeline{
		Aliases:   a.Engine.Registry,
		Vendors:   a.Engine.Repo,
		Providers: a.Providers(client),
		Purchases: matching.StorePurchases{Store: a.Engine.Repo, Tolerance: a.Config.Matching.AmountTolerance},
		Timeout:   a.Config.Providers.Timeout,
		Logger:    a.Logger.Named("matching"),
		Metrics:   a.Metrics,
	}
}

// Dispatcher returns a started dispatcher with the log notifier and, when
// configured, the webhook notifier.
func (a *App) Dispatcher() *notify.Dispatcher {
	nc := a.Config.Notifications
	notifiers := []notify.Notifier{notify.LogNotifier{Logger: a.Logger.Named("notify")}}
	if len(nc.Webhooks) > 0 {
		notifiers = append(notifiers, notify.NewWebhookNotifier(nc.Webhooks, nc.Timeout))
	}
	d := notify.NewDispatcher(notifiers, nc.Buffer, nc.Timeout, a.Logger, a.Metrics)
	d.Start()
	return d
}

// WorkerID defaults to host-pid-suffix so several loops can share a database.
func WorkerID(override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Loop wires the agent loop. The caller owns the dispatcher lifecycle.
func (a *App) Loop(workerID string, matcher agent.Matcher, d *notify.Dispatcher) *agent.Loop {
	cfg := a.Config
	e := a.Engine
	return &agent.Loop{
		Queue:    queue.Store{DB: a.DB, WorkerID: workerID},
		Repo:     e.Repo,
		Registry: e.Registry,
		Matcher:  matcher,
		Mode: &mode.Controller{
			Repo:   e.Repo,
			Events: e.Events,
			Policy: mode.Policy{
				Window:    cfg.Mode.Window,
				SafeBelow: cfg.Mode.SafeBelow,
				CrisisAt:  cfg.Mode.CrisisAt,
			},
			Logger:  a.Logger.Named("mode"),
			Metrics: a.Metrics,
		},
		Notifier:   d,
		Events:     e.Events,
		Thresholds: agent.Thresholds{AutoApprove: cfg.Thresholds.AutoApprove, Review: cfg.Thresholds.Review},
		Recipient:  cfg.Notifications.Owner,
		Backoff:    agent.NewBackoff(cfg.Agent.PollFloor, cfg.Agent.PollCeiling),
		Schedule: agent.Schedule{
			RecoveryInterval:  cfg.Agent.RecoveryInterval,
			StaleAfter:        cfg.Agent.StaleAfter,
			HeartbeatInterval: cfg.Agent.HeartbeatInterval,
			ScanInterval:      cfg.Agent.InventoryScanInterval,
		},
		WorkerID: workerID,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
	}
}
