package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/browser"
	"github.com/lance13c/portalpilot/internal/config"
	"github.com/lance13c/portalpilot/internal/crypto"
	"github.com/lance13c/portalpilot/internal/database"
	"github.com/lance13c/portalpilot/internal/driver"
	"github.com/lance13c/portalpilot/internal/engine"
	"github.com/lance13c/portalpilot/internal/llm"
	"github.com/lance13c/portalpilot/internal/logging"
	"github.com/lance13c/portalpilot/internal/metrics"
	"github.com/lance13c/portalpilot/internal/recorder"
	"github.com/lance13c/portalpilot/internal/target"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the collaborators a command needs, opened from the config
type app struct {
	cfg      *config.Config
	db       *database.DB
	loader   *target.Loader
	registry *target.Registry
	engine   *engine.Engine
	cancel   context.CancelFunc
}

// openApp loads targets and opens the database. Background work (target
// reloads, the metrics endpoint) runs until close is called.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, loader: target.NewLoader()}
	targets, err := a.loader.LoadDir(cfg.Targets.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load targets: %w", err)
	}
	a.registry, err = target.NewRegistry(targets)
	if err != nil {
		return nil, err
	}
	logging.Info("Loaded %d targets from %s", len(targets), cfg.Targets.Dir)

	a.db, err = database.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}

	ctx, a.cancel = context.WithCancel(ctx)
	if cfg.Targets.Watch {
		w := target.NewWatcher(cfg.Targets.Dir, a.loader, a.registry)
		go func() {
			if err := w.Run(ctx); err != nil {
				logging.Warn("Target watcher stopped: %v", err)
			}
		}()
	}
	return a, nil
}

func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Warn("Failed to close database: %v", err)
		}
	}
}

// vault returns nil when no master key is configured
func (a *app) vault() *crypto.Vault {
	if a.cfg.Storage.MasterKey == "" {
		return nil
	}
	return crypto.NewVault(a.cfg.Storage.MasterKey)
}

func (a *app) advisor() (advisor.Advisor, error) {
	if !a.cfg.AI.Enabled {
		return nil, nil
	}
	client, err := llm.NewClient(llm.Provider(a.cfg.AI.Provider), a.cfg.AI.APIKey, a.cfg.LLMOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}
	logging.Info("AI recovery advice enabled (%s/%s)", client.Provider(), client.Model())
	return advisor.NewAI(client, a.cfg.AI.Timeout, a.cfg.AI.MaxWait), nil
}

// metrics registers collectors and serves them when enabled; nil otherwise
func (a *app) metrics(ctx context.Context) (*metrics.Metrics, error) {
	if !a.cfg.Metrics.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	go func() {
		logging.Info("Serving metrics on %s", a.cfg.Metrics.Addr)
		if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, reg); err != nil {
			logging.Error("Metrics endpoint failed: %v", err)
		}
	}()
	return m, nil
}

func (a *app) driverOptions() driver.Options {
	opts := driver.DefaultOptions()
	e := a.cfg.Engine
	if e.RetryBudget > 0 {
		opts.RetryBudget = e.RetryBudget
	}
	if e.RetryWait > 0 {
		opts.RetryWait = e.RetryWait
	}
	opts.SettleDelay = e.SettleDelay
	if a.cfg.AI.MaxWait > 0 {
		opts.MaxWait = a.cfg.AI.MaxWait
	}
	return opts
}

// buildEngine wires the submission engine. Progress lines go to out when
// it is non-nil.
func (a *app) buildEngine(ctx context.Context, out io.Writer) (*engine.Engine, error) {
	adv, err := a.advisor()
	if err != nil {
		return nil, err
	}
	m, err := a.metrics(ctx)
	if err != nil {
		return nil, err
	}

	cfg := engine.Config{
		Targets:     a.registry,
		Launcher:    browser.NewChromeLauncher(a.cfg.BrowserOptions()),
		Recorder:    recorder.New(a.db.Submissions(), a.cfg.Storage.ScreenshotDir),
		Vault:       a.vault(),
		Advisor:     adv,
		Metrics:     m,
		Connections: a.db,
		Driver:      a.driverOptions(),
		Concurrency: a.cfg.Engine.Concurrency,
	}
	if out != nil {
		cfg.Progress = func(id string, p driver.Progress) {
			where := p.Page
			if p.Field != "" {
				where += "/" + p.Field
			}
			fmt.Fprintf(out, "%s %s %-11s %s %s\n", p.At.Format("15:04:05"), shortID(id), p.State, p.Action, where)
		}
	}
	a.engine, err = engine.New(cfg)
	return a.engine, err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// exitError carries a failure that was already reported to the user
type exitError struct{ err error }

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Reported reports whether err was already printed by a command
func Reported(err error) bool {
	var e *exitError
	return errors.As(err, &e)
}
