// Package engine is the entry point for submissions: it resolves a target,
// opens a browser session per attempt, runs the workflow driver and
// finalizes the submission record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/browser"
	"github.com/lance13c/portalpilot/internal/crypto"
	"github.com/lance13c/portalpilot/internal/database"
	"github.com/lance13c/portalpilot/internal/driver"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/logging"
	"github.com/lance13c/portalpilot/internal/metrics"
	"github.com/lance13c/portalpilot/internal/recorder"
	"github.com/lance13c/portalpilot/internal/target"
	"golang.org/x/sync/errgroup"
)

// Targets is the configuration store the engine reads from
type Targets interface {
	target.Store
	MarkTested(code string, at time.Time)
}

// ConnectionLog persists connection test outcomes
type ConnectionLog interface {
	SaveConnectionTest(ctx context.Context, t *database.ConnectionTest) (int64, error)
}

// Config wires the engine's collaborators
type Config struct {
	Targets  Targets
	Launcher browser.Launcher
	Recorder *recorder.Recorder
	// Vault opens sealed target credentials; nil only works for targets
	// without credentials
	Vault *crypto.Vault
	// Advisor is used for targets that allow AI assistance
	Advisor     advisor.Advisor
	Metrics     *metrics.Metrics
	Connections ConnectionLog
	Driver      driver.Options
	// Concurrency bounds SubmitBatch
	Concurrency int
	// Progress observes every driver transition, keyed by record id
	Progress func(recordID string, p driver.Progress)
}

// Engine runs submissions. It is safe for concurrent use; every submission
// gets its own browser session.
type Engine struct {
	cfg Config
}

// New creates an engine
func New(cfg Config) (*Engine, error) {
	if cfg.Targets == nil {
		return nil, errors.New("engine requires a target store")
	}
	if cfg.Launcher == nil {
		return nil, errors.New("engine requires a browser launcher")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("engine requires a recorder")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) target(code string) (*target.Target, error) {
	t, err := e.cfg.Targets.Target(code)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, &faults.Error{Kind: faults.InvalidConfiguration, Message: fmt.Sprintf("target %s is inactive", code)}
	}
	return t, nil
}

func (e *Engine) credentials(t *target.Target) (crypto.Credentials, error) {
	if t.Credentials == "" {
		return crypto.Credentials{}, nil
	}
	if e.cfg.Vault == nil {
		return crypto.Credentials{}, &faults.Error{Kind: faults.InvalidConfiguration,
			Message: "target has sealed credentials but no master key is configured"}
	}
	c, err := e.cfg.Vault.Open(t.Credentials)
	if err != nil {
		return crypto.Credentials{}, faults.Wrap(faults.InvalidConfiguration, err, "failed to open credentials")
	}
	return c, nil
}

func (e *Engine) driverOptions() driver.Options {
	opts := e.cfg.Driver
	opts.Advisor = e.cfg.Advisor
	opts.Metrics = e.cfg.Metrics
	return opts
}

// Submit runs one declaration against a target and returns the finalized
// record. A failed submission returns its record together with the failure;
// the record is nil only when none could be created.
func (e *Engine) Submit(ctx context.Context, targetCode string, decl *Declaration) (*recorder.Record, error) {
	if decl == nil {
		return nil, errors.New("declaration is nil")
	}
	t, err := e.target(targetCode)
	if err != nil {
		return nil, err
	}

	sub, err := e.cfg.Recorder.Start(ctx, t.Code, decl.ID)
	if err != nil {
		return nil, err
	}
	logging.Info("Submission %s started: declaration %s to %s", sub.ID(), decl.ID, t.Code)

	start := time.Now()
	e.cfg.Metrics.SubmissionStarted()
	ref, runErr := e.run(ctx, t, decl, sub)

	var rec *recorder.Record
	if runErr != nil {
		rec, err = sub.Fail(ctx, runErr)
	} else {
		rec, err = sub.Succeed(ctx, ref)
	}
	if rec != nil {
		e.cfg.Metrics.SubmissionFinished(t.Code, string(rec.Status), string(rec.FailureKind), time.Since(start))
	}
	if err != nil {
		return rec, err
	}
	return rec, runErr
}

func (e *Engine) run(ctx context.Context, t *target.Target, decl *Declaration, sub *recorder.Submission) (string, error) {
	creds, err := e.credentials(t)
	if err != nil {
		return "", err
	}
	plan, err := driver.NewPlan(t, driver.Input{DeclarationID: decl.ID, Bundle: decl.Data, Credentials: creds})
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", faults.Wrap(faults.Cancelled, err, "submission cancelled")
	}

	session, err := e.cfg.Launcher.Launch(ctx)
	if err != nil {
		return "", faults.Wrap(faults.SessionError, err, "failed to start browser")
	}
	defer func() {
		if err := session.Close(); err != nil {
			logging.Warn("Failed to close browser session for %s: %v", sub.ID(), err)
		}
	}()

	opts := e.driverOptions()
	if e.cfg.Progress != nil {
		id := sub.ID()
		opts.Progress = func(p driver.Progress) { e.cfg.Progress(id, p) }
	}
	return driver.New(t, session, sub, opts).Run(ctx, plan)
}

// BatchResult is the outcome of one declaration in a batch
type BatchResult struct {
	Declaration string
	Record      *recorder.Record
	Err         error
}

// SubmitBatch submits declarations concurrently, each in its own session,
// with at most Concurrency in flight. Results keep the input order. One
// failure never stops the others; cancelling ctx stops the rest.
func (e *Engine) SubmitBatch(ctx context.Context, targetCode string, decls []*Declaration) []BatchResult {
	results := make([]BatchResult, len(decls))
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)

	var mu sync.Mutex
	done := 0
	for i, d := range decls {
		i, d := i, d // per-iteration copies (go directive < 1.22)
		results[i].Declaration = d.ID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = faults.Wrap(faults.Cancelled, err, "batch cancelled")
				return nil
			}
			rec, err := e.Submit(ctx, targetCode, d)
			results[i].Record, results[i].Err = rec, err

			mu.Lock()
			done++
			logging.Info("Batch %s: %d/%d done", targetCode, done, len(decls))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ConnectionResult is the outcome of a login-only probe
type ConnectionResult struct {
	Target   string
	Success  bool
	Logs     []string
	TestedAt time.Time
	Duration time.Duration
}

// TestConnection runs only the login step of a target and reports what
// happened. The error is non-nil only for an unknown or inactive target;
// probe failures are reported in the result.
func (e *Engine) TestConnection(ctx context.Context, targetCode string) (*ConnectionResult, error) {
	t, err := e.target(targetCode)
	if err != nil {
		return nil, err
	}

	res := &ConnectionResult{Target: t.Code, TestedAt: time.Now().UTC()}
	logf := func(format string, args ...interface{}) {
		line := fmt.Sprintf(format, args...)
		res.Logs = append(res.Logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05.000"), line))
	}

	start := time.Now()
	err = e.probe(ctx, t, logf)
	res.Duration = time.Since(start)
	res.Success = err == nil
	if err != nil {
		logf("connection test failed: %v", err)
	} else {
		logf("connection test passed in %v", res.Duration.Round(time.Millisecond))
	}

	e.cfg.Targets.MarkTested(t.Code, res.TestedAt)
	if e.cfg.Connections != nil {
		_, serr := e.cfg.Connections.SaveConnectionTest(context.WithoutCancel(ctx), &database.ConnectionTest{
			TargetCode: t.Code,
			Success:    res.Success,
			Logs:       res.Logs,
			TestedAt:   res.TestedAt,
		})
		if serr != nil {
			logging.Warn("Failed to store connection test for %s: %v", t.Code, serr)
		}
	}
	return res, nil
}

func (e *Engine) probe(ctx context.Context, t *target.Target, logf func(string, ...interface{})) error {
	logf("testing %s (%s auth) at %s", t.Code, t.AuthMode, t.BaseURL)
	creds, err := e.credentials(t)
	if err != nil {
		return err
	}
	plan, err := driver.NewLoginPlan(t, creds)
	if err != nil {
		return err
	}

	session, err := e.cfg.Launcher.Launch(ctx)
	if err != nil {
		return faults.Wrap(faults.SessionError, err, "failed to start browser")
	}
	defer session.Close()
	logf("browser session started")

	opts := e.driverOptions()
	opts.Logf = logf
	_, err = driver.New(t, session, nil, opts).Run(ctx, plan)
	return err
}
