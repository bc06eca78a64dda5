// SPDX-License-Identifier: Apache-2.0

// Package cli holds the state shared by the remedy subcommands
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options are the global flags
type Options struct {
	ConfigFile string
	Verbose    bool

	// LogOutput receives log lines; nil means stderr
	LogOutput io.Writer
}

// Config loads the configuration named by --config, or the default
// locations when it is empty
func (o *Options) Config() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if o.Verbose {
		cfg.Logging.Level = zapcore.DebugLevel
		cfg.Logging.Format = "console"
	}
	return cfg, nil
}

// Logger builds the logger described by cfg
func (o *Options) Logger(cfg *config.Config) (*logging.Logger, error) {
	w := o.LogOutput
	if w == nil {
		w = os.Stderr
	}
	return logging.NewLoggerTo(&cfg.Logging, w)
}

// EngineOptions tweak the engine built for a single command
type EngineOptions struct {
	DryRun bool
}

// Engine loads the configuration and builds an engine from it
func (o *Options) Engine(eo EngineOptions) (*remedy.Engine, *logging.Logger, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, nil, err
	}
	logger, err := o.Logger(cfg)
	if err != nil {
		return nil, nil, err
	}

	factory := action.NewFactory(action.Context{
		TemplatesDir: cfg.TemplatesDir,
		WorkingDir:   cfg.WorkingDir,
		DryRun:       eo.DryRun,
		Logger:       logger,
	})
	factory.RegisterDefaultTypes()

	engine, err := remedy.New(cfg, remedy.WithLogger(logger), remedy.WithFactory(factory))
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}

// RunOptions control how a plan is driven to completion
type RunOptions struct {
	// Approve releases the plan if the risk gate holds it
	Approve bool
	// Timeout cancels the plan after this long; zero waits forever
	Timeout time.Duration
}

// Run submits and executes plan, answering the risk gate from opts.
// Interrupting the process cancels the plan and waits for its rollback.
func Run(ctx context.Context, engine *remedy.Engine, logger *logging.Logger, plan *models.RemediationPlan, opts RunOptions) (*models.RemediationResult, error) {
	status, err := engine.SubmitPlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	if status.Risk != nil {
		logger.Info(ctx, "plan accepted",
			zap.String("plan_id", plan.ID),
			zap.String("risk", string(status.Risk.Level)))
	}

	h, err := engine.Execute(ctx, plan.ID)
	if err != nil {
		return nil, err
	}

	status, err = engine.GetStatus(plan.ID)
	if err != nil {
		return nil, err
	}
	if status.State == models.StateWaiting {
		if opts.Approve {
			if err := engine.Approve(ctx, plan.ID); err != nil {
				return nil, err
			}
		} else {
			reason := "approval required; rerun with --approve"
			if status.Risk != nil && len(status.Risk.ApprovalReasons) > 0 {
				reason = fmt.Sprintf("%s (%s)", reason, status.Risk.ApprovalReasons[0])
			}
			if err := engine.Reject(ctx, plan.ID, reason); err != nil {
				return nil, err
			}
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-h.Done():
			return h.Wait(context.Background())
		case <-sigCtx.Done():
			logger.Warn(ctx, "interrupted, cancelling plan", zap.String("plan_id", plan.ID))
			_ = engine.Cancel(ctx, plan.ID)
			sigCtx = context.Background()
		case <-timeout:
			logger.Warn(ctx, "timed out, cancelling plan", zap.String("plan_id", plan.ID))
			_ = engine.Cancel(ctx, plan.ID)
			timeout = nil
		}
	}
}

// PrintResult writes a short human readable summary of result
func PrintResult(w io.Writer, result *models.RemediationResult) {
	fmt.Fprintf(w, "Plan %s: %s\n", result.PlanID, result.State)
	for _, a := range result.Actions {
		line := fmt.Sprintf("  %-20s %-18s attempts=%d", a.ActionID, a.Status, a.Attempts)
		if a.Error != "" {
			line += "  " + a.Error
		}
		fmt.Fprintln(w, line)
	}
	if result.Rollback.Triggered {
		fmt.Fprintf(w, "Rollback: %s (rolled back %d, failed %d, skipped %d)\n",
			result.RollbackStatus, len(result.Rollback.RolledBack()),
			len(result.Rollback.Failed()), len(result.Rollback.Skipped()))
	}
}
