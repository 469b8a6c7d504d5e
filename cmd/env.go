package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/bridge"
	"github.com/seekwell/apply-cli/internal/checkpoint"
	"github.com/seekwell/apply-cli/internal/decision"
	"github.com/seekwell/apply-cli/internal/pipeline"
	"github.com/seekwell/apply-cli/internal/recovery"
	"github.com/seekwell/apply-cli/internal/scheduler"
	"github.com/seekwell/apply-cli/internal/stages"
)

// env bundles the wired application components a command needs.
type env struct {
	Controller  *pipeline.Controller
	Scheduler   *scheduler.Scheduler
	Bridge      *bridge.Bridge
	Recovery    *recovery.Handler
	Checkpoints *checkpoint.Manager

	store checkpoint.Store
}

// initStore opens the configured checkpoint backend.
func initStore(ctx context.Context) (checkpoint.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return checkpoint.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return checkpoint.NewSQLite(ctx, cfg.Store.Path)
	}
}

// initEnv wires the full pipeline. When dryRun is set the collaborators
// are the scripted in-process implementations.
func initEnv(ctx context.Context, dryRun bool) (*env, error) {
	store, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init checkpoint store")
	}
	ckpts := checkpoint.NewManager(store, cfg.Checkpoint.CacheSize)

	errLog, err := recovery.NewLog(cfg.ErrorLog.Dir)
	if err != nil {
		store.Close()
		return nil, eris.Wrap(err, "init error log")
	}
	recov := recovery.NewHandler(cfg.Retry, errLog, recovery.NewHistory(cfg.ErrorLog.HistorySize), ckpts)

	sched := scheduler.New(cfg.Scheduler, cfg.Retry, recov)
	br := bridge.New()
	engine := decision.New()

	collab := stages.NewScripted().Collaborators()
	if !dryRun {
		// External collaborators plug in here; until one is configured
		// the scripted set serves live runs too.
		zap.L().Debug("using scripted collaborators")
	}

	controller := pipeline.New(cfg, sched, br, engine, recov, ckpts, collab)
	sched.Start(ctx)

	return &env{
		Controller:  controller,
		Scheduler:   sched,
		Bridge:      br,
		Recovery:    recov,
		Checkpoints: ckpts,
		store:       store,
	}, nil
}

// Close stops the scheduler and releases the store.
func (e *env) Close() {
	e.Scheduler.Stop()
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close checkpoint store", zap.Error(err))
	}
}
