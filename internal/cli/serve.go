package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/logger"
	"github.com/runnerr0/vitals/internal/server"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withRuntime(c.globals, func(rt *runtime) error {
		return c.executeWithRuntime(ctx, rt)
	})
}

// executeWithRuntime serves until ctx is cancelled.
func (c *ServeCommand) executeWithRuntime(ctx context.Context, rt *runtime) error {
	cfg := *rt.cfg
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if _, err := rt.engine.Refresh(ctx); err != nil {
		rt.log.Warn("initial cache refresh failed", "error", err)
	}

	sched, err := newReconcileScheduler(rt, cfg.Audit.ReconcileSchedule, cfg.Audit.ReconcileRepair)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	srv := server.New(rt.store, rt.coord, rt.engine, server.Options{
		MaxRequestSize: int64(cfg.Server.MaxRequestSize),
		Logger:         rt.log,
	})
	return srv.ListenAndServe(ctx, cfg.Addr())
}

// newReconcileScheduler schedules reconciliation passes on spec. An empty
// spec disables scheduling and returns nil.
func newReconcileScheduler(rt *runtime, spec string, repair bool) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	cl := cronLogger{log: rt.log.With("component", "scheduler")}
	sched := cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))

	rec := audit.NewReconciler(rt.store, rt.coord, rt.log).WithConfirmation()
	_, err := sched.AddFunc(spec, func() {
		report, err := rec.Run(context.Background(), repair)
		if err != nil {
			cl.log.Error("scheduled reconciliation failed", "error", err)
			return
		}
		cl.log.Debug("scheduled reconciliation done",
			"checked", report.Checked, "orphans", len(report.Orphans), "repaired", report.Repaired, "deferred", report.Deferred)
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// cronLogger adapts the zap wrapper to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
