package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"driftd/internal/adapter/httpapi"
	"driftd/internal/adapter/metrics"
	"driftd/internal/adapter/probe"
	"driftd/internal/adapter/scheduler"
	"driftd/internal/adapter/telegram"
	"driftd/internal/config"
	"driftd/internal/history"
	"driftd/internal/platform/httpclient"
	"driftd/internal/platform/logger"
	"driftd/internal/platform/pg"
	"driftd/internal/platform/sqlite"
	"driftd/pkg/drift"
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger

	// ready receives the API listener address once it is serving.
	ready func(addr net.Addr)
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "driftd",
	})
	return NewWithConfig(cfg, log), nil
}

// NewWithConfig creates an App from an already loaded configuration.
func NewWithConfig(cfg config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{cfg: cfg, log: log}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Close(a.log) }()

	return a.run(ctx)
}

type historyStore interface {
	history.Store
	Close() error
}

func (a *App) openHistory(ctx context.Context) (historyStore, error) {
	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		a.log.Info("history store", "backend", "postgres")
		return pg.OpenHistory(ctx, dsn)
	}
	a.log.Info("history store", "backend", "sqlite", "path", a.cfg.History.SQLitePath)
	return sqlite.OpenHistory(ctx, a.cfg.History.SQLitePath)
}

func (a *App) run(ctx context.Context) error {
	a.log.Info("starting")

	jobs, err := config.LoadJobs(a.cfg.Jobs.File)
	if err != nil {
		return err
	}

	store, err := a.openHistory(ctx)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Warn("close history store", slog.Any("err", err))
		}
	}()

	hopts := history.DefaultOptions()
	hopts.Logger = a.log
	recorder := history.NewRecorder(store, hopts)
	observers := []drift.Observer{recorder}

	m := metrics.New()
	observers = append(observers, m)

	var alerter *telegram.Alerter
	// abort releases the background writers when startup fails midway.
	abort := func(err error) error {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if alerter != nil {
			_ = alerter.Close(ctx)
		}
		_ = recorder.Close(ctx)
		return err
	}

	if a.cfg.Telegram.Token != "" {
		b, err := telegram.NewBot(a.cfg.Telegram.Token)
		if err != nil {
			return abort(fmt.Errorf("telegram: %w", err))
		}
		alerter = telegram.NewAlerter(b, a.cfg.Telegram.AlertChatID, telegram.AlerterOptions{
			PerMinute: a.cfg.Telegram.AlertsPerMinute,
			Logger:    a.log,
		})
		observers = append(observers, alerter)
	}

	sched := scheduler.NewWithContext(ctx, scheduler.Config{
		Logger:    a.log,
		Observers: observers,
	})

	client := httpclient.New(httpclient.WithLogger(a.log))
	probes := make(map[string]*probe.Probe, len(jobs))
	for _, j := range jobs {
		p := probe.New(client, probe.Config{
			Name:         j.Name,
			URL:          j.URL,
			Method:       j.Method,
			ExpectStatus: j.ExpectStatus,
			Timeout:      j.Timeout,
		})
		_, err := sched.AddDrifter(specOf(j.Parsed), p, scheduler.JobOptions{
			Name:          j.Name,
			FailurePolicy: j.FailurePolicy,
			InitialDelay:  j.InitialDelay,
			Retries:       j.Retries,
		})
		if err != nil {
			sched.Stop()
			return abort(fmt.Errorf("job %q: %w", j.Name, err))
		}
		probes[j.Name] = p
	}

	srv := httpapi.NewServer(a.cfg.HTTP.Addr, httpapi.Deps{
		Registry: sched,
		History:  recorder,
		Metrics:  m.Handler(),
		Probes:   probes,
		Logger:   a.log,
	})
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		sched.Stop()
		return abort(fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err))
	}

	sched.Start()
	a.log.Info("scheduler started", "jobs", len(jobs), "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if a.ready != nil {
		a.ready(ln.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			a.log.Error("server", slog.Any("err", err))
			runErr = err
		}
	}

	return errors.Join(runErr, a.shutdown(srv, sched, alerter, recorder))
}

func (a *App) shutdown(srv *http.Server, sched *scheduler.Scheduler, alerter *telegram.Alerter, rec *history.Recorder) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := sched.StopContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	if alerter != nil {
		if err := alerter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("alerter close: %w", err))
		}
	}
	if err := rec.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("history flush: %w", err))
	}
	if d := rec.Dropped(); d > 0 {
		a.log.Warn("history records dropped", "count", d)
	}

	a.log.Info("stopped")
	return errors.Join(errs...)
}

func specOf(s config.Schedule) scheduler.Spec {
	if s.Kind == config.ScheduleCron {
		return scheduler.Spec{Cron: s.Cron}
	}
	return scheduler.Spec{Every: s.Every}
}
