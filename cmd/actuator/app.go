package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/internal/pubsub"
	"github.com/rendis/actuator/internal/scheduler"
	"github.com/rendis/actuator/internal/streaming"
	"github.com/rendis/actuator/internal/validation"
	"github.com/rendis/actuator/internal/web"
)

// app holds the long-lived components shared by every command.
type app struct {
	cfg        Config
	configPath string

	level  *slog.LevelVar
	logger *slog.Logger

	hub       streaming.EventHub
	registry  *actions.Registry
	validator *validation.JSONSchemaValidator
	gatherer  *prometheus.Registry
	invoker   *dispatch.Invoker
}

func newApp(cfg Config, configPath string, logOut io.Writer) (*app, error) {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveledLogger(logOut, level, cfg.LogFormat)

	var hub streaming.EventHub
	switch cfg.PubSub {
	case "gochannel":
		hub = streaming.NewGoChannelHub(logger)
	default:
		hub = streaming.NewMemoryHub()
	}

	registry := actions.NewRegistry()
	registry.SetLogger(logger)

	demo, err := newDemoActions(hub, time.Duration(cfg.DefaultTimeout), logger)
	if err != nil {
		return nil, err
	}
	n, err := registry.Discover(demo)
	if err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}
	logger.Debug("actions registered", slog.Int("count", n))

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := dispatch.NewMetrics(gatherer)
	if err := metrics.Register(); err != nil {
		return nil, err
	}

	validator := validation.NewJSONSchemaValidator()
	return &app{
		cfg:        cfg,
		configPath: configPath,
		level:      level,
		logger:     logger,
		hub:        hub,
		registry:   registry,
		validator:  validator,
		gatherer:   gatherer,
		invoker:    dispatch.NewInvoker(validator, dispatch.WithMetrics(metrics), dispatch.WithLogger(logger)),
	}, nil
}

func (a *app) chain() *parser.Chain {
	return parser.DefaultChain(a.cfg.authorizer(), a.validator)
}

func (a *app) Close() error {
	return a.hub.Close()
}

// serve runs the HTTP server, scheduler and pub/sub binding until ctx ends.
// SIGHUP reloads the configuration.
func (a *app) serve(ctx context.Context) error {
	chain := a.chain()

	d, err := dispatch.Build(a.registry, chain, a.invoker, a.logger)
	if err != nil {
		return err
	}
	handler := web.NewHandler(d, web.WithBasePath(a.cfg.BasePath), web.WithLogger(a.logger))
	srv := web.NewServer(a.cfg.ListenAddr, handler, a.cfg.MetricsPath, a.gatherer, a.logger)

	var schedOpts []scheduler.Option
	if a.cfg.SchedulerToken != "" {
		schedOpts = append(schedOpts, scheduler.WithToken(a.cfg.SchedulerToken))
	}
	sched, err := scheduler.NewScheduler(a.registry, chain, a.invoker, a.logger, schedOpts...)
	if err != nil {
		return err
	}
	binding, err := pubsub.NewBinding(a.hub, a.registry, chain, a.invoker, a.logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := sched.Start(gctx); err != nil {
		return err
	}
	defer sched.Stop()

	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return binding.Run(gctx) })
	g.Go(func() error {
		a.watchReload(gctx, handler)
		return nil
	})
	return g.Wait()
}

func (a *app) watchReload(ctx context.Context, handler *web.Handler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				a.logger.Error("config reload failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := a.reload(cfg, handler); err != nil {
				a.logger.Error("config reload failed", slog.String("error", err.Error()))
			}
		}
	}
}

// reload applies the settings that can change while serving: the log level
// and authentication. Others are reported and take effect on restart.
// Authentication changes reach HTTP requests only; the scheduler and pub/sub
// binding keep the authorizer they started with.
func (a *app) reload(cfg Config, handler *web.Handler) (configDiff, error) {
	diff := diffConfigs(a.cfg, cfg)

	if diff.AuthChanged {
		next := a.cfg
		next.JWTSecret, next.JWTIssuer, next.JWTLeeway, next.StaticTokens = cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLeeway, cfg.StaticTokens
		d, err := dispatch.Build(a.registry, parser.DefaultChain(next.authorizer(), a.validator), a.invoker, a.logger)
		if err != nil {
			return diff, err
		}
		handler.Swap(d)
		a.cfg = next
		a.logger.Info("authentication reloaded")
	}
	if diff.LogLevelChanged {
		a.level.Set(logging.ParseLevel(cfg.LogLevel))
		a.cfg.LogLevel = cfg.LogLevel
		a.logger.Info("log level changed", slog.String("level", cfg.LogLevel))
	}
	if len(diff.RestartNeeded) > 0 {
		a.logger.Warn("config changes require a restart", slog.Any("fields", diff.RestartNeeded))
	}
	return diff, nil
}
