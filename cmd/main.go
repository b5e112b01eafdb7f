package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/okian/duel/internal/adapters/http/api"
	service "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/config"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

// Supervisor and collector timing.
const (
	systemMetricsInterval = 10 * time.Second
	supervisorTimeout     = 30 * time.Second
	failureBackoff        = 5 * time.Second
	battleRateWindow      = time.Minute
)

func main() {
	// The service exports its own runtime gauges.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		os.Stderr.WriteString("duel: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

// run loads configuration, starts the service graph and blocks in the
// supervisor until ctx is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName: "duel",
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		Insecure:    true,
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), supervisorTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn(ctx, "tracer shutdown failed", logger.Error(err))
		}
	}()

	svc := service.New(
		service.WithConfig(cfg),
		service.WithLogger(log.Named("service")),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	handler := api.NewServer(svc,
		api.WithBattleRateLimit(cfg.BattleRateLimit, battleRateWindow),
		api.WithLogger(log.Named("api")),
	).Routes(ctx)

	root := newSupervisor()
	for _, bg := range svc.BackgroundServices() {
		root.Add(bg)
	}
	root.Add(&metricsCollector{stats: svc, interval: systemMetricsInterval})
	root.Add(api.NewServerService(api.NewHTTPServer(cfg.Addr, handler), cfg.Addr, log.Named("http")))

	log.Info(ctx, "duel started", logger.String("addr", cfg.Addr), logger.String("store", cfg.StoreBackend))
	if err := root.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info(ctx, "duel stopped")
	return nil
}

func newSupervisor() *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: logger.Slog()}).MustHook()
	return suture.New("duel", suture.Spec{
		EventHook:      hook,
		FailureBackoff: failureBackoff,
		Timeout:        supervisorTimeout,
	})
}

type statsSource interface {
	GetStats(ctx context.Context) (service.Stats, error)
}

// metricsCollector samples runtime and service gauges on an interval.
type metricsCollector struct {
	stats    statsSource
	interval time.Duration
}

func (m *metricsCollector) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			metrics.CollectSystem()
			// GetStats refreshes the cache and pool gauges as a side effect.
			_, _ = m.stats.GetStats(ctx)
		}
	}
}

func (m *metricsCollector) String() string {
	return "metrics-collector"
}
