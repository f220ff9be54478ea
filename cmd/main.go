package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/replaymetrics/pivot/internal/adapters/sink/csv"
	"github.com/replaymetrics/pivot/internal/adapters/sink/sqlite"
	"github.com/replaymetrics/pivot/internal/adapters/source/jsonl"
	app "github.com/replaymetrics/pivot/internal/app"
	"github.com/replaymetrics/pivot/internal/config"
	"github.com/replaymetrics/pivot/internal/domain/table"
	"github.com/replaymetrics/pivot/pkg/logger"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// Metrics HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env).
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	// Apply configured log level (fallback to info on invalid input).
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr)
	}

	schemas, err := cfg.Schemas()
	if err != nil {
		log.Error(ctx, "invalid schema configuration", logger.Error(err))
		return 1
	}
	features, err := cfg.Features()
	if err != nil {
		log.Error(ctx, "invalid feature configuration", logger.Error(err))
		return 1
	}

	input, err := openInput(cfg.Input)
	if err != nil {
		log.Error(ctx, "failed to open input", logger.String("input", cfg.Input), logger.Error(err))
		return 1
	}
	defer input.Close()

	src := jsonl.New(input, schemas, jsonl.WithSkipBots(cfg.SkipBots))
	svc := app.New(schemas, features,
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithLogger(log),
	)

	summary, err := svc.Run(ctx, src)
	if err != nil {
		log.Error(ctx, "run failed", logger.Error(err))
		return 1
	}

	sinks, closeSinks, err := buildSinks(cfg)
	if err != nil {
		log.Error(ctx, "failed to open output sinks", logger.Error(err))
		return 1
	}
	defer closeSinks()

	if err := svc.Export(ctx, sinks...); err != nil {
		log.Error(ctx, "export failed", logger.Error(err))
		return 1
	}

	logSummary(ctx, log, summary)
	return 0
}

// openInput returns the record stream reader; "-" selects stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// buildSinks constructs every configured export sink and a combined
// close function.
func buildSinks(cfg *config.Config) ([]table.Sink, func(), error) {
	var sinks []table.Sink
	var closers []func()

	if cfg.OutputDir != "" {
		s, err := csv.New(cfg.OutputDir)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.SQLitePath != "" {
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s)
		closers = append(closers, func() { _ = s.Close() })
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func logSummary(ctx context.Context, log logger.Logger, summary *app.Summary) {
	fields := []logger.Field{
		logger.String("runID", summary.RunID.String()),
		logger.Int("records", summary.Records),
		logger.Int("ticks", summary.Ticks),
		logger.Int("entities", summary.Entities),
		logger.Int("dropped", summary.Dropped),
	}
	kinds := make([]string, 0, len(summary.Recovered))
	for kind := range summary.Recovered {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fields = append(fields, logger.Int("recovered_"+kind, summary.Recovered[kind]))
	}
	log.Info(ctx, "session processed", fields...)
}

// startMetricsServer exposes the Prometheus registry in the background.
func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Get().Info(ctx, "starting metrics server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Get().Error(ctx, "metrics server failed", logger.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), readTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
