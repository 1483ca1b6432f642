// Command tally_replay runs a contest scenario through the scoring and
// certification engine and prints the outcome of every action as JSON.
//
// Usage:
//
//	tally_replay -scenario contest.yaml [-config tally.yaml]
//	tally_replay -generate -seed 42 [-config tally.yaml]
//
// With -metrics-addr the command keeps serving the Prometheus metrics
// gathered during the replay until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ahrav/go-tally/infrastructure/logging"
	"github.com/ahrav/go-tally/infrastructure/middleware"
	"github.com/ahrav/go-tally/infrastructure/store/memory"
	"github.com/ahrav/go-tally/infrastructure/store/postgres"
	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/ports"
	"github.com/ahrav/go-tally/internal/testutils"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Engine configuration file (YAML); defaults apply when empty")
		scenarioPath = flag.String("scenario", "", "Scenario file to replay")
		generate     = flag.Bool("generate", false, "Replay a generated scenario instead of a file")
		seed         = flag.Uint64("seed", 1, "Seed for -generate")
		outputPath   = flag.String("output", "", "Write the JSON report here instead of stdout")
		metricsAddr  = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address after the replay")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failures, err := run(ctx, options{
		configPath:   *configPath,
		scenarioPath: *scenarioPath,
		generate:     *generate,
		seed:         *seed,
		outputPath:   *outputPath,
		metricsAddr:  *metricsAddr,
	})
	if err != nil {
		log.Fatalf("tally_replay: %v", err)
	}
	if failures > 0 {
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	scenarioPath string
	generate     bool
	seed         uint64
	outputPath   string
	metricsAddr  string
}

func run(ctx context.Context, opts options) (int, error) {
	cfg := application.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := application.LoadConfig(opts.configPath)
		if err != nil {
			return 0, err
		}
		cfg = loaded
	}

	logger, err := logging.NewLogger(cfg.Logging.Level)
	if err != nil {
		return 0, err
	}
	defer func() { _ = logger.Sync() }()

	var sc *testutils.Scenario
	switch {
	case opts.generate:
		sc = testutils.GenerateScenario(testutils.DefaultGenerateOptions(), opts.seed)
	case opts.scenarioPath != "":
		if sc, err = testutils.LoadScenario(opts.scenarioPath); err != nil {
			return 0, err
		}
	default:
		return 0, errors.New("either -scenario or -generate is required")
	}

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return 0, err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	contest := testutils.Seed(sc)
	engine, err := application.NewEngine(cfg, application.Dependencies{
		Catalog:   contest,
		Roster:    contest,
		Directory: contest,
		Store:     store,
		Observer:  middleware.NewOTelObserver(nil),
		Metrics:   middleware.NewPrometheusMetrics(registry, cfg.Metrics.Namespace),
		Logger:    logger,
	})
	if err != nil {
		return 0, err
	}

	start := time.Now()
	ctx = logging.WithLogger(ctx, logger.With(zap.String("scenario", sc.Name)))
	report, err := testutils.Replay(ctx, engine, sc)
	if err != nil {
		return 0, err
	}
	logger.Info("replay finished",
		zap.String("scenario", report.Scenario),
		zap.Int("actions", len(report.Outcomes)),
		zap.Int("failures", report.Failures),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := writeReport(opts.outputPath, report); err != nil {
		return 0, err
	}

	if opts.metricsAddr != "" {
		if err := serveMetrics(ctx, opts.metricsAddr, registry, logger); err != nil {
			return 0, err
		}
	}
	return report.Failures, nil
}

func openStore(ctx context.Context, cfg application.StoreConfig, logger *zap.Logger) (ports.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = postgres.Close(db)
			return nil, nil, err
		}
		return postgres.NewStore(db, logger, cfg.MaxAttempts), func() { _ = postgres.Close(db) }, nil
	default:
		return memory.NewStore(nil), func() {}, nil
	}
}

func writeReport(path string, report testutils.Report) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
