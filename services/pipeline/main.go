package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/02loveslollipop/urban-heat-differential/internal/archive"
	"github.com/02loveslollipop/urban-heat-differential/internal/config"
	"github.com/02loveslollipop/urban-heat-differential/internal/db"
	"github.com/02loveslollipop/urban-heat-differential/internal/differential"
	"github.com/02loveslollipop/urban-heat-differential/internal/export"
	"github.com/02loveslollipop/urban-heat-differential/internal/loader"
	"github.com/02loveslollipop/urban-heat-differential/internal/logging"
	"github.com/02loveslollipop/urban-heat-differential/internal/metrics"
	"github.com/02loveslollipop/urban-heat-differential/internal/models"
	"github.com/02loveslollipop/urban-heat-differential/internal/notify"
	"github.com/02loveslollipop/urban-heat-differential/internal/openmeteo"
	"github.com/02loveslollipop/urban-heat-differential/internal/pipeline"
	"github.com/02loveslollipop/urban-heat-differential/internal/registry"
	"github.com/02loveslollipop/urban-heat-differential/internal/scheduler"
)

var version = "dev"

type flags struct {
	start, end string
	force      bool
	migrate    bool
	schedule   bool
	exportPath string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.StringVar(&f.start, "start", "", "first day to fetch (YYYY-MM-DD), backfill mode")
	fs.StringVar(&f.end, "end", "", "last day to fetch (YYYY-MM-DD), backfill mode")
	fs.BoolVar(&f.force, "force", false, "ignore the once-daily run check")
	fs.BoolVar(&f.migrate, "migrate", false, "apply the schema and exit")
	fs.BoolVar(&f.schedule, "schedule", false, "stay running and execute daily at PIPELINE_SCHEDULE_AT")
	fs.StringVar(&f.exportPath, "export", "", "write daily differentials for the window to this .xlsx file and exit")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.schedule && (f.start != "" || f.end != "") {
		return f, errors.New("-schedule cannot be combined with -start/-end")
	}
	return f, nil
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		log.Printf("argument error: %v", err)
		return pipeline.ExitConfig
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config error: %v", err)
		return pipeline.ExitConfig
	}
	logger := logging.New(cfg.AppEnv, cfg.LogLevel, "urban-heat-pipeline", version)

	reg, err := loadRegistry(cfg.LocationsFile)
	if err != nil {
		logger.Error("location catalog is invalid", "err", err)
		return pipeline.ExitConfig
	}

	window, err := pipeline.ParseWindow(f.start, f.end, cfg.DaysBack, time.Now())
	if err != nil {
		logger.Error("invalid date range", "err", err)
		return pipeline.ExitConfig
	}

	sinks, err := buildSinks(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("report sink setup failed", "err", err)
		return pipeline.ExitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection error", "err", err)
		if errors.Is(err, models.ErrConfiguration) {
			return pipeline.ExitConfig
		}
		return pipeline.ExitFailed
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("schema migration failed", "err", err)
		return pipeline.ExitFailed
	}
	if f.migrate {
		logger.Info("schema is up to date")
		return pipeline.ExitOK
	}

	if f.exportPath != "" {
		return runExport(ctx, logger, store, reg, window, f.exportPath)
	}

	collector := metrics.New()
	clock := clockwork.NewRealClock()
	client := openmeteo.New(openmeteo.Options{
		BaseURL:    cfg.WeatherURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Backoff: openmeteo.BackoffConfig{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryBackoff,
		},
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            logger,
	})

	orch := pipeline.New(pipeline.Options{
		Catalog:        reg,
		Store:          store,
		Fetcher:        client,
		Loader:         loader.New(store, clock, logger),
		Engine:         differential.NewEngine(store, logger),
		Clock:          clock,
		Logger:         logger,
		Metrics:        collector,
		Sinks:          sinks,
		DryRun:         cfg.DryRun,
		MinRunInterval: cfg.MinRunInterval,
	})

	if f.schedule {
		return runScheduled(ctx, logger, cfg, orch, collector, f.force)
	}

	report, err := orch.Run(ctx, window, f.force)
	code := pipeline.ExitCodeFor(report, err)
	if err != nil {
		logger.Error("pipeline aborted", "err", err, "exit_code", code)
	}
	return code
}

func loadRegistry(path string) (*registry.Registry, error) {
	entries := registry.Default()
	if path != "" {
		loaded, err := registry.LoadFile(path)
		if err != nil {
			return nil, err
		}
		entries = loaded
	}
	return registry.New(entries)
}

func buildSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]pipeline.Sink, error) {
	var sinks []pipeline.Sink
	if cfg.ReportBucket != "" {
		a, err := archive.New(ctx, archive.Config{
			Bucket:    cfg.ReportBucket,
			Region:    cfg.ReportRegion,
			Endpoint:  cfg.ReportEndpoint,
			PathStyle: cfg.ReportPathStyle,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a)
	}
	if cfg.TelegramToken != "" {
		t, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatIDs, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, t)
	}
	return sinks, nil
}

func runExport(ctx context.Context, logger *slog.Logger, store db.Store, reg *registry.Registry, window pipeline.Window, path string) int {
	ids, err := store.SyncLocations(ctx, reg.Locations())
	if err != nil {
		logger.Error("sync locations failed", "err", err)
		return pipeline.ExitFailed
	}
	pairs, err := reg.Bind(ids)
	if err != nil {
		logger.Error("bind locations failed", "err", err)
		return pipeline.ExitFailed
	}
	if err := export.WriteFile(ctx, store, pairs, window.Start, window.End, path); err != nil {
		logger.Error("export failed", "err", err)
		return pipeline.ExitFailed
	}
	logger.Info("exported daily differentials", "path", path, "window", window.String(), "pairs", len(pairs))
	return pipeline.ExitOK
}

func runScheduled(ctx context.Context, logger *slog.Logger, cfg config.Config, orch *pipeline.Orchestrator, collector *metrics.Collector, force bool) int {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(collector.Handler()))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	logger.Info("metrics listening", "addr", cfg.MetricsAddr)

	sched := scheduler.New(cfg.ScheduleAt, func(jobCtx context.Context) {
		window := pipeline.DefaultWindow(time.Now(), cfg.DaysBack)
		report, err := orch.Run(jobCtx, window, force)
		if err != nil {
			logger.Error("scheduled run aborted", "err", err)
			return
		}
		logger.Info("scheduled run finished", "run_id", report.RunID, "exit_code", report.ExitCode())
	}, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		return pipeline.ExitConfig
	}

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return pipeline.ExitOK
}
