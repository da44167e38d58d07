package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackharvest/internal/checkpoint"
	"github.com/JakeFAU/stackharvest/internal/clock/system"
	"github.com/JakeFAU/stackharvest/internal/config"
	"github.com/JakeFAU/stackharvest/internal/harvest"
	"github.com/JakeFAU/stackharvest/internal/id/uuid"
	"github.com/JakeFAU/stackharvest/internal/metrics"
	"github.com/JakeFAU/stackharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/stackharvest/internal/stackexchange"
	"github.com/JakeFAU/stackharvest/internal/storage/gcs"
	"github.com/JakeFAU/stackharvest/internal/storage/local"
	"github.com/JakeFAU/stackharvest/internal/telemetry"
	collytransport "github.com/JakeFAU/stackharvest/internal/transport/colly"
)

func newHarvestCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Collect questions and answers from the Stack Exchange API",
	}

	pf := cmd.PersistentFlags()
	pf.String("output", "", "checkpoint file (default stackoverflow_data.json)")
	pf.String("api-key", "", "Stack Exchange API key (also STACKHARVEST_API_KEY)")
	pf.String("site", "", "Stack Exchange site")
	pf.String("tag", "", "question tag to harvest (default java)")
	pf.Int("page-size", 0, "questions per page, 1..100")
	pf.Duration("page-delay", 0, "pause between pages")
	pf.Int("quota-threshold", 0, "stop once quota_remaining falls below this")
	pf.Int("max-retries", 0, "retries per page after throttling or server errors")
	pf.Int("answer-workers", 0, "concurrent answer fetches per page")
	pf.Int("max-calls", 0, "upper bound on network calls per run, 0 for none")
	pf.Duration("max-duration", 0, "upper bound on run wall clock, 0 for none")
	pf.Bool("lenient-json", false, "accept truncated or malformed responses best-effort")
	pf.String("gcs-bucket", "", "mirror every checkpoint to this GCS bucket")
	pf.String("metrics-addr", "", "serve /metrics on this address while harvesting")

	flat := &cobra.Command{
		Use:   "flat",
		Short: "Harvest the top-voted questions until a target count is reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts, harvest.ModeFlat)
		},
	}
	flat.Flags().Int("target", 0, "number of questions to collect (default 1000)")

	yearly := &cobra.Command{
		Use:   "yearly",
		Short: "Harvest the top-voted questions of each calendar year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts, harvest.ModeYearly)
		},
	}
	yearly.Flags().Int("from-year", 0, "first year, inclusive (default 2010)")
	yearly.Flags().Int("to-year", 0, "last year, inclusive (default 2025)")
	yearly.Flags().Int("per-year", 0, "questions per year (default 500)")
	yearly.Flags().Int("min-score", 0, "minimum question score within a year (default 5)")

	cmd.AddCommand(flat, yearly)
	return cmd
}

func runHarvest(cmd *cobra.Command, opts *rootOptions, mode harvest.Mode) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if cfg.Harvest.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Harvest.MaxDuration)
		defer cancel()
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{ServiceName: "stackharvest", Version: Version})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	if cfg.Metrics.ListenAddr != "" {
		stopMetrics, err := startMetricsListener(cfg.Metrics.ListenAddr, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	writer, closeStores, err := buildCheckpointWriter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	h, err := buildHarvester(cfg, writer, logger)
	if err != nil {
		return err
	}

	var report harvest.Report
	switch mode {
	case harvest.ModeYearly:
		_, report, err = h.RunYearly(ctx, cfg.Harvest.FromYear, cfg.Harvest.ToYear, cfg.Harvest.PerYear)
	default:
		_, report, err = h.RunFlat(ctx, cfg.Harvest.Target)
	}
	if err != nil && report.RunID == "" {
		return err
	}

	checkpointPath := cfg.Output.File
	var size int64
	if info, statErr := os.Stat(checkpointPath); statErr == nil {
		size = info.Size()
	}
	printSummary(cmd.OutOrStdout(), report, checkpointPath, size)

	switch {
	case err != nil:
		return &ExitError{Code: ExitCodeError, Err: err}
	case report.Partial:
		return &ExitError{Code: ExitCodePartial}
	default:
		return nil
	}
}

func buildHarvester(cfg config.Config, writer *checkpoint.Writer, logger *zap.Logger) (*harvest.Harvester, error) {
	queries, err := stackexchange.New(cfg.StackExchange())
	if err != nil {
		return nil, fmt.Errorf("init query builder: %w", err)
	}
	clock := system.New()
	pager, err := harvest.NewPager(harvest.PagerConfig{
		Transport:   collytransport.New(cfg.Transport()),
		Limiter:     ratelimit.New(cfg.RateLimit()),
		Clock:       clock,
		Quota:       harvest.NewQuotaTracker(cfg.Harvest.InitialQuota, cfg.Harvest.QuotaThreshold),
		Budget:      harvest.NewCallBudget(cfg.Harvest.MaxCalls),
		Retry:       cfg.RetryPolicy(),
		PageDelay:   cfg.Harvest.PageDelay,
		LenientJSON: cfg.API.LenientJSON,
		Logger:      logger.Named("pager"),
		Tracer:      telemetry.Tracer(),
	})
	if err != nil {
		return nil, fmt.Errorf("init pager: %w", err)
	}
	h, err := harvest.New(harvest.Config{
		Pager:        pager,
		Queries:      queries,
		Checkpointer: writer,
		Clock:        clock,
		IDs:          uuid.New(),
		Logger:       logger.Named("harvest"),
		Tracer:       telemetry.Tracer(),
		Options:      cfg.HarvestOptions(),
	})
	if err != nil {
		return nil, fmt.Errorf("init harvester: %w", err)
	}
	return h, nil
}

// buildCheckpointWriter writes to the output file and, when a bucket is
// configured, mirrors every save to GCS. The returned func releases clients.
func buildCheckpointWriter(ctx context.Context, cfg config.Config, logger *zap.Logger) (*checkpoint.Writer, func(), error) {
	primary, err := local.New(local.Config{BaseDir: cfg.OutputDir()})
	if err != nil {
		return nil, nil, fmt.Errorf("init output directory: %w", err)
	}
	closeFn := func() {}
	var mirrors []checkpoint.Target
	if cfg.GCS.Bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs store: %w", err)
		}
		mirrors = append(mirrors, checkpoint.Target{Name: store.Name(), Store: store})
		closeFn = func() {
			if err := client.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		}
	}
	writer, err := checkpoint.NewWriter(checkpoint.Config{
		Path:    cfg.OutputName(),
		Primary: checkpoint.Target{Name: "local", Store: primary},
		Mirrors: mirrors,
		Logger:  logger.Named("checkpoint"),
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Info("checkpoint target ready",
		zap.String("path", filepath.Join(primary.BaseDir(), writer.Path())),
		zap.Int("mirrors", len(mirrors)),
	)
	return writer, closeFn, nil
}

func startMetricsListener(addr string, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener error", zap.Error(err))
		}
	}()
	logger.Info("metrics listener started", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}, nil
}
