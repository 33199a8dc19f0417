package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"scopusharvest/pkg/auth"
	"scopusharvest/pkg/chunk"
	"scopusharvest/pkg/config"
	"scopusharvest/pkg/cursor"
	"scopusharvest/pkg/harvest"
	"scopusharvest/pkg/logger"
	"scopusharvest/pkg/metrics"
	"scopusharvest/pkg/quota"
	"scopusharvest/pkg/ratelimit"
	"scopusharvest/pkg/retry"
	"scopusharvest/pkg/scopus"
	"scopusharvest/pkg/ui"
)

var (
	// Harvest command flags
	apiKey        string
	profile       string
	query         string
	dateRange     string
	pageSize      int
	maxRequests   int
	chunkRequests int
	outputDir     string
	cursorFile    string
	rps           float64
	maxRetries    int
	metricsAddr   string
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run one budgeted harvest",
	Long: `Run one harvest of the configured search.

The run resumes from the stored cursor when it belongs to the same query and
is younger than the cursor expiry. It stops when the results end, when the
request budget is spent, on Ctrl+C, or on an unrecoverable error. Buffered
records are always written before exit.

The API key is taken from --api-key, the config file, SCOPUS_API_KEY, or the
credential stored with 'scopusharvest auth login'.`,
	Example: `  # Harvest with the configured weekly budget
  scopusharvest harvest

  # Small trial run into a scratch directory
  scopusharvest harvest --max-requests 10 --output ./trial --cursor-file ./trial/cursor.json

  # Different query, exposing metrics
  scopusharvest harvest --query 'TITLE-ABS-KEY(graphene)' --date-range 2015-2024 --metrics-addr :9464`,
	Args: cobra.NoArgs,
	RunE: runHarvestCmd,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().StringVar(&apiKey, "api-key", "", "Scopus API key")
	harvestCmd.Flags().StringVarP(&profile, "profile", "p", auth.DefaultProfile, "stored credential profile")
	harvestCmd.Flags().StringVarP(&query, "query", "q", "", "Scopus search query")
	harvestCmd.Flags().StringVar(&dateRange, "date-range", "", "publication years, YYYY or YYYY-YYYY")
	harvestCmd.Flags().IntVar(&pageSize, "page-size", 0, "records per request (max 200)")
	harvestCmd.Flags().IntVarP(&maxRequests, "max-requests", "n", 0, "request budget for this run")
	harvestCmd.Flags().IntVar(&chunkRequests, "chunk-requests", 0, "requests per output chunk")
	harvestCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for chunks")
	harvestCmd.Flags().StringVar(&cursorFile, "cursor-file", "", "cursor state file")
	harvestCmd.Flags().Float64Var(&rps, "rps", 0, "client-side requests per second")
	harvestCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "attempts per page for transient errors")
	harvestCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// harvestFlags collects the harvest flags the user actually set
func harvestFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if cmd.Flags().Changed(name) {
			flags[name] = value
		}
	}
	set("api-key", apiKey)
	set("query", query)
	set("date-range", dateRange)
	set("page-size", pageSize)
	set("max-requests", maxRequests)
	set("chunk-requests", chunkRequests)
	set("output", outputDir)
	set("cursor-file", cursorFile)
	set("rps", rps)
	set("max-retries", maxRetries)
	set("metrics-addr", metricsAddr)
	return flags
}

func runHarvestCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(harvestFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.GetLogger()

	if err := resolveCredentials(cfg, profile); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := executeHarvest(ctx, cfg, log)
	if summary != nil {
		ui.PrintSummary(summary)
	}
	return err
}

// executeHarvest binds the metrics listener, when enabled, and then runs one
// harvest against the configured budget. A taken metrics port fails before
// any request is spent.
func executeHarvest(ctx context.Context, cfg *config.Config, log logger.Logger) (*harvest.Summary, error) {
	reg, m := metrics.NewRegistry()
	ln, err := listenMetrics(cfg)
	if err != nil {
		return nil, err
	}

	var summary *harvest.Summary
	err = withMetrics(ctx, ln, reg, log, func(ctx context.Context) error {
		var runErr error
		summary, runErr = runHarvest(ctx, cfg, cfg.Harvest.MaxRequests, m, log)
		return runErr
	})
	return summary, err
}

// listenMetrics returns nil when metrics are disabled
func listenMetrics(cfg *config.Config) (net.Listener, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	return metrics.Listen(cfg.Metrics.ListenAddr)
}

// withMetrics serves reg on ln for as long as fn runs. The listener never
// cancels fn: a serve failure is logged and the run carries on unobserved.
func withMetrics(ctx context.Context, ln net.Listener, reg *prometheus.Registry, log logger.Logger, fn func(context.Context) error) error {
	if ln == nil {
		return fn(ctx)
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	var g errgroup.Group
	g.Go(func() error {
		if err := metrics.Serve(serveCtx, ln, reg, log); err != nil {
			log.WithError(err).WarnWithFields("Metrics listener stopped, continuing without metrics", map[string]interface{}{
				"addr": ln.Addr().String(),
			})
		}
		return nil
	})
	g.Go(func() error {
		defer stopServe()
		return fn(ctx)
	})
	return g.Wait()
}

// resolveCredentials fills in the API key from the credential stores
// when neither flags, config nor environment supplied one
func resolveCredentials(cfg *config.Config, profile string) error {
	if cfg.API.APIKey != "" {
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	account, err := manager.Retrieve(profile)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return fmt.Errorf("no API key configured: use --api-key, SCOPUS_API_KEY, or 'scopusharvest auth login'")
		}
		return fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	cfg.API.APIKey = account.APIKey
	if cfg.API.InstToken == "" {
		cfg.API.InstToken = account.InstToken
	}
	return nil
}

// runHarvest wires the components for one run with the given request budget
func runHarvest(ctx context.Context, cfg *config.Config, budget int, m *metrics.Metrics, log logger.Logger) (*harvest.Summary, error) {
	q := scopus.Query{
		Query:     cfg.Query.Query,
		DateRange: cfg.Query.DateRange,
		Sort:      cfg.Query.Sort,
		PageSize:  cfg.Query.PageSize,
		View:      cfg.Query.View,
	}

	client := scopus.NewClient(scopus.ClientConfig{
		BaseURL:   cfg.API.BaseURL,
		APIKey:    cfg.API.APIKey,
		InstToken: cfg.API.InstToken,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout,
		Query:     q,
	}, log)

	store := cursor.NewStore(cfg.Harvest.CursorFile, cfg.Harvest.CursorExpiry, cursor.WithLogger(log))

	startSeq := 0
	prev, err := store.Read()
	if err != nil {
		return nil, err
	}
	if prev != nil {
		startSeq = prev.ChunkSequence
	}

	sink, err := chunk.NewWriter(cfg.Harvest.OutputDir, cfg.Harvest.RequestsPerChunk, startSeq, chunk.WithLogger(log))
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit.Algorithm, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	orch := harvest.New(harvest.Config{
		Signature: q.Signature(),
		Retry:     retryConfig(cfg.Retry, log),
	}, client, store, sink, limiter, quota.New(budget),
		harvest.WithLogger(log),
		harvest.WithMetrics(m),
	)
	return orch.Run(ctx)
}

func retryConfig(rc config.RetryConfig, log logger.Logger) *retry.Config {
	base := &retry.ExponentialBackoff{
		BaseDelay:    rc.BaseDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		JitterFactor: rc.JitterFactor,
	}
	return &retry.Config{
		MaxAttempts:  rc.MaxAttempts,
		Backoff:      base,
		ErrorBackoff: retry.NewErrorTypeBackoff(base),
		RetryIf:      retry.DefaultRetryIf,
		Logger:       log,
	}
}
