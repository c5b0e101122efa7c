// Command huntcore runs a registered crawl module to completion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/huntcore/huntcore/examples/echo"
	"github.com/huntcore/huntcore/internal/config"
	"github.com/huntcore/huntcore/internal/executor"
	"github.com/huntcore/huntcore/internal/httpadapter"
	"github.com/huntcore/huntcore/internal/observability"
	"github.com/huntcore/huntcore/internal/pipeline"
	"github.com/huntcore/huntcore/internal/ratelimit"
	"github.com/huntcore/huntcore/internal/requestmanager"
	"github.com/huntcore/huntcore/internal/retry"
	"github.com/huntcore/huntcore/internal/scheduler"
	"github.com/huntcore/huntcore/internal/scraper"
	"github.com/huntcore/huntcore/internal/types"
)

var (
	cfgFile            string
	verbose            bool
	entryName          string
	concurrentRequests int
	pendingRequests    int
	seedURLs           []string
)

// moduleFactories is the statically-linked registry of buildable crawl
// modules. Because huntcore ships as a compiled binary rather than a
// dynamic-import interpreter, a "module" name resolves to a factory
// registered here instead of a runtime import path.
var moduleFactories = map[string]func(logger *slog.Logger, seeds []string) *scraper.Scraper{
	"echo": echo.New,
}

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:   "huntcore",
		Short: "huntcore — concurrency core for outbound HTTP orchestration",
		Long: `huntcore issues large volumes of outbound HTTP requests and routes their
responses through user-defined processing pipelines: a priority-queued
scheduler, per-group rate limiting, middleware-driven retries, and a
type-keyed item pipeline.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(listModulesCmd())

	exitCode := executor.ExitOK
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		exitCode = executor.ExitError
	}
	return exitCode
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <module> [seed-url...]",
		Short: "Run a registered crawl module",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module := args[0]
			seedURLs = args[1:]
			code := runModule(module)
			if code != executor.ExitOK {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entryName, "entry", "", "entry point name (defaults to the module's sole entry)")
	cmd.Flags().IntVar(&concurrentRequests, "concurrent-requests", 0, "override scheduler.concurrent_requests")
	cmd.Flags().IntVar(&pendingRequests, "pending-requests", 0, "override scheduler.pending_requests")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("huntcore %s\n", config.Version)
		},
	}
}

func listModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered crawl modules",
		Run: func(cmd *cobra.Command, args []string) {
			for name := range moduleFactories {
				fmt.Println(name)
			}
		},
	}
}

func runModule(module string) int {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error("load config", "error", err)
		return executor.ExitError
	}
	if concurrentRequests > 0 {
		cfg.Scheduler.ConcurrentRequests = concurrentRequests
	}
	if pendingRequests > 0 {
		cfg.Scheduler.PendingRequests = pendingRequests
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		return executor.ExitError
	}

	factory, ok := moduleFactories[module]
	if !ok {
		logger.Error("unknown module", "module", module)
		return executor.ExitError
	}
	s := factory(logger, seedURLs)

	client, err := httpadapter.New(buildHTTPConfig(cfg), logger)
	if err != nil {
		logger.Error("create http client", "error", err)
		return executor.ExitError
	}
	defer client.CloseIdleConnections()

	limiter := ratelimit.New(logger, rateLimitMode(cfg.RateLimit.Mode), cfg.RateLimit.DefaultInterval, buildAdaptiveConfig(cfg))
	defer limiter.Close()

	dispatcher := pipeline.NewDispatcher(cfg.Pipeline.StrictUnknownItems, logger)

	retryCfg := retry.Config{
		Strategy:   retry.Strategy(cfg.Retry.Strategy),
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		MaxRetries: cfg.Retry.MaxRetries,
	}

	// sched is referenced by rawSubmit (passed into the Manager and retry
	// middleware) before scheduler.New can run, so it's declared before
	// that closure and assigned below.
	var sched *scheduler.Scheduler
	rawSubmit := func(ctx context.Context, req *types.Request) error {
		return sched.Submit(ctx, req)
	}

	manager := requestmanager.New(client, limiter, s, logger, rawSubmit)
	if cfg.Retry.Enabled {
		// Retry re-submits a request already past outer-request
		// middleware once; it goes straight to the scheduler, not back
		// through Manager.Submit.
		manager.RegisterException("retry", 0, retry.Middleware(retryCfg, rawSubmit, logger))
	}

	sched = scheduler.New(scheduler.Config{
		ConcurrentRequests: cfg.Scheduler.ConcurrentRequests,
		PendingRequests:    cfg.Scheduler.PendingRequests,
	}, logger, func(ctx context.Context, req *types.Request) {
		manager.Execute(ctx, req)
	})

	runCtx, cancelMetrics := context.WithCancel(context.Background())
	defer cancelMetrics()
	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(nil)
		observability.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Path).Start(runCtx)
		go pollQueueDepth(runCtx, sched, metrics)
	}

	runner := executor.New(executor.Config{
		ExecutionTimeout: cfg.Execution.ExecutionTimeout,
		DrainTimeout:     cfg.Scheduler.DrainTimeout,
	}, s, sched, dispatcher, logger)

	return executor.Run(context.Background(), runner, entryName, manager.Submit)
}

func buildHTTPConfig(cfg *config.Config) httpadapter.Config {
	return httpadapter.Config{
		MaxIdleConns:    cfg.Session.MaxIdleConns,
		IdleConnTimeout: cfg.Session.IdleConnTimeout,
		RequestTimeout:  cfg.Execution.RequestTimeout,
		MaxBodySize:     cfg.Session.MaxBodySize,
		FollowRedirects: cfg.Session.FollowRedirects,
		MaxRedirects:    cfg.Session.MaxRedirects,
		TLSInsecure:     cfg.Session.TLSInsecure,
		UserAgents:      cfg.Session.UserAgents,
		ProxyURLs:       cfg.Session.ProxyURLs,
		ProxyRotation:   cfg.Session.ProxyRotation,
	}
}

func buildAdaptiveConfig(cfg *config.Config) ratelimit.AdaptiveConfig {
	return ratelimit.AdaptiveConfig{
		MinInterval:      cfg.Adaptive.MinInterval,
		MaxInterval:      cfg.Adaptive.MaxInterval,
		IncreaseFactor:   cfg.Adaptive.IncreaseFactor,
		DecreaseStep:     cfg.Adaptive.DecreaseStep,
		SuccessThreshold: cfg.Adaptive.SuccessThreshold,
		EWMAAlpha:        cfg.Adaptive.EWMAAlpha,
		CleanupTimeout:   cfg.RateLimit.CleanupTimeout,
	}
}

func rateLimitMode(mode string) ratelimit.Mode {
	if mode == "adaptive" {
		return ratelimit.Adaptive
	}
	return ratelimit.Fixed
}

// pollQueueDepth periodically samples the scheduler's frontier depth into
// the queue-depth gauge until ctx is cancelled.
func pollQueueDepth(ctx context.Context, sched *scheduler.Scheduler, metrics *observability.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetQueueDepth(sched.Pending())
		}
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
