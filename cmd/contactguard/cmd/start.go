package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seymr/contactguard/internal/adapter/inbound/admin"
	"github.com/seymr/contactguard/internal/adapter/inbound/http"
	"github.com/seymr/contactguard/internal/adapter/outbound/cel"
	"github.com/seymr/contactguard/internal/adapter/outbound/eventlog"
	"github.com/seymr/contactguard/internal/adapter/outbound/memory"
	"github.com/seymr/contactguard/internal/adapter/outbound/redis"
	"github.com/seymr/contactguard/internal/config"
	"github.com/seymr/contactguard/internal/domain/ratelimit"
	"github.com/seymr/contactguard/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server",
	Long: `Start the contactguard server.

Admitted requests to the protected path are forwarded to upstream.url, or
answered by the built-in lead intake when no upstream is configured.

Examples:
  # Start with config file settings
  contactguard start

  # Start with an in-memory store and debug logging
  contactguard start --dev

  # Start with a specific config file
  contactguard --config /path/to/contactguard.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, in-memory store)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer func() { _ = os.Remove(pidPath) }()
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("contactguard stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	limits, err := cfg.Limits()
	if err != nil {
		return fmt.Errorf("rate limit config: %w", err)
	}

	shutdownTracing, err := setupTracing(cfg.Telemetry.Tracing, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("trace provider shutdown failed", "error", err)
		}
	}()

	// ===== Counter store =====
	store, closeStore, err := openCounterStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ===== Security events =====
	eventStore, err := openEventStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open event output: %w", err)
	}
	defer func() { _ = eventStore.Close() }()

	eventService := service.NewEventService(eventStore, logger,
		service.WithEventChannelSize(cfg.Events.ChannelSize),
		service.WithEventBatchSize(cfg.Events.BatchSize),
		service.WithEventFlushInterval(config.Duration(cfg.Events.FlushInterval, time.Second)),
		service.WithEventWarningThreshold(cfg.Events.WarningThreshold),
	)
	eventService.Start(ctx)
	defer eventService.Stop()

	statsService := service.NewStatsService()
	registry, metrics := http.NewRegistry()

	// ===== Limiter =====
	limiter := service.NewLimiterService(store, limits,
		service.WithLimiterLogger(logger),
		service.WithStoreTimeout(config.Duration(cfg.Store.Timeout, service.DefaultStoreTimeout)),
		service.WithNamespace(cfg.Store.Namespace),
		service.WithStrictAdmission(cfg.Store.StrictAdmission),
		service.WithEventRecorder(eventService),
		service.WithEventRecorder(metrics),
		service.WithEventRecorder(statsService),
	)

	edgeOpts := []http.EdgeOption{
		http.WithDenialMessages(cfg.RateLimit.Messages.RateLimited, cfg.RateLimit.Messages.Banned),
		http.WithDecisionRecorder(statsService),
	}
	if expr := cfg.RateLimit.ExemptExpression; expr != "" {
		exempter, err := cel.NewExempter(expr, logger)
		if err != nil {
			return fmt.Errorf("rate_limit.exempt_expression: %w", err)
		}
		edgeOpts = append(edgeOpts, http.WithExempter(exempter))
		logger.Info("exemption rule active", "expression", exempter.Expression())
	}

	protected, err := protectedHandler(cfg, logger)
	if err != nil {
		return err
	}

	serverOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithProtectedPath(cfg.Upstream.Path),
		http.WithProtectedHandler(protected),
		http.WithEdgeOptions(edgeOpts...),
		http.WithHealthChecker(http.NewHealthChecker(limiter, eventService, Version)),
		http.WithMetrics(registry, metrics),
		http.WithShutdownTimeout(config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second)),
	}

	// ===== Admin API =====
	if cfg.Admin.Enabled {
		apiHandler := admin.NewAdminAPIHandler(
			admin.WithClientManager(limiter),
			admin.WithEventReader(eventStore),
			admin.WithStatsService(statsService),
			admin.WithRateLimitConfig(limits, cfg.Store.Backend, cfg.Store.StrictAdmission),
			admin.WithTokenHash(cfg.Admin.TokenHash),
			admin.WithRequestsPerMinute(cfg.Admin.RequestsPerMinute),
			admin.WithAPILogger(logger),
			admin.WithBuildInfo(&admin.BuildInfo{
				Version:   Version,
				Commit:    Commit,
				BuildDate: BuildDate,
			}),
			admin.WithStartTime(startTime),
		)
		serverOpts = append(serverOpts, http.WithAdminHandler(apiHandler.Routes()))
	}

	logger.Info("contactguard ready",
		"http_addr", cfg.Server.HTTPAddr,
		"protected_path", cfg.Upstream.Path,
		"store", cfg.Store.Backend,
		"strict_admission", cfg.Store.StrictAdmission,
		"normal_tier", fmt.Sprintf("%d/%s", limits.Normal.Max, limits.Normal.Window),
		"suspicious_tier", fmt.Sprintf("%d/%s", limits.Suspicious.Max, limits.Suspicious.Window),
		"ban_duration", limits.BanDuration,
		"escalation_margin", limits.EscalationMargin,
		"event_output", cfg.Events.Output,
		"admin", cfg.Admin.Enabled,
	)
	printBanner(os.Stderr, cfg, limits)

	return http.NewServer(limiter, serverOpts...).Start(ctx)
}

// openCounterStore builds the configured backend. The returned function
// releases it. A Redis server that is down at boot is not fatal: checks
// fail open until it comes back.
func openCounterStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.CounterStore, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		store := redis.Dial(redis.Options{
			Addr:         cfg.Redis.Addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  config.Duration(cfg.Redis.DialTimeout, 2*time.Second),
			ReadTimeout:  config.Duration(cfg.Redis.ReadTimeout, 500*time.Millisecond),
			WriteTimeout: config.Duration(cfg.Redis.WriteTimeout, 500*time.Millisecond),
			PoolSize:     cfg.Redis.PoolSize,
		})
		pctx, cancel := context.WithTimeout(ctx, config.Duration(cfg.Redis.DialTimeout, 2*time.Second))
		defer cancel()
		if err := store.Ping(pctx); err != nil {
			logger.Warn("redis unreachable at startup, requests will pass unchecked until it recovers",
				"addr", cfg.Redis.Addr, "error", err)
		} else {
			logger.Info("connected to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		}
		return store, func() { _ = store.Close() }, nil

	case config.BackendMemory:
		store := memory.NewCounterStore(
			memory.WithCleanupInterval(config.Duration(cfg.Store.CleanupInterval, time.Minute)),
		)
		store.StartCleanup(ctx)
		logger.Info("using in-memory counter store (single instance only)")
		return store, store.Stop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openEventStore creates the security event sink for events.output.
func openEventStore(cfg *config.Config, logger *slog.Logger) (*memory.EventStore, error) {
	output := cfg.Events.Output
	switch {
	case output == "stdout":
		return memory.NewEventStore(os.Stdout, cfg.Events.BufferSize), nil

	case output == "none":
		return memory.NewEventStore(nil, cfg.Events.BufferSize), nil

	case strings.HasPrefix(output, "file://"):
		path := parseFileURI(output)
		if path == "" {
			return nil, fmt.Errorf("invalid event file URI: %s", output)
		}
		f, err := eventlog.Open(eventlog.Config{Path: path}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("security events written to file", "file", f.CurrentPath())
		return memory.NewEventStore(f, cfg.Events.BufferSize), nil

	default:
		return nil, fmt.Errorf("unsupported event output %q", output)
	}
}

// protectedHandler returns the upstream forwarder, or the built-in lead
// intake when no upstream is configured.
func protectedHandler(cfg *config.Config, logger *slog.Logger) (stdhttp.Handler, error) {
	if !cfg.HasUpstream() {
		logger.Info("no upstream configured, serving built-in lead intake")
		return http.NewContactHandler(), nil
	}
	proxy, err := http.NewUpstreamProxy(cfg.Upstream.URL, config.Duration(cfg.Upstream.Timeout, 30*time.Second), logger)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	logger.Info("forwarding admitted requests", "upstream", cfg.Upstream.URL)
	return proxy, nil
}

// parseFileURI strips the file:// scheme.
func parseFileURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(w io.Writer, cfg *config.Config, limits ratelimit.Config) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	base := baseURLFor(cfg.Server.HTTPAddr)
	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset
	}
	backend := cfg.Store.Backend
	if backend == config.BackendRedis {
		backend += " (" + cfg.Redis.Addr + ")"
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s contactguard %s%s\n", bold, cyan, Version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s%s\n", "Protected:", base, cfg.Upstream.Path)
	if cfg.Admin.Enabled {
		fmt.Fprintf(w, "  %-14s %s/admin/api\n", "Admin API:", base)
	}
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Store:", backend)
	fmt.Fprintf(w, "  %-14s %d/%s, suspicious %d/%s, ban %s\n", "Limits:",
		limits.Normal.Max, limits.Normal.Window, limits.Suspicious.Max, limits.Suspicious.Window, limits.BanDuration)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
