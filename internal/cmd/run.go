package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshdurbin/strava-stats/internal/api"
	"github.com/joshdurbin/strava-stats/internal/config"
	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/metrics"
	"github.com/joshdurbin/strava-stats/internal/server"
	"github.com/joshdurbin/strava-stats/internal/strava"
	"github.com/joshdurbin/strava-stats/internal/workers"
)

var (
	apiAddr              string
	mcpTransport         string
	mcpPort              int
	rateLimitPerMinute   int
	tokenRefreshInterval time.Duration
	statsWarmInterval    time.Duration
	maxHistory           int
	warm                 bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the MCP server and the background workers",
	Long: `serve runs until interrupted:
- the JSON API under /api plus /metrics and /healthz
- the MCP server over stdio (default), HTTP/SSE (--mcp sse) or not at all (--mcp none)
- a token refresher that renews the access token before it expires
- with --warm, a stats warmer that recomputes the full-history statistics before
  the cache expires, skipping runs while the Strava rate limit is nearly spent

If no valid login is stored you will be prompted to authenticate first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(cfg)
	},
}

func init() {
	d := config.Default()
	f := serveCmd.Flags()
	f.StringVar(&apiAddr, "api-addr", d.APIAddr, "HTTP API listen address (empty to disable)")
	f.StringVar(&mcpTransport, "mcp", d.MCPTransport, "MCP transport: stdio, sse or none")
	f.IntVarP(&mcpPort, "port", "p", d.MCPPort, "MCP HTTP/SSE port")
	f.IntVar(&rateLimitPerMinute, "rate-limit", d.RateLimitPerMinute, "API requests per athlete per minute (needs --redis, 0 disables)")
	f.DurationVar(&tokenRefreshInterval, "token-refresh-interval", d.TokenRefreshInterval, "interval between token refresh checks")
	f.DurationVar(&statsWarmInterval, "stats-warm-interval", d.StatsWarmInterval, "interval between full-history stats recomputes")
	f.IntVar(&maxHistory, "max-history", 0, "cap on activities collected per history sweep (0 for no cap)")
	f.BoolVar(&warm, "warm", d.StatsWarm, "recompute stats in the background (spends Strava API quota)")
}

func applyServeOverrides(cmd *cobra.Command, c *config.Config) {
	if cmd != serveCmd {
		return
	}
	flags := cmd.Flags()
	if flags.Changed("api-addr") {
		c.APIAddr = apiAddr
	}
	if flags.Changed("mcp") {
		c.MCPTransport = mcpTransport
	}
	if flags.Changed("port") {
		c.MCPPort = mcpPort
	}
	if flags.Changed("rate-limit") {
		c.RateLimitPerMinute = rateLimitPerMinute
	}
	if flags.Changed("token-refresh-interval") {
		c.TokenRefreshInterval = tokenRefreshInterval
	}
	if flags.Changed("warm") {
		c.StatsWarm = warm
	}
	if flags.Changed("stats-warm-interval") {
		c.StatsWarmInterval = statsWarmInterval
	}
	if flags.Changed("max-history") {
		c.MaxHistory = maxHistory
	}
}

// Run is the main entry point for serve
func Run(c *config.Config) error {
	log := logging.Logger

	log.Info().
		Str("db_path", c.DBPath).
		Str("api_addr", c.APIAddr).
		Str("mcp_transport", c.MCPTransport).
		Int("mcp_port", c.MCPPort).
		Dur("token_refresh_interval", c.TokenRefreshInterval).
		Bool("stats_warm", c.StatsWarm).
		Dur("stats_warm_interval", c.StatsWarmInterval).
		Msg("starting strava-stats")

	units, err := server.ParseUnits(c.Units)
	if err != nil {
		return err
	}

	// Set up context for shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	sqlDB, storage, err := openStorage(ctx, c, true)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := ensureAuthenticated(ctx, storage, false); err != nil {
		return fmt.Errorf("authentication: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsManager := metrics.NewManager(metrics.Namespace, metrics.Subsystem, registry)

	store, redisClient, err := newCacheStore(ctx, c)
	if err != nil {
		return err
	}
	rateLimits := &strava.RateLimitTracker{}
	svc := newService(c, store, metricsManager, rateLimits)

	// Start background workers with errgroup for graceful shutdown
	g, gCtx := errgroup.WithContext(ctx)

	log.Info().Msg("starting background workers")
	tokenRefresher := workers.NewTokenRefresher(storage, c.TokenRefreshInterval)
	g.Go(func() error {
		tokenRefresher.Run(gCtx)
		return nil
	})
	if c.StatsWarm {
		warmer := workers.NewStatsWarmer(storage, svc, c.StatsWarmInterval).WithRateLimits(rateLimits)
		g.Go(func() error {
			warmer.Run(gCtx)
			return nil
		})
	}

	if c.APIAddr != "" {
		apiCfg := api.Config{
			Service:  svc,
			Sessions: storage,
			Metrics:  metricsManager,
			Gatherer: registry,
		}
		if redisClient != nil {
			apiCfg.Limiter = redis_rate.NewLimiter(redisClient)
			apiCfg.RequestsPerM = c.RateLimitPerMinute
		} else if c.RateLimitPerMinute > 0 {
			log.Debug().Msg("API rate limiting disabled: no redis configured")
		}
		handler := api.NewRouter(apiCfg)
		g.Go(func() error {
			return api.Serve(gCtx, c.APIAddr, handler)
		})
	}

	srv := server.New(svc, storage, units)
	switch c.MCPTransport {
	case "sse":
		g.Go(func() error {
			return runHTTPServer(gCtx, srv.MCPServer(), c.MCPPort)
		})
	case "stdio":
		log.Info().Msg("MCP server running via stdio")
		g.Go(func() error {
			// the client closing stdin ends the process
			defer cancel()
			return srv.Run(gCtx)
		})
	default:
		log.Info().Msg("MCP server disabled")
	}

	err = g.Wait()
	if redisClient != nil {
		redisClient.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("all workers shut down gracefully")
	return nil
}

// runHTTPServer runs the MCP server over HTTP/SSE
func runHTTPServer(ctx context.Context, mcpServer *mcp.Server, port int) error {
	log := logging.Logger

	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	addr := fmt.Sprintf(":%d", port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Str("endpoint", fmt.Sprintf("http://localhost%s", addr)).
			Msg("MCP server running via HTTP/SSE")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
