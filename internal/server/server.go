// Package server is the composition root: it wires every collaborator
// package (backend, cache, webhook, metrics, health, tools, tracing) into
// one object graph and sequences the start/stop ordering of spec.md
// §4.K, grounded in the teacher's cmd/server/main.go construction and
// shutdown idiom.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/veris-memory/mcp-server/internal/backend"
	"github.com/veris-memory/mcp-server/internal/cache"
	"github.com/veris-memory/mcp-server/internal/config"
	"github.com/veris-memory/mcp-server/internal/health"
	"github.com/veris-memory/mcp-server/internal/mcpserver"
	"github.com/veris-memory/mcp-server/internal/metrics"
	"github.com/veris-memory/mcp-server/internal/obslog"
	"github.com/veris-memory/mcp-server/internal/otelcfg"
	"github.com/veris-memory/mcp-server/internal/stdiotransport"
	"github.com/veris-memory/mcp-server/internal/stream"
	"github.com/veris-memory/mcp-server/internal/tools"
	"github.com/veris-memory/mcp-server/internal/webhook"
)

// cacheSweepInterval is how often the optional cleanup_expired pass
// runs; the cache is also swept lazily on Get/Set, so this is a
// best-effort background tidy, not a correctness requirement.
const cacheSweepInterval = 5 * time.Minute

// Server owns every long-lived collaborator the protocol engine's tools
// depend on, plus the background tasks (metrics aggregation, webhook
// delivery, cache sweeping, and an optional ops HTTP listener) that run
// alongside the stdio read loop.
type Server struct {
	cfg    *config.Config
	logger *obslog.Logger

	backendClient     *backend.Client
	cache             *cache.Cache
	cacheSweeper      *cache.Sweeper
	webhookRegistry   *webhook.Registry
	webhookQueue      *webhook.Queue
	dispatcher        *webhook.Dispatcher
	metricsCollector  *metrics.Collector
	metricsAggregator *metrics.Aggregator
	streamLimiter     *stream.ConcurrencyLimiter
	healthRegistry    *health.Registry
	toolRegistry      *tools.Registry
	tracer            *otelcfg.Tracer
	engine            *mcpserver.Engine
	transport         *stdiotransport.Transport

	latestAggregates atomic.Value // []metrics.Aggregated

	opsMu  sync.Mutex
	opsSrv *http.Server
}

// New assembles the full object graph over cfg, reading requests from in
// and writing responses to out. It performs no I/O and starts no
// goroutines — that is Start's job, per spec.md §4.K's ordering.
func New(cfg *config.Config, in io.Reader, out io.Writer, logger *obslog.Logger) (*Server, error) {
	if logger == nil {
		logger = obslog.Noop()
	}

	tracer, err := otelcfg.New(context.Background(), otelcfg.Config{
		Enabled:        cfg.TracingExporter != "" && cfg.TracingExporter != "none",
		ServiceName:    mcpserver.ServerName,
		ServiceVersion: mcpserver.ServerVersion,
		ExporterType:   otelcfg.ExporterType(cfg.TracingExporter),
		OTLPEndpoint:   cfg.TracingEndpoint,
		SampleRate:     1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("server: build tracer: %w", err)
	}

	backendCfg := backend.DefaultConfig(cfg.APIURL)
	backendCfg.APIKey = cfg.APIKey
	if cfg.BackendTimeout > 0 {
		backendCfg.RequestTimeout = cfg.BackendTimeout
	}
	backendCfg.InstrumentTransport = otelcfg.InstrumentTransport(tracer)
	backendClient := backend.New(backendCfg)

	c := cache.New(config.DefaultCacheCapacity)
	sweeper := cache.NewSweeper(c, cacheSweepInterval).WithLogger(logger)

	webhookRegistry := webhook.NewRegistry(config.DefaultWebhookMaxSubscriptions).WithAllowedPrivateNetworks(cfg.AllowPrivateNetworks)
	webhookQueue := webhook.NewQueue(config.DefaultWebhookQueueCapacity)
	deliveryCfg := webhook.DeliveryConfig{
		Timeout:    config.DefaultWebhookDeliveryTimeout,
		RetryBase:  config.DefaultWebhookRetryBase,
		RetryMult:  config.DefaultWebhookRetryMult,
		RetryMax:   config.DefaultWebhookRetryMax,
		MaxRetries: config.DefaultWebhookMaxRetries,
	}
	dispatcher := webhook.NewDispatcher(webhookRegistry, webhookQueue, config.DefaultWebhookMaxConcurrent, config.DefaultWebhookHistorySize, deliveryCfg, logger)

	metricsCollector := metrics.NewCollector(metrics.Config{
		MaxPointsPerSeries:  config.DefaultMetricsMaxPointsPerSeries,
		AggregationPeriod:   config.DefaultMetricsAggregationPeriod,
		Retention:           config.DefaultMetricsRetention,
		AggErrorBackoff:     config.DefaultMetricsAggErrorBackoff,
		CleanupErrorBackoff: config.DefaultMetricsCleanupErrorBackoff,
	})

	streamLimiter := stream.NewConcurrencyLimiter(config.DefaultStreamMaxConcurrent)
	healthRegistry := health.NewRegistry()
	transport := stdiotransport.New(in, out, logger)

	s := &Server{
		cfg:              cfg,
		logger:           logger,
		backendClient:    backendClient,
		cache:            c,
		cacheSweeper:     sweeper,
		webhookRegistry:  webhookRegistry,
		webhookQueue:     webhookQueue,
		dispatcher:       dispatcher,
		metricsCollector: metricsCollector,
		streamLimiter:    streamLimiter,
		healthRegistry:   healthRegistry,
		tracer:           tracer,
		transport:        transport,
	}
	s.metricsAggregator = metrics.NewAggregator(metricsCollector, s.storeAggregates).WithLogger(logger)

	toolDeps := &tools.Deps{
		Backend:       backendClient,
		Cache:         c,
		Webhooks:      webhookRegistry,
		Dispatcher:    dispatcher,
		Metrics:       metricsCollector,
		StreamLimiter: streamLimiter,
		Logger:        logger,
		Config: tools.Config{
			UserID:                cfg.UserID,
			MaxResults:            cfg.MaxResults,
			DefaultRetrieveLimit:  cfg.MaxResults,
			MaxContentBytes:       config.DefaultMaxContentBytes,
			MaxScratchpadBytes:    config.DefaultMaxScratchpadBytes,
			MaxUserFactsLimit:     config.DefaultMaxUserFactsLimit,
			ReadOnlyGraph:         cfg.ReadOnlyGraph,
			GraphMaxResults:       cfg.MaxResults,
			CacheTTLRetrieve:      config.DefaultCacheTTLRetrieve,
			CacheTTLSearch:        config.DefaultCacheTTLSearch,
			CacheTTLListTypes:     config.DefaultCacheTTLListTypes,
			AnalyticsCacheTTL:     config.DefaultAnalyticsCacheTTL,
			MetricsFacadeCacheTTL: config.DefaultMetricsFacadeCacheTTL,
			StreamConfig:          stream.DefaultIteratorConfig(),
			BatchSize:             config.DefaultStreamChunkSize,
			BatchInterWindowDelay: config.DefaultBatchInterWindowDelay,
			BatchItemMaxRetries:   3,
		},
	}

	// Register tools according to enabled flags (spec.md §4.K); nil
	// enables the full built-in set.
	s.toolRegistry = tools.New(toolDeps, nil)
	s.engine = mcpserver.New(s.toolRegistry, transport, logger).WithTracer(tracer)
	// A tool executor's progress/log notifications need to reach the
	// transport through the engine, but the engine can only be built once
	// toolDeps exists — so the closure is wired after the fact.
	toolDeps.Notify = s.engine.Notify

	s.registerHealthChecks()
	return s, nil
}

func (s *Server) storeAggregates(aggs []metrics.Aggregated) {
	s.latestAggregates.Store(aggs)
}

func (s *Server) registerHealthChecks() {
	s.healthRegistry.Register(health.Check{
		Name: "backend", Critical: true, Timeout: 5 * time.Second,
		Fn: func(ctx context.Context) (bool, string, error) {
			if s.backendClient.Connected() {
				return true, "connected", nil
			}
			return false, "not connected", nil
		},
	})
	s.healthRegistry.Register(health.Check{
		Name: "cache", Critical: false, Timeout: 2 * time.Second,
		Fn: func(ctx context.Context) (bool, string, error) {
			st := s.cache.Stats()
			return true, fmt.Sprintf("%d/%d entries", st.Size, st.Capacity), nil
		},
	})
	s.healthRegistry.Register(health.Check{
		Name: "webhook_queue", Critical: false, Timeout: 2 * time.Second,
		Fn: func(ctx context.Context) (bool, string, error) {
			st := s.webhookQueue.Stats()
			ok := st.Pending < config.DefaultWebhookQueueCapacity
			return ok, fmt.Sprintf("%d pending, %d dropped", st.Pending, st.Dropped), nil
		},
	})
	s.healthRegistry.Register(health.Check{
		Name: "metrics_collector", Critical: false, Timeout: 2 * time.Second,
		Fn: func(ctx context.Context) (bool, string, error) {
			names := s.metricsCollector.SeriesNames()
			return true, fmt.Sprintf("%d series", len(names)), nil
		},
	})
}

// Start brings up every background task per spec.md §4.K's ordering:
// connect the backend client, then start the metrics collector and
// webhook dispatcher, then (if configured) bind the ops HTTP listener.
// A failed backend probe is logged, not fatal — the backend health
// check will report it, and the client re-probes on next use.
func (s *Server) Start(ctx context.Context) error {
	if err := s.backendClient.Connect(ctx); err != nil {
		s.logger.Warn("backend connect probe failed at startup", "error", err.Error())
	}

	s.metricsAggregator.Start(ctx)
	s.dispatcher.Start(ctx)
	s.cacheSweeper.Start(ctx)

	if s.cfg.MetricsAddr != "" {
		if err := s.startOpsListener(s.cfg.MetricsAddr); err != nil {
			return fmt.Errorf("server: ops listener: %w", err)
		}
	}
	return nil
}

// Serve binds the protocol engine as the transport's message handler and
// blocks until ctx is canceled or the transport's input is exhausted.
func (s *Server) Serve(ctx context.Context) error {
	return s.transport.Run(ctx, s.engine)
}

// Stop reverses Start's ordering: stop the ops listener, stop the
// webhook dispatcher (waiting for in-flight deliveries to finish), stop the metrics
// collector and cache sweeper, then disconnect the backend client.
// Transport shutdown is the caller's responsibility (canceling the
// context passed to Serve, or closing stdin) and has already happened
// by the time Stop runs.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOpsListener(ctx)
	s.dispatcher.Stop()
	s.metricsAggregator.Stop()
	s.cacheSweeper.Stop()
	s.backendClient.Close()
	return nil
}

// HealthRegistry exposes the registered checks for the ops HTTP surface
// and for tests.
func (s *Server) HealthRegistry() *health.Registry { return s.healthRegistry }

// Run is the convenience entrypoint cmd/veris-mcp uses: build a Server
// over stdin/stdout, install SIGINT/SIGTERM handling, run it to
// completion, and shut down cleanly.
func Run(ctx context.Context, cfg *config.Config, logger *obslog.Logger) error {
	s, err := New(cfg, os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}

	serveErr := s.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", "error", err.Error())
	}
	return serveErr
}
