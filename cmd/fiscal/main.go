package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/config"
	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/handler"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/cache"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/contingency"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/observability"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/resilience"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/sefaz"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/taxtable"
	"github.com/boddenberg/pdv-fiscal-go/internal/nfce"
	"github.com/boddenberg/pdv-fiscal-go/internal/port"
	"github.com/boddenberg/pdv-fiscal-go/internal/service"
	"github.com/boddenberg/pdv-fiscal-go/internal/worker/replay"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("fiscal_model", cfg.FiscalModel),
		zap.String("environment", cfg.Environment),
		zap.String("authority_mode", cfg.AuthorityMode),
		zap.Duration("authority_timeout", cfg.AuthorityTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("submit_retries", cfg.SubmitRetries),
		zap.Bool("auto_contingency", cfg.AutoContingency),
		zap.String("contingency_backend", cfg.ContingencyStore),
		zap.Duration("replay_interval", cfg.ReplayInterval),
		zap.Duration("status_cache_ttl", cfg.StatusCacheTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "pdv-fiscal")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Contingency store ---
	queue, closeQueue, err := openQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open contingency store", zap.Error(err))
	}
	defer closeQueue()

	if n, err := queue.Len(ctx); err == nil {
		metrics.SetContingencyPending(n)
		if n > 0 {
			logger.Warn("contingency queue has pending documents", zap.Int("pending", n))
		}
	}

	// --- Certificate ---
	serial := cfg.CertSerial
	if cfg.CertPath != "" {
		serial, err = nfce.LoadCertificateSerial(cfg.CertPath, cfg.CertPassword)
		if err != nil {
			logger.Fatal("failed to read certificate", zap.String("path", cfg.CertPath), zap.Error(err))
		}
	}
	signer := nfce.NewSigner(serial)
	logger.Info("signer ready", zap.String("certificate_serial", signer.CertificateSerial()))

	// --- Authority ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	var authority port.AuthorityClient
	switch cfg.AuthorityMode {
	case config.AuthorityHTTP:
		logger.Info("using HTTP fiscal authority", zap.String("url", cfg.AuthorityURL))
		cb := resilience.NewCircuitBreakerWithFilter(sefaz.ServiceName, sefaz.IsBreakerSuccess)
		httpClient := &http.Client{Timeout: cfg.AuthorityTimeout}
		authority = sefaz.NewHTTPClient(httpClient, cfg.AuthorityURL, cb, resilienceCfg)
	default:
		logger.Warn("using mock fiscal authority, documents are not sent to SEFAZ")
		authority = sefaz.NewMockClient(sefaz.WithLatency(cfg.MockLatency))
	}

	// --- Services ---
	processor := service.NewNfceProcessor(
		nfce.NewBuilder(taxtable.New(), time.Now),
		signer,
		authority,
		queue,
		service.ProcessorOptions{
			Retry: resilience.Config{
				MaxRetries:     cfg.SubmitRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxConcurrency: cfg.MaxConcurrency,
			},
			AuthorityTimeout:   cfg.AuthorityTimeout,
			AutoContingency:    cfg.AutoContingency,
			DefaultEnvironment: cfg.Environment,
		},
		metrics,
		logger,
	)
	adapter := service.NewNfceAdapter(processor)

	var statusCache port.Cache[domain.InvoiceResponse]
	if cfg.StatusCacheTTL > 0 {
		c := cache.New[domain.InvoiceResponse](cfg.StatusCacheTTL)
		defer c.Close()
		statusCache = c
	}

	fiscalSvc := service.NewFiscalService(adapter, statusCache, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(fiscalSvc, metrics, logger, handler.HealthCheck{
		Name: "contingency-" + cfg.ContingencyStore,
		Check: func(ctx context.Context) error {
			_, err := queue.Len(ctx)
			return err
		},
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return replay.Run(gctx, fiscalSvc, cfg.ReplayInterval, logger)
	})

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// openQueue selects the contingency backend. The returned func releases
// its connections.
func openQueue(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.ContingencyQueue, func(), error) {
	switch cfg.ContingencyStore {
	case config.BackendPostgres:
		pool, err := contingency.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := contingency.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("contingency store: postgres")
		return contingency.NewPostgres(pool, time.Now), pool.Close, nil

	case config.BackendRedis:
		client := contingency.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("contingency store: redis", zap.String("addr", cfg.RedisAddr), zap.String("key", cfg.RedisKey))
		return contingency.NewRedis(client, cfg.RedisKey, time.Now), func() { client.Close() }, nil

	default:
		logger.Warn("contingency store: memory, queued documents are lost on restart")
		return contingency.NewMemory(time.Now), func() {}, nil
	}
}
