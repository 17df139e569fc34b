package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/okian/matchpoint/internal/adapters/http/api"
	"github.com/okian/matchpoint/internal/adapters/http/swagger"
	"github.com/okian/matchpoint/internal/adapters/identity"
	"github.com/okian/matchpoint/internal/adapters/media"
	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/adapters/repository/dynamo"
	"github.com/okian/matchpoint/internal/adapters/repository/memory"
	"github.com/okian/matchpoint/internal/adapters/repository/sqlite"
	app "github.com/okian/matchpoint/internal/app"
	"github.com/okian/matchpoint/internal/config"
	"github.com/okian/matchpoint/pkg/logger"
	"github.com/okian/matchpoint/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithJSON(cfg.LogFormat == "json")); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg); err != nil {
		loggerInstance.Error(ctx, "matchpoint exited", logger.Error(err))
		os.Exit(1)
	}
}

// run wires the service from cfg and serves HTTP until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, store)
}

// serve owns store. Once the service has started svc.Stop closes it;
// any earlier failure closes it here.
func serve(ctx context.Context, cfg *config.Config, store repository.Store) error {
	loggerInstance := logger.Get()

	started := false
	defer func() {
		if !started {
			closeStore(ctx, store)
		}
	}()

	directory := identity.NewMemoryDirectory(cfg.Users...)
	auth, err := newAuthenticator(cfg, directory)
	if err != nil {
		return err
	}
	if auth == nil {
		loggerInstance.Warn(ctx, "jwt_secret is empty; write endpoints will reject every request")
	}

	opts := []app.Option{
		app.WithLogger(loggerInstance),
		app.WithStore(store),
		app.WithDirectory(directory),
		app.WithPolicy(cfg.Policy()),
		app.WithStoreTimeout(cfg.StoreTimeout),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithDefaultRadiusKm(cfg.DefaultRadiusKm),
		app.WithPageLimits(cfg.DefaultPageLimit, cfg.MaxPageLimit),
	}
	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return err
	}
	if uploader != nil {
		opts = append(opts, app.WithUploader(uploader))
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	started = true
	defer svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Start service metrics updater
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, cfg, svc, auth),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
	return nil
}

// openStore builds the match store selected by cfg.StoreDriver.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, sqlite.WithCASRetries(cfg.CASRetries))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverDynamoDB:
		store, err := dynamo.NewFromConfig(ctx, cfg.AWSRegion, cfg.DynamoDBEndpoint, cfg.DynamoDBTable,
			dynamo.WithCASRetries(cfg.CASRetries))
		if err != nil {
			return nil, fmt.Errorf("open dynamodb store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

func closeStore(ctx context.Context, store repository.Store) {
	closer, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Get().Warn(ctx, "closing store failed", logger.Error(err))
	}
}

// newAuthenticator returns nil when no secret is configured.
func newAuthenticator(cfg *config.Config, directory *identity.MemoryDirectory) (identity.Authenticator, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	jwt, err := identity.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, identity.WithDirectory(directory))
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}
	return jwt, nil
}

// newUploader returns nil when no media bucket is configured.
func newUploader(ctx context.Context, cfg *config.Config) (app.Uploader, error) {
	if cfg.MediaBucket == "" {
		return nil, nil
	}
	uploader, err := media.NewFromConfig(ctx, cfg.AWSRegion, cfg.MediaBucket, cfg.MediaPresignTTL)
	if err != nil {
		return nil, fmt.Errorf("create uploader: %w", err)
	}
	return uploader, nil
}

// newHandler builds the router with API and docs routes behind CORS.
func newHandler(ctx context.Context, cfg *config.Config, svc *app.Service, auth identity.Authenticator) http.Handler {
	r := mux.NewRouter()

	// Register API docs under /api-docs
	swagger.Register(ctx, r)

	apiServer := api.NewServer(svc, auth, svc, api.WithAllowedOrigins(cfg.CORSAllowedOrigins))
	apiServer.Register(ctx, r)

	return apiServer.CORS(r)
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the match gauge from the store.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	if total, ok := svc.GetStats()["totalMatches"].(int); ok {
		metrics.UpdateMatchesTotal(total)
	}
}
