// Package server initializes and runs the authentication server.
// It opens the storage backend, builds the authentication engine, and runs
// the gRPC endpoint, the metrics endpoint and the token reclaimer until a
// shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/logging"
	"github.com/dmitrijs2005/fastauth/internal/server/auth"
	"github.com/dmitrijs2005/fastauth/internal/server/config"
	"github.com/dmitrijs2005/fastauth/internal/server/federation"
	"github.com/dmitrijs2005/fastauth/internal/server/observability"
	"github.com/dmitrijs2005/fastauth/internal/server/reclaimer"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fastauth/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	gs "github.com/dmitrijs2005/fastauth/internal/server/grpc"
)

const (
	oauthStateCapacity = 1024
	oauthStateTTL      = 10 * time.Minute
	shutdownTimeout    = 5 * time.Second
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	backend   *repomanager.Backend
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	engine    *services.AuthService
	server    *gs.GRPCServer
	reclaimer *reclaimer.Scheduler
}

// NewAuthService builds the engine from the signing and lifetime settings
// in c.
func NewAuthService(c *config.Config, m repomanager.RepositoryManager, logger logging.Logger) (*services.AuthService, error) {
	codec, err := auth.NewCodec([]byte(c.SecretKey), c.SigningAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("token codec init error: %w", err)
	}
	return services.NewAuthService(m, auth.NewPasswordHasher(0), codec, c, logger), nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	backend, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	engine, err := NewAuthService(c, backend.Manager, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	engine.WithMetrics(metrics)

	server := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, engine, backend.Runner).WithMetrics(metrics)

	if c.FederationEnabled() {
		provider, err := federation.NewGoogleProvider(ctx, federation.GoogleConfig{
			ClientID:     c.GoogleClientID,
			ClientSecret: c.GoogleClientSecret,
			RedirectURL:  c.GoogleRedirectURL,
			IssuerURL:    c.GoogleIssuerURL,
		})
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("federation init error: %w", err)
		}
		server.WithFederation(provider, federation.NewStateStore(oauthStateCapacity, oauthStateTTL))
	}

	app := &App{
		config:   c,
		logger:   logger,
		backend:  backend,
		registry: registry,
		metrics:  metrics,
		engine:   engine,
		server:   server,
	}

	if c.ReclaimSchedule != "" {
		app.reclaimer = reclaimer.NewScheduler(backend.Runner, engine, c.ReclaimSchedule, logger)
	}

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(mux, app.registry)
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startReclaimer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.reclaimer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled, a shutdown signal arrives or one of the
// servers fails, then stops everything and closes the backend.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	if app.reclaimer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startReclaimer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	if err := app.backend.Close(); err != nil {
		app.logger.Error(context.Background(), "closing backend", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
