// Package app provides the shared bootstrap every POS service binary runs
// through: configuration, logging, the tenant database manager, the Redis
// client with bus and state store, the auth broker, the common middleware
// chain and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openretail/pos-service-layer/infrastructure/config"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/infrastructure/middleware"
	"github.com/openretail/pos-service-layer/internal/auth"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// App bundles the shared service runtime.
type App struct {
	Cfg    config.Common
	Log    *logging.Logger
	Mgr    *document.Manager
	Redis  *redis.Client
	Bus    *eventbus.Bus
	State  *eventbus.StateStore
	Outbox *eventbus.Outbox
	Broker *auth.Broker
}

// New loads configuration and wires the shared runtime.
func New(serviceName string, defaultPort int) (*App, error) {
	cfg, err := config.LoadCommon(serviceName, defaultPort)
	if err != nil {
		return nil, err
	}

	log := logging.NewFromEnv(serviceName)

	mgr := document.NewManager(document.Config{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Prefix:   cfg.DBPrefix,
		PoolMax:  cfg.DBPoolMax,
		PoolMin:  cfg.DBPoolMin,
		CacheMax: cfg.TenantCacheMax,
	}, log)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.DBPoolMax,
		MinIdleConns: cfg.DBPoolMin,
	})

	bus := eventbus.NewBus(rdb, log)
	bus.MaxDeliver = cfg.ConsumeMaxRetries

	return &App{
		Cfg:    cfg,
		Log:    log,
		Mgr:    mgr,
		Redis:  rdb,
		Bus:    bus,
		State:  eventbus.NewStateStore(rdb),
		Outbox: eventbus.NewOutbox(bus, log),
		Broker: auth.NewBroker(cfg.JWTSecret, cfg.JWTExpiry),
	}, nil
}

// NewRouter builds the root router with the common middleware chain plus the
// health and metrics endpoints.
func (a *App) NewRouter() *mux.Router {
	r := mux.NewRouter()

	recovery := middleware.NewRecoveryMiddleware(a.Log)
	r.Use(mux.MiddlewareFunc(recovery.Handler))
	r.Use(mux.MiddlewareFunc(middleware.CORSMiddleware))
	r.Use(middleware.LoggingMiddleware(a.Log))
	r.Use(middleware.MetricsMiddleware(a.Cfg.ServiceName))

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":%q}`, a.Cfg.ServiceName)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// AuthRouter returns the /api/v1 subrouter guarded by the auth middleware.
// verifier may be nil for services that only accept user tokens.
func (a *App) AuthRouter(root *mux.Router, verifier auth.TerminalKeyVerifier) *mux.Router {
	api := root.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Middleware(a.Broker, verifier))
	return api
}

// PublicRouter returns the unauthenticated /api/v1 subrouter.
func (a *App) PublicRouter(root *mux.Router) *mux.Router {
	return root.PathPrefix("/api/v1").Subrouter()
}

// Run serves the handler until SIGINT/SIGTERM, then shuts down gracefully.
// Background workers started by the caller observe the returned context.
func (a *App) Run(handler http.Handler, start func(ctx context.Context)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if start != nil {
		start(ctx)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  a.Cfg.RequestTimeout,
		WriteTimeout: a.Cfg.RequestTimeout,
		IdleTimeout:  2 * a.Cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.WithFields(map[string]interface{}{"port": a.Cfg.HTTPPort}).Info("service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.Close()
	return nil
}

// Close releases shared resources.
func (a *App) Close() {
	a.Mgr.Close()
	if err := a.Redis.Close(); err != nil {
		a.Log.WithError(err).Warn("close redis client")
	}
}
