package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/godilite/kpi-dashboard/internal/config"
	handler "github.com/godilite/kpi-dashboard/internal/grpc"
	"github.com/godilite/kpi-dashboard/internal/httpapi"
	"github.com/godilite/kpi-dashboard/internal/notifier"
	"github.com/godilite/kpi-dashboard/internal/repository"
	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/godilite/kpi-dashboard/internal/sheets"
	"github.com/godilite/kpi-dashboard/internal/watch"
	"github.com/godilite/kpi-dashboard/pkg/cache"
	dbbuilder "github.com/godilite/kpi-dashboard/pkg/database"
	grpcsrv "github.com/godilite/kpi-dashboard/pkg/grpc/server"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

// Store is a snapshot backend the controller can persist to.
type Store interface {
	service.Cacher
	Close() error
}

type App struct {
	logger     *zap.Logger
	store      Store
	controller *service.Controller
	visibility *notifier.Notifier
	published  *notifier.Notifier
	httpServer *http.Server
	grpcServer *grpcsrv.Server
	watcher    *watch.FixtureWatcher
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	fetcher := sheets.NewClient(cfg.SheetsAPIURL, sheets.WithLogger(logger))

	visibility := notifier.New()
	published := notifier.New()

	controller := service.NewController(fetcher, logger,
		service.WithInterval(cfg.RefreshInterval),
		service.WithFetchTimeout(cfg.FetchTimeout),
		service.WithCoalescing(cfg.CoalesceRefresh),
		service.WithLocation(cfg.Location),
		service.WithStore(store),
		service.WithVisibility(visibility),
		service.WithPublisher(published),
	)

	grpcServer, err := grpcsrv.New(
		grpcsrv.WithPort(cfg.GRPCPort),
		grpcsrv.WithLogger(logger),
		grpcsrv.WithReflection(cfg.GRPCReflectionEnabled),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create gRPC server: %w", err)
	}

	grpcHandlers := handler.NewGRPCHandlers(controller, logger, cfg.FetchTimeout)
	grpcServer.Register(handler.ServiceName, func(s *grpc.Server) {
		handler.RegisterDashboardServer(s, grpcHandlers)
	})

	httpHandlers := httpapi.NewHandlers(controller, visibility, published, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpapi.NewRouter(httpHandlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var watcher *watch.FixtureWatcher
	if cfg.WatchFixture != "" {
		watcher = watch.NewFixtureWatcher(cfg.WatchFixture, visibility, watch.DefaultDebounce, logger)
	}

	return &App{
		logger:     logger,
		store:      store,
		controller: controller,
		visibility: visibility,
		published:  published,
		httpServer: httpServer,
		grpcServer: grpcServer,
		watcher:    watcher,
	}, nil
}

// NewStore opens the snapshot backend named by cfg.CacheBackend.
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.CacheBackend {
	case "sqlite", "":
		dbPool, err := dbbuilder.New(
			dbbuilder.WithDriver(cfg.DBDriver),
			dbbuilder.WithDataSource(cfg.DBPath),
		)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		if err := repository.Migrate(dbPool, logger); err != nil {
			_ = dbPool.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		logger.Info("Snapshot store initialized", zap.String("backend", "sqlite"), zap.String("path", cfg.DBPath))
		return repository.NewSnapshotRepository(dbPool), nil

	case "redis":
		cacheClient, err := cache.New(ctx,
			cache.WithAddress(cfg.RedisAddr),
			cache.WithPassword(cfg.RedisPassword),
			cache.WithDB(cfg.RedisDB),
			cache.WithKeyPrefix(cfg.CacheKeyPrefix),
		)
		if err != nil {
			return nil, fmt.Errorf("cache init failed: %w", err)
		}
		logger.Info("Snapshot store initialized", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
		return cacheClient, nil

	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
}

// Run starts every component and blocks until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application starting")

	eg, egctx := errgroup.WithContext(ctx)
	a.httpServer.BaseContext = func(net.Listener) context.Context { return egctx }

	updates := a.published.Subscribe()
	a.controller.Start(egctx)
	a.grpcServer.Start()

	eg.Go(func() error {
		a.reportHealth(egctx, updates)
		return nil
	})

	eg.Go(func() error {
		a.logger.Info("HTTP server starting", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.watcher != nil {
		eg.Go(func() error {
			return a.watcher.Run(egctx)
		})
	}

	eg.Go(func() error {
		<-egctx.Done()
		return a.shutdown()
	})

	return eg.Wait()
}

// reportHealth marks the dashboard service SERVING once a summary has been published.
func (a *App) reportHealth(ctx context.Context, updates chan struct{}) {
	defer a.published.Unsubscribe(updates)

	for {
		if _, ok := a.controller.Summary(); ok {
			a.grpcServer.MarkServing(handler.ServiceName)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-updates:
		}
	}
}

func (a *App) shutdown() error {
	a.logger.Info("application shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.controller.Stop()
	if err := a.grpcServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("grpc shutdown: %w", err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("snapshot store shutdown error", zap.Error(err))
	}

	if ctx.Err() == context.DeadlineExceeded {
		a.logger.Warn("shutdown completed but deadline exceeded")
	} else {
		a.logger.Info("graceful shutdown completed successfully")
	}
	return errors.Join(errs...)
}
