package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"runbox/internal/archive"
	"runbox/internal/controller"
	"runbox/internal/lifecycle"
	"runbox/internal/middleware"
	"runbox/internal/runner"
	"runbox/internal/token"
	"runbox/internal/workspace"
	"runbox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	workspaces, err := workspace.NewManager(appCfg.Workspace.Root)
	if err != nil {
		logger.Error(context.Background(), "init workspace manager failed", zap.Error(err))
		return
	}

	boundedRunner, err := runner.New(appCfg.Runner)
	if err != nil {
		logger.Error(context.Background(), "init runner failed", zap.Error(err))
		return
	}

	var registry token.Registry
	if appCfg.Redis.Addr != "" {
		redisRegistry, err := token.NewRedisRegistry(appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis registry failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisRegistry.Close()
		}()
		registry = redisRegistry
	} else {
		registry = token.NewMemoryRegistry()
	}

	var store archive.ObjectStorage
	if appCfg.Archive.Enabled() {
		store, err = archive.NewMinIOArchive(appCfg.Archive)
		if err != nil {
			logger.Error(context.Background(), "init artifact archive failed", zap.Error(err))
			return
		}
	}

	coordinator := lifecycle.New(workspaces, boundedRunner, registry, store)

	interpreter := controller.InterpreterStatus{}
	if version, err := boundedRunner.ProbeVersion(context.Background()); err != nil {
		logger.Warn(context.Background(), "interpreter probe failed", zap.Error(err))
	} else {
		interpreter = controller.InterpreterStatus{Available: true, Version: version}
	}

	httpServer := buildHTTPServer(appCfg, coordinator, registry, interpreter)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeper := lifecycle.NewSweeper(coordinator, lifecycle.SweepInterval)
	go sweeper.Start(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "runbox http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("environment", appCfg.Environment),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	stopSweeper()

	// In-flight requests drain up to the grace period; whatever remains is
	// terminated when the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, coordinator *lifecycle.Coordinator, registry token.Registry, interpreter controller.InterpreterStatus) *http.Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContext())
	router.Use(middleware.RequestLogger())

	executeController := controller.NewExecuteController(coordinator)
	hostController := controller.NewHostController(coordinator)
	downloadController := controller.NewDownloadController(registry)
	healthController := controller.NewHealthController(registry, interpreter, cfg.Environment)

	router.POST("/execute", executeController.Execute)
	router.POST("/host", hostController.Host)
	router.GET("/download/:token", downloadController.Download)
	router.GET("/health", healthController.Health)

	return &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
