package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lojahub/lojasync/internal/bus"
	"github.com/lojahub/lojasync/internal/cache"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/internal/gateway"
	"github.com/lojahub/lojasync/internal/remote"
	"github.com/lojahub/lojasync/internal/service"
	"github.com/lojahub/lojasync/internal/store"
	syncer "github.com/lojahub/lojasync/internal/sync"
	"github.com/lojahub/lojasync/pkg/logger"
	"github.com/lojahub/lojasync/pkg/metrics"
	"github.com/lojahub/lojasync/pkg/utils"
	"github.com/lojahub/lojasync/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	lojaID     string

	rootCmd = &cobra.Command{
		Use:   "lojasync",
		Short: "Sync daemon for the dealership CRM",
		Long:  `lojasync keeps the local CRM mirror reconciled with the cloud database and the inventory feed`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lojasync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lojasync version %s\n", version.Get())
		},
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run a one-shot inventory feed import for one loja",
		Run: func(cmd *cobra.Command, args []string) {
			oneShot(func(ctx context.Context, app *application) syncer.Result {
				return app.engine.SyncXML(ctx, lojaID)
			})
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Push and pull every tracked table for every known loja",
		Run: func(cmd *cobra.Command, args []string) {
			oneShot(func(ctx context.Context, app *application) syncer.Result {
				return app.engine.MigrateAll(ctx)
			})
		},
	}

	lojaNome string

	lojaCmd = &cobra.Command{
		Use:   "loja",
		Short: "Manage the lojas known to this device",
	}

	lojaAddCmd = &cobra.Command{
		Use:   "add <id>",
		Short: "Register a loja in the local mirror",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addLoja(args[0])
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "lojasync.yaml", "path to configuration file")
	syncCmd.Flags().StringVar(&lojaID, "loja", "", "loja id to sync")
	_ = syncCmd.MarkFlagRequired("loja")
	lojaAddCmd.Flags().StringVar(&lojaNome, "nome", "", "display name, defaults to the id")
	lojaCmd.AddCommand(lojaAddCmd)
	rootCmd.AddCommand(versionCmd, syncCmd, migrateCmd, lojaCmd)
}

// application holds every wired component of the daemon.
type application struct {
	logger  *zap.Logger
	cfg     *config.Config
	local   *store.Local
	remote  *remote.Client
	cache   cache.Cache
	bus     *bus.Bus
	engine  *syncer.Engine
	service *service.Service
	metrics *metrics.Metrics
}

func newApplication(ctx context.Context) (*application, error) {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration from %s: %w", cfgPath, err)
	}

	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	zapLogger.Info("configuration loaded", zap.String("path", cfgPath))

	m := metrics.New(cfg.Metrics)

	local, err := store.NewLocal(zapLogger, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	rc, err := remote.New(zapLogger, &cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("connect remote store: %w", err)
	}

	c, err := cache.NewCache(zapLogger, &cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	b, err := bus.NewBus(ctx, zapLogger, &cfg.Bus, m)
	if err != nil {
		return nil, fmt.Errorf("initialize event bus: %w", err)
	}

	engine := syncer.NewEngine(zapLogger, cfg.Sync, local, rc, c, b, m)
	gw := gateway.New(zapLogger, local)
	loader := cache.NewLoader(zapLogger, c, m)

	return &application{
		logger:  zapLogger,
		cfg:     cfg,
		local:   local,
		remote:  rc,
		cache:   c,
		bus:     b,
		engine:  engine,
		service: service.New(zapLogger, local, gw, engine, loader, b),
		metrics: m,
	}, nil
}

func (app *application) close() {
	if err := app.cache.Close(); err != nil {
		app.logger.Error("failed to close cache", zap.Error(err))
	}
	if err := app.remote.Close(); err != nil {
		app.logger.Error("failed to close remote store", zap.Error(err))
	}
	if err := app.local.Close(); err != nil {
		app.logger.Error("failed to close local store", zap.Error(err))
	}
	_ = app.logger.Sync()
}

func run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer app.close()

	app.logger.Info("starting lojasync", zap.String("version", version.Get()))

	var metricsSrv *http.Server
	if addr := app.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			app.logger.Info("metrics endpoint listening", zap.String("addr", addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	go app.engine.Run(ctx)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.logger.Info("shutting down")
	cancel()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("failed to shutdown metrics endpoint", zap.Error(err))
		}
	}
}

// addLoja registers a tenant so the sync loop and migrateAll pick it up.
func addLoja(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer app.close()

	loja := &store.Loja{ID: id, Nome: utils.FirstNonEmpty(lojaNome, id)}
	if err := app.local.UpsertLoja(ctx, loja); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("loja %s registrada\n", id)
}

func oneShot(fn func(context.Context, *application) syncer.Result) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer app.close()

	result := fn(ctx, app)
	fmt.Println(result.Message)
	if !result.Success {
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
