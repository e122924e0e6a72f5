package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cronrunner "stealthdca/internal/cron"
	"stealthdca/internal/handler"
	"stealthdca/internal/paas"
	filerepository "stealthdca/internal/repository/file"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	a, err := bootstrap(opts, true)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paasClient := initPaaSClient(ctx, a, log)
	baseCtx := ctx
	if paasClient != nil {
		baseCtx = paas.WithClient(ctx, paasClient)
	}

	dca, err := a.dca(ctx)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	anchor, err := a.anchor()
	if err != nil {
		return err
	}
	runner := cronrunner.New(log, baseCtx, anchor.Location)
	engine, err := a.engine(runner)
	if err != nil {
		return err
	}
	engine.OnFire = dca.FireSchedule
	engine.Observer = paas.ExecutionObserver(log)

	if _, err := engine.Rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrate schedules: %w", err)
	}
	runner.Start()
	defer runner.Stop()

	if strings.EqualFold(a.cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(paas.RequireBearerMiddleware(a.cfg.PaaS))
	router.Use(paas.InjectClientMiddleware(paasClient))
	router.Use(paas.WriteAuditMiddleware(paasClient, log))

	(&handler.HealthHandler{Store: a.repo}).Register(router)
	paas.RegisterDocs(router)
	(&handler.ScheduleHandler{Engine: engine, Logger: log}).Register(router)
	(&handler.SwapHandler{Swapper: dca, Logger: log}).Register(router)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.storeDir != "" && a.cfg.Store.Watch {
		g.Go(func() error {
			return engine.Watch(gctx, a.storeDir, filerepository.SchedulesFile)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if paasClient != nil {
		_ = paasClient.Log("stealth_dca_stopped", "info", map[string]any{"addr": srv.Addr})
	}
	return nil
}

func initPaaSClient(ctx context.Context, a *app, log *zap.Logger) *paas.Client {
	p := paas.New(a.cfg.PaaS)
	if p == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.Login(lctx); err != nil {
		log.Warn("paas login failed (audit logs disabled)", zap.Error(err))
		return nil
	}
	log.Info("paas login ok")
	return p
}
