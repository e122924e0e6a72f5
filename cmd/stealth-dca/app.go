package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"stealthdca/internal/cache"
	"stealthdca/internal/chain"
	"stealthdca/internal/config"
	cronrunner "stealthdca/internal/cron"
	"stealthdca/internal/db"
	"stealthdca/internal/logger"
	"stealthdca/internal/pipeline"
	"stealthdca/internal/provider"
	"stealthdca/internal/repository"
	filerepository "stealthdca/internal/repository/file"
	gormrepository "stealthdca/internal/repository/gorm"
	"stealthdca/internal/schedule"
	"stealthdca/internal/service"
	"stealthdca/internal/tokens"
	"stealthdca/internal/wallet"
)

type app struct {
	cfg    config.Config
	logger *zap.Logger
	repo   repository.ScheduleRepository
	// storeDir is set for the file store only.
	storeDir string
	dbConn   *db.DB
	funder   *wallet.Identity
}

func loadConfig(path string, envOnly bool) (config.Config, error) {
	if !envOnly {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if path != defaultConfigPath {
				return config.Config{}, fmt.Errorf("config %s not found", path)
			}
			envOnly = true
		}
	}
	return config.Load(path, envOnly)
}

// bootstrap loads config, the logger and the schedule store. daemon selects
// stdout logging; one-shot commands log to stderr.
func bootstrap(opts *rootOptions, daemon bool) (*app, error) {
	cfg, err := loadConfig(opts.configPath, opts.envOnly)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.storeDir != "" {
		cfg.Store.Driver = "file"
		cfg.Store.Dir = opts.storeDir
	}

	var log *zap.Logger
	if daemon {
		log, err = logger.New(cfg.Log)
	} else {
		if !opts.verbose {
			cfg.Log.Level = "warn"
		}
		log, err = logger.NewCLI(cfg.Log)
	}
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &app{cfg: cfg, logger: log}
	if err := a.openStore(); err != nil {
		_ = log.Sync()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore() error {
	switch strings.ToLower(strings.TrimSpace(a.cfg.Store.Driver)) {
	case "", "file":
		dir := config.ExpandHome(a.cfg.Store.Dir)
		store, err := filerepository.New(dir)
		if err != nil {
			return fmt.Errorf("open file store: %w", err)
		}
		a.repo = store
		a.storeDir = store.Dir()
	case "postgres":
		conn, err := db.Open(a.cfg.DB)
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(conn); err != nil {
			_ = db.Close(conn)
			return fmt.Errorf("auto-migrate: %w", err)
		}
		a.dbConn = conn
		a.repo = gormrepository.New(conn.Gorm)
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	a.logger.Debug("store opened", zap.String("driver", a.cfg.Store.Driver), zap.String("dir", a.storeDir))
	return nil
}

func (a *app) close() {
	if a.funder != nil {
		a.funder.Discard()
	}
	if a.dbConn != nil {
		_ = db.Close(a.dbConn)
	}
	_ = a.logger.Sync()
}

func (a *app) anchor() (schedule.Anchor, error) {
	return schedule.AnchorFromConfig(a.cfg.Schedule)
}

// engine builds the schedule engine. Without a runner it works on the store only.
func (a *app) engine(runner *cronrunner.Runner) (*schedule.Engine, error) {
	anchor, err := a.anchor()
	if err != nil {
		return nil, err
	}
	reg, err := tokens.NewRegistry(a.cfg.Tokens)
	if err != nil {
		return nil, err
	}
	e := schedule.NewEngine(a.repo, runner, anchor, a.logger)
	e.Tokens = reg
	return e, nil
}

// dca wires the chain client, providers and pipeline around the funder wallet.
func (a *app) dca(ctx context.Context) (*service.DCAService, error) {
	funder, err := wallet.LoadFunder(a.cfg.Wallet.Path)
	if err != nil {
		return nil, err
	}
	a.funder = funder

	reg, err := tokens.NewRegistry(a.cfg.Tokens)
	if err != nil {
		return nil, err
	}
	verdicts, err := cache.New(ctx, a.cfg.Cache)
	if err != nil {
		a.logger.Warn("cache unavailable, using memory", zap.Error(err))
		verdicts = cache.NewMemoryStore()
	}

	rpc := chain.NewRPC(a.cfg.RPC, a.logger)
	retry := chain.RetryPolicy{MaxAttempts: a.cfg.Pipeline.RetryAttempts, Interval: a.cfg.Pipeline.RetryInterval}
	providers := provider.Detect(ctx, a.cfg.Providers, verdicts, a.logger)

	p := &pipeline.Pipeline{
		Chain: rpc,
		Wallet: &wallet.Manager{
			Chain:       rpc,
			Logger:      a.logger,
			Retry:       retry,
			RecoveryDir: config.ExpandHome(a.cfg.Wallet.RecoveryDir),
		},
		Tokens:    reg,
		Providers: providers,
		Config: pipeline.Config{
			StrictPrivacy: a.cfg.Pipeline.StrictPrivacy,
			Retry:         retry,
			RunTimeout:    a.cfg.Pipeline.RunTimeout,
		},
		Logger: a.logger,
		Now:    time.Now,
	}
	a.logger.Info("funder loaded", zap.String("address", funder.Address()))
	return &service.DCAService{
		Pipeline:        p,
		Funder:          funder,
		ScreeningAPIKey: a.cfg.Pipeline.ScreeningAPIKey,
		Logger:          a.logger,
	}, nil
}
