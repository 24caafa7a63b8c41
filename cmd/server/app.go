package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/aggregation"
	"github.com/storefront/settlement-reconciler/internal/config"
	"github.com/storefront/settlement-reconciler/internal/metrics"
	"github.com/storefront/settlement-reconciler/internal/reconciliation"
	"github.com/storefront/settlement-reconciler/internal/report"
	"github.com/storefront/settlement-reconciler/internal/repository"
	"github.com/storefront/settlement-reconciler/internal/webhook"
)

// app holds everything a command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB

	reports     *repository.ReportRepo
	settlements *repository.SettlementRepo
	orders      *repository.OrderRepo
	ledger      *repository.TransactionRepo
	recon       *repository.ReconciliationRepo

	metrics  *metrics.Collector
	pipeline *reconciliation.Service
	webhooks *webhook.Service
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	fee, err := cfg.Settlement.Fee()
	if err != nil {
		return nil, err
	}
	policy, err := aggregation.NewPolicy(cfg.Settlement.OrderReferencePrefix, cfg.Settlement.ExcludedTypes, fee)
	if err != nil {
		return nil, err
	}

	logger.Info("initializing database", zap.String("path", cfg.Database.Path))
	db, err := repository.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		reports:     repository.NewReportRepo(db),
		settlements: repository.NewSettlementRepo(db),
		orders:      repository.NewOrderRepo(db),
		ledger:      repository.NewTransactionRepo(db),
		recon:       repository.NewReconciliationRepo(db),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(reg)

	downloader := report.NewDownloader(report.DownloaderConfig{
		Timeout:      cfg.Report.DownloadTimeout,
		MaxRedirects: cfg.Report.MaxRedirects,
		Dir:          cfg.Report.DownloadDir,
	}, logger)
	if cfg.Report.APIKey == "" {
		logger.Warn("report api key not set; only local report files can be processed")
	}

	a.pipeline = reconciliation.NewService(a.reports, a.settlements, a.orders, a.ledger,
		report.NewLocator(downloader, cfg.Report.APIKey, logger),
		policy, cfg.Settlement.DefaultCurrency, a.metrics, logger)
	a.webhooks = webhook.NewService(a.reports, a.pipeline, cfg.Webhook.AutoProcess, a.metrics, logger)

	return a, nil
}

func (a *app) Close() {
	a.db.Close()
	a.logger.Sync()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
