package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"etf-arb-go/config"
	"etf-arb-go/engine"
	"etf-arb-go/exposure"
	"etf-arb-go/infrastructure/logger"
	"etf-arb-go/market"
	"etf-arb-go/metrics"
	"etf-arb-go/order"
	"etf-arb-go/stoploss"
	"etf-arb-go/strategy"
	"etf-arb-go/tender"
	"etf-arb-go/venue"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置；留空用配置值")
	flag.Parse()

	// .env 仅承载密钥（VENUE_API_KEY 等），缺失不是错误。
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	baseLog, err := logger.New(logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		ActivityFile: cfg.Logging.ActivityFile,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer baseLog.Close()
	appLog := baseLog.With(zap.String("session", uuid.NewString()))

	addr := cfg.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		metrics.StartMetricsServer(addr)
		appLog.Info("metrics server started", zap.String("addr", addr))
	}

	client := &venue.Client{
		BaseURL:    cfg.Venue.BaseURL,
		APIKey:     cfg.Venue.APIKey,
		HTTPClient: venue.NewDefaultHTTPClient(),
		Limiter:    venue.NewTokenBucketLimiter(cfg.Venue.RestRate, cfg.Venue.RestBurst),
		Currencies: cfg.Venue.Currencies,
	}

	ledger := exposure.NewLedger(client, exposure.Limits{
		MaxLong:  cfg.Risk.MaxLongExposure,
		MaxShort: cfg.Risk.MaxShortExposure,
	}, appLog.Named("exposure"))

	prices := market.NewHistory(client, cfg.Instruments.Stocks, cfg.Instruments.ETFs,
		cfg.Strategy.RollingWindow, appLog.Named("market"))

	tracker := order.NewTracker(client, order.TrackerConfig{
		ConfirmInterval: time.Duration(cfg.Orders.ConfirmIntervalMs) * time.Millisecond,
		ConfirmTimeout:  time.Duration(cfg.Orders.ConfirmTimeoutMs) * time.Millisecond,
	}, appLog.Named("tracker"))

	submitter := order.NewSubmitter(client, prices.IsETF, order.SubmitterConfig{
		Retry: order.RetryPolicy{
			MaxAttempts: cfg.Orders.MaxRetries,
			DefaultWait: time.Duration(cfg.Orders.RetryWaitMs) * time.Millisecond,
		},
		StockCap: cfg.Orders.StockOrderCap,
		ETFCap:   cfg.Orders.ETFOrderCap,
	}, appLog.Named("submitter"))

	reconciler := order.NewReconciler(tracker, client, client, submitter, ledger,
		order.ReconcilerConfig{CancelAttempts: cfg.Orders.CancelAttempts},
		appLog.Named("reconciler"))

	calc := stoploss.New(cfg.Risk.StopLossAlpha)
	arb, err := strategy.NewEngine(strategy.Config{
		ETF:       cfg.Instruments.PrimaryETF,
		Stocks:    cfg.Instruments.Stocks,
		Threshold: cfg.Strategy.Threshold,
		TradeSize: cfg.Strategy.TradeSize,
		Window:    cfg.Strategy.RollingWindow,
	}, prices, ledger, submitter, tracker, calc, appLog.Named("strategy"))
	if err != nil {
		appLog.Fatal("初始化策略失败", zap.Error(err))
	}

	tenders := tender.NewHandler(client, ledger, submitter, appLog.Named("tender"))

	loop := &engine.Loop{
		Ticks:      client,
		Prices:     prices,
		Strategy:   arb,
		Tenders:    tenders,
		Reconciler: reconciler,
		Tracker:    tracker,
		Ledger:     ledger,
		Interval:   time.Duration(cfg.Engine.IntervalMs) * time.Millisecond,
		Log:        appLog.Named("engine"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置热更新只接管风险限额。
	go func() {
		w := config.Watcher{Path: *cfgPath, Log: appLog.Named("config")}
		err := w.Start(ctx, func(rc config.RiskConfig) {
			ledger.SetLimits(exposure.Limits{
				MaxLong:  rc.MaxLongExposure,
				MaxShort: rc.MaxShortExposure,
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			appLog.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	appLog.Info("trader started",
		zap.String("env", cfg.Env),
		zap.String("venue", cfg.Venue.BaseURL),
		zap.String("etf", cfg.Instruments.PrimaryETF))

	runErr := loop.Run(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		appLog.Error("trader exited with error", zap.Error(runErr))
		baseLog.Close()
		os.Exit(1)
	}
	appLog.Info("trader stopped")
}
