package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/analysis/aggregator"
	"github.com/skalibog/smcbot/internal/analysis/entry"
	"github.com/skalibog/smcbot/internal/analysis/premium"
	"github.com/skalibog/smcbot/internal/analysis/protective"
	"github.com/skalibog/smcbot/internal/analysis/zones"
	"github.com/skalibog/smcbot/internal/api"
	"github.com/skalibog/smcbot/internal/candles"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/internal/exchange"
	"github.com/skalibog/smcbot/internal/metrics"
	"github.com/skalibog/smcbot/internal/notify"
	"github.com/skalibog/smcbot/internal/position"
	"github.com/skalibog/smcbot/internal/storage"
	"github.com/skalibog/smcbot/internal/ui"
	"github.com/skalibog/smcbot/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	if err := logger.Init(cfg.LoggerOptions()); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Бот остановлен с ошибкой", zap.Error(err))
	}
	logger.Info("Завершение работы")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := candles.NewStore(cfg.Candles.Capacity)
	binance := exchange.NewBinanceClient(cfg.Binance)

	// Хранилище необязательно: без InfluxDB работаем только в памяти
	var (
		recorder storage.Storage      = storage.NopStorage{}
		source   exchange.KlineSource = binance
	)
	if cfg.Storage.Enabled {
		influx, err := storage.NewInfluxDBStorage(ctx, cfg.Storage)
		if err != nil {
			logger.Warn("InfluxDB недоступна, история не сохраняется", zap.Error(err))
		} else {
			defer influx.Close()
			recorder = influx
			source = exchange.FallbackSource{Primary: binance, Secondary: influx}
		}
	}

	m := metrics.New()
	notifier := notify.NewManager(
		notify.LogNotifier{},
		notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID),
	)
	defer notifier.Wait()

	deps := aggregator.Deps{
		Store: store,
		Decider: entry.NewEngine(
			zones.NewDetector(cfg.Analysis.Detection),
			premium.NewFilter(cfg.Analysis.Filter),
		),
		Resolver:  protective.NewResolver(cfg.Analysis.Risk),
		Positions: position.NewManager(cfg.Analysis.Risk.MSSLookback),
		Notifier:  notifier,
		Recorder:  recorder,
		Metrics:   m,
	}

	switch cfg.Execution.Mode {
	case "live":
		executor := exchange.NewBinanceExecutor(cfg.Binance, cfg.Execution, cfg.Trading.Leverage)
		if err := executor.SetupLeverage(ctx, cfg.Trading.Symbols); err != nil {
			return err
		}
		deps.Port = executor
	default:
		sim := exchange.NewSimulatedExecutor(cfg.Execution, cfg.Trading.Leverage)
		deps.Port = sim
		deps.Marks = sim
	}

	if cfg.Redis.Enabled {
		mirror := storage.NewRedisPositionMirror(ctx, cfg.Redis)
		defer mirror.Close()
		deps.Mirror = mirror
	}

	engine := aggregator.NewEngine(aggregator.Config{
		Symbols:            cfg.Trading.Symbols,
		HTFInterval:        cfg.Trading.HTFInterval,
		LTFInterval:        cfg.Trading.LTFInterval,
		Quantity:           decimal.NewFromFloat(cfg.Trading.Quantity),
		RewardRatio:        decimal.NewFromFloat(cfg.Trading.RewardRatio),
		EvaluationInterval: cfg.EvaluationInterval(),
	}, deps)

	if err := engine.Reconcile(ctx); err != nil {
		logger.Warn("Сверка позиций с биржей не выполнена", zap.Error(err))
	}

	collector := exchange.NewCandleCollector(exchange.CollectorConfig{
		Symbols:       cfg.Trading.Symbols,
		Intervals:     []string{cfg.Trading.HTFInterval, cfg.Trading.LTFInterval},
		PriceInterval: cfg.Trading.LTFInterval,
		Backfill:      cfg.Trading.Backfill,
	}, source, func(symbol string, intervals []string) exchange.BarStream {
		return exchange.NewKlineStream(cfg.Binance.StreamURL, symbol, intervals)
	}, store, engine, recorder)

	if err := collector.Backfill(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return collector.Run(gctx) })

	if cfg.API.Enabled {
		server := api.NewServer(cfg.API, engine, m.Handler())
		g.Go(func() error { return server.Start(gctx) })
	}

	if cfg.UI.Enabled {
		dashboard := ui.NewTermUI(cfg.UI, cfg.Log.JSONFile, engine)
		g.Go(func() error {
			// выход из UI завершает бота
			defer cancel()
			return dashboard.Run(gctx)
		})
	}

	logger.Info("Бот запущен",
		zap.Strings("symbols", cfg.Trading.Symbols),
		zap.String("execution", cfg.Execution.Mode))
	return g.Wait()
}
