package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"

	"github.com/apadron/bybit-scalp-bot/internal/config"
	"github.com/apadron/bybit-scalp-bot/internal/engine"
	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
	"github.com/apadron/bybit-scalp-bot/internal/feed"
	"github.com/apadron/bybit-scalp-bot/internal/indicators"
	"github.com/apadron/bybit-scalp-bot/internal/journal"
	"github.com/apadron/bybit-scalp-bot/internal/logger"
	"github.com/apadron/bybit-scalp-bot/internal/monitoring"
	"github.com/apadron/bybit-scalp-bot/internal/order"
)

const (
	feedJoinTimeout = 2 * time.Second
	warmupKlines    = 200
)

func main() {
	envFile := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("bot stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connectExchange(ctx, cfg, log)
	if err != nil {
		return err
	}

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	orders, err := order.NewManager(startupCtx, client, cfg.Category, cfg.Symbol, log)
	if err != nil {
		return err
	}
	quoteCoin := orders.Filters().QuoteCoin

	quoteBalance, err := client.GetCoinBalance(startupCtx, quoteCoin)
	if err != nil {
		return fmt.Errorf("query %s balance: %w", quoteCoin, err)
	}
	log.Info("wallet ready",
		zap.String("coin", quoteCoin),
		zap.Float64("available", quoteBalance))

	jnl, err := journal.New(cfg.JournalPath)
	if err != nil {
		return err
	}

	metrics := monitoring.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	window := indicators.NewWindow()
	if err := warmupWindow(startupCtx, client, cfg, window); err != nil {
		return err
	}
	log.Info("indicator window warmed", zap.Int("bars", window.Len()))

	eng := engine.New(engine.Params{
		Symbol:           cfg.Symbol,
		RiskPerTrade:     cfg.RiskPerTrade,
		TakeProfitPct:    cfg.TakeProfitPct,
		StopLossPct:      cfg.StopLossPct,
		ATRMultiplier:    cfg.ATRMultiplier,
		MaxOpenDuration:  cfg.MaxOpenDuration,
		Cooldown:         cfg.CooldownDuration,
		ADXThreshold:     cfg.ADXThreshold,
		RSIThreshold:     cfg.RSIThreshold,
		VolumeMultiplier: cfg.VolumeMultiplier,
	}, orders, jnl, metrics, log,
		engine.WithBalanceSource(func(ctx context.Context) (float64, error) {
			return client.GetCoinBalance(ctx, quoteCoin)
		}),
	)

	marketFeed := buildFeed(cfg, client, metrics, window, eng, log)

	printStartupInfo(cfg, client, orders, quoteBalance)

	switch {
	case cfg.FeedMode == "rest" || cfg.IsDemo():
		// Demo trading has no public stream for its own data plane;
		// polling keeps prices and fills consistent there.
		marketFeed.StartPolling(ctx)
	default:
		marketFeed.Start(ctx)
	}
	log.Info("bot running",
		zap.String("symbol", cfg.Symbol),
		zap.String("feed_mode", cfg.FeedMode))

	<-ctx.Done()
	log.Info("shutdown signal received")
	marketFeed.Stop(feedJoinTimeout)

	if cfg.ExcelPath != "" {
		if err := jnl.ExportXLSX(cfg.ExcelPath); err != nil {
			log.Error("spreadsheet export failed", zap.Error(err))
		} else {
			log.Info("session exported", zap.String("path", cfg.ExcelPath))
		}
	}
	printSessionSummary(cfg, eng)
	return nil
}

// connectExchange builds the gateway client and validates credentials with
// a wallet read. A demo environment that rejects the credentials is retried
// against testnet before giving up; live environments fail immediately.
func connectExchange(ctx context.Context, cfg *config.Config, log *zap.Logger) (*bybit.Client, error) {
	client := bybit.NewClient(bybit.Config{
		APIKey:      cfg.APIKey,
		APISecret:   cfg.APISecret,
		Environment: cfg.Environment,
		AccountType: cfg.AccountType,
	})

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if _, err := client.GetWalletBalance(checkCtx); err == nil {
		return client, nil
	} else if !cfg.IsDemo() {
		return nil, fmt.Errorf("credential check failed: %w", err)
	} else {
		log.Warn("demo credentials rejected, retrying against testnet", zap.Error(err))
	}

	client = bybit.NewClient(bybit.Config{
		APIKey:      cfg.APIKey,
		APISecret:   cfg.APISecret,
		Environment: bybit.EnvTestnet,
		AccountType: cfg.AccountType,
	})
	retryCtx, cancelRetry := context.WithTimeout(ctx, 15*time.Second)
	defer cancelRetry()
	if _, err := client.GetWalletBalance(retryCtx); err != nil {
		return nil, fmt.Errorf("credential check failed on demo and testnet: %w", err)
	}
	cfg.Environment = bybit.EnvTestnet
	return client, nil
}

// warmupWindow seeds the indicator window with recent history so the
// strategy is ready before the first live candle closes.
func warmupWindow(ctx context.Context, client *bybit.Client, cfg *config.Config, window *indicators.Window) error {
	candles, err := client.GetKlines(ctx, bybit.KlineParams{
		Category: cfg.Category,
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
		Limit:    warmupKlines,
	})
	if err != nil {
		return fmt.Errorf("load warmup candles: %w", err)
	}
	for _, candle := range candles {
		if candle.Confirmed {
			window.Append(candle)
		}
	}
	return nil
}

func buildFeed(cfg *config.Config, client *bybit.Client, metrics *monitoring.Metrics, window *indicators.Window, eng *engine.Engine, log *zap.Logger) *feed.Feed {
	var marketFeed *feed.Feed
	handler := func(e feed.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		source := marketFeed.State().String()

		if e.Tick != nil {
			metrics.TicksReceived.WithLabelValues(source).Inc()
			eng.HandleTick(ctx, *e.Tick)
		}
		if e.Candle != nil {
			metrics.CandlesReceived.WithLabelValues(source).Inc()
			window.Append(*e.Candle)
			eng.HandleCandle(ctx, *e.Candle, window.Snapshot())
		}
	}

	marketFeed = feed.New(feed.Options{
		WSURL:         cfg.WSEndpoint(),
		Symbol:        cfg.Symbol,
		Category:      cfg.Category,
		Interval:      cfg.Interval,
		TickStaleness: cfg.TickStaleness,
		BarStaleness:  cfg.BarStaleness,
		OnFallback:    func() { metrics.FeedFallbacks.Inc() },
	}, client, handler, log)
	return marketFeed
}

func printStartupInfo(cfg *config.Config, client *bybit.Client, orders *order.Manager, quoteBalance float64) {
	filters := orders.Filters()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SCALP BOT")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"📊 Symbol", cfg.Symbol},
		{"⏰ Interval", cfg.Interval + "m"},
		{"🔧 Environment", string(client.Environment())},
		{"💰 Balance", fmt.Sprintf("%.2f %s", quoteBalance, filters.QuoteCoin)},
		{"🎯 Risk / Trade", fmt.Sprintf("%.2f %s", cfg.RiskPerTrade, filters.QuoteCoin)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"📈 Take Profit", fmt.Sprintf("%.2f%%", cfg.TakeProfitPct)},
		{"📉 Stop Loss", fmt.Sprintf("%.2f%% (ATR x%.1f)", cfg.StopLossPct, cfg.ATRMultiplier)},
		{"⏳ Max Open", cfg.MaxOpenDuration.String()},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"📏 Qty Step", fmt.Sprintf("%v", filters.QtyStep)},
		{"💵 Min Notional", fmt.Sprintf("%v %s", filters.MinNotional, filters.QuoteCoin)},
		{"🪙 Price Tick", fmt.Sprintf("%v", filters.PriceTick)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 16, Align: text.AlignLeft},
		{Number: 2, WidthMin: 24, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}

func printSessionSummary(cfg *config.Config, eng *engine.Engine) {
	closed, wins, pnl := eng.SessionStats()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SESSION SUMMARY")
	t.SetStyle(table.StyleRounded)

	winRate := 0.0
	if closed > 0 {
		winRate = float64(wins) / float64(closed) * 100
	}
	t.AppendRows([]table.Row{
		{"📊 Symbol", cfg.Symbol},
		{"🔁 Trades Closed", closed},
		{"✅ Wins", fmt.Sprintf("%d (%.1f%%)", wins, winRate)},
		{"💰 Realized PnL", fmt.Sprintf("%+.4f", pnl)},
	})
	if eng.State() == engine.StateInPosition {
		pos := eng.Position()
		t.AppendSeparator()
		t.AppendRow(table.Row{"⚠️ Open Position", fmt.Sprintf("%.6f @ %.2f", pos.Quantity, pos.EntryPrice)})
	}
	t.Render()
}
