// Package engine runs the position lifecycle for one symbol: flat until an
// entry signal fires, then in a position until take-profit, stop-loss or
// the holding timeout closes it.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
	"github.com/apadron/bybit-scalp-bot/internal/indicators"
	"github.com/apadron/bybit-scalp-bot/internal/journal"
	"github.com/apadron/bybit-scalp-bot/internal/monitoring"
	"github.com/apadron/bybit-scalp-bot/internal/order"
	"github.com/apadron/bybit-scalp-bot/pkg/types"
)

// State is the engine's position state.
type State int

const (
	StateFlat State = iota
	StateInPosition
)

func (s State) String() string {
	if s == StateInPosition {
		return "in_position"
	}
	return "flat"
}

// Entry evaluation outcomes, also used as journal reasons.
const (
	signalOK         = "ok"
	signalWarmup     = "warmup"
	signalLateral    = "lateral"
	signalOverbought = "rsi_overbought"
	signalLowVolume  = "low_volume"
)

// Exit reasons, in precedence order.
const (
	ExitTakeProfit = "tp"
	ExitStopLoss   = "sl"
	ExitTimeout    = "timeout"
)

// Position is the currently held long.
type Position struct {
	EntryPrice float64
	Quantity   float64
	OpenedAt   time.Time
	StopLoss   float64
}

// Trader places the engine's orders.
type Trader interface {
	MarketBuyQuote(ctx context.Context, quoteAmount float64) (*bybit.Fill, error)
	MarketSellBase(ctx context.Context, qty, price float64) (*bybit.Fill, error)
	MinOrderValue() float64
}

// Recorder persists completed trades.
type Recorder interface {
	Record(journal.Trade) error
}

// Params are the strategy knobs.
type Params struct {
	Symbol           string
	RiskPerTrade     float64 // quote currency per entry
	TakeProfitPct    float64 // percent, e.g. 0.3
	StopLossPct      float64
	ATRMultiplier    float64 // >0 switches the stop to entry - ATR*mult
	MaxOpenDuration  time.Duration
	Cooldown         time.Duration
	ADXThreshold     float64
	RSIThreshold     float64
	VolumeMultiplier float64
}

// Engine consumes market events and manages one position at a time. All
// event handlers are serialized by an internal mutex, so feed goroutines
// may call them directly.
type Engine struct {
	params  Params
	trader  Trader
	journal Recorder
	metrics *monitoring.Metrics
	log     *zap.Logger

	// balanceFn, when set, supplies the quote balance recorded on each
	// journal row.
	balanceFn func(ctx context.Context) (float64, error)

	// now is swappable for tests.
	now func() time.Time

	mu            sync.Mutex
	state         State
	position      Position
	cooldownUntil time.Time
	realizedPnL   float64
	tradesClosed  int
	wins          int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBalanceSource records the quote balance after each trade.
func WithBalanceSource(fn func(ctx context.Context) (float64, error)) Option {
	return func(e *Engine) { e.balanceFn = fn }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine. metrics must be non-nil; use monitoring.New() in
// tests.
func New(params Params, trader Trader, rec Recorder, metrics *monitoring.Metrics, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		params:  params,
		trader:  trader,
		journal: rec,
		metrics: metrics,
		log:     log.Named("engine"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current position state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Position returns a copy of the open position; meaningful only while
// State is StateInPosition.
func (e *Engine) Position() Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// RealizedPnL returns the cumulative realized profit of the session.
func (e *Engine) RealizedPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realizedPnL
}

// SessionStats returns closed-trade counts for the session summary.
func (e *Engine) SessionStats() (closed, wins int, pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tradesClosed, e.wins, e.realizedPnL
}

// HandleTick re-checks exits against the latest price. Ticks never open
// positions; entries are decided on closed candles only.
func (e *Engine) HandleTick(ctx context.Context, tick types.Tick) {
	e.metrics.CurrentPrice.Set(tick.Price)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateInPosition {
		e.checkExit(ctx, tick.Price)
	}
}

// HandleCandle processes a confirmed candle and its indicator snapshot:
// exits have priority, then an entry is considered while flat.
func (e *Engine) HandleCandle(ctx context.Context, candle types.Candle, snap indicators.Snapshot) {
	e.metrics.CurrentPrice.Set(candle.Close)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateInPosition {
		e.checkExit(ctx, candle.Close)
		return
	}

	reason := e.evaluateEntry(snap)
	if reason != signalOK {
		if reason != signalWarmup {
			e.log.Debug("entry skipped",
				zap.String("reason", reason),
				zap.Float64("close", snap.Close))
		}
		return
	}
	if now := e.now(); now.Before(e.cooldownUntil) {
		e.log.Debug("entry suppressed by cooldown",
			zap.Duration("remaining", e.cooldownUntil.Sub(now)))
		return
	}
	e.enter(ctx, snap)
}

// evaluateEntry applies the long filter: trending up, not overbought, with
// above-average volume.
func (e *Engine) evaluateEntry(snap indicators.Snapshot) string {
	if !snap.Ready {
		return signalWarmup
	}
	if snap.EMAFast <= snap.EMASlow || snap.ADX <= e.params.ADXThreshold {
		return signalLateral
	}
	if snap.RSI >= e.params.RSIThreshold {
		return signalOverbought
	}
	if snap.Volume <= snap.VolumeSMA*e.params.VolumeMultiplier {
		return signalLowVolume
	}
	return signalOK
}

func (e *Engine) enter(ctx context.Context, snap indicators.Snapshot) {
	if minValue := e.trader.MinOrderValue(); e.params.RiskPerTrade < minValue {
		e.log.Warn("risk per trade below minimum order value, entry skipped",
			zap.Float64("risk", e.params.RiskPerTrade),
			zap.Float64("min_order_value", minValue))
		return
	}

	fill, err := e.trader.MarketBuyQuote(ctx, e.params.RiskPerTrade)
	if err != nil {
		e.metrics.OrdersPlaced.WithLabelValues("buy", "error").Inc()
		e.log.Error("entry order failed", zap.Error(err))
		e.startCooldown()
		return
	}
	if fill.Quantity <= 0 {
		e.metrics.OrdersPlaced.WithLabelValues("buy", "unfilled").Inc()
		e.log.Warn("entry order did not fill", zap.String("order_id", fill.OrderID))
		e.startCooldown()
		return
	}
	e.metrics.OrdersPlaced.WithLabelValues("buy", "filled").Inc()

	e.position = Position{
		EntryPrice: fill.Price,
		Quantity:   fill.Quantity,
		OpenedAt:   e.now(),
		StopLoss:   e.stopLossFor(fill.Price, snap.ATR),
	}
	e.state = StateInPosition
	e.metrics.PositionOpen.Set(1)

	e.log.Info("position opened",
		zap.Float64("entry", fill.Price),
		zap.Float64("qty", fill.Quantity),
		zap.Float64("stop_loss", e.position.StopLoss))

	e.record(ctx, journal.Trade{
		Time:       e.now(),
		Symbol:     e.params.Symbol,
		Side:       "buy",
		Reason:     "entry",
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		Investment: fill.Price * fill.Quantity,
	})
}

// stopLossFor derives the stop: ATR-based when configured and the ATR is
// defined, otherwise the fixed percentage.
func (e *Engine) stopLossFor(entry, atr float64) float64 {
	if e.params.ATRMultiplier > 0 && atr > 0 {
		return entry - atr*e.params.ATRMultiplier
	}
	return entry * (1 - e.params.StopLossPct/100)
}

// checkExit closes the position when an exit condition holds. Take-profit
// is checked before stop-loss, stop-loss before timeout, so a candle
// satisfying several reports the best reason. Callers hold e.mu.
func (e *Engine) checkExit(ctx context.Context, price float64) {
	pos := e.position
	var reason string
	switch {
	case price >= pos.EntryPrice*(1+e.params.TakeProfitPct/100):
		reason = ExitTakeProfit
	case price <= pos.StopLoss:
		reason = ExitStopLoss
	case e.now().Sub(pos.OpenedAt) >= e.params.MaxOpenDuration:
		reason = ExitTimeout
	default:
		return
	}
	e.exit(ctx, price, reason)
}

func (e *Engine) exit(ctx context.Context, price float64, reason string) {
	pos := e.position
	fill, err := e.trader.MarketSellBase(ctx, pos.Quantity, price)
	if err != nil {
		if errors.Is(err, order.ErrInsufficientBalance) {
			// The holdings are gone or reduced to dust; nothing left to
			// manage, so the position is abandoned rather than retried
			// forever.
			e.metrics.OrdersPlaced.WithLabelValues("sell", "error").Inc()
			e.log.Error("exit impossible, abandoning position", zap.Error(err))
			e.reset()
			return
		}
		// Stay in the position; the next tick or candle retries.
		e.metrics.OrdersPlaced.WithLabelValues("sell", "error").Inc()
		e.log.Error("exit order failed, will retry",
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	e.metrics.OrdersPlaced.WithLabelValues("sell", "filled").Inc()

	exitPrice := fill.Price
	exitQty := fill.Quantity
	if exitQty <= 0 {
		exitQty = pos.Quantity
		exitPrice = price
	}
	pnl := (exitPrice - pos.EntryPrice) * exitQty

	e.realizedPnL += pnl
	e.tradesClosed++
	if pnl >= 0 {
		e.wins++
	}
	e.metrics.RealizedPnL.Set(e.realizedPnL)
	e.metrics.TradesClosed.WithLabelValues(reason).Inc()

	e.log.Info("position closed",
		zap.String("reason", reason),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pnl),
		zap.Duration("held", e.now().Sub(pos.OpenedAt)))

	e.record(ctx, journal.Trade{
		Time:       e.now(),
		Symbol:     e.params.Symbol,
		Side:       "sell",
		Reason:     reason,
		Price:      exitPrice,
		Quantity:   exitQty,
		Investment: exitPrice * exitQty,
		PnL:        pnl,
	})
	e.reset()
}

func (e *Engine) reset() {
	e.position = Position{}
	e.state = StateFlat
	e.metrics.PositionOpen.Set(0)
}

// startCooldown backs off after a failed entry. Successful closes carry no
// cool-down; the next candle may re-enter immediately.
func (e *Engine) startCooldown() {
	if e.params.Cooldown > 0 {
		e.cooldownUntil = e.now().Add(e.params.Cooldown)
	}
}

// record writes a journal row. Journal failures are logged and swallowed;
// bookkeeping must never interrupt trading.
func (e *Engine) record(ctx context.Context, t journal.Trade) {
	if e.journal == nil {
		return
	}
	if e.balanceFn != nil {
		if balance, err := e.balanceFn(ctx); err == nil {
			t.Balance = balance
		}
	}
	if err := e.journal.Record(t); err != nil {
		e.log.Warn("journal write failed", zap.Error(err))
	}
}
