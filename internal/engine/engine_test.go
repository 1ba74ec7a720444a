package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
	"github.com/apadron/bybit-scalp-bot/internal/indicators"
	"github.com/apadron/bybit-scalp-bot/internal/journal"
	"github.com/apadron/bybit-scalp-bot/internal/logger"
	"github.com/apadron/bybit-scalp-bot/internal/monitoring"
	"github.com/apadron/bybit-scalp-bot/internal/order"
	"github.com/apadron/bybit-scalp-bot/pkg/types"
)

type fakeTrader struct {
	buyFill  *bybit.Fill
	buyErr   error
	sellFill *bybit.Fill
	sellErr  error
	buys     int
	sells    int
	minValue float64
}

func (t *fakeTrader) MarketBuyQuote(ctx context.Context, quoteAmount float64) (*bybit.Fill, error) {
	t.buys++
	return t.buyFill, t.buyErr
}

func (t *fakeTrader) MarketSellBase(ctx context.Context, qty, price float64) (*bybit.Fill, error) {
	t.sells++
	return t.sellFill, t.sellErr
}

func (t *fakeTrader) MinOrderValue() float64 {
	return t.minValue
}

type memRecorder struct {
	trades []journal.Trade
}

func (r *memRecorder) Record(t journal.Trade) error {
	r.trades = append(r.trades, t)
	return nil
}

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func defaultParams() Params {
	return Params{
		Symbol:           "BTCUSDT",
		RiskPerTrade:     10,
		TakeProfitPct:    0.3,
		StopLossPct:      0.5,
		MaxOpenDuration:  20 * time.Minute,
		Cooldown:         60 * time.Second,
		ADXThreshold:     25,
		RSIThreshold:     68,
		VolumeMultiplier: 1.2,
	}
}

func readySnapshot() indicators.Snapshot {
	return indicators.Snapshot{
		Close:     50000,
		EMAFast:   50010,
		EMASlow:   49990,
		ADX:       30,
		RSI:       55,
		ATR:       100,
		Volume:    150,
		VolumeSMA: 100,
		Ready:     true,
	}
}

func newTestEngine(t *fakeTrader, rec Recorder, clock *testClock) *Engine {
	return New(defaultParams(), t, rec, monitoring.New(), logger.Nop(), WithClock(clock.now))
}

func goodBuy() *bybit.Fill {
	return &bybit.Fill{OrderID: "buy-1", Quantity: 0.0002, Price: 50000}
}

// TestEntryOnSignal verifies a full signal opens a position with an
// ATR-independent percentage stop when no multiplier is set.
func TestEntryOnSignal(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	rec := &memRecorder{}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, rec, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())

	require.Equal(t, StateInPosition, e.State())
	assert.Equal(t, 1, trader.buys)
	pos := e.Position()
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.Equal(t, 0.0002, pos.Quantity)
	assert.InDelta(t, 50000*(1-0.005), pos.StopLoss, 1e-9)

	require.Len(t, rec.trades, 1)
	assert.Equal(t, "buy", rec.trades[0].Side)
	assert.Equal(t, "entry", rec.trades[0].Reason)
}

// TestATRStopPreferred verifies the ATR stop is used when configured.
func TestATRStopPreferred(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	params := defaultParams()
	params.ATRMultiplier = 1.5
	e := New(params, trader, &memRecorder{}, monitoring.New(), logger.Nop(), WithClock(clock.now))

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())

	require.Equal(t, StateInPosition, e.State())
	assert.InDelta(t, 50000-100*1.5, e.Position().StopLoss, 1e-9)
}

// TestNoEntryReasons verifies each entry filter blocks on its own.
func TestNoEntryReasons(t *testing.T) {
	cases := map[string]func(*indicators.Snapshot){
		"warmup":     func(s *indicators.Snapshot) { s.Ready = false },
		"lateral":    func(s *indicators.Snapshot) { s.EMAFast = s.EMASlow - 1 },
		"weak trend": func(s *indicators.Snapshot) { s.ADX = 20 },
		"overbought": func(s *indicators.Snapshot) { s.RSI = 75 },
		"low volume": func(s *indicators.Snapshot) { s.Volume = s.VolumeSMA },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
			clock := &testClock{t: time.Unix(1_700_000_000, 0)}
			e := newTestEngine(trader, &memRecorder{}, clock)

			snap := readySnapshot()
			mutate(&snap)
			e.HandleCandle(context.Background(), types.Candle{Close: snap.Close}, snap)

			assert.Equal(t, StateFlat, e.State())
			assert.Zero(t, trader.buys)
		})
	}
}

// TestTakeProfitExit verifies the tp path, its PnL, and the journal row.
func TestTakeProfitExit(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	rec := &memRecorder{}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, rec, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	require.Equal(t, StateInPosition, e.State())

	exitPrice := 50000 * 1.004
	trader.sellFill = &bybit.Fill{OrderID: "sell-1", Quantity: 0.0002, Price: exitPrice}
	e.HandleTick(context.Background(), types.Tick{Price: exitPrice})

	assert.Equal(t, StateFlat, e.State())
	assert.Equal(t, 1, trader.sells)
	assert.InDelta(t, (exitPrice-50000)*0.0002, e.RealizedPnL(), 1e-9)

	require.Len(t, rec.trades, 2)
	assert.Equal(t, ExitTakeProfit, rec.trades[1].Reason)
}

// TestStopLossExit verifies the sl path triggers at the stop.
func TestStopLossExit(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	rec := &memRecorder{}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, rec, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())

	exitPrice := 49000.0
	trader.sellFill = &bybit.Fill{OrderID: "sell-1", Quantity: 0.0002, Price: exitPrice}
	e.HandleTick(context.Background(), types.Tick{Price: exitPrice})

	assert.Equal(t, StateFlat, e.State())
	require.Len(t, rec.trades, 2)
	assert.Equal(t, ExitStopLoss, rec.trades[1].Reason)
	assert.Less(t, e.RealizedPnL(), 0.0)
}

// TestTimeoutExit verifies a stale position is closed at a neutral price.
func TestTimeoutExit(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	rec := &memRecorder{}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, rec, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())

	clock.advance(21 * time.Minute)
	trader.sellFill = &bybit.Fill{OrderID: "sell-1", Quantity: 0.0002, Price: 50001}
	e.HandleTick(context.Background(), types.Tick{Price: 50001})

	assert.Equal(t, StateFlat, e.State())
	require.Len(t, rec.trades, 2)
	assert.Equal(t, ExitTimeout, rec.trades[1].Reason)
}

// TestTakeProfitBeatsTimeout verifies precedence when both conditions hold.
func TestTakeProfitBeatsTimeout(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	rec := &memRecorder{}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, rec, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())

	clock.advance(30 * time.Minute)
	exitPrice := 50000 * 1.01
	trader.sellFill = &bybit.Fill{OrderID: "sell-1", Quantity: 0.0002, Price: exitPrice}
	e.HandleTick(context.Background(), types.Tick{Price: exitPrice})

	require.Len(t, rec.trades, 2)
	assert.Equal(t, ExitTakeProfit, rec.trades[1].Reason)
}

// TestExitFailureKeepsPosition verifies a failed sell is retried on the
// next event rather than dropping the position.
func TestExitFailureKeepsPosition(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, &memRecorder{}, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())

	trader.sellErr = errors.New("exchange unreachable")
	e.HandleTick(context.Background(), types.Tick{Price: 51000})
	assert.Equal(t, StateInPosition, e.State())

	trader.sellErr = nil
	trader.sellFill = &bybit.Fill{OrderID: "sell-1", Quantity: 0.0002, Price: 51000}
	e.HandleTick(context.Background(), types.Tick{Price: 51000})
	assert.Equal(t, StateFlat, e.State())
	assert.Equal(t, 2, trader.sells)
}

// TestDustPositionAbandoned verifies an unsellable position is dropped
// instead of retried forever.
func TestDustPositionAbandoned(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, &memRecorder{}, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())

	trader.sellErr = order.ErrInsufficientBalance
	e.HandleTick(context.Background(), types.Tick{Price: 51000})
	assert.Equal(t, StateFlat, e.State())
}

// TestCooldownAfterFailedEntry verifies a rejected entry order backs off
// for the cool-down window before the next attempt.
func TestCooldownAfterFailedEntry(t *testing.T) {
	trader := &fakeTrader{buyErr: errors.New("order rejected"), minValue: 5}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, &memRecorder{}, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	require.Equal(t, StateFlat, e.State())
	assert.Equal(t, 1, trader.buys)

	clock.advance(30 * time.Second)
	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	assert.Equal(t, 1, trader.buys)

	clock.advance(31 * time.Second)
	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	assert.Equal(t, 2, trader.buys)
}

// TestNoCooldownAfterSuccessfulExit verifies a clean close does not block
// the next entry signal.
func TestNoCooldownAfterSuccessfulExit(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, &memRecorder{}, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	trader.sellFill = &bybit.Fill{OrderID: "sell-1", Quantity: 0.0002, Price: 50200}
	e.HandleTick(context.Background(), types.Tick{Price: 50200})
	require.Equal(t, StateFlat, e.State())

	clock.advance(time.Second)
	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	assert.Equal(t, 2, trader.buys)
	assert.Equal(t, StateInPosition, e.State())
}

// TestUnfilledEntryStartsCooldown verifies a zero fill leaves the engine
// flat and backs off.
func TestUnfilledEntryStartsCooldown(t *testing.T) {
	trader := &fakeTrader{
		buyFill:  &bybit.Fill{OrderID: "buy-1", Quantity: 0},
		minValue: 5,
	}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, &memRecorder{}, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	assert.Equal(t, StateFlat, e.State())

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	assert.Equal(t, 1, trader.buys)
}

// TestRiskBelowMinOrderValueSkips verifies under-capitalized entries never
// reach the exchange.
func TestRiskBelowMinOrderValueSkips(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 50}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, &memRecorder{}, clock)

	e.HandleCandle(context.Background(), types.Candle{Close: 50000}, readySnapshot())
	assert.Equal(t, StateFlat, e.State())
	assert.Zero(t, trader.buys)
}

// TestTickNeverOpensPosition verifies ticks only drive exits.
func TestTickNeverOpensPosition(t *testing.T) {
	trader := &fakeTrader{buyFill: goodBuy(), minValue: 5}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(trader, &memRecorder{}, clock)

	e.HandleTick(context.Background(), types.Tick{Price: 50000})
	assert.Equal(t, StateFlat, e.State())
	assert.Zero(t, trader.buys)
}
