// Package indicators maintains a rolling candle window and computes the
// technical indicators the strategy reads.
package indicators

import (
	"sync"

	"github.com/markcheno/go-talib"

	"github.com/apadron/bybit-scalp-bot/pkg/types"
)

const (
	// maxWindow caps memory; talib only needs the indicator lookbacks.
	maxWindow = 1000

	emaFastPeriod = 9
	emaSlowPeriod = 21
	adxPeriod     = 14
	rsiPeriod     = 14
	atrPeriod     = 14
	volSMAPeriod  = 20

	// minBars is the warm-up before every indicator has a defined value.
	// ADX has the longest lookback: 2*period-1.
	minBars = 2*adxPeriod + 2
)

// Snapshot is one consistent read of every indicator after a candle close.
type Snapshot struct {
	Close     float64
	EMAFast   float64
	EMASlow   float64
	ADX       float64
	RSI       float64
	ATR       float64
	Volume    float64
	VolumeSMA float64
	// Ready is false until the window holds enough bars for every
	// indicator to be defined.
	Ready bool
}

// Window accumulates confirmed candles and serves indicator snapshots.
// Safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	high   []float64
	low    []float64
	close  []float64
	volume []float64
	lastMs int64
}

func NewWindow() *Window {
	return &Window{}
}

// Append adds a confirmed candle. Bars at or before the last appended
// period are ignored so replays cannot corrupt the series.
func (w *Window) Append(c types.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	periodMs := c.PeriodStart.UnixMilli()
	if periodMs <= w.lastMs {
		return
	}
	w.lastMs = periodMs

	w.high = append(w.high, c.High)
	w.low = append(w.low, c.Low)
	w.close = append(w.close, c.Close)
	w.volume = append(w.volume, c.Volume)

	if len(w.close) > maxWindow {
		w.high = w.high[1:]
		w.low = w.low[1:]
		w.close = w.close[1:]
		w.volume = w.volume[1:]
	}
}

// Len returns the number of bars held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.close)
}

// Snapshot computes the current indicator values. Before warm-up it returns
// a snapshot with Ready=false and only Close/Volume populated.
func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.close)
	if n == 0 {
		return Snapshot{}
	}

	snap := Snapshot{
		Close:  w.close[n-1],
		Volume: w.volume[n-1],
	}
	if n < minBars {
		return snap
	}

	emaFast := talib.Ema(w.close, emaFastPeriod)
	emaSlow := talib.Ema(w.close, emaSlowPeriod)
	adx := talib.Adx(w.high, w.low, w.close, adxPeriod)
	rsi := talib.Rsi(w.close, rsiPeriod)
	atr := talib.Atr(w.high, w.low, w.close, atrPeriod)
	volSMA := talib.Sma(w.volume, volSMAPeriod)

	snap.EMAFast = emaFast[n-1]
	snap.EMASlow = emaSlow[n-1]
	snap.ADX = adx[n-1]
	snap.RSI = rsi[n-1]
	snap.ATR = atr[n-1]
	snap.VolumeSMA = volSMA[n-1]
	snap.Ready = true
	return snap
}
