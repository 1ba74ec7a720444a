// Package feed delivers market data for one symbol, streaming over
// websocket while healthy and degrading to REST polling when the stream
// goes quiet.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
	"github.com/apadron/bybit-scalp-bot/pkg/types"
)

// State describes where the feed currently sources its data.
type State int32

const (
	StateDisconnected State = iota
	StateStreaming
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StatePolling:
		return "polling"
	default:
		return "disconnected"
	}
}

// Event carries exactly one of a tick or a confirmed candle.
type Event struct {
	Tick   *types.Tick
	Candle *types.Candle
}

// Handler consumes feed events. It runs on the feed's goroutines and must
// not block for long.
type Handler func(Event)

// Gateway is the REST surface the feed needs for polling.
type Gateway interface {
	GetTicker(ctx context.Context, category, symbol string) (*bybit.Ticker, error)
	GetKlines(ctx context.Context, p bybit.KlineParams) ([]types.Candle, error)
}

// Options configures a Feed. Zero durations take the defaults below.
type Options struct {
	WSURL    string
	Symbol   string
	Category string
	Interval string

	// TickStaleness and BarStaleness bound how long the stream may stay
	// silent before the watchdog declares it dead.
	TickStaleness    time.Duration
	BarStaleness     time.Duration
	WatchdogInterval time.Duration

	// Polling cadence once degraded.
	TickPollInterval   time.Duration
	CandlePollInterval time.Duration

	// OnFallback, when set, is called once on the streaming-to-polling
	// transition.
	OnFallback func()
}

func (o *Options) setDefaults() {
	if o.Category == "" {
		o.Category = "spot"
	}
	if o.Interval == "" {
		o.Interval = "1"
	}
	if o.TickStaleness == 0 {
		o.TickStaleness = 8 * time.Second
	}
	if o.BarStaleness == 0 {
		o.BarStaleness = 70 * time.Second
	}
	if o.WatchdogInterval == 0 {
		o.WatchdogInterval = 2 * time.Second
	}
	if o.TickPollInterval == 0 {
		o.TickPollInterval = 2 * time.Second
	}
	if o.CandlePollInterval == 0 {
		o.CandlePollInterval = 30 * time.Second
	}
}

// Feed streams ticks and confirmed candles for one symbol. The transition
// from streaming to polling is one-way for the life of the feed; a stream
// that died once is not trusted again within the session.
type Feed struct {
	opts    Options
	gw      Gateway
	log     *zap.Logger
	handler Handler

	state      atomic.Int32
	lastTickNs atomic.Int64
	lastBarNs  atomic.Int64
	// lastPeriodMs dedupes confirmed candles across sources.
	lastPeriodMs atomic.Int64

	cancel context.CancelFunc
	// streamCancel tears down the live stream; set while streaming,
	// guarded by streamMu.
	streamMu     sync.Mutex
	streamCancel context.CancelFunc
	// dispatchMu serializes delivery, so a last stream event racing the
	// degrade can never run the handler concurrently with the poller.
	dispatchMu sync.Mutex
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a feed; Start (or StartPolling) begins delivery.
func New(opts Options, gw Gateway, handler Handler, log *zap.Logger) *Feed {
	opts.setDefaults()
	return &Feed{
		opts:    opts,
		gw:      gw,
		log:     log.Named("feed"),
		handler: handler,
		done:    make(chan struct{}),
	}
}

// State returns the current feed state.
func (f *Feed) State() State {
	return State(f.state.Load())
}

// Start connects the stream and arms the staleness watchdog. A failed
// initial dial degrades straight to polling rather than failing the start.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)

	now := time.Now().UnixNano()
	f.lastTickNs.Store(now)
	f.lastBarNs.Store(now)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.runStream(ctx)
	}()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.watchdog(ctx)
	}()

	go f.closeDoneWhenFinished()
}

// StartPolling skips the stream entirely and runs REST polling from the
// start. Used when the environment has no usable public stream.
func (f *Feed) StartPolling(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.state.Store(int32(StatePolling))
	f.log.Info("feed starting in polling mode")

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.runPolling(ctx)
	}()

	go f.closeDoneWhenFinished()
}

func (f *Feed) closeDoneWhenFinished() {
	f.wg.Wait()
	close(f.done)
}

// Stop shuts the feed down, waiting up to joinTimeout for the worker
// goroutines. A stuck worker is abandoned, not waited on forever.
func (f *Feed) Stop(joinTimeout time.Duration) {
	f.stopOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		select {
		case <-f.done:
		case <-time.After(joinTimeout):
			f.log.Warn("feed workers did not stop in time", zap.Duration("timeout", joinTimeout))
		}
	})
}

func (f *Feed) runStream(ctx context.Context) {
	conn, err := dialWS(ctx, f.opts.WSURL, f.opts.Symbol, f.opts.Interval)
	if err != nil {
		f.log.Warn("stream dial failed, degrading to polling", zap.Error(err))
		f.toPolling(ctx)
		return
	}
	f.state.Store(int32(StateStreaming))
	f.log.Info("stream connected",
		zap.String("url", f.opts.WSURL),
		zap.String("symbol", f.opts.Symbol))

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	f.streamMu.Lock()
	f.streamCancel = cancelStream
	f.streamMu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		conn.ping(streamCtx)
	}()

	go func() {
		<-streamCtx.Done()
		conn.close()
	}()

	for {
		event, err := conn.readEvent()
		if err != nil {
			if ctx.Err() != nil || streamCtx.Err() != nil {
				return
			}
			// Leave the transition to the watchdog so it happens on the
			// same staleness clock as a silent stream.
			f.log.Warn("stream read failed", zap.Error(err))
			return
		}
		if streamCtx.Err() != nil {
			return
		}
		if event == nil {
			continue
		}
		f.markFresh(event)
		f.dispatch(*event)
	}
}

// watchdog polls freshness and triggers the one-way degrade once either
// series exceeds its staleness bound.
func (f *Feed) watchdog(ctx context.Context) {
	ticker := time.NewTicker(f.opts.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if f.State() == StatePolling {
			return
		}

		now := time.Now()
		tickAge := now.Sub(time.Unix(0, f.lastTickNs.Load()))
		barAge := now.Sub(time.Unix(0, f.lastBarNs.Load()))
		if tickAge > f.opts.TickStaleness || barAge > f.opts.BarStaleness {
			f.log.Warn("stream stale, degrading to polling",
				zap.Duration("tick_age", tickAge),
				zap.Duration("bar_age", barAge))
			f.toPolling(ctx)
			return
		}
	}
}

// toPolling performs the one-way transition, tearing the stream down first
// so only one producer delivers events. The swap guards against the
// watchdog and a failed dial racing to degrade at the same time.
func (f *Feed) toPolling(ctx context.Context) {
	prev := f.state.Swap(int32(StatePolling))
	if State(prev) == StatePolling {
		return
	}

	f.streamMu.Lock()
	if f.streamCancel != nil {
		f.streamCancel()
	}
	f.streamMu.Unlock()

	if f.opts.OnFallback != nil {
		f.opts.OnFallback()
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.runPolling(ctx)
	}()
}

func (f *Feed) runPolling(ctx context.Context) {
	tickTicker := time.NewTicker(f.opts.TickPollInterval)
	defer tickTicker.Stop()
	candleTicker := time.NewTicker(f.opts.CandlePollInterval)
	defer candleTicker.Stop()

	// Prime both series so the engine is not blind for a poll interval.
	f.pollTick(ctx)
	f.pollCandles(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickTicker.C:
			f.pollTick(ctx)
		case <-candleTicker.C:
			f.pollCandles(ctx)
		}
	}
}

func (f *Feed) pollTick(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ticker, err := f.gw.GetTicker(callCtx, f.opts.Category, f.opts.Symbol)
	if err != nil {
		if ctx.Err() == nil {
			f.log.Warn("ticker poll failed", zap.Error(err))
		}
		return
	}
	event := Event{Tick: &types.Tick{
		Symbol:     ticker.Symbol,
		Price:      ticker.LastPrice,
		ObservedAt: ticker.Time,
	}}
	f.markFresh(&event)
	f.dispatch(event)
}

func (f *Feed) pollCandles(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	candles, err := f.gw.GetKlines(callCtx, bybit.KlineParams{
		Category: f.opts.Category,
		Symbol:   f.opts.Symbol,
		Interval: f.opts.Interval,
		Limit:    3,
	})
	if err != nil {
		if ctx.Err() == nil {
			f.log.Warn("kline poll failed", zap.Error(err))
		}
		return
	}
	for i := range candles {
		candle := candles[i]
		event := Event{Candle: &candle}
		f.markFresh(&event)
		f.dispatch(event)
	}
}

func (f *Feed) markFresh(e *Event) {
	now := time.Now().UnixNano()
	if e.Tick != nil {
		f.lastTickNs.Store(now)
	}
	if e.Candle != nil {
		f.lastBarNs.Store(now)
	}
}

// dispatch forwards an event to the handler, one event at a time across
// all producers. Confirmed candles are deduped by period start so a stream
// frame and a poll of the same bar deliver once; unconfirmed candles are
// dropped. A panicking handler is contained here so one bad subscriber
// cannot kill the feed.
func (f *Feed) dispatch(e Event) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	if e.Candle != nil {
		if !e.Candle.Confirmed {
			return
		}
		periodMs := e.Candle.PeriodStart.UnixMilli()
		for {
			last := f.lastPeriodMs.Load()
			if periodMs <= last {
				return
			}
			if f.lastPeriodMs.CompareAndSwap(last, periodMs) {
				break
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			f.log.Error("event handler panicked", zap.Any("panic", r))
		}
	}()
	f.handler(e)
}
