// Package monitoring exposes Prometheus metrics for the running bot.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the bot updates during a session.
type Metrics struct {
	TicksReceived   *prometheus.CounterVec
	CandlesReceived *prometheus.CounterVec
	FeedFallbacks   prometheus.Counter
	OrdersPlaced    *prometheus.CounterVec
	TradesClosed    *prometheus.CounterVec
	CurrentPrice    prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	PositionOpen    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers the bot's collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		TicksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_bot_ticks_received_total",
			Help: "Market ticks received, by feed source.",
		}, []string{"source"}),
		CandlesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_bot_candles_received_total",
			Help: "Confirmed candles received, by feed source.",
		}, []string{"source"}),
		FeedFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalp_bot_feed_fallbacks_total",
			Help: "Times the market feed fell back from streaming to polling.",
		}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_bot_orders_placed_total",
			Help: "Orders submitted to the exchange, by side and outcome.",
		}, []string{"side", "outcome"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_bot_trades_closed_total",
			Help: "Completed round-trip trades, by exit reason.",
		}, []string{"reason"}),
		CurrentPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalp_bot_last_price",
			Help: "Last observed market price.",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalp_bot_realized_pnl",
			Help: "Cumulative realized profit and loss in quote currency.",
		}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalp_bot_position_open",
			Help: "1 while a position is held, 0 when flat.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.TicksReceived,
		m.CandlesReceived,
		m.FeedFallbacks,
		m.OrdersPlaced,
		m.TradesClosed,
		m.CurrentPrice,
		m.RealizedPnL,
		m.PositionOpen,
	)
	return m
}

// Serve exposes /metrics on addr until ctx is cancelled. Errors other than
// a clean shutdown are returned.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
