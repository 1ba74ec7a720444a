package types

import "time"

// Tick is a single last-price observation for a symbol.
type Tick struct {
	Symbol     string
	Price      float64
	ObservedAt time.Time
}

// Candle is one OHLCV bar. Only confirmed (closed) candles are actionable
// for trading decisions; an unconfirmed candle is still forming.
type Candle struct {
	Symbol      string
	PeriodStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Turnover    float64
	Confirmed   bool
}