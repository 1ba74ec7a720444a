package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/apadron/bybit-scalp-bot/pkg/types"
)

// Ticker is the latest market snapshot for a symbol.
type Ticker struct {
	Symbol    string
	LastPrice float64
	Bid1Price float64
	Ask1Price float64
	Volume24h float64
	Time      time.Time
}

type tickerResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
		Volume24h string `json:"volume24h"`
	} `json:"list"`
}

// GetTicker fetches the latest ticker for one symbol.
func (c *Client) GetTicker(ctx context.Context, category, symbol string) (*Ticker, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	var result tickerResult
	err := c.retry.Do(ctx, "get_ticker", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("no ticker data for %s", symbol)
	}

	raw := result.List[0]
	last, err := parseFloat(raw.LastPrice)
	if err != nil {
		return nil, err
	}
	bid, err := parseFloat(raw.Bid1Price)
	if err != nil {
		return nil, err
	}
	ask, err := parseFloat(raw.Ask1Price)
	if err != nil {
		return nil, err
	}
	volume, err := parseFloat(raw.Volume24h)
	if err != nil {
		return nil, err
	}

	return &Ticker{
		Symbol:    raw.Symbol,
		LastPrice: last,
		Bid1Price: bid,
		Ask1Price: ask,
		Volume24h: volume,
		Time:      time.Now(),
	}, nil
}

// KlineParams selects the candle series to fetch.
type KlineParams struct {
	Category string
	Symbol   string
	Interval string
	Limit    int
}

type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

// GetKlines fetches candles and returns them in ascending time order. Bybit
// responds newest-first, so the list is reversed here.
func (c *Client) GetKlines(ctx context.Context, p KlineParams) ([]types.Candle, error) {
	params := map[string]interface{}{
		"category": p.Category,
		"symbol":   p.Symbol,
		"interval": p.Interval,
	}
	if p.Limit > 0 {
		params["limit"] = p.Limit
	}

	var result klineResult
	err := c.retry.Do(ctx, "get_klines", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 7 {
			return nil, fmt.Errorf("malformed kline row: %d fields", len(row))
		}
		start, err := parseTimestamp(row[0])
		if err != nil {
			return nil, err
		}
		open, err := parseFloat(row[1])
		if err != nil {
			return nil, err
		}
		high, err := parseFloat(row[2])
		if err != nil {
			return nil, err
		}
		low, err := parseFloat(row[3])
		if err != nil {
			return nil, err
		}
		closePrice, err := parseFloat(row[4])
		if err != nil {
			return nil, err
		}
		volume, err := parseFloat(row[5])
		if err != nil {
			return nil, err
		}
		turnover, err := parseFloat(row[6])
		if err != nil {
			return nil, err
		}
		candles = append(candles, types.Candle{
			Symbol:      p.Symbol,
			PeriodStart: start,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closePrice,
			Volume:      volume,
			Turnover:    turnover,
			Confirmed:   true,
		})
	}
	// The most recent candle is still forming.
	if len(candles) > 0 {
		candles[len(candles)-1].Confirmed = false
	}
	return candles, nil
}
