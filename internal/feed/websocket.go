package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apadron/bybit-scalp-bot/pkg/types"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsPingInterval     = 20 * time.Second
	wsReadTimeout      = 30 * time.Second
)

// wsConn is one connection to the Bybit public spot stream, subscribed to
// the ticker and kline topics of a single symbol.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	symbol  string
}

type wsRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type wsMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`

	// Control-frame fields.
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

type wsTickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type wsKlineData struct {
	Start    int64  `json:"start"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Turnover string `json:"turnover"`
	Confirm  bool   `json:"confirm"`
}

// dialWS connects and subscribes to tickers.<symbol> and
// kline.<interval>.<symbol>.
func dialWS(ctx context.Context, url, symbol, interval string) (*wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &wsConn{conn: conn, symbol: symbol}
	sub := wsRequest{
		Op: "subscribe",
		Args: []string{
			"tickers." + symbol,
			fmt.Sprintf("kline.%s.%s", interval, symbol),
		},
	}
	if err := c.writeJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return c, nil
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// ping keeps the connection alive per Bybit's 20s heartbeat requirement.
// It returns when ctx is cancelled or a write fails.
func (c *wsConn) ping(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(wsRequest{Op: "ping"}); err != nil {
				return
			}
		}
	}
}

// readEvent blocks on the next data message, skipping control frames. A nil
// event with nil error means a control frame was consumed; callers loop.
func (c *wsConn) readEvent() (*Event, error) {
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return parseStreamMessage(c.symbol, raw)
}

// parseStreamMessage turns one raw frame from the public stream into an
// event. Control frames (pong, subscribe ack) yield a nil event; a rejected
// subscription is an error.
func parseStreamMessage(symbol string, raw []byte) (*Event, error) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Topic == "" {
		if msg.Op == "subscribe" && !msg.Success {
			return nil, fmt.Errorf("subscribe rejected: %s", msg.RetMsg)
		}
		return nil, nil
	}

	switch {
	case len(msg.Topic) > 8 && msg.Topic[:8] == "tickers.":
		var data wsTickerData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("decode ticker: %w", err)
		}
		if data.LastPrice == "" {
			// Delta frames may omit unchanged fields.
			return nil, nil
		}
		price, err := strconv.ParseFloat(data.LastPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ticker price %q: %w", data.LastPrice, err)
		}
		return &Event{Tick: &types.Tick{
			Symbol:     symbol,
			Price:      price,
			ObservedAt: time.UnixMilli(msg.TS),
		}}, nil

	case len(msg.Topic) > 6 && msg.Topic[:6] == "kline.":
		var bars []wsKlineData
		if err := json.Unmarshal(msg.Data, &bars); err != nil {
			return nil, fmt.Errorf("decode kline: %w", err)
		}
		for _, bar := range bars {
			candle, err := bar.toCandle(symbol)
			if err != nil {
				return nil, err
			}
			return &Event{Candle: candle}, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (d wsKlineData) toCandle(symbol string) (*types.Candle, error) {
	fields := [6]string{d.Open, d.High, d.Low, d.Close, d.Volume, d.Turnover}
	var parsed [6]float64
	for i, s := range fields {
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline field %q: %w", s, err)
		}
		parsed[i] = v
	}
	return &types.Candle{
		Symbol:      symbol,
		PeriodStart: time.UnixMilli(d.Start),
		Open:        parsed[0],
		High:        parsed[1],
		Low:         parsed[2],
		Close:       parsed[3],
		Volume:      parsed[4],
		Turnover:    parsed[5],
		Confirmed:   d.Confirm,
	}, nil
}

func (c *wsConn) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.conn.Close()
}
