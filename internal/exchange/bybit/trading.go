package bybit

import (
	"context"
	"fmt"
	"time"
)

// Order sides and types accepted by the v5 API.
const (
	SideBuy  = "Buy"
	SideSell = "Sell"

	OrderTypeMarket = "Market"
	OrderTypeLimit  = "Limit"
)

// PlaceOrderParams describes an order submission. Qty is a pre-formatted
// string so quantity normalization stays the caller's responsibility.
type PlaceOrderParams struct {
	Category    string
	Symbol      string
	Side        string
	OrderType   string
	Qty         string
	Price       string
	TimeInForce string
	OrderLinkID string
	// MarketUnit selects the unit of Qty for spot market orders:
	// "baseCoin" or "quoteCoin".
	MarketUnit string
	// TriggerPrice and OrderFilter support spot TP/SL conditional orders
	// (orderFilter "tpslOrder").
	TriggerPrice string
	OrderFilter  string
}

// OrderAck is the exchange acknowledgement of an accepted order.
type OrderAck struct {
	OrderID     string
	OrderLinkID string
}

type placeOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceOrder submits an order. Retries apply only to failures that occur
// before the request can have reached the matching engine; a rejection or
// an ambiguous transport failure is returned as-is to avoid duplicates.
func (c *Client) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*OrderAck, error) {
	params := map[string]interface{}{
		"category":  p.Category,
		"symbol":    p.Symbol,
		"side":      p.Side,
		"orderType": p.OrderType,
		"qty":       p.Qty,
	}
	if p.Price != "" {
		params["price"] = p.Price
	}
	if p.TimeInForce != "" {
		params["timeInForce"] = p.TimeInForce
	}
	if p.OrderLinkID != "" {
		params["orderLinkId"] = p.OrderLinkID
	}
	if p.MarketUnit != "" {
		params["marketUnit"] = p.MarketUnit
	}
	if p.TriggerPrice != "" {
		params["triggerPrice"] = p.TriggerPrice
	}
	if p.OrderFilter != "" {
		params["orderFilter"] = p.OrderFilter
	}

	var result placeOrderResult
	err := c.orderRetry.Do(ctx, "place_order", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}
	return &OrderAck{OrderID: result.OrderID, OrderLinkID: result.OrderLinkID}, nil
}

// CancelOrder cancels an open order by order ID.
func (c *Client) CancelOrder(ctx context.Context, category, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.retry.Do(ctx, "cancel_order", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, nil)
	})
}

// OpenOrder is a live order resting on the book.
type OpenOrder struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        string
	OrderType   string
	Price       float64
	Qty         float64
	Status      string
}

type orderListResult struct {
	Category string `json:"category"`
	List     []struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderType   string `json:"orderType"`
		Price       string `json:"price"`
		Qty         string `json:"qty"`
		OrderStatus string `json:"orderStatus"`
		AvgPrice    string `json:"avgPrice"`
		CumExecQty  string `json:"cumExecQty"`
		CumExecFee  string `json:"cumExecFee"`
		UpdatedTime string `json:"updatedTime"`
	} `json:"list"`
}

// GetOpenOrders lists the currently open orders for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, category, symbol string) ([]OpenOrder, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	var result orderListResult
	err := c.retry.Do(ctx, "get_open_orders", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]OpenOrder, 0, len(result.List))
	for _, raw := range result.List {
		price, err := parseFloat(raw.Price)
		if err != nil {
			return nil, err
		}
		qty, err := parseFloat(raw.Qty)
		if err != nil {
			return nil, err
		}
		orders = append(orders, OpenOrder{
			OrderID:     raw.OrderID,
			OrderLinkID: raw.OrderLinkID,
			Symbol:      raw.Symbol,
			Side:        raw.Side,
			OrderType:   raw.OrderType,
			Price:       price,
			Qty:         qty,
			Status:      raw.OrderStatus,
		})
	}
	return orders, nil
}

// Fill summarizes the executed part of an order.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	Fee      float64
	Time     time.Time
}

// GetOrderFill looks an order up in order history and returns its executed
// quantity and average price. A zero-quantity Fill means nothing executed
// (yet); callers poll for market orders that have not settled.
func (c *Client) GetOrderFill(ctx context.Context, category, symbol, orderID string) (*Fill, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	var result orderListResult
	err := c.retry.Do(ctx, "get_order_history", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("order %s not found in history", orderID)
	}

	raw := result.List[0]
	qty, err := parseFloat(raw.CumExecQty)
	if err != nil {
		return nil, err
	}
	avgPrice, err := parseFloat(raw.AvgPrice)
	if err != nil {
		return nil, err
	}
	fee, err := parseFloat(raw.CumExecFee)
	if err != nil {
		return nil, err
	}
	updated, err := parseTimestamp(raw.UpdatedTime)
	if err != nil {
		return nil, err
	}

	return &Fill{
		OrderID:  raw.OrderID,
		Symbol:   raw.Symbol,
		Side:     raw.Side,
		Quantity: qty,
		Price:    avgPrice,
		Fee:      fee,
		Time:     updated,
	}, nil
}
