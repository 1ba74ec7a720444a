package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
)

const (
	fillPollAttempts = 5
	fillPollDelay    = 500 * time.Millisecond
)

// Gateway is the exchange surface the manager needs.
type Gateway interface {
	GetSymbolFilters(ctx context.Context, category, symbol string) (*bybit.SymbolFilters, error)
	GetCoinBalance(ctx context.Context, coin string) (float64, error)
	PlaceOrder(ctx context.Context, p bybit.PlaceOrderParams) (*bybit.OrderAck, error)
	CancelOrder(ctx context.Context, category, symbol, orderID string) error
	GetOpenOrders(ctx context.Context, category, symbol string) ([]bybit.OpenOrder, error)
	GetOrderFill(ctx context.Context, category, symbol, orderID string) (*bybit.Fill, error)
}

// Manager places normalized spot orders for one symbol. Instrument filters
// are fetched once at construction; Bybit changes them rarely enough that a
// restart is an acceptable refresh.
type Manager struct {
	gw       Gateway
	log      *zap.Logger
	category string
	symbol   string
	filters  *bybit.SymbolFilters
}

// NewManager fetches the instrument rules and returns a ready manager.
func NewManager(ctx context.Context, gw Gateway, category, symbol string, log *zap.Logger) (*Manager, error) {
	filters, err := gw.GetSymbolFilters(ctx, category, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument rules for %s: %w", symbol, err)
	}
	log.Info("instrument rules loaded",
		zap.String("symbol", symbol),
		zap.Float64("qty_step", filters.QtyStep),
		zap.Float64("min_qty", filters.MinQty),
		zap.Float64("min_notional", filters.MinNotional),
		zap.Float64("price_tick", filters.PriceTick))

	return &Manager{
		gw:       gw,
		log:      log.Named("orders"),
		category: category,
		symbol:   symbol,
		filters:  filters,
	}, nil
}

// Filters exposes the cached instrument rules.
func (m *Manager) Filters() *bybit.SymbolFilters {
	return m.filters
}

// MinOrderValue returns the smallest acceptable order value in quote
// currency.
func (m *Manager) MinOrderValue() float64 {
	return m.filters.MinNotional
}

// BaseCoin returns the instrument's base currency.
func (m *Manager) BaseCoin() string {
	return m.filters.BaseCoin
}

// MarketBuyQuote spends quoteAmount of quote currency on a market buy and
// resolves the fill.
func (m *Manager) MarketBuyQuote(ctx context.Context, quoteAmount float64) (*bybit.Fill, error) {
	qty, err := NormalizeBuyQuote(m.filters, quoteAmount)
	if err != nil {
		return nil, err
	}

	ack, err := m.gw.PlaceOrder(ctx, bybit.PlaceOrderParams{
		Category:    m.category,
		Symbol:      m.symbol,
		Side:        bybit.SideBuy,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         qty.Str,
		MarketUnit:  "quoteCoin",
		TimeInForce: "IOC",
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("market buy submitted",
		zap.String("order_id", ack.OrderID),
		zap.String("quote_amount", qty.Str))
	return m.resolveFill(ctx, ack.OrderID)
}

// MarketBuyBase buys qty base units at market, normalized against the
// instrument rules. price is the reference price used for the minimum
// notional check.
func (m *Manager) MarketBuyBase(ctx context.Context, qty, price float64) (*bybit.Fill, error) {
	normalized, err := NormalizeBuyBase(m.filters, qty, price)
	if err != nil {
		return nil, err
	}

	ack, err := m.gw.PlaceOrder(ctx, bybit.PlaceOrderParams{
		Category:    m.category,
		Symbol:      m.symbol,
		Side:        bybit.SideBuy,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         normalized.Str,
		MarketUnit:  "baseCoin",
		TimeInForce: "IOC",
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("market buy submitted",
		zap.String("order_id", ack.OrderID),
		zap.String("qty", normalized.Str))
	return m.resolveFill(ctx, ack.OrderID)
}

// MarketSellBase sells qty base units at market, capped at the freshly
// queried available balance. price is the reference price for the minimum
// notional check; pass 0 to leave that to the exchange.
func (m *Manager) MarketSellBase(ctx context.Context, qty, price float64) (*bybit.Fill, error) {
	available, err := m.gw.GetCoinBalance(ctx, m.filters.BaseCoin)
	if err != nil {
		return nil, fmt.Errorf("query %s balance: %w", m.filters.BaseCoin, err)
	}

	normalized, err := NormalizeSellBase(m.filters, qty, available, price)
	if err != nil {
		return nil, err
	}

	ack, err := m.gw.PlaceOrder(ctx, bybit.PlaceOrderParams{
		Category:    m.category,
		Symbol:      m.symbol,
		Side:        bybit.SideSell,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         normalized.Str,
		MarketUnit:  "baseCoin",
		TimeInForce: "IOC",
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("market sell submitted",
		zap.String("order_id", ack.OrderID),
		zap.String("qty", normalized.Str))
	return m.resolveFill(ctx, ack.OrderID)
}

// LimitOrder places a limit order with the price snapped to the tick and
// the quantity normalized for its side.
func (m *Manager) LimitOrder(ctx context.Context, side string, qty, price float64) (*bybit.OrderAck, error) {
	tickPrice, err := RoundPriceToTick(m.filters, price)
	if err != nil {
		return nil, err
	}

	var normalized Quantity
	if side == bybit.SideBuy {
		normalized, err = NormalizeBuyBase(m.filters, qty, tickPrice.Value)
	} else {
		available, balErr := m.gw.GetCoinBalance(ctx, m.filters.BaseCoin)
		if balErr != nil {
			return nil, fmt.Errorf("query %s balance: %w", m.filters.BaseCoin, balErr)
		}
		normalized, err = NormalizeSellBase(m.filters, qty, available, tickPrice.Value)
	}
	if err != nil {
		return nil, err
	}

	ack, err := m.gw.PlaceOrder(ctx, bybit.PlaceOrderParams{
		Category:    m.category,
		Symbol:      m.symbol,
		Side:        side,
		OrderType:   bybit.OrderTypeLimit,
		Qty:         normalized.Str,
		Price:       tickPrice.Str,
		TimeInForce: "GTC",
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("limit order submitted",
		zap.String("order_id", ack.OrderID),
		zap.String("side", side),
		zap.String("qty", normalized.Str),
		zap.String("price", tickPrice.Str))
	return ack, nil
}

// TPSLOrder places a spot conditional sell that triggers at triggerPrice,
// executing at market. Used to park an exchange-side stop.
func (m *Manager) TPSLOrder(ctx context.Context, qty, triggerPrice float64) (*bybit.OrderAck, error) {
	trigger, err := RoundPriceToTick(m.filters, triggerPrice)
	if err != nil {
		return nil, err
	}
	available, err := m.gw.GetCoinBalance(ctx, m.filters.BaseCoin)
	if err != nil {
		return nil, fmt.Errorf("query %s balance: %w", m.filters.BaseCoin, err)
	}
	normalized, err := NormalizeSellBase(m.filters, qty, available, trigger.Value)
	if err != nil {
		return nil, err
	}

	ack, err := m.gw.PlaceOrder(ctx, bybit.PlaceOrderParams{
		Category:     m.category,
		Symbol:       m.symbol,
		Side:         bybit.SideSell,
		OrderType:    bybit.OrderTypeMarket,
		Qty:          normalized.Str,
		TriggerPrice: trigger.Str,
		OrderFilter:  "tpslOrder",
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("conditional sell submitted",
		zap.String("order_id", ack.OrderID),
		zap.String("qty", normalized.Str),
		zap.String("trigger", trigger.Str))
	return ack, nil
}

// CancelAll cancels every open order the manager's symbol has resting.
func (m *Manager) CancelAll(ctx context.Context) error {
	open, err := m.gw.GetOpenOrders(ctx, m.category, m.symbol)
	if err != nil {
		return err
	}
	for _, o := range open {
		if err := m.gw.CancelOrder(ctx, m.category, m.symbol, o.OrderID); err != nil {
			return fmt.Errorf("cancel order %s: %w", o.OrderID, err)
		}
		m.log.Info("order cancelled", zap.String("order_id", o.OrderID))
	}
	return nil
}

// resolveFill polls order history until the order shows an executed
// quantity, or gives up and returns the last observation. A zero-quantity
// fill after the poll window means nothing executed.
func (m *Manager) resolveFill(ctx context.Context, orderID string) (*bybit.Fill, error) {
	var last *bybit.Fill
	for attempt := 0; attempt < fillPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(fillPollDelay):
			}
		}
		fill, err := m.gw.GetOrderFill(ctx, m.category, m.symbol, orderID)
		if err != nil {
			m.log.Warn("fill lookup failed", zap.String("order_id", orderID), zap.Error(err))
			continue
		}
		last = fill
		if fill.Quantity > 0 {
			return fill, nil
		}
	}
	if last == nil {
		return nil, fmt.Errorf("order %s: fill could not be resolved", orderID)
	}
	return last, nil
}
