package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
	"github.com/apadron/bybit-scalp-bot/internal/logger"
)

type fakeOrderGateway struct {
	filters     *bybit.SymbolFilters
	balance     float64
	placed      []bybit.PlaceOrderParams
	fills       map[string]*bybit.Fill
	open        []bybit.OpenOrder
	cancelled   []string
	nextOrderID string
}

func (g *fakeOrderGateway) GetSymbolFilters(ctx context.Context, category, symbol string) (*bybit.SymbolFilters, error) {
	return g.filters, nil
}

func (g *fakeOrderGateway) GetCoinBalance(ctx context.Context, coin string) (float64, error) {
	return g.balance, nil
}

func (g *fakeOrderGateway) PlaceOrder(ctx context.Context, p bybit.PlaceOrderParams) (*bybit.OrderAck, error) {
	g.placed = append(g.placed, p)
	return &bybit.OrderAck{OrderID: g.nextOrderID}, nil
}

func (g *fakeOrderGateway) CancelOrder(ctx context.Context, category, symbol, orderID string) error {
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *fakeOrderGateway) GetOpenOrders(ctx context.Context, category, symbol string) ([]bybit.OpenOrder, error) {
	return g.open, nil
}

func (g *fakeOrderGateway) GetOrderFill(ctx context.Context, category, symbol, orderID string) (*bybit.Fill, error) {
	return g.fills[orderID], nil
}

func newFakeGateway() *fakeOrderGateway {
	return &fakeOrderGateway{
		filters:     btcFilters(),
		balance:     1.0,
		nextOrderID: "order-1",
		fills: map[string]*bybit.Fill{
			"order-1": {OrderID: "order-1", Quantity: 0.0002, Price: 50000},
		},
	}
}

// TestMarketBuyQuoteSubmitsQuoteDenominated verifies the quote unit and
// fill resolution of a spend-based buy.
func TestMarketBuyQuoteSubmitsQuoteDenominated(t *testing.T) {
	gw := newFakeGateway()
	m, err := NewManager(context.Background(), gw, "spot", "BTCUSDT", logger.Nop())
	require.NoError(t, err)

	fill, err := m.MarketBuyQuote(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, gw.placed, 1)
	p := gw.placed[0]
	assert.Equal(t, bybit.SideBuy, p.Side)
	assert.Equal(t, bybit.OrderTypeMarket, p.OrderType)
	assert.Equal(t, "quoteCoin", p.MarketUnit)
	assert.Equal(t, "10.00", p.Qty)
	assert.Equal(t, 0.0002, fill.Quantity)
	assert.Equal(t, 50000.0, fill.Price)
}

// TestMarketSellCapsAtFreshBalance verifies the sell queries the balance
// and never oversells.
func TestMarketSellCapsAtFreshBalance(t *testing.T) {
	gw := newFakeGateway()
	gw.balance = 0.0005
	m, err := NewManager(context.Background(), gw, "spot", "BTCUSDT", logger.Nop())
	require.NoError(t, err)

	_, err = m.MarketSellBase(context.Background(), 0.01, 50000)
	require.NoError(t, err)

	require.Len(t, gw.placed, 1)
	assert.Equal(t, bybit.SideSell, gw.placed[0].Side)
	assert.Equal(t, "0.000500", gw.placed[0].Qty)
}

// TestMarketSellDustFails verifies a dust balance surfaces the sentinel.
func TestMarketSellDustFails(t *testing.T) {
	gw := newFakeGateway()
	gw.balance = 0.00000100
	m, err := NewManager(context.Background(), gw, "spot", "BTCUSDT", logger.Nop())
	require.NoError(t, err)

	_, err = m.MarketSellBase(context.Background(), 0.01, 50000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, gw.placed)
}

// TestLimitOrderSnapsPriceToTick verifies limit prices land on the grid.
func TestLimitOrderSnapsPriceToTick(t *testing.T) {
	gw := newFakeGateway()
	m, err := NewManager(context.Background(), gw, "spot", "BTCUSDT", logger.Nop())
	require.NoError(t, err)

	_, err = m.LimitOrder(context.Background(), bybit.SideBuy, 0.001, 50123.4567)
	require.NoError(t, err)

	require.Len(t, gw.placed, 1)
	p := gw.placed[0]
	assert.Equal(t, bybit.OrderTypeLimit, p.OrderType)
	assert.Equal(t, "50123.46", p.Price)
	assert.Equal(t, "GTC", p.TimeInForce)
}

// TestTPSLOrderUsesConditionalFilter verifies the stop order shape.
func TestTPSLOrderUsesConditionalFilter(t *testing.T) {
	gw := newFakeGateway()
	m, err := NewManager(context.Background(), gw, "spot", "BTCUSDT", logger.Nop())
	require.NoError(t, err)

	_, err = m.TPSLOrder(context.Background(), 0.001, 49500.123)
	require.NoError(t, err)

	require.Len(t, gw.placed, 1)
	p := gw.placed[0]
	assert.Equal(t, "tpslOrder", p.OrderFilter)
	assert.Equal(t, "49500.12", p.TriggerPrice)
	assert.Equal(t, bybit.SideSell, p.Side)
}

// TestCancelAllSweepsOpenOrders verifies every resting order is cancelled.
func TestCancelAllSweepsOpenOrders(t *testing.T) {
	gw := newFakeGateway()
	gw.open = []bybit.OpenOrder{{OrderID: "a"}, {OrderID: "b"}}
	m, err := NewManager(context.Background(), gw, "spot", "BTCUSDT", logger.Nop())
	require.NoError(t, err)

	require.NoError(t, m.CancelAll(context.Background()))
	assert.Equal(t, []string{"a", "b"}, gw.cancelled)
}
