package bybit

import (
	"context"
	"fmt"
	"strings"
)

// SymbolFilters holds the exchange trading rules for one spot symbol.
type SymbolFilters struct {
	Symbol    string
	BaseCoin  string
	QuoteCoin string

	// Quantity rules, in base currency.
	QtyStep       float64
	MinQty        float64
	MaxQty        float64
	BasePrecision int

	// Quote currency precision, used when ordering by quote amount.
	QuotePrecision int

	// Price rules.
	PriceTick float64
	MinPrice  float64
	MaxPrice  float64

	// Minimum order value in quote currency.
	MinNotional float64
}

type instrumentInfoResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol        string `json:"symbol"`
		BaseCoin      string `json:"baseCoin"`
		QuoteCoin     string `json:"quoteCoin"`
		Status        string `json:"status"`
		LotSizeFilter struct {
			BasePrecision  string `json:"basePrecision"`
			QuotePrecision string `json:"quotePrecision"`
			MinOrderQty    string `json:"minOrderQty"`
			MaxOrderQty    string `json:"maxOrderQty"`
			MinOrderAmt    string `json:"minOrderAmt"`
			QtyStep        string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
			MinPrice string `json:"minPrice"`
			MaxPrice string `json:"maxPrice"`
		} `json:"priceFilter"`
	} `json:"list"`
}

// GetSymbolFilters fetches the instrument rules for one spot symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, category, symbol string) (*SymbolFilters, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	var result instrumentInfoResult
	err := c.retry.Do(ctx, "get_instrument_info", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("no instrument info for %s", symbol)
	}

	info := result.List[0]
	lot := info.LotSizeFilter
	price := info.PriceFilter

	qtyStep, err := parseFloat(lot.QtyStep)
	if err != nil {
		return nil, err
	}
	basePrecisionStep, err := parseFloat(lot.BasePrecision)
	if err != nil {
		return nil, err
	}
	// Spot instruments may omit qtyStep; base precision is the step then.
	if qtyStep == 0 {
		qtyStep = basePrecisionStep
	}
	minQty, err := parseFloat(lot.MinOrderQty)
	if err != nil {
		return nil, err
	}
	maxQty, err := parseFloat(lot.MaxOrderQty)
	if err != nil {
		return nil, err
	}
	minNotional, err := parseFloat(lot.MinOrderAmt)
	if err != nil {
		return nil, err
	}
	tick, err := parseFloat(price.TickSize)
	if err != nil {
		return nil, err
	}
	minPrice, err := parseFloat(price.MinPrice)
	if err != nil {
		return nil, err
	}
	maxPrice, err := parseFloat(price.MaxPrice)
	if err != nil {
		return nil, err
	}

	return &SymbolFilters{
		Symbol:         info.Symbol,
		BaseCoin:       info.BaseCoin,
		QuoteCoin:      info.QuoteCoin,
		QtyStep:        qtyStep,
		MinQty:         minQty,
		MaxQty:         maxQty,
		BasePrecision:  decimalsOf(lot.BasePrecision),
		QuotePrecision: decimalsOf(lot.QuotePrecision),
		PriceTick:      tick,
		MinPrice:       minPrice,
		MaxPrice:       maxPrice,
		MinNotional:    minNotional,
	}, nil
}

// decimalsOf counts the decimal places of a step-formatted string such as
// "0.000001". Integer steps yield zero.
func decimalsOf(step string) int {
	dot := strings.IndexByte(step, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(step[dot+1:], "0")
	return len(frac)
}
