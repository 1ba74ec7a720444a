package bybit

import (
	"context"
	"fmt"
)

// AccountType identifies a Bybit wallet account type.
type AccountType string

const (
	AccountTypeUnified  AccountType = "UNIFIED"
	AccountTypeSpot     AccountType = "SPOT"
	AccountTypeContract AccountType = "CONTRACT"
)

// accountTypeCandidates returns the probe order for wallet queries: the
// configured type first, then the remaining known types.
func (c *Client) accountTypeCandidates() []AccountType {
	all := []AccountType{AccountTypeUnified, AccountTypeSpot, AccountTypeContract}
	ordered := []AccountType{c.accountType}
	for _, t := range all {
		if t != c.accountType {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

// WalletBalance maps coin symbol to the balance available for trading.
type WalletBalance map[string]float64

type walletBalanceResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin             string `json:"coin"`
			WalletBalance    string `json:"walletBalance"`
			AvailableToTrade string `json:"availableToTrade"`
			Free             string `json:"free"`
		} `json:"coin"`
	} `json:"list"`
}

// GetWalletBalance fetches available balances, probing account types until
// one succeeds. An auth or account-type mismatch moves on to the next
// candidate; any other failure is returned immediately. When coins is empty
// all non-zero balances are returned.
func (c *Client) GetWalletBalance(ctx context.Context, coins ...string) (WalletBalance, error) {
	var lastErr error
	for _, accountType := range c.accountTypeCandidates() {
		balances, err := c.getWalletBalance(ctx, accountType, coins)
		if err == nil {
			return balances, nil
		}
		if IsAuthError(err) || isAccountTypeError(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("no usable account type: %w", lastErr)
}

func (c *Client) getWalletBalance(ctx context.Context, accountType AccountType, coins []string) (WalletBalance, error) {
	params := map[string]interface{}{
		"accountType": string(accountType),
	}
	if len(coins) == 1 {
		params["coin"] = coins[0]
	}

	var result walletBalanceResult
	err := c.retry.Do(ctx, "get_wallet_balance", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(coins))
	for _, coin := range coins {
		wanted[coin] = true
	}

	balances := make(WalletBalance)
	for _, account := range result.List {
		for _, coin := range account.Coin {
			if len(wanted) > 0 && !wanted[coin.Coin] {
				continue
			}
			available, err := parseFloat(coin.AvailableToTrade)
			if err != nil {
				return nil, err
			}
			if available == 0 {
				if free, err := parseFloat(coin.Free); err == nil && free > 0 {
					available = free
				} else if wallet, err := parseFloat(coin.WalletBalance); err == nil {
					available = wallet
				}
			}
			if available > 0 || len(wanted) > 0 {
				balances[coin.Coin] = available
			}
		}
	}
	return balances, nil
}

// GetCoinBalance is a convenience wrapper returning a single coin's
// available balance, zero when the coin is absent.
func (c *Client) GetCoinBalance(ctx context.Context, coin string) (float64, error) {
	balances, err := c.GetWalletBalance(ctx, coin)
	if err != nil {
		return 0, err
	}
	return balances[coin], nil
}
