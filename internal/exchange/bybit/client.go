package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Environment selects the Bybit deployment the client talks to.
type Environment string

const (
	EnvDemo    Environment = "demo"
	EnvTestnet Environment = "testnet"
	EnvMainnet Environment = "mainnet"
)

const demoBaseURL = "https://api-demo.bybit.com"

// Config holds the configuration for the Bybit gateway client.
type Config struct {
	APIKey      string
	APISecret   string
	Environment Environment
	// AccountType is probed first for wallet queries; the other known
	// types are tried as fallbacks.
	AccountType AccountType
	// Retry applies to all idempotent operations; OrderRetry applies to
	// order placement only.
	Retry      Policy
	OrderRetry Policy
}

// Client wraps the official Bybit HTTP client with retry policies and typed
// responses for every operation the bot needs.
type Client struct {
	httpClient  *bybit_api.Client
	env         Environment
	accountType AccountType
	retry       Policy
	orderRetry  Policy
}

// NewClient creates a gateway client for the configured environment.
func NewClient(config Config) *Client {
	var baseURL string
	switch config.Environment {
	case EnvDemo:
		baseURL = demoBaseURL
	case EnvTestnet:
		baseURL = bybit_api.TESTNET
	default:
		baseURL = bybit_api.MAINNET
	}

	if config.Retry.MaxAttempts == 0 {
		config.Retry = DefaultPolicy()
	}
	if config.OrderRetry.MaxAttempts == 0 {
		config.OrderRetry = OrderPolicy()
	}
	if config.AccountType == "" {
		config.AccountType = AccountTypeUnified
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Client{
		httpClient:  httpClient,
		env:         config.Environment,
		accountType: config.AccountType,
		retry:       config.Retry,
		orderRetry:  config.OrderRetry,
	}
}

// IsDemo reports whether the client targets the demo (paper) environment.
func (c *Client) IsDemo() bool {
	return c.env == EnvDemo
}

// IsTestnet reports whether the client targets testnet.
func (c *Client) IsTestnet() bool {
	return c.env == EnvTestnet
}

// Environment returns the environment the client was built for.
func (c *Client) Environment() Environment {
	return c.env
}
