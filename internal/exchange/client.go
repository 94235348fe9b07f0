// Package exchange implements a REST+WebSocket adapter for a Binance-style
// spot venue, satisfying gwsession.Venue so a gateway process can route
// orders and market data through it.
//
// The REST client (Client) talks to the venue's trading API:
//   - NewOrder:        POST /order           place a single order
//   - CancelOrder:     DELETE /order         cancel a single order by id
//   - CreateListenKey: POST /userDataStream  open a user-data-stream key
//   - RenewListenKey:  PUT  /userDataStream  keep a listen key alive
//
// Every signed request is rate-limited via per-category TokenBuckets and
// authenticated with an HMAC-signed query string (see auth.go).
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Config configures a venue's REST and WebSocket endpoints and credentials.
type Config struct {
	Name        string // venue identifier, e.g. "binance"
	RESTBaseURL string
	WSBaseURL   string
	APIKey      string
	APISecret   string
	DryRun      bool // when true, mutating methods return a fake success without any HTTP call
}

// OrderAck is the venue's synchronous response to a new-order submission.
type OrderAck struct {
	ExtOrderID string
	Status     string
}

// Client is the REST client for one venue account.
// It wraps a resty HTTP client with rate limiting, retry and HMAC auth.
type Client struct {
	name   string
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &Client{
		name:   cfg.Name,
		http:   httpClient,
		auth:   NewAuth(Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret}, 0),
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("venue", cfg.Name),
	}
}

// Name returns the venue identifier this client was configured for.
func (c *Client) Name() string { return c.name }

// NewOrder places a single limit order.
func (c *Client) NewOrder(ctx context.Context, symbol, side string, price, size decimal.Decimal, extOrderID string) (OrderAck, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would place order", "symbol", symbol, "side", side, "price", price, "size", size)
		return OrderAck{ExtOrderID: "dry-" + extOrderID, Status: "NEW"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return OrderAck{}, err
	}

	params := url.Values{
		"symbol":           {symbol},
		"side":             {side},
		"type":             {"LIMIT"},
		"timeInForce":      {"GTC"},
		"price":            {price.String()},
		"quantity":         {size.String()},
		"newClientOrderId": {extOrderID},
	}
	signed := c.auth.Sign(params)

	var result struct {
		OrderID string `json:"clientOrderId"`
		Status  string `json:"status"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.auth.APIKey()).
		SetBody(signed).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return OrderAck{}, fmt.Errorf("new order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderAck{}, fmt.Errorf("new order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return OrderAck{ExtOrderID: result.OrderID, Status: result.Status}, nil
}

// CancelOrder cancels a single order by its client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, extOrderID string) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel order", "symbol", symbol, "ext_order_id", extOrderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{
		"symbol":            {symbol},
		"origClientOrderId": {extOrderID},
	}
	signed := c.auth.Sign(params)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.auth.APIKey()).
		SetBody(signed).
		Delete("/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CreateListenKey opens a new user-data-stream listen key. The returned key
// identifies the private WebSocket feed and must be kept alive with
// RenewListenKey roughly every 30 minutes.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.auth.APIKey()).
		SetResult(&result).
		Post("/userDataStream")
	if err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("create listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ListenKey, nil
}

// RenewListenKey extends the expiry of an existing listen key.
func (c *Client) RenewListenKey(ctx context.Context, key string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.auth.APIKey()).
		SetQueryParam("listenKey", key).
		Put("/userDataStream")
	if err != nil {
		return fmt.Errorf("renew listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("renew listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
