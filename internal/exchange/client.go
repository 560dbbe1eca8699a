// Package exchange implements the Polymarket CLOB REST and WebSocket clients.
//
// The REST client (Client) talks to the CLOB API for order management:
//   - PostOrder:    POST   /order               — place one signed order
//   - GetOrder:     GET    /order/{id}          — poll order status and fills
//   - CancelOrder:  DELETE /order/{id}          — cancel one resting order
//   - DeriveAPIKey: GET    /auth/derive-api-key — bootstrap L2 creds from L1 wallet
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and authenticated with L2 HMAC headers.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-taker/internal/config"
	"polymarket-taker/pkg/types"
)

// Client is the Polymarket CLOB REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http      *resty.Client // HTTP client with retry + base URL
	auth      *Auth         // L1/L2 auth provider for request signing
	rl        *RateLimiter  // per-endpoint-category rate limiting
	dryRun    bool          // when true, mutating methods return fake success without HTTP calls
	dryRunSeq atomic.Int64  // order ID sequence for dry-run placements
	logger    *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg *config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
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
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// Auth returns the client's auth provider.
func (c *Client) Auth() *Auth {
	return c.auth
}

// PostOrder places one signed order. The owner field is the L2 API key.
func (c *Client) PostOrder(ctx context.Context, order types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error) {
	if c.dryRun {
		id := fmt.Sprintf("dry-run-%d", c.dryRunSeq.Add(1))
		c.logger.Info("DRY-RUN: would post order",
			"order_id", id,
			"side", order.Side,
			"token", order.TokenID,
			"type", orderType,
		)
		return &types.OrderResponse{OrderID: id, Status: "matched"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload := types.OrderPayload{
		Order:     order,
		Owner:     c.auth.APIKey(),
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.ErrorMsg != "" {
		return nil, fmt.Errorf("post order rejected: %s", result.ErrorMsg)
	}

	return &result, nil
}

// GetOrder fetches the current state of one order, used for fill polling.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error) {
	if c.dryRun {
		// Dry-run orders fill instantly at their full size.
		return &types.OpenOrder{ID: orderID, Status: "matched"}, nil
	}
	if err := c.rl.Status.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/order/" + orderID
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// CancelOrder cancels one resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := "/order/" + orderID
	headers, err := c.auth.L2Headers("DELETE", path, "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order cancelled", "order_id", orderID)
	return nil
}

// CancelOrders cancels each order in turn, collecting the IDs that failed.
// A single failure does not stop the sweep.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) []string {
	var failed []string
	for _, id := range orderIDs {
		if err := c.CancelOrder(ctx, id); err != nil {
			c.logger.Warn("cancel failed", "order_id", id, "error", err)
			failed = append(failed, id)
		}
	}
	return failed
}

// DeriveAPIKey obtains L2 API credentials via L1 authentication. It first
// asks for existing credentials; when the wallet has none it falls back to
// creating a fresh key.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}

	if resp.IsSuccess() {
		c.auth.SetCredentials(result)
		c.logger.Info("API key derived", "api_key", result.ApiKey)
		return &result, nil
	}

	// Wallet has no key yet; create one.
	c.logger.Info("derive failed, creating API key", "status", resp.StatusCode())

	headers, err = c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	result = Credentials{}
	resp, err = c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Post("/auth/api-key")
	if err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("create api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key created", "api_key", result.ApiKey)
	return &result, nil
}
