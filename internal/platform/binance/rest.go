// Package binance implements the spot exchange REST and websocket clients.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptoquant/internal/crypto"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

const (
	// MainnetREST is the production REST root.
	MainnetREST = "https://api.binance.com"
	// TestnetREST is the spot testnet REST root.
	TestnetREST = "https://testnet.binance.vision"

	// DefaultTimeout bounds every REST call.
	DefaultTimeout = 10 * time.Second

	// DepthLimit is the number of levels requested per side.
	DepthLimit = 20

	maxResponseBytes = 4 << 20
)

// Client is the REST client for the spot exchange. Public endpoints work
// without credentials; signed endpoints require SetCredentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu   sync.RWMutex
	auth *crypto.HMACAuth
}

// NewClient creates a REST client rooted at baseURL. A non-positive timeout
// selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// SetCredentials installs the API key/secret used for signed requests.
func (c *Client) SetCredentials(auth *crypto.HMACAuth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = auth
}

// HasCredentials reports whether signed requests can be made.
func (c *Client) HasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth.Valid()
}

// Depth fetches the top DepthLimit levels for sym. The snapshot is stamped
// with the local clock since the endpoint carries no event time.
func (c *Client) Depth(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error) {
	q := (&params{}).
		add("symbol", sym.Exchange()).
		add("limit", strconv.Itoa(DepthLimit))

	body, err := c.doPublicRequest(ctx, "/api/v3/depth", q.encode())
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: depth %s: %w", sym, err)
	}

	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: decode depth %s: %w: %v", sym, domain.ErrProtocol, err)
	}
	book, err := resp.toBook(sym, uint64(c.now().UnixMilli()))
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: depth %s: %w", sym, err)
	}
	return book, nil
}

// Account fetches balances via the signed account endpoint.
func (c *Client) Account(ctx context.Context) (domain.Account, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v3/account", &params{})
	if err != nil {
		return domain.Account{}, fmt.Errorf("binance: account: %w", err)
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Account{}, fmt.Errorf("binance: decode account: %w: %v", domain.ErrProtocol, err)
	}
	return resp.toDomain()
}

// PlaceOrder submits a LIMIT GTC order when req.Price > 0, otherwise a
// MARKET order. Quantities and prices are rendered with 8 decimals.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.ExchangeOrder, error) {
	q := (&params{}).
		add("symbol", req.Symbol.Exchange()).
		add("side", req.Side.String()).
		add("type", string(req.Type())).
		add("quantity", formatAmount(req.Quantity))
	if req.Type() == domain.OrderTypeLimit {
		q.add("timeInForce", "GTC").add("price", formatAmount(req.Price))
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/api/v3/order", q)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("binance: place order %s: %w", req.Symbol, err)
	}
	return decodeOrder(body, req.Symbol)
}

// CancelOrder cancels order id on sym.
func (c *Client) CancelOrder(ctx context.Context, sym domain.Symbol, id uint64) (domain.ExchangeOrder, error) {
	q := (&params{}).
		add("symbol", sym.Exchange()).
		add("orderId", strconv.FormatUint(id, 10))

	body, err := c.doSignedRequest(ctx, http.MethodDelete, "/api/v3/order", q)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("binance: cancel order %d: %w", id, err)
	}
	return decodeOrder(body, sym)
}

// QueryOrder fetches the exchange view of order id on sym.
func (c *Client) QueryOrder(ctx context.Context, sym domain.Symbol, id uint64) (domain.ExchangeOrder, error) {
	q := (&params{}).
		add("symbol", sym.Exchange()).
		add("orderId", strconv.FormatUint(id, 10))

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v3/order", q)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("binance: query order %d: %w", id, err)
	}
	return decodeOrder(body, sym)
}

func decodeOrder(body []byte, sym domain.Symbol) (domain.ExchangeOrder, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("binance: decode order: %w: %v", domain.ErrProtocol, err)
	}
	return resp.toDomain(sym)
}

func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doPublicRequest(ctx context.Context, path, query string) ([]byte, error) {
	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// doSignedRequest appends timestamp and signature to the query and sends it
// with the API key header. The query travels in the URL for every method.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, q *params) ([]byte, error) {
	c.mu.RLock()
	auth := c.auth
	c.mu.RUnlock()
	if !auth.Valid() {
		return nil, fmt.Errorf("%w: missing api key or secret", domain.ErrAuth)
	}

	signed := auth.SignQueryAt(q.encode(), c.now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+signed, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range auth.Headers() {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrConnectivity, err)
	}
	if err := checkResponse(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkResponse maps non-2xx responses to an *APIError, which unwraps to
// the matching domain error.
func checkResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	apiErr := &APIError{HTTPStatus: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
		apiErr.Msg = string(body)
		if len(apiErr.Msg) > 256 {
			apiErr.Msg = apiErr.Msg[:256]
		}
	}
	return apiErr
}
