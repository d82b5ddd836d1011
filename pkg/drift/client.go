package drift

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/solana"

	"golang.org/x/time/rate"
)

// Client is a Drift gateway API client bound to one wallet sub-account.
type Client struct {
	baseURL    string
	wallet     *solana.Wallet
	subAccount uint16
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom gateway URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithSubAccount selects the sub-account id.
func WithSubAccount(id uint16) ClientOption {
	return func(c *Client) {
		c.subAccount = id
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit overrides the outbound request rate.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a gateway client that signs requests with wallet.
func NewClient(wallet *solana.Wallet, opts ...ClientOption) (*Client, error) {
	if wallet == nil {
		return nil, fmt.Errorf("wallet required")
	}

	c := &Client{
		baseURL: DefaultGatewayURL,
		wallet:  wallet,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// SubAccount returns the sub-account the client trades.
func (c *Client) SubAccount() solana.SubAccount {
	return solana.SubAccount{Authority: c.wallet.Authority(), ID: c.subAccount}
}

// OraclePrice fetches the current oracle price in PricePrecision.
func (c *Client) OraclePrice(ctx context.Context, market MarketID) (int64, error) {
	params := url.Values{}
	params.Set("marketIndex", strconv.Itoa(int(market.Index)))
	params.Set("marketType", string(market.Kind))

	var result OracleResponse
	if err := c.get(ctx, "/v2/oracle", params, &result); err != nil {
		return 0, fmt.Errorf("oracle price %s: %w", market, err)
	}
	return result.Price, nil
}

// UserAccount fetches a fresh snapshot of the sub-account.
func (c *Client) UserAccount(ctx context.Context) (*UserAccount, error) {
	params := url.Values{}
	params.Set("authority", c.wallet.Authority().String())
	params.Set("subAccountId", strconv.Itoa(int(c.subAccount)))

	var account UserAccount
	if err := c.get(ctx, "/v2/user", params, &account); err != nil {
		return nil, fmt.Errorf("user account: %w", err)
	}
	return &account, nil
}

// PlaceOrders submits orders in a single transaction and returns its signature.
func (c *Client) PlaceOrders(ctx context.Context, orders []OrderParams) (string, error) {
	if len(orders) == 0 {
		return "", fmt.Errorf("no orders")
	}
	for i, o := range orders {
		if err := o.Validate(); err != nil {
			return "", fmt.Errorf("order %d: %w", i, err)
		}
	}

	body, err := json.Marshal(PlaceOrdersRequest{
		SubAccountID: c.subAccount,
		Orders:       orders,
	})
	if err != nil {
		return "", err
	}

	var resp TxResponse
	if err := c.send(ctx, http.MethodPost, "/v2/orders", body, &resp); err != nil {
		return "", err
	}
	return resp.Tx, nil
}

// CancelAllOrders cancels every open order on the sub-account.
func (c *Client) CancelAllOrders(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]uint16{"subAccountId": c.subAccount})
	if err != nil {
		return "", err
	}

	var resp TxResponse
	if err := c.send(ctx, http.MethodDelete, "/v2/orders", body, &resp); err != nil {
		return "", err
	}
	return resp.Tx, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, path, nil, result)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, result interface{}) error {
	return c.do(ctx, method, c.baseURL+path, path, body, result)
}

func (c *Client) do(ctx context.Context, method, u, path string, body []byte, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	for k, v := range c.wallet.SignRequest(timestamp, method, path, body) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return parseError(resp.StatusCode, raw)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// parseError maps an error body to a typed error. The gateway reports
// failures as {"code": n, "reason": "..."}; anything else is kept verbatim.
func parseError(status int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))

	var body struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Reason != "" {
		msg = body.Reason
	}

	if strings.Contains(strings.ToLower(msg), "blockhash not found") {
		return fmt.Errorf("%w: %s", ErrBlockhashNotFound, msg)
	}
	return &APIError{StatusCode: status, Message: msg}
}
