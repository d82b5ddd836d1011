// Package askj is a client for the ASKJIMMY agent service: wallet login,
// hosted agent simulation, performance monitoring and vault assignment.
package askj

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/metrics"
	"github.com/phenomenon0/perp-agents/pkg/solana"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the ASKJIMMY API base URL
	DefaultBaseURL = "https://api.askjimmy.xyz"

	defaultRateLimit = 10.0 // requests per second
	defaultBurst     = 5
)

// ErrNoKey is returned by authenticated calls on a client built without a key.
var ErrNoKey = errors.New("askj: no signing key configured")

// Client is an ASKJIMMY API client. Authenticated calls log in on demand and
// reuse the bearer token until it expires.
type Client struct {
	baseURL    string
	key        *solana.Keypair
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	metrics    *metrics.ExecutionMetrics

	mu      sync.Mutex
	token   string
	expires time.Time
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithKey sets the wallet used to sign the login challenge.
func WithKey(key *solana.Keypair) ClientOption {
	return func(c *Client) {
		c.key = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records every request's method and status.
func WithMetrics(m *metrics.ExecutionMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClock replaces time.Now for token expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new ASKJIMMY client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// --- Auth ---

// Login signs the service's sample message with the client key and stores
// the returned bearer token.
func (c *Client) Login(ctx context.Context) error {
	if c.key == nil {
		return ErrNoKey
	}
	pub := c.key.PublicKey().String()

	params := url.Values{}
	params.Set("public_key", pub)

	var sample sampleMessage
	if err := c.get(ctx, "/auth/sample-message", params, "", &sample); err != nil {
		return fmt.Errorf("sample message: %w", err)
	}

	body := loginRequest{
		PublicKey: pub,
		Signature: c.key.SignBase58([]byte(sample.Message)),
		Timestamp: sample.Timestamp,
		Nonce:     sample.Nonce,
	}

	var resp loginResponse
	if err := c.send(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("login: empty token in response")
	}

	c.mu.Lock()
	c.token = resp.Token
	c.expires = c.now().Add(time.Duration(resp.ExpiresInSeconds) * time.Second)
	c.mu.Unlock()
	return nil
}

// bearer returns a valid token, logging in when none is held or it expired.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expires := c.token, c.expires
	c.mu.Unlock()

	if token != "" && c.now().Before(expires) {
		return token, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// --- Simulate ---

// PredefinedPlaceholders returns the default prompt placeholders for a new
// agent.
func (c *Client) PredefinedPlaceholders(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.get(ctx, "/simulate/new_agent", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Deploy creates a hosted agent and returns its id.
func (c *Client) Deploy(ctx context.Context, profile *AgentProfile) (string, error) {
	return c.agentMutation(ctx, "/simulate/deploy", profile)
}

// UpdateProfile replaces an agent profile and returns the agent id.
func (c *Client) UpdateProfile(ctx context.Context, agentID string, profile *AgentProfile) (string, error) {
	return c.agentMutation(ctx, "/simulate/update/"+url.PathEscape(agentID), profile)
}

func (c *Client) agentMutation(ctx context.Context, path string, profile *AgentProfile) (string, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return "", err
	}

	var resp struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.send(ctx, http.MethodPost, path, profile, token, &resp); err != nil {
		return "", err
	}
	if resp.AgentID == "" {
		return "", fmt.Errorf("missing agent_id in response")
	}
	return resp.AgentID, nil
}

// Profile fetches an agent owned by the caller.
func (c *Client) Profile(ctx context.Context, agentID string) (*AgentDetail, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var detail AgentDetail
	if err := c.get(ctx, "/simulate/profile/"+url.PathEscape(agentID), nil, token, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// DeleteAgent removes an agent owned by the caller.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodDelete, "/simulate/delete/"+url.PathEscape(agentID), struct{}{}, token, nil)
}

// --- Monitor ---

// ListAgents lists public agents with their metrics.
func (c *Client) ListAgents(ctx context.Context, filter *ListFilter) ([]Agent, error) {
	params := url.Values{}
	if filter != nil {
		if filter.Owner != "" {
			params.Set("owner", filter.Owner)
		}
		if filter.IsBacktestOnly != nil {
			params.Set("is_backtest_only", strconv.FormatBool(*filter.IsBacktestOnly))
		}
	}

	var agents []Agent
	if err := c.get(ctx, "/monitor/list", params, "", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// Performance fetches an agent's trading records and memories. lastK limits
// the records returned when positive.
func (c *Client) Performance(ctx context.Context, agentID string, lastK int) (*Performance, error) {
	params := url.Values{}
	if lastK > 0 {
		params.Set("last_k", strconv.Itoa(lastK))
	}

	var perf Performance
	if err := c.get(ctx, "/monitor/detail/"+url.PathEscape(agentID), params, "", &perf); err != nil {
		return nil, err
	}
	return &perf, nil
}

// LastTrades fetches an agent's most recent trades.
func (c *Client) LastTrades(ctx context.Context, agentID string, filter *LastTradesFilter) (*LastTrades, error) {
	params := url.Values{}
	if filter != nil {
		if filter.LastK != nil {
			params.Set("k", strconv.Itoa(*filter.LastK))
		}
		if filter.Since != nil {
			params.Set("time", strconv.FormatInt(*filter.Since, 10))
		}
		if filter.IsSimulated != nil {
			params.Set("is_simulated", strconv.FormatBool(*filter.IsSimulated))
		}
	}

	var trades LastTrades
	if err := c.get(ctx, "/monitor/last_trades/"+url.PathEscape(agentID), params, "", &trades); err != nil {
		return nil, err
	}
	return &trades, nil
}

// --- Vault ---

// AssignDelegator asks the service for a delegate key for agentID and
// returns its public key.
func (c *Client) AssignDelegator(ctx context.Context, agentID string) (string, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return "", err
	}

	var resp struct {
		DelegatorPublic string `json:"delegator_public"`
	}
	if err := c.get(ctx, "/vault/assign_delegator/"+url.PathEscape(agentID), nil, token, &resp); err != nil {
		return "", err
	}
	if resp.DelegatorPublic == "" {
		return "", fmt.Errorf("missing delegator_public in response")
	}
	return resp.DelegatorPublic, nil
}

// AssignVault links a created vault to agentID.
func (c *Client) AssignVault(ctx context.Context, agentID string, vault *VaultAssignment) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPost, "/vault/assign_vault/"+url.PathEscape(agentID), vault, token, nil)
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, params url.Values, token string, result interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, token, result)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, token string, result interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, method, c.baseURL+path, raw, token, result)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, token string, result interface{}) error {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPIRequest(method, "error")
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest(method, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
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

func parseError(status int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
