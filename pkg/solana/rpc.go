package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRPCURL is the public mainnet JSON-RPC endpoint.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// ErrAccountNotFound is returned when an address holds no account.
var ErrAccountNotFound = errors.New("account not found")

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCClient reads accounts over Solana JSON-RPC.
type RPCClient struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	seq        atomic.Uint64
}

// RPCOption configures the client.
type RPCOption func(*RPCClient)

// WithRPCHTTPClient sets a custom HTTP client.
func WithRPCHTTPClient(client *http.Client) RPCOption {
	return func(c *RPCClient) {
		c.httpClient = client
	}
}

// WithRPCRateLimit overrides the outbound request rate.
func WithRPCRateLimit(perSecond float64, burst int) RPCOption {
	return func(c *RPCClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewRPCClient creates a client for the endpoint at url.
func NewRPCClient(url string, opts ...RPCOption) *RPCClient {
	if url == "" {
		url = DefaultRPCURL
	}
	c := &RPCClient{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// The public endpoint allows about 10 requests per second per IP.
		limiter: rate.NewLimiter(rate.Limit(4), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// AccountData returns the raw data of the account at address.
func (c *RPCClient) AccountData(ctx context.Context, address PublicKey) ([]byte, error) {
	var result struct {
		Value *struct {
			Data  []string `json:"data"`
			Owner string   `json:"owner"`
		} `json:"value"`
	}
	err := c.call(ctx, "getAccountInfo", &result,
		address.String(),
		map[string]string{"encoding": "base64", "commitment": "confirmed"},
	)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if result.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if len(result.Value.Data) != 2 || result.Value.Data[1] != "base64" {
		return nil, fmt.Errorf("get account %s: unexpected data encoding", address)
	}

	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("get account %s: decode data: %w", address, err)
	}
	return data, nil
}

func (c *RPCClient) call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return out.Error
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
