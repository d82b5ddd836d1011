package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phenomenon0/perp-agents/core"
	"github.com/phenomenon0/perp-agents/internal/config"
	"github.com/phenomenon0/perp-agents/pkg/askj"
	"github.com/phenomenon0/perp-agents/pkg/drift"
	"github.com/phenomenon0/perp-agents/pkg/drift/events"
	"github.com/phenomenon0/perp-agents/pkg/drift/paper"
	"github.com/phenomenon0/perp-agents/pkg/execution"
	"github.com/phenomenon0/perp-agents/pkg/metrics"
	"github.com/phenomenon0/perp-agents/pkg/risk"
	"github.com/phenomenon0/perp-agents/pkg/solana"
	"github.com/phenomenon0/perp-agents/pkg/streaming"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *execution.Engine, *metrics.ExecutionMetrics) {
	t.Helper()

	book := paper.NewExchange()
	book.SetOraclePrice(drift.Perp(0), 150*drift.PricePrecision)

	m := metrics.NewExecutionMetrics()
	guard := risk.NewGuard(risk.Limits{BlockedMarkets: []uint16{3}})
	dial := func(ctx context.Context) (execution.Exchange, error) { return book, nil }
	engine := execution.NewEngine(dial, execution.NewTrackers(),
		execution.WithRetryPolicy(execution.RetryPolicy{MaxAttempts: 1}),
		execution.WithGuard(guard),
		execution.WithMetrics(m),
		execution.WithSleep(func(ctx context.Context, d time.Duration) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})

	registry := newRegistry(&config.Config{}, engine, askj.NewClient(askj.WithBaseURL("http://127.0.0.1:1")),
		solana.NewRPCClient("http://127.0.0.1:1"), m)
	mux := newMux(registry, engine, streaming.NewHub(zap.NewNop()), guard, m, zap.NewNop())

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, engine, m
}

func TestListTools(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()

	var defs []core.ToolDefinition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&defs))
	assert.Len(t, defs, 16)
	assert.Equal(t, "askj_agent_performance", defs[0].Name)
}

func TestCallTool(t *testing.T) {
	server, _, m := newTestServer(t)

	resp, err := http.Post(server.URL+"/tools/drift_info", "application/json", strings.NewReader(`{"market_index":0}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res struct {
		Status string `json:"status"`
		Output struct {
			Name string `json:"name"`
		} `json:"output"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, core.ToolComplete, res.Status)
	assert.Equal(t, "SOL-PERP", res.Output.Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("drift_info", core.ToolComplete)))
}

func TestCallToolErrors(t *testing.T) {
	server, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown tool", "/tools/nope", `{}`, http.StatusNotFound},
		{"bad json", "/tools/drift_info", `{`, http.StatusBadRequest},
		{"tool failure", "/tools/drift_info", `{"market_index":40}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRunsEndpoints(t *testing.T) {
	server, engine, _ := newTestServer(t)

	start, err := engine.StartTWAP(context.Background(), []execution.TWAPRequest{
		{MarketIndex: 0, TotalAmount: 4, DurationSecs: 20, IntervalSecs: 5},
	})
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/runs")
	require.NoError(t, err)
	var runs []execution.RunSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	resp.Body.Close()
	require.Len(t, runs, 1)
	assert.Equal(t, start.Run.ID, runs[0].ID)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/runs/"+start.Run.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodDelete, server.URL+"/runs/missing", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRiskGuardBlocksTool(t *testing.T) {
	server, _, _ := newTestServer(t)

	body := `{"orders":[{"market_index":3,"amount":"1"}]}`
	resp, err := http.Post(server.URL+"/tools/drift_place_perp_orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var res core.ToolExecResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, res.Error, "risk limit exceeded")

	resp, err = http.Get(server.URL + "/risk")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status risk.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, []uint16{3}, status.Limits.BlockedMarkets)
	assert.Equal(t, 0, status.DailyOrders)
}

func TestRelayGatewayEvents(t *testing.T) {
	m := metrics.NewExecutionMetrics()
	hub := streaming.NewHub(zap.NewNop())

	for _, raw := range []string{
		`{"data":{"fill":{"side":"buy","amount":"1","price":"150","marketIndex":0,"marketType":"perp"}},"channel":"fills","subAccountId":0}`,
		`{"data":{"orderCreate":{}},"channel":"orders","subAccountId":0}`,
		`{"data":{"fill":{"amount":"x"}},"channel":"fills","subAccountId":0}`,
	} {
		e, ok, err := events.Parse([]byte(raw))
		require.NoError(t, err)
		require.True(t, ok)
		relayEvent(hub, m, zap.NewNop(), e)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GatewayEvents.WithLabelValues(events.TypeFill)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayEvents.WithLabelValues(events.TypeOrderCreate)))
}
