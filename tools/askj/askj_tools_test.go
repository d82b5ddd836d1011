package askj

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phenomenon0/perp-agents/core"
	api "github.com/phenomenon0/perp-agents/pkg/askj"
	"github.com/phenomenon0/perp-agents/pkg/solana"
)

func newRegistry(t *testing.T, handler http.HandlerFunc) *core.ToolRegistry {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	registry := core.NewToolRegistry()
	RegisterTools(registry, api.NewClient(api.WithBaseURL(server.URL)))
	return registry
}

func TestListAgentsTool(t *testing.T) {
	registry := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("owner") != "Own3r" {
			t.Errorf("Wrong owner: got %s", r.URL.Query().Get("owner"))
		}
		w.Write([]byte(`[
			{"id":"a1","agent_profile":{"agent_name":"one","symbol":"SOL"},"status":{"status":"running"},"owner":"Own3r","created_at":"","updated_at":"","performance_simulate":{"ret":0.2}},
			{"id":"a2","agent_profile":{"agent_name":"two"},"vault":{"vault_address":"V4ult"},"status":{"status":"stopped"},"owner":"Own3r","created_at":"","updated_at":"","performance_simulate":{"ret":0.1},"performance_vault":{"ret":0.3}}
		]`))
	})

	res := registry.Execute(context.Background(), "askj_list_agents", json.RawMessage(`{"owner":"Own3r"}`))
	if res.Status != core.ToolComplete {
		t.Fatalf("Wrong status: got %s (%s)", res.Status, res.Error)
	}

	out := res.Output.(ListAgentsOutput)
	if out.Count != 2 {
		t.Fatalf("Expected 2 agents, got %d", out.Count)
	}
	if out.Agents[0].Name != "one" || out.Agents[0].Symbol != "SOL" {
		t.Errorf("Wrong first agent: %+v", out.Agents[0])
	}
	if out.Agents[1].Vault != "V4ult" {
		t.Errorf("Wrong vault: got %s", out.Agents[1].Vault)
	}
	perf, _ := json.Marshal(out.Agents[1].Performance)
	if string(perf) != `{"ret":0.3}` {
		t.Errorf("Expected vault performance, got %s", perf)
	}
}

func TestListAgentsToolLimit(t *testing.T) {
	registry := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"a1"},{"id":"a2"},{"id":"a3"}]`))
	})

	res := registry.Execute(context.Background(), "askj_list_agents", json.RawMessage(`{"limit":2}`))
	if res.Status != core.ToolComplete {
		t.Fatalf("Wrong status: got %s (%s)", res.Status, res.Error)
	}
	if n := res.Output.(ListAgentsOutput).Count; n != 2 {
		t.Errorf("Expected 2 agents, got %d", n)
	}
}

func TestAgentPerformanceTool(t *testing.T) {
	registry := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/monitor/detail/a1" {
			t.Errorf("Wrong path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"agent_detail":{"agent_profile":{"agent_name":"m"},"status":{"status":"running"},"owner":"o","created_at":"","updated_at":"","trading_simulate":[{"symbol":"SOL","action":"BUY"}],"trading_vault":[]},"memories":[{"reasoning":"trend"}]}`))
	})

	res := registry.Execute(context.Background(), "askj_agent_performance", json.RawMessage(`{"agent_id":"a1","last_k":3}`))
	if res.Status != core.ToolComplete {
		t.Fatalf("Wrong status: got %s (%s)", res.Status, res.Error)
	}

	perf := res.Output.(*api.Performance)
	if len(perf.Agent.TradingSimulate) != 1 || perf.Memories[0].Reasoning != "trend" {
		t.Errorf("Wrong performance: %+v", perf)
	}
}

func TestAgentIDRequired(t *testing.T) {
	registry := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Unexpected request to %s", r.URL.Path)
	})

	for _, name := range []string{"askj_agent_performance", "askj_last_trades", "askj_agent_profile"} {
		res := registry.Execute(context.Background(), name, json.RawMessage(`{}`))
		if res.Status != core.ToolFailed {
			t.Errorf("%s: expected failure, got %s", name, res.Status)
		}
	}
}

func TestLastTradesTool(t *testing.T) {
	registry := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("k") != "2" || q.Get("is_simulated") != "false" || q.Has("time") {
			t.Errorf("Wrong query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"trades":[{"symbol":"SOL","action":"SELL"}],"memories":[]}`))
	})

	res := registry.Execute(context.Background(), "askj_last_trades", json.RawMessage(`{"agent_id":"a1","k":2,"is_simulated":false}`))
	if res.Status != core.ToolComplete {
		t.Fatalf("Wrong status: got %s (%s)", res.Status, res.Error)
	}
	if trades := res.Output.(*api.LastTrades); trades.Trades[0].Action != "SELL" {
		t.Errorf("Wrong trades: %+v", trades.Trades)
	}
}

func TestServiceError(t *testing.T) {
	registry := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"agent not found"}`))
	})

	res := registry.Execute(context.Background(), "askj_last_trades", json.RawMessage(`{"agent_id":"zz"}`))
	if res.Status != core.ToolFailed {
		t.Fatalf("Expected failure, got %s", res.Status)
	}
	if res.Error != "last trades failed: askj error 404: agent not found" {
		t.Errorf("Wrong error: %s", res.Error)
	}
}

func TestAgentProfileTool(t *testing.T) {
	key, err := solana.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/sample-message":
			w.Write([]byte(`{"timestamp":1,"message":"sign in","publicKey":"` + key.PublicKey().String() + `","nonce":7}`))
		case "/auth/login":
			w.Write([]byte(`{"token":"tok","expiresInSeconds":3600}`))
		case "/simulate/profile/a1":
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("Wrong authorization: %s", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{"agent_profile":{"agent_name":"mine"},"status":{"status":"stopped"},"secret":{"alphavantage_api_key":"k-123"}}`))
		default:
			t.Errorf("Unexpected request to %s", r.URL.Path)
		}
	}))
	defer server.Close()

	registry := core.NewToolRegistry()
	RegisterTools(registry, api.NewClient(api.WithBaseURL(server.URL), api.WithKey(key)))

	res := registry.Execute(context.Background(), "askj_agent_profile", json.RawMessage(`{"agent_id":"a1"}`))
	if res.Status != core.ToolComplete {
		t.Fatalf("Wrong status: got %s (%s)", res.Status, res.Error)
	}
	detail := res.Output.(*api.AgentDetail)
	if detail.Profile.AgentName != "mine" || detail.Status.Status != "stopped" {
		t.Errorf("Wrong detail: %+v", detail)
	}
	if detail.Secret != nil {
		t.Errorf("Secret leaked into tool output")
	}
}

func TestAgentProfileToolWithoutKey(t *testing.T) {
	registry := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Unexpected request to %s", r.URL.Path)
	})

	res := registry.Execute(context.Background(), "askj_agent_profile", json.RawMessage(`{"agent_id":"a1"}`))
	if res.Status != core.ToolFailed || !strings.Contains(res.Error, "agent profile failed") {
		t.Errorf("Expected key failure, got %+v", res)
	}
}
