package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/phenomenon0/perp-agents/core"
	"github.com/phenomenon0/perp-agents/internal/config"
	"github.com/phenomenon0/perp-agents/pkg/execution"
	"github.com/phenomenon0/perp-agents/pkg/metrics"
	"github.com/phenomenon0/perp-agents/pkg/risk"
	"github.com/phenomenon0/perp-agents/pkg/streaming"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxToolInput = 1 << 20

type server struct {
	registry *core.ToolRegistry
	engine   *execution.Engine
	hub      *streaming.Hub
	guard    *risk.Guard
	log      *zap.Logger
	started  time.Time
}

func newMux(registry *core.ToolRegistry, engine *execution.Engine, hub *streaming.Hub,
	guard *risk.Guard, m *metrics.ExecutionMetrics, log *zap.Logger) *http.ServeMux {
	s := &server{
		registry: registry,
		engine:   engine,
		hub:      hub,
		guard:    guard,
		log:      log.Named("http"),
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("POST /tools/{name}", s.handleCallTool)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /runs/{id}", s.handleStopRun)
	mux.HandleFunc("GET /risk", s.handleRisk)
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", hub.ServeWS)
	return mux
}

func runHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return err
			}
			log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("paper", cfg.PaperMode))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	live := 0
	for _, run := range s.engine.Runs() {
		if run.Status == execution.StatusRunning {
			live++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"live_runs":  live,
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Definitions())
}

func (s *server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.registry.Get(name); !ok {
		writeError(w, http.StatusNotFound, core.ErrUnknownTool.Error()+": "+name)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxToolInput))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	res := s.registry.Execute(r.Context(), name, body)
	s.log.Info("tool call", zap.String("tool", name), zap.String("status", res.Status))

	status := http.StatusOK
	if res.Status != core.ToolComplete {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Runs())
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Run(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.StopRun(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
