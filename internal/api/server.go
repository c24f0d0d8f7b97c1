package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voltguard/internal/alerts"
	"voltguard/internal/analytics"
	"voltguard/internal/config"
	"voltguard/internal/devices"
	"voltguard/internal/dispatch"
	"voltguard/internal/engine"
	"voltguard/internal/market"
	"voltguard/internal/model"
	"voltguard/internal/optimizer"
	"voltguard/internal/rules"
	"voltguard/internal/storage"
)

type Server struct {
	cfg        *config.Manager
	engine     *engine.Engine
	rules      *rules.Store
	provider   market.Provider
	controller devices.Controller
	dispatcher *dispatch.Dispatcher
	alerts     *alerts.Store
	logStore   *analytics.LogStore
	store      storage.Store
	logger     *slog.Logger
	version    string
}

type Deps struct {
	Config     *config.Manager
	Engine     *engine.Engine
	Rules      *rules.Store
	Provider   market.Provider
	Controller devices.Controller
	Dispatcher *dispatch.Dispatcher
	Alerts     *alerts.Store
	Logs       *analytics.LogStore
	Store      storage.Store
	Logger     *slog.Logger
	Version    string
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	current := deps.Config.Get().API
	if !current.Enabled {
		if deps.Logger != nil {
			deps.Logger.Info("api disabled")
		}
		return nil
	}
	if deps.Logger != nil {
		deps.Logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:        deps.Config,
		engine:     deps.Engine,
		rules:      deps.Rules,
		provider:   deps.Provider,
		controller: deps.Controller,
		dispatcher: deps.Dispatcher,
		alerts:     deps.Alerts,
		logStore:   deps.Logs,
		store:      deps.Store,
		logger:     deps.Logger,
		version:    deps.Version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/evaluate", server.handleEvaluate)
	mux.HandleFunc("/execute", server.handleExecute)
	mux.HandleFunc("/rules", server.handleRules)
	mux.HandleFunc("/rules/", server.handleRuleByID)
	mux.HandleFunc("/analytics", server.handleAnalytics)
	mux.HandleFunc("/optimize", server.handleOptimize)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/decisions", server.handleDecisions)
	mux.HandleFunc("/admin/clear", server.handleClear)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if deps.Logger != nil {
				deps.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"time":          time.Now().UTC().Format(time.RFC3339Nano),
		"version":       s.version,
		"config_path":   s.cfg.Path(),
		"market_source": cfg.Market.Source,
		"storage":       cfg.Storage.Enabled,
		"rules":         len(s.rules.List()),
		"active_rules":  len(s.rules.ListActive()),
	})
}

// handleEvaluate runs one evaluation cycle. Missing market or device
// data degrades to a continue decision with a warning instead of an
// error status, so a loop driver never treats a bad cycle as fatal.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	decision, warning := s.evaluateOnce(r.Context())
	resp := map[string]any{"decision": decision}
	if warning != "" {
		resp["warning"] = warning
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) evaluateOnce(ctx context.Context) (model.Decision, string) {
	cfg := s.cfg.Get()
	snapshot, err := s.provider.GetSnapshot(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("evaluation degraded: snapshot unavailable", "err", err)
		}
		return engine.FailSafe("Market data unavailable, holding current state"), err.Error()
	}
	warning := ""
	fleet, err := s.controller.GetDevices(ctx)
	if err != nil {
		// Evaluate on prices alone: savings estimates and resume
		// detection need device data, curtailment thresholds do not.
		if s.logger != nil {
			s.logger.Warn("evaluation degraded: device status unavailable", "err", err)
		}
		warning = err.Error()
		fleet = nil
	}
	decision := s.engine.Evaluate(snapshot, s.rules.ListActive(), fleet)
	if cfg.Evaluator.PersistDecisions && s.store != nil {
		if err := s.store.SaveDecision(ctx, decision); err != nil && s.logger != nil {
			s.logger.Warn("decision persist failed", "err", err)
		}
	}
	return decision, warning
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var decision model.Decision
	if err := json.Unmarshal(body, &decision); err != nil {
		writeError(w, http.StatusBadRequest, "invalid decision payload")
		return
	}
	switch decision.Action {
	case model.DecisionContinue, model.DecisionPrepareShutdown, model.DecisionShutdown, model.DecisionResume:
	default:
		writeError(w, http.StatusBadRequest, "unknown decision type")
		return
	}
	result, err := s.dispatcher.Execute(r.Context(), decision)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"rules": s.rules.List()})
	case http.MethodPost:
		in, ok := decodeRuleInput(w, r)
		if !ok {
			return
		}
		rule, err := s.rules.Create(r.Context(), in)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/rules/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rule, ok := s.rules.Get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodPut:
		in, ok := decodeRuleInput(w, r)
		if !ok {
			return
		}
		rule, err := s.rules.Update(r.Context(), id, in)
		if err != nil {
			if errors.Is(err, rules.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodDelete:
		if err := s.rules.Delete(r.Context(), id); err != nil {
			if errors.Is(err, rules.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	periodDays := 7
	if v := r.URL.Query().Get("period_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "period_days must be a positive integer")
			return
		}
		periodDays = n
	}
	since := time.Now().UTC().AddDate(0, 0, -periodDays)
	entries := s.windowEntries(r.Context(), since)
	report := analytics.BuildReport(entries, s.alerts.Active(), periodDays, 50)
	writeJSON(w, http.StatusOK, report)
}

// windowEntries prefers persisted history and falls back to the
// in-memory ring buffer when storage is off.
func (s *Server) windowEntries(ctx context.Context, since time.Time) []model.AutomationLogEntry {
	if s.store != nil {
		entries, err := s.store.LogsSince(ctx, since)
		if err == nil {
			return entries
		}
		if s.logger != nil {
			s.logger.Warn("automation log query failed, using in-memory window", "err", err)
		}
	}
	if s.logStore != nil {
		return s.logStore.Since(since)
	}
	return nil
}

type optimizeRequest struct {
	PriceForecast []float64            `json:"price_forecast"`
	Params        model.OptimizeParams `json:"params"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req optimizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid optimize payload")
		return
	}
	result, err := optimizer.Optimize(req.PriceForecast, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Alert
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.alertsSince(r.Context(), ts)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// alertsSince prefers persisted history and falls back to the
// in-memory ring buffer when storage is off.
func (s *Server) alertsSince(ctx context.Context, ts time.Time) []model.Alert {
	if s.store != nil {
		list, err := s.store.AlertsSince(ctx, ts)
		if err == nil {
			return list
		}
		if s.logger != nil {
			s.logger.Warn("alert query failed, using in-memory window", "err", err)
		}
	}
	if s.alerts != nil {
		return s.alerts.Since(ts)
	}
	return nil
}

// handleDecisions serves the persisted decision history. Without a
// backing store the history is empty, not an error.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = ts
	}
	list := []model.Decision{}
	if s.store != nil {
		decisions, err := s.store.DecisionsSince(r.Context(), since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		list = decisions
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": list,
		"count":     len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.alerts != nil {
			s.alerts.Clear()
		}
		if s.logStore != nil {
			s.logStore.Clear()
		}
		if s.engine != nil {
			s.engine.Reset()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "logs":
		if s.logStore != nil {
			s.logStore.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func decodeRuleInput(w http.ResponseWriter, r *http.Request) (rules.Input, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return rules.Input{}, false
	}
	var in rules.Input
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule payload")
		return rules.Input{}, false
	}
	return in, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
