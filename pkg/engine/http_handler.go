package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// Handler exposes the engine over HTTP for evaluation and rule testing.
// It serves the dry-run API used by UIs and scripts; the live enforcement
// path calls the Engine directly.
type Handler struct {
	engine  *Engine
	rules   RuleSetSource
	tags    domain.TagRegistry
	logger  *slog.Logger
	metrics *Metrics
}

// RuleSetSource supplies the current rule set. Implementations are expected
// to be safe for concurrent use; the config package's watcher satisfies this.
type RuleSetSource interface {
	Current() *domain.RuleSet
}

// HandlerConfig holds configuration for creating a Handler.
type HandlerConfig struct {
	Engine  *Engine
	Rules   RuleSetSource
	Tags    domain.TagRegistry
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewHandler constructs the HTTP surface around an engine.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Engine == nil {
		panic("engine: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:  cfg.Engine,
		rules:   cfg.Rules,
		tags:    cfg.Tags,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Routes registers the handler's endpoints on a mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/evaluate", h.handleEvaluate)
	mux.HandleFunc("/api/rules/test", h.handleTestRule)
	mux.HandleFunc("/api/tags", h.handleTags)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
}

type evaluateRequest struct {
	Flow      *domain.Flow      `json:"flow"`
	Direction domain.Direction  `json:"direction"`
	RuleSet   *domain.RuleSet   `json:"rule_set,omitempty"`
}

type testRuleRequest struct {
	Flow      *domain.Flow     `json:"flow"`
	Direction domain.Direction `json:"direction"`
	Rule      *domain.Rule     `json:"rule"`
}

type evaluateResponse struct {
	Matched         bool             `json:"matched"`
	RuleID          string           `json:"rule_id,omitempty"`
	Disposition     string           `json:"disposition"`
	Trace           []string         `json:"trace"`
	Warnings        []string         `json:"warnings,omitempty"`
	BodyModified    bool             `json:"body_modified"`
	HeadersModified bool             `json:"headers_modified"`
	ServedStoreKey  string           `json:"served_store_key,omitempty"`
	Flow            *domain.Flow     `json:"flow"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleEvaluate runs the current (or supplied) rule set against a flow.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "POST required")
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "failed to decode request body")
		return
	}
	if req.Flow == nil {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_FLOW", "flow is required")
		return
	}
	if req.Flow.ID == "" {
		// Ad-hoc flows still get a correlatable ID in traces and logs.
		req.Flow.ID = uuid.NewString()
	}

	ruleSet := req.RuleSet
	if ruleSet == nil && h.rules != nil {
		ruleSet = h.rules.Current()
	}

	result, err := h.engine.TestRuleSet(r.Context(), req.Flow, req.Direction, ruleSet)
	if err != nil {
		h.logger.Error("evaluation request failed", "error", err)
		h.writeError(w, r, http.StatusBadRequest, "EVALUATION_FAILED", err.Error())
		return
	}

	h.writeResult(w, result)
}

// handleTags lists the tags the configured registry knows about. Without a
// registry the endpoint reports an empty list; tagging stays free-form either
// way.
func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "GET required")
		return
	}

	var tags []string
	if h.tags != nil {
		known, err := h.tags.Known(r.Context())
		if err != nil {
			h.logger.Error("tag registry lookup failed", "error", err)
			h.writeError(w, r, http.StatusInternalServerError, "TAGS_UNAVAILABLE", "failed to list tags")
			return
		}
		tags = known
	}
	if tags == nil {
		tags = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string][]string{"tags": tags}); err != nil {
		h.logger.Error("failed to encode tags response", "error", err)
	}
}

// handleTestRule evaluates a single candidate rule against a flow.
func (h *Handler) handleTestRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "POST required")
		return
	}

	var req testRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "failed to decode request body")
		return
	}
	if req.Flow == nil || req.Rule == nil {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_FIELDS", "flow and rule are required")
		return
	}
	if req.Flow.ID == "" {
		req.Flow.ID = uuid.NewString()
	}

	result, err := h.engine.TestRule(r.Context(), req.Flow, req.Direction, req.Rule)
	if err != nil {
		h.logger.Error("rule test request failed", "error", err)
		h.writeError(w, r, http.StatusBadRequest, "EVALUATION_FAILED", err.Error())
		return
	}

	h.writeResult(w, result)
}

func (h *Handler) writeResult(w http.ResponseWriter, result *domain.MatchResult) {
	resp := evaluateResponse{
		Matched:         result.Matched,
		Disposition:     string(result.Disposition),
		Trace:           result.Trace,
		Warnings:        result.Warnings,
		BodyModified:    result.BodyModified,
		HeadersModified: result.HeadersModified,
		ServedStoreKey:  result.ServedStoreKey,
		Flow:            result.Flow,
	}
	if result.Rule != nil {
		resp.RuleID = result.Rule.ID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode evaluation response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	var traceID string
	if span := trace.SpanFromContext(r.Context()); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		}
	}

	errResp := map[string]any{
		"error": map[string]any{
			"message":  message,
			"code":     code,
			"trace_id": traceID,
		},
	}
	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
