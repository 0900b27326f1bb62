package gatewayapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/knowara/ai-gateway/internal/auth"
	"github.com/knowara/ai-gateway/internal/catalog"
	"github.com/knowara/ai-gateway/internal/embedding"
	"github.com/knowara/ai-gateway/internal/inference"
	"github.com/knowara/ai-gateway/internal/jobs"
	"github.com/knowara/ai-gateway/internal/ledger"
	"github.com/knowara/ai-gateway/internal/orchestrator"
	"github.com/knowara/ai-gateway/internal/tenant"
	"github.com/knowara/ai-gateway/internal/usage"
)

// Orchestrator is the request-cycle boundary the handler depends on.
type Orchestrator interface {
	ProcessRequest(ctx context.Context, task catalog.TaskDescriptor) (*orchestrator.AIResponse, error)
}

// BudgetReader exposes a tenant's ledger snapshot.
type BudgetReader interface {
	Snapshot(ctx context.Context, tenantID string) (ledger.Stats, error)
}

type Handler struct {
	orch       Orchestrator
	budgets    BudgetReader
	usage      usage.Store
	dispatcher *jobs.Dispatcher
	embedder   *embedding.Embedder
	vectors    *embedding.Store
	tracer     trace.Tracer
}

func NewHandler(orch Orchestrator, budgets BudgetReader, usageStore usage.Store, dispatcher *jobs.Dispatcher, embedder *embedding.Embedder, vectors *embedding.Store, tracer trace.Tracer) *Handler {
	return &Handler{
		orch:       orch,
		budgets:    budgets,
		usage:      usageStore,
		dispatcher: dispatcher,
		embedder:   embedder,
		vectors:    vectors,
		tracer:     tracer,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type processRequest struct {
	TaskType           string `json:"task_type"`
	Prompt             string `json:"prompt"`
	Context            string `json:"context,omitempty"`
	Complexity         int    `json:"complexity,omitempty"`
	Urgency            string `json:"urgency,omitempty"`
	Accuracy           string `json:"accuracy,omitempty"`
	ContextTokens      int    `json:"context_tokens,omitempty"`
	BudgetCeilingCents int    `json:"budget_ceiling_cents,omitempty"`
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx, span := h.tracer.Start(ctx, "gatewayapi.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("task_type", req.TaskType),
	)

	task := catalog.TaskDescriptor{
		Type:               catalog.TaskType(req.TaskType),
		Prompt:             req.Prompt,
		Context:            req.Context,
		Complexity:         req.Complexity,
		Urgency:            catalog.Urgency(req.Urgency),
		Accuracy:           catalog.Accuracy(req.Accuracy),
		ContextTokens:      req.ContextTokens,
		BudgetCeilingCents: req.BudgetCeilingCents,
		RequestID:          auth.GetRequestID(ctx),
		TenantID:           tenantID,
		UserID:             auth.GetUserID(ctx),
		ProjectID:          auth.GetProjectID(ctx),
	}
	if task.ContextTokens == 0 {
		task.ContextTokens = catalog.EstimateTokens(req.Prompt + req.Context)
	}

	resp, err := h.orch.ProcessRequest(ctx, task)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeTaxonomyError maps the error taxonomy onto HTTP statuses. Raw
// transport errors never reach the caller.
func (h *Handler) writeTaxonomyError(w http.ResponseWriter, err error) {
	var bex *ledger.BudgetExceededError
	switch {
	case errors.As(err, &bex):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": bex.Reason,
			"stats": bex.Stats,
		})
	case errors.Is(err, catalog.ErrNoEligibleModel):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tenant.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inference.ErrInferenceFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	recs, err := h.usage.ListByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalCost, err := h.usage.TotalCostByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":        tenantID,
		"total_requests":   len(recs),
		"total_cost_cents": totalCost,
		"records":          recs,
		"from":             from,
		"to":               to,
	})
}

func (h *Handler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.budgets.Snapshot(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type enqueueRequest struct {
	Type        string                `json:"type"`
	EntryID     string                `json:"entry_id,omitempty"`
	Text        string                `json:"text,omitempty"`
	Items       []jobs.SummaryPayload `json:"items,omitempty"`
	Priority    int                   `json:"priority,omitempty"`
	DelayMs     int64                 `json:"delay_ms,omitempty"`
	MaxAttempts int                   `json:"max_attempts,omitempty"`
}

func (h *Handler) HandleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := &jobs.EnqueueOptions{
		Priority:    req.Priority,
		Delay:       time.Duration(req.DelayMs) * time.Millisecond,
		MaxAttempts: req.MaxAttempts,
	}

	var payload any
	jobType := jobs.Type(req.Type)
	switch jobType {
	case jobs.TypeEmbedding:
		if req.EntryID == "" {
			writeError(w, http.StatusBadRequest, "entry_id is required")
			return
		}
		payload = jobs.EmbeddingPayload{EntryID: req.EntryID, Text: req.Text}
	case jobs.TypeSummary:
		if req.EntryID == "" {
			writeError(w, http.StatusBadRequest, "entry_id is required")
			return
		}
		payload = jobs.SummaryPayload{
			EntryID:   req.EntryID,
			Text:      req.Text,
			TenantID:  tenantID,
			UserID:    auth.GetUserID(ctx),
			ProjectID: auth.GetProjectID(ctx),
		}
	case jobs.TypeBatchSummary:
		if len(req.Items) == 0 {
			writeError(w, http.StatusBadRequest, "items are required")
			return
		}
		// Attribution comes from the authenticated key, not the payload.
		for i := range req.Items {
			req.Items[i].TenantID = tenantID
		}
		payload = jobs.BatchSummaryPayload{Items: req.Items}
	default:
		writeError(w, http.StatusBadRequest, "unknown job type")
		return
	}

	jobID, err := h.dispatcher.Enqueue(ctx, jobType, payload, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *Handler) HandleJobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.dispatcher.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type searchRequest struct {
	Text          string    `json:"text,omitempty"`
	Vector        []float32 `json:"vector,omitempty"`
	CandidateIDs  []string  `json:"candidate_ids,omitempty"`
	TopK          int       `json:"top_k,omitempty"`
	MinSimilarity *float64  `json:"min_similarity,omitempty"`
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetTenantID(ctx) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	query := req.Vector
	if len(query) == 0 {
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text or vector is required")
			return
		}
		query, _ = h.embedder.Embed(ctx, req.Text)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	minSim := 0.7
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}

	candidates := req.CandidateIDs
	if len(candidates) == 0 {
		candidates = h.vectors.IDs()
	}

	results := h.vectors.Search(query, candidates, topK, minSim)
	if results == nil {
		results = []embedding.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
