package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/knowara/ai-gateway/internal/catalog"
	"github.com/knowara/ai-gateway/internal/embedding"
	"github.com/knowara/ai-gateway/internal/orchestrator"
)

// Completer runs a full orchestrated request cycle on behalf of a job.
type Completer interface {
	ProcessRequest(ctx context.Context, task catalog.TaskDescriptor) (*orchestrator.AIResponse, error)
}

// SummarySink receives finished summaries for storage alongside the entry.
type SummarySink interface {
	SaveSummary(ctx context.Context, entryID, summary string) error
}

// EmbeddingHandler embeds an entry's text and upserts the vector. A provider
// failure degrades to the tagged fallback vector rather than failing the job,
// so embedding jobs retry only on store-side errors.
type EmbeddingHandler struct {
	embedder *embedding.Embedder
	store    *embedding.Store
}

func NewEmbeddingHandler(embedder *embedding.Embedder, store *embedding.Store) *EmbeddingHandler {
	return &EmbeddingHandler{embedder: embedder, store: store}
}

func (h *EmbeddingHandler) Handle(ctx context.Context, job *Job) error {
	var p EmbeddingPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("bad embedding payload: %w", err)
	}
	if p.EntryID == "" {
		return fmt.Errorf("embedding payload missing entry id")
	}

	vec, fallback := h.embedder.Embed(ctx, p.Text)
	h.store.Upsert(p.EntryID, vec, fallback)
	if fallback {
		log.Printf("jobs: entry %s stored with fallback embedding, needs backfill", p.EntryID)
	}
	return nil
}

// SummaryHandler summarizes one entry through the orchestrator, so the
// tenant's budget admission and settlement apply to async work too.
type SummaryHandler struct {
	completer Completer
	sink      SummarySink
}

func NewSummaryHandler(completer Completer, sink SummarySink) *SummaryHandler {
	return &SummaryHandler{completer: completer, sink: sink}
}

func (h *SummaryHandler) Handle(ctx context.Context, job *Job) error {
	var p SummaryPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("bad summary payload: %w", err)
	}
	return h.summarize(ctx, job.ID, p)
}

func (h *SummaryHandler) summarize(ctx context.Context, jobID string, p SummaryPayload) error {
	if p.EntryID == "" || p.TenantID == "" {
		return fmt.Errorf("summary payload missing entry or tenant id")
	}

	// The request id is stable across retries, so a retried job cannot settle
	// usage twice for the same item.
	resp, err := h.completer.ProcessRequest(ctx, catalog.TaskDescriptor{
		Type:          catalog.TaskQuickSummary,
		Prompt:        fmt.Sprintf("Summarize the following entry in a short paragraph:\n\n%s", p.Text),
		ContextTokens: catalog.EstimateTokens(p.Text),
		Urgency:       catalog.UrgencyBatch,
		Accuracy:      catalog.AccuracyStandard,
		RequestID:     fmt.Sprintf("%s:%s", jobID, p.EntryID),
		TenantID:      p.TenantID,
		UserID:        p.UserID,
		ProjectID:     p.ProjectID,
	})
	if err != nil {
		return err
	}
	return h.sink.SaveSummary(ctx, p.EntryID, resp.Content)
}

// BatchSummaryHandler processes items independently and tolerates partial
// success: the batch only fails (and retries) when every item failed.
type BatchSummaryHandler struct {
	inner *SummaryHandler
}

func NewBatchSummaryHandler(completer Completer, sink SummarySink) *BatchSummaryHandler {
	return &BatchSummaryHandler{inner: NewSummaryHandler(completer, sink)}
}

func (h *BatchSummaryHandler) Handle(ctx context.Context, job *Job) error {
	var p BatchSummaryPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("bad batch payload: %w", err)
	}
	if len(p.Items) == 0 {
		return nil
	}

	var failed int
	var lastErr error
	for _, item := range p.Items {
		if err := h.inner.summarize(ctx, job.ID, item); err != nil {
			failed++
			lastErr = err
			log.Printf("jobs: batch %s item %s failed: %v", job.ID, item.EntryID, err)
		}
	}
	if failed == len(p.Items) {
		return fmt.Errorf("all %d batch items failed, last error: %w", failed, lastErr)
	}
	return nil
}
