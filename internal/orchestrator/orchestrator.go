package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/knowara/ai-gateway/internal/catalog"
	"github.com/knowara/ai-gateway/internal/inference"
	"github.com/knowara/ai-gateway/internal/ledger"
	"github.com/knowara/ai-gateway/internal/usage"
)

// DefaultResponseBuffer is the fixed response allowance added to the prompt
// estimate at admission time.
const DefaultResponseBuffer = 500

type AIResponse struct {
	Content    string            `json:"content"`
	Model      string            `json:"model"`
	TokensUsed int               `json:"tokens_used"`
	CostCents  int64             `json:"cost_cents"`
	LatencyMs  int64             `json:"latency_ms"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Orchestrator composes model selection, budget admission, the provider call
// and settlement into one synchronous request cycle.
type Orchestrator struct {
	catalog        *catalog.Catalog
	limiter        *ledger.Limiter
	client         inference.Client
	breaker        *gobreaker.CircuitBreaker
	tracer         trace.Tracer
	responseBuffer int
}

func New(cat *catalog.Catalog, limiter *ledger.Limiter, client inference.Client, tracer trace.Tracer, responseBuffer int) *Orchestrator {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("ai-gateway/orchestrator")
	}
	if responseBuffer <= 0 {
		responseBuffer = DefaultResponseBuffer
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Orchestrator{
		catalog:        cat,
		limiter:        limiter,
		client:         client,
		breaker:        breaker,
		tracer:         tracer,
		responseBuffer: responseBuffer,
	}
}

// ProcessRequest runs the full cycle: select a model, admit against the
// tenant's budget, call the provider, settle actual usage, respond. Budget
// rejections happen strictly before the provider call, so a rejected request
// incurs zero cost; a failed provider call settles no usage. The selected
// model is fixed for the whole call.
func (o *Orchestrator) ProcessRequest(ctx context.Context, task catalog.TaskDescriptor) (*AIResponse, error) {
	if task.RequestID == "" {
		task.RequestID = uuid.New().String()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.process_request")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", task.TenantID),
		attribute.String("request_id", task.RequestID),
		attribute.String("task_type", string(task.Type)),
	)

	model, err := o.catalog.Select(task)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("model", model.ID))

	estimatedTokens := catalog.EstimateTokens(task.Prompt) + o.responseBuffer
	estimatedCost := catalog.CostForTokens(model, estimatedTokens)

	decision, err := o.limiter.CheckBudget(ctx, task.TenantID, estimatedCost)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &ledger.BudgetExceededError{Reason: decision.Reason, Stats: decision.Stats}
	}

	start := time.Now()
	result, err := o.breaker.Execute(func() (interface{}, error) {
		return o.client.Invoke(ctx, &inference.Request{
			Model:  model.ID,
			Prompt: task.Prompt,
			Sampling: inference.SamplingParams{
				MaxTokens:   model.MaxOutputTokens,
				Temperature: model.Temperature,
				TopP:        model.TopP,
			},
			TenantID:  task.TenantID,
			RequestID: task.RequestID,
		})
	})
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, inference.ErrInferenceFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", inference.ErrInferenceFailed, err)
	}
	resp := result.(*inference.Response)

	// Prefer the provider-reported count; fall back to the estimator.
	actualTokens := resp.TokensUsed
	if actualTokens <= 0 {
		actualTokens = catalog.EstimateTokens(task.Prompt + resp.Text)
	}
	actualCost := catalog.CostForTokens(model, actualTokens)

	if err := o.limiter.RecordUsage(ctx, &usage.Record{
		TenantID:        task.TenantID,
		UserID:          task.UserID,
		ProjectID:       task.ProjectID,
		RequestID:       task.RequestID,
		Model:           model.ID,
		Source:          "completion",
		PromptExcerpt:   usage.Excerpt(task.Prompt),
		ResponseExcerpt: usage.Excerpt(resp.Text),
		TokensUsed:      actualTokens,
		CostCents:       actualCost,
		LatencyMs:       latencyMs,
	}); err != nil {
		return nil, fmt.Errorf("settlement failed: %w", err)
	}

	metadata := map[string]string{"request_id": task.RequestID}
	for k, v := range resp.Metadata {
		metadata[k] = v
	}

	return &AIResponse{
		Content:    resp.Text,
		Model:      model.ID,
		TokensUsed: actualTokens,
		CostCents:  actualCost,
		LatencyMs:  latencyMs,
		Metadata:   metadata,
	}, nil
}
