package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

var ErrEmbeddingFailed = errors.New("embedding failed")

// Provider generates fixed-dimension vectors for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HTTPProvider calls an Ollama-compatible embedding endpoint.
type HTTPProvider struct {
	baseURL string
	model   string
	dim     int
	httpc   *http.Client
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewHTTPProvider(baseURL, model string, dim int) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) Dimension() int { return p.dim }

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrEmbeddingFailed, err)
	}

	url := fmt.Sprintf("%s/api/embeddings", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: provider status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var wire embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbeddingFailed, err)
	}
	if len(wire.Embedding) == 0 {
		return nil, fmt.Errorf("%w: provider returned empty embedding", ErrEmbeddingFailed)
	}

	return wire.Embedding, nil
}

// Embedder wraps a provider with the deterministic fallback: a provider
// failure or empty input degrades to a tagged fallback vector instead of
// failing the write path, so the entry can be found and backfilled later.
type Embedder struct {
	provider Provider
	dim      int
}

func NewEmbedder(provider Provider, dim int) *Embedder {
	return &Embedder{provider: provider, dim: dim}
}

func (e *Embedder) Dimension() int { return e.dim }

// Embed returns a vector and whether it is a fallback.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, bool) {
	if text == "" || e.provider == nil {
		return FallbackVector(text, e.dim), true
	}
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		log.Printf("embedding: provider failed, using fallback vector: %v", err)
		return FallbackVector(text, e.dim), true
	}
	return vec, false
}

// FallbackVector derives a normalized vector from the text alone. The same
// text always produces the same vector.
func FallbackVector(text string, dim int) []float32 {
	// FNV-1a seed, then a splitmix-style sequence per dimension.
	var seed uint64 = 14695981039346656037
	for i := 0; i < len(text); i++ {
		seed ^= uint64(text[i])
		seed *= 1099511628211
	}

	v := make([]float32, dim)
	x := seed
	for i := range v {
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		v[i] = float32(int64(z%2001)-1000) / 1000
	}
	return Normalize(v)
}
