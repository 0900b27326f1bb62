package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type HTTPClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Message wireMessage `json:"message"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func NewHTTPClient(baseURL, apiKey string) Client {
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *HTTPClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(wireRequest{
		Model:       req.Model,
		Messages:    []wireMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.Sampling.MaxTokens,
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInferenceFailed, err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: provider status %d: %s", ErrInferenceFailed, resp.StatusCode, string(respBody))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInferenceFailed, err)
	}

	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("%w: provider returned no choices", ErrInferenceFailed)
	}

	tokens := wire.Usage.TotalTokens
	if tokens == 0 {
		tokens = wire.Usage.PromptTokens + wire.Usage.CompletionTokens
	}

	return &Response{
		Text:       wire.Choices[0].Message.Content,
		TokensUsed: tokens,
		Metadata: map[string]string{
			"provider_response_id": wire.ID,
			"provider_model":       wire.Model,
		},
	}, nil
}
