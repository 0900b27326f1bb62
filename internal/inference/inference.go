package inference

import (
	"context"
	"errors"
)

var ErrInferenceFailed = errors.New("inference failed")

// SamplingParams are forwarded verbatim to the provider.
type SamplingParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

type Request struct {
	Model     string
	Prompt    string
	Sampling  SamplingParams
	TenantID  string
	RequestID string
}

type Response struct {
	Text string
	// TokensUsed is the provider-reported total, zero when the provider does
	// not report usage.
	TokensUsed int
	Metadata   map[string]string
}

// Client is the hosted-provider boundary. Network, auth and rate-limit
// failures must surface as errors wrapping ErrInferenceFailed so callers
// never see raw transport errors.
type Client interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}
