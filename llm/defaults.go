package llm

import "context"

// defaultsProvider fills request fields left at their zero value with
// configured defaults before delegating.
type defaultsProvider struct {
	inner       Provider
	maxTokens   int
	temperature float64
}

// WithDefaults wraps a Provider so requests that leave MaxTokens or
// Temperature unset inherit the given values. Explicit per-request values
// always win.
func WithDefaults(p Provider, maxTokens int, temperature float64) Provider {
	return &defaultsProvider{inner: p, maxTokens: maxTokens, temperature: temperature}
}

func (d *defaultsProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = d.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = d.temperature
	}
	return d.inner.Generate(ctx, req)
}

func (d *defaultsProvider) ModelID() string {
	return d.inner.ModelID()
}
