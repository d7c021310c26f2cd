// Package embedding turns candidate and job text into vectors. It holds the
// provider backends, the validating Embedder wrapper, the queue worker that
// keeps stored vectors fresh, and the bulk backfill.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/jobmatch/internal/recruit"
)

// Provider computes one embedding for one text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is the outcome of one Compute call. Exactly one of Vector and Err is
// set.
type Result struct {
	Vector []float32
	Err    error
}

// OK reports whether the call produced a usable vector.
func (r Result) OK() bool { return r.Err == nil && len(r.Vector) > 0 }

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// Embedder validates provider output and applies the per-call timeout.
type Embedder struct {
	provider Provider
	timeout  time.Duration
}

// NewEmbedder wraps provider. A non-positive timeout uses DefaultTimeout.
func NewEmbedder(provider Provider, timeout time.Duration) *Embedder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Embedder{provider: provider, timeout: timeout}
}

// Compute embeds text. Every failure, including a timeout, comes back in
// Result.Err wrapped with recruit.ErrExternal.
func (e *Embedder) Compute(ctx context.Context, text string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: embedding: %v", recruit.ErrExternal, err)}
	}
	if err := validate(vec); err != nil {
		return Result{Err: fmt.Errorf("%w: embedding: %v", recruit.ErrExternal, err)}
	}
	return Result{Vector: vec}
}

// Embed satisfies Provider so an Embedder can be handed to code that only
// needs the plain call shape.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	r := e.Compute(ctx, text)
	return r.Vector, r.Err
}

var errEmptyVector = errors.New("provider returned an empty vector")

func validate(vec []float32) error {
	if len(vec) == 0 {
		return errEmptyVector
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("invalid value at index %d: %v", i, v)
		}
	}
	return nil
}

// RateLimited throttles calls to the wrapped provider with a token bucket.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with the given burst. A
// non-positive rps disables limiting and returns next unchanged.
func NewRateLimited(next Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Embed(ctx, text)
}

// Options selects and configures a provider backend.
type Options struct {
	Provider     string // ollama, gemini or openai
	OllamaURL    string
	OllamaModel  string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIURL    string
	OpenAIAPIKey string
	OpenAIModel  string
	RateLimit    float64
	Burst        int
}

// NewProvider builds the configured backend wrapped in the rate limiter.
func NewProvider(ctx context.Context, opts Options) (Provider, error) {
	var p Provider
	switch opts.Provider {
	case "", "ollama":
		p = NewOllama(opts.OllamaURL, opts.OllamaModel)
	case "gemini":
		g, err := NewGemini(ctx, opts.GeminiAPIKey, opts.GeminiModel)
		if err != nil {
			return nil, err
		}
		p = g
	case "openai":
		p = NewOpenAI(opts.OpenAIURL, opts.OpenAIAPIKey, opts.OpenAIModel)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want ollama, gemini or openai)", opts.Provider)
	}
	return NewRateLimited(p, opts.RateLimit, opts.Burst), nil
}
