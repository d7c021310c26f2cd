package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-embedding-001"

// geminiModels is the slice of the genai client used here. *genai.Models
// satisfies it.
type geminiModels interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiProvider embeds text with the Gemini API, retrying rate-limit and
// server errors with exponential backoff.
type GeminiProvider struct {
	models     geminiModels
	model      string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewGemini creates a Gemini-backed provider. apiKey is required.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGemini(client.Models, model), nil
}

func newGemini(models geminiModels, model string) *GeminiProvider {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{
		models:     models,
		model:      model,
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   10 * time.Second,
		logger:     slog.Default(),
	}
}

func (g *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	content := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.backoff(attempt)
			g.logger.Debug("retrying gemini embed", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("waiting to retry: %w", ctx.Err())
			}
		}

		resp, err := g.models.EmbedContent(ctx, g.model, content, nil)
		if err == nil {
			if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
				return nil, errors.New("gemini returned no embeddings")
			}
			return resp.Embeddings[0].Values, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, fmt.Errorf("gemini embed: %w", err)
		}
	}
	return nil, fmt.Errorf("gemini embed: max retries (%d) exceeded: %w", g.maxRetries, lastErr)
}

// backoff returns baseDelay * 2^(attempt-1), capped at maxDelay, with up to
// 25% jitter either way.
func (g *GeminiProvider) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(g.baseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > g.maxDelay {
		delay = g.maxDelay
	}
	jitter := float64(delay) * 0.25
	return delay + time.Duration(jitter*(2*rand.Float64()-1))
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var code int
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return false
	}
	return code == 429 || code >= 500
}
