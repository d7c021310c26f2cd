package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
)

// OpenAIProvider embeds text through any OpenAI-compatible /embeddings
// endpoint.
type OpenAIProvider struct {
	client *resty.Client
	model  string
}

// NewOpenAI creates a provider for baseURL (for example
// "https://api.openai.com/v1"). apiKey may be empty for local gateways.
func NewOpenAI(baseURL, apiKey, model string) *OpenAIProvider {
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultOpenAIModel
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &OpenAIProvider{client: client, model: model}
}

func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"model": o.model, "input": text}).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("openai embed request: %w", err)
	}
	if resp.IsError() {
		msg := gjson.Get(resp.String(), "error.message").String()
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("openai embed: status %d: %s", resp.StatusCode(), msg)
	}

	values := gjson.Get(resp.String(), "data.0.embedding")
	if !values.IsArray() {
		return nil, errors.New("openai embed: response has no data.0.embedding")
	}
	arr := values.Array()
	vec := make([]float32, len(arr))
	for i, v := range arr {
		vec[i] = float32(v.Float())
	}
	return vec, nil
}
