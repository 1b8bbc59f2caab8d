package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

// Client wraps the Ollama API client
type Client struct {
	client         *api.Client
	chatModel      string
	embeddingModel string
}

// NewClient creates a new Ollama client for the given models
func NewClient(ollamaURL, chatModel, embeddingModel string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client:         api.NewClient(baseURL, http.DefaultClient),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}, nil
}

// Complete runs a non-streaming chat request
func (c *Client) Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.chatModel
	}

	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &streamFalse,
		Options:  options,
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	if responseContent == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return responseContent, nil
}

// Encode embeds all texts in one request
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed error: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		v := make([]float64, len(e))
		for j, f := range e {
			v[j] = float64(f)
		}
		out[i] = v
	}
	return out, nil
}
