// Package openai provides chat completion and embeddings against an
// OpenAI-compatible API through eino components.
package openai

import (
	"context"
	"fmt"
	"time"

	openaiembedding "github.com/cloudwego/eino-ext/components/embedding/openai"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

// Config selects the endpoint and models
type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
}

type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type stringEmbedder interface {
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)
}

// Client implements text generation and embeddings
type Client struct {
	chat     generator
	embedder stringEmbedder
}

// NewClient builds the eino chat model and embedder. Either model name may be
// empty, in which case the matching capability is not available.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	c := &Client{}

	if cfg.ChatModel != "" {
		cm, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.ChatModel,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		c.chat = cm
	}

	if cfg.EmbeddingModel != "" {
		emb, err := openaiembedding.NewEmbedder(ctx, &openaiembedding.EmbeddingConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		c.embedder = emb
	}
	return c, nil
}

// Complete sends one chat request and returns the reply text
func (c *Client) Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (string, error) {
	if c.chat == nil {
		return "", fmt.Errorf("openai: no chat model configured")
	}

	input := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		input = append(input, &schema.Message{Role: toRole(m.Role), Content: m.Content})
	}

	options := []model.Option{model.WithTemperature(float32(opts.Temperature))}
	if opts.MaxTokens > 0 {
		options = append(options, model.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Model != "" {
		options = append(options, model.WithModel(opts.Model))
	}

	out, err := c.chat.Generate(ctx, input, options...)
	if err != nil {
		return "", fmt.Errorf("openai chat error: %w", err)
	}
	if out == nil || out.Content == "" {
		return "", fmt.Errorf("empty response from openai")
	}
	return out.Content, nil
}

// Encode embeds every text in one call
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float64, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("openai: no embedding model configured")
	}
	vectors, err := c.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embedding error: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

func toRole(role string) schema.RoleType {
	switch role {
	case types.RoleSystem:
		return schema.System
	case types.RoleAssistant:
		return schema.Assistant
	default:
		return schema.User
	}
}
