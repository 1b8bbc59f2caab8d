// Package explain summarises a query result in plain language.
package explain

import (
	"context"
	"fmt"

	"github.com/D0men1c0/LauzHack/pkg/client"
	"github.com/D0men1c0/LauzHack/pkg/query"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

const promptTemplate = "The user asked: '%s'. The following is the result:\n\nOutput:\n%s\n\nProvide a concise and general explanation of the result in simple terms:"

// Config bounds the explanation call
type Config struct {
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// DefaultConfig returns the reference settings
func DefaultConfig() Config {
	return Config{MaxTokens: 1000}
}

// Explainer turns a result into a short natural-language answer
type Explainer struct {
	gen    client.TextGenerator
	config Config
}

// New creates an explainer around a text generation client
func New(gen client.TextGenerator, config Config) *Explainer {
	return &Explainer{gen: gen, config: config}
}

// Prompt returns the single system message sent for a result
func Prompt(q string, result *query.Result) string {
	return fmt.Sprintf(promptTemplate, q, result.OutputText())
}

// Explain returns the model's answer verbatim
func (e *Explainer) Explain(ctx context.Context, q string, result *query.Result) (string, error) {
	messages := []types.Message{{Role: types.RoleSystem, Content: Prompt(q, result)}}
	text, err := e.gen.Complete(ctx, messages, types.CompletionOptions{
		Model:       e.config.Model,
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("explanation failed: %w", err)
	}
	return text, nil
}
