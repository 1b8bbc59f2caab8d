// Package query turns a natural-language question into a validated filter
// program over a dataset and evaluates it.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/D0men1c0/LauzHack/pkg/analyzer"
	"github.com/D0men1c0/LauzHack/pkg/client"
	"github.com/D0men1c0/LauzHack/pkg/dataset"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

var (
	ErrGeneration     = errors.New("filter generation failed")
	ErrSyntax         = errors.New("filter program is not valid JSON")
	ErrMissingResult  = errors.New("filter program is missing a result")
	ErrInvalidProgram = errors.New("filter program rejected")
	ErrExecution      = errors.New("filter program failed")
)

// Config tunes the compile call
type Config struct {
	Model       string  `json:"model" mapstructure:"model"`
	Tolerance   float64 `json:"tolerance" mapstructure:"tolerance"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxNodes    int     `json:"max_nodes" mapstructure:"max_nodes"`
	MaxDepth    int     `json:"max_depth" mapstructure:"max_depth"`
}

// DefaultConfig returns the reference settings
func DefaultConfig() Config {
	return Config{
		Tolerance:   10,
		MaxTokens:   1000,
		Temperature: 0,
		MaxNodes:    64,
		MaxDepth:    8,
	}
}

// Validate checks the limits
func (c Config) Validate() error {
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.Temperature != 0 {
		return fmt.Errorf("temperature must be 0")
	}
	if c.MaxNodes <= 0 || c.MaxDepth <= 0 {
		return fmt.Errorf("max_nodes and max_depth must be positive")
	}
	return nil
}

// Result is the outcome of one compile call
type Result struct {
	// Program is the validated program after value normalisation
	Program *Program
	// Source is the sanitised model reply the program was parsed from
	Source    string
	Indices   []int
	Filtered  *dataset.Dataset
	Aggregate *Aggregate
}

// OutputText is the aggregate when there is one, otherwise the filtered table
func (r *Result) OutputText() string {
	if r.Aggregate != nil {
		return r.Aggregate.String()
	}
	return r.Filtered.String()
}

// Compiler asks a text generator for a filter program and runs it
type Compiler struct {
	gen    client.TextGenerator
	config Config
}

// NewCompiler creates a compiler around a text generation client
func NewCompiler(gen client.TextGenerator, config Config) *Compiler {
	return &Compiler{gen: gen, config: config}
}

// Compile generates, validates and evaluates a program for query over ds.
// Every failure wraps one of the package sentinels; no partial result is returned.
func (c *Compiler) Compile(ctx context.Context, ds *dataset.Dataset, info analyzer.ImageInfo, query string) (*Result, error) {
	reply, err := c.gen.Complete(ctx, buildMessages(info, query, c.config.Tolerance), types.CompletionOptions{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return c.Run(ctx, ds, reply)
}

// Run sanitises, parses, validates and evaluates a model reply over ds
func (c *Compiler) Run(ctx context.Context, ds *dataset.Dataset, reply string) (*Result, error) {
	source := sanitizeModelJSON(reply)
	if source == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrSyntax)
	}

	prog, err := Parse(source)
	if err != nil {
		return nil, err
	}

	v := &validator{maxNodes: c.config.MaxNodes, maxDepth: c.config.MaxDepth}
	if err := v.program(prog); err != nil {
		return nil, err
	}

	ev := &evaluator{ds: ds}
	indices, agg, err := ev.run(ctx, prog)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	if err := checkAggregate(agg); err != nil {
		return nil, err
	}

	return &Result{
		Program:   prog,
		Source:    source,
		Indices:   indices,
		Filtered:  ds.Subset(indices),
		Aggregate: agg,
	}, nil
}

func checkAggregate(agg *Aggregate) error {
	if agg == nil {
		return nil
	}
	switch agg.Value.(type) {
	case float64, map[string]float64, *dataset.Dataset:
		return nil
	}
	return fmt.Errorf("%w: unsupported output kind %T", ErrExecution, agg.Value)
}
