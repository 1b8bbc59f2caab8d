// Package container wires backends, the resolver, the cache and the HTTP
// handler from configuration.
package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	imagequery "github.com/D0men1c0/LauzHack"
	"github.com/D0men1c0/LauzHack/internal/cache"
	"github.com/D0men1c0/LauzHack/internal/config"
	"github.com/D0men1c0/LauzHack/internal/logger"
	"github.com/D0men1c0/LauzHack/internal/transport"
	"github.com/D0men1c0/LauzHack/pkg/client"
	"github.com/D0men1c0/LauzHack/pkg/langsam"
	"github.com/D0men1c0/LauzHack/pkg/llamacpp"
	"github.com/D0men1c0/LauzHack/pkg/ollama"
	"github.com/D0men1c0/LauzHack/pkg/openai"
)

// Container holds all application dependencies
type Container struct {
	config   *config.Config
	resolver *imagequery.Resolver
	cache    *cache.RedisCache
	handler  http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	resolver, err := NewResolver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Container{config: cfg, resolver: resolver}

	var respCache transport.Cache
	if cfg.Redis.Enabled {
		rc := cache.New(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			// serve without a cache rather than refuse to start
			logger.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Redis unavailable, response cache disabled")
			_ = rc.Close()
		} else {
			c.cache = rc
			respCache = rc
		}
	}

	c.handler = transport.NewHandler(resolver, respCache, cfg.Server)
	return c, nil
}

// NewResolver builds the pipeline and its backends without any HTTP surface
func NewResolver(ctx context.Context, cfg *config.Config) (*imagequery.Resolver, error) {
	b, err := newBackends(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}

	detector, err := langsam.NewClient(cfg.Detector.URL, cfg.Detector.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector client: %w", err)
	}

	style, err := cfg.RenderStyle()
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"text":      cfg.Backend.Text.Provider + "/" + cfg.Backend.Text.Model,
		"embedding": cfg.Backend.Embedding.Provider + "/" + cfg.Backend.Embedding.Model,
		"detector":  cfg.Detector.URL,
		"labels":    len(cfg.Router.Options),
	}).Info("Building resolver")

	return imagequery.New(imagequery.Options{
		Embedder:  b.embedder,
		Generator: b.generator,
		Detector:  detector,
		Labels:    cfg.Router.Options,
		Detection: cfg.DetectionConfig(),
		Color:     cfg.Color,
		Compiler:  cfg.Compiler,
		Explain:   cfg.Explain,
		Render:    style,
		Analyzer:  cfg.AnalyzerConfig(),
	})
}

// backend is what every provider client implements
type backend interface {
	client.TextGenerator
	client.Embedder
}

type backends struct {
	generator client.TextGenerator
	embedder  client.Embedder
}

// newBackends creates the text and embedding clients. Endpoints with the same
// provider and url share one client.
func newBackends(ctx context.Context, cfg config.BackendConfig) (backends, error) {
	text, emb := cfg.Text, cfg.Embedding
	if text.Provider == emb.Provider && text.URL == emb.URL {
		both, err := newClient(ctx, cfg, text.Provider, text.URL, text.Model, emb.Model)
		if err != nil {
			return backends{}, err
		}
		return backends{generator: both, embedder: both}, nil
	}

	gen, err := newClient(ctx, cfg, text.Provider, text.URL, text.Model, "")
	if err != nil {
		return backends{}, err
	}
	embedder, err := newClient(ctx, cfg, emb.Provider, emb.URL, "", emb.Model)
	if err != nil {
		return backends{}, err
	}
	return backends{generator: gen, embedder: embedder}, nil
}

func newClient(ctx context.Context, cfg config.BackendConfig, provider, url, chatModel, embeddingModel string) (backend, error) {
	switch provider {
	case config.ProviderOllama:
		c, err := ollama.NewClient(url, chatModel, embeddingModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case config.ProviderLlamaCpp:
		c, err := llamacpp.NewClient(url, chatModel, embeddingModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	case config.ProviderOpenAI:
		c, err := openai.NewClient(ctx, openai.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        url,
			ChatModel:      chatModel,
			EmbeddingModel: embeddingModel,
			Timeout:        cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown provider %q (use ollama, llamacpp or openai)", provider)
	}
}

// Handler returns the configured HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the application configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Resolver returns the query pipeline
func (c *Container) Resolver() *imagequery.Resolver {
	return c.resolver
}

// Close releases the resolver backends and the cache connection
func (c *Container) Close() error {
	var errs []error
	if err := c.resolver.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
