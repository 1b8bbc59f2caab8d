package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Router.Options = []string{"car", "person"}
	cfg.Backend.APIKey = "sk-test"
	return cfg
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPTIONS", "OPENAI_API_KEY", "LOG_LEVEL", "IMAGEQUERY_SERVER_PORT", "IMAGEQUERY_DETECTOR_BOX_THRESHOLD"} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.23, cfg.Detector.BoxThreshold)
	assert.Equal(t, 0.8, cfg.Detector.MaxAreaRatio)
	assert.Equal(t, 10.0, cfg.Compiler.Tolerance)
	assert.Equal(t, 1000, cfg.Compiler.MaxTokens)
	assert.Equal(t, 1000, cfg.Explain.MaxTokens)
	assert.Len(t, cfg.Color.Bins, 10)
	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())

	// no labels until OPTIONS is set
	assert.Error(t, cfg.Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"no options":         func(c *Config) { c.Router.Options = nil },
		"unknown provider":   func(c *Config) { c.Backend.Text.Provider = "bard" },
		"openai without key": func(c *Config) { c.Backend.APIKey = "" },
		"ollama without url": func(c *Config) { c.Backend.Embedding.URL = "" },
		"no detector":        func(c *Config) { c.Detector.URL = "" },
		"box threshold":      func(c *Config) { c.Detector.BoxThreshold = 1.5 },
		"area ratio":         func(c *Config) { c.Detector.MaxAreaRatio = 0 },
		"colour bins":        func(c *Config) { c.Color.Bins = nil },
		"compiler tokens":    func(c *Config) { c.Compiler.MaxTokens = 0 },
		"compiler sampling":  func(c *Config) { c.Compiler.Temperature = 0.7 },
		"explain tokens":     func(c *Config) { c.Explain.MaxTokens = -1 },
		"outline colour":     func(c *Config) { c.Render.OutlineColor = "red" },
		"image size":         func(c *Config) { c.Analyzer.MaxImageSize = 1 },
		"port":               func(c *Config) { c.Server.Port = 0 },
		"rate":               func(c *Config) { c.Server.RateLimit = -1 },
		"mode":               func(c *Config) { c.Server.Mode = "prod" },
		"redis addr":         func(c *Config) { c.Redis.Enabled, c.Redis.Addr = true, "" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPTIONS", "car, truck,,person")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("IMAGEQUERY_SERVER_PORT", "9090")
	t.Setenv("IMAGEQUERY_DETECTOR_BOX_THRESHOLD", "0.4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"car", "truck", "person"}, cfg.Router.Options)
	assert.Equal(t, "sk-env", cfg.Backend.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.4, cfg.Detector.BoxThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Backend.Timeout)
	assert.Len(t, cfg.Color.Bins, 10)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
router:
  options: [boat, car]
backend:
  text:
    provider: llamacpp
    url: http://localhost:8080
    model: qwen
  embedding:
    provider: ollama
    url: http://localhost:11434
    model: all-minilm
detector:
  box_threshold: 0.3
color:
  min_dominance_percent: 15
redis:
  enabled: true
  ttl: 1h
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"boat", "car"}, cfg.Router.Options)
	assert.Equal(t, ProviderLlamaCpp, cfg.Backend.Text.Provider)
	assert.Equal(t, "qwen", cfg.Backend.Text.Model)
	assert.Equal(t, 0.3, cfg.Detector.BoxThreshold)
	assert.Equal(t, 0.8, cfg.Detector.MaxAreaRatio)
	assert.Equal(t, 15.0, cfg.Color.MinDominancePercent)
	assert.Len(t, cfg.Color.Bins, 10)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSaveToFileRoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := validConfig()
	cfg.Backend.APIKey = ""
	cfg.Backend.Text = EndpointConfig{Provider: ProviderOllama, URL: "http://localhost:11434", Model: "llama3.1"}
	cfg.Color.MinBlueRatio = 0.3
	cfg.Server.RequestTimeout = 45 * time.Second

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Router.Options, loaded.Router.Options)
	assert.Equal(t, cfg.Backend.Text, loaded.Backend.Text)
	assert.Equal(t, 0.3, loaded.Color.MinBlueRatio)
	assert.Equal(t, cfg.Color.Bins, loaded.Color.Bins)
	assert.Equal(t, 45*time.Second, loaded.Server.RequestTimeout)
	assert.NoError(t, loaded.Validate())
}

func TestRenderStyle(t *testing.T) {
	cfg := Default()
	cfg.Render.OutlineColor = "#10ff80"

	style, err := cfg.RenderStyle()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0x10, G: 0xff, B: 0x80, A: 255}, style.OutlineColor)
	assert.Equal(t, color.NRGBA{A: 255}, style.Background)
	assert.Equal(t, 2, style.OutlineWidth)

	for _, bad := range []string{"", "#fff", "ff0000", "#gg0000"} {
		cfg.Render.OutlineColor = bad
		_, err := cfg.RenderStyle()
		assert.Error(t, err, bad)
	}
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.yaml", filepath.Base(GetConfigPath()))
}
