package config

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/D0men1c0/LauzHack/pkg/analyzer"
	"github.com/D0men1c0/LauzHack/pkg/detection"
	"github.com/D0men1c0/LauzHack/pkg/explain"
	"github.com/D0men1c0/LauzHack/pkg/query"
	"github.com/D0men1c0/LauzHack/pkg/render"
	"github.com/D0men1c0/LauzHack/pkg/vision"
)

// Supported backend providers
const (
	ProviderOllama   = "ollama"
	ProviderLlamaCpp = "llamacpp"
	ProviderOpenAI   = "openai"
)

// EnvPrefix is prepended to every environment override, e.g. IMAGEQUERY_SERVER_PORT
const EnvPrefix = "IMAGEQUERY"

// Config holds the application configuration
type Config struct {
	Router   RouterConfig       `mapstructure:"router"`
	Backend  BackendConfig      `mapstructure:"backend"`
	Detector DetectorConfig     `mapstructure:"detector"`
	Color    vision.ColorConfig `mapstructure:"color"`
	Compiler query.Config       `mapstructure:"compiler"`
	Explain  explain.Config     `mapstructure:"explain"`
	Render   RenderConfig       `mapstructure:"render"`
	Analyzer AnalyzerConfig     `mapstructure:"analyzer"`
	Server   ServerConfig       `mapstructure:"server"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Log      LogConfig          `mapstructure:"log"`
}

// RouterConfig lists the candidate labels a query can be routed to
type RouterConfig struct {
	Options []string `mapstructure:"options"`
}

// EndpointConfig selects one backend capability
type EndpointConfig struct {
	Provider string `mapstructure:"provider"`
	URL      string `mapstructure:"url"`
	Model    string `mapstructure:"model"`
}

// BackendConfig holds the text generation and embedding endpoints
type BackendConfig struct {
	Text      EndpointConfig `mapstructure:"text"`
	Embedding EndpointConfig `mapstructure:"embedding"`
	// APIKey is only used by the openai provider
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DetectorConfig points at the detection sidecar
type DetectorConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	BoxThreshold float64       `mapstructure:"box_threshold"`
	MaxAreaRatio float64       `mapstructure:"max_area_ratio"`
	PromptSuffix string        `mapstructure:"prompt_suffix"`
}

// RenderConfig styles the result images; colours are #rrggbb
type RenderConfig struct {
	OutlineColor   string `mapstructure:"outline_color"`
	OutlineWidth   int    `mapstructure:"outline_width"`
	Background     string `mapstructure:"background"`
	DetectionColor string `mapstructure:"detection_color"`
}

// AnalyzerConfig bounds accepted input images
type AnalyzerConfig struct {
	SupportedFormats []string `mapstructure:"supported_formats"`
	MinImageSize     int      `mapstructure:"min_image_size"`
	MaxImageSize     int      `mapstructure:"max_image_size"`
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body"`
	// RateLimit is requests per second across all clients, 0 disables limiting
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// RedisConfig holds the response cache settings
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LogConfig holds the logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	det := detection.DefaultConfig()
	an := analyzer.DefaultConfig()
	return &Config{
		Backend: BackendConfig{
			Text: EndpointConfig{
				Provider: ProviderOpenAI,
				Model:    "gpt-4o",
			},
			Embedding: EndpointConfig{
				Provider: ProviderOllama,
				URL:      "http://localhost:11434",
				Model:    "all-minilm",
			},
			Timeout: 2 * time.Minute,
		},
		Detector: DetectorConfig{
			URL:          "http://localhost:8000",
			Timeout:      2 * time.Minute,
			BoxThreshold: det.BoxThreshold,
			MaxAreaRatio: det.MaxAreaRatio,
			PromptSuffix: det.PromptSuffix,
		},
		Color:    vision.DefaultColorConfig(),
		Compiler: query.DefaultConfig(),
		Explain:  explain.DefaultConfig(),
		Render: RenderConfig{
			OutlineColor:   "#ff0000",
			OutlineWidth:   2,
			Background:     "#000000",
			DetectionColor: "#00ff00",
		},
		Analyzer: AnalyzerConfig{
			SupportedFormats: an.SupportedFormats,
			MinImageSize:     an.MinImageSize,
			MaxImageSize:     an.MaxImageSize,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			Mode:           "release",
			RequestTimeout: 3 * time.Minute,
			MaxBodyBytes:   32 << 20,
			RateLimit:      2,
			RateBurst:      4,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// settings flattens c into viper keys
func settings(c *Config) map[string]any {
	bins := make([]map[string]any, 0, len(c.Color.Bins))
	for _, b := range c.Color.Bins {
		bins = append(bins, map[string]any{
			"name":  b.Name,
			"lower": b.Lower[:],
			"upper": b.Upper[:],
		})
	}

	return map[string]any{
		"router.options": c.Router.Options,

		"backend.text.provider":      c.Backend.Text.Provider,
		"backend.text.url":           c.Backend.Text.URL,
		"backend.text.model":         c.Backend.Text.Model,
		"backend.embedding.provider": c.Backend.Embedding.Provider,
		"backend.embedding.url":      c.Backend.Embedding.URL,
		"backend.embedding.model":    c.Backend.Embedding.Model,
		"backend.api_key":            c.Backend.APIKey,
		"backend.timeout":            c.Backend.Timeout.String(),

		"detector.url":            c.Detector.URL,
		"detector.timeout":        c.Detector.Timeout.String(),
		"detector.box_threshold":  c.Detector.BoxThreshold,
		"detector.max_area_ratio": c.Detector.MaxAreaRatio,
		"detector.prompt_suffix":  c.Detector.PromptSuffix,

		"color.bins":                  bins,
		"color.min_dominance_percent": c.Color.MinDominancePercent,
		"color.min_blue_ratio":        c.Color.MinBlueRatio,
		"color.reflection_band":       c.Color.ReflectionBand,
		"color.blue_kernel_size":      c.Color.BlueKernelSize,

		"compiler.model":       c.Compiler.Model,
		"compiler.tolerance":   c.Compiler.Tolerance,
		"compiler.max_tokens":  c.Compiler.MaxTokens,
		"compiler.temperature": c.Compiler.Temperature,
		"compiler.max_nodes":   c.Compiler.MaxNodes,
		"compiler.max_depth":   c.Compiler.MaxDepth,

		"explain.model":       c.Explain.Model,
		"explain.max_tokens":  c.Explain.MaxTokens,
		"explain.temperature": c.Explain.Temperature,

		"render.outline_color":   c.Render.OutlineColor,
		"render.outline_width":   c.Render.OutlineWidth,
		"render.background":      c.Render.Background,
		"render.detection_color": c.Render.DetectionColor,

		"analyzer.supported_formats": c.Analyzer.SupportedFormats,
		"analyzer.min_image_size":    c.Analyzer.MinImageSize,
		"analyzer.max_image_size":    c.Analyzer.MaxImageSize,

		"server.host":            c.Server.Host,
		"server.port":            c.Server.Port,
		"server.mode":            c.Server.Mode,
		"server.request_timeout": c.Server.RequestTimeout.String(),
		"server.max_body":        c.Server.MaxBodyBytes,
		"server.rate_limit":      c.Server.RateLimit,
		"server.rate_burst":      c.Server.RateBurst,

		"redis.enabled":  c.Redis.Enabled,
		"redis.addr":     c.Redis.Addr,
		"redis.password": c.Redis.Password,
		"redis.db":       c.Redis.DB,
		"redis.ttl":      c.Redis.TTL.String(),

		"log.level":  c.Log.Level,
		"log.format": c.Log.Format,
	}
}

// Load reads configuration from an optional YAML or JSON file and the
// environment. An empty path means defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range settings(Default()) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the plain names are what deployments already export
	if err := v.BindEnv("router.options", "OPTIONS", EnvPrefix+"_ROUTER_OPTIONS"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("backend.api_key", "OPENAI_API_KEY", EnvPrefix+"_BACKEND_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Router.Options = cleanOptions(cfg.Router.Options)

	return &cfg, nil
}

// cleanOptions trims labels and drops empty ones; a comma list from the
// environment arrives as a single element
func cleanOptions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, opt := range strings.Split(item, ",") {
			if opt = strings.TrimSpace(opt); opt != "" {
				out = append(out, opt)
			}
		}
	}
	return out
}

// SaveToFile writes the configuration; the format follows the file extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for key, value := range settings(c) {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Router.Options) == 0 {
		return fmt.Errorf("router.options cannot be empty (set OPTIONS)")
	}

	endpoints := []struct {
		name string
		ep   EndpointConfig
	}{
		{"backend.text", c.Backend.Text},
		{"backend.embedding", c.Backend.Embedding},
	}
	for _, e := range endpoints {
		name, ep := e.name, e.ep
		switch ep.Provider {
		case ProviderOllama, ProviderLlamaCpp:
			if ep.URL == "" {
				return fmt.Errorf("%s.url is required for provider %s", name, ep.Provider)
			}
		case ProviderOpenAI:
			if c.Backend.APIKey == "" {
				return fmt.Errorf("%s uses openai but no api key is set (OPENAI_API_KEY)", name)
			}
		default:
			return fmt.Errorf("%s.provider must be one of ollama, llamacpp, openai", name)
		}
	}

	if c.Detector.URL == "" {
		return fmt.Errorf("detector.url cannot be empty")
	}
	if err := c.DetectionConfig().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := c.Color.Validate(); err != nil {
		return fmt.Errorf("color: %w", err)
	}
	if err := c.Compiler.Validate(); err != nil {
		return fmt.Errorf("compiler: %w", err)
	}
	if c.Explain.MaxTokens <= 0 {
		return fmt.Errorf("explain.max_tokens must be positive")
	}
	if _, err := c.RenderStyle(); err != nil {
		return err
	}

	if c.Analyzer.MinImageSize < 1 {
		return fmt.Errorf("analyzer.min_image_size must be positive")
	}
	if c.Analyzer.MaxImageSize < c.Analyzer.MinImageSize {
		return fmt.Errorf("analyzer.max_image_size must not be below min_image_size")
	}
	if len(c.Analyzer.SupportedFormats) == 0 {
		return fmt.Errorf("analyzer.supported_formats cannot be empty")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be one of debug, release, test")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	return nil
}

// DetectionConfig returns the detection package settings
func (c *Config) DetectionConfig() detection.Config {
	return detection.Config{
		BoxThreshold: c.Detector.BoxThreshold,
		MaxAreaRatio: c.Detector.MaxAreaRatio,
		PromptSuffix: c.Detector.PromptSuffix,
	}
}

// AnalyzerConfig returns the analyzer package settings
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		SupportedFormats: c.Analyzer.SupportedFormats,
		MinImageSize:     c.Analyzer.MinImageSize,
		MaxImageSize:     c.Analyzer.MaxImageSize,
	}
}

// RenderStyle parses the render colours
func (c *Config) RenderStyle() (render.Config, error) {
	style := render.Config{OutlineWidth: c.Render.OutlineWidth}
	var err error
	if style.OutlineColor, err = parseHexColor(c.Render.OutlineColor); err != nil {
		return render.Config{}, fmt.Errorf("render.outline_color: %w", err)
	}
	if style.Background, err = parseHexColor(c.Render.Background); err != nil {
		return render.Config{}, fmt.Errorf("render.background: %w", err)
	}
	if style.DetectionColor, err = parseHexColor(c.Render.DetectionColor); err != nil {
		return render.Config{}, fmt.Errorf("render.detection_color: %w", err)
	}
	return style, nil
}

// Addr is the server listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func parseHexColor(s string) (color.NRGBA, error) {
	var r, g, b uint8
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q, want #rrggbb", s)
	}
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-query", "config.yaml")
}
