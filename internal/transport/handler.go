package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	imagequery "github.com/D0men1c0/LauzHack"
	"github.com/D0men1c0/LauzHack/internal/config"
	apperrors "github.com/D0men1c0/LauzHack/internal/errors"
	"github.com/D0men1c0/LauzHack/internal/logger"
	"github.com/D0men1c0/LauzHack/internal/utils"
	"github.com/D0men1c0/LauzHack/pkg/processing"
)

const requestIDHeader = "X-Request-ID"

// Resolver is the pipeline the handler serves
type Resolver interface {
	ResolveBytes(ctx context.Context, data []byte, query string) (*imagequery.Result, error)
}

// Cache stores responses between identical requests
type Cache interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

// UploadRequest is the body of POST /upload
type UploadRequest struct {
	Image string `json:"image"`
	Text  string `json:"text"`
	// Audio is rejected; transcription happens before this service
	Audio string `json:"audio,omitempty"`
}

// UploadResponse is returned for both answered and unmatched queries
type UploadResponse struct {
	RequestID   string           `json:"request_id"`
	Status      string           `json:"status"`
	Notice      string           `json:"notice,omitempty"`
	Label       string           `json:"label"`
	Similarity  float64          `json:"similarity"`
	Matched     int              `json:"matched"`
	Output      string           `json:"output,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
	Image       string           `json:"image,omitempty"`
	Extracted   string           `json:"extracted,omitempty"`
	Rows        []map[string]any `json:"rows"`
	Cached      bool             `json:"cached"`
	DurationMS  int64            `json:"duration_ms"`
}

// ErrorResponse is returned for every failure
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewHandler builds the HTTP surface. cache may be nil.
func NewHandler(resolver Resolver, cache Cache, cfg config.ServerConfig) http.Handler {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		requestID(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxBodyBytes),
	)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		r.Use(rateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}

	r.GET("/health", healthCheck)
	r.POST("/upload", upload(resolver, cache, cfg.RequestTimeout))

	return r
}

func upload(resolver Resolver, cache Cache, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		log := logger.WithField("request_id", c.GetString("request_id"))

		var req UploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(c, http.StatusRequestEntityTooLarge, "request body too large", err)
				return
			}
			respondError(c, http.StatusBadRequest, "invalid request format", apperrors.NewValidationError("body must be JSON", err))
			return
		}
		if req.Audio != "" {
			respondError(c, http.StatusBadRequest, "audio is not supported",
				apperrors.NewValidationError("send the transcribed query in the text field", nil))
			return
		}
		query := strings.TrimSpace(req.Text)
		if req.Image == "" || query == "" {
			respondError(c, http.StatusBadRequest, "missing fields",
				apperrors.NewValidationError("image and text are required", nil))
			return
		}

		data, err := processing.Base64Bytes(req.Image)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid image", apperrors.NewValidationError("image must be base64", err))
			return
		}

		key := utils.CacheKey(data, query)
		if cache != nil {
			var cached UploadResponse
			hit, err := cache.Get(ctx, key, &cached)
			if err != nil {
				log.WithError(err).Warn("Failed to read cache")
			}
			if hit {
				cached.RequestID = c.GetString("request_id")
				cached.Cached = true
				log.WithField("cache_key", key).Info("Cache hit")
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		result, err := resolver.ResolveBytes(ctx, data, query)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				respondError(c, http.StatusGatewayTimeout, "query timed out", err)
				return
			}
			respondError(c, apperrors.GetStatusCode(err), "query failed", err)
			return
		}

		resp := newUploadResponse(result)
		resp.RequestID = c.GetString("request_id")
		log.WithFields(logrus.Fields{
			"label":   resp.Label,
			"status":  resp.Status,
			"matched": resp.Matched,
		}).Info("Query answered")

		if cache != nil {
			if err := cache.Set(ctx, key, resp); err != nil {
				log.WithError(err).Warn("Failed to write cache")
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}

func newUploadResponse(result *imagequery.Result) UploadResponse {
	resp := UploadResponse{
		Status:      string(result.Status),
		Notice:      result.Notice,
		Label:       result.Label,
		Similarity:  result.Similarity,
		Matched:     result.Matched(),
		Output:      result.Output,
		Explanation: result.Explanation,
		Rows:        []map[string]any{},
		DurationMS:  result.Duration.Milliseconds(),
	}
	if result.Filter != nil && result.Filter.Filtered != nil {
		resp.Rows = result.Filter.Filtered.Records()
	}
	if len(result.HighlightedPNG) > 0 {
		resp.Image = base64.StdEncoding.EncodeToString(result.HighlightedPNG)
	}
	if len(result.ExtractedPNG) > 0 {
		resp.Extracted = base64.StdEncoding.EncodeToString(result.ExtractedPNG)
	}
	return resp
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": imagequery.GetVersion(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// requestID reuses a valid incoming X-Request-ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"ip":         c.ClientIP(),
			"size":       utils.FormatFileSize(max(c.Request.ContentLength, 0)),
			"cost":       time.Since(start).String(),
			"user_agent": c.Request.UserAgent(),
		}).Info("Request")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func rateLimiter(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path != "/health" && !limiter.Allow() {
			respondError(c, http.StatusTooManyRequests, "rate limit exceeded", errors.New("too many requests"))
			return
		}
		c.Next()
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	resp := ErrorResponse{
		RequestID: c.GetString("request_id"),
		Error:     http.StatusText(code),
		Message:   fmt.Sprintf("%s: %v", message, err),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Type = string(appErr.Type)
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"request_id":  resp.RequestID,
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, resp)
}
