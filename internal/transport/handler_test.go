package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imagequery "github.com/D0men1c0/LauzHack"
	"github.com/D0men1c0/LauzHack/internal/config"
	apperrors "github.com/D0men1c0/LauzHack/internal/errors"
	"github.com/D0men1c0/LauzHack/pkg/dataset"
	"github.com/D0men1c0/LauzHack/pkg/query"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeResolver struct {
	result *imagequery.Result
	err    error
	calls  int
	data   []byte
	query  string
}

func (f *fakeResolver) ResolveBytes(_ context.Context, data []byte, q string) (*imagequery.Result, error) {
	f.calls++
	f.data, f.query = data, q
	return f.result, f.err
}

type mapCache struct {
	entries map[string][]byte
}

func (m *mapCache) Get(_ context.Context, key string, v any) (bool, error) {
	data, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (m *mapCache) Set(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.entries[key] = data
	return nil
}

func okResult() *imagequery.Result {
	row := types.Region{XMin: 10, YMin: 10, XMax: 30, YMax: 30}
	filtered := dataset.New([]types.FeatureRecord{{
		Corners:       row.Corners(),
		ColorCategory: types.ColorBlue,
		Area:          400,
	}}, 100, 100)
	return &imagequery.Result{
		Status:         imagequery.StatusOK,
		Label:          "car",
		Similarity:     0.91,
		Filter:         &query.Result{Filtered: filtered},
		Output:         filtered.String(),
		Explanation:    "One blue car.",
		HighlightedPNG: []byte("png-bytes"),
		ExtractedPNG:   []byte("other-bytes"),
	}
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{RequestTimeout: time.Second, MaxBodyBytes: 1 << 20}
}

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var imageB64 = base64.StdEncoding.EncodeToString([]byte("fake image bytes"))

func TestUpload(t *testing.T) {
	resolver := &fakeResolver{result: okResult()}
	h := NewHandler(resolver, nil, serverConfig())

	w := post(t, h, UploadRequest{Image: "data:image/png;base64," + imageB64, Text: "  blue cars "})
	require.Equal(t, http.StatusOK, w.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "car", resp.Label)
	assert.Equal(t, 0.91, resp.Similarity)
	assert.Equal(t, 1, resp.Matched)
	assert.Equal(t, "One blue car.", resp.Explanation)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), resp.Image)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "[10. 10.]", resp.Rows[0]["coord_1"])
	assert.Equal(t, "blue", resp.Rows[0]["color_category"])
	assert.False(t, resp.Cached)

	_, err := uuid.Parse(resp.RequestID)
	assert.NoError(t, err)
	assert.Equal(t, resp.RequestID, w.Header().Get(requestIDHeader))

	assert.Equal(t, []byte("fake image bytes"), resolver.data)
	assert.Equal(t, "blue cars", resolver.query)
}

func TestUploadNoMatch(t *testing.T) {
	resolver := &fakeResolver{result: &imagequery.Result{
		Status: imagequery.StatusNoMatch,
		Notice: imagequery.NoticeNoRegions,
		Label:  "car",
	}}
	h := NewHandler(resolver, nil, serverConfig())

	w := post(t, h, UploadRequest{Image: imageB64, Text: "blue cars"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "no_match", resp.Status)
	assert.Equal(t, imagequery.NoticeNoRegions, resp.Notice)
	assert.Empty(t, resp.Image)
	assert.Empty(t, resp.Rows)
}

func TestUploadBadRequests(t *testing.T) {
	tests := map[string]any{
		"not json":      "{",
		"audio":         UploadRequest{Image: imageB64, Audio: "UklGRg=="},
		"missing text":  UploadRequest{Image: imageB64},
		"missing image": UploadRequest{Text: "cars"},
		"bad base64":    UploadRequest{Image: "%%%", Text: "cars"},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			resolver := &fakeResolver{result: okResult()}
			w := post(t, NewHandler(resolver, nil, serverConfig()), body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, resolver.calls)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "Bad Request", resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestUploadBodyTooLarge(t *testing.T) {
	cfg := serverConfig()
	cfg.MaxBodyBytes = 64
	resolver := &fakeResolver{result: okResult()}

	w := post(t, NewHandler(resolver, nil, cfg), UploadRequest{Image: strings.Repeat("A", 256), Text: "cars"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, resolver.calls)
}

func TestUploadPipelineErrors(t *testing.T) {
	tests := map[string]struct {
		err     error
		code    int
		errType string
	}{
		"generation": {apperrors.NewGenerationError("filter synthesis failed", errors.New("syntax")), http.StatusUnprocessableEntity, "generation"},
		"detection":  {apperrors.NewDetectionError("region detection failed", errors.New("down")), http.StatusBadGateway, "detection"},
		"validation": {apperrors.NewValidationError("could not decode image", nil), http.StatusBadRequest, "validation"},
		"timeout":    {apperrors.NewRoutingError("failed to route query", context.DeadlineExceeded), http.StatusGatewayTimeout, "routing"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := post(t, NewHandler(&fakeResolver{err: tt.err}, nil, serverConfig()), UploadRequest{Image: imageB64, Text: "cars"})
			assert.Equal(t, tt.code, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.errType, resp.Type)
		})
	}
}

func TestUploadCache(t *testing.T) {
	resolver := &fakeResolver{result: okResult()}
	cache := &mapCache{entries: map[string][]byte{}}
	h := NewHandler(resolver, cache, serverConfig())

	first := post(t, h, UploadRequest{Image: imageB64, Text: "blue cars"})
	require.Equal(t, http.StatusOK, first.Code)
	assert.Len(t, cache.entries, 1)

	second := post(t, h, UploadRequest{Image: imageB64, Text: "blue cars "})
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, resolver.calls)

	var a, b UploadResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.True(t, b.Cached)
	assert.Equal(t, a.Explanation, b.Explanation)
	assert.NotEqual(t, a.RequestID, b.RequestID)

	// a different query is not served from cache
	post(t, h, UploadRequest{Image: imageB64, Text: "red cars"})
	assert.Equal(t, 2, resolver.calls)
}

func TestRateLimit(t *testing.T) {
	cfg := serverConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	h := NewHandler(&fakeResolver{result: okResult()}, nil, cfg)

	assert.Equal(t, http.StatusOK, post(t, h, UploadRequest{Image: imageB64, Text: "cars"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, h, UploadRequest{Image: imageB64, Text: "cars"}).Code)

	// health stays reachable
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	h := NewHandler(&fakeResolver{}, nil, serverConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	id := uuid.NewString()
	req.Header.Set(requestIDHeader, id)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, w.Header().Get(requestIDHeader))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "available", body["status"])
	assert.Equal(t, imagequery.GetVersion(), body["version"])
}
