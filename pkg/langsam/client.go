// Package langsam talks to a LangSAM detection sidecar over HTTP.
package langsam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/D0men1c0/LauzHack/pkg/processing"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

// Client posts images to {baseURL}/predict
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type predictResponse struct {
	Boxes  [][]float64 `json:"boxes"`
	Scores []float64   `json:"scores"`
	Error  string      `json:"error,omitempty"`
}

// NewClient creates a detector client
func NewClient(serverURL string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("langsam: server URL is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Predict returns the boxes the model finds for label at or above boxThreshold
func (c *Client) Predict(ctx context.Context, img image.Image, label string, boxThreshold float64) (*types.Prediction, error) {
	pngData, err := processing.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := part.Write(pngData); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if err := mw.WriteField("text_prompt", label); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if err := mw.WriteField("box_threshold", strconv.FormatFloat(boxThreshold, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var pr predictResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if pr.Error != "" {
		return nil, fmt.Errorf("detector error: %s", pr.Error)
	}

	pred := &types.Prediction{Boxes: make([][4]float64, 0, len(pr.Boxes)), Scores: pr.Scores}
	for i, b := range pr.Boxes {
		if len(b) != 4 {
			return nil, fmt.Errorf("box %d has %d coordinates", i, len(b))
		}
		pred.Boxes = append(pred.Boxes, [4]float64{b[0], b[1], b[2], b[3]})
	}
	return pred, nil
}
