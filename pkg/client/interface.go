package client

import (
	"context"
	"image"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

// TextGenerator is a single-turn chat completion service
type TextGenerator interface {
	Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (string, error)
}

// Embedder encodes strings into fixed-dimension vectors, one per input
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float64, error)
}

// RegionDetector returns candidate boxes for one label in one image
type RegionDetector interface {
	Predict(ctx context.Context, img image.Image, label string, boxThreshold float64) (*types.Prediction, error)
}
