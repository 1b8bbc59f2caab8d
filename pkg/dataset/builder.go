package dataset

import (
	"fmt"
	"image"

	"github.com/D0men1c0/LauzHack/pkg/types"
	"github.com/D0men1c0/LauzHack/pkg/vision"
)

// Builder extracts one row per region
type Builder struct {
	extractor *vision.Extractor
}

// NewBuilder creates a builder; a nil extractor uses the default colour tuning
func NewBuilder(extractor *vision.Extractor) *Builder {
	if extractor == nil {
		extractor = vision.New()
	}
	return &Builder{extractor: extractor}
}

// Build converts img once and extracts features for every region in order
func (b *Builder) Build(img image.Image, regions []types.Region) (*Dataset, error) {
	bounds := img.Bounds()
	ds := New(make([]types.FeatureRecord, 0, len(regions)), bounds.Dx(), bounds.Dy())
	if len(regions) == 0 {
		return ds, nil
	}

	frame, err := vision.NewFrame(img)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}
	defer frame.Close()

	for _, r := range regions {
		ds.Rows = append(ds.Rows, b.extractor.Extract(frame, r))
	}
	return ds, nil
}
