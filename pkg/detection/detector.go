package detection

import (
	"context"
	"fmt"
	"image"

	"github.com/D0men1c0/LauzHack/pkg/client"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

// Config controls the detector call and the post-filter
type Config struct {
	// BoxThreshold is the minimum detector confidence for a box
	BoxThreshold float64 `json:"box_threshold" mapstructure:"box_threshold"`
	// MaxAreaRatio drops boxes covering more than this share of the image
	MaxAreaRatio float64 `json:"max_area_ratio" mapstructure:"max_area_ratio"`
	// PromptSuffix is appended to the label before it is sent to the detector
	PromptSuffix string `json:"prompt_suffix" mapstructure:"prompt_suffix"`
}

// DefaultConfig returns the reference detection settings
func DefaultConfig() Config {
	return Config{
		BoxThreshold: 0.23,
		MaxAreaRatio: 0.8,
		PromptSuffix: ".",
	}
}

// Validate checks the threshold ranges
func (c Config) Validate() error {
	if c.BoxThreshold < 0 || c.BoxThreshold > 1 {
		return fmt.Errorf("box_threshold must be between 0 and 1")
	}
	if c.MaxAreaRatio <= 0 || c.MaxAreaRatio > 1 {
		return fmt.Errorf("max_area_ratio must be in (0, 1]")
	}
	return nil
}

// Detector turns a label into the candidate regions of an image
type Detector struct {
	client client.RegionDetector
	config Config
}

// NewDetector creates a new detector around a region detection client
func NewDetector(c client.RegionDetector, config Config) *Detector {
	return &Detector{client: c, config: config}
}

// Detect asks the client for boxes of label and drops the ones that cover most
// of the frame, usually the background. Detector order is preserved.
func (d *Detector) Detect(ctx context.Context, img image.Image, label string) ([]types.Region, error) {
	pred, err := d.client.Predict(ctx, img, label+d.config.PromptSuffix, d.config.BoxThreshold)
	if err != nil {
		return nil, fmt.Errorf("region detection for %q failed: %w", label, err)
	}
	if pred == nil {
		return nil, nil
	}

	b := img.Bounds()
	return FilterLarge(ToRegions(pred), float64(b.Dx()*b.Dy()), d.config.MaxAreaRatio), nil
}

// ToRegions converts raw detector boxes to regions, carrying scores when present
func ToRegions(pred *types.Prediction) []types.Region {
	regions := make([]types.Region, 0, len(pred.Boxes))
	for i, box := range pred.Boxes {
		r := types.Region{XMin: box[0], YMin: box[1], XMax: box[2], YMax: box[3]}
		if i < len(pred.Scores) {
			r.Score = pred.Scores[i]
		}
		regions = append(regions, r)
	}
	return regions
}

// FilterLarge keeps regions whose area ratio is at most maxRatio
func FilterLarge(regions []types.Region, imageArea, maxRatio float64) []types.Region {
	if imageArea <= 0 {
		return nil
	}
	kept := make([]types.Region, 0, len(regions))
	for _, r := range regions {
		if r.Area()/imageArea > maxRatio {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}
