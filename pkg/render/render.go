// Package render draws matched regions on the source image and extracts them
// onto a blank canvas.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/D0men1c0/LauzHack/pkg/dataset"
	"github.com/D0men1c0/LauzHack/pkg/processing"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

// ErrNothingMatched is returned by Render when the dataset has no rows
var ErrNothingMatched = errors.New("nothing matched the query")

// Config controls outline drawing
type Config struct {
	OutlineColor color.NRGBA `json:"outline_color" mapstructure:"outline_color"`
	OutlineWidth int         `json:"outline_width" mapstructure:"outline_width"`
	Background   color.NRGBA `json:"background" mapstructure:"background"`
	// DetectionColor is used by DrawDetections
	DetectionColor color.NRGBA `json:"detection_color" mapstructure:"detection_color"`
}

// DefaultConfig returns red outlines on a black extraction canvas
func DefaultConfig() Config {
	return Config{
		OutlineColor:   color.NRGBA{255, 0, 0, 255},
		OutlineWidth:   2,
		Background:     color.NRGBA{0, 0, 0, 255},
		DetectionColor: color.NRGBA{0, 255, 0, 255},
	}
}

// Output holds the two rendered images, both the size of the source
type Output struct {
	// Highlighted is the source with every matched region outlined
	Highlighted image.Image
	// Extracted holds only the matched pixels on the background colour
	Extracted image.Image
}

// Renderer draws query results
type Renderer struct {
	config Config
}

// New creates a renderer with the default style
func New() *Renderer {
	return &Renderer{config: DefaultConfig()}
}

// NewWithConfig creates a renderer with a custom style
func NewWithConfig(config Config) *Renderer {
	if config.OutlineWidth < 1 {
		config.OutlineWidth = 1
	}
	return &Renderer{config: config}
}

// Render outlines each row's quadrilateral on a copy of img and pastes the
// rectangle from its first to its third corner onto a blank canvas.
func (r *Renderer) Render(img image.Image, ds *dataset.Dataset) (*Output, error) {
	if ds.Len() == 0 {
		return nil, ErrNothingMatched
	}

	highlighted := imaging.Clone(img)
	w, h := highlighted.Bounds().Dx(), highlighted.Bounds().Dy()
	extracted := imaging.New(w, h, r.config.Background)

	for i := 0; i < ds.Len(); i++ {
		corners, err := rowCorners(ds, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		processing.DrawPolygon(highlighted, corners[:], r.config.OutlineColor, r.config.OutlineWidth)

		rect := image.Rectangle{Min: corners[0], Max: corners[2]}.Canon()
		rect = rect.Intersect(image.Rect(0, 0, w, h))
		if rect.Empty() {
			continue
		}
		// crop from the untouched source so outlines don't leak into the extraction
		patch := imaging.Crop(img, rect.Add(img.Bounds().Min))
		extracted = imaging.Paste(extracted, patch, rect.Min)
	}

	return &Output{Highlighted: highlighted, Extracted: extracted}, nil
}

// DrawDetections outlines every region, used to preview raw detector output
func (r *Renderer) DrawDetections(img image.Image, regions []types.Region) image.Image {
	out := imaging.Clone(img)
	for _, reg := range regions {
		rect := image.Rect(int(reg.XMin), int(reg.YMin), int(reg.XMax), int(reg.YMax))
		processing.DrawRect(out, rect, r.config.DetectionColor, r.config.OutlineWidth)
	}
	return out
}

func rowCorners(ds *dataset.Dataset, row int) ([4]image.Point, error) {
	var pts [4]image.Point
	for j, col := range []string{dataset.ColCoord1, dataset.ColCoord2, dataset.ColCoord3, dataset.ColCoord4} {
		v, err := ds.Value(row, col)
		if err != nil {
			return pts, err
		}
		p, err := dataset.ParseCorner(v)
		if err != nil {
			return pts, err
		}
		pts[j] = p
	}
	return pts, nil
}
