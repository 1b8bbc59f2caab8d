// Package vision computes per-region geometry and dominant colour features.
//
// Colour classification runs on OpenCV HSV (H 0-180, S and V 0-255). Pixel data is
// handed to OpenCV in BGR order so the conversion and the bin table stay consistent.
package vision

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

// Frame is an image prepared once for repeated feature extraction
type Frame struct {
	mat gocv.Mat
	// buf backs mat; OpenCV does not copy it
	buf    []byte
	Width  int
	Height int
}

// NewFrame converts img into an 8-bit BGR matrix. The caller must Close it.
func NewFrame(img image.Image) (*Frame, error) {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	data := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			data = append(data, row[x+2], row[x+1], row[x])
		}
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return nil, fmt.Errorf("failed to build BGR matrix: %w", err)
	}
	return &Frame{mat: mat, buf: data, Width: w, Height: h}, nil
}

// Area returns the frame area in pixels
func (f *Frame) Area() int {
	return f.Width * f.Height
}

// Close releases the underlying matrix
func (f *Frame) Close() error {
	return f.mat.Close()
}

// Extractor derives FeatureRecords from regions of a Frame
type Extractor struct {
	config ColorConfig
}

// New creates an Extractor with the reference colour tuning
func New() *Extractor {
	return &Extractor{config: DefaultColorConfig()}
}

// NewWithConfig creates an Extractor with custom thresholds
func NewWithConfig(config ColorConfig) *Extractor {
	return &Extractor{config: config}
}

// Config returns the active colour configuration
func (e *Extractor) Config() ColorConfig {
	return e.config
}

// Extract computes geometry and colour features for one region.
// It is a pure function of the region and the frame pixels.
func (e *Extractor) Extract(f *Frame, region types.Region) types.FeatureRecord {
	corners := region.Corners()
	xMin, xMax, yMin, yMax := extents(corners)

	area := (xMax - xMin) * (yMax - yMin)
	rec := types.FeatureRecord{
		Corners:        corners,
		MeanX:          (corners[0].X + corners[1].X + corners[2].X + corners[3].X) / 4,
		MeanY:          (corners[0].Y + corners[1].Y + corners[2].Y + corners[3].Y) / 4,
		Area:           float64(area),
		RelativeArea:   float64(area) / float64(f.Area()),
		RelativeHeight: float64(yMax-yMin) / float64(f.Height),
		RelativeWidth:  float64(xMax-xMin) / float64(f.Width),
		ColorCategory:  types.ColorOther,
	}

	// Half-open crop, clamped to the frame; inverted extents give an empty crop.
	if xMax <= xMin || yMax <= yMin {
		rec.ColorCounts = e.emptyCounts()
		return rec
	}
	rect := image.Rect(xMin, yMin, xMax, yMax).Intersect(image.Rect(0, 0, f.Width, f.Height))
	if rect.Empty() {
		rec.ColorCounts = e.emptyCounts()
		return rec
	}

	crop := f.mat.Region(rect)
	defer crop.Close()

	mean := crop.Mean()
	rec.MeanColorB, rec.MeanColorG, rec.MeanColorR = mean.Val1, mean.Val2, mean.Val3

	rec.ColorCounts, rec.ColorCategory, rec.DominantPercentage = e.Classify(crop)
	return rec
}

// Classify assigns a colour category to a BGR crop and returns the merged bin counts
func (e *Extractor) Classify(bgr gocv.Mat) ([]types.ColorCount, types.ColorCategory, float64) {
	total := bgr.Rows() * bgr.Cols()
	if total == 0 {
		return e.emptyCounts(), types.ColorOther, 0
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	raw := make([]int, len(e.config.Bins))
	for i, bin := range e.config.Bins {
		mask := gocv.NewMat()
		gocv.InRangeWithScalar(hsv,
			gocv.NewScalar(bin.Lower[0], bin.Lower[1], bin.Lower[2], 0),
			gocv.NewScalar(bin.Upper[0], bin.Upper[1], bin.Upper[2], 0),
			&mask)

		if types.ColorCategory(baseName(bin.Name)) == types.ColorBlue {
			raw[i] = e.countBlue(mask)
		} else {
			raw[i] = gocv.CountNonZero(mask)
		}
		mask.Close()
	}

	counts := mergeCounts(e.config.Bins, raw)
	category, pct := decide(counts, total, e.config)
	return counts, category, pct
}

// countBlue opens the mask with an elliptical kernel and ignores the top
// reflection band, where sky and glare read as blue.
func (e *Extractor) countBlue(mask gocv.Mat) int {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: e.config.BlueKernelSize, Y: e.config.BlueKernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(mask, &opened, gocv.MorphOpen, kernel)

	rows, cols := opened.Rows(), opened.Cols()
	band := int(float64(rows) * e.config.ReflectionBand)
	if band >= rows {
		return 0
	}

	lower := opened.Region(image.Rect(0, band, cols, rows))
	defer lower.Close()
	return gocv.CountNonZero(lower)
}

func (e *Extractor) emptyCounts() []types.ColorCount {
	return mergeCounts(e.config.Bins, make([]int, len(e.config.Bins)))
}

// extents truncates corner coordinates toward zero, as int() does, so crop
// and rectangle math agree.
func extents(corners [4]types.Point) (xMin, xMax, yMin, yMax int) {
	fxMin, fxMax := corners[0].X, corners[0].X
	fyMin, fyMax := corners[0].Y, corners[0].Y
	for _, p := range corners[1:] {
		if p.X < fxMin {
			fxMin = p.X
		}
		if p.X > fxMax {
			fxMax = p.X
		}
		if p.Y < fyMin {
			fyMin = p.Y
		}
		if p.Y > fyMax {
			fyMax = p.Y
		}
	}
	return int(fxMin), int(fxMax), int(fyMin), int(fyMax)
}
