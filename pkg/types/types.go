package types

import "image"

// Point is a corner coordinate in pixel space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Region is one detector output, an axis-aligned box in pixel coordinates
type Region struct {
	XMin  float64     `json:"x_min"`
	YMin  float64     `json:"y_min"`
	XMax  float64     `json:"x_max"`
	YMax  float64     `json:"y_max"`
	Score float64     `json:"score,omitempty"`
	Mask  *image.Gray `json:"-"`
}

// Area returns the box area in square pixels
func (r Region) Area() float64 {
	return (r.XMax - r.XMin) * (r.YMax - r.YMin)
}

// Corners returns the box corners in fixed order:
// top-left, top-right, bottom-right, bottom-left.
func (r Region) Corners() [4]Point {
	return [4]Point{
		{X: r.XMin, Y: r.YMin},
		{X: r.XMax, Y: r.YMin},
		{X: r.XMax, Y: r.YMax},
		{X: r.XMin, Y: r.YMax},
	}
}

// Prediction is the raw output of a region detector for one image and one label.
// Boxes are [xmin, ymin, xmax, ymax].
type Prediction struct {
	Boxes  [][4]float64  `json:"boxes"`
	Scores []float64     `json:"scores,omitempty"`
	Masks  []*image.Gray `json:"-"`
}

// ColorCategory is the closed set of colour classes assigned to a region
type ColorCategory string

const (
	ColorBlack  ColorCategory = "black"
	ColorWhite  ColorCategory = "white"
	ColorGray   ColorCategory = "gray"
	ColorRed    ColorCategory = "red"
	ColorOrange ColorCategory = "orange"
	ColorYellow ColorCategory = "yellow"
	ColorGreen  ColorCategory = "green"
	ColorBlue   ColorCategory = "blue"
	ColorPurple ColorCategory = "purple"
	ColorOther  ColorCategory = "other"
)

// ColorCategories lists every valid category
func ColorCategories() []ColorCategory {
	return []ColorCategory{
		ColorBlack, ColorWhite, ColorGray, ColorRed, ColorOrange,
		ColorYellow, ColorGreen, ColorBlue, ColorPurple, ColorOther,
	}
}

// IsValid reports whether c belongs to the closed category set
func (c ColorCategory) IsValid() bool {
	for _, v := range ColorCategories() {
		if c == v {
			return true
		}
	}
	return false
}

// ColorCount is the pixel count of one colour bin
type ColorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FeatureRecord holds the features derived for one accepted region
type FeatureRecord struct {
	Corners        [4]Point      `json:"corners"`
	MeanX          float64       `json:"mean_x"`
	MeanY          float64       `json:"mean_y"`
	ColorCategory  ColorCategory `json:"color_category"`
	Area           float64       `json:"area"`
	RelativeArea   float64       `json:"relative_area"`
	RelativeHeight float64       `json:"relative_height"`
	RelativeWidth  float64       `json:"relative_width"`
	MeanColorR     float64       `json:"mean_color_r"`
	MeanColorG     float64       `json:"mean_color_g"`
	MeanColorB     float64       `json:"mean_color_b"`

	// ColorCounts are the final bin counts in evaluation order
	ColorCounts []ColorCount `json:"color_counts,omitempty"`
	// DominantPercentage is the dominant bin's share of the crop, 0-100
	DominantPercentage float64 `json:"dominant_percentage"`
}

// Route is the outcome of semantic routing
type Route struct {
	Label      string             `json:"label"`
	Similarity float64            `json:"similarity"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// Message is one chat message sent to a text generation service
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionOptions bounds a text generation call
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}
