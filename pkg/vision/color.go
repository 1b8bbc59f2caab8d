package vision

import (
	"fmt"
	"strings"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

// ColorBin is an inclusive HSV range in OpenCV units (H 0-180, S and V 0-255).
// Bins whose name ends in digits (red1, red2) are folded into their base name.
type ColorBin struct {
	Name  string     `json:"name" mapstructure:"name"`
	Lower [3]float64 `json:"lower" mapstructure:"lower"`
	Upper [3]float64 `json:"upper" mapstructure:"upper"`
}

// ColorConfig holds the colour classification thresholds.
// The defaults were tuned on one imagery domain and are meant to be overridden.
type ColorConfig struct {
	Bins []ColorBin `json:"bins" mapstructure:"bins"`
	// MinDominancePercent is the share of the crop the winning bin needs, else "other"
	MinDominancePercent float64 `json:"min_dominance_percent" mapstructure:"min_dominance_percent"`
	// MinBlueRatio zeroes the blue bin when blue / chromatic pixels falls below it
	MinBlueRatio float64 `json:"min_blue_ratio" mapstructure:"min_blue_ratio"`
	// ReflectionBand is the top fraction of the crop ignored for blue
	ReflectionBand float64 `json:"reflection_band" mapstructure:"reflection_band"`
	// BlueKernelSize is the elliptical opening kernel applied to the blue mask
	BlueKernelSize int `json:"blue_kernel_size" mapstructure:"blue_kernel_size"`
}

// DefaultBins returns the reference HSV table in evaluation order
func DefaultBins() []ColorBin {
	return []ColorBin{
		{Name: "black", Lower: [3]float64{0, 0, 0}, Upper: [3]float64{180, 255, 50}},
		{Name: "white", Lower: [3]float64{0, 0, 200}, Upper: [3]float64{180, 30, 255}},
		{Name: "gray", Lower: [3]float64{0, 0, 51}, Upper: [3]float64{180, 50, 199}},
		{Name: "red1", Lower: [3]float64{0, 50, 50}, Upper: [3]float64{10, 255, 255}},
		{Name: "red2", Lower: [3]float64{160, 50, 50}, Upper: [3]float64{180, 255, 255}},
		{Name: "orange", Lower: [3]float64{11, 50, 50}, Upper: [3]float64{25, 255, 255}},
		{Name: "yellow", Lower: [3]float64{26, 50, 50}, Upper: [3]float64{34, 255, 255}},
		{Name: "green", Lower: [3]float64{35, 50, 50}, Upper: [3]float64{85, 255, 255}},
		{Name: "blue", Lower: [3]float64{100, 150, 50}, Upper: [3]float64{115, 255, 200}},
		{Name: "purple", Lower: [3]float64{126, 50, 50}, Upper: [3]float64{159, 255, 255}},
	}
}

// DefaultColorConfig returns the reference tuning
func DefaultColorConfig() ColorConfig {
	return ColorConfig{
		Bins:                DefaultBins(),
		MinDominancePercent: 10,
		MinBlueRatio:        0.2,
		ReflectionBand:      0.2,
		BlueKernelSize:      5,
	}
}

// Validate checks bin names and threshold ranges
func (c ColorConfig) Validate() error {
	if len(c.Bins) == 0 {
		return fmt.Errorf("color bins cannot be empty")
	}
	for _, b := range c.Bins {
		cat := types.ColorCategory(baseName(b.Name))
		if !cat.IsValid() || cat == types.ColorOther {
			return fmt.Errorf("color bin %q does not map to a colour category", b.Name)
		}
		for i := 0; i < 3; i++ {
			if b.Lower[i] > b.Upper[i] {
				return fmt.Errorf("color bin %q has lower bound above upper bound on channel %d", b.Name, i)
			}
		}
	}
	if c.MinDominancePercent < 0 || c.MinDominancePercent > 100 {
		return fmt.Errorf("min_dominance_percent must be between 0 and 100")
	}
	if c.MinBlueRatio < 0 || c.MinBlueRatio > 1 {
		return fmt.Errorf("min_blue_ratio must be between 0 and 1")
	}
	if c.ReflectionBand < 0 || c.ReflectionBand > 1 {
		return fmt.Errorf("reflection_band must be between 0 and 1")
	}
	if c.BlueKernelSize < 1 {
		return fmt.Errorf("blue_kernel_size must be positive")
	}
	return nil
}

// baseName strips a trailing numeric suffix: red2 -> red
func baseName(name string) string {
	return strings.TrimRight(strings.ToLower(name), "0123456789")
}

// mergeCounts folds sub-bins into their base bin. Base bins keep their position,
// a base that only exists through sub-bins is appended after all others, in the
// order its first sub-bin appeared. With the default table this yields
// black, white, gray, orange, yellow, green, blue, purple, red.
func mergeCounts(bins []ColorBin, raw []int) []types.ColorCount {
	out := make([]types.ColorCount, 0, len(bins))
	index := map[string]int{}
	for i, b := range bins {
		name := strings.ToLower(b.Name)
		if baseName(name) != name {
			continue
		}
		if j, ok := index[name]; ok {
			out[j].Count += raw[i]
			continue
		}
		index[name] = len(out)
		out = append(out, types.ColorCount{Name: name, Count: raw[i]})
	}
	for i, b := range bins {
		base := baseName(b.Name)
		if base == strings.ToLower(b.Name) {
			continue
		}
		if j, ok := index[base]; ok {
			out[j].Count += raw[i]
			continue
		}
		index[base] = len(out)
		out = append(out, types.ColorCount{Name: base, Count: raw[i]})
	}
	return out
}

// decide applies the blue ratio rule and the dominance rule to merged counts.
// Ties go to the first bin in iteration order.
func decide(counts []types.ColorCount, totalPixels int, cfg ColorConfig) (types.ColorCategory, float64) {
	sum, black, white, blue := 0, 0, 0, -1
	for i, c := range counts {
		sum += c.Count
		switch types.ColorCategory(c.Name) {
		case types.ColorBlack:
			black = c.Count
		case types.ColorWhite:
			white = c.Count
		case types.ColorBlue:
			blue = i
		}
	}

	if blue >= 0 {
		chromatic := sum - black - white
		ratio := 0.0
		if chromatic > 0 {
			ratio = float64(counts[blue].Count) / float64(chromatic)
		}
		if ratio < cfg.MinBlueRatio {
			counts[blue].Count = 0
		}
	}

	if len(counts) == 0 || totalPixels == 0 {
		return types.ColorOther, 0
	}

	dominant := 0
	for i := 1; i < len(counts); i++ {
		if counts[i].Count > counts[dominant].Count {
			dominant = i
		}
	}

	pct := float64(counts[dominant].Count) / float64(totalPixels) * 100
	if pct < cfg.MinDominancePercent {
		return types.ColorOther, pct
	}
	return types.ColorCategory(counts[dominant].Name), pct
}
