package dataset

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

// ErrMalformedCorner is returned when a corner value cannot be read as two coordinates
var ErrMalformedCorner = errors.New("malformed corner")

// FormatCorner prints a corner as a numeric list, e.g. "[10. 10.]" or "[10.5 20.25]"
func FormatCorner(p types.Point) string {
	return "[" + formatCoord(p.X) + " " + formatCoord(p.Y) + "]"
}

func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += "."
	}
	return s
}

// ParseCorner reads a corner from any of the representations a row can carry
// and truncates it to integer pixels.
func ParseCorner(v any) (image.Point, error) {
	switch t := v.(type) {
	case types.Point:
		return truncate(t.X, t.Y, v)
	case *types.Point:
		if t == nil {
			break
		}
		return truncate(t.X, t.Y, v)
	case image.Point:
		return t, nil
	case [2]float64:
		return truncate(t[0], t[1], v)
	case [2]int:
		return image.Pt(t[0], t[1]), nil
	case []float64:
		if len(t) == 2 {
			return truncate(t[0], t[1], v)
		}
	case []int:
		if len(t) == 2 {
			return image.Pt(t[0], t[1]), nil
		}
	case []any:
		if len(t) == 2 {
			x, okX := toFloat(t[0])
			y, okY := toFloat(t[1])
			if okX && okY {
				return truncate(x, y, v)
			}
		}
	case string:
		return parseCornerString(t)
	}
	return image.Point{}, fmt.Errorf("%w: %v (%T)", ErrMalformedCorner, v, v)
}

func parseCornerString(s string) (image.Point, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, "]")
	trimmed = strings.TrimSuffix(trimmed, ")")

	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) != 2 {
		return image.Point{}, fmt.Errorf("%w: %q", ErrMalformedCorner, s)
	}

	coords := [2]float64{}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return image.Point{}, fmt.Errorf("%w: %q", ErrMalformedCorner, s)
		}
		coords[i] = v
	}
	return truncate(coords[0], coords[1], s)
}

// truncate converts finite coordinates toward zero
func truncate(x, y float64, orig any) (image.Point, error) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return image.Point{}, fmt.Errorf("%w: %v", ErrMalformedCorner, orig)
	}
	return image.Pt(int(x), int(y)), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
