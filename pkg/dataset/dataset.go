// Package dataset assembles per-region features into an ordered table with a
// fixed column schema.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

// Kind is the value type of a column
type Kind int

const (
	KindPoint Kind = iota
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Column describes one table column
type Column struct {
	Name        string
	Kind        Kind
	Description string
}

const (
	ColCoord1         = "coord_1"
	ColCoord2         = "coord_2"
	ColCoord3         = "coord_3"
	ColCoord4         = "coord_4"
	ColMeanX          = "mean_x"
	ColMeanY          = "mean_y"
	ColColorCategory  = "color_category"
	ColArea           = "area"
	ColRelativeArea   = "relative_area"
	ColRelativeHeight = "relative_height"
	ColRelativeWidth  = "relative_width"
	ColMeanColorR     = "mean_color_r"
	ColMeanColorG     = "mean_color_g"
	ColMeanColorB     = "mean_color_b"
)

// Columns is the fixed schema, in table order
var Columns = []Column{
	{ColCoord1, KindPoint, "top-left corner [x y] in pixels"},
	{ColCoord2, KindPoint, "top-right corner [x y] in pixels"},
	{ColCoord3, KindPoint, "bottom-right corner [x y] in pixels"},
	{ColCoord4, KindPoint, "bottom-left corner [x y] in pixels"},
	{ColMeanX, KindNumber, "horizontal centre in pixels"},
	{ColMeanY, KindNumber, "vertical centre in pixels (grows downwards)"},
	{ColColorCategory, KindString, "dominant colour name"},
	{ColArea, KindNumber, "box area in square pixels"},
	{ColRelativeArea, KindNumber, "box area divided by image area"},
	{ColRelativeHeight, KindNumber, "box height divided by image height"},
	{ColRelativeWidth, KindNumber, "box width divided by image width"},
	{ColMeanColorR, KindNumber, "mean red channel of the box, 0-255"},
	{ColMeanColorG, KindNumber, "mean green channel of the box, 0-255"},
	{ColMeanColorB, KindNumber, "mean blue channel of the box, 0-255"},
}

// LookupColumn returns the schema entry for name
func LookupColumn(name string) (Column, bool) {
	for _, c := range Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in table order
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// Dataset is an ordered table of feature rows for one image
type Dataset struct {
	Rows        []types.FeatureRecord
	ImageWidth  int
	ImageHeight int
}

// New wraps rows into a dataset for an image of the given size
func New(rows []types.FeatureRecord, width, height int) *Dataset {
	return &Dataset{Rows: rows, ImageWidth: width, ImageHeight: height}
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Value returns the cell at row for column. Points come back as types.Point,
// numbers as float64 and colour categories as string.
func (d *Dataset) Value(row int, column string) (any, error) {
	if row < 0 || row >= d.Len() {
		return nil, fmt.Errorf("row %d out of range", row)
	}
	r := d.Rows[row]
	switch column {
	case ColCoord1:
		return r.Corners[0], nil
	case ColCoord2:
		return r.Corners[1], nil
	case ColCoord3:
		return r.Corners[2], nil
	case ColCoord4:
		return r.Corners[3], nil
	case ColMeanX:
		return r.MeanX, nil
	case ColMeanY:
		return r.MeanY, nil
	case ColColorCategory:
		return string(r.ColorCategory), nil
	case ColArea:
		return r.Area, nil
	case ColRelativeArea:
		return r.RelativeArea, nil
	case ColRelativeHeight:
		return r.RelativeHeight, nil
	case ColRelativeWidth:
		return r.RelativeWidth, nil
	case ColMeanColorR:
		return r.MeanColorR, nil
	case ColMeanColorG:
		return r.MeanColorG, nil
	case ColMeanColorB:
		return r.MeanColorB, nil
	}
	return nil, fmt.Errorf("unknown column %q", column)
}

// Number returns a numeric cell
func (d *Dataset) Number(row int, column string) (float64, error) {
	v, err := d.Value(row, column)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("column %q is not numeric", column)
	}
	return f, nil
}

// Subset returns a new dataset with the rows at indices, in the given order
func (d *Dataset) Subset(indices []int) *Dataset {
	rows := make([]types.FeatureRecord, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < d.Len() {
			rows = append(rows, d.Rows[i])
		}
	}
	return &Dataset{Rows: rows, ImageWidth: d.ImageWidth, ImageHeight: d.ImageHeight}
}

// Records returns the rows as column-keyed maps, points formatted as corners
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, 0, d.Len())
	for i := 0; i < d.Len(); i++ {
		rec := make(map[string]any, len(Columns))
		for _, c := range Columns {
			v, _ := d.Value(i, c.Name)
			if p, ok := v.(types.Point); ok {
				v = FormatCorner(p)
			}
			rec[c.Name] = v
		}
		out = append(out, rec)
	}
	return out
}

// String renders a fixed-width table with a leading row index
func (d *Dataset) String() string {
	if d.Len() == 0 {
		return "Empty dataset\nColumns: [" + strings.Join(ColumnNames(), ", ") + "]"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(w, "\t"+strings.Join(ColumnNames(), "\t")+"\t\n")
	for i := 0; i < d.Len(); i++ {
		cells := make([]string, 0, len(Columns)+1)
		cells = append(cells, strconv.Itoa(i))
		for _, c := range Columns {
			v, _ := d.Value(i, c.Name)
			cells = append(cells, formatCell(v))
		}
		fmt.Fprint(w, strings.Join(cells, "\t")+"\t\n")
	}
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

func formatCell(v any) string {
	switch t := v.(type) {
	case types.Point:
		return FormatCorner(t)
	case float64:
		return FormatNumber(t)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}

// FormatNumber prints up to six decimals without trailing zeros
func FormatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
