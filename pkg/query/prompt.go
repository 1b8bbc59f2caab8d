package query

import (
	"fmt"
	"strings"

	"github.com/D0men1c0/LauzHack/pkg/analyzer"
	"github.com/D0men1c0/LauzHack/pkg/dataset"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

const systemPrompt = `You translate questions about objects detected in an image into a JSON filter program.

Return JSON only, exactly this shape:
{
  "filtered_data": {
    "where": <predicate or null>,
    "order_by": {"column": "<column>", "desc": true} or omitted,
    "limit": <integer> or omitted
  },
  "output_variable": null or {"op": "<op>", "column": "<column>", "group_by": "<column>"}
}

A predicate is one of:
  {"and": [<predicate>, ...]}
  {"or": [<predicate>, ...]}
  {"not": <predicate>}
  {"column": "<column>", "op": "eq|ne|lt|le|gt|ge|between|in", "value": <value>}
"between" takes [low, high] (inclusive), "in" takes a non-empty list.
String columns only accept eq, ne and in.

"filtered_data" selects the rows that answer the question; use "where": null to keep every row.
"output_variable" is null unless the question asks for a number or a summary:
  count (rows, or per group), sum, mean, min, max, median (need a numeric column),
  rows (the selected rows themselves). "group_by" splits the aggregate per value of a column.

HARD RULES
- Use only the listed columns. Coordinate columns cannot be compared; use mean_x and mean_y for position.
- Colours named in the question match color_category against one of: %s.
- A numeric RGB range compares mean_color_r, mean_color_g and mean_color_b. If the range is
  partial or implicit, allow +/- %s on each channel.
- x grows to the right and y grows downwards; "left" means small mean_x, "top" means small mean_y.
- Both keys must be present. JSON only. No markdown, no code fences, no comments, no trailing commas.`

// buildMessages assembles the system and user messages for one compile call
func buildMessages(info analyzer.ImageInfo, query string, tolerance float64) []types.Message {
	colors := make([]string, 0, len(types.ColorCategories()))
	for _, c := range types.ColorCategories() {
		colors = append(colors, string(c))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The image is %d pixels wide and %d pixels high (area %d).\n\n", info.Width, info.Height, info.Area)
	sb.WriteString("The table has one row per detected object and these columns:\n")
	for _, c := range dataset.Columns {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", c.Name, c.Kind, c.Description)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", query)

	return []types.Message{
		{Role: types.RoleSystem, Content: fmt.Sprintf(systemPrompt, strings.Join(colors, ", "), dataset.FormatNumber(tolerance))},
		{Role: types.RoleUser, Content: sb.String()},
	}
}
