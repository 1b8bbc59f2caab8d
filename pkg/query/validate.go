package query

import (
	"fmt"
	"strings"

	"github.com/arbovm/levenshtein"

	"github.com/D0men1c0/LauzHack/pkg/dataset"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

// validator checks a program against the dataset schema and rewrites values
// into canonical form: float64 / []float64 for numeric columns, string /
// []string for string columns.
type validator struct {
	maxNodes int
	maxDepth int
	nodes    int
}

func (v *validator) program(p *Program) error {
	if p.Filter == nil {
		return fmt.Errorf("%w: %s is required", ErrMissingResult, keyFiltered)
	}
	if p.Filter.Where != nil {
		if err := v.predicate(p.Filter.Where, 1); err != nil {
			return err
		}
	}
	if ob := p.Filter.OrderBy; ob != nil {
		col, ok := dataset.LookupColumn(ob.Column)
		if !ok {
			return fmt.Errorf("%w: order_by: unknown column %q", ErrInvalidProgram, ob.Column)
		}
		if col.Kind == dataset.KindPoint {
			return fmt.Errorf("%w: order_by: column %q is not sortable", ErrInvalidProgram, ob.Column)
		}
	}
	if p.Filter.Limit != nil && *p.Filter.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidProgram)
	}
	if p.Output != nil {
		return v.output(p.Output)
	}
	return nil
}

func (v *validator) predicate(p *Predicate, depth int) error {
	v.nodes++
	if v.nodes > v.maxNodes {
		return fmt.Errorf("%w: filter has more than %d nodes", ErrInvalidProgram, v.maxNodes)
	}
	if depth > v.maxDepth {
		return fmt.Errorf("%w: filter nested deeper than %d", ErrInvalidProgram, v.maxDepth)
	}

	forms := 0
	if p.And != nil {
		forms++
	}
	if p.Or != nil {
		forms++
	}
	if p.Not != nil {
		forms++
	}
	if p.Column != "" || p.Op != "" {
		forms++
	}
	if forms != 1 {
		return fmt.Errorf("%w: predicate must be exactly one of and, or, not or a comparison", ErrInvalidProgram)
	}

	switch {
	case p.And != nil || p.Or != nil:
		children := p.And
		if p.Or != nil {
			children = p.Or
		}
		if len(children) == 0 {
			return fmt.Errorf("%w: empty boolean combinator", ErrInvalidProgram)
		}
		for _, c := range children {
			if c == nil {
				return fmt.Errorf("%w: null operand", ErrInvalidProgram)
			}
			if err := v.predicate(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	case p.Not != nil:
		return v.predicate(p.Not, depth+1)
	default:
		return v.comparison(p)
	}
}

func (v *validator) comparison(p *Predicate) error {
	col, ok := dataset.LookupColumn(p.Column)
	if !ok {
		return fmt.Errorf("%w: unknown column %q", ErrInvalidProgram, p.Column)
	}

	switch col.Kind {
	case dataset.KindPoint:
		return fmt.Errorf("%w: coordinate column %q cannot be compared, use mean_x/mean_y", ErrInvalidProgram, p.Column)

	case dataset.KindString:
		switch p.Op {
		case OpEq, OpNe:
			s, ok := p.Value.(string)
			if !ok {
				return fmt.Errorf("%w: %s %s expects a string", ErrInvalidProgram, p.Column, p.Op)
			}
			s, err := v.stringValue(col, s)
			if err != nil {
				return err
			}
			p.Value = s
		case OpIn:
			list, ok := p.Value.([]any)
			if !ok || len(list) == 0 {
				return fmt.Errorf("%w: %s in expects a non-empty list", ErrInvalidProgram, p.Column)
			}
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("%w: %s in expects strings", ErrInvalidProgram, p.Column)
				}
				s, err := v.stringValue(col, s)
				if err != nil {
					return err
				}
				out = append(out, s)
			}
			p.Value = out
		default:
			return fmt.Errorf("%w: operator %q not allowed on string column %q", ErrInvalidProgram, p.Op, p.Column)
		}

	case dataset.KindNumber:
		switch p.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			f, ok := p.Value.(float64)
			if !ok {
				return fmt.Errorf("%w: %s %s expects a number", ErrInvalidProgram, p.Column, p.Op)
			}
			p.Value = f
		case OpBetween:
			nums, err := numberList(p)
			if err != nil {
				return err
			}
			if len(nums) != 2 || nums[0] > nums[1] {
				return fmt.Errorf("%w: %s between expects [low, high]", ErrInvalidProgram, p.Column)
			}
			p.Value = nums
		case OpIn:
			nums, err := numberList(p)
			if err != nil {
				return err
			}
			p.Value = nums
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidProgram, p.Op)
		}
	}
	return nil
}

func numberList(p *Predicate) ([]float64, error) {
	list, ok := p.Value.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: %s %s expects a non-empty list of numbers", ErrInvalidProgram, p.Column, p.Op)
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s expects numbers", ErrInvalidProgram, p.Column, p.Op)
		}
		out = append(out, f)
	}
	return out, nil
}

func (v *validator) stringValue(col dataset.Column, s string) (string, error) {
	if col.Name != dataset.ColColorCategory {
		return s, nil
	}
	c, ok := NormalizeColor(s)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a known colour", ErrInvalidProgram, s)
	}
	return string(c), nil
}

func (v *validator) output(o *OutputSpec) error {
	switch o.Op {
	case AggCount:
		if o.Column != "" {
			if _, ok := dataset.LookupColumn(o.Column); !ok {
				return fmt.Errorf("%w: output: unknown column %q", ErrInvalidProgram, o.Column)
			}
		}
	case AggSum, AggMean, AggMin, AggMax, AggMedian:
		col, ok := dataset.LookupColumn(o.Column)
		if !ok {
			return fmt.Errorf("%w: output: %s needs a known column, got %q", ErrInvalidProgram, o.Op, o.Column)
		}
		if col.Kind != dataset.KindNumber {
			return fmt.Errorf("%w: output: %s needs a numeric column, %q is %s", ErrInvalidProgram, o.Op, o.Column, col.Kind)
		}
	case AggRows:
		if o.GroupBy != "" {
			return fmt.Errorf("%w: output: rows cannot be grouped", ErrInvalidProgram)
		}
		return nil
	default:
		return fmt.Errorf("%w: output: unknown operation %q", ErrInvalidProgram, o.Op)
	}

	if o.GroupBy != "" {
		col, ok := dataset.LookupColumn(o.GroupBy)
		if !ok {
			return fmt.Errorf("%w: output: unknown group_by column %q", ErrInvalidProgram, o.GroupBy)
		}
		if col.Kind == dataset.KindPoint {
			return fmt.Errorf("%w: output: cannot group by coordinate column %q", ErrInvalidProgram, o.GroupBy)
		}
	}
	return nil
}

// colorSynonyms are accepted spellings that are not near misses of a category
var colorSynonyms = map[string]types.ColorCategory{
	"grey":   types.ColorGray,
	"violet": types.ColorPurple,
}

// minFuzzyLen keeps short words such as "bed" from snapping onto "red"
const minFuzzyLen = 4

// NormalizeColor maps a colour term onto the closed category set. Exact names
// and synonyms match directly; otherwise a term of at least four letters is
// accepted when exactly one category is within edit distance 1 and starts with
// the same letter ("greeen" -> green). Anything else is rejected.
func NormalizeColor(term string) (types.ColorCategory, bool) {
	t := strings.ToLower(strings.TrimSpace(term))
	if c := types.ColorCategory(t); c.IsValid() {
		return c, true
	}
	if c, ok := colorSynonyms[t]; ok {
		return c, true
	}
	if len(t) < minFuzzyLen {
		return "", false
	}

	var match types.ColorCategory
	found := 0
	for _, c := range types.ColorCategories() {
		if t[0] == string(c)[0] && levenshtein.Distance(t, string(c)) <= 1 {
			match = c
			found++
		}
	}
	if found != 1 {
		return "", false
	}
	return match, true
}
