package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/D0men1c0/LauzHack/pkg/dataset"
)

// Aggregate is the derived output of a program. Value is one of float64,
// map[string]float64 or *dataset.Dataset.
type Aggregate struct {
	Op      string `json:"op"`
	Column  string `json:"column,omitempty"`
	GroupBy string `json:"group_by,omitempty"`
	Value   any    `json:"value"`
}

// String renders the aggregate the way it is shown to the explainer
func (a *Aggregate) String() string {
	switch v := a.Value.(type) {
	case float64:
		return dataset.FormatNumber(v)
	case map[string]float64:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys)+1)
		lines = append(lines, a.GroupBy)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s    %s", k, dataset.FormatNumber(v[k])))
		}
		return strings.Join(lines, "\n")
	case *dataset.Dataset:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// evaluator runs a validated program over one dataset. It sees nothing else.
type evaluator struct {
	ds *dataset.Dataset
}

func (e *evaluator) run(ctx context.Context, p *Program) ([]int, *Aggregate, error) {
	indices := make([]int, 0, e.ds.Len())
	for i := 0; i < e.ds.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ok := true
		if p.Filter.Where != nil {
			var err error
			ok, err = e.match(p.Filter.Where, i)
			if err != nil {
				return nil, nil, err
			}
		}
		if ok {
			indices = append(indices, i)
		}
	}

	if ob := p.Filter.OrderBy; ob != nil {
		if err := e.sort(indices, ob); err != nil {
			return nil, nil, err
		}
	}
	if p.Filter.Limit != nil && *p.Filter.Limit < len(indices) {
		indices = indices[:*p.Filter.Limit]
	}

	if p.Output == nil {
		return indices, nil, nil
	}
	agg, err := e.aggregate(p.Output, indices)
	if err != nil {
		return nil, nil, err
	}
	return indices, agg, nil
}

func (e *evaluator) match(p *Predicate, row int) (bool, error) {
	switch {
	case p.And != nil:
		for _, c := range p.And {
			ok, err := e.match(c, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case p.Or != nil:
		for _, c := range p.Or {
			ok, err := e.match(c, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case p.Not != nil:
		ok, err := e.match(p.Not, row)
		return !ok, err
	}

	cell, err := e.ds.Value(row, p.Column)
	if err != nil {
		return false, err
	}
	switch v := cell.(type) {
	case string:
		return compareString(v, p)
	case float64:
		return compareNumber(v, p)
	}
	return false, fmt.Errorf("column %q cannot be compared", p.Column)
}

func compareString(v string, p *Predicate) (bool, error) {
	switch p.Op {
	case OpEq:
		return v == p.Value.(string), nil
	case OpNe:
		return v != p.Value.(string), nil
	case OpIn:
		for _, s := range p.Value.([]string) {
			if v == s {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("operator %q on string column %q", p.Op, p.Column)
}

func compareNumber(v float64, p *Predicate) (bool, error) {
	switch p.Op {
	case OpEq:
		return v == p.Value.(float64), nil
	case OpNe:
		return v != p.Value.(float64), nil
	case OpLt:
		return v < p.Value.(float64), nil
	case OpLe:
		return v <= p.Value.(float64), nil
	case OpGt:
		return v > p.Value.(float64), nil
	case OpGe:
		return v >= p.Value.(float64), nil
	case OpBetween:
		r := p.Value.([]float64)
		return v >= r[0] && v <= r[1], nil
	case OpIn:
		for _, f := range p.Value.([]float64) {
			if v == f {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("operator %q on numeric column %q", p.Op, p.Column)
}

func (e *evaluator) sort(indices []int, ob *OrderBy) error {
	col, _ := dataset.LookupColumn(ob.Column)
	var sortErr error
	less := func(a, b int) bool {
		va, errA := e.ds.Value(indices[a], ob.Column)
		vb, errB := e.ds.Value(indices[b], ob.Column)
		if errA != nil || errB != nil {
			sortErr = fmt.Errorf("order_by %q: cannot read column", ob.Column)
			return false
		}
		if col.Kind == dataset.KindString {
			if ob.Desc {
				return va.(string) > vb.(string)
			}
			return va.(string) < vb.(string)
		}
		if ob.Desc {
			return va.(float64) > vb.(float64)
		}
		return va.(float64) < vb.(float64)
	}
	sort.SliceStable(indices, less)
	return sortErr
}

func (e *evaluator) aggregate(o *OutputSpec, indices []int) (*Aggregate, error) {
	agg := &Aggregate{Op: o.Op, Column: o.Column, GroupBy: o.GroupBy}

	if o.Op == AggRows {
		agg.Value = e.ds.Subset(indices)
		return agg, nil
	}

	if o.GroupBy == "" {
		v, err := e.reduce(o, indices)
		if err != nil {
			return nil, err
		}
		agg.Value = v
		return agg, nil
	}

	groups := map[string][]int{}
	for _, i := range indices {
		key, err := e.ds.Value(i, o.GroupBy)
		if err != nil {
			return nil, err
		}
		k := groupKey(key)
		groups[k] = append(groups[k], i)
	}
	out := make(map[string]float64, len(groups))
	for k, rows := range groups {
		v, err := e.reduce(o, rows)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	agg.Value = out
	return agg, nil
}

func groupKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return dataset.FormatNumber(t)
	default:
		return fmt.Sprint(v)
	}
}

func (e *evaluator) reduce(o *OutputSpec, indices []int) (float64, error) {
	if o.Op == AggCount {
		return float64(len(indices)), nil
	}

	values := make([]float64, 0, len(indices))
	for _, i := range indices {
		f, err := e.ds.Number(i, o.Column)
		if err != nil {
			return 0, err
		}
		values = append(values, f)
	}

	switch o.Op {
	case AggSum:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case AggMean:
		if len(values) == 0 {
			return math.NaN(), nil
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case AggMin, AggMax:
		if len(values) == 0 {
			return math.NaN(), nil
		}
		best := values[0]
		for _, v := range values[1:] {
			if (o.Op == AggMin && v < best) || (o.Op == AggMax && v > best) {
				best = v
			}
		}
		return best, nil
	case AggMedian:
		if len(values) == 0 {
			return math.NaN(), nil
		}
		sort.Float64s(values)
		n := len(values)
		if n%2 == 1 {
			return values[n/2], nil
		}
		return (values[n/2-1] + values[n/2]) / 2, nil
	}
	return 0, fmt.Errorf("unknown aggregate %q", o.Op)
}
