package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	keyFiltered = "filtered_data"
	keyOutput   = "output_variable"
)

// Program is the declarative filter the model returns. It is interpreted over
// the dataset, never executed as code.
type Program struct {
	Filter *FilterSpec `json:"filtered_data"`
	Output *OutputSpec `json:"output_variable"`
}

// FilterSpec selects, orders and truncates rows
type FilterSpec struct {
	Where   *Predicate `json:"where"`
	OrderBy *OrderBy   `json:"order_by,omitempty"`
	Limit   *int       `json:"limit,omitempty"`
}

// OrderBy sorts the filtered rows on one column
type OrderBy struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Predicate is either a boolean combinator (and, or, not) or a comparison on one column
type Predicate struct {
	And    []*Predicate `json:"and,omitempty"`
	Or     []*Predicate `json:"or,omitempty"`
	Not    *Predicate   `json:"not,omitempty"`
	Column string       `json:"column,omitempty"`
	Op     string       `json:"op,omitempty"`
	Value  any          `json:"value,omitempty"`
}

// OutputSpec derives a value from the filtered rows
type OutputSpec struct {
	Op      string `json:"op"`
	Column  string `json:"column,omitempty"`
	GroupBy string `json:"group_by,omitempty"`
}

// Comparison operators
const (
	OpEq      = "eq"
	OpNe      = "ne"
	OpLt      = "lt"
	OpLe      = "le"
	OpGt      = "gt"
	OpGe      = "ge"
	OpBetween = "between"
	OpIn      = "in"
)

// Aggregate operators
const (
	AggCount  = "count"
	AggSum    = "sum"
	AggMean   = "mean"
	AggMin    = "min"
	AggMax    = "max"
	AggMedian = "median"
	AggRows   = "rows"
)

// Parse decodes a sanitised program. Both top-level keys must be present;
// output_variable may be null, filtered_data may not.
func Parse(raw string) (*Program, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if err := checkDuplicateKeys(raw); err != nil {
		return nil, err
	}
	for _, k := range []string{keyFiltered, keyOutput} {
		if _, ok := top[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingResult, k)
		}
	}
	for k := range top {
		if k != keyFiltered && k != keyOutput {
			return nil, fmt.Errorf("%w: unexpected key %q", ErrInvalidProgram, k)
		}
	}
	if isNull(top[keyFiltered]) {
		return nil, fmt.Errorf("%w: %s is null", ErrMissingResult, keyFiltered)
	}

	p := &Program{Filter: &FilterSpec{}}
	if err := decodeStrict(top[keyFiltered], p.Filter); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSyntax, keyFiltered, err)
	}
	if !isNull(top[keyOutput]) {
		p.Output = &OutputSpec{}
		if err := decodeStrict(top[keyOutput], p.Output); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSyntax, keyOutput, err)
		}
	}
	return p, nil
}

// checkDuplicateKeys rejects a top-level key given twice; a plain map decode
// would silently keep the last one.
func checkDuplicateKeys(raw string) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		key, _ := tok.(string)
		if seen[key] {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidProgram, key)
		}
		seen[key] = true

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
	}
	return nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
