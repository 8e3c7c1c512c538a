package dbopt

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/raisekit/opscore/pkg/errors"
)

// Operator names mirror the capability surface of the hosted-store filter
// DSL. A backing Store maps them onto its own primitives and fails fast on
// the ones it cannot express.
const (
	OpEq          = "eq"
	OpNeq         = "neq"
	OpGt          = "gt"
	OpGte         = "gte"
	OpLt          = "lt"
	OpLte         = "lte"
	OpIs          = "is"
	OpIn          = "in"
	OpLike        = "like"
	OpContains    = "contains"
	OpContainedBy = "containedBy"
	OpRangeGt     = "rangeGt"
	OpRangeGte    = "rangeGte"
	OpRangeLt     = "rangeLt"
	OpRangeLte    = "rangeLte"
	OpOverlaps    = "overlaps"
	OpTextSearch  = "textSearch"
	OpMatch       = "match"
)

var knownOperators = map[string]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIs: true, OpIn: true, OpLike: true, OpContains: true, OpContainedBy: true,
	OpRangeGt: true, OpRangeGte: true, OpRangeLt: true, OpRangeLte: true,
	OpOverlaps: true, OpTextSearch: true, OpMatch: true,
}

// Condition is the explicit {operator, value} filter form.
type Condition struct {
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Filters maps column names to filter values. A scalar means equality, a
// slice means set membership, a string containing '%' means a LIKE match,
// and a Condition selects its operator explicitly.
type Filters map[string]interface{}

// Predicate is one normalized column comparison handed to a Store.
type Predicate struct {
	Column   string
	Operator string
	Value    interface{}
}

// Normalize expands the filter shorthand into predicates, validating
// operators. Predicates are ordered by column for deterministic cache keys.
func (f Filters) Normalize() ([]Predicate, error) {
	preds := make([]Predicate, 0, len(f))

	for column, raw := range f {
		switch v := raw.(type) {
		case Condition:
			if !knownOperators[v.Operator] {
				return nil, errors.New(errors.KindValidation, fmt.Sprintf("unknown filter operator %q on column %s", v.Operator, column))
			}
			preds = append(preds, Predicate{Column: column, Operator: v.Operator, Value: v.Value})
		case string:
			if strings.Contains(v, "%") {
				preds = append(preds, Predicate{Column: column, Operator: OpLike, Value: v})
			} else {
				preds = append(preds, Predicate{Column: column, Operator: OpEq, Value: v})
			}
		case nil:
			preds = append(preds, Predicate{Column: column, Operator: OpIs, Value: nil})
		default:
			if reflect.TypeOf(raw).Kind() == reflect.Slice {
				preds = append(preds, Predicate{Column: column, Operator: OpIn, Value: raw})
			} else {
				preds = append(preds, Predicate{Column: column, Operator: OpEq, Value: raw})
			}
		}
	}

	sort.Slice(preds, func(i, j int) bool { return preds[i].Column < preds[j].Column })
	return preds, nil
}
