package watch

import (
	"fmt"

	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/hashicorp/go-bexpr"
)

// filter selects events with a boolean expression over their fields, such as
// `flight == "JJ3720" and status != "0"`. Field values are compared as text.
type filter struct {
	eval *bexpr.Evaluator
}

func newFilter(expr string) (*filter, error) {
	if expr == "" {
		return &filter{}, nil
	}
	eval, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter: %w", err)
	}
	return &filter{eval: eval}, nil
}

// match reports whether ev passes the filter. Events lacking a field the
// expression refers to do not match.
func (f *filter) match(ev contract.Event) bool {
	if f.eval == nil {
		return true
	}

	datum := map[string]string{"kind": string(ev.Kind())}
	for k, v := range ev.Fields() {
		datum[k] = fmt.Sprint(v)
	}

	ok, err := f.eval.Evaluate(datum)
	return err == nil && ok
}
