package pensieve

import "fmt"

// EvaluationInput is passed to a multi-precursor function that was stored
// without pensieve.Named: it exposes each precursor's content by key,
// preserving the precursor's declared order. Go has no dynamic
// attribute-style access, so EvaluationInput is the single concrete type
// every such function receives; Get/MustGet stand in for the source's
// inputs['parent'] / inputs.parent duality.
type EvaluationInput struct {
	order  []string
	values map[string]any
}

func newEvaluationInput(order []string, values map[string]any) EvaluationInput {
	return EvaluationInput{order: order, values: values}
}

// Get returns the content of precursor key and whether it was present.
func (in EvaluationInput) Get(key string) (any, bool) {
	v, ok := in.values[key]
	return v, ok
}

// MustGet returns the content of precursor key, panicking if absent. Since
// EvaluationInput is only ever built from a memory's own declared
// precursors, an absent key here means a programming error, not bad input.
func (in EvaluationInput) MustGet(key string) any {
	v, ok := in.values[key]
	if !ok {
		panic(fmt.Sprintf("pensieve: evaluation input has no precursor %q", key))
	}
	return v
}

// Keys returns the precursor keys in declared order.
func (in EvaluationInput) Keys() []string {
	out := make([]string, len(in.order))
	copy(out, in.order)
	return out
}

// Len reports how many precursors this input carries.
func (in EvaluationInput) Len() int { return len(in.order) }
