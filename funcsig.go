package pensieve

import (
	"fmt"
	"reflect"
	"runtime"
)

// Func0 is a root memory's producer: no precursors.
type Func0 func() (any, error)

// Func1 is a single-precursor memory's producer.
type Func1 func(any) (any, error)

// FuncView is a multi-precursor memory's producer taking the ergonomic
// EvaluationInput view rather than individually bound arguments.
type FuncView func(EvaluationInput) (any, error)

// namedFunc marks a function built with Named: its declared parameter
// names are known, so Store can bind precursor contents positionally by
// name instead of requiring the EvaluationInput view.
type namedFunc struct {
	names []string
	fn    reflect.Value
}

// Named wraps fn so Store can bind precursor contents to its parameters by
// name, mirroring the source's fn(**kwargs) binding mode. fn must be a
// func with len(names) parameters, each of type any (or a type every
// matching precursor's content is assignable to), returning (any, error).
// Go cannot recover parameter names by reflection, so the caller supplies
// them explicitly; this is the escape hatch for kwarg-style binding.
func Named(fn any, names ...string) any {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic("pensieve.Named: fn must be a function")
	}
	if v.Type().NumIn() != len(names) {
		panic(fmt.Sprintf("pensieve.Named: fn takes %d parameters but %d names were given", v.Type().NumIn(), len(names)))
	}
	return &namedFunc{names: names, fn: v}
}

type arityKind int

const (
	arityZero arityKind = iota
	arityOne
	arityView
	arityNamed
)

// storedFunc is a memory's function in both original and normalized form,
// plus the source-surrogate text HashProbe fingerprints.
type storedFunc struct {
	kind   arityKind
	zero   Func0
	one    Func1
	view   FuncView
	named  *namedFunc
	source string
}

// normalizeFunc inspects fn (as passed to Store) and produces a
// storedFunc, or an error if fn's shape isn't one of the three supported
// arities. explicitSource overrides the captured call-site surrogate when
// non-empty (pensieve.WithSource).
func normalizeFunc(fn any, explicitSource string) (storedFunc, []string, error) {
	var sf storedFunc
	var inferredPrecursors []string

	switch f := fn.(type) {
	case Func0:
		sf = storedFunc{kind: arityZero, zero: f}
	case func() (any, error):
		sf = storedFunc{kind: arityZero, zero: f}
	case Func1:
		sf = storedFunc{kind: arityOne, one: f}
	case func(any) (any, error):
		sf = storedFunc{kind: arityOne, one: f}
	case FuncView:
		sf = storedFunc{kind: arityView, view: f}
	case func(EvaluationInput) (any, error):
		sf = storedFunc{kind: arityView, view: f}
	case *namedFunc:
		sf = storedFunc{kind: arityNamed, named: f}
		inferredPrecursors = append(inferredPrecursors, f.names...)
	default:
		return storedFunc{}, nil, fmt.Errorf("pensieve: unsupported function type %T: must be func() (any, error), func(any) (any, error), func(EvaluationInput) (any, error), or pensieve.Named(...)", fn)
	}

	if explicitSource != "" {
		sf.source = explicitSource
	} else {
		sf.source = captureSourceSurrogate(fn, 3)
	}

	return sf, inferredPrecursors, nil
}

// captureSourceSurrogate builds the HashProbe source input: the function's
// symbol name (distinguishes distinct closures) plus the call-site
// file:line that invoked Store (distinguishes textually distinct closures
// declared at the same symbol, e.g. inside a loop body in a generic
// helper). skip is the number of stack frames between this function and
// the original Store call.
func captureSourceSurrogate(fn any, skip int) string {
	name := "<unknown>"
	if v := reflect.ValueOf(fn); v.Kind() == reflect.Func && v.Pointer() != 0 {
		if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
			name = rf.Name()
		}
	} else if nf, ok := fn.(*namedFunc); ok && nf.fn.Pointer() != 0 {
		if rf := runtime.FuncForPC(nf.fn.Pointer()); rf != nil {
			name = rf.Name()
		}
	}

	file, line := "<unknown>", 0
	if _, f, l, ok := runtime.Caller(skip); ok {
		file, line = f, l
	}

	return fmt.Sprintf("%s@%s:%d", name, file, line)
}

// isEmpty reports whether sf carries no invocable function — the state of
// a Memory reconstructed by Load that had no saved content, so only its
// source surrogate text survived the round trip.
func (sf storedFunc) isEmpty() bool {
	switch sf.kind {
	case arityZero:
		return sf.zero == nil
	case arityOne:
		return sf.one == nil
	case arityView:
		return sf.view == nil
	case arityNamed:
		return sf.named == nil
	default:
		return true
	}
}

// call dispatches the stored function to its normalized arity, given the
// precursor contents in declared order (parallel to precursorKeys).
func (sf storedFunc) call(precursorKeys []string, values []any) (any, error) {
	switch sf.kind {
	case arityZero:
		return sf.zero()
	case arityOne:
		if len(values) != 1 {
			return nil, fmt.Errorf("pensieve: internal error: single-precursor function called with %d values", len(values))
		}
		return sf.one(values[0])
	case arityView:
		m := make(map[string]any, len(values))
		for i, k := range precursorKeys {
			m[k] = values[i]
		}
		return sf.view(newEvaluationInput(precursorKeys, m))
	case arityNamed:
		args := make([]reflect.Value, len(sf.named.names))
		byKey := make(map[string]any, len(values))
		for i, k := range precursorKeys {
			byKey[k] = values[i]
		}
		for i, name := range sf.named.names {
			v, ok := byKey[name]
			if !ok {
				return nil, fmt.Errorf("pensieve: internal error: named parameter %q has no matching precursor", name)
			}
			if v == nil {
				args[i] = reflect.Zero(sf.named.fn.Type().In(i))
			} else {
				args[i] = reflect.ValueOf(v)
			}
		}
		out := sf.named.fn.Call(args)
		return unpackNamedResult(out)
	default:
		return nil, fmt.Errorf("pensieve: internal error: unknown function arity")
	}
}

func unpackNamedResult(out []reflect.Value) (any, error) {
	if len(out) != 2 {
		return nil, fmt.Errorf("pensieve: named function must return (any, error), got %d results", len(out))
	}
	content := out[0].Interface()
	var err error
	if out[1].IsValid() && !out[1].IsNil() {
		err, _ = out[1].Interface().(error)
	}
	return content, err
}
