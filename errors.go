package pensieve

import "fmt"

// PensieveError is the root of the error taxonomy every operation in this
// package returns through. Callers that care about the specific failure
// kind should use errors.As against one of the concrete types below rather
// than string-matching Error().
type PensieveError interface {
	error
	pensieveError()
}

type baseError struct {
	msg string
}

func (e *baseError) Error() string { return e.msg }
func (e *baseError) pensieveError() {}

// MissingMemoryError is returned when an operation references a key that
// does not exist in the pensieve.
type MissingMemoryError struct {
	*baseError
	Key string
}

func newMissingMemoryError(key string) *MissingMemoryError {
	return &MissingMemoryError{
		baseError: &baseError{msg: fmt.Sprintf("pensieve: no memory named %q", key)},
		Key:       key,
	}
}

// StoringError reports a violated precondition of Store: a bad key, an
// unknown precursor, or a cycle. UnknownPrecursorError, MemoryRecursionError
// and IllegalKeyError all unwrap to a *StoringError.
type StoringError struct {
	*baseError
	Key string
}

func newStoringError(key, reason string) *StoringError {
	return &StoringError{
		baseError: &baseError{msg: fmt.Sprintf("pensieve: cannot store %q: %s", key, reason)},
		Key:       key,
	}
}

// UnknownPrecursorError is raised when Store references a precursor key
// that does not exist in the pensieve.
type UnknownPrecursorError struct {
	*StoringError
	Precursor string
}

func newUnknownPrecursorError(key, precursor string) *UnknownPrecursorError {
	return &UnknownPrecursorError{
		StoringError: newStoringError(key, fmt.Sprintf("unknown precursor %q", precursor)),
		Precursor:    precursor,
	}
}

func (e *UnknownPrecursorError) Unwrap() error { return e.StoringError }

// MemoryRecursionError is raised when Store would introduce a cycle.
type MemoryRecursionError struct {
	*StoringError
	Cycle []string
}

func newMemoryRecursionError(key string, cycle []string) *MemoryRecursionError {
	return &MemoryRecursionError{
		StoringError: newStoringError(key, fmt.Sprintf("would create a cycle through %v", cycle)),
		Cycle:        cycle,
	}
}

func (e *MemoryRecursionError) Unwrap() error { return e.StoringError }

// IllegalKeyError is raised when a key fails the identifier grammar or
// collides with a reserved operation name.
type IllegalKeyError struct {
	*StoringError
}

func newIllegalKeyError(key, reason string) *IllegalKeyError {
	return &IllegalKeyError{StoringError: newStoringError(key, reason)}
}

func (e *IllegalKeyError) Unwrap() error { return e.StoringError }

// FrozenMemoryError is raised when a mutation is attempted against a frozen
// memory. Unlike StoringError's subtypes, this is a state violation, not a
// precondition failure — it is raised at the point of mutation, not before.
type FrozenMemoryError struct {
	*baseError
	Key string
}

func newFrozenMemoryError(key string) *FrozenMemoryError {
	return &FrozenMemoryError{
		baseError: &baseError{msg: fmt.Sprintf("pensieve: memory %q is frozen", key)},
		Key:       key,
	}
}

// UnevaluableMemoryError is raised when content() needs to invoke a
// memory's function but none is available — typically a memory produced by
// Load that was stale (or non-serializable) at Save time, so only its
// source surrogate survived the round trip. A fresh Store call supplying a
// real function clears this.
type UnevaluableMemoryError struct {
	*baseError
	Key string
}

func newUnevaluableMemoryError(key string) *UnevaluableMemoryError {
	return &UnevaluableMemoryError{
		baseError: &baseError{msg: fmt.Sprintf("pensieve: memory %q has no function to evaluate (loaded without content and never re-stored)", key)},
		Key:       key,
	}
}

// MergeConflictError is raised by Merge when both sides define precursors
// for the same key.
type MergeConflictError struct {
	*baseError
	Key string
}

func newMergeConflictError(key string) *MergeConflictError {
	return &MergeConflictError{
		baseError: &baseError{msg: fmt.Sprintf("pensieve: merge conflict at %q: both sides define precursors", key)},
		Key:       key,
	}
}
