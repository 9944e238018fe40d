package fn

import "errors"

// Result[T] carries either a value or the error that prevented it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err creates a failed Result from an error.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromPair creates a Result from a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk returns true if the result is successful.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr returns true if the result is an error.
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Collect returns Ok with all values if every result is ok. Otherwise the
// errors of all failed results are joined.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, len(results))
	var errs []error
	for i, r := range results {
		if !r.ok {
			errs = append(errs, r.err)
			continue
		}
		out[i] = r.val
	}
	if len(errs) > 0 {
		return Err[[]T](errors.Join(errs...))
	}
	return Ok(out)
}
