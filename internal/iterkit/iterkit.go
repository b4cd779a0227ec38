// Package iterkit holds the range-over-func helpers used by the document store adapters and the session.
package iterkit

import (
	"iter"

	"github.com/docmap/docmap/internal/errorkit"
)

// ErrSeq is an iterator that can tell if a currently returned value has an issue or not.
type ErrSeq[T any] = iter.Seq2[T, error]

// Error returns an ErrSeq that only yields the given error.
func Error[T any](err error) ErrSeq[T] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Slice turns a slice into an ErrSeq that never fails.
func Slice[T any](vs []T) ErrSeq[T] {
	return func(yield func(T, error) bool) {
		for _, v := range vs {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// CollectErr drains the sequence, collecting every value and merging every error.
func CollectErr[T any](i ErrSeq[T]) ([]T, error) {
	if i == nil {
		return nil, nil
	}
	var (
		vs   []T
		errs []error
	)
	for v, err := range i {
		if err == nil {
			vs = append(vs, v)
		} else {
			errs = append(errs, err)
		}
	}
	return vs, errorkit.Merge(errs...)
}

// First returns the first value of the sequence.
// The iteration stops after the first value or the first error.
func First[T any](i ErrSeq[T]) (T, bool, error) {
	var zero T
	if i == nil {
		return zero, false, nil
	}
	for v, err := range i {
		if err != nil {
			return zero, false, err
		}
		return v, true, nil
	}
	return zero, false, nil
}

// Count drains the sequence and counts the successfully yielded values.
func Count[T any](i ErrSeq[T]) (int, error) {
	var n int
	for _, err := range i {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Map transforms the values of an ErrSeq, stopping at the first transformation error.
func Map[To, From any](i ErrSeq[From], transform func(From) (To, error)) ErrSeq[To] {
	return func(yield func(To, error) bool) {
		var zero To
		for v, err := range i {
			if err != nil {
				yield(zero, err)
				return
			}
			out, err := transform(v)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}
