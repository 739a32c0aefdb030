// Package monoid provides the associative combine operations that aggregation
// folds values with.
package monoid

import "golang.org/x/exp/constraints"

// Monoid is an associative combine operation over T. Implementations must
// satisfy Plus(a, Plus(b, c)) == Plus(Plus(a, b), c); callers may fold a value
// sequence with any grouping.
type Monoid[T any] func(a, b T) T

// Combiner is the type-erased form of a Monoid carried inside compiled plans.
type Combiner func(a, b any) any

// Erase adapts m for type-erased use. The returned Combiner panics if handed
// a value that is not a T.
func Erase[T any](m Monoid[T]) Combiner {
	return func(a, b any) any {
		return m(a.(T), b.(T))
	}
}

// Number constrains to the built-in numeric types.
type Number interface {
	constraints.Integer | constraints.Float
}

// Sum combines by addition.
func Sum[T Number]() Monoid[T] {
	return func(a, b T) T { return a + b }
}

// Max keeps the larger value.
func Max[T constraints.Ordered]() Monoid[T] {
	return func(a, b T) T {
		if b > a {
			return b
		}
		return a
	}
}

// Min keeps the smaller value.
func Min[T constraints.Ordered]() Monoid[T] {
	return func(a, b T) T {
		if b < a {
			return b
		}
		return a
	}
}

// Concat appends the right slice to the left. The result is always a fresh
// slice, so folded inputs are never aliased.
func Concat[T any]() Monoid[[]T] {
	return func(a, b []T) []T {
		out := make([]T, 0, len(a)+len(b))
		out = append(out, a...)
		return append(out, b...)
	}
}

// Last keeps the more recently folded value.
func Last[T any]() Monoid[T] {
	return func(_, b T) T { return b }
}
