// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Filter returns the elements of in for which keep returns true, preserving their order.
func Filter[T any](in []T, keep func(e T) bool) []T {
	out := make([]T, 0, len(in))
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the last element of a slice. It panics if the slice is empty.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}
