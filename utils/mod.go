package utils

import "golang.org/x/exp/constraints"

func FindIndex[T comparable](slice []T, item T) int {
	for i, v := range slice {
		if v == item {
			return i
		}
	}
	return -1
}

func Abs[T constraints.Signed](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// Chebyshev returns max(|dx|, |dy|).
func Chebyshev(dx, dy int) int {
	return max(Abs(dx), Abs(dy))
}
