package utils

// Filter returns the elements of items for which keep reports true, in
// order. It returns nil when nothing is kept and never modifies items.
func Filter[T any](items []T, keep func(T) bool) []T {
	var kept []T
	for _, item := range items {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	return kept
}
