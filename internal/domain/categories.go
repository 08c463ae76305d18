package domain

import "sort"

// SortedCategories orders category names by match count descending and
// name ascending so renderings are reproducible.
func SortedCategories(matches map[string]int) []string {
	names := make([]string, 0, len(matches))
	for name := range matches {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		if matches[names[a]] != matches[names[b]] {
			return matches[names[a]] > matches[names[b]]
		}
		return names[a] < names[b]
	})
	return names
}
