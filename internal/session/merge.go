package session

import "github.com/TobiSchelling/newswave/internal/search"

// MergeArticles returns current with every incoming article appended
// whose ID is not already present. Existing items keep their order and
// content; new items are appended in arrival order. Dedup is by ID
// only, never by content, since two fetches of the same article can
// carry different summaries. Inputs are not mutated, and merging the
// same batch twice changes nothing the second time.
func MergeArticles(current, incoming []search.Article) []search.Article {
	if len(incoming) == 0 {
		return current
	}

	seen := make(map[string]bool, len(current))
	for _, a := range current {
		seen[a.ID] = true
	}

	merged := make([]search.Article, len(current), len(current)+len(incoming))
	copy(merged, current)
	for _, a := range incoming {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		merged = append(merged, a)
	}
	return merged
}
