package vm

import (
	"sort"

	"golang.org/x/text/cases"
)

const maxSuggestions = 3

// suggest returns the visible names closest to name by edit distance,
// ignoring case. Names further than a third of their length away are not
// offered.
func suggest(name string, visible []string) []string {
	folder := cases.Fold()
	target := folder.String(name)
	type scored struct {
		name string
		dist int
	}
	var found []scored
	for _, v := range visible {
		if v == name || v == defaultBinding {
			continue
		}
		d := levenshtein([]rune(target), []rune(folder.String(v)))
		limit := max(len([]rune(name)), len([]rune(v)))/3 + 1
		if d <= limit {
			found = append(found, scored{v, d})
		}
	}
	sort.SliceStable(found, func(a, b int) bool {
		if found[a].dist != found[b].dist {
			return found[a].dist < found[b].dist
		}
		return found[a].name < found[b].name
	})
	if len(found) > maxSuggestions {
		found = found[:maxSuggestions]
	}
	out := make([]string, len(found))
	for k, s := range found {
		out[k] = s.name
	}
	return out
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
