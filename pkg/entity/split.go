package entity

import (
	"slices"
	"strings"
)

// SplitUtterance returns the trimmed, non-empty pieces of text not covered
// by any of the recognized entities.
func SplitUtterance(text string, recognized []*Info) []string {
	sorted := slices.Clone(recognized)
	slices.SortStableFunc(sorted, func(a, b *Info) int { return a.Start - b.Start })

	var out []string
	emit := func(from, to int) {
		if piece := strings.TrimSpace(text[from:to]); piece != "" {
			out = append(out, piece)
		}
	}

	current := 0
	for _, e := range sorted {
		start := clamp(e.Start, len(text))
		end := clamp(e.End, len(text))
		if start > current {
			emit(current, start)
		}
		current = max(current, end)
	}
	if current < len(text) {
		emit(current, len(text))
	}
	return out
}

func clamp(n, limit int) int {
	return min(max(n, 0), limit)
}
