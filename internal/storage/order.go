package storage

import (
	"slices"
	"strings"

	"neuroga/internal/model"
)

// sortNewestFirst orders runs by creation time, newest first, breaking ties
// by ID so listings are deterministic.
func sortNewestFirst(runs []model.RunRecord) {
	slices.SortFunc(runs, func(a, b model.RunRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
