// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// FilterModel implements fzf-style fuzzy matching across the
// searchable session fields: title, session ID, working directory, and
// routing instance key. The filter composes with tabs: the tab chooses
// the base view, and the filter narrows it client-side against the
// current snapshot.
type FilterModel struct {
	// Input is the current filter query text.
	Input string

	// Active is true when the filter input has keyboard focus
	// (the user pressed / to start typing).
	Active bool
}

// ScoredRow is one session row that matched the filter, with its best
// match score across all searchable fields.
type ScoredRow struct {
	Row   SessionRow
	Score int

	// TitlePositions contains the matched rune indices in the session
	// title when the title itself matched; nil when the match came
	// from the ID, directory, or instance key. The list renderer
	// highlights these characters.
	TitlePositions []int
}

// ApplyFuzzy matches every row against the current filter text and
// returns the matches sorted by score, best first. The sort is stable,
// so equal-score rows keep their activity order. Filtered results are
// flat: tree depth is discarded because a match set rarely contains
// complete parent chains.
//
// An empty filter returns nil; callers render the unfiltered rows in
// that case.
func (filter *FilterModel) ApplyFuzzy(rows []SessionRow) []ScoredRow {
	pattern := []rune(filter.Input)
	if len(pattern) == 0 {
		return nil
	}

	slab := newFuzzySlab()
	var results []ScoredRow
	for _, row := range rows {
		title := fuzzyMatch(row.Session.Info.Title, pattern, slab)
		best := title.Score
		for _, field := range []string{
			row.Session.Info.ID,
			row.Session.Info.Directory,
			string(row.Instance),
		} {
			if match := fuzzyMatch(field, pattern, slab); match.Score > best {
				best = match.Score
			}
		}
		if best <= 0 {
			continue
		}
		scored := ScoredRow{Row: row, Score: best}
		scored.Row.Depth = 0
		if title.Score > 0 {
			scored.TitlePositions = title.Positions
		}
		results = append(results, scored)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// HandleRune processes a character typed while the filter is active.
// Returns true if the input changed.
func (filter *FilterModel) HandleRune(character rune) bool {
	filter.Input += string(character)
	return true
}

// HandleBackspace removes the last character from the filter input.
// Returns true if the input changed.
func (filter *FilterModel) HandleBackspace() bool {
	if len(filter.Input) == 0 {
		return false
	}
	runes := []rune(filter.Input)
	filter.Input = string(runes[:len(runes)-1])
	return true
}

// Clear resets the filter input and deactivates it.
func (filter *FilterModel) Clear() {
	filter.Input = ""
	filter.Active = false
}

// View renders the filter bar. When active, shows the input with a
// cursor. When inactive with text, shows the filter text. When
// inactive with no text, returns empty string (hidden).
func (filter *FilterModel) View(theme Theme, width int) string {
	if !filter.Active && filter.Input == "" {
		return ""
	}

	style := lipgloss.NewStyle().
		Foreground(theme.NormalText).
		Width(width)

	if filter.Active {
		cursor := lipgloss.NewStyle().
			Foreground(theme.HeaderForeground).
			Bold(true).
			Render("▎")
		return style.Render(" / " + filter.Input + cursor)
	}

	// Inactive with text: a subtle reminder the list is narrowed.
	dimStyle := lipgloss.NewStyle().
		Foreground(theme.FaintText).
		Width(width)
	return dimStyle.Render(" filter: " + filter.Input)
}
